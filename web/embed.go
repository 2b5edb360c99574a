// Package web holds the dashboard served at / by vtxd.
package web

import "embed"

// FS contains the dashboard page, stylesheet and script.
//
//go:embed *.html *.css *.js
var FS embed.FS
