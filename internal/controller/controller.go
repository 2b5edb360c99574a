// Package controller owns the one active VTX protocol engine and forwards
// the generic operations to it.
package controller

import (
	"fmt"
	"log"

	"github.com/shaunagostinho/betavtx/internal/smartaudio"
	"github.com/shaunagostinho/betavtx/internal/tramp"
	"github.com/shaunagostinho/betavtx/internal/vtx"
)

// Options carries per-protocol engine settings.
type Options struct {
	SmartAudio smartaudio.Options
}

// slot holds at most one engine; kind says which pointer is set. The zero
// slot is empty.
type slot struct {
	bound bool
	kind  vtx.Protocol
	sa    *smartaudio.Engine
	tr    *tramp.Engine
}

func (s slot) engine() vtx.Engine {
	if !s.bound {
		return nil
	}
	switch s.kind {
	case vtx.SmartAudio:
		return s.sa
	case vtx.Tramp:
		return s.tr
	}
	return nil
}

// Controller is not safe for concurrent use; one goroutine owns it.
type Controller struct {
	protocol vtx.Protocol
	clock    vtx.Clock
	opts     Options
	slot     slot
}

func New(p vtx.Protocol, clock vtx.Clock, opts Options) *Controller {
	return &Controller{protocol: p, clock: clock, opts: opts}
}

// Init builds a fresh engine for the selected protocol and binds it to t.
// Any previous engine and its state are discarded.
func (c *Controller) Init(t vtx.Transport, txPin, rxPin int) error {
	c.slot = slot{}
	if t == nil {
		return vtx.ErrNoTransport
	}

	s := slot{bound: true, kind: c.protocol}
	switch c.protocol {
	case vtx.SmartAudio:
		s.sa = smartaudio.New(c.clock, c.opts.SmartAudio)
	case vtx.Tramp:
		s.tr = tramp.New(c.clock)
	default:
		return fmt.Errorf("controller: unsupported protocol %v", c.protocol)
	}
	if err := s.engine().Init(t, txPin, rxPin); err != nil {
		return fmt.Errorf("controller: init %v: %w", c.protocol, err)
	}
	c.slot = s
	log.Printf("[controller] %v engine initialized", c.protocol)
	return nil
}

// Protocol returns the protocol the next Init builds.
func (c *Controller) Protocol() vtx.Protocol { return c.protocol }

// SwitchProtocol drops the current engine. Init must be called again.
func (c *Controller) SwitchProtocol(p vtx.Protocol) {
	if c.slot.bound {
		log.Printf("[controller] switching %v -> %v, engine dropped", c.protocol, p)
	}
	c.protocol = p
	c.slot = slot{}
}

// Initialized reports whether an engine is present.
func (c *Controller) Initialized() bool { return c.slot.bound }

func (c *Controller) Poll() {
	if !c.slot.bound {
		return
	}
	c.slot.engine().Poll()
}

func (c *Controller) IsReady() bool {
	return c.slot.bound && c.slot.engine().IsReady()
}

func (c *Controller) SetFrequency(mhz uint16) error {
	if !c.slot.bound {
		return vtx.ErrNotInitialized
	}
	return c.slot.engine().SetFrequency(mhz)
}

func (c *Controller) SetPower(mw uint16) error {
	if !c.slot.bound {
		return vtx.ErrNotInitialized
	}
	return c.slot.engine().SetPower(mw)
}

func (c *Controller) SetPitMode(on bool) error {
	if !c.slot.bound {
		return vtx.ErrNotInitialized
	}
	return c.slot.engine().SetPitMode(on)
}

// SetBandAndChannel selects a table channel. SmartAudio takes the channel
// index natively; TRAMP only knows frequencies.
func (c *Controller) SetBandAndChannel(band, channel int) error {
	if !c.slot.bound {
		return vtx.ErrNotInitialized
	}
	switch c.slot.kind {
	case vtx.SmartAudio:
		return c.slot.sa.SetBandAndChannel(band, channel)
	default:
		mhz := vtx.BandChannelToFrequency(band, channel)
		if mhz == 0 {
			return fmt.Errorf("controller: band %d channel %d: %w", band, channel, vtx.ErrInvalidBandChannel)
		}
		return c.slot.tr.SetFrequency(mhz)
	}
}

// Status snapshots the engine. Without an engine the returned status only
// carries the selected protocol.
func (c *Controller) Status() (vtx.Status, error) {
	if !c.slot.bound {
		return vtx.Status{Protocol: c.protocol, State: "uninitialized"}, vtx.ErrNotInitialized
	}
	return c.slot.engine().Status(), nil
}

// SmartAudio returns the SmartAudio engine when it is the active one.
func (c *Controller) SmartAudio() (*smartaudio.Engine, bool) {
	if !c.slot.bound || c.slot.kind != vtx.SmartAudio {
		return nil, false
	}
	return c.slot.sa, true
}

// Tramp returns the TRAMP engine when it is the active one.
func (c *Controller) Tramp() (*tramp.Engine, bool) {
	if !c.slot.bound || c.slot.kind != vtx.Tramp {
		return nil, false
	}
	return c.slot.tr, true
}
