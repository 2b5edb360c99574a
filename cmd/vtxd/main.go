package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shaunagostinho/betavtx/internal/controller"
	"github.com/shaunagostinho/betavtx/internal/mqtt"
	"github.com/shaunagostinho/betavtx/internal/serialport"
	"github.com/shaunagostinho/betavtx/internal/server"
	"github.com/shaunagostinho/betavtx/internal/sim"
	"github.com/shaunagostinho/betavtx/internal/vtx"
	"github.com/shaunagostinho/betavtx/web"
)

func main() {
	configPath := flag.String("config", server.DefaultConfigPath, "Path to config file")
	demo := flag.Bool("demo", false, "Run against a simulated VTX instead of the serial port")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	protocol := flag.String("protocol", "", "Override VTX protocol (smartaudio or tramp)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *protocol != "" {
		p, err := vtx.ParseProtocol(*protocol)
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		cfg.SetProtocol(p)
	}

	if lc := cfg.LoggingSettings(); lc.File != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
		}))
	}
	log.Println("[main] vtxd starting")

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	var link server.Link
	if *demo {
		// One simulated VTX per protocol; /api/protocol switches between them.
		link = sim.NewDemo(3)
		log.Printf("[main] demo mode, simulated SmartAudio 2.1 and TRAMP devices")
	} else {
		port := serialport.New(cfg.Snapshot().PortPath)
		defer port.Close()
		// The daemon starts regardless; the poll loop binds the engine
		// once the port comes up.
		go superviseLink(ctx, port)
		link = port
	}

	srv, err := server.New(cfg, link, vtx.NewSystemClock(), web.FS)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	if mc := cfg.MQTT; mc.Enabled {
		bridge, err := mqtt.New(mc.URL, func(req controller.Request) error {
			return srv.Apply(ctx, req)
		})
		if err != nil {
			log.Printf("[main] mqtt disabled: %v", err)
		} else {
			if err := bridge.Connect(); err != nil {
				// paho keeps retrying in the background
				log.Printf("[main] %v", err)
			}
			defer bridge.Close()
			srv.SetPublisher(bridge, time.Duration(mc.StatusInterval)*time.Millisecond)
		}
	}

	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// connectable is satisfied by serialport.Port.
type connectable interface {
	Connect() error
	IsConnected() bool
}

// superviseLink reconnects c whenever it drops.
func superviseLink(ctx context.Context, c connectable) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if !c.IsConnected() {
			connectWithRetry(ctx, "serial", c, 10)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.Connect(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
					name, attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
					name, attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[%s] connected successfully (attempt %d)", name, attempt+1)
			return
		}
	}
}
