package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/betavtx/internal/controller"
	"github.com/shaunagostinho/betavtx/internal/logger"
	"github.com/shaunagostinho/betavtx/internal/vtx"
)

const (
	broadcastPeriod = 200 * time.Millisecond // 5 Hz to WebSocket clients
	submitTimeout   = 2 * time.Second
)

// ErrBusy is returned when the poll loop does not pick up a request in time.
var ErrBusy = errors.New("server: controller busy")

// Link is the transport the controller runs on, serial or simulated.
type Link interface {
	vtx.Transport
	IsConnected() bool
}

// StatusPublisher receives periodic status updates (the MQTT bridge).
type StatusPublisher interface {
	PublishStatus(vtx.Status) error
}

// Server owns the controller goroutine and serves the HTTP/WebSocket API.
type Server struct {
	cfg    *Config
	link   Link
	webFS  fs.FS
	logger *logger.Logger

	ctrl *controller.Controller // only touched by pollLoop
	cmds chan command

	snapMu sync.RWMutex
	snap   Snapshot

	publisher     StatusPublisher
	publishPeriod time.Duration
	startOnce     sync.Once

	// poll goroutine only
	pendingInitial bool
	nextInit       time.Time

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

type command struct {
	fn   func(*controller.Controller) error
	done chan error
}

// Snapshot is the JSON structure served on /api/status and /ws.
type Snapshot struct {
	vtx.Status
	Connected   bool  `json:"connected"`
	Initialized bool  `json:"initialized"`
	Stamp       int64 `json:"stamp"` // Unix ms
}

// ProtocolRequest is the body of POST /api/protocol.
type ProtocolRequest struct {
	Protocol string `json:"protocol"`
}

// New creates a new Server. The protocol is taken from cfg.
func New(cfg *Config, link Link, clock vtx.Clock, webFS fs.FS) (*Server, error) {
	p, err := cfg.Protocol()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	v := cfg.Snapshot()

	s := &Server{
		cfg:   cfg,
		link:  link,
		webFS: webFS,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
		}),
		ctrl:    controller.New(p, clock, v.ControllerOptions()),
		cmds:    make(chan command),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.snap = Snapshot{Status: vtx.Status{Protocol: p, State: "uninitialized"}}
	return s, nil
}

// SetPublisher attaches a status publisher called every period.
func (s *Server) SetPublisher(p StatusPublisher, period time.Duration) {
	if period <= 0 {
		period = time.Second
	}
	s.publisher = p
	s.publishPeriod = period
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/vtx", s.handleVTX)
	mux.HandleFunc("/api/protocol", s.handleProtocol)
	mux.HandleFunc("/api/config", s.handleConfig)
	return mux
}

// Start launches the controller and broadcast loops without serving HTTP.
func (s *Server) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.pollLoop(ctx)
		go s.broadcastLoop(ctx)
	})
}

// Run starts the loops and the HTTP server, returning when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// pollLoop is the only goroutine that touches the controller.
func (s *Server) pollLoop(ctx context.Context) {
	v := s.cfg.Snapshot()
	ticker := time.NewTicker(v.PollPeriod())
	defer ticker.Stop()
	defer s.logger.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-s.cmds:
			err := cmd.fn(s.ctrl)
			if !s.ctrl.Initialized() {
				s.pendingInitial = false
			}
			s.updateSnapshot()
			cmd.done <- err

		case <-ticker.C:
			connected := s.link.IsConnected()
			switch {
			case connected && !s.ctrl.Initialized() && time.Now().After(s.nextInit):
				if err := s.initController(); err != nil {
					s.nextInit = time.Now().Add(time.Second)
				}
			case !connected && s.ctrl.Initialized():
				log.Printf("[server] link lost, dropping %v engine", s.ctrl.Protocol())
				s.ctrl.SwitchProtocol(s.ctrl.Protocol())
				s.pendingInitial = false
			}

			s.ctrl.Poll()

			if s.pendingInitial && s.ctrl.IsReady() {
				s.pendingInitial = false
				s.applyInitial()
			}
			s.updateSnapshot()
		}
	}
}

// initController binds a fresh engine to the link; initial settings follow
// once it reports ready.
func (s *Server) initController() error {
	v := s.cfg.Snapshot()
	if err := s.ctrl.Init(s.link, v.TxPin, v.RxPin); err != nil {
		log.Printf("[server] controller init failed: %v", err)
		return err
	}
	s.pendingInitial = true
	return nil
}

func (s *Server) applyInitial() {
	req, ok := s.cfg.Snapshot().Initial.Request()
	if !ok {
		return
	}
	if err := req.Apply(s.ctrl); err != nil {
		log.Printf("[server] initial settings %v: %v", req, err)
		return
	}
	log.Printf("[server] applied initial settings %v", req)
}

func (s *Server) updateSnapshot() {
	st, err := s.ctrl.Status()
	snap := Snapshot{
		Status:      st,
		Connected:   s.link.IsConnected(),
		Initialized: err == nil,
		Stamp:       time.Now().UnixMilli(),
	}
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}

// Status returns the latest snapshot taken by the poll loop.
func (s *Server) Status() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Submit runs fn on the poll goroutine and returns its error.
func (s *Server) Submit(ctx context.Context, fn func(*controller.Controller) error) error {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ErrBusy
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ErrBusy
	}
}

// Apply forwards a settings request to the controller.
func (s *Server) Apply(ctx context.Context, req controller.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return s.Submit(ctx, func(c *controller.Controller) error {
		return req.Apply(c)
	})
}

// SwitchProtocol replaces the engine and re-initializes it on the same link.
func (s *Server) SwitchProtocol(ctx context.Context, p vtx.Protocol) error {
	err := s.Submit(ctx, func(c *controller.Controller) error {
		c.SwitchProtocol(p)
		if !s.link.IsConnected() {
			return nil
		}
		return s.initController()
	})
	if err != nil {
		return err
	}
	s.cfg.SetProtocol(p)
	if err := s.cfg.Save(); err != nil {
		log.Printf("[config] save failed: %v", err)
	}
	return nil
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastPeriod)
	defer ticker.Stop()
	var lastPublish time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := s.Status()
			s.broadcast(snap)
			if snap.Initialized {
				s.logger.Record(snap.Status)
			}
			if s.publisher != nil && now.Sub(lastPublish) >= s.publishPeriod {
				lastPublish = now
				if err := s.publisher.PublishStatus(snap.Status); err != nil {
					log.Printf("[server] publish status: %v", err)
				}
			}
		}
	}
}

func (s *Server) broadcast(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	if data, err := json.Marshal(s.Status()); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine; clients may also send controller.Request JSON
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var req controller.Request
			if err := json.Unmarshal(msg, &req); err != nil || req.Empty() {
				continue
			}
			if err := s.Apply(context.Background(), req); err != nil {
				log.Printf("[ws] request %v: %v", req, err)
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleVTX(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req controller.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	if req.Empty() {
		http.Error(w, "empty request", 400)
		return
	}
	if err := s.Apply(r.Context(), req); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProtocol(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, ProtocolRequest{Protocol: s.Status().Protocol.String()})

	case http.MethodPost:
		var req ProtocolRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		p, err := vtx.ParseProtocol(req.Protocol)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.SwitchProtocol(r.Context(), p); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "protocol": p.String()})

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		s.logger.SetEnabled(s.cfg.LoggingSettings().Enabled)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vtx.ErrNotInitialized), errors.Is(err, vtx.ErrNoTransport):
		return http.StatusServiceUnavailable
	case errors.Is(err, vtx.ErrPitModeUnsupported):
		return http.StatusConflict
	case errors.Is(err, ErrBusy):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
