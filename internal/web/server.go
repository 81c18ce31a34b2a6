// Package web is a small admin surface: a device listing and a live
// event stream over websocket.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"zigbee-appd/internal/controller"
)

// Server serves the admin API.
type Server struct {
	ctrl   *controller.Controller
	logger *slog.Logger
	mux    *http.ServeMux
	srv    *http.Server
	unsub  func()

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewServer builds the admin server.
func NewServer(ctrl *controller.Controller, listen string, logger *slog.Logger) *Server {
	s := &Server{
		ctrl:    ctrl,
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
		clients: make(map[*websocket.Conn]struct{}),
	}
	s.mux.HandleFunc("GET /api/devices", s.handleDevices)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.srv = &http.Server{Addr: listen, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}

	s.unsub = ctrl.Events().OnAll(func(evt controller.Event) {
		s.broadcast(evt)
	})
	return s
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("web server", "err", err)
		}
	}()
	s.logger.Info("web server listening", "addr", s.srv.Addr)
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsub != nil {
		s.unsub()
	}
	s.mu.Lock()
	for conn := range s.clients {
		conn.Close(websocket.StatusGoingAway, "shutdown")
	}
	s.mu.Unlock()
	return s.srv.Shutdown(ctx)
}

type deviceJSON struct {
	IEEE         string `json:"ieee"`
	NWK          string `json:"nwk"`
	Status       string `json:"status"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	LastSeen     string `json:"last_seen"`
	Endpoints    int    `json:"endpoints"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.ctrl.Devices()
	out := make([]deviceJSON, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceJSON{
			IEEE:         controller.FormatIEEE(d.IEEE),
			NWK:          fmt.Sprintf("0x%04X", d.NWK()),
			Status:       d.Status().String(),
			Manufacturer: d.Manufacturer(),
			Model:        d.Model(),
			LastSeen:     d.LastSeen().UTC().Format(time.RFC3339),
			Endpoints:    len(d.Endpoints()),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Warn("encode devices", "err", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept", "err", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Drain reads until the client goes away.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) broadcast(evt controller.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
		}
		cancel()
	}
}
