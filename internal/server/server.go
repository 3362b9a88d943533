// Package server exposes the signaling and speech-to-text gateways over
// HTTP websockets.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/medcall/internal/config"
	"github.com/BioHazard786/medcall/internal/signaling"
	"github.com/BioHazard786/medcall/internal/stt"
)

// Server owns the room registry and every live websocket.
type Server struct {
	cfg      *config.Config
	registry *signaling.Registry
	opener   stt.Opener
	upgrader websocket.Upgrader
	logger   *slog.Logger

	conns connSet
}

// New builds a gateway. opener supplies the upstream transcription streams.
func New(cfg *config.Config, opener stt.Opener, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		registry: signaling.NewRegistry(),
		opener:   opener,
		logger:   logger,
		conns:    connSet{m: make(map[*websocket.Conn]struct{})},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

// Registry exposes the room registry.
func (s *Server) Registry() *signaling.Registry {
	return s.registry
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down: the listener stops, every websocket is closed, and in-flight
// handlers get ShutdownTimeout to return.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	rooms, peers := s.registry.Stats()
	s.logger.Info("shutting down", "timeout", s.cfg.ShutdownTimeout, "rooms", rooms, "peers", peers)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked websockets are invisible to http.Server.Shutdown.
	closed := s.conns.closeAll()
	err := srv.Shutdown(shutdownCtx)
	if err == nil {
		err = s.conns.wait(shutdownCtx)
	}
	s.logger.Info("shutdown complete", "closed_sockets", closed)

	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return err
}

// originChecker allows every origin when allowed is empty or contains "*".
// Requests without an Origin header come from non-browser clients and are
// always allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		if len(set) == 0 || set["*"] {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// connSet tracks live websockets so shutdown can close them.
type connSet struct {
	mu     sync.Mutex
	m      map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// add registers conn. It reports false once shutdown has begun.
func (cs *connSet) add(conn *websocket.Conn) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return false
	}
	cs.m[conn] = struct{}{}
	cs.wg.Add(1)
	return true
}

func (cs *connSet) remove(conn *websocket.Conn) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.m[conn]; ok {
		delete(cs.m, conn)
		cs.wg.Done()
	}
}

func (cs *connSet) closeAll() int {
	cs.mu.Lock()
	cs.closed = true
	conns := make([]*websocket.Conn, 0, len(cs.m))
	for conn := range cs.m {
		conns = append(conns, conn)
	}
	cs.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}
	return len(conns)
}

// wait blocks until every tracked handler has released its socket.
func (cs *connSet) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
