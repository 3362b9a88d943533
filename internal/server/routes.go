package server

import (
	"net/http"
	"strings"

	"github.com/BioHazard786/medcall/internal/signaling"
	"github.com/BioHazard786/medcall/internal/stt"
)

const healthMessage = "Gateway is healthy."

// Handler returns the gateway's routes. Websocket paths accept an optional
// trailing slash.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthCheckHandler)

	handle := func(path string, h http.HandlerFunc) {
		mux.HandleFunc("GET "+path, h)
		mux.HandleFunc("GET "+path+"/{$}", h)
	}
	handle("/ws/call/{room}", s.serveCall)
	handle("/ws/stt", s.serveSTT(fixedVariant(stt.Consult)))
	handle("/ws/stt/sales", s.serveSTT(fixedVariant(stt.Sales)))
	handle("/ws/stt/admin", s.serveSTT(fixedVariant(stt.Admin)))
	handle("/ws/stt/room", s.serveSTT(roomVariant))

	return mux
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(healthMessage))
}

// serveCall upgrades to a call signaling session for the room in the path.
func (s *Server) serveCall(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(r.PathValue("room"))
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "error", err)
		return
	}
	if !s.conns.add(conn) {
		conn.Close()
		return
	}
	defer s.conns.remove(conn)

	client := signaling.NewClient(s.registry, room, s.logger.With("component", "call"))
	client.Serve(conn)
}

type variantFunc func(r *http.Request) stt.Variant

func fixedVariant(v stt.Variant) variantFunc {
	return func(*http.Request) stt.Variant { return v }
}

// roomVariant labels the single slot from the role and name query
// parameters.
func roomVariant(r *http.Request) stt.Variant {
	q := r.URL.Query()
	return stt.SingleSpeaker(q.Get("role"), q.Get("name"))
}
