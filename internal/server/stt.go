package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BioHazard786/medcall/internal/stt"
)

const (
	// Time allowed to write a message to the browser.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the browser.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Audio frames are larger than signaling messages.
	maxAudioFrameSize = 1 << 20 // 1 MiB

	// Outbound JSON messages queued per socket.
	sendQueueSize = 256
)

var (
	errSocketClosed = errors.New("socket closed")
	errQueueFull    = errors.New("outbound queue full")
)

// serveSTT returns a handler that upgrades to a speech-to-text session
// whose slots come from variant.
func (s *Server) serveSTT(variant variantFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := variant(r)

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

		id := uuid.NewString()[:8]
		logger := s.logger.With("component", "stt")
		out := newSocketWriter(conn, logger.With("session", id))

		session, err := stt.NewSession(v, s.opener, out, stt.Options{
			ID:           id,
			BufferFrames: s.cfg.STT.BufferFrames,
			Timing: stt.Timing{
				ConnectTimeout:    s.cfg.STT.ConnectTimeout,
				KeepaliveInterval: s.cfg.STT.KeepaliveInterval,
				ReconnectDelay:    s.cfg.STT.ReconnectDelay,
				RetryDelay:        s.cfg.STT.RetryDelay,
			},
			Logger: logger,
		})
		if err != nil {
			logger.Error("session setup failed", "error", err)
			conn.Close()
			return
		}

		logger.Info("stt socket connected", "session", id, "variant", v.Name, "slots", session.Labels())
		go out.writePump()
		session.Start()

		readAudio(conn, session, logger)

		// Every session task stops before the socket goes away.
		session.Close()
		out.stop()
		conn.Close()
		logger.Info("stt socket closed", "session", id)
	}
}

// readAudio feeds binary frames into session until the socket fails.
// Text frames carry nothing the gateway needs and are ignored.
func readAudio(conn *websocket.Conn, session *stt.Session, logger *slog.Logger) {
	conn.SetReadLimit(maxAudioFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("stt socket read failed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType == websocket.BinaryMessage {
			session.HandleFrame(data)
		}
	}
}

// socketWriter is the stt.Emitter for one browser socket. Messages are
// queued and written by a single pump goroutine.
type socketWriter struct {
	conn   *websocket.Conn
	logger *slog.Logger

	send     chan []byte
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func newSocketWriter(conn *websocket.Conn, logger *slog.Logger) *socketWriter {
	return &socketWriter{
		conn:     conn,
		logger:   logger,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Emit encodes msg and queues it without blocking.
func (w *socketWriter) Emit(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-w.done:
		return errSocketClosed
	default:
	}
	select {
	case w.send <- data:
		return nil
	default:
		return errQueueFull
	}
}

// writePump writes queued messages and pings until stop is called or a
// write fails.
func (w *socketWriter) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(w.finished)
	}()

	for {
		select {
		case data := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				w.logger.Debug("stt socket write failed", "error", err)
				w.conn.Close()
				return
			}

		case <-w.done:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.conn.Close()
				return
			}
		}
	}
}

// stop ends the pump and waits for it to exit.
func (w *socketWriter) stop() {
	w.once.Do(func() { close(w.done) })
	<-w.finished
}
