package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	queueSize      = 64
)

type frame struct {
	kind int
	data []byte
}

// socket is a websocket with a read pump delivering text frames and a
// write pump serializing every outbound frame and ping.
type socket struct {
	conn     *websocket.Conn
	incoming chan []byte
	outgoing chan frame
	done     chan struct{}
	once     sync.Once
}

func dial(ctx context.Context, url string) (*socket, error) {
	dialer := websocket.Dialer{
		NetDialContext:   dialContext,
		HandshakeTimeout: 15 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, WrapError("connect", err, fmt.Sprintf("server answered %s", resp.Status))
		}
		return nil, NewError("connect", err)
	}

	s := &socket{
		conn:     conn,
		incoming: make(chan []byte, queueSize),
		outgoing: make(chan frame, queueSize),
		done:     make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readPump()
	go s.writePump()
	return s, nil
}

func (s *socket) readPump() {
	defer func() {
		s.conn.Close()
		close(s.incoming)
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}
		select {
		case s.incoming <- data:
		case <-s.done:
			return
		}
	}
}

func (s *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case f := <-s.outgoing:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(f.kind, f.data); err != nil {
				s.Close()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}

		case <-s.done:
			s.flush()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued when Close is called.
func (s *socket) flush() {
	for {
		select {
		case f := <-s.outgoing:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(f.kind, f.data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *socket) send(kind int, data []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.outgoing <- frame{kind: kind, data: data}:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Close stops both pumps. It is safe to call more than once.
func (s *socket) Close() {
	s.once.Do(func() { close(s.done) })
}
