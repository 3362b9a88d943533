package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for WebRTC SDP messages
)

// Client is the call signaling session for one websocket connection. The
// peer is invisible to the room until the client sends join.
type Client struct {
	registry *Registry
	room     string
	peer     *Peer
	base     *slog.Logger // room-scoped; logger adds the peer id
	logger   atomic.Pointer[slog.Logger]

	// joined is only touched by the read goroutine.
	joined bool

	now func() time.Time
}

// NewClient prepares a session for room with a fresh peer id.
func NewClient(registry *Registry, room string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	peer := NewPeer(NewPeerID())
	c := &Client{
		registry: registry,
		room:     room,
		peer:     peer,
		base:     logger.With("room", room),
		now:      time.Now,
	}
	c.logger.Store(c.base.With("peer", peer.ID))
	return c
}

// log returns the session logger. The peer id can change on join, which
// runs concurrently with the write pump.
func (c *Client) log() *slog.Logger {
	return c.logger.Load()
}

// Peer returns the client's peer.
func (c *Client) Peer() *Peer {
	return c.peer
}

// Serve runs the session on conn until the connection ends. It starts the
// write pump and runs the read pump on the calling goroutine.
func (c *Client) Serve(conn *websocket.Conn) {
	c.log().Info("call socket connected", "remote", conn.RemoteAddr().String())
	go c.writePump(conn)
	c.readPump(conn)
}

// readPump pumps messages from the websocket connection into the session.
//
// The application runs readPump in a per-connection goroutine. The
// application ensures that there is at most one reader on a connection by
// executing all reads from this goroutine.
func (c *Client) readPump(conn *websocket.Conn) {
	defer func() {
		c.Disconnect()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log().Warn("call socket read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.Handle(data)
	}
}

// writePump pumps queued messages from the peer to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data := <-c.peer.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log().Debug("call socket write failed", "error", err)
				return
			}

		case <-c.peer.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handle processes one inbound text frame. Anything that does not parse, or
// lacks the fields its type needs, is dropped without a reply.
func (c *Client) Handle(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log().Debug("dropping malformed message", "error", err)
		return
	}

	switch msg.Type {
	case TypeJoin:
		c.join(msg)
	case TypeOffer, TypeAnswer, TypeICE:
		c.relay(msg, data)
	case TypeChat:
		c.chat(msg)
	default:
		c.log().Debug("dropping unknown message", "type", msg.Type)
	}
}

func (c *Client) join(msg inbound) {
	name := DefaultName
	if msg.Name != nil && strings.TrimSpace(*msg.Name) != "" {
		name = strings.TrimSpace(*msg.Name)
	}
	role := DefaultRole
	if msg.Role != nil {
		role = NormalizeRole(*msg.Role)
	}
	c.peer.setIdentity(name, role)

	// assigned and peer_joined go out under the registry lock, so a peer
	// that joins concurrently sees this one either in its snapshot or in a
	// later peer_joined, never both.
	announce := func(snapshot []PeerInfo, others []*Peer) {
		c.send(c.peer, AssignedMessage{Type: TypeAssigned, ID: c.peer.ID, Peers: snapshot})
		data, err := json.Marshal(PeerJoinedMessage{Type: TypePeerJoined, ID: c.peer.ID, Name: name, Role: role})
		if err != nil {
			c.log().Error("encode failed", "error", err)
			return
		}
		for _, p := range others {
			p.Deliver(data)
		}
	}

	others, err := c.registry.JoinNotify(c.room, c.peer, announce)
	for errors.Is(err, ErrPeerExists) && !c.joined {
		c.peer.ID = NewPeerID()
		c.logger.Store(c.base.With("peer", c.peer.ID))
		others, err = c.registry.JoinNotify(c.room, c.peer, announce)
	}
	if err != nil {
		c.log().Error("join failed", "error", err)
		return
	}
	c.joined = true
	c.log().Info("peer joined", "name", name, "role", role, "others", len(others))
}

func (c *Client) relay(msg inbound, data []byte) {
	if !c.joined || msg.To == "" {
		return
	}
	target, ok := c.registry.Find(c.room, msg.To)
	if !ok {
		c.log().Debug("relay target gone", "type", msg.Type, "to", msg.To)
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return
	}
	out, err := relayPayload(fields, c.peer.ID)
	if err != nil {
		c.log().Debug("relay encode failed", "error", err)
		return
	}
	target.Deliver(out)
}

func (c *Client) chat(msg inbound) {
	if !c.joined || msg.Text == nil {
		return
	}
	info := c.peer.Info()
	c.broadcast(ChatMessage{
		Type: TypeChat,
		From: info.ID,
		Name: info.Name,
		Role: info.Role,
		Text: truncateChat(*msg.Text),
		TS:   timestamp(c.now()),
	})
}

// Disconnect removes the peer from its room and tells the remaining
// members. It is idempotent.
func (c *Client) Disconnect() {
	c.peer.Close()
	if !c.joined {
		return
	}
	c.joined = false
	if !c.registry.Leave(c.room, c.peer.ID) {
		return
	}
	c.broadcast(PeerLeftMessage{Type: TypePeerLeft, ID: c.peer.ID})
	c.log().Info("peer left")
}

// broadcast delivers msg to every other member of the room.
func (c *Client) broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log().Error("encode failed", "error", err)
		return
	}
	for _, p := range c.registry.Others(c.room, c.peer.ID) {
		p.Deliver(data)
	}
}

func (c *Client) send(p *Peer, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log().Error("encode failed", "error", err)
		return
	}
	p.Deliver(data)
}
