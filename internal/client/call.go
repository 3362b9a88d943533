package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/BioHazard786/medcall/internal/signaling"
)

// Message is any message the gateway sends on a call socket. Only the
// fields relevant to Type are set.
type Message struct {
	Type string `json:"type"`

	// assigned
	ID    string               `json:"id,omitempty"`
	Peers []signaling.PeerInfo `json:"peers,omitempty"`

	// peer_joined, chat
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`

	// relayed and chat messages
	From      string          `json:"from,omitempty"`
	Text      string          `json:"text,omitempty"`
	TS        string          `json:"ts,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// CallClient is one participant's signaling connection to a room.
type CallClient struct {
	sock     *socket
	messages chan *Message

	mu sync.Mutex
	id string
}

// DialCall connects to the call socket at url. Messages arrive on
// Messages once the connection is up; call Join to enter the room.
func DialCall(ctx context.Context, url string) (*CallClient, error) {
	sock, err := dial(ctx, url)
	if err != nil {
		return nil, err
	}
	c := &CallClient{sock: sock, messages: make(chan *Message, queueSize)}
	go c.decode()
	return c, nil
}

func (c *CallClient) decode() {
	defer close(c.messages)
	for data := range c.sock.incoming {
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == signaling.TypeAssigned {
			c.mu.Lock()
			c.id = msg.ID
			c.mu.Unlock()
		}
		select {
		case c.messages <- &msg:
		case <-c.sock.done:
			return
		}
	}
}

// Messages is closed when the connection ends.
func (c *CallClient) Messages() <-chan *Message {
	return c.messages
}

// ID returns the id the gateway assigned, or "" before the first assigned
// message.
func (c *CallClient) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Join announces this client to the room. Empty fields fall back to the
// gateway defaults.
func (c *CallClient) Join(name, role string) error {
	msg := map[string]string{"type": signaling.TypeJoin}
	if name != "" {
		msg["name"] = name
	}
	if role != "" {
		msg["role"] = role
	}
	return c.send("join", msg)
}

// Chat broadcasts text to the other members of the room.
func (c *CallClient) Chat(text string) error {
	return c.send("chat", map[string]string{"type": signaling.TypeChat, "text": text})
}

// Offer sends an SDP offer to peer to.
func (c *CallClient) Offer(to string, offer any) error {
	return c.Signal(signaling.TypeOffer, to, offer)
}

// Answer sends an SDP answer to peer to.
func (c *CallClient) Answer(to string, answer any) error {
	return c.Signal(signaling.TypeAnswer, to, answer)
}

// ICE sends a trickled ICE candidate to peer to. A nil candidate marks the
// end of gathering.
func (c *CallClient) ICE(to string, candidate any) error {
	return c.Signal(signaling.TypeICE, to, candidate)
}

// Signal sends a relayed message of kind typ to peer to. The payload is
// carried under the field the browser client uses for that kind.
func (c *CallClient) Signal(typ, to string, payload any) error {
	var field string
	switch typ {
	case signaling.TypeOffer:
		field = "offer"
	case signaling.TypeAnswer:
		field = "answer"
	case signaling.TypeICE:
		field = "candidate"
	default:
		return WrapError("signal", ErrUnexpectedType, typ)
	}
	return c.send(typ, map[string]any{"type": typ, "to": to, field: payload})
}

func (c *CallClient) send(op string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return NewError(op, err)
	}
	if err := c.sock.send(textMessage, data); err != nil {
		return NewError(op, err)
	}
	return nil
}

// Close leaves the room by closing the connection.
func (c *CallClient) Close() {
	c.sock.Close()
}
