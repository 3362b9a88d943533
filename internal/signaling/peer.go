package signaling

import (
	"sync"

	"github.com/google/uuid"
)

// sendQueueSize is the number of outbound messages buffered per peer.
const sendQueueSize = 256

// NewPeerID returns a short random peer id.
func NewPeerID() string {
	return uuid.NewString()[:8]
}

// Peer is one participant's live connection within a room. Other sessions
// deliver to it through Deliver; its own write pump drains Outbound.
type Peer struct {
	ID string

	mu   sync.RWMutex
	name string
	role string

	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewPeer creates a peer with the default identity.
func NewPeer(id string) *Peer {
	return &Peer{
		ID:   id,
		name: DefaultName,
		role: DefaultRole,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (p *Peer) Info() PeerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PeerInfo{ID: p.ID, Name: p.name, Role: p.role}
}

func (p *Peer) setIdentity(name, role string) {
	p.mu.Lock()
	p.name = name
	p.role = role
	p.mu.Unlock()
}

// Deliver queues data for the peer without blocking. A peer whose queue is
// full is too slow to keep up with the room and is closed.
func (p *Peer) Deliver(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.send <- data:
		return true
	default:
		p.Close()
		return false
	}
}

// Outbound is the queue drained by the peer's write pump. It is never
// closed; watch Done instead.
func (p *Peer) Outbound() <-chan []byte {
	return p.send
}

// Done is closed once the peer is closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Close marks the peer gone. Safe to call more than once.
func (p *Peer) Close() {
	p.once.Do(func() { close(p.done) })
}
