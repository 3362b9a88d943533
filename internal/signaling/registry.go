package signaling

import (
	"errors"
	"sort"
	"sync"
)

// ErrPeerExists is returned by Join when a different peer already holds the
// id in that room.
var ErrPeerExists = errors.New("peer id already in use")

// Registry maps room ids to their joined peers. It is the only state shared
// between call sessions; one lock covers every room so a join's snapshot
// and insert happen at a single point in time.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]*Peer)}
}

// Join adds p to room, or refreshes it if p is already a member, and returns
// the other members as they were at that moment. The caller is never part
// of the snapshot.
func (r *Registry) Join(room string, p *Peer) ([]PeerInfo, error) {
	return r.JoinNotify(room, p, nil)
}

// JoinNotify is Join with a hook run before the registry lock is released.
// joined receives the snapshot and the other members, so messages it
// delivers are ordered against every other join and leave in the room.
// joined must not call back into the registry.
func (r *Registry) JoinNotify(room string, p *Peer, joined func(snapshot []PeerInfo, others []*Peer)) ([]PeerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers, ok := r.rooms[room]
	if !ok {
		peers = make(map[string]*Peer)
		r.rooms[room] = peers
	}
	if existing, ok := peers[p.ID]; ok && existing != p {
		return nil, ErrPeerExists
	}

	others := make([]*Peer, 0, len(peers))
	for id, other := range peers {
		if id != p.ID {
			others = append(others, other)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i].ID < others[j].ID })
	snapshot := make([]PeerInfo, len(others))
	for i, other := range others {
		snapshot[i] = other.Info()
	}

	peers[p.ID] = p
	if joined != nil {
		joined(snapshot, others)
	}
	return snapshot, nil
}

// Leave removes the peer from room. Leaving twice, or leaving a room that
// does not exist, is a no-op. Empty rooms are pruned.
func (r *Registry) Leave(room, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := peers[id]; !ok {
		return false
	}
	delete(peers, id)
	if len(peers) == 0 {
		delete(r.rooms, room)
	}
	return true
}

// Find looks up a peer by id within room.
func (r *Registry) Find(room, id string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.rooms[room][id]
	return p, ok
}

// Others returns every member of room except the peer with id except.
func (r *Registry) Others(room, except string) []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := r.rooms[room]
	out := make([]*Peer, 0, len(peers))
	for id, p := range peers {
		if id != except {
			out = append(out, p)
		}
	}
	return out
}

// Members returns the identities of everyone in room, ordered by id.
func (r *Registry) Members(room string) []PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PeerInfo, 0, len(r.rooms[room]))
	for _, p := range r.rooms[room] {
		out = append(out, p.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats reports the number of live rooms and joined peers.
func (r *Registry) Stats() (rooms, peers int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, members := range r.rooms {
		peers += len(members)
	}
	return len(r.rooms), peers
}
