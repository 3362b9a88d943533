// Package rtc joins a call room as a receive-only WebRTC peer. It speaks
// the browser client's mesh protocol: a joiner offers to every peer already
// in the room and answers offers from peers that join later.
package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/medcall/internal/client"
	"github.com/BioHazard786/medcall/internal/clientconfig"
	"github.com/BioHazard786/medcall/internal/signaling"
)

var (
	ErrUnknownPeer = errors.New("no connection for peer")
	ErrProbeClosed = errors.New("probe closed")
)

// Signaler carries SDP and ICE to a peer. *client.CallClient implements it.
type Signaler interface {
	Offer(to string, offer any) error
	Answer(to string, answer any) error
	ICE(to string, candidate any) error
}

// NewPeerConnection builds a peer connection with the configured STUN and
// TURN servers. Relay-only transport is used when forceRelay is set or the
// host looks like it sits behind a VPN, provided TURN is configured.
func NewPeerConnection(cfg *clientconfig.Config, forceRelay bool) (*pion.PeerConnection, error) {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (forceRelay || ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, client.NewError("create peer connection", err)
	}
	return pc, nil
}

// EventKind classifies probe events.
type EventKind int

const (
	EventState EventKind = iota
	EventTrack
)

// Event reports a connection state change or an incoming media track.
type Event struct {
	Peer   string
	Kind   EventKind
	Detail string
}

func (e Event) String() string {
	switch e.Kind {
	case EventTrack:
		return fmt.Sprintf("%s: receiving %s", e.Peer, e.Detail)
	default:
		return fmt.Sprintf("%s: %s", e.Peer, e.Detail)
	}
}

type remotePeer struct {
	pc *pion.PeerConnection
	// Candidates that arrive before the remote description is set.
	pending []pion.ICECandidateInit
}

// Probe keeps one peer connection per remote peer in the room.
type Probe struct {
	cfg        *clientconfig.Config
	signal     Signaler
	forceRelay bool
	logger     *slog.Logger

	mu     sync.Mutex
	peers  map[string]*remotePeer
	closed bool

	events chan Event
}

func NewProbe(cfg *clientconfig.Config, signal Signaler, forceRelay bool, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		cfg:        cfg,
		signal:     signal,
		forceRelay: forceRelay,
		logger:     logger,
		peers:      make(map[string]*remotePeer),
		events:     make(chan Event, 32),
	}
}

// Events delivers state and track events. Events are dropped if the reader
// falls behind.
func (p *Probe) Events() <-chan Event {
	return p.events
}

func (p *Probe) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// Connect offers a receive-only connection to peer id.
func (p *Probe) Connect(id string) error {
	rp, err := p.newRemote(id)
	if err != nil {
		return err
	}

	offer, err := rp.pc.CreateOffer(nil)
	if err != nil {
		return client.NewError("create offer", err)
	}
	if err := rp.pc.SetLocalDescription(offer); err != nil {
		return client.NewError("set local description", err)
	}
	return p.signal.Offer(id, rp.pc.LocalDescription())
}

// Handle applies one message from the call socket. Messages that are not
// signaling for this probe are ignored. Handle must be called from a single
// goroutine.
func (p *Probe) Handle(msg *client.Message) error {
	switch msg.Type {
	case signaling.TypeOffer:
		return p.handleOffer(msg.From, msg.Offer)
	case signaling.TypeAnswer:
		return p.handleAnswer(msg.From, msg.Answer)
	case signaling.TypeICE:
		return p.handleICE(msg.From, msg.Candidate)
	case signaling.TypePeerLeft:
		p.drop(msg.ID)
	}
	return nil
}

func (p *Probe) handleOffer(from string, raw json.RawMessage) error {
	var offer pion.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return client.NewError("parse offer", err)
	}

	// A renegotiating peer gets a fresh connection.
	p.drop(from)
	rp, err := p.newRemote(from)
	if err != nil {
		return err
	}

	if err := rp.pc.SetRemoteDescription(offer); err != nil {
		return client.NewError("set remote description", err)
	}
	if err := p.flushCandidates(from); err != nil {
		return err
	}
	answer, err := rp.pc.CreateAnswer(nil)
	if err != nil {
		return client.NewError("create answer", err)
	}
	if err := rp.pc.SetLocalDescription(answer); err != nil {
		return client.NewError("set local description", err)
	}
	return p.signal.Answer(from, rp.pc.LocalDescription())
}

func (p *Probe) handleAnswer(from string, raw json.RawMessage) error {
	rp, ok := p.remote(from)
	if !ok {
		return client.WrapError("handle answer", ErrUnknownPeer, from)
	}
	var answer pion.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return client.NewError("parse answer", err)
	}
	if err := rp.pc.SetRemoteDescription(answer); err != nil {
		return client.NewError("set remote description", err)
	}
	return p.flushCandidates(from)
}

func (p *Probe) handleICE(from string, raw json.RawMessage) error {
	// null marks the end of the remote peer's gathering.
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var cand pion.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		return client.NewError("parse ICE candidate", err)
	}

	p.mu.Lock()
	rp, ok := p.peers[from]
	if !ok {
		p.mu.Unlock()
		return client.WrapError("handle ICE", ErrUnknownPeer, from)
	}
	if rp.pc.RemoteDescription() == nil {
		rp.pending = append(rp.pending, cand)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := rp.pc.AddICECandidate(cand); err != nil {
		return client.NewError("add ICE candidate", err)
	}
	return nil
}

func (p *Probe) flushCandidates(id string) error {
	p.mu.Lock()
	rp, ok := p.peers[id]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	pending := rp.pending
	rp.pending = nil
	p.mu.Unlock()

	for _, cand := range pending {
		if err := rp.pc.AddICECandidate(cand); err != nil {
			return client.NewError("add ICE candidate", err)
		}
	}
	return nil
}

// newRemote creates and registers a receive-only connection to id.
func (p *Probe) newRemote(id string) (*remotePeer, error) {
	pc, err := NewPeerConnection(p.cfg, p.forceRelay)
	if err != nil {
		return nil, err
	}
	for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, client.NewError("add transceiver", err)
		}
	}
	p.setupHandlers(id, pc)

	rp := &remotePeer{pc: pc}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		pc.Close()
		return nil, ErrProbeClosed
	}
	p.peers[id] = rp
	p.mu.Unlock()
	return rp, nil
}

func (p *Probe) setupHandlers(id string, pc *pion.PeerConnection) {
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		if err := p.signal.ICE(id, c.ToJSON()); err != nil {
			p.logger.Debug("failed to send ICE candidate", "peer", id, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.logger.Debug("peer connection state", "peer", id, "state", state.String())
		p.emit(Event{Peer: id, Kind: EventState, Detail: state.String()})
	})

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		p.emit(Event{Peer: id, Kind: EventTrack, Detail: fmt.Sprintf("%s (%s)", track.Kind(), track.Codec().MimeType)})
		// Drain RTP so the receiver keeps reading.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})
}

func (p *Probe) remote(id string) (*remotePeer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rp, ok := p.peers[id]
	return rp, ok
}

func (p *Probe) drop(id string) {
	p.mu.Lock()
	rp, ok := p.peers[id]
	delete(p.peers, id)
	p.mu.Unlock()
	if ok {
		rp.pc.Close()
	}
}

// Peers returns the ids of peers with an open connection.
func (p *Probe) Peers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.peers))
	for id := range p.peers {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every peer connection.
func (p *Probe) Close() {
	p.mu.Lock()
	p.closed = true
	peers := p.peers
	p.peers = make(map[string]*remotePeer)
	p.mu.Unlock()

	for _, rp := range peers {
		rp.pc.Close()
	}
}
