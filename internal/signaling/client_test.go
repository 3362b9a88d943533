package signaling

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func newTestClient(r *Registry, room string) *Client {
	c := NewClient(r, room, nil)
	c.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 123456000, time.UTC) }
	return c
}

// next returns the next queued message for p, decoded, or nil.
func next(t *testing.T, p *Peer) map[string]any {
	t.Helper()
	select {
	case data := <-p.Outbound():
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad outbound json %q: %v", data, err)
		}
		return m
	default:
		return nil
	}
}

func expectNone(t *testing.T, p *Peer) {
	t.Helper()
	if m := next(t, p); m != nil {
		t.Fatalf("peer %s got unexpected message %v", p.ID, m)
	}
}

func TestJoinAnnouncesToOthers(t *testing.T) {
	r := NewRegistry()
	doc := newTestClient(r, "R7")
	pat := newTestClient(r, "R7")

	doc.Handle([]byte(`{"type":"join","name":"Dr. A","role":"doctor"}`))
	assigned := next(t, doc.Peer())
	if assigned["type"] != TypeAssigned || assigned["id"] != doc.Peer().ID {
		t.Fatalf("assigned = %v", assigned)
	}
	if peers := assigned["peers"].([]any); len(peers) != 0 {
		t.Fatalf("first joiner peers = %v", peers)
	}
	expectNone(t, doc.Peer())

	pat.Handle([]byte(`{"type":"join","name":"P1","role":"patient"}`))

	joined := next(t, doc.Peer())
	want := map[string]any{"type": TypePeerJoined, "id": pat.Peer().ID, "name": "P1", "role": "patient"}
	for k, v := range want {
		if joined[k] != v {
			t.Fatalf("peer_joined[%s] = %v, want %v", k, joined[k], v)
		}
	}

	assigned = next(t, pat.Peer())
	peers := assigned["peers"].([]any)
	if len(peers) != 1 {
		t.Fatalf("second joiner peers = %v", peers)
	}
	first := peers[0].(map[string]any)
	if first["id"] != doc.Peer().ID || first["name"] != "Dr. A" || first["role"] != "doctor" {
		t.Fatalf("snapshot entry = %v", first)
	}
	// Never echoed to self.
	expectNone(t, pat.Peer())
}

func TestJoinDefaults(t *testing.T) {
	r := NewRegistry()
	c := newTestClient(r, "R1")
	c.Handle([]byte(`{"type":"join","role":"surgeon"}`))
	next(t, c.Peer())

	info := r.Members("R1")[0]
	if info.Name != DefaultName || info.Role != RoleParticipant {
		t.Fatalf("identity = %+v", info)
	}
}

func TestJoinRoleIgnoresCase(t *testing.T) {
	r := NewRegistry()
	c := newTestClient(r, "R1")
	c.Handle([]byte(`{"type":"join","name":"Dr. A","role":" Doctor "}`))
	next(t, c.Peer())

	if info := r.Members("R1")[0]; info.Role != RoleDoctor {
		t.Fatalf("role = %q, want %q", info.Role, RoleDoctor)
	}
}

func TestRejoinUpdatesIdentity(t *testing.T) {
	r := NewRegistry()
	a := newTestClient(r, "R1")
	b := newTestClient(r, "R1")
	a.Handle([]byte(`{"type":"join","name":"A"}`))
	b.Handle([]byte(`{"type":"join","name":"B"}`))
	next(t, a.Peer())
	next(t, a.Peer())
	next(t, b.Peer())

	a.Handle([]byte(`{"type":"join","name":"A2","role":"admin"}`))
	assigned := next(t, a.Peer())
	if peers := assigned["peers"].([]any); len(peers) != 1 {
		t.Fatalf("rejoin snapshot = %v", peers)
	}
	joined := next(t, b.Peer())
	if joined["name"] != "A2" || joined["role"] != "admin" {
		t.Fatalf("re-announce = %v", joined)
	}
	if n := len(r.Members("R1")); n != 2 {
		t.Fatalf("members = %d, want 2", n)
	}
}

func TestRelayTargetsOnePeer(t *testing.T) {
	r := NewRegistry()
	a, b, c := newTestClient(r, "R1"), newTestClient(r, "R1"), newTestClient(r, "R1")
	for _, cl := range []*Client{a, b, c} {
		cl.Handle([]byte(`{"type":"join"}`))
	}
	for _, cl := range []*Client{a, b, c} {
		for next(t, cl.Peer()) != nil {
		}
	}

	for _, typ := range []string{TypeOffer, TypeAnswer, TypeICE} {
		a.Handle([]byte(`{"type":"` + typ + `","to":"` + b.Peer().ID + `","offer":{"sdp":"v=0","type":"offer"},"candidate":null}`))
		got := next(t, b.Peer())
		if got == nil {
			t.Fatalf("%s not delivered", typ)
		}
		if got["type"] != typ || got["from"] != a.Peer().ID {
			t.Fatalf("%s relayed as %v", typ, got)
		}
		if _, ok := got["to"]; ok {
			t.Fatalf("%s still carries to: %v", typ, got)
		}
		if offer, ok := got["offer"].(map[string]any); !ok || offer["sdp"] != "v=0" {
			t.Fatalf("%s payload not forwarded: %v", typ, got)
		}
		expectNone(t, a.Peer())
		expectNone(t, c.Peer())
	}
}

func TestRelayToMissingPeerIsDropped(t *testing.T) {
	r := NewRegistry()
	a, b := newTestClient(r, "R1"), newTestClient(r, "R1")
	a.Handle([]byte(`{"type":"join"}`))
	b.Handle([]byte(`{"type":"join"}`))
	for next(t, a.Peer()) != nil {
	}
	for next(t, b.Peer()) != nil {
	}

	a.Handle([]byte(`{"type":"offer","to":"nonexistent-id","offer":{}}`))
	a.Handle([]byte(`{"type":"ice","offer":{}}`))
	expectNone(t, a.Peer())
	expectNone(t, b.Peer())

	select {
	case <-a.Peer().Done():
		t.Fatal("sender closed after a routing miss")
	default:
	}
}

func TestChatBroadcast(t *testing.T) {
	r := NewRegistry()
	a, b := newTestClient(r, "R1"), newTestClient(r, "R1")
	a.Handle([]byte(`{"type":"join","name":"Dr. A","role":"doctor"}`))
	b.Handle([]byte(`{"type":"join"}`))
	for next(t, a.Peer()) != nil {
	}
	for next(t, b.Peer()) != nil {
	}

	long := strings.Repeat("é", 600)
	a.Handle([]byte(`{"type":"chat","text":"` + long + `"}`))

	got := next(t, b.Peer())
	text := got["text"].(string)
	if n := utf8.RuneCountInString(text); n != MaxChatLength {
		t.Fatalf("chat length = %d, want %d", n, MaxChatLength)
	}
	if got["from"] != a.Peer().ID || got["name"] != "Dr. A" || got["role"] != "doctor" {
		t.Fatalf("chat = %v", got)
	}
	if got["ts"] != "2024-05-01T09:30:00.123456Z" {
		t.Fatalf("ts = %v", got["ts"])
	}
	expectNone(t, a.Peer())
}

func TestMessagesBeforeJoinIgnored(t *testing.T) {
	r := NewRegistry()
	a, b := newTestClient(r, "R1"), newTestClient(r, "R1")
	b.Handle([]byte(`{"type":"join"}`))
	next(t, b.Peer())

	a.Handle([]byte(`{"type":"chat","text":"hi"}`))
	a.Handle([]byte(`{"type":"offer","to":"` + b.Peer().ID + `"}`))
	expectNone(t, b.Peer())
}

func TestMalformedInputIgnored(t *testing.T) {
	r := NewRegistry()
	a := newTestClient(r, "R1")
	for _, raw := range []string{
		`not json`,
		`{"type":`,
		`[]`,
		`{"type":"join","name":42}`,
		`{"type":"teleport"}`,
		`{}`,
	} {
		a.Handle([]byte(raw))
	}
	expectNone(t, a.Peer())
	if n := len(r.Members("R1")); n != 0 {
		t.Fatalf("malformed join registered %d peers", n)
	}
}

func TestDisconnectBroadcastsPeerLeft(t *testing.T) {
	r := NewRegistry()
	a, b := newTestClient(r, "R1"), newTestClient(r, "R1")
	a.Handle([]byte(`{"type":"join"}`))
	b.Handle([]byte(`{"type":"join"}`))
	for next(t, b.Peer()) != nil {
	}

	a.Disconnect()
	a.Disconnect()

	left := next(t, b.Peer())
	if left["type"] != TypePeerLeft || left["id"] != a.Peer().ID {
		t.Fatalf("peer_left = %v", left)
	}
	expectNone(t, b.Peer())
	if _, ok := r.Find("R1", a.Peer().ID); ok {
		t.Fatal("disconnected peer still registered")
	}
}

func TestDisconnectBeforeJoinIsSilent(t *testing.T) {
	r := NewRegistry()
	a, b := newTestClient(r, "R1"), newTestClient(r, "R1")
	b.Handle([]byte(`{"type":"join"}`))
	next(t, b.Peer())

	a.Disconnect()
	expectNone(t, b.Peer())
}

func TestSlowPeerIsClosed(t *testing.T) {
	p := NewPeer("slow")
	for i := 0; i < sendQueueSize; i++ {
		if !p.Deliver([]byte("{}")) {
			t.Fatalf("delivery %d refused", i)
		}
	}
	if p.Deliver([]byte("{}")) {
		t.Fatal("delivery accepted past the queue limit")
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("slow peer not closed")
	}
}

func TestConcurrentJoinsAnnounceOnce(t *testing.T) {
	r := NewRegistry()
	const n = 20
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = newTestClient(r, "R1")
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Handle([]byte(`{"type":"join"}`))
		}(c)
	}
	wg.Wait()

	for _, c := range clients {
		first := next(t, c.Peer())
		if first == nil || first["type"] != TypeAssigned {
			t.Fatalf("peer %s: first message = %v", c.Peer().ID, first)
		}
		seen := map[string]bool{}
		for _, p := range first["peers"].([]any) {
			seen[p.(map[string]any)["id"].(string)] = true
		}
		for m := next(t, c.Peer()); m != nil; m = next(t, c.Peer()) {
			if m["type"] != TypePeerJoined {
				t.Fatalf("peer %s: unexpected %v", c.Peer().ID, m)
			}
			id := m["id"].(string)
			if seen[id] {
				t.Fatalf("peer %s: %s announced twice", c.Peer().ID, id)
			}
			seen[id] = true
		}
		if len(seen) != n-1 {
			t.Fatalf("peer %s knows %d peers, want %d", c.Peer().ID, len(seen), n-1)
		}
	}
}

func TestRegeneratedIDIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := NewRegistry()
	c := NewClient(r, "R1", logger)
	oldID := c.Peer().ID
	if _, err := r.Join("R1", NewPeer(oldID)); err != nil {
		t.Fatal(err)
	}

	c.Handle([]byte(`{"type":"join"}`))
	if c.Peer().ID == oldID {
		t.Fatal("colliding id kept")
	}
	buf.Reset()
	c.Handle([]byte(`{"type":"teleport"}`))

	out := buf.String()
	if !strings.Contains(out, "peer="+c.Peer().ID) || strings.Contains(out, oldID) {
		t.Fatalf("log names the wrong peer:\n%s", out)
	}
}
