package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/medcall/internal/upstream"
)

var errSendFailed = errors.New("send failed")

// fakeStream is an in-memory Stream. Events pushed with deliver come out of
// Recv; drop makes the pending Recv fail as if the provider hung up.
type fakeStream struct {
	name string

	mu         sync.Mutex
	sent       [][]byte
	keepalives int
	sendErr    error
	closed     bool

	events  chan upstream.Event
	dropped chan struct{}
	once    sync.Once
	done    chan struct{}
}

func newFakeStream(name string) *fakeStream {
	return &fakeStream{
		name:    name,
		events:  make(chan upstream.Event, 16),
		dropped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (f *fakeStream) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), audio...))
	return nil
}

func (f *fakeStream) KeepAlive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepalives++
	return errors.New("keepalive rejected")
}

func (f *fakeStream) Recv(ctx context.Context) (upstream.Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.dropped:
		return upstream.Event{}, upstream.ErrStreamClosed
	case <-f.done:
		return upstream.Event{}, upstream.ErrStreamClosed
	case <-ctx.Done():
		return upstream.Event{}, ctx.Err()
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeStream) deliver(ev upstream.Event) { f.events <- ev }

func (f *fakeStream) drop() { close(f.dropped) }

func (f *fakeStream) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeStream) keepaliveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keepalives
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeOpener hands out streams per slot label. Each call for a label
// consumes the next scripted result; once the script runs out it opens a
// fresh stream. A non-nil gate blocks every Open until it is closed.
type fakeOpener struct {
	gate chan struct{}

	mu      sync.Mutex
	scripts map[string][]openResult
	opened  map[string][]*fakeStream
	calls   map[string][]time.Time
}

type openResult struct {
	stream *fakeStream
	err    error
	block  bool
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		scripts: make(map[string][]openResult),
		opened:  make(map[string][]*fakeStream),
		calls:   make(map[string][]time.Time),
	}
}

func (o *fakeOpener) script(label string, results ...openResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scripts[label] = append(o.scripts[label], results...)
}

func (o *fakeOpener) Open(ctx context.Context, label string) (Stream, error) {
	if o.gate != nil {
		select {
		case <-o.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	o.mu.Lock()
	o.calls[label] = append(o.calls[label], time.Now())
	var res openResult
	if script := o.scripts[label]; len(script) > 0 {
		res = script[0]
		o.scripts[label] = script[1:]
	}
	o.mu.Unlock()

	if res.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}
	stream := res.stream
	if stream == nil {
		stream = newFakeStream(label)
	}
	o.mu.Lock()
	o.opened[label] = append(o.opened[label], stream)
	o.mu.Unlock()
	return stream, nil
}

func (o *fakeOpener) streams(label string) []*fakeStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeStream(nil), o.opened[label]...)
}

func (o *fakeOpener) callTimes(label string) []time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]time.Time(nil), o.calls[label]...)
}

// recorder is an Emitter that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) Emit(msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) messages() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.msgs...)
}

func (r *recorder) transcripts() []TranscriptMessage {
	var out []TranscriptMessage
	for _, m := range r.messages() {
		if tm, ok := m.(TranscriptMessage); ok {
			out = append(out, tm)
		}
	}
	return out
}

func (r *recorder) errors() []ErrorMessage {
	var out []ErrorMessage
	for _, m := range r.messages() {
		if em, ok := m.(ErrorMessage); ok {
			out = append(out, em)
		}
	}
	return out
}

func (r *recorder) readyCount() int {
	n := 0
	for _, m := range r.messages() {
		if _, ok := m.(ReadyMessage); ok {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fastTiming() Timing {
	return Timing{
		ConnectTimeout:    500 * time.Millisecond,
		KeepaliveInterval: 5 * time.Millisecond,
		ReconnectDelay:    20 * time.Millisecond,
		RetryDelay:        60 * time.Millisecond,
	}
}

func results(text string, final bool) upstream.Event {
	return upstream.Event{
		Type:    upstream.EventTypeResults,
		IsFinal: final,
		Channel: upstream.Channel{
			Alternatives: []upstream.Alternative{{Transcript: text}},
		},
	}
}
