// Package stt relays browser microphone audio to the upstream transcription
// provider and fans transcripts back to the browser.
//
// A Session owns one slot per tracked speaker. Each slot gets its own
// upstream stream. Audio that arrives before every slot is connected is
// buffered per slot and replayed in order once the session is ready. After
// that each slot runs a keepalive task and a relay task; the relay task
// reconnects its slot on its own whenever the upstream stream drops.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/medcall/internal/upstream"
)

// providerName appears in client-facing error messages.
const providerName = "Deepgram"

// Stream is one open upstream transcription stream.
type Stream interface {
	Send(audio []byte) error
	KeepAlive() error
	Recv(ctx context.Context) (upstream.Event, error)
	Close() error
}

// Opener opens upstream streams. slot is the label of the slot being
// connected and is informational.
type Opener interface {
	Open(ctx context.Context, slot string) (Stream, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, slot string) (Stream, error)

func (f OpenerFunc) Open(ctx context.Context, slot string) (Stream, error) {
	return f(ctx, slot)
}

// DialerOpener opens streams with an upstream.Dialer.
func DialerOpener(d *upstream.Dialer) Opener {
	return OpenerFunc(func(ctx context.Context, _ string) (Stream, error) {
		conn, err := d.Open(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// Timing holds the session's timeouts and intervals.
type Timing struct {
	// ConnectTimeout bounds one whole connect for a slot. The opener applies
	// its own, shorter, per-attempt timeout inside it.
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	// ReconnectDelay is the pause after a stream drops before reconnecting.
	ReconnectDelay time.Duration
	// RetryDelay is the pause after a failed reconnect before the next try.
	RetryDelay time.Duration
}

// DefaultTiming returns the production timing.
func DefaultTiming() Timing {
	return Timing{
		ConnectTimeout:    20 * time.Second,
		KeepaliveInterval: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		RetryDelay:        3 * time.Second,
	}
}

// DefaultBufferFrames is the per-slot pre-ready buffer capacity.
const DefaultBufferFrames = 120

// Options configures a Session. Zero fields take defaults.
type Options struct {
	ID           string
	BufferFrames int
	Timing       Timing
	Logger       *slog.Logger
}

// Session is the STT state for one client connection.
type Session struct {
	id      string
	variant Variant
	opener  Opener
	out     Emitter
	timing  Timing
	logger  *slog.Logger

	slots []*slot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ready     atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
}

// NewSession builds a session for variant. It does nothing until Start.
func NewSession(variant Variant, opener Opener, out Emitter, opts Options) (*Session, error) {
	if err := variant.validate(); err != nil {
		return nil, err
	}

	defaults := DefaultTiming()
	timing := opts.Timing
	if timing.ConnectTimeout <= 0 {
		timing.ConnectTimeout = defaults.ConnectTimeout
	}
	if timing.KeepaliveInterval <= 0 {
		timing.KeepaliveInterval = defaults.KeepaliveInterval
	}
	if timing.ReconnectDelay <= 0 {
		timing.ReconnectDelay = defaults.ReconnectDelay
	}
	if timing.RetryDelay <= 0 {
		timing.RetryDelay = defaults.RetryDelay
	}

	bufferFrames := opts.BufferFrames
	if bufferFrames <= 0 {
		bufferFrames = DefaultBufferFrames
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("variant", variant.Name)
	if opts.ID != "" {
		logger = logger.With("session", opts.ID)
	}

	prefixes := []byte{PrefixFirst, PrefixSecond}
	slots := make([]*slot, len(variant.Labels))
	for i, label := range variant.Labels {
		slots[i] = newSlot(label, prefixes[i], bufferFrames)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:      opts.ID,
		variant: variant,
		opener:  opener,
		out:     out,
		timing:  timing,
		logger:  logger,
		slots:   slots,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins connecting every slot in the background. Audio handed to
// HandleFrame before the session is ready is buffered.
func (s *Session) Start() {
	s.spawn(s.run)
}

// Ready reports whether every slot is connected and its buffer flushed.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// Labels returns the slot labels in prefix order.
func (s *Session) Labels() []string {
	labels := make([]string, len(s.slots))
	for i, sl := range s.slots {
		labels[i] = sl.label
	}
	return labels
}

// HandleFrame routes one inbound binary frame. Frames shorter than two bytes
// and, for dual-speaker sessions, frames with an unknown prefix are dropped.
func (s *Session) HandleFrame(frame []byte) {
	if len(frame) < 2 || s.closing.Load() {
		return
	}

	prefix, audio := frame[0], frame[1:]
	if !s.variant.Dual() {
		s.slots[0].push(audio)
		return
	}
	for _, sl := range s.slots {
		if sl.prefix == prefix {
			sl.push(audio)
			return
		}
	}
}

// Close stops every task, waits for them to exit, then closes the upstream
// streams. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()
		s.wg.Wait()

		for _, sl := range s.slots {
			if stream := sl.take(); stream != nil {
				stream.Close()
			}
		}
		s.logger.Debug("session closed")
	})
}

// spawn runs fn as a tracked task unless the session is shutting down.
// Tasks are only spawned by Start or by other running tasks, so the wait
// group counter is never zero when Add is called during Close.
func (s *Session) spawn(fn func()) bool {
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// run connects every slot concurrently, then flushes, announces readiness
// and starts the per-slot tasks. A slot that fails to connect leaves the
// session permanently not ready.
func (s *Session) run() {
	s.logger.Info("connecting upstream", "slots", len(s.slots))

	var g errgroup.Group
	for _, sl := range s.slots {
		g.Go(func() error {
			stream, err := s.connect(sl)
			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Error("upstream connect failed", "slot", sl.label, "error", err)
					s.emit(ErrorMessage{Type: MessageTypeError, Message: startupErrorMessage(sl.label, err)})
				}
				return err
			}
			sl.attach(stream)
			s.logger.Info("upstream connected", "slot", sl.label)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Siblings that did connect are useless without readiness.
		for _, sl := range s.slots {
			if stream := sl.take(); stream != nil {
				stream.Close()
			}
		}
		return
	}
	if s.ctx.Err() != nil {
		return
	}

	for _, sl := range s.slots {
		flushed, dropped := sl.goLive()
		s.logger.Debug("buffer flushed", "slot", sl.label, "frames", flushed, "dropped", dropped)
	}
	s.ready.Store(true)
	s.emit(ReadyMessage{Type: MessageTypeReady})
	s.logger.Info("session ready")

	for _, sl := range s.slots {
		s.spawn(func() { s.keepalive(sl) })
		s.spawn(func() { s.relay(sl) })
	}
}

// connect opens a stream for sl within the outer connect timeout.
func (s *Session) connect(sl *slot) (Stream, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timing.ConnectTimeout)
	defer cancel()

	stream, err := s.opener.Open(ctx, sl.label)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, upstream.ErrConnectTimeout) {
			err = &upstream.ConnectError{
				Op:      "connect " + strings.ToLower(sl.label),
				Err:     upstream.ErrConnectTimeout,
				Details: fmt.Sprintf("after %s", s.timing.ConnectTimeout),
			}
		}
		return nil, err
	}
	return stream, nil
}

func startupErrorMessage(label string, err error) string {
	name := strings.ToLower(label)
	if errors.Is(err, upstream.ErrConnectTimeout) {
		return fmt.Sprintf("%s %s connection timed out. Check your API key and internet connection.", providerName, name)
	}
	return fmt.Sprintf("%s %s connection failed: %v", providerName, name, err)
}

// keepalive pings the slot's current stream on every tick. Failures are
// ignored; only the relay task reconnects.
func (s *Session) keepalive(sl *slot) {
	ticker := time.NewTicker(s.timing.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if stream := sl.current(); stream != nil {
				stream.KeepAlive()
			}
		}
	}
}

// relay forwards transcripts from sl's stream and reconnects it whenever
// the stream ends, until the session closes. There is no attempt limit.
func (s *Session) relay(sl *slot) {
	logger := s.logger.With("slot", sl.label)

	for {
		stream := sl.current()
		if stream == nil {
			return
		}

		err := s.pump(sl, stream)
		if s.closing.Load() || s.ctx.Err() != nil {
			return
		}
		logger.Warn("upstream dropped, reconnecting", "error", err, "delay", s.timing.ReconnectDelay)

		if sl.detach(stream) {
			stream.Close()
		}
		if !s.sleep(s.timing.ReconnectDelay) {
			return
		}

		for attempt := 1; ; attempt++ {
			fresh, err := s.connect(sl)
			if err == nil {
				sl.attach(fresh)
				logger.Info("upstream reconnected", "attempt", attempt)
				break
			}
			if s.ctx.Err() != nil {
				return
			}
			logger.Warn("upstream reconnect failed", "attempt", attempt, "error", err, "retry_in", s.timing.RetryDelay)
			if !s.sleep(s.timing.RetryDelay) {
				return
			}
		}
	}
}

// pump reads events from stream until it fails.
func (s *Session) pump(sl *slot, stream Stream) error {
	for {
		ev, err := stream.Recv(s.ctx)
		if err != nil {
			return err
		}
		text, ok := ev.Transcript()
		if !ok {
			continue
		}
		s.emit(TranscriptMessage{
			Type:    MessageTypeTranscript,
			Text:    text,
			IsFinal: ev.IsFinal,
			Speaker: sl.label,
		})
		s.logger.Debug("transcript", "slot", sl.label, "final", ev.IsFinal, "chars", len(text))
	}
}

// sleep waits for d and reports false if the session closed first.
func (s *Session) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) emit(msg any) {
	if s.closing.Load() {
		return
	}
	if err := s.out.Emit(msg); err != nil {
		s.logger.Debug("emit failed", "error", err)
	}
}
