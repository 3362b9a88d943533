package stt

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/medcall/internal/upstream"
)

func startSession(t *testing.T, variant Variant, opener Opener, opts Options) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	if opts.Timing == (Timing{}) {
		opts.Timing = fastTiming()
	}
	s, err := NewSession(variant, opener, rec, opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	s.Start()
	t.Cleanup(s.Close)
	return s, rec
}

func TestBufferedAudioFlushedInOrder(t *testing.T) {
	opener := newFakeOpener()
	opener.gate = make(chan struct{})
	s, rec := startSession(t, Consult, opener, Options{})

	for i := 0; i < 150; i++ {
		s.HandleFrame([]byte{PrefixFirst, byte(i)})
	}
	s.HandleFrame([]byte{PrefixSecond, 0xAA})
	s.HandleFrame([]byte{PrefixSecond, 0xBB})

	if s.Ready() {
		t.Fatal("session ready before upstream connected")
	}
	if got := s.slots[0].buffered(); got != DefaultBufferFrames {
		t.Fatalf("doctor buffered %d frames, want %d", got, DefaultBufferFrames)
	}

	close(opener.gate)
	waitFor(t, "ready", s.Ready)

	doctor := opener.streams("Doctor")[0].sentFrames()
	if len(doctor) != DefaultBufferFrames {
		t.Fatalf("doctor stream got %d frames, want %d", len(doctor), DefaultBufferFrames)
	}
	for i, frame := range doctor {
		if !bytes.Equal(frame, []byte{byte(i)}) {
			t.Fatalf("frame %d = %v, want [%d]", i, frame, i)
		}
	}

	patient := opener.streams("Patient")[0].sentFrames()
	if len(patient) != 2 || patient[0][0] != 0xAA || patient[1][0] != 0xBB {
		t.Fatalf("patient frames = %v", patient)
	}

	if n := rec.readyCount(); n != 1 {
		t.Fatalf("stt_ready sent %d times, want 1", n)
	}
	if got := s.slots[0].buffered(); got != 0 {
		t.Fatalf("buffer not retired, holds %d frames", got)
	}
}

func TestLiveAudioSentDirectly(t *testing.T) {
	opener := newFakeOpener()
	s, _ := startSession(t, Sales, opener, Options{})
	waitFor(t, "ready", s.Ready)

	s.HandleFrame([]byte{PrefixFirst, 1, 2, 3})
	s.HandleFrame([]byte{PrefixSecond, 4})

	agent := opener.streams("Agent")[0].sentFrames()
	if len(agent) != 1 || !bytes.Equal(agent[0], []byte{1, 2, 3}) {
		t.Fatalf("agent frames = %v", agent)
	}
	client := opener.streams("Client")[0].sentFrames()
	if len(client) != 1 || !bytes.Equal(client[0], []byte{4}) {
		t.Fatalf("client frames = %v", client)
	}
}

func TestFramesDropped(t *testing.T) {
	opener := newFakeOpener()
	s, _ := startSession(t, Admin, opener, Options{})
	waitFor(t, "ready", s.Ready)

	s.HandleFrame(nil)
	s.HandleFrame([]byte{PrefixFirst})
	s.HandleFrame([]byte{0x03, 9, 9})
	s.HandleFrame([]byte{0x00, 9})

	for _, label := range Admin.Labels {
		if frames := opener.streams(label)[0].sentFrames(); len(frames) != 0 {
			t.Errorf("%s received %v", label, frames)
		}
	}
}

func TestSingleSpeakerStripsPrefix(t *testing.T) {
	opener := newFakeOpener()
	variant := SingleSpeaker("doctor", "Dr Smith")
	s, _ := startSession(t, variant, opener, Options{})
	waitFor(t, "ready", s.Ready)

	s.HandleFrame([]byte{PrefixFirst, 5, 6})
	s.HandleFrame([]byte{0x7F, 7})
	s.HandleFrame([]byte{PrefixFirst})

	frames := opener.streams("Doctor (Dr Smith)")[0].sentFrames()
	if len(frames) != 2 || !bytes.Equal(frames[0], []byte{5, 6}) || !bytes.Equal(frames[1], []byte{7}) {
		t.Fatalf("frames = %v", frames)
	}
}

func TestStartupFailureReportsSlot(t *testing.T) {
	opener := newFakeOpener()
	opener.script("Patient", openResult{err: &upstream.ConnectError{
		Op:      "connect",
		Err:     upstream.ErrConnectFailed,
		Details: "status 401",
	}})
	s, rec := startSession(t, Consult, opener, Options{})

	waitFor(t, "stt_error", func() bool { return len(rec.errors()) == 1 })
	msg := rec.errors()[0].Message
	if !strings.HasPrefix(msg, "Deepgram patient connection failed: ") {
		t.Fatalf("error message = %q", msg)
	}

	waitFor(t, "doctor connect", func() bool { return len(opener.streams("Doctor")) == 1 })
	doctor := opener.streams("Doctor")[0]
	waitFor(t, "doctor stream closed", doctor.isClosed)

	s.HandleFrame([]byte{PrefixFirst, 1})
	time.Sleep(20 * time.Millisecond)
	if s.Ready() || rec.readyCount() != 0 {
		t.Fatal("session became ready after a failed slot")
	}
	if frames := doctor.sentFrames(); len(frames) != 0 {
		t.Fatalf("audio reached a stream of a failed session: %v", frames)
	}
}

func TestStartupTimeout(t *testing.T) {
	opener := newFakeOpener()
	opener.script("Doctor", openResult{block: true})
	timing := fastTiming()
	timing.ConnectTimeout = 30 * time.Millisecond
	_, rec := startSession(t, Consult, opener, Options{Timing: timing})

	waitFor(t, "stt_error", func() bool { return len(rec.errors()) == 1 })
	want := "Deepgram doctor connection timed out. Check your API key and internet connection."
	if got := rec.errors()[0].Message; got != want {
		t.Fatalf("error message = %q, want %q", got, want)
	}
}

func TestTranscriptsForwarded(t *testing.T) {
	opener := newFakeOpener()
	s, rec := startSession(t, Consult, opener, Options{})
	waitFor(t, "ready", s.Ready)

	stream := opener.streams("Patient")[0]
	stream.deliver(results("  my head hurts ", true))
	stream.deliver(upstream.Event{Type: "Metadata"})
	stream.deliver(results("   ", false))
	stream.deliver(upstream.Event{Type: upstream.EventTypeResults})
	stream.deliver(results("since monday", false))

	waitFor(t, "two transcripts", func() bool { return len(rec.transcripts()) == 2 })
	time.Sleep(10 * time.Millisecond)

	got := rec.transcripts()
	want := []TranscriptMessage{
		{Type: MessageTypeTranscript, Text: "my head hurts", IsFinal: true, Speaker: "Patient"},
		{Type: MessageTypeTranscript, Text: "since monday", IsFinal: false, Speaker: "Patient"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d transcripts, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transcript %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	opener := newFakeOpener()
	opener.script("Doctor",
		openResult{},
		openResult{err: upstream.ErrConnectFailed},
		openResult{},
	)
	timing := fastTiming()
	s, rec := startSession(t, Consult, opener, Options{Timing: timing})
	waitFor(t, "ready", s.Ready)

	first := opener.streams("Doctor")[0]
	dropped := time.Now()
	first.drop()

	waitFor(t, "second stream", func() bool { return len(opener.streams("Doctor")) == 2 })

	calls := opener.callTimes("Doctor")
	if len(calls) != 3 {
		t.Fatalf("open called %d times, want 3", len(calls))
	}
	if gap := calls[1].Sub(dropped); gap < timing.ReconnectDelay {
		t.Errorf("reconnected after %s, want at least %s", gap, timing.ReconnectDelay)
	}
	if gap := calls[2].Sub(calls[1]); gap < timing.RetryDelay {
		t.Errorf("retried after %s, want at least %s", gap, timing.RetryDelay)
	}
	if !first.isClosed() {
		t.Error("dropped stream not closed")
	}

	second := opener.streams("Doctor")[1]
	waitFor(t, "second stream attached", func() bool { return s.slots[0].current() == Stream(second) })
	s.HandleFrame([]byte{PrefixFirst, 42})
	if frames := second.sentFrames(); len(frames) != 1 || frames[0][0] != 42 {
		t.Fatalf("audio after reconnect = %v", frames)
	}

	second.deliver(results("back again", true))
	waitFor(t, "transcript after reconnect", func() bool { return len(rec.transcripts()) == 1 })

	if n := len(opener.callTimes("Patient")); n != 1 {
		t.Errorf("patient slot reconnected %d times", n-1)
	}
	if n := rec.readyCount(); n != 1 {
		t.Errorf("stt_ready sent %d times", n)
	}
}

func TestKeepaliveFailuresIgnored(t *testing.T) {
	opener := newFakeOpener()
	s, rec := startSession(t, Consult, opener, Options{})
	waitFor(t, "ready", s.Ready)

	doctor := opener.streams("Doctor")[0]
	waitFor(t, "keepalives", func() bool { return doctor.keepaliveCount() >= 3 })

	if n := len(opener.callTimes("Doctor")); n != 1 {
		t.Fatalf("keepalive failure caused %d reconnects", n-1)
	}
	if errs := rec.errors(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
}

func TestCloseReleasesStreams(t *testing.T) {
	opener := newFakeOpener()
	s, _ := startSession(t, Consult, opener, Options{})
	waitFor(t, "ready", s.Ready)

	s.Close()
	s.Close()

	for _, label := range Consult.Labels {
		stream := opener.streams(label)[0]
		if !stream.isClosed() {
			t.Errorf("%s stream still open", label)
		}
		s.HandleFrame([]byte{PrefixFirst, 1})
		if frames := stream.sentFrames(); len(frames) != 0 {
			t.Errorf("%s got audio after close: %v", label, frames)
		}
	}
}

func TestCloseDuringStartup(t *testing.T) {
	opener := newFakeOpener()
	opener.gate = make(chan struct{})
	s, rec := startSession(t, Consult, opener, Options{})

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a pending connect")
	}
	if msgs := rec.messages(); len(msgs) != 0 {
		t.Fatalf("messages after close: %+v", msgs)
	}
}

func TestSingleSpeakerLabel(t *testing.T) {
	tests := []struct {
		role, name string
		want       string
	}{
		{"", "", "Participant"},
		{"doctor", "", "Doctor"},
		{"DOCTOR", "", "Doctor"},
		{"patient", " Ann ", "Patient (Ann)"},
		{"sales", "Bob", "Sales (Bob)"},
	}
	for _, tt := range tests {
		v := SingleSpeaker(tt.role, tt.name)
		if v.Dual() || len(v.Labels) != 1 || v.Labels[0] != tt.want {
			t.Errorf("SingleSpeaker(%q, %q) labels = %v, want [%s]", tt.role, tt.name, v.Labels, tt.want)
		}
	}
}

func TestNewSessionRejectsEmptyVariant(t *testing.T) {
	if _, err := NewSession(Variant{Name: "none"}, newFakeOpener(), &recorder{}, Options{}); err == nil {
		t.Fatal("expected error for a variant without labels")
	}
}
