package stt

import "sync"

// slot is one tracked speaker within a session. Inbound audio and the
// session's startup and relay tasks all touch it, so its state sits behind
// a mutex. Upstream writes happen under the same lock, which is what keeps
// flushed and live frames in arrival order.
type slot struct {
	label  string
	prefix byte

	mu     sync.Mutex
	stream Stream
	buffer *audioBuffer // nil once retired
	live   bool
}

func newSlot(label string, prefix byte, bufferFrames int) *slot {
	return &slot{
		label:  label,
		prefix: prefix,
		buffer: newAudioBuffer(bufferFrames),
	}
}

// push routes one audio payload: buffered before the slot is live, sent
// directly afterwards, silently dropped while the stream is being replaced.
func (sl *slot) push(audio []byte) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if !sl.live {
		sl.buffer.push(audio)
		return
	}
	if sl.stream == nil {
		return
	}
	sl.stream.Send(audio)
}

// goLive replays buffered audio upstream and retires the buffer. Replay
// stops at the first failed send; the relay loop owns recovery from there.
func (sl *slot) goLive() (flushed, dropped int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.live {
		return 0, 0
	}
	dropped = sl.buffer.dropped
	for _, frame := range sl.buffer.drain() {
		if sl.stream == nil {
			break
		}
		if err := sl.stream.Send(frame); err != nil {
			break
		}
		flushed++
	}
	sl.buffer = nil
	sl.live = true
	return flushed, dropped
}

func (sl *slot) current() Stream {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.stream
}

// attach installs a freshly opened stream.
func (sl *slot) attach(stream Stream) {
	sl.mu.Lock()
	sl.stream = stream
	sl.mu.Unlock()
}

// detach clears the stream if it is still old and returns whether it did.
func (sl *slot) detach(old Stream) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.stream != old {
		return false
	}
	sl.stream = nil
	return true
}

// take clears and returns the current stream.
func (sl *slot) take() Stream {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	stream := sl.stream
	sl.stream = nil
	return stream
}

func (sl *slot) buffered() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.buffer == nil {
		return 0
	}
	return sl.buffer.len()
}
