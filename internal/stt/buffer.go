package stt

// audioBuffer holds frames that arrive before a slot's upstream stream is
// ready. It is bounded and drops the newest frame once full, so the
// earliest audio of the call survives in order.
type audioBuffer struct {
	frames   [][]byte
	capacity int
	dropped  int
}

func newAudioBuffer(capacity int) *audioBuffer {
	return &audioBuffer{
		frames:   make([][]byte, 0, capacity),
		capacity: capacity,
	}
}

// push appends frame and reports whether it was kept.
func (b *audioBuffer) push(frame []byte) bool {
	if len(b.frames) >= b.capacity {
		b.dropped++
		return false
	}
	b.frames = append(b.frames, frame)
	return true
}

func (b *audioBuffer) len() int {
	return len(b.frames)
}

// drain returns the buffered frames in arrival order and empties the buffer.
func (b *audioBuffer) drain() [][]byte {
	frames := b.frames
	b.frames = nil
	return frames
}
