package stt

import "testing"

func TestAudioBufferDropsNewest(t *testing.T) {
	b := newAudioBuffer(3)
	for i := 0; i < 5; i++ {
		kept := b.push([]byte{byte(i)})
		if want := i < 3; kept != want {
			t.Errorf("push(%d) kept = %v, want %v", i, kept, want)
		}
	}
	if b.len() != 3 || b.dropped != 2 {
		t.Fatalf("len = %d, dropped = %d", b.len(), b.dropped)
	}

	frames := b.drain()
	for i, f := range frames {
		if f[0] != byte(i) {
			t.Errorf("frame %d = %d", i, f[0])
		}
	}
	if b.len() != 0 {
		t.Fatalf("buffer not empty after drain: %d", b.len())
	}
}

func TestSlotGoLiveStopsOnSendError(t *testing.T) {
	sl := newSlot("Doctor", PrefixFirst, 10)
	for i := 0; i < 4; i++ {
		sl.push([]byte{byte(i)})
	}
	stream := newFakeStream("Doctor")
	stream.sendErr = errSendFailed
	sl.attach(stream)

	flushed, _ := sl.goLive()
	if flushed != 0 {
		t.Fatalf("flushed = %d, want 0", flushed)
	}
	if sl.buffered() != 0 {
		t.Fatal("buffer not retired after failed flush")
	}
}
