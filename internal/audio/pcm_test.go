package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"
)

func wav(t *testing.T, f Format, extra bool, samples []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(0))
	b.WriteString("WAVE")
	if extra {
		b.WriteString("LIST")
		binary.Write(&b, binary.LittleEndian, uint32(3))
		b.Write([]byte{1, 2, 3, 0}) // odd chunk plus pad byte
	}
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint16(f.Channels))
	binary.Write(&b, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(&b, binary.LittleEndian, uint32(f.SampleRate*f.Channels*f.BitsPerSample/8))
	binary.Write(&b, binary.LittleEndian, uint16(f.Channels*f.BitsPerSample/8))
	binary.Write(&b, binary.LittleEndian, uint16(f.BitsPerSample))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(len(samples)))
	b.Write(samples)
	return b.Bytes()
}

func TestOpenWAV(t *testing.T) {
	samples := []byte{1, 0, 2, 0, 3, 0}
	r, format, err := OpenWAV(bytes.NewReader(wav(t, Expected, true, samples)))
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	if format != Expected {
		t.Fatalf("format = %s", format)
	}
	got, _ := io.ReadAll(r)
	if !bytes.Equal(got, samples) {
		t.Fatalf("samples = %v, want %v", got, samples)
	}
}

func TestOpenWAVRejects(t *testing.T) {
	stereo := Expected
	stereo.Channels = 2
	tests := map[string]struct {
		data []byte
		want error
	}{
		"not riff": {[]byte("hello world, not audio"), ErrNotWAV},
		"stereo":   {wav(t, stereo, false, nil), ErrUnsupportedFormat},
		"44k":      {wav(t, Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16}, false, nil), ErrUnsupportedFormat},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := OpenWAV(bytes.NewReader(tt.data))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFrameSize(t *testing.T) {
	if got := Expected.FrameSize(100 * time.Millisecond); got != 3200 {
		t.Fatalf("100ms frame = %d bytes, want 3200", got)
	}
}

func TestFramer(t *testing.T) {
	data := make([]byte, 25)
	for i := range data {
		data[i] = byte(i)
	}
	f := NewFramer(bytes.NewReader(data), 10)

	var sizes []int
	for {
		frame, err := f.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		sizes = append(sizes, len(frame))
	}
	// 25 bytes: two full frames, then 4 whole samples; the odd byte is dropped.
	want := []int{10, 10, 4}
	if len(sizes) != len(want) {
		t.Fatalf("frame sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("frame sizes = %v, want %v", sizes, want)
		}
	}
}
