// Package audio reads 16 kHz mono 16-bit PCM from WAV or raw files and cuts
// it into fixed-duration frames for streaming to the gateway.
package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Format the gateway expects from clients.
const (
	SampleRate     = 16000
	Channels       = 1
	BitsPerSample  = 16
	bytesPerSample = BitsPerSample / 8
)

var (
	ErrNotWAV            = errors.New("not a RIFF/WAVE file")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Format describes a PCM stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Expected is the only format the gateway relays.
var Expected = Format{SampleRate: SampleRate, Channels: Channels, BitsPerSample: BitsPerSample}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d-bit", f.SampleRate, f.Channels, f.BitsPerSample)
}

// FrameSize returns the byte length of d worth of audio in format f.
func (f Format) FrameSize(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.Channels * (f.BitsPerSample / 8)
}

// OpenWAV parses a WAV header from r and returns a reader positioned at the
// start of the sample data. Only uncompressed PCM in the expected format is
// accepted.
func OpenWAV(r io.Reader) (io.Reader, Format, error) {
	br := bufio.NewReader(r)

	var riff [12]byte
	if _, err := io.ReadFull(br, riff[:]); err != nil {
		return nil, Format{}, fmt.Errorf("read wav header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var format Format
	sawFormat := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			return nil, Format{}, fmt.Errorf("read wav chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: fmt chunk of %d bytes", ErrUnsupportedFormat, size)
			}
			var body [16]byte
			if _, err := io.ReadFull(br, body[:]); err != nil {
				return nil, Format{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != 1 {
				return nil, Format{}, fmt.Errorf("%w: encoding tag %d, want PCM", ErrUnsupportedFormat, tag)
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
			sawFormat = true
			if err := skip(br, size-16+size%2); err != nil {
				return nil, Format{}, err
			}

		case "data":
			if !sawFormat {
				return nil, Format{}, fmt.Errorf("%w: data before fmt chunk", ErrUnsupportedFormat)
			}
			if format != Expected {
				return nil, Format{}, fmt.Errorf("%w: got %s, want %s", ErrUnsupportedFormat, format, Expected)
			}
			return io.LimitReader(br, size), format, nil

		default:
			if err := skip(br, size+size%2); err != nil {
				return nil, Format{}, err
			}
		}
	}
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("skip wav chunk: %w", err)
	}
	return nil
}

// Framer cuts a PCM stream into equal frames. The final frame may be short
// but always holds whole samples.
type Framer struct {
	r    io.Reader
	size int
}

// NewFramer returns a framer yielding frameSize-byte frames from r.
func NewFramer(r io.Reader, frameSize int) *Framer {
	if frameSize < bytesPerSample {
		frameSize = bytesPerSample
	}
	frameSize -= frameSize % bytesPerSample
	return &Framer{r: r, size: frameSize}
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
func (f *Framer) Next() ([]byte, error) {
	buf := make([]byte, f.size)
	n, err := io.ReadFull(f.r, buf)
	n -= n % bytesPerSample
	switch {
	case n > 0:
		return buf[:n], nil
	case err == nil || errors.Is(err, io.ErrUnexpectedEOF):
		return nil, io.EOF
	default:
		return nil, err
	}
}
