package client

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/medcall/internal/stt"
)

const (
	textMessage   = websocket.TextMessage
	binaryMessage = websocket.BinaryMessage
)

// Transcript is one message from a transcription socket.
type Transcript struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Speaker string `json:"speaker"`
	Message string `json:"message"`
}

// Ready reports the stt_ready message.
func (t *Transcript) Ready() bool { return t.Type == stt.MessageTypeReady }

// Err returns the startup failure carried by an stt_error message.
func (t *Transcript) Err() error {
	if t.Type != stt.MessageTypeError {
		return nil
	}
	return WrapError("transcribe", ErrSTTStartup, t.Message)
}

// STTClient streams PCM audio to a transcription socket.
type STTClient struct {
	sock   *socket
	events chan *Transcript
}

// DialSTT connects to the transcription socket at url.
func DialSTT(ctx context.Context, url string) (*STTClient, error) {
	sock, err := dial(ctx, url)
	if err != nil {
		return nil, err
	}
	c := &STTClient{sock: sock, events: make(chan *Transcript, queueSize)}
	go c.decode()
	return c, nil
}

func (c *STTClient) decode() {
	defer close(c.events)
	for data := range c.sock.incoming {
		var t Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		select {
		case c.events <- &t:
		case <-c.sock.done:
			return
		}
	}
}

// Events is closed when the connection ends.
func (c *STTClient) Events() <-chan *Transcript {
	return c.events
}

// Send writes pcm to a single-speaker socket. Every inbound frame carries a
// one-byte speaker prefix that the gateway strips, so PrefixFirst is added.
func (c *STTClient) Send(pcm []byte) error {
	return c.SendSpeaker(stt.PrefixFirst, pcm)
}

// SendSpeaker writes pcm behind a speaker prefix byte (stt.PrefixFirst or
// stt.PrefixSecond). Dual-speaker sockets route the frame by it.
func (c *STTClient) SendSpeaker(prefix byte, pcm []byte) error {
	frame := make([]byte, 0, len(pcm)+1)
	frame = append(frame, prefix)
	frame = append(frame, pcm...)
	if err := c.sock.send(binaryMessage, frame); err != nil {
		return NewError("send audio", err)
	}
	return nil
}

// Close ends the session.
func (c *STTClient) Close() {
	c.sock.Close()
}
