package upstream

import (
	"encoding/json"
	"strings"
)

// EventTypeResults is the provider event type carrying transcription results.
const EventTypeResults = "Results"

// Control frames understood by the provider.
var (
	keepAliveFrame   = []byte(`{"type":"KeepAlive"}`)
	closeStreamFrame = []byte(`{"type":"CloseStream"}`)
)

// Event is one JSON message received from the provider. Only the fields the
// gateway consumes are decoded.
type Event struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     Channel `json:"channel"`
}

// Channel holds the ranked transcription alternatives for one audio channel.
type Channel struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative is one candidate transcription.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Transcript returns the trimmed text of the top alternative. ok is false
// for non-result events, results without alternatives, and empty text.
func (e Event) Transcript() (text string, ok bool) {
	if e.Type != EventTypeResults || len(e.Channel.Alternatives) == 0 {
		return "", false
	}
	text = strings.TrimSpace(e.Channel.Alternatives[0].Transcript)
	return text, text != ""
}

// ParseEvent decodes a provider text frame.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}
