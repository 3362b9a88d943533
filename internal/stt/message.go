package stt

// Message types sent to the browser.
const (
	MessageTypeReady      = "stt_ready"
	MessageTypeTranscript = "transcript"
	MessageTypeError      = "stt_error"
)

// ReadyMessage tells the client every slot is connected and live.
type ReadyMessage struct {
	Type string `json:"type"`
}

// TranscriptMessage carries one interim or final transcript for a slot.
type TranscriptMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Speaker string `json:"speaker"`
}

// ErrorMessage reports a startup failure for one slot.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Emitter delivers messages to the browser side of a session. Emit must not
// block indefinitely; implementations drop or fail once the client is gone.
type Emitter interface {
	Emit(msg any) error
}
