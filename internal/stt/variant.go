package stt

import (
	"fmt"
	"strings"
)

// Speaker prefixes carried in the first byte of every inbound audio frame.
const (
	PrefixFirst  byte = 0x01
	PrefixSecond byte = 0x02
)

// Variant names the speaker slots of a session. One label means a
// single-speaker session; two labels mean a dual-speaker session whose
// frames are routed by prefix (0x01 to the first label, 0x02 to the second).
type Variant struct {
	Name   string
	Labels []string
}

// Dual-speaker variants served by the gateway.
var (
	Consult = Variant{Name: "stt", Labels: []string{"Doctor", "Patient"}}
	Sales   = Variant{Name: "stt-sales", Labels: []string{"Agent", "Client"}}
	Admin   = Variant{Name: "stt-admin", Labels: []string{"Admin", "Participant"}}
)

// SingleSpeaker returns the one-slot variant used by multi-participant
// rooms, where each browser tab transcribes only its own microphone. The
// label reads "Doctor (Dr Smith)", or just "Doctor" without a name.
func SingleSpeaker(role, name string) Variant {
	role = strings.TrimSpace(role)
	if role == "" {
		role = "participant"
	}
	label := capitalize(role)
	if name = strings.TrimSpace(name); name != "" {
		label = fmt.Sprintf("%s (%s)", label, name)
	}
	return Variant{Name: "stt-room", Labels: []string{label}}
}

// Dual reports whether frames are demultiplexed by speaker prefix.
func (v Variant) Dual() bool {
	return len(v.Labels) == 2
}

func (v Variant) validate() error {
	if n := len(v.Labels); n != 1 && n != 2 {
		return fmt.Errorf("variant %q: need 1 or 2 slot labels, got %d", v.Name, n)
	}
	return nil
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}
