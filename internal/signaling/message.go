package signaling

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// Message types exchanged on the call socket.
const (
	TypeJoin       = "join"
	TypeOffer      = "offer"
	TypeAnswer     = "answer"
	TypeICE        = "ice"
	TypeChat       = "chat"
	TypeAssigned   = "assigned"
	TypePeerJoined = "peer_joined"
	TypePeerLeft   = "peer_left"
)

// MaxChatLength is the number of characters kept from a chat message.
const MaxChatLength = 500

// Default identity of a peer that joins without naming itself.
const (
	DefaultName = "Participant"
	DefaultRole = RoleParticipant
)

// Roles a peer may announce. Anything else is treated as a participant.
const (
	RoleDoctor      = "doctor"
	RolePatient     = "patient"
	RoleSales       = "sales"
	RoleAdmin       = "admin"
	RoleParticipant = "participant"
)

// PeerInfo is the public identity of a peer as other members see it.
type PeerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// inbound is the union of every field a client may send. Relayed signaling
// payloads are handled as raw maps instead, so their contents pass through
// untouched.
type inbound struct {
	Type string  `json:"type"`
	Name *string `json:"name"`
	Role *string `json:"role"`
	To   string  `json:"to"`
	Text *string `json:"text"`
}

// AssignedMessage answers a join privately with the caller's id and the
// other members of the room.
type AssignedMessage struct {
	Type  string     `json:"type"`
	ID    string     `json:"id"`
	Peers []PeerInfo `json:"peers"`
}

type PeerJoinedMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type PeerLeftMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ChatMessage is a chat line as broadcast to the room.
type ChatMessage struct {
	Type string `json:"type"`
	From string `json:"from"`
	Name string `json:"name"`
	Role string `json:"role"`
	Text string `json:"text"`
	TS   string `json:"ts"`
}

// NormalizeRole maps a client-supplied role onto the known set, ignoring
// case and surrounding space.
func NormalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case RoleDoctor, RolePatient, RoleSales, RoleAdmin, RoleParticipant:
		return role
	default:
		return RoleParticipant
	}
}

// truncateChat keeps at most MaxChatLength characters of text.
func truncateChat(text string) string {
	if utf8.RuneCountInString(text) <= MaxChatLength {
		return text
	}
	r := []rune(text)
	return string(r[:MaxChatLength])
}

// timestamp formats t as a UTC ISO-8601 string with a trailing Z.
func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

// relayPayload rewrites a signaling payload for delivery: the target field
// is removed and the sender's id is stamped as "from". Every other field is
// forwarded as received.
func relayPayload(fields map[string]json.RawMessage, from string) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(fields)+1)
	for k, v := range fields {
		if k == "to" {
			continue
		}
		out[k] = v
	}
	id, err := json.Marshal(from)
	if err != nil {
		return nil, err
	}
	out["from"] = id
	return json.Marshal(out)
}
