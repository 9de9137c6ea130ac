// Package message implements the wire codec for chatnode gossip datagrams.
package message

import (
	"encoding/json"
	"strconv"
)

// Kind identifies the role a Message plays on the wire.
type Kind int

const (
	Chat Kind = iota
	AntiEntropyRequest
	AntiEntropyResponse
	Ack
)

// BroadcastSentinel is the canonical destination value this node emits for
// broadcast traffic. Both literal forms are accepted on decode.
const BroadcastSentinel = "broadcast"

const legacyBroadcastSentinel = "-1"

// IsBroadcast reports whether dest is either recognized broadcast form.
func IsBroadcast(dest string) bool {
	return dest == BroadcastSentinel || dest == legacyBroadcastSentinel
}

// Message is the flat record exchanged between nodes. Field names match the
// wire format exactly so encoding/json needs no custom tags beyond these.
type Message struct {
	ChatText       string         `json:"ChatText"`
	Origin         string         `json:"Origin"`
	Destination    string         `json:"Destination"`
	SequenceNumber int            `json:"SequenceNumber"`
	Type           Kind           `json:"Type"`
	VectorClock    map[string]int `json:"VectorClock"`
	MessageId      string         `json:"MessageId"`
}

// New builds a Message with a freshly derived MessageId.
func New(chatText, origin, destination string, seq int, kind Kind, clock map[string]int) Message {
	return Message{
		ChatText:       chatText,
		Origin:         origin,
		Destination:    destination,
		SequenceNumber: seq,
		Type:           kind,
		VectorClock:    clock,
		MessageId:      deriveID(origin, seq),
	}
}

func deriveID(origin string, seq int) string {
	return origin + "_" + strconv.Itoa(seq)
}

// IsValid reports whether m satisfies the invariants required of a chat
// message before it may be sequenced and stored: a non-empty origin and
// destination, and a strictly positive sequence number.
func (m Message) IsValid() bool {
	return m.Origin != "" && m.Destination != "" && m.SequenceNumber >= 1
}

// Encode produces the compact JSON wire form of m.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire datagram into a Message. The second return value is
// false when b cannot be unmarshalled into a Message (not well-formed JSON,
// or JSON whose shape or field types do not fit); a well-formed but semantically
// empty payload decodes with ok == true and a zero-valued Message that
// IsValid rejects. A missing MessageId is regenerated from Origin and
// SequenceNumber; a missing VectorClock decodes as an empty, non-nil map.
func Decode(b []byte) (Message, bool) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, false
	}
	if m.VectorClock == nil {
		m.VectorClock = make(map[string]int)
	}
	if m.MessageId == "" {
		m.MessageId = deriveID(m.Origin, m.SequenceNumber)
	}
	return m, true
}
