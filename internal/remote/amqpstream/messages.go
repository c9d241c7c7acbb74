package amqpstream

import (
	"encoding/json"
	"time"

	"orcamento/internal/remote"
)

// DeltaMessage is the wire form of one authoritative entity change.
type DeltaMessage struct {
	Envelope  remote.Envelope `json:"envelope"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewDeltaMessage stamps an envelope for publication.
func NewDeltaMessage(env remote.Envelope) *DeltaMessage {
	return &DeltaMessage{Envelope: env, Timestamp: time.Now()}
}

// ToJSON converts the message to JSON bytes.
func (m *DeltaMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DeltaMessageFromJSON parses a message from JSON bytes.
func DeltaMessageFromJSON(data []byte) (*DeltaMessage, error) {
	var msg DeltaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
