package pubsub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/zkfold/internal/message"
)

// Envelope is the transport unit: a hex-encoded canonical message, its
// tagged proof and the sender's timestamp in milliseconds.
type Envelope struct {
	Topic     string          `json:"topic,omitempty"`
	Data      string          `json:"data"`
	Proof     json.RawMessage `json:"proof"`
	Timestamp int64           `json:"timestamp"`
}

// Seal builds the envelope carrying msg on topic.
func Seal(topic string, msg message.Message, proof message.Proof, at time.Time) (Envelope, error) {
	data, err := message.EncodeHex(msg)
	if err != nil {
		return Envelope{}, err
	}
	p, err := message.MarshalProof(proof)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Topic:     topic,
		Data:      data,
		Proof:     p,
		Timestamp: at.UnixMilli(),
	}, nil
}

// Open decodes the message and proof. Non-canonical message bytes are
// rejected, so the hash of the result always matches Data.
func (e Envelope) Open() (message.Message, message.Proof, error) {
	msg, err := message.DecodeHex(e.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("open envelope: %w", err)
	}
	if len(e.Proof) == 0 {
		return nil, nil, fmt.Errorf("open envelope: missing proof")
	}
	proof, err := message.UnmarshalProof(e.Proof)
	if err != nil {
		return nil, nil, fmt.Errorf("open envelope: %w", err)
	}
	return msg, proof, nil
}

// Time returns the envelope timestamp.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// WithTopic returns a copy of e addressed to topic.
func (e Envelope) WithTopic(topic string) Envelope {
	e.Topic = topic
	return e
}
