package message

import (
	"encoding/json"
	"fmt"
)

// JSON is the structured form of a message. It adds the derived hash and
// messageId, and for Chat it may carry the local plaintext under
// payload.content.
type JSON struct {
	Type      Type              `json:"type"`
	Subtype   string            `json:"subtype"`
	Creator   string            `json:"creator"`
	CreatedAt int64             `json:"createdAt"`
	Payload   map[string]string `json:"payload"`
	Hash      Hash              `json:"hash"`
	MessageID string            `json:"messageId"`
}

// ToJSON returns the structured form of m.
func ToJSON(m Message) (JSON, error) {
	hash, err := HashOf(m)
	if err != nil {
		return JSON{}, err
	}
	h := m.MessageHeader()
	payload := m.fields()
	if c, ok := m.(*Chat); ok && c.Payload.Content != "" {
		payload["content"] = c.Payload.Content
	}
	return JSON{
		Type:      m.MessageType(),
		Subtype:   m.MessageSubtype(),
		Creator:   h.Creator,
		CreatedAt: h.CreatedAt.UnixMilli(),
		Payload:   payload,
		Hash:      hash,
		MessageID: FormatID(h.Creator, hash),
	}, nil
}

// FromJSON rebuilds a message from its structured form. Missing payload
// fields default to empty. Derived fields are recomputed, not trusted: if
// the document carries a hash that does not match its content, FromJSON
// fails.
func FromJSON(j JSON) (Message, error) {
	payload := make(map[string]string, len(j.Payload))
	var content string
	for k, v := range j.Payload {
		if k == "content" && j.Type == TypeChat {
			content = v
			continue
		}
		payload[k] = v
	}

	m, err := build(wireMessage{
		Type:      j.Type,
		Subtype:   j.Subtype,
		Creator:   j.Creator,
		CreatedAt: j.CreatedAt,
		Payload:   payload,
	}, false)
	if err != nil {
		return nil, err
	}
	if c, ok := m.(*Chat); ok {
		c.Payload.Content = content
	}

	if j.Hash != "" {
		if got := MustHash(m); got != j.Hash {
			return nil, fmt.Errorf("message hash mismatch: have %s, computed %s", j.Hash, got)
		}
	}
	return m, nil
}

// MarshalJSONMessage encodes the structured form of m.
func MarshalJSONMessage(m Message) ([]byte, error) {
	j, err := ToJSON(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// UnmarshalJSONMessage decodes a structured form produced by MarshalJSONMessage.
func UnmarshalJSONMessage(data []byte) (Message, error) {
	var j JSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return FromJSON(j)
}
