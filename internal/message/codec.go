package message

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/zkfold/internal/canon"
)

var (
	// ErrUnknownType is returned when decoding a message with an unknown tag.
	ErrUnknownType = errors.New("unknown message type")

	// ErrUnknownSubtype is returned for a subtype not defined for its variant.
	ErrUnknownSubtype = errors.New("unknown message subtype")

	// ErrNonCanonical is returned by Decode when the input is valid JSON but
	// not in canonical form, so its hash would not match its bytes.
	ErrNonCanonical = errors.New("non-canonical message encoding")
)

// wireMessage is the decoded shape of the canonical form.
type wireMessage struct {
	Type      Type              `json:"type"`
	Subtype   string            `json:"subtype"`
	Creator   string            `json:"creator"`
	CreatedAt int64             `json:"createdAt"`
	Payload   map[string]string `json:"payload"`
}

// Encode returns the canonical bytes of m.
func Encode(m Message) ([]byte, error) {
	b, err := canon.Marshal(canonicalObject(m))
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.MessageType(), err)
	}
	return b, nil
}

// EncodeHex returns the hex form of Encode, as carried in transport envelopes.
func EncodeHex(m Message) (string, error) {
	b, err := Encode(m)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Decode parses canonical bytes back into a message.
// Decode(Encode(m)) equals m on every canonical field.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireMessage
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	m, err := build(w, true)
	if err != nil {
		return nil, err
	}

	again, err := Encode(m)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(again, data) {
		return nil, ErrNonCanonical
	}
	return m, nil
}

// DecodeHex decodes the hex transport form.
func DecodeHex(s string) (Message, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode message hex: %w", err)
	}
	return Decode(b)
}

// build constructs a variant from its generic shape. When strict is set,
// payload keys outside the variant's canonical field set are rejected.
func build(w wireMessage, strict bool) (Message, error) {
	sub, ok := knownSubtypes[w.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
	if !sub[w.Subtype] {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownSubtype, w.Type, w.Subtype)
	}

	hdr := Header{Creator: w.Creator, CreatedAt: time.UnixMilli(w.CreatedAt).UTC()}
	p := w.Payload
	if p == nil {
		p = map[string]string{}
	}

	var m Message
	switch w.Type {
	case TypePost:
		m = &Post{Header: hdr, Subtype: PostSubtype(w.Subtype), Payload: PostPayload{
			Topic:      p["topic"],
			Title:      p["title"],
			Content:    p["content"],
			Reference:  p["reference"],
			Attachment: p["attachment"],
		}}
	case TypeModeration:
		m = &Moderation{Header: hdr, Subtype: ModerationSubtype(w.Subtype), Payload: ModerationPayload{
			Reference: p["reference"],
		}}
	case TypeConnection:
		m = &Connection{Header: hdr, Subtype: ConnectionSubtype(w.Subtype), Payload: ConnectionPayload{
			Name: p["name"],
		}}
	case TypeProfile:
		m = &Profile{Header: hdr, Subtype: ProfileSubtype(w.Subtype), Payload: ProfilePayload{
			Key:   p["key"],
			Value: p["value"],
		}}
	case TypeChat:
		m = &Chat{Header: hdr, Subtype: ChatSubtype(w.Subtype), Payload: ChatPayload{
			EncryptedContent: p["encryptedContent"],
			ReceiverECDH:     p["receiverECDH"],
			SenderECDH:       p["senderECDH"],
			SenderSeed:       p["senderSeed"],
			Reference:        p["reference"],
		}}
	case TypeRevert:
		m = &Revert{Header: hdr, Payload: RevertPayload{Reference: p["reference"]}}
	}

	if strict {
		allowed := m.fields()
		for k := range p {
			if _, ok := allowed[k]; !ok {
				return nil, fmt.Errorf("decode %s message: unknown payload field %q", w.Type, k)
			}
		}
	}
	return m, nil
}
