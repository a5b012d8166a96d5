package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/zkfold/internal/canon"
)

// Domain prefixes for content-addressed identity.
const (
	DomainMessage = "zkfold/message/v1"
	DomainChat    = "zkfold/chat/v1"
)

// Hash is the hex-encoded content hash of a message.
type Hash string

func (h Hash) String() string { return string(h) }

// ErrInvalidID is returned by ParseID for malformed message ids.
var ErrInvalidID = errors.New("invalid message id")

// HashOf computes the content hash of m.
func HashOf(m Message) (Hash, error) {
	h, err := canon.Hash(DomainMessage, canonicalObject(m))
	if err != nil {
		return "", fmt.Errorf("hash %s message: %w", m.MessageType(), err)
	}
	return Hash(h), nil
}

// MustHash is like HashOf but panics on error.
// Messages built from this package's types always canonicalize, so this
// only fails on programmer error.
func MustHash(m Message) Hash {
	h, err := HashOf(m)
	if err != nil {
		panic(err)
	}
	return h
}

// ID returns the message id: "<creator>/<hash>", or the bare hash when the
// message is anonymous.
func ID(m Message) string {
	return FormatID(m.MessageHeader().Creator, MustHash(m))
}

// FormatID builds a message id from its parts.
func FormatID(creator string, hash Hash) string {
	if creator == "" {
		return string(hash)
	}
	return creator + "/" + string(hash)
}

// ParseID splits a message id into creator and hash.
// ParseID(FormatID(c, h)) returns exactly (c, h).
func ParseID(id string) (creator string, hash Hash, err error) {
	i := strings.LastIndexByte(id, '/')
	if i < 0 {
		if id == "" {
			return "", "", ErrInvalidID
		}
		return "", Hash(id), nil
	}
	creator, rest := id[:i], id[i+1:]
	if creator == "" || rest == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return creator, Hash(rest), nil
}

// DedupKey is the per-target key used to collapse repeated likes, blocks,
// follows and similar actions: subtype + "_" + creator, or the message hash
// for anonymous senders.
func DedupKey(m Message) string {
	h := m.MessageHeader()
	if h.Creator == "" {
		return string(MustHash(m))
	}
	return m.MessageSubtype() + "_" + h.Creator
}
