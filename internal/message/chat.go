package message

import (
	"github.com/roach88/zkfold/internal/canon"
)

// DeriveChatID returns the identifier of the direct chat between two ECDH
// public keys. The pair is unordered: DeriveChatID(a, b) == DeriveChatID(b, a).
func DeriveChatID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	h, err := canon.Hash(DomainChat, canon.Array{canon.String(a), canon.String(b)})
	if err != nil {
		// Two strings always canonicalize.
		panic(err)
	}
	return h
}
