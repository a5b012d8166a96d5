package validate

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/zkfold/internal/message"
)

// VerifySignature reports whether sigHex is an ASN.1 ECDSA P-256 signature
// over sha256(hash) by the key pubkeyHex (hex SEC1 uncompressed point).
// Malformed keys or signatures verify as false.
func VerifySignature(pubkeyHex string, hash message.Hash, sigHex string) bool {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false
	}
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), raw)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(hash))
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// Sign returns the hex signature VerifySignature accepts for hash.
func Sign(key *ecdsa.PrivateKey, hash message.Hash) (string, error) {
	digest := sha256.Sum256([]byte(hash))
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", hash, err)
	}
	return hex.EncodeToString(sig), nil
}

// PublicKeyHex encodes key's public half the way User.Pubkey stores it.
func PublicKeyHex(key *ecdsa.PrivateKey) (string, error) {
	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return "", fmt.Errorf("encode public key: %w", err)
	}
	return hex.EncodeToString(pub.Bytes()), nil
}
