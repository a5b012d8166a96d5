package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProofType tags the Proof union on the wire.
type ProofType string

const (
	ProofSignature ProofType = "signature"
	ProofRLN       ProofType = "rln"
)

// ErrUnknownProof is returned when decoding a proof with an unknown tag.
var ErrUnknownProof = errors.New("unknown proof type")

// Proof authenticates a message. It is either a *SignatureProof or a
// *GroupProof.
type Proof interface {
	ProofType() ProofType
	isProof()
}

// SignatureProof authenticates a message by its creator's registered key.
type SignatureProof struct {
	Signature string
}

func (*SignatureProof) ProofType() ProofType { return ProofSignature }
func (*SignatureProof) isProof() {}

// GroupProof authenticates a message by membership in a Merkle-tree-defined
// group, without revealing the member.
type GroupProof struct {
	// GroupID is an optional hint for resolving MerkleRoot.
	GroupID    string
	MerkleRoot string
	Epoch      string
	Nullifier  string
	SignalHash string

	// ZK is the opaque zero-knowledge proof, passed through to the verifier.
	ZK json.RawMessage
}

func (*GroupProof) ProofType() ProofType { return ProofRLN }
func (*GroupProof) isProof() {}

type publicSignals struct {
	MerkleRoot        string `json:"merkleRoot"`
	Epoch             string `json:"epoch,omitempty"`
	InternalNullifier string `json:"internalNullifier,omitempty"`
	SignalHash        string `json:"signalHash,omitempty"`
}

type fullProof struct {
	Proof         json.RawMessage `json:"proof,omitempty"`
	PublicSignals publicSignals   `json:"publicSignals"`
}

type proofJSON struct {
	Type      ProofType  `json:"type"`
	Signature string     `json:"signature,omitempty"`
	GroupID   string     `json:"groupId,omitempty"`
	Proof     *fullProof `json:"proof,omitempty"`
}

// MarshalProof encodes p in its tagged JSON form.
func MarshalProof(p Proof) ([]byte, error) {
	switch v := p.(type) {
	case *SignatureProof:
		return json.Marshal(proofJSON{Type: ProofSignature, Signature: v.Signature})
	case *GroupProof:
		return json.Marshal(proofJSON{
			Type:    ProofRLN,
			GroupID: v.GroupID,
			Proof: &fullProof{
				Proof: v.ZK,
				PublicSignals: publicSignals{
					MerkleRoot:        v.MerkleRoot,
					Epoch:             v.Epoch,
					InternalNullifier: v.Nullifier,
					SignalHash:        v.SignalHash,
				},
			},
		})
	case nil:
		return nil, fmt.Errorf("marshal proof: nil proof")
	default:
		return nil, fmt.Errorf("marshal proof: %w: %T", ErrUnknownProof, p)
	}
}

// UnmarshalProof decodes the tagged JSON form.
func UnmarshalProof(data []byte) (Proof, error) {
	var j proofJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal proof: %w", err)
	}

	switch j.Type {
	case ProofSignature:
		return &SignatureProof{Signature: j.Signature}, nil
	case ProofRLN:
		if j.Proof == nil {
			return nil, fmt.Errorf("unmarshal proof: rln proof without body")
		}
		return &GroupProof{
			GroupID:    j.GroupID,
			MerkleRoot: j.Proof.PublicSignals.MerkleRoot,
			Epoch:      j.Proof.PublicSignals.Epoch,
			Nullifier:  j.Proof.PublicSignals.InternalNullifier,
			SignalHash: j.Proof.PublicSignals.SignalHash,
			ZK:         j.Proof.Proof,
		}, nil
	default:
		return nil, fmt.Errorf("unmarshal proof: %w: %q", ErrUnknownProof, j.Type)
	}
}
