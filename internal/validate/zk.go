package validate

import (
	"context"

	"github.com/roach88/zkfold/internal/message"
)

// ZKVerifier checks the zero-knowledge part of a group proof. group is the
// id the proof's Merkle root resolved to.
type ZKVerifier interface {
	VerifyProof(ctx context.Context, group string, proof *message.GroupProof) (bool, error)
}

// MembershipOnly accepts every proof whose root resolved to a known group
// and skips the SNARK check. For development networks and tests.
type MembershipOnly struct{}

func (MembershipOnly) VerifyProof(context.Context, string, *message.GroupProof) (bool, error) {
	return true, nil
}

// RejectGroupProofs refuses every group proof. It is the default when no
// verifier is configured.
type RejectGroupProofs struct{}

func (RejectGroupProofs) VerifyProof(context.Context, string, *message.GroupProof) (bool, error) {
	return false, nil
}
