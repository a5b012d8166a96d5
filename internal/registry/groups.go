package registry

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/cometbft/cometbft/crypto/merkle"

	"github.com/roach88/zkfold/internal/store"
)

// Groups is the registry of Merkle-tree groups.
type Groups struct {
	store  *store.Store
	logger *slog.Logger
}

// NewGroups returns a group registry over s.
func NewGroups(s *store.Store, opts ...Option) *Groups {
	o := buildOptions(opts)
	return &Groups{store: s, logger: o.logger}
}

// InsertMember records m in group. It returns nil without writing when the
// id commitment is already a member. The member record, its index entry
// and the root lookup are written in one atomic batch.
func (g *Groups) InsertMember(ctx context.Context, group string, m store.GroupMember) (*store.GroupMember, error) {
	existing, err := g.store.Member(ctx, group, m.IDCommitment)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	if err := g.store.InsertMemberBatch(ctx, group, m); err != nil {
		return nil, err
	}

	g.logger.Debug("group member inserted",
		"group", group,
		"index", m.Index,
		"root", m.NewRoot,
	)
	return &m, nil
}

// Append adds idCommitment as the next leaf of group and records the
// resulting root. It returns nil if idCommitment is already a member.
func (g *Groups) Append(ctx context.Context, group, idCommitment string) (*store.GroupMember, error) {
	existing, err := g.store.Member(ctx, group, idCommitment)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	members, err := g.store.Members(ctx, group)
	if err != nil {
		return nil, err
	}

	leaves := leavesOf(members)
	leaves = append(leaves, []byte(idCommitment))

	return g.InsertMember(ctx, group, store.GroupMember{
		IDCommitment: idCommitment,
		Index:        uint64(len(members)),
		NewRoot:      hex.EncodeToString(merkle.HashFromByteSlices(leaves)),
	})
}

// ResolveRoot returns the group that has had root as a Merkle root. The
// hint is checked first; otherwise the first group recorded for root wins.
func (g *Groups) ResolveRoot(ctx context.Context, root, hint string) (string, bool, error) {
	if hint != "" {
		ok, err := g.store.GroupHasRoot(ctx, root, hint)
		if err != nil {
			return "", false, fmt.Errorf("resolve root: %w", err)
		}
		if ok {
			return hint, true, nil
		}
	}

	groups, err := g.store.GroupsByRoot(ctx, root)
	if err != nil {
		return "", false, err
	}
	if len(groups) == 0 {
		return "", false, nil
	}
	return groups[0], true, nil
}

// Members returns the members of group ordered by index.
func (g *Groups) Members(ctx context.Context, group string) ([]store.GroupMember, error) {
	return g.store.Members(ctx, group)
}

// Root returns the current root of group, or "" if it has no members.
func (g *Groups) Root(ctx context.Context, group string) (string, error) {
	last, err := g.store.LastMember(ctx, group)
	if err != nil || last == nil {
		return "", err
	}
	return last.NewRoot, nil
}

// MerklePath returns the inclusion proof of idCommitment in the current
// tree of group, together with that tree's hex root.
func (g *Groups) MerklePath(ctx context.Context, group, idCommitment string) (*merkle.Proof, string, error) {
	members, err := g.store.Members(ctx, group)
	if err != nil {
		return nil, "", err
	}

	for i, m := range members {
		if m.IDCommitment != idCommitment {
			continue
		}
		root, proofs := merkle.ProofsFromByteSlices(leavesOf(members))
		return proofs[i], hex.EncodeToString(root), nil
	}
	return nil, "", fmt.Errorf("merkle path: %s is not a member of %s", idCommitment, group)
}

func leavesOf(members []store.GroupMember) [][]byte {
	leaves := make([][]byte, 0, len(members)+1)
	for _, m := range members {
		leaves = append(leaves, []byte(m.IDCommitment))
	}
	return leaves
}
