package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
)

// RebuildResult counts what Rebuild re-applied.
type RebuildResult struct {
	// Applied counts non-Revert messages, including reverted ones.
	Applied int
	// Reverts counts Revert records; Undone those that removed a target.
	Reverts int
	Undone  int
}

// Rebuild drops all derived state and re-folds every stored message,
// together with the messages reverts have archived.
//
// # Ordering
//
// Messages are applied in createdAt order, ties broken by hash:
//
//	ORDER BY createdAt ASC, hash ASC
//
// Where the incremental path is order-sensitive (the dedup entry for a
// repeated Like, first-write-wins chat meta) the result follows that order
// rather than arrival order.
//
// # Reverts
//
// An archived message is replayed from the reverted tables, and the Revert
// that removed it runs the same undo step it ran live, so the surviving
// duplicate of a reverted Like or Follow is not counted again. A target
// always takes effect before a Revert that names it. A target that is
// stored again after its revert is put back once the revert has run.
//
// # Crash Safety
//
// Rebuild is the recovery for the window between PutMessage and the
// message's effect. It must not run concurrently with Run or InsertMessage.
// If it is interrupted, running it again starts from ClearDerived.
func (e *Engine) Rebuild(ctx context.Context) (RebuildResult, error) {
	var res RebuildResult

	stored, err := e.store.Messages(ctx)
	if err != nil {
		return res, fmt.Errorf("rebuild: %w", err)
	}
	reverted, err := e.store.Reverted(ctx)
	if err != nil {
		return res, fmt.Errorf("rebuild: %w", err)
	}
	if err := e.store.ClearDerived(ctx); err != nil {
		return res, fmt.Errorf("rebuild: %w", err)
	}

	live := make(map[message.Hash]bool, len(stored))
	byHash := make(map[message.Hash]store.StoredMessage, len(stored)+len(reverted))
	for _, sm := range stored {
		live[sm.Hash] = true
		byHash[sm.Hash] = sm
	}
	e.pending = make(map[message.Hash]store.StoredMessage, len(reverted))
	defer func() { e.pending = nil }()
	for _, sm := range reverted {
		if live[sm.Hash] {
			continue
		}
		e.pending[sm.Hash] = sm
		byHash[sm.Hash] = sm
		stored = append(stored, sm)
	}

	slices.SortFunc(stored, func(a, b store.StoredMessage) int {
		ta := a.Message.MessageHeader().CreatedAt.UnixMilli()
		tb := b.Message.MessageHeader().CreatedAt.UnixMilli()
		if c := cmp.Compare(ta, tb); c != 0 {
			return c
		}
		return cmp.Compare(a.Hash, b.Hash)
	})

	done := make(map[message.Hash]bool, len(stored))
	applyOnce := func(sm store.StoredMessage) error {
		if done[sm.Hash] {
			return nil
		}
		done[sm.Hash] = true
		if _, err := e.apply(ctx, sm.Hash, sm.Message, sm.Proof); err != nil {
			return newStoreError(sm.Hash, "rebuild", err)
		}
		res.Applied++
		return nil
	}

	e.logger.Info("rebuild starting", "messages", len(live), "reverted", len(e.pending))
	for _, sm := range stored {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rv, ok := sm.Message.(*message.Revert)
		if !ok {
			if err := applyOnce(sm); err != nil {
				return res, err
			}
			continue
		}

		res.Reverts++
		ref := referenceHash(rv.Payload.Reference)
		if t, ok := byHash[ref]; ok && ownsTarget(rv, t.Message) {
			if err := applyOnce(t); err != nil {
				return res, err
			}
		}
		target, err := e.apply(ctx, sm.Hash, rv, sm.Proof)
		if err != nil {
			return res, newStoreError(sm.Hash, "rebuild", err)
		}
		if target == nil {
			continue
		}
		res.Undone++
		if live[ref] {
			// Reverted, then inserted again.
			if err := e.store.PutMessage(ctx, target, byHash[ref].Proof); err != nil {
				return res, newStoreError(ref, "rebuild", err)
			}
			if _, err := e.apply(ctx, ref, target, byHash[ref].Proof); err != nil {
				return res, newStoreError(ref, "rebuild", err)
			}
		}
	}
	e.logger.Info("rebuild complete", "applied", res.Applied, "reverts", res.Reverts, "undone", res.Undone)
	return res, nil
}

// ownsTarget reports whether rv can remove target, mirroring the checks in
// revert.
func ownsTarget(rv *message.Revert, target message.Message) bool {
	if _, ok := target.(*message.Revert); ok || rv.Anonymous() {
		return false
	}
	return target.MessageHeader().Creator == rv.Creator
}
