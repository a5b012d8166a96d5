package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/zkfold/internal/kv"
	"github.com/roach88/zkfold/internal/message"
)

// Static partitions.
const (
	partMessages   kv.Partition = "messages"
	partProofs     kv.Partition = "proofs"
	partPostlist   kv.Partition = "postlist"
	partPostMeta   kv.Partition = "postmeta"
	partUserMeta   kv.Partition = "usermeta"
	partUsers      kv.Partition = "users"
	partUserECDH   kv.Partition = "userecdh"
	partLastSync   kv.Partition = "lastsync"
	partNullifiers kv.Partition = "nullifiers"
	partApp        kv.Partition = "app"
	partDerived    kv.Partition = "derived"

	partReverted       kv.Partition = "reverted"
	partRevertedProofs kv.Partition = "revertedproofs"
)

func partUserMessages(addr string) kv.Partition { return kv.Partition("usermsgs/" + addr) }
func partUserPosts(addr string) kv.Partition    { return kv.Partition("userposts/" + addr) }
func partGroupPosts(group string) kv.Partition  { return kv.Partition("groupposts/" + group) }
func partReplies(hash message.Hash) kv.Partition {
	return kv.Partition("replies/" + string(hash))
}
func partReposts(hash message.Hash) kv.Partition {
	return kv.Partition("reposts/" + string(hash))
}
func partModerations(hash message.Hash) kv.Partition {
	return kv.Partition("moderations/" + string(hash))
}
func partConnections(addr string) kv.Partition { return kv.Partition("connections/" + addr) }
func partChat(chatID string) kv.Partition      { return kv.Partition("chat/" + chatID) }
func partChatMeta(ecdh string) kv.Partition    { return kv.Partition("chatmeta/" + ecdh) }
func partSavedECDH(addr string) kv.Partition   { return kv.Partition("savedecdh/" + addr) }
func partMembers(group string) kv.Partition    { return kv.Partition("members/" + group) }
func partMemberList(group string) kv.Partition { return kv.Partition("memberlist/" + group) }
func partGroupRoots(root string) kv.Partition  { return kv.Partition("grouproots/" + root) }

// staticDerived are the fixed partitions ClearDerived empties.
var staticDerived = []kv.Partition{partPostlist, partPostMeta, partUserMeta, partUserECDH}

// Store is the typed view over a kv.Store.
type Store struct {
	kv kv.Store

	// tracked caches derived partitions already recorded in partDerived.
	tracked sync.Map
}

// New wraps backend. The Store takes ownership; Close closes backend.
func New(backend kv.Store) *Store {
	return &Store{kv: backend}
}

// KV returns the underlying backend.
func (s *Store) KV() kv.Store {
	return s.kv
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

// SortKey returns the chronological list key of m.
func SortKey(m message.Message) []byte {
	h := m.MessageHeader()
	disambiguator := h.Creator
	if disambiguator == "" {
		disambiguator = string(message.MustHash(m))
	}
	return kv.SortKey(h.CreatedAt, disambiguator)
}

// track records a dynamic derived partition so ClearDerived can find it.
func (s *Store) track(ctx context.Context, p kv.Partition) error {
	if _, ok := s.tracked.Load(p); ok {
		return nil
	}
	if err := s.kv.Put(ctx, partDerived, []byte(p), nil); err != nil {
		return fmt.Errorf("track partition %s: %w", p, err)
	}
	s.tracked.Store(p, struct{}{})
	return nil
}

// putDerived writes into a dynamic derived partition.
func (s *Store) putDerived(ctx context.Context, p kv.Partition, key, value []byte) error {
	if err := s.track(ctx, p); err != nil {
		return err
	}
	return s.kv.Put(ctx, p, key, value)
}

// ClearDerived deletes every derived table. Messages, proofs, reverted
// messages, users, the group registry, checkpoints, nullifiers and app
// flags are kept.
func (s *Store) ClearDerived(ctx context.Context) error {
	entries, err := s.kv.Scan(ctx, partDerived, kv.ScanOptions{})
	if err != nil {
		return fmt.Errorf("clear derived: %w", err)
	}

	parts := append([]kv.Partition{}, staticDerived...)
	for _, e := range entries {
		parts = append(parts, kv.Partition(e.Key))
	}
	parts = append(parts, partDerived)

	for _, p := range parts {
		if err := s.clearPartition(ctx, p); err != nil {
			return fmt.Errorf("clear derived: %w", err)
		}
	}
	s.tracked.Clear()
	return nil
}

func (s *Store) clearPartition(ctx context.Context, p kv.Partition) error {
	entries, err := s.kv.Scan(ctx, p, kv.ScanOptions{})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	ops := make([]kv.Op, 0, len(entries))
	for _, e := range entries {
		ops = append(ops, kv.Delete(p, e.Key))
	}
	return s.kv.Batch(ctx, ops)
}

// getJSON decodes the value at key into v. It reports false when absent.
func (s *Store) getJSON(ctx context.Context, p kv.Partition, key []byte, v any) (bool, error) {
	data, err := s.kv.Get(ctx, p, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s record: %w", p, err)
	}
	return true, nil
}

func (s *Store) putJSON(ctx context.Context, p kv.Partition, key []byte, v any) error {
	data, err := marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", p, err)
	}
	return s.kv.Put(ctx, p, key, data)
}

// getString returns the value at key, or "" and false when absent.
func (s *Store) getString(ctx context.Context, p kv.Partition, key []byte) (string, bool, error) {
	data, err := s.kv.Get(ctx, p, key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}
