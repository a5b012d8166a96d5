package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/zkfold/internal/kv"
	"github.com/roach88/zkfold/internal/message"
)

// PutMessage stores m and its proof under the message hash.
func (s *Store) PutMessage(ctx context.Context, m message.Message, proof message.Proof) error {
	hash, err := message.HashOf(m)
	if err != nil {
		return err
	}
	body, err := message.MarshalJSONMessage(m)
	if err != nil {
		return fmt.Errorf("put message %s: %w", hash, err)
	}
	ops := []kv.Op{kv.Put(partMessages, []byte(hash), body)}
	if proof != nil {
		p, err := message.MarshalProof(proof)
		if err != nil {
			return fmt.Errorf("put message %s: %w", hash, err)
		}
		ops = append(ops, kv.Put(partProofs, []byte(hash), p))
	}
	if err := s.kv.Batch(ctx, ops); err != nil {
		return fmt.Errorf("put message %s: %w", hash, err)
	}
	return nil
}

// ArchiveMessage moves a message and its proof out of the live tables and
// into the reverted tables, in one batch. Rebuild reads the reverted tables
// to replay the revert. Archiving an absent hash is a no-op.
func (s *Store) ArchiveMessage(ctx context.Context, hash message.Hash) error {
	key := []byte(hash)
	body, err := s.kv.Get(ctx, partMessages, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive message %s: %w", hash, err)
	}
	ops := []kv.Op{
		kv.Put(partReverted, key, body),
		kv.Delete(partMessages, key),
		kv.Delete(partProofs, key),
	}
	proof, err := s.kv.Get(ctx, partProofs, key)
	switch {
	case err == nil:
		ops = append(ops, kv.Put(partRevertedProofs, key, proof))
	case !errors.Is(err, kv.ErrNotFound):
		return fmt.Errorf("archive message %s: %w", hash, err)
	}
	if err := s.kv.Batch(ctx, ops); err != nil {
		return fmt.Errorf("archive message %s: %w", hash, err)
	}
	return nil
}

// AppendUserMessage adds m to its creator's message log.
func (s *Store) AppendUserMessage(ctx context.Context, m message.Message) error {
	return s.putDerived(ctx, partUserMessages(m.MessageHeader().Creator), SortKey(m), []byte(message.MustHash(m)))
}

func (s *Store) AppendPostlist(ctx context.Context, m message.Message) error {
	return s.kv.Put(ctx, partPostlist, SortKey(m), []byte(message.MustHash(m)))
}

func (s *Store) RemovePostlist(ctx context.Context, m message.Message) error {
	return s.kv.Delete(ctx, partPostlist, SortKey(m))
}

func (s *Store) AppendUserPosts(ctx context.Context, m message.Message) error {
	return s.putDerived(ctx, partUserPosts(m.MessageHeader().Creator), SortKey(m), []byte(message.MustHash(m)))
}

func (s *Store) RemoveUserPosts(ctx context.Context, m message.Message) error {
	return s.kv.Delete(ctx, partUserPosts(m.MessageHeader().Creator), SortKey(m))
}

func (s *Store) AppendGroupPosts(ctx context.Context, group string, m message.Message) error {
	return s.putDerived(ctx, partGroupPosts(group), SortKey(m), []byte(message.MustHash(m)))
}

func (s *Store) RemoveGroupPosts(ctx context.Context, group string, m message.Message) error {
	return s.kv.Delete(ctx, partGroupPosts(group), SortKey(m))
}

// AppendReply adds m to the thread of parent.
func (s *Store) AppendReply(ctx context.Context, parent message.Hash, m message.Message) error {
	return s.putDerived(ctx, partReplies(parent), SortKey(m), []byte(message.MustHash(m)))
}

func (s *Store) RemoveReply(ctx context.Context, parent message.Hash, m message.Message) error {
	return s.kv.Delete(ctx, partReplies(parent), SortKey(m))
}

// AppendRepost records m as a repost of target.
func (s *Store) AppendRepost(ctx context.Context, target message.Hash, m message.Message) error {
	return s.putDerived(ctx, partReposts(target), SortKey(m), []byte(message.MustHash(m)))
}

func (s *Store) RemoveRepost(ctx context.Context, target message.Hash, m message.Message) error {
	return s.kv.Delete(ctx, partReposts(target), SortKey(m))
}

// PutModeration records the dedup entry of a moderation on target.
func (s *Store) PutModeration(ctx context.Context, target message.Hash, dedupKey string, hash message.Hash) error {
	return s.putDerived(ctx, partModerations(target), []byte(dedupKey), []byte(hash))
}

func (s *Store) DeleteModeration(ctx context.Context, target message.Hash, dedupKey string) error {
	return s.kv.Delete(ctx, partModerations(target), []byte(dedupKey))
}

// PutConnection records the dedup entry of a connection to addr.
func (s *Store) PutConnection(ctx context.Context, addr, dedupKey string, hash message.Hash) error {
	return s.putDerived(ctx, partConnections(addr), []byte(dedupKey), []byte(hash))
}

func (s *Store) DeleteConnection(ctx context.Context, addr, dedupKey string) error {
	return s.kv.Delete(ctx, partConnections(addr), []byte(dedupKey))
}

// UpdatePostMeta applies fn to the PostMeta of hash and stores the result.
// A missing record starts from the zero value.
func (s *Store) UpdatePostMeta(ctx context.Context, hash message.Hash, fn func(*PostMeta)) error {
	var meta PostMeta
	if _, err := s.getJSON(ctx, partPostMeta, []byte(hash), &meta); err != nil {
		return fmt.Errorf("update post meta %s: %w", hash, err)
	}
	fn(&meta)
	if err := s.putJSON(ctx, partPostMeta, []byte(hash), meta); err != nil {
		return fmt.Errorf("update post meta %s: %w", hash, err)
	}
	return nil
}

// UpdateUserMeta applies fn to the UserMeta of addr and stores the result.
func (s *Store) UpdateUserMeta(ctx context.Context, addr string, fn func(*UserMeta)) error {
	var meta UserMeta
	if _, err := s.getJSON(ctx, partUserMeta, []byte(addr), &meta); err != nil {
		return fmt.Errorf("update user meta %s: %w", addr, err)
	}
	fn(&meta)
	if err := s.putJSON(ctx, partUserMeta, []byte(addr), meta); err != nil {
		return fmt.Errorf("update user meta %s: %w", addr, err)
	}
	return nil
}

// SetUserECDH maps an ECDH public key to the address that published it.
func (s *Store) SetUserECDH(ctx context.Context, ecdh, addr string) error {
	return s.kv.Put(ctx, partUserECDH, []byte(ecdh), []byte(addr))
}

func (s *Store) PutUser(ctx context.Context, u User) error {
	if err := s.putJSON(ctx, partUsers, []byte(u.Address), u); err != nil {
		return fmt.Errorf("put user %s: %w", u.Address, err)
	}
	return nil
}

// AppendChat adds m to the log of chatID.
func (s *Store) AppendChat(ctx context.Context, chatID string, m message.Message) error {
	return s.putDerived(ctx, partChat(chatID), SortKey(m), []byte(message.MustHash(m)))
}

// PutChatMetaIfAbsent stores meta under ecdh unless a record for the same
// chat already exists there. It reports whether it wrote.
func (s *Store) PutChatMetaIfAbsent(ctx context.Context, ecdh string, meta ChatMeta) (bool, error) {
	var existing ChatMeta
	found, err := s.getJSON(ctx, partChatMeta(ecdh), []byte(meta.ChatID), &existing)
	if err != nil {
		return false, fmt.Errorf("put chat meta: %w", err)
	}
	if found {
		return false, nil
	}
	if err := s.track(ctx, partChatMeta(ecdh)); err != nil {
		return false, err
	}
	if err := s.putJSON(ctx, partChatMeta(ecdh), []byte(meta.ChatID), meta); err != nil {
		return false, fmt.Errorf("put chat meta: %w", err)
	}
	return true, nil
}

// SaveChatECDH records that addr (an address or id commitment) uses ecdh.
func (s *Store) SaveChatECDH(ctx context.Context, addr, ecdh string) error {
	return s.putDerived(ctx, partSavedECDH(addr), []byte(ecdh), []byte(ecdh))
}

// InsertMemberBatch writes the member record, its index entry and the
// root lookup in one atomic batch.
func (s *Store) InsertMemberBatch(ctx context.Context, group string, m GroupMember) error {
	record, err := marshal(m)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	if err := s.kv.Batch(ctx, []kv.Op{
		kv.Put(partMembers(group), []byte(m.IDCommitment), record),
		kv.Put(partMemberList(group), kv.IndexKey(m.Index), []byte(m.IDCommitment)),
		kv.Put(partGroupRoots(m.NewRoot), []byte(group), []byte(group)),
	}); err != nil {
		return fmt.Errorf("insert member %s into %s: %w", m.IDCommitment, group, err)
	}
	return nil
}

func lastSyncKey(scope Scope, id string) []byte {
	return []byte(string(scope) + "_" + id)
}

// SetLastSync advances the checkpoint of (scope, id) to t.
func (s *Store) SetLastSync(ctx context.Context, scope Scope, id string, t time.Time) error {
	v := strconv.FormatInt(t.UnixMilli(), 10)
	if err := s.kv.Put(ctx, partLastSync, lastSyncKey(scope, id), []byte(v)); err != nil {
		return fmt.Errorf("set last sync %s %s: %w", scope, id, err)
	}
	return nil
}

func nullifierKey(epoch, nullifier string) []byte {
	return []byte(epoch + "_" + nullifier)
}

// PutNullifier records that (epoch, nullifier) was spent by hash.
func (s *Store) PutNullifier(ctx context.Context, epoch, nullifier string, hash message.Hash) error {
	return s.kv.Put(ctx, partNullifiers, nullifierKey(epoch, nullifier), []byte(hash))
}

const historyDownloadedKey = "historyDownloaded"

func historyKey(scope string) []byte {
	if scope == "" {
		return []byte(historyDownloadedKey)
	}
	return []byte(historyDownloadedKey + "/" + scope)
}

// SetHistoryDownloaded marks history for scope as fetched. An empty scope
// is the global flag.
func (s *Store) SetHistoryDownloaded(ctx context.Context, scope string, downloaded bool) error {
	return s.kv.Put(ctx, partApp, historyKey(scope), []byte(strconv.FormatBool(downloaded)))
}
