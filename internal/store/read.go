package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/zkfold/internal/kv"
	"github.com/roach88/zkfold/internal/message"
)

// Message returns the message stored under hash, or nil if absent.
func (s *Store) Message(ctx context.Context, hash message.Hash) (message.Message, error) {
	data, err := s.kv.Get(ctx, partMessages, []byte(hash))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", hash, err)
	}
	m, err := message.UnmarshalJSONMessage(data)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", hash, err)
	}
	return m, nil
}

// HasMessage reports whether hash is stored.
func (s *Store) HasMessage(ctx context.Context, hash message.Hash) (bool, error) {
	_, err := s.kv.Get(ctx, partMessages, []byte(hash))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has message %s: %w", hash, err)
	}
	return true, nil
}

// Proof returns the proof stored with hash, or nil if absent.
func (s *Store) Proof(ctx context.Context, hash message.Hash) (message.Proof, error) {
	data, err := s.kv.Get(ctx, partProofs, []byte(hash))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proof %s: %w", hash, err)
	}
	p, err := message.UnmarshalProof(data)
	if err != nil {
		return nil, fmt.Errorf("get proof %s: %w", hash, err)
	}
	return p, nil
}

// Post returns the post stored under hash, or nil if absent or not a post.
func (s *Store) Post(ctx context.Context, hash message.Hash) (*message.Post, error) {
	m, err := s.Message(ctx, hash)
	if err != nil {
		return nil, err
	}
	p, _ := m.(*message.Post)
	return p, nil
}

// Messages returns every stored message with its proof, in hash order.
func (s *Store) Messages(ctx context.Context) ([]StoredMessage, error) {
	out, err := s.storedMessages(ctx, partMessages, partProofs)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// Reverted returns every message removed by a revert, with its proof, in
// hash order.
func (s *Store) Reverted(ctx context.Context) ([]StoredMessage, error) {
	out, err := s.storedMessages(ctx, partReverted, partRevertedProofs)
	if err != nil {
		return nil, fmt.Errorf("list reverted: %w", err)
	}
	return out, nil
}

func (s *Store) storedMessages(ctx context.Context, bodies, proofs kv.Partition) ([]StoredMessage, error) {
	entries, err := s.kv.Scan(ctx, bodies, kv.ScanOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]StoredMessage, 0, len(entries))
	for _, e := range entries {
		hash := message.Hash(e.Key)
		m, err := message.UnmarshalJSONMessage(e.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", hash, err)
		}
		sm := StoredMessage{Hash: hash, Message: m}
		data, err := s.kv.Get(ctx, proofs, e.Key)
		switch {
		case err == nil:
			if sm.Proof, err = message.UnmarshalProof(data); err != nil {
				return nil, fmt.Errorf("%s: %w", hash, err)
			}
		case !errors.Is(err, kv.ErrNotFound):
			return nil, fmt.Errorf("%s: %w", hash, err)
		}
		out = append(out, sm)
	}
	return out, nil
}

// PostMeta returns the counters of hash. A missing record is the zero value.
func (s *Store) PostMeta(ctx context.Context, hash message.Hash) (PostMeta, error) {
	var meta PostMeta
	if _, err := s.getJSON(ctx, partPostMeta, []byte(hash), &meta); err != nil {
		return PostMeta{}, fmt.Errorf("get post meta %s: %w", hash, err)
	}
	return meta, nil
}

// UserMeta returns the raw counters and pointers of addr.
func (s *Store) UserMeta(ctx context.Context, addr string) (UserMeta, error) {
	var meta UserMeta
	if _, err := s.getJSON(ctx, partUserMeta, []byte(addr), &meta); err != nil {
		return UserMeta{}, fmt.Errorf("get user meta %s: %w", addr, err)
	}
	return meta, nil
}

// ResolvedUserMeta returns UserMeta with each profile pointer replaced by
// the value of the profile message it points at. Group keeps the hash.
// Pointers whose message is gone resolve to "".
func (s *Store) ResolvedUserMeta(ctx context.Context, addr string) (UserMeta, error) {
	meta, err := s.UserMeta(ctx, addr)
	if err != nil {
		return UserMeta{}, err
	}
	for _, f := range ProfileFields {
		if f == FieldGroup {
			continue
		}
		ptr := meta.Pointer(f)
		if ptr == "" {
			continue
		}
		m, err := s.Message(ctx, message.Hash(ptr))
		if err != nil {
			return UserMeta{}, err
		}
		value := ""
		if p, ok := m.(*message.Profile); ok {
			value = p.Payload.Value
		}
		meta.SetPointer(f, value)
	}
	return meta, nil
}

// UserByECDH returns the address that published ecdh, or "".
func (s *Store) UserByECDH(ctx context.Context, ecdh string) (string, error) {
	addr, _, err := s.getString(ctx, partUserECDH, []byte(ecdh))
	if err != nil {
		return "", fmt.Errorf("user by ecdh: %w", err)
	}
	return addr, nil
}

// User returns the registered user at addr, or nil.
func (s *Store) User(ctx context.Context, addr string) (*User, error) {
	var u User
	found, err := s.getJSON(ctx, partUsers, []byte(addr), &u)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", addr, err)
	}
	if !found {
		return nil, nil
	}
	return &u, nil
}

// Users lists users in address order, starting strictly after gt.
func (s *Store) Users(ctx context.Context, limit int, gt string) ([]User, error) {
	opts := kv.ScanOptions{Limit: limit}
	if gt != "" {
		opts.GT = []byte(gt)
	}
	entries, err := s.kv.Scan(ctx, partUsers, opts)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]User, 0, len(entries))
	for _, e := range entries {
		var u User
		if err := unmarshal(e.Value, &u); err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, u)
	}
	return users, nil
}

// ModerationEntry returns the hash recorded under dedupKey for target.
func (s *Store) ModerationEntry(ctx context.Context, target message.Hash, dedupKey string) (message.Hash, bool, error) {
	v, ok, err := s.getString(ctx, partModerations(target), []byte(dedupKey))
	return message.Hash(v), ok, err
}

// ConnectionEntry returns the hash recorded under dedupKey for addr.
func (s *Store) ConnectionEntry(ctx context.Context, addr, dedupKey string) (message.Hash, bool, error) {
	v, ok, err := s.getString(ctx, partConnections(addr), []byte(dedupKey))
	return message.Hash(v), ok, err
}

// offsetBound returns the scan bound that resumes strictly below offset.
// An unknown offset leaves the scan unbounded.
func (s *Store) offsetBound(ctx context.Context, offset message.Hash) ([]byte, error) {
	if offset == "" {
		return nil, nil
	}
	m, err := s.Message(ctx, offset)
	if err != nil || m == nil {
		return nil, err
	}
	return SortKey(m), nil
}

// hashes scans a list partition and returns its values.
func (s *Store) hashes(ctx context.Context, p kv.Partition, opts kv.ScanOptions) ([]message.Hash, error) {
	entries, err := s.kv.Scan(ctx, p, opts)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p, err)
	}
	out := make([]message.Hash, 0, len(entries))
	for _, e := range entries {
		out = append(out, message.Hash(e.Value))
	}
	return out, nil
}

// newest returns up to limit hashes of p, newest first, below offset.
func (s *Store) newest(ctx context.Context, p kv.Partition, limit int, offset message.Hash) ([]message.Hash, error) {
	lt, err := s.offsetBound(ctx, offset)
	if err != nil {
		return nil, err
	}
	return s.hashes(ctx, p, kv.ScanOptions{Reverse: true, Limit: limit, LT: lt})
}

// load resolves hashes to messages of type T, skipping any that are gone.
func load[T message.Message](ctx context.Context, s *Store, hashes []message.Hash) ([]T, error) {
	out := make([]T, 0, len(hashes))
	for _, h := range hashes {
		m, err := s.Message(ctx, h)
		if err != nil {
			return nil, err
		}
		if t, ok := m.(T); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// Posts returns the global post list, newest first.
func (s *Store) Posts(ctx context.Context, limit int, offset message.Hash) ([]*message.Post, error) {
	hashes, err := s.newest(ctx, partPostlist, limit, offset)
	if err != nil {
		return nil, err
	}
	return load[*message.Post](ctx, s, hashes)
}

// UserPosts returns the posts of addr, newest first.
func (s *Store) UserPosts(ctx context.Context, addr string, limit int, offset message.Hash) ([]*message.Post, error) {
	hashes, err := s.newest(ctx, partUserPosts(addr), limit, offset)
	if err != nil {
		return nil, err
	}
	return load[*message.Post](ctx, s, hashes)
}

// GroupPosts returns the anonymous posts of group, newest first.
func (s *Store) GroupPosts(ctx context.Context, group string, limit int, offset message.Hash) ([]*message.Post, error) {
	hashes, err := s.newest(ctx, partGroupPosts(group), limit, offset)
	if err != nil {
		return nil, err
	}
	return load[*message.Post](ctx, s, hashes)
}

// Replies returns the replies to hash, newest first.
func (s *Store) Replies(ctx context.Context, hash message.Hash, limit int, offset message.Hash) ([]*message.Post, error) {
	hashes, err := s.newest(ctx, partReplies(hash), limit, offset)
	if err != nil {
		return nil, err
	}
	return load[*message.Post](ctx, s, hashes)
}

// Reposts returns the message ids of reposts of hash, oldest first,
// starting after the repost offset.
func (s *Store) Reposts(ctx context.Context, hash message.Hash, limit int, offset message.Hash) ([]string, error) {
	gt, err := s.offsetBound(ctx, offset)
	if err != nil {
		return nil, err
	}
	hashes, err := s.hashes(ctx, partReposts(hash), kv.ScanOptions{Limit: limit, GT: gt})
	if err != nil {
		return nil, err
	}
	posts, err := load[*message.Post](ctx, s, hashes)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, message.ID(p))
	}
	return ids, nil
}

// Moderations returns the moderations recorded on hash in dedup key order,
// starting after the dedup key after.
func (s *Store) Moderations(ctx context.Context, hash message.Hash, limit int, after string) ([]*message.Moderation, error) {
	opts := kv.ScanOptions{Limit: limit}
	if after != "" {
		opts.GT = []byte(after)
	}
	hashes, err := s.hashes(ctx, partModerations(hash), opts)
	if err != nil {
		return nil, err
	}
	return load[*message.Moderation](ctx, s, hashes)
}

// Connections returns the connections targeting addr in dedup key order.
func (s *Store) Connections(ctx context.Context, addr string, limit int, after string) ([]*message.Connection, error) {
	opts := kv.ScanOptions{Limit: limit}
	if after != "" {
		opts.GT = []byte(after)
	}
	hashes, err := s.hashes(ctx, partConnections(addr), opts)
	if err != nil {
		return nil, err
	}
	return load[*message.Connection](ctx, s, hashes)
}

// MessagesByUser returns the signed messages of addr, newest first.
func (s *Store) MessagesByUser(ctx context.Context, addr string, limit int, offset message.Hash) ([]message.Message, error) {
	hashes, err := s.newest(ctx, partUserMessages(addr), limit, offset)
	if err != nil {
		return nil, err
	}
	return load[message.Message](ctx, s, hashes)
}

// Followings returns the addresses addr follows, from its message log.
func (s *Store) Followings(ctx context.Context, addr string) ([]string, error) {
	msgs, err := s.MessagesByUser(ctx, addr, 0, "")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range msgs {
		if c, ok := m.(*message.Connection); ok && c.Subtype == message.ConnectionFollow {
			out = append(out, c.Payload.Name)
		}
	}
	return out, nil
}

// HomeFeed walks the global post list newest first and keeps posts that
// pass filter. Posts with a creator match by address, anonymous posts by
// group. limit <= 0 means no limit.
func (s *Store) HomeFeed(ctx context.Context, filter Filter, limit int, offset message.Hash) ([]*message.Post, error) {
	const page = 100

	lt, err := s.offsetBound(ctx, offset)
	if err != nil {
		return nil, err
	}

	var out []*message.Post
	for {
		entries, err := s.kv.Scan(ctx, partPostlist, kv.ScanOptions{Reverse: true, Limit: page, LT: lt})
		if err != nil {
			return nil, fmt.Errorf("home feed: %w", err)
		}
		for _, e := range entries {
			p, err := s.Post(ctx, message.Hash(e.Value))
			if err != nil {
				return nil, err
			}
			if p == nil {
				continue
			}
			ok, err := s.feedMatch(ctx, filter, p)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			out = append(out, p)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if len(entries) < page {
			return out, nil
		}
		lt = entries[len(entries)-1].Key
	}
}

func (s *Store) feedMatch(ctx context.Context, filter Filter, p *message.Post) (bool, error) {
	if !p.Anonymous() {
		return filter.has(p.Creator), nil
	}
	meta, err := s.PostMeta(ctx, message.MustHash(p))
	if err != nil {
		return false, err
	}
	return filter.has(meta.GroupID), nil
}

// ChatECDHByUser returns the ECDH keys addr has chatted with.
func (s *Store) ChatECDHByUser(ctx context.Context, addr string) ([]string, error) {
	entries, err := s.kv.Scan(ctx, partSavedECDH(addr), kv.ScanOptions{})
	if err != nil {
		return nil, fmt.Errorf("chat ecdh by user: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, string(e.Value))
	}
	return out, nil
}

// ChatsByECDH returns every ChatMeta recorded under ecdh.
func (s *Store) ChatsByECDH(ctx context.Context, ecdh string) ([]ChatMeta, error) {
	entries, err := s.kv.Scan(ctx, partChatMeta(ecdh), kv.ScanOptions{})
	if err != nil {
		return nil, fmt.Errorf("chats by ecdh: %w", err)
	}
	out := make([]ChatMeta, 0, len(entries))
	for _, e := range entries {
		var meta ChatMeta
		if err := unmarshal(e.Value, &meta); err != nil {
			return nil, fmt.Errorf("chats by ecdh: %w", err)
		}
		out = append(out, meta)
	}
	return out, nil
}

// ChatMeta returns the meta of chatID as seen from ecdh, or nil.
func (s *Store) ChatMeta(ctx context.Context, ecdh, chatID string) (*ChatMeta, error) {
	var meta ChatMeta
	found, err := s.getJSON(ctx, partChatMeta(ecdh), []byte(chatID), &meta)
	if err != nil {
		return nil, fmt.Errorf("get chat meta: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &meta, nil
}

// ChatMessages returns the messages of chatID, newest first.
func (s *Store) ChatMessages(ctx context.Context, chatID string, limit int, offset message.Hash) ([]*message.Chat, error) {
	hashes, err := s.newest(ctx, partChat(chatID), limit, offset)
	if err != nil {
		return nil, err
	}
	return load[*message.Chat](ctx, s, hashes)
}

// Member returns the member of group with idCommitment, or nil.
func (s *Store) Member(ctx context.Context, group, idCommitment string) (*GroupMember, error) {
	var m GroupMember
	found, err := s.getJSON(ctx, partMembers(group), []byte(idCommitment), &m)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &m, nil
}

// Members returns the members of group ordered by index.
func (s *Store) Members(ctx context.Context, group string) ([]GroupMember, error) {
	entries, err := s.kv.Scan(ctx, partMemberList(group), kv.ScanOptions{})
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", group, err)
	}
	out := make([]GroupMember, 0, len(entries))
	for _, e := range entries {
		m, err := s.Member(ctx, group, string(e.Value))
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// LastMember returns the member with the highest index, or nil.
func (s *Store) LastMember(ctx context.Context, group string) (*GroupMember, error) {
	entries, err := s.kv.Scan(ctx, partMemberList(group), kv.ScanOptions{Reverse: true, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("last member of %s: %w", group, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return s.Member(ctx, group, string(entries[0].Value))
}

// GroupsByRoot returns the group ids that have had root as a Merkle root.
func (s *Store) GroupsByRoot(ctx context.Context, root string) ([]string, error) {
	entries, err := s.kv.Scan(ctx, partGroupRoots(root), kv.ScanOptions{})
	if err != nil {
		return nil, fmt.Errorf("groups by root: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, string(e.Value))
	}
	return out, nil
}

// GroupHasRoot reports whether group has had root as a Merkle root.
func (s *Store) GroupHasRoot(ctx context.Context, root, group string) (bool, error) {
	_, ok, err := s.getString(ctx, partGroupRoots(root), []byte(group))
	return ok, err
}

// LastSync returns the checkpoint of (scope, id), or the zero time.
func (s *Store) LastSync(ctx context.Context, scope Scope, id string) (time.Time, error) {
	v, ok, err := s.getString(ctx, partLastSync, lastSyncKey(scope, id))
	if err != nil || !ok {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last sync %s %s: %w", scope, id, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Nullifier returns the message hash that spent (epoch, nullifier).
func (s *Store) Nullifier(ctx context.Context, epoch, nullifier string) (message.Hash, bool, error) {
	v, ok, err := s.getString(ctx, partNullifiers, nullifierKey(epoch, nullifier))
	return message.Hash(v), ok, err
}

// HistoryDownloaded reports whether history for scope, or the global
// history, has been fetched.
func (s *Store) HistoryDownloaded(ctx context.Context, scope string) (bool, error) {
	keys := [][]byte{historyKey("")}
	if scope != "" {
		keys = append(keys, historyKey(scope))
	}
	for _, k := range keys {
		v, ok, err := s.getString(ctx, partApp, k)
		if err != nil {
			return false, err
		}
		if ok && v == "true" {
			return true, nil
		}
	}
	return false, nil
}

// Stats counts messages by type, users and posts in the global list.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByType: map[message.Type]int{}}

	msgs, err := s.kv.Scan(ctx, partMessages, kv.ScanOptions{})
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	st.Messages = len(msgs)
	for _, e := range msgs {
		var head struct {
			Type message.Type `json:"type"`
		}
		if err := json.Unmarshal(e.Value, &head); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
		st.ByType[head.Type]++
	}

	users, err := s.kv.Scan(ctx, partUsers, kv.ScanOptions{})
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	st.Users = len(users)

	posts, err := s.kv.Scan(ctx, partPostlist, kv.ScanOptions{})
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	st.Posts = len(posts)
	return st, nil
}
