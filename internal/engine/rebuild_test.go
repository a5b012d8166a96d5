package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
	"github.com/roach88/zkfold/internal/testutil"
)

// viewSnapshot collects every read view the scenario touches.
type viewSnapshot struct {
	Posts       []string
	UserPosts   map[string][]string
	UserMsgs    map[string][]string
	UserMeta    map[string]store.UserMeta
	PostMeta    map[message.Hash]store.PostMeta
	Replies     map[message.Hash][]string
	Moderations map[message.Hash]int
	Connections map[string]int
	SavedECDH   map[string][]string
	ChatsByECDH map[string][]store.ChatMeta
	ECDHOwner   map[string]string
}

func takeSnapshot(t *testing.T, sc *scenario) viewSnapshot {
	t.Helper()
	ctx := context.Background()
	s := sc.s

	ids := func(ms []message.Message) []string {
		out := make([]string, 0, len(ms))
		for _, m := range ms {
			out = append(out, message.ID(m))
		}
		return out
	}
	postIDs := func(ps []*message.Post) []string {
		ms := make([]message.Message, 0, len(ps))
		for _, p := range ps {
			ms = append(ms, p)
		}
		return ids(ms)
	}

	snap := viewSnapshot{
		UserPosts:   map[string][]string{},
		UserMsgs:    map[string][]string{},
		UserMeta:    map[string]store.UserMeta{},
		PostMeta:    map[message.Hash]store.PostMeta{},
		Replies:     map[message.Hash][]string{},
		Moderations: map[message.Hash]int{},
		Connections: map[string]int{},
		SavedECDH:   map[string][]string{},
		ChatsByECDH: map[string][]store.ChatMeta{},
		ECDHOwner:   map[string]string{},
	}

	posts, err := s.Posts(ctx, 0, "")
	require.NoError(t, err)
	snap.Posts = postIDs(posts)

	for _, addr := range []string{"userA", "userB", "userC", "userD", "userE"} {
		up, err := s.UserPosts(ctx, addr, 0, "")
		require.NoError(t, err)
		snap.UserPosts[addr] = postIDs(up)

		um, err := s.MessagesByUser(ctx, addr, 0, "")
		require.NoError(t, err)
		snap.UserMsgs[addr] = ids(um)

		meta, err := s.UserMeta(ctx, addr)
		require.NoError(t, err)
		snap.UserMeta[addr] = meta

		conns, err := s.Connections(ctx, addr, 0, "")
		require.NoError(t, err)
		snap.Connections[addr] = len(conns)

		saved, err := s.ChatECDHByUser(ctx, addr)
		require.NoError(t, err)
		snap.SavedECDH[addr] = saved
	}

	for _, op := range []*message.Post{sc.opA, sc.opB} {
		h := message.MustHash(op)
		meta, err := s.PostMeta(ctx, h)
		require.NoError(t, err)
		snap.PostMeta[h] = meta

		replies, err := s.Replies(ctx, h, 0, "")
		require.NoError(t, err)
		snap.Replies[h] = postIDs(replies)

		mods, err := s.Moderations(ctx, h, 0, "")
		require.NoError(t, err)
		snap.Moderations[h] = len(mods)
	}

	for _, ecdh := range []string{"0x00", "0x01", "0x01a", "0x02", "0x03"} {
		chats, err := s.ChatsByECDH(ctx, ecdh)
		require.NoError(t, err)
		snap.ChatsByECDH[ecdh] = chats

		owner, err := s.UserByECDH(ctx, ecdh)
		require.NoError(t, err)
		snap.ECDHOwner[ecdh] = owner
	}
	return snap
}

func TestRebuild_ReproducesState(t *testing.T) {
	ctx := context.Background()
	sc := seedScenario(t)
	b := sc.b

	sc.insert(t, b.Revert("userB", sc.replyFromB))
	sc.insert(t, b.Revert("userB", sc.repostFromB))
	sc.insert(t, b.Revert("userB", sc.followB))
	sc.insert(t, b.Revert("userB", sc.likeB))
	sc.insert(t, b.Revert("userD", sc.blockD))
	sc.insert(t, b.Revert("userA", sc.groupProfile))
	sc.insert(t, b.Revert("userZ", sc.opA))

	before := takeSnapshot(t, sc)
	statsBefore, err := sc.s.Stats(ctx)
	require.NoError(t, err)

	res, err := sc.e.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Reverts)
	assert.Equal(t, 6, res.Undone, "the non-owner revert stays a no-op")

	after := takeSnapshot(t, sc)
	assert.Equal(t, before, after)

	stats, err := sc.s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, statsBefore, stats)
	assert.Equal(t, res.Applied+res.Reverts-res.Undone, stats.Messages)
}

func TestRebuild_RevertedDuplicates(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, nil)
	b := testutil.NewBuilder()
	sc := &scenario{e: e, s: s, b: b}

	sc.opA = b.Post("userA", "hello earth")
	sc.opB = b.Post("userB", "hello moon")
	likes := []*message.Moderation{
		b.Moderation("userB", message.ModerationLike, sc.opA),
		b.Moderation("userB", message.ModerationLike, sc.opA),
	}
	follows := []*message.Connection{
		b.Connection("userB", message.ConnectionFollow, "userA"),
		b.Connection("userB", message.ConnectionFollow, "userA"),
	}
	for _, m := range []message.Message{sc.opA, sc.opB, likes[0], likes[1], follows[0], follows[1]} {
		require.Equal(t, Inserted, insert(t, e, m))
	}
	sc.insert(t, b.Revert("userB", likes[0]))
	sc.insert(t, b.Revert("userB", follows[0]))

	counters := func() (int, int) {
		pm, err := s.PostMeta(ctx, message.MustHash(sc.opA))
		require.NoError(t, err)
		um, err := s.UserMeta(ctx, "userA")
		require.NoError(t, err)
		return pm.Like, um.Followers
	}

	like, followers := counters()
	assert.Equal(t, 0, like)
	assert.Equal(t, 0, followers)
	before := takeSnapshot(t, sc)

	res, err := e.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Applied)
	assert.Equal(t, 2, res.Undone)

	like, followers = counters()
	assert.Equal(t, 0, like, "the surviving duplicate Like is not counted again")
	assert.Equal(t, 0, followers, "the surviving duplicate Follow is not counted again")
	assert.Equal(t, before, takeSnapshot(t, sc))

	reverted, err := s.Reverted(ctx)
	require.NoError(t, err)
	assert.Len(t, reverted, 2)
	ok, err := s.HasMessage(ctx, message.MustHash(likes[0]))
	require.NoError(t, err)
	assert.False(t, ok, "rebuild leaves reverted messages archived")
}

func TestRebuild_RevertOlderThanTarget(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, nil)
	b := testutil.NewBuilder()

	post := b.Post("userA", "hello earth")
	like := b.Moderation("userB", message.ModerationLike, post)
	insert(t, e, post)
	insert(t, e, like)

	// A skewed clock stamps the revert before the Like it removes.
	rv := &message.Revert{
		Header:  message.Header{Creator: "userB", CreatedAt: testutil.Epoch},
		Payload: message.RevertPayload{Reference: message.ID(like)},
	}
	require.Equal(t, Inserted, insert(t, e, rv))

	_, err := e.Rebuild(ctx)
	require.NoError(t, err)

	pm, err := s.PostMeta(ctx, message.MustHash(post))
	require.NoError(t, err)
	assert.Equal(t, 0, pm.Like)
	mods, err := s.Moderations(ctx, message.MustHash(post), 0, "")
	require.NoError(t, err)
	assert.Empty(t, mods)
}

func TestRebuild_ReinsertedAfterRevert(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, nil)
	b := testutil.NewBuilder()

	post := b.Post("userA", "again")
	insert(t, e, post)
	insert(t, e, b.Revert("userA", post))
	require.Equal(t, Inserted, insert(t, e, post))

	_, err := e.Rebuild(ctx)
	require.NoError(t, err)

	ok, err := s.HasMessage(ctx, message.MustHash(post))
	require.NoError(t, err)
	assert.True(t, ok)
	posts, err := s.Posts(ctx, 0, "")
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	um, err := s.UserMeta(ctx, "userA")
	require.NoError(t, err)
	assert.Equal(t, 1, um.Posts)
}

func TestRebuild_Idempotent(t *testing.T) {
	ctx := context.Background()
	sc := seedScenario(t)

	_, err := sc.e.Rebuild(ctx)
	require.NoError(t, err)
	first := takeSnapshot(t, sc)

	_, err = sc.e.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, takeSnapshot(t, sc))
}

func TestRebuild_RepairsMissingEffects(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, nil)
	post := &message.Post{
		Header:  message.Header{Creator: "userA", CreatedAt: testutil.Epoch},
		Payload: message.PostPayload{Content: "stored, never indexed"},
	}

	// Simulates a crash between PutMessage and the effect.
	require.NoError(t, s.PutMessage(ctx, post, &message.SignatureProof{Signature: "sig"}))
	out, err := e.InsertMessage(ctx, post, &message.SignatureProof{Signature: "sig"})
	require.NoError(t, err)
	assert.Equal(t, AlreadyExisted, out)

	posts, err := s.Posts(ctx, 0, "")
	require.NoError(t, err)
	assert.Empty(t, posts)

	_, err = e.Rebuild(ctx)
	require.NoError(t, err)

	posts, err = s.Posts(ctx, 0, "")
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	meta, err := s.UserMeta(ctx, "userA")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Posts)
}
