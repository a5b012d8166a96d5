package registry

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cometbft/cometbft/crypto/merkle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zkfold/internal/kv"
	"github.com/roach88/zkfold/internal/kv/leveldbkv"
	"github.com/roach88/zkfold/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(leveldbkv.NewMem())
	t.Cleanup(func() { s.Close() })
	return s
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestUpsertUser_Comparator(t *testing.T) {
	ctx := context.Background()
	users := NewUsers(newTestStore(t), quiet())

	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	first := store.User{Address: "0xa", Pubkey: "pk1", JoinedAt: t0, OriginType: store.OriginRegistry}

	got, created, err := users.UpsertUser(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first, got)

	// Older record seen later: returned, but not stored.
	older := first
	older.Pubkey = "pk-older"
	older.JoinedAt = t0.Add(-time.Hour)
	got, created, err = users.UpsertUser(ctx, older)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, older, got, "the argument is returned regardless")

	stored, err := users.LookupUser(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "pk1", stored.Pubkey)

	// Tie: first call wins.
	tie := first
	tie.Pubkey = "pk-tie"
	_, _, err = users.UpsertUser(ctx, tie)
	require.NoError(t, err)
	stored, err = users.LookupUser(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "pk1", stored.Pubkey)

	// Strictly newer replaces.
	newer := first
	newer.Pubkey = "pk-newer"
	newer.JoinedAt = t0.Add(time.Hour)
	_, _, err = users.UpsertUser(ctx, newer)
	require.NoError(t, err)
	stored, err = users.LookupUser(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "pk-newer", stored.Pubkey)
}

func TestLookupUser_Unknown(t *testing.T) {
	users := NewUsers(newTestStore(t), quiet())
	u, err := users.LookupUser(context.Background(), "0xnone")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestInsertMember_Idempotent(t *testing.T) {
	ctx := context.Background()
	groups := NewGroups(newTestStore(t), quiet())

	m := store.GroupMember{IDCommitment: "id0", Index: 0, NewRoot: "root0"}
	got, err := groups.InsertMember(ctx, "g1", m)
	require.NoError(t, err)
	assert.Equal(t, &m, got)

	again, err := groups.InsertMember(ctx, "g1", store.GroupMember{IDCommitment: "id0", Index: 5, NewRoot: "other"})
	require.NoError(t, err)
	assert.Nil(t, again)

	members, err := groups.Members(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "root0", members[0].NewRoot)

	group, ok, err := groups.ResolveRoot(ctx, "other", "")
	require.NoError(t, err)
	assert.False(t, ok, "rejected insert wrote nothing")
	assert.Empty(t, group)
}

// failingBatch makes every batch end in an op the backend rejects.
type failingBatch struct {
	kv.Store
}

func (f failingBatch) Batch(ctx context.Context, ops []kv.Op) error {
	return f.Store.Batch(ctx, append(ops, kv.Op{Kind: 99, Partition: "members/g1", Key: []byte("bad")}))
}

func TestInsertMember_FailedBatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	backend := failingBatch{Store: leveldbkv.NewMem()}
	s := store.New(backend)
	t.Cleanup(func() { s.Close() })
	groups := NewGroups(s, quiet())

	got, err := groups.InsertMember(ctx, "g1", store.GroupMember{IDCommitment: "id0", Index: 0, NewRoot: "root0"})
	require.Error(t, err)
	assert.Nil(t, got)

	for _, p := range []kv.Partition{"members/g1", "memberlist/g1", "grouproots/root0"} {
		entries, err := backend.Scan(ctx, p, kv.ScanOptions{})
		require.NoError(t, err)
		assert.Empty(t, entries, p)
	}

	members, err := groups.Members(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, members)

	_, ok, err := groups.ResolveRoot(ctx, "root0", "g1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppend_ComputesMerkleRoots(t *testing.T) {
	ctx := context.Background()
	groups := NewGroups(newTestStore(t), quiet())

	for _, idc := range []string{"a", "b", "c"} {
		_, err := groups.Append(ctx, "g1", idc)
		require.NoError(t, err)
	}

	members, err := groups.Members(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	for i, m := range members {
		assert.Equal(t, uint64(i), m.Index)
	}

	want := hex.EncodeToString(merkle.HashFromByteSlices([][]byte{[]byte("a"), []byte("b"), []byte("c")}))
	assert.Equal(t, want, members[2].NewRoot)

	root, err := groups.Root(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, want, root)

	dup, err := groups.Append(ctx, "g1", "b")
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestResolveRoot_HintFirst(t *testing.T) {
	ctx := context.Background()
	groups := NewGroups(newTestStore(t), quiet())

	// Two groups share the same root.
	_, err := groups.InsertMember(ctx, "g-a", store.GroupMember{IDCommitment: "x", NewRoot: "shared"})
	require.NoError(t, err)
	_, err = groups.InsertMember(ctx, "g-b", store.GroupMember{IDCommitment: "x", NewRoot: "shared"})
	require.NoError(t, err)

	group, ok, err := groups.ResolveRoot(ctx, "shared", "g-b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "g-b", group)

	group, ok, err = groups.ResolveRoot(ctx, "shared", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "g-a", group, "first recorded group wins without a hint")

	group, ok, err = groups.ResolveRoot(ctx, "shared", "g-unknown")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "g-a", group, "a wrong hint falls back")

	_, ok, err = groups.ResolveRoot(ctx, "missing", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMerklePath_Verifies(t *testing.T) {
	ctx := context.Background()
	groups := NewGroups(newTestStore(t), quiet())

	for _, idc := range []string{"a", "b", "c", "d"} {
		_, err := groups.Append(ctx, "g1", idc)
		require.NoError(t, err)
	}

	proof, root, err := groups.MerklePath(ctx, "g1", "c")
	require.NoError(t, err)
	rootBytes, err := hex.DecodeString(root)
	require.NoError(t, err)
	assert.NoError(t, proof.Verify(rootBytes, []byte("c")))
	assert.Equal(t, int64(2), proof.Index)

	_, _, err = groups.MerklePath(ctx, "g1", "zz")
	assert.Error(t, err)
}

const snapshotYAML = `
users:
  - address: "0xa"
    pubkey: "04aa"
    joined_at: 2023-01-01T00:00:00Z
  - address: "0xb"
    pubkey: "04bb"
    joined_at: 2023-02-01T00:00:00Z
    tx: "0xtx"
groups:
  - id: zksocial_all
    members: [id1, id2, id1]
`

func TestImportSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	users := NewUsers(s, quiet())
	groups := NewGroups(s, quiet())

	snap, err := DecodeSnapshot(strings.NewReader(snapshotYAML))
	require.NoError(t, err)

	res, err := Import(ctx, snap, users, groups)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{UsersSeen: 2, UsersCreated: 2, MembersAdded: 2, MembersSkipped: 1}, res)

	u, err := users.LookupUser(ctx, "0xb")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, store.OriginSnapshot, u.OriginType)
	assert.Equal(t, "0xtx", u.Tx)

	res, err = Import(ctx, snap, users, groups)
	require.NoError(t, err)
	assert.Equal(t, 0, res.UsersCreated)
	assert.Equal(t, 3, res.MembersSkipped)
}

func TestDecodeSnapshot_RejectsUnknownFields(t *testing.T) {
	_, err := DecodeSnapshot(strings.NewReader("userz: []\n"))
	assert.Error(t, err)

	_, err = DecodeSnapshot(strings.NewReader("users:\n  - pubkey: x\n"))
	assert.ErrorContains(t, err, "address is required")
}
