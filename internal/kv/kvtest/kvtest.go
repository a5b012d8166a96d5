// Package kvtest is the conformance suite every kv.Store backend runs.
package kvtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zkfold/internal/kv"
)

// Factory opens a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) kv.Store

// Run executes the contract against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open) })
	t.Run("PutGetOverwrite", func(t *testing.T) { testPutGetOverwrite(t, open) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDeleteIdempotent(t, open) })
	t.Run("PartitionIsolation", func(t *testing.T) { testPartitionIsolation(t, open) })
	t.Run("ScanOrder", func(t *testing.T) { testScanOrder(t, open) })
	t.Run("ScanBounds", func(t *testing.T) { testScanBounds(t, open) })
	t.Run("ScanEmpty", func(t *testing.T) { testScanEmpty(t, open) })
	t.Run("BatchApplies", func(t *testing.T) { testBatch(t, open) })
	t.Run("BatchAllOrNothing", func(t *testing.T) { testBatchRollback(t, open) })
	t.Run("BinaryKeys", func(t *testing.T) { testBinaryKeys(t, open) })
}

func mustOpen(t *testing.T, open Factory) kv.Store {
	t.Helper()
	s := open(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fill(t *testing.T, s kv.Store, p kv.Partition, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, s.Put(context.Background(), p, []byte(k), []byte("v-"+k)))
	}
}

func keysOf(entries []kv.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, string(e.Key))
	}
	return out
}

func testGetMissing(t *testing.T, open Factory) {
	s := mustOpen(t, open)
	_, err := s.Get(context.Background(), "p", []byte("nope"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testPutGetOverwrite(t *testing.T, open Factory) {
	s := mustOpen(t, open)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "p", []byte("k"), []byte("one")))
	require.NoError(t, s.Put(ctx, "p", []byte("k"), []byte("two")))

	v, err := s.Get(ctx, "p", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(v))
}

func testDeleteIdempotent(t *testing.T, open Factory) {
	s := mustOpen(t, open)
	ctx := context.Background()

	fill(t, s, "p", "k")
	require.NoError(t, s.Delete(ctx, "p", []byte("k")))
	require.NoError(t, s.Delete(ctx, "p", []byte("k")))

	_, err := s.Get(ctx, "p", []byte("k"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testPartitionIsolation(t *testing.T, open Factory) {
	s := mustOpen(t, open)
	ctx := context.Background()

	fill(t, s, "a", "1", "2")
	fill(t, s, "ab", "3")
	fill(t, s, "a/b", "4")

	entries, err := s.Scan(ctx, "a", kv.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, keysOf(entries))

	_, err = s.Get(ctx, "ab", []byte("1"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testScanOrder(t *testing.T, open Factory) {
	s := mustOpen(t, open)
	ctx := context.Background()

	fill(t, s, "p", "c", "a", "b", "d")

	fwd, err := s.Scan(ctx, "p", kv.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, keysOf(fwd))
	assert.Equal(t, "v-a", string(fwd[0].Value))

	rev, err := s.Scan(ctx, "p", kv.ScanOptions{Reverse: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b", "a"}, keysOf(rev))

	limited, err := s.Scan(ctx, "p", kv.ScanOptions{Reverse: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, keysOf(limited))
}

func testScanBounds(t *testing.T, open Factory) {
	s := mustOpen(t, open)
	ctx := context.Background()

	fill(t, s, "p", "a", "b", "c", "d", "e")

	between, err := s.Scan(ctx, "p", kv.ScanOptions{GT: []byte("a"), LT: []byte("e")})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, keysOf(between))

	below, err := s.Scan(ctx, "p", kv.ScanOptions{Reverse: true, LT: []byte("c"), Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keysOf(below), "reverse scan resumes strictly below LT")

	above, err := s.Scan(ctx, "p", kv.ScanOptions{GT: []byte("c")})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, keysOf(above))

	prefixed, err := s.Scan(ctx, "p", kv.ScanOptions{GT: []byte("b")})
	require.NoError(t, err)
	assert.NotContains(t, keysOf(prefixed), "b")
}

func testScanEmpty(t *testing.T, open Factory) {
	s := mustOpen(t, open)
	entries, err := s.Scan(context.Background(), "empty", kv.ScanOptions{Reverse: true})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func testBatch(t *testing.T, open Factory) {
	s := mustOpen(t, open)
	ctx := context.Background()

	fill(t, s, "gone", "x")

	require.NoError(t, s.Batch(ctx, []kv.Op{
		kv.Put("members/g", []byte("id1"), []byte("m1")),
		kv.Put("memberlist/g", kv.IndexKey(0), []byte("id1")),
		kv.Put("grouproots/r1", []byte("g"), []byte("g")),
		kv.Delete("gone", []byte("x")),
	}))

	v, err := s.Get(ctx, "memberlist/g", kv.IndexKey(0))
	require.NoError(t, err)
	assert.Equal(t, "id1", string(v))

	_, err = s.Get(ctx, "gone", []byte("x"))
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Batch(ctx, nil))
}

func testBatchRollback(t *testing.T, open Factory) {
	s := mustOpen(t, open)
	ctx := context.Background()

	fill(t, s, "keep", "x")

	err := s.Batch(ctx, []kv.Op{
		kv.Put("members/g", []byte("id1"), []byte("m1")),
		kv.Put("memberlist/g", kv.IndexKey(0), []byte("id1")),
		kv.Delete("keep", []byte("x")),
		{Kind: 99, Partition: "grouproots/r1", Key: []byte("g")},
	})
	require.Error(t, err)

	_, err = s.Get(ctx, "members/g", []byte("id1"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = s.Get(ctx, "memberlist/g", kv.IndexKey(0))
	assert.ErrorIs(t, err, kv.ErrNotFound)

	v, err := s.Get(ctx, "keep", []byte("x"))
	require.NoError(t, err, "the delete is rolled back too")
	assert.Equal(t, "v-x", string(v))
}

func testBinaryKeys(t *testing.T, open Factory) {
	s := mustOpen(t, open)
	ctx := context.Background()

	keys := [][]byte{{0x00}, {0x00, 0x00}, {0x7f}, {0xff}, {0xff, 0x00}}
	for _, k := range keys {
		require.NoError(t, s.Put(ctx, "bin", k, k))
	}

	entries, err := s.Scan(ctx, "bin", kv.ScanOptions{})
	require.NoError(t, err)
	require.Len(t, entries, len(keys))
	for i, e := range entries {
		assert.Equal(t, keys[i], e.Key)
	}
}
