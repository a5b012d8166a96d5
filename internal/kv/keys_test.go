package kv

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrefixKeyIsolatesPartitions(t *testing.T) {
	a := PrefixKey("ab", []byte("c"))
	b := PrefixKey("a", []byte("bc"))

	assert.NotEqual(t, a, b, "length prefix must disambiguate partition boundaries")
	assert.False(t, bytes.HasPrefix(b, PartitionPrefix("ab")))
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x03}, UpperBound([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x02}, UpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, UpperBound([]byte{0xff, 0xff}))
}

func TestFlatRangeBounds(t *testing.T) {
	lower, upper := FlatRange("p", ScanOptions{GT: []byte("b"), LT: []byte("d")})

	assert.True(t, bytes.Compare(PrefixKey("p", []byte("b")), lower) < 0)
	assert.True(t, bytes.Compare(PrefixKey("p", []byte("b\x00")), lower) >= 0)
	assert.Equal(t, PrefixKey("p", []byte("d")), upper)
}

func TestSortKeyOrdering(t *testing.T) {
	early := time.UnixMilli(999)
	late := time.UnixMilli(1000)

	assert.True(t, bytes.Compare(SortKey(early, "zed"), SortKey(late, "amy")) < 0,
		"time dominates creator")
	assert.True(t, bytes.Compare(SortKey(late, "amy"), SortKey(late, "bob")) < 0,
		"creator breaks same-instant ties")
	assert.Len(t, TimeKey(late), 16)
}

func TestIndexKeyOrdering(t *testing.T) {
	assert.True(t, bytes.Compare(IndexKey(9), IndexKey(10)) < 0)
}
