package kv

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// PrefixKey encodes (p, key) into a single flat key for backends without
// native partitions. The partition is length-prefixed so that no partition's
// keys can collide with or sort inside another's.
func PrefixKey(p Partition, key []byte) []byte {
	prefix := PartitionPrefix(p)
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// PartitionPrefix returns the flat-key prefix shared by every key in p.
func PartitionPrefix(p Partition) []byte {
	out := binary.AppendUvarint(nil, uint64(len(p)))
	return append(out, p...)
}

// StripPrefix returns the partition-local key of a flat key.
func StripPrefix(p Partition, flat []byte) []byte {
	return flat[len(PartitionPrefix(p)):]
}

// UpperBound returns the smallest key greater than every key with the given
// prefix, or nil if no such key exists (all 0xff).
func UpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Successor returns the smallest key strictly greater than key.
func Successor(key []byte) []byte {
	out := make([]byte, len(key)+1)
	copy(out, key)
	return out
}

// FlatRange converts a partition scan into inclusive-lower, exclusive-upper
// bounds over the flat keyspace.
func FlatRange(p Partition, opts ScanOptions) (lower, upper []byte) {
	prefix := PartitionPrefix(p)
	lower = prefix
	upper = UpperBound(prefix)
	if opts.GT != nil {
		lower = PrefixKey(p, Successor(opts.GT))
	}
	if opts.LT != nil {
		upper = PrefixKey(p, opts.LT)
	}
	return lower, upper
}

const sortKeySep = '_'

// TimeKey encodes a timestamp as 16 hex digits of milliseconds, which sorts
// lexicographically in time order for all non-negative times.
func TimeKey(t time.Time) string {
	return fmt.Sprintf("%016x", uint64(t.UnixMilli()))
}

// SortKey builds the chronological key used by feed partitions:
// TimeKey(t) + "_" + hex(creator). Records from different creators at the
// same instant sort deterministically, and a scan can resume strictly below
// any record by passing its SortKey as LT.
func SortKey(t time.Time, creator string) []byte {
	return []byte(TimeKey(t) + string(sortKeySep) + hex.EncodeToString([]byte(creator)))
}

// IndexKey encodes a member index so that keys sort numerically.
func IndexKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%016x", index))
}
