// Package kv defines the ordered, partitioned key-value contract the state
// engine is written against.
//
// A Store holds any number of partitions. Keys within a partition are
// ordered lexicographically by bytes and can be scanned forward or in
// reverse between exclusive bounds. Batch is the only multi-key operation
// and is all-or-nothing.
//
// Backends live in subpackages (sqlitekv, pebblekv, leveldbkv) and must all
// pass the suite in kvtest.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: not found")

// Partition names a keyspace, for example "postlist" or "replies/<hash>".
type Partition string

// Entry is one key/value pair returned by Scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// ScanOptions bound and order a Scan. GT and LT are exclusive; nil means
// unbounded. Limit <= 0 means no limit.
type ScanOptions struct {
	Reverse bool
	Limit   int
	GT      []byte
	LT      []byte
}

// OpKind distinguishes batch operations.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is a single write inside a Batch.
type Op struct {
	Kind      OpKind
	Partition Partition
	Key       []byte
	Value     []byte
}

// Put returns a put operation.
func Put(p Partition, key, value []byte) Op {
	return Op{Kind: OpPut, Partition: p, Key: key, Value: value}
}

// Delete returns a delete operation.
func Delete(p Partition, key []byte) Op {
	return Op{Kind: OpDelete, Partition: p, Key: key}
}

// Store is the storage contract. It has exactly these operations; anything
// richer belongs in the typed layer above it.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, p Partition, key []byte) ([]byte, error)

	// Put writes value at key, replacing any previous value.
	Put(ctx context.Context, p Partition, key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, p Partition, key []byte) error

	// Scan returns entries of p in key order (descending when Reverse).
	Scan(ctx context.Context, p Partition, opts ScanOptions) ([]Entry, error)

	// Batch applies ops atomically.
	Batch(ctx context.Context, ops []Op) error

	// Close releases the backend.
	Close() error
}
