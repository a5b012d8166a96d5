// Package pebblekv implements kv.Store on Pebble. Partitions are flattened
// into one keyspace with kv.PrefixKey.
package pebblekv

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/roach88/zkfold/internal/kv"
)

type Store struct {
	db *pebble.DB
}

var _ kv.Store = (*Store)(nil)

// Open opens or creates a Pebble database in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a Pebble database on an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, p kv.Partition, key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(kv.PrefixKey(p, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	defer closer.Close()
	return bytes.Clone(v), nil
}

func (s *Store) Put(_ context.Context, p kv.Partition, key, value []byte) error {
	if err := s.db.Set(kv.PrefixKey(p, key), value, pebble.Sync); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, p kv.Partition, key []byte) error {
	if err := s.db.Delete(kv.PrefixKey(p, key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, p kv.Partition, opts kv.ScanOptions) ([]kv.Entry, error) {
	lower, upper := kv.FlatRange(p, opts)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p, err)
	}
	defer iter.Close()

	step := iter.Next
	valid := iter.First()
	if opts.Reverse {
		step = iter.Prev
		valid = iter.Last()
	}

	entries := []kv.Entry{}
	for ; valid; valid = step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries = append(entries, kv.Entry{
			Key:   bytes.Clone(kv.StripPrefix(p, iter.Key())),
			Value: bytes.Clone(iter.Value()),
		})
		if opts.Limit > 0 && len(entries) >= opts.Limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", p, err)
	}
	return entries, nil
}

func (s *Store) Batch(_ context.Context, ops []kv.Op) error {
	if len(ops) == 0 {
		return nil
	}

	b := s.db.NewBatch()
	defer b.Close()

	for i, op := range ops {
		var err error
		switch op.Kind {
		case kv.OpPut:
			err = b.Set(kv.PrefixKey(op.Partition, op.Key), op.Value, nil)
		case kv.OpDelete:
			err = b.Delete(kv.PrefixKey(op.Partition, op.Key), nil)
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("batch op %d on %s: %w", i, op.Partition, err)
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
