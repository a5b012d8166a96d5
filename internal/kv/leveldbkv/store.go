// Package leveldbkv implements kv.Store on cometbft-db, either the
// in-memory B-tree (NewMem) or goleveldb on disk (Open).
package leveldbkv

import (
	"bytes"
	"context"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/roach88/zkfold/internal/kv"
)

type Store struct {
	db dbm.DB
}

var _ kv.Store = (*Store)(nil)

// NewMem returns a store backed by cometbft-db's MemDB.
func NewMem() *Store {
	return &Store{db: dbm.NewMemDB()}
}

// Open opens a goleveldb database named name under dir.
func Open(name, dir string) (*Store, error) {
	db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, fmt.Errorf("open goleveldb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, p kv.Partition, key []byte) ([]byte, error) {
	flat := kv.PrefixKey(p, key)
	v, err := s.db.Get(flat)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	if v == nil {
		// cometbft-db reports a missing key as nil; an empty value may look
		// the same, so confirm with Has.
		ok, err := s.db.Has(flat)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", p, err)
		}
		if !ok {
			return nil, kv.ErrNotFound
		}
		return []byte{}, nil
	}
	return bytes.Clone(v), nil
}

func (s *Store) Put(_ context.Context, p kv.Partition, key, value []byte) error {
	if err := s.db.SetSync(kv.PrefixKey(p, key), nonNil(value)); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, p kv.Partition, key []byte) error {
	if err := s.db.DeleteSync(kv.PrefixKey(p, key)); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, p kv.Partition, opts kv.ScanOptions) ([]kv.Entry, error) {
	lower, upper := kv.FlatRange(p, opts)

	var (
		it  dbm.Iterator
		err error
	)
	if opts.Reverse {
		it, err = s.db.ReverseIterator(lower, upper)
	} else {
		it, err = s.db.Iterator(lower, upper)
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p, err)
	}
	defer it.Close()

	entries := []kv.Entry{}
	for ; it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries = append(entries, kv.Entry{
			Key:   bytes.Clone(kv.StripPrefix(p, it.Key())),
			Value: bytes.Clone(it.Value()),
		})
		if opts.Limit > 0 && len(entries) >= opts.Limit {
			break
		}
	}
	if err := it.Error(); err != nil {
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
			err = b.Set(kv.PrefixKey(op.Partition, op.Key), nonNil(op.Value))
		case kv.OpDelete:
			err = b.Delete(kv.PrefixKey(op.Partition, op.Key))
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("batch op %d on %s: %w", i, op.Partition, err)
		}
	}

	if err := b.WriteSync(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// nonNil avoids cometbft-db's nil value rejection.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
