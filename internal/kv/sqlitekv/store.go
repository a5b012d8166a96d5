// Package sqlitekv implements kv.Store on SQLite.
//
// All partitions share a single WITHOUT ROWID table keyed by
// (partition, key), so a partition scan is a primary-key range scan.
package sqlitekv

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/zkfold/internal/kv"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty database
// 1 - kv table
const currentSchemaVersion = 1

// Store is a kv.Store backed by a SQLite database file.
type Store struct {
	db *sql.DB
}

var _ kv.Store = (*Store)(nil)

// Open creates or opens a SQLite database at path. Use ":memory:" for an
// ephemeral store.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time. A single connection also keeps
	// ":memory:" databases alive for the life of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, p kv.Partition, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE partition = ? AND key = ?`, string(p), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, p kv.Partition, key, value []byte) error {
	if _, err := s.db.ExecContext(ctx, upsertSQL, string(p), key, nonNil(value)); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, p kv.Partition, key []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE partition = ? AND key = ?`, string(p), key,
	); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, p kv.Partition, opts kv.ScanOptions) ([]kv.Entry, error) {
	var (
		query strings.Builder
		args  = []any{string(p)}
	)
	query.WriteString(`SELECT key, value FROM kv WHERE partition = ?`)
	if opts.GT != nil {
		query.WriteString(` AND key > ?`)
		args = append(args, opts.GT)
	}
	if opts.LT != nil {
		query.WriteString(` AND key < ?`)
		args = append(args, opts.LT)
	}
	if opts.Reverse {
		query.WriteString(` ORDER BY key DESC`)
	} else {
		query.WriteString(` ORDER BY key ASC`)
	}
	if opts.Limit > 0 {
		query.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p, err)
	}
	defer rows.Close()

	entries := []kv.Entry{}
	for rows.Next() {
		var e kv.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", p, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", p, err)
	}
	return entries, nil
}

// Batch applies ops in one transaction.
func (s *Store) Batch(ctx context.Context, ops []kv.Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for i, op := range ops {
		switch op.Kind {
		case kv.OpPut:
			_, err = tx.ExecContext(ctx, upsertSQL, string(op.Partition), op.Key, nonNil(op.Value))
		case kv.OpDelete:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM kv WHERE partition = ? AND key = ?`, string(op.Partition), op.Key)
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("batch op %d on %s: %w", i, op.Partition, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

const upsertSQL = `
	INSERT INTO kv (partition, key, value) VALUES (?, ?, ?)
	ON CONFLICT(partition, key) DO UPDATE SET value = excluded.value
`

// nonNil keeps empty values from being stored as NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and records the schema
// version. Idempotent.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
