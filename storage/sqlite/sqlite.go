// Package sqlite is a storage.Store in a SQLite database.
//
// All buckets share one table keyed by (bucket, key).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Comcast/nimbus/storage"

	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	bucket TEXT NOT NULL,
	key    TEXT NOT NULL,
	value  BLOB NOT NULL,
	PRIMARY KEY (bucket, key)
) WITHOUT ROWID;
`

// Store is a storage.Store backed by SQLite.
type Store struct {
	Logger *slog.Logger

	db      *sql.DB
	buckets map[string]bool
}

// Open creates or opens the database at path.  A file that isn't a
// SQLite database is removed and recreated.
func Open(path string) (*Store, error) {
	s, err := open(path)
	if err != nil && isCorrupt(err) {
		slog.Default().Warn("removing corrupt database", "path", path, "error", err)
		if err := os.Remove(path); err != nil {
			return nil, err
		}
		s, err = open(path)
	}
	return s, err
}

func isCorrupt(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrNotADB || serr.Code == sqlite3.ErrCorrupt
	}
	return false
}

func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	s := &Store{
		db:      db,
		buckets: make(map[string]bool, len(storage.Buckets)),
	}
	for _, b := range storage.Buckets {
		s.buckets[b] = true
	}
	return s, nil
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

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type tx struct {
	ctx     context.Context
	tx      *sql.Tx
	buckets map[string]bool
}

func (t *tx) check(bucket string) error {
	if !t.buckets[bucket] {
		return fmt.Errorf("%w: %s", storage.ErrNoSuchBucket, bucket)
	}
	return nil
}

func (t *tx) Get(bucket, key string) ([]byte, error) {
	if err := t.check(bucket); err != nil {
		return nil, err
	}
	var val []byte
	err := t.tx.QueryRowContext(t.ctx, "SELECT value FROM kv WHERE bucket = ? AND key = ?", bucket, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if val == nil && err == nil {
		val = []byte{}
	}
	return val, err
}

func (t *tx) ForEach(bucket string, f func(string, []byte) error) error {
	if err := t.check(bucket); err != nil {
		return err
	}
	rows, err := t.tx.QueryContext(t.ctx, "SELECT key, value FROM kv WHERE bucket = ? ORDER BY key", bucket)
	if err != nil {
		return err
	}
	// Collect first: the single connection can't serve f's own
	// queries while rows is open.
	type kv struct {
		key string
		val []byte
	}
	var acc []kv
	for rows.Next() {
		var x kv
		if err := rows.Scan(&x.key, &x.val); err != nil {
			rows.Close()
			return err
		}
		acc = append(acc, x)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, x := range acc {
		if err := f(x.key, x.val); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) Put(bucket, key string, val []byte) error {
	if err := t.check(bucket); err != nil {
		return err
	}
	if val == nil {
		val = []byte{}
	}
	_, err := t.tx.ExecContext(t.ctx,
		"INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?) ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value",
		bucket, key, val)
	return err
}

func (t *tx) Delete(bucket, key string) error {
	if err := t.check(bucket); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, "DELETE FROM kv WHERE bucket = ? AND key = ?", bucket, key)
	return err
}

func (t *tx) Clear(bucket string) error {
	if err := t.check(bucket); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, "DELETE FROM kv WHERE bucket = ?", bucket)
	return err
}

func (s *Store) run(ctx context.Context, readOnly bool, f func(*tx) error) error {
	if s.db == nil {
		return storage.ErrClosed
	}
	stx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return err
	}
	if err := f(&tx{ctx: ctx, tx: stx, buckets: s.buckets}); err != nil {
		if rerr := stx.Rollback(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return stx.Commit()
}

func (s *Store) View(ctx context.Context, f func(storage.Reader) error) error {
	return s.run(ctx, true, func(t *tx) error { return f(t) })
}

func (s *Store) Update(ctx context.Context, f func(storage.Writer) error) error {
	return s.run(ctx, false, func(t *tx) error { return f(t) })
}
