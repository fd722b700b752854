// Package bolt is a storage.Store backed by a bbolt file.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Comcast/nimbus/storage"

	bolt "go.etcd.io/bbolt"
)

// Storage is a storage.Store in a single bbolt file.
type Storage struct {
	Debug  bool
	Logger *slog.Logger

	// Timeout is how long Open waits for the file lock.
	Timeout time.Duration

	filename string
	db       *bolt.DB
}

// NewStorage makes a Storage for the given file.  Call Open before
// using it.
func NewStorage(filename string) (*Storage, error) {
	if filename == "" {
		return nil, errors.New("no filename")
	}
	return &Storage{
		filename: filename,
		Timeout:  time.Second,
	}, nil
}

// Open opens (or creates) the file and the standard buckets.  A file
// that isn't a bbolt database is removed and recreated.
func (s *Storage) Open(ctx context.Context) error {
	db, err := s.open()
	if isCorrupt(err) {
		s.logger().Warn("removing corrupt database", "filename", s.filename, "error", err)
		if err := os.Remove(s.filename); err != nil {
			return err
		}
		db, err = s.open()
	}
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range storage.Buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *Storage) open() (*bolt.DB, error) {
	opts := &bolt.Options{
		Timeout: s.Timeout,
	}
	return bolt.Open(s.filename, 0644, opts)
}

func isCorrupt(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, bolt.ErrInvalid) ||
		errors.Is(err, bolt.ErrVersionMismatch) ||
		errors.Is(err, bolt.ErrChecksum) ||
		strings.Contains(err.Error(), "file size too small")
}

func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Storage) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Storage) logf(format string, args ...interface{}) {
	if s.Debug {
		s.logger().Debug(fmt.Sprintf("BoltDB Storage."+format, args...))
	}
}

type tx struct {
	s  *Storage
	tx *bolt.Tx
}

func (t *tx) bucket(name string) (*bolt.Bucket, error) {
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoSuchBucket, name)
	}
	return b, nil
}

func (t *tx) Get(bucket, key string) ([]byte, error) {
	b, err := t.bucket(bucket)
	if err != nil {
		return nil, err
	}
	bs := b.Get([]byte(key))
	if bs == nil {
		return nil, nil
	}
	// bbolt's memory is only valid during the transaction.
	return append([]byte(nil), bs...), nil
}

func (t *tx) ForEach(bucket string, f func(string, []byte) error) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.ForEach(func(k, v []byte) error {
		return f(string(k), v)
	})
}

func (t *tx) Put(bucket, key string, val []byte) error {
	t.s.logf("Put %s %s", bucket, key)
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), val)
}

func (t *tx) Delete(bucket, key string) error {
	t.s.logf("Delete %s %s", bucket, key)
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Delete([]byte(key))
}

func (t *tx) Clear(bucket string) error {
	t.s.logf("Clear %s", bucket)
	if _, err := t.bucket(bucket); err != nil {
		return err
	}
	if err := t.tx.DeleteBucket([]byte(bucket)); err != nil {
		return err
	}
	_, err := t.tx.CreateBucket([]byte(bucket))
	return err
}

func (s *Storage) View(ctx context.Context, f func(storage.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db == nil {
		return storage.ErrClosed
	}
	return s.db.View(func(btx *bolt.Tx) error {
		return f(&tx{s: s, tx: btx})
	})
}

func (s *Storage) Update(ctx context.Context, f func(storage.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db == nil {
		return storage.ErrClosed
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return f(&tx{s: s, tx: btx})
	})
}
