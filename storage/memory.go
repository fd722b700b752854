package storage

import (
	"context"
	"sort"
	"sync"
)

// Memory is a Store that keeps everything in maps.
//
// Write transactions work on a copy that replaces the original on
// commit.
type Memory struct {
	sync.RWMutex
	writing sync.Mutex
	buckets map[string]map[string][]byte
	closed  bool
}

// NewMemory makes a Memory with the standard buckets.
func NewMemory() *Memory {
	m := &Memory{
		buckets: make(map[string]map[string][]byte, len(Buckets)),
	}
	for _, b := range Buckets {
		m.buckets[b] = make(map[string][]byte)
	}
	return m
}

type memoryTx struct {
	buckets map[string]map[string][]byte
}

func (tx *memoryTx) bucket(name string) (map[string][]byte, error) {
	b, have := tx.buckets[name]
	if !have {
		return nil, ErrNoSuchBucket
	}
	return b, nil
}

func (tx *memoryTx) Get(bucket, key string) ([]byte, error) {
	b, err := tx.bucket(bucket)
	if err != nil {
		return nil, err
	}
	return b[key], nil
}

func (tx *memoryTx) ForEach(bucket string, f func(string, []byte) error) error {
	b, err := tx.bucket(bucket)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := f(k, b[k]); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memoryTx) Put(bucket, key string, val []byte) error {
	b, err := tx.bucket(bucket)
	if err != nil {
		return err
	}
	b[key] = append([]byte(nil), val...)
	return nil
}

func (tx *memoryTx) Delete(bucket, key string) error {
	b, err := tx.bucket(bucket)
	if err != nil {
		return err
	}
	delete(b, key)
	return nil
}

func (tx *memoryTx) Clear(bucket string) error {
	if _, err := tx.bucket(bucket); err != nil {
		return err
	}
	tx.buckets[bucket] = make(map[string][]byte)
	return nil
}

func (m *Memory) View(ctx context.Context, f func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.RLock()
	defer m.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return f(&memoryTx{buckets: m.buckets})
}

func (m *Memory) Update(ctx context.Context, f func(Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.writing.Lock()
	defer m.writing.Unlock()

	m.RLock()
	if m.closed {
		m.RUnlock()
		return ErrClosed
	}
	// Values are never mutated in place, so a shallow copy of
	// each bucket suffices.
	copied := make(map[string]map[string][]byte, len(m.buckets))
	for name, b := range m.buckets {
		c := make(map[string][]byte, len(b))
		for k, v := range b {
			c[k] = v
		}
		copied[name] = c
	}
	m.RUnlock()

	if err := f(&memoryTx{buckets: copied}); err != nil {
		return err
	}

	m.Lock()
	m.buckets = copied
	m.Unlock()
	return nil
}

func (m *Memory) Close() error {
	m.Lock()
	m.closed = true
	m.Unlock()
	return nil
}
