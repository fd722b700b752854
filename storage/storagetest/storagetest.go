// Package storagetest checks that a storage.Store behaves.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Comcast/nimbus/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh store made by open.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	tests := []struct {
		name string
		f    func(t *testing.T, s storage.Store)
	}{
		{"Basics", testBasics},
		{"Rollback", testRollback},
		{"Clear", testClear},
		{"Order", testOrder},
		{"NoSuchBucket", testNoSuchBucket},
		{"Concurrent", testConcurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			tt.f(t, s)
		})
	}
}

func testBasics(t *testing.T, s storage.Store) {
	ctx := context.Background()

	err := s.Update(ctx, func(w storage.Writer) error {
		if err := w.Put(storage.Meta, "db_version", []byte("2")); err != nil {
			return err
		}
		return storage.PutJSON(w, storage.Experiments, "a", map[string]interface{}{"slug": "a"})
	})
	require.NoError(t, err)

	err = s.View(ctx, func(r storage.Reader) error {
		bs, err := r.Get(storage.Meta, "db_version")
		require.NoError(t, err)
		assert.Equal(t, "2", string(bs))

		bs, err = r.Get(storage.Meta, "missing")
		require.NoError(t, err)
		assert.Nil(t, bs)

		var x map[string]interface{}
		have, err := storage.GetJSON(r, storage.Experiments, "a", &x)
		require.NoError(t, err)
		assert.True(t, have)
		assert.Equal(t, "a", x["slug"])
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, func(w storage.Writer) error {
		return w.Delete(storage.Experiments, "a")
	}))
	require.NoError(t, s.View(ctx, func(r storage.Reader) error {
		all, err := storage.All(r, storage.Experiments)
		require.NoError(t, err)
		assert.Empty(t, all)
		return nil
	}))
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	oops := errors.New("oops")

	err := s.Update(ctx, func(w storage.Writer) error {
		if err := w.Put(storage.Enrollments, "a", []byte("{}")); err != nil {
			return err
		}
		return oops
	})
	assert.ErrorIs(t, err, oops)

	require.NoError(t, s.View(ctx, func(r storage.Reader) error {
		bs, err := r.Get(storage.Enrollments, "a")
		require.NoError(t, err)
		assert.Nil(t, bs)
		return nil
	}))
}

func testClear(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(w storage.Writer) error {
		for i := 0; i < 3; i++ {
			if err := w.Put(storage.Updates, fmt.Sprint(i), []byte("x")); err != nil {
				return err
			}
		}
		return w.Put(storage.Meta, "keep", []byte("1"))
	}))
	require.NoError(t, s.Update(ctx, func(w storage.Writer) error {
		return w.Clear(storage.Updates)
	}))
	require.NoError(t, s.View(ctx, func(r storage.Reader) error {
		all, err := storage.All(r, storage.Updates)
		require.NoError(t, err)
		assert.Empty(t, all)

		bs, err := r.Get(storage.Meta, "keep")
		require.NoError(t, err)
		assert.Equal(t, "1", string(bs))
		return nil
	}))
}

func testOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	keys := []string{"c", "a", "b"}
	require.NoError(t, s.Update(ctx, func(w storage.Writer) error {
		for _, k := range keys {
			if err := w.Put(storage.EventCounts, k, []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, s.View(ctx, func(r storage.Reader) error {
		vals, err := storage.Values(r, storage.EventCounts)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, vals)
		return nil
	}))
}

func testNoSuchBucket(t *testing.T, s storage.Store) {
	ctx := context.Background()
	err := s.View(ctx, func(r storage.Reader) error {
		_, err := r.Get("nope", "x")
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNoSuchBucket)
}

func testConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Update(ctx, func(w storage.Writer) error {
				return w.Put(storage.Updates, fmt.Sprint(i), []byte("x"))
			})
			assert.NoError(t, err)
			err = s.View(ctx, func(r storage.Reader) error {
				_, err := r.Get(storage.Updates, fmt.Sprint(i))
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(r storage.Reader) error {
		all, err := storage.All(r, storage.Updates)
		require.NoError(t, err)
		assert.Len(t, all, 8)
		return nil
	}))
}
