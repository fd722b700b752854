package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Comcast/nimbus/storage"
	"github.com/Comcast/nimbus/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(filepath.Join(t.TempDir(), "nimbus.sqlite"))
		require.NoError(t, err)
		return s
	})
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nimbus.sqlite")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(w storage.Writer) error {
		return w.Put(storage.Meta, "user-opt-in", []byte("false"))
	}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.View(ctx, func(r storage.Reader) error {
		bs, err := r.Get(storage.Meta, "user-opt-in")
		assert.Equal(t, "false", string(bs))
		return err
	}))
}

func TestOpen_ReplacesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nimbus.sqlite")
	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(path, garbage, 0644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Update(context.Background(), func(w storage.Writer) error {
		return w.Put(storage.Meta, "db_version", []byte("2"))
	}))
}

func TestEmptyValue(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "nimbus.sqlite"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Update(ctx, func(w storage.Writer) error {
		return w.Put(storage.Updates, "empty", nil)
	}))
	require.NoError(t, s.View(ctx, func(r storage.Reader) error {
		bs, err := r.Get(storage.Updates, "empty")
		assert.NotNil(t, bs)
		assert.Empty(t, bs)
		return err
	}))
}
