package bolt

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

func TestImpl(t *testing.T) {
	// Just confirm that this code compiles.
	var _ storage.Store = &Storage{}
}

func open(t *testing.T, filename string) *Storage {
	s, err := NewStorage(filename)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))
	return s
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return open(t, filepath.Join(t.TempDir(), "nimbus.db"))
	})
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	filename := filepath.Join(t.TempDir(), "nimbus.db")

	s := open(t, filename)
	require.NoError(t, s.Update(ctx, func(w storage.Writer) error {
		return w.Put(storage.Meta, "nimbus-id", []byte(`"abc"`))
	}))
	require.NoError(t, s.Close())

	s = open(t, filename)
	defer s.Close()
	require.NoError(t, s.View(ctx, func(r storage.Reader) error {
		bs, err := r.Get(storage.Meta, "nimbus-id")
		assert.Equal(t, `"abc"`, string(bs))
		return err
	}))
}

func TestCorruptFile(t *testing.T) {
	ctx := context.Background()
	filename := filepath.Join(t.TempDir(), "nimbus.db")
	garbage := make([]byte, 100)
	for i := range garbage {
		garbage[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(filename, garbage, 0644))

	s := open(t, filename)
	defer s.Close()
	require.NoError(t, s.Update(ctx, func(w storage.Writer) error {
		return w.Put(storage.Meta, "db_version", []byte("2"))
	}))
}

func TestClosed(t *testing.T) {
	s, err := NewStorage(filepath.Join(t.TempDir(), "nimbus.db"))
	require.NoError(t, err)
	err = s.View(context.Background(), func(storage.Reader) error { return nil })
	assert.ErrorIs(t, err, storage.ErrClosed)

	_, err = NewStorage("")
	assert.Error(t, err)
}
