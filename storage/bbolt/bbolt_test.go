package bbolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/aegis/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStoreFromFile(filepath.Join(t.TempDir(), "aegis.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Conformance(t *testing.T) {
	storagetest.RunStoreSuite(t, newTestStore(t))
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.db")

	store, err := NewStoreFromFile(path, nil)
	require.NoError(t, err)
	storagetest.RunStoreSuite(t, store)
	require.NoError(t, store.Close())

	reopened, err := NewStoreFromFile(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetSecret(context.Background(), "owner-1", "api-key")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got.Ciphertext)
}
