package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBBatchAppliesAllWrites(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("stale"), []byte("x")))

	batch := db.NewBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("stale"))
	require.Equal(t, 3, batch.Len())

	_, err := db.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, batch.Write())
	got, err := db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
	ok, err := db.Has([]byte("stale"))
	require.NoError(t, err)
	require.False(t, ok)
	got, err = db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
}

func TestMemDBReturnsCopies(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
}

func TestLevelDBBatchPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	batch := db1.NewBatch()
	batch.Put([]byte("wallet/1"), []byte("one"))
	batch.Put([]byte("wallet/2"), []byte("two"))
	require.NoError(t, batch.Write())
	require.NoError(t, db1.Close())

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("wallet/2"))
	require.NoError(t, err)
	require.Equal(t, []byte("two"), got)

	ok, err := db2.Has([]byte("wallet/1"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = db2.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}
