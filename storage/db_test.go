package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	require.NoError(t, db.Put([]byte("attempt/b/2"), []byte("two")))
	require.NoError(t, db.Put([]byte("attempt/a/1"), []byte("one")))
	require.NoError(t, db.Put([]byte("attempt/b/1"), []byte("three")))
	require.NoError(t, db.Put([]byte("other/x"), []byte("skip")))

	value, err := db.Get([]byte("attempt/a/1"))
	require.NoError(t, err)
	require.Equal(t, "one", string(value))

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	var keys []string
	require.NoError(t, db.Iterate([]byte("attempt/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	require.Equal(t, []string{"attempt/a/1", "attempt/b/1", "attempt/b/2"}, keys)

	keys = keys[:0]
	require.NoError(t, db.Iterate([]byte("attempt/b/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return false
	}))
	require.Equal(t, []string{"attempt/b/1"}, keys)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "journal"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestBoltDB(t *testing.T) {
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(BackendBolt, filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	require.IsType(t, &BoltDB{}, db)
	require.NoError(t, db.Close())

	db, err = Open(BackendLevelDB, filepath.Join(dir, "journal"))
	require.NoError(t, err)
	require.IsType(t, &LevelDB{}, db)
	require.NoError(t, db.Close())

	_, err = Open("redis", filepath.Join(dir, "other"))
	require.Error(t, err)
}
