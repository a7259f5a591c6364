package mdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(Options{Path: filepath.Join(dir, "env"), MaxReaders: 8})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenBootstrapsTwoMetaPages(t *testing.T) {
	db := openTestDB(t)
	require.Equal(t, txnid(0), db.meta().Txnid)
	require.True(t, db.meta().DBs[MainDBI].isEmpty())
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	wtx, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, wtx.Put(MainDBI, []byte("hello"), []byte("world"), 0))
	require.NoError(t, wtx.Commit())

	rtx, err := db.Begin(false)
	require.NoError(t, err)
	defer rtx.Abort()

	v, err := rtx.Get(MainDBI, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "world", string(v))
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(false)
	require.NoError(t, err)
	defer tx.Abort()

	_, err = tx.Get(MainDBI, []byte("nope"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutNoOverwriteRejectsExistingKey(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(true)
	require.NoError(t, err)
	defer tx.Abort()

	require.NoError(t, tx.Put(MainDBI, []byte("k"), []byte("v1"), 0))
	err = tx.Put(MainDBI, []byte("k"), []byte("v2"), NoOverwrite)
	require.ErrorIs(t, err, ErrKeyExist)
}

func TestManyKeysSurviveCommitAndIterate(t *testing.T) {
	db := openTestDB(t)

	wtx, err := db.Begin(true)
	require.NoError(t, err)
	kvs := randomKV(1000)
	for k, v := range kvs {
		require.NoError(t, wtx.Put(MainDBI, []byte(k), []byte(v), 0))
	}
	require.NoError(t, wtx.Commit())

	rtx, err := db.Begin(false)
	require.NoError(t, err)
	defer rtx.Abort()

	c := rtx.Cursor(MainDBI)
	count := 0
	k, v, err := c.Get(First, nil, nil)
	for err == nil {
		want, ok := kvs[string(k)]
		require.True(t, ok, "unexpected key %q in iteration", k)
		require.Equal(t, want, string(v))
		count++
		k, v, err = c.Get(Next, nil, nil)
	}
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, len(kvs), count)

	stat := rtx.Stat(MainDBI)
	require.Equal(t, uint64(len(kvs)), stat.Entries)
	require.Greater(t, stat.Depth, uint16(0))
}

func TestDeleteRemovesKey(t *testing.T) {
	db := openTestDB(t)

	wtx, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, wtx.Put(MainDBI, []byte("a"), []byte("1"), 0))
	require.NoError(t, wtx.Put(MainDBI, []byte("b"), []byte("2"), 0))
	require.NoError(t, wtx.Commit())

	wtx2, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, wtx2.Delete(MainDBI, []byte("a"), nil, 0))
	require.NoError(t, wtx2.Commit())

	rtx, err := db.Begin(false)
	require.NoError(t, err)
	defer rtx.Abort()
	_, err = rtx.Get(MainDBI, []byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
	v, err := rtx.Get(MainDBI, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func TestLargeValueUsesOverflowChain(t *testing.T) {
	db := openTestDB(t)
	big := make([]byte, defaultPageSize*3)
	for i := range big {
		big[i] = byte(i)
	}

	wtx, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, wtx.Put(MainDBI, []byte("blob"), big, 0))
	require.NoError(t, wtx.Commit())

	rtx, err := db.Begin(false)
	require.NoError(t, err)
	defer rtx.Abort()
	got, err := rtx.Get(MainDBI, []byte("blob"))
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestOpenDBCreatesNamedSubDatabase(t *testing.T) {
	db := openTestDB(t)

	wtx, err := db.Begin(true)
	require.NoError(t, err)
	dbi, err := wtx.OpenDB("widgets", Create)
	require.NoError(t, err)
	require.NoError(t, wtx.Put(dbi, []byte("x"), []byte("y"), 0))
	require.NoError(t, wtx.Commit())

	rtx, err := db.Begin(false)
	require.NoError(t, err)
	defer rtx.Abort()
	dbi2, err := rtx.OpenDB("widgets", 0)
	require.NoError(t, err)
	v, err := rtx.Get(dbi2, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "y", string(v))
}

func TestOpenDBWithoutCreateFailsForMissingName(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(false)
	require.NoError(t, err)
	defer tx.Abort()
	_, err = tx.OpenDB("nope", 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReaderSnapshotUnaffectedByLaterCommit(t *testing.T) {
	db := openTestDB(t)

	wtx, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, wtx.Put(MainDBI, []byte("k"), []byte("v1"), 0))
	require.NoError(t, wtx.Commit())

	reader, err := db.Begin(false)
	require.NoError(t, err)

	wtx2, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, wtx2.Put(MainDBI, []byte("k"), []byte("v2-replaces-old-page"), 0))
	require.NoError(t, wtx2.Commit())

	// The old reader's view is unaffected by the writer's copy-on-write
	// replacement of the page holding "k".
	v, err := reader.Get(MainDBI, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))
	require.NoError(t, reader.Abort())
}
