package mdb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDupSortPutAndIterateDuplicates(t *testing.T) {
	db := openTestDB(t)

	wtx, err := db.Begin(true)
	require.NoError(t, err)
	dbi, err := wtx.OpenDB("tags", Create|DupSort)
	require.NoError(t, err)

	require.NoError(t, wtx.Put(dbi, []byte("post1"), []byte("go"), 0))
	require.NoError(t, wtx.Put(dbi, []byte("post1"), []byte("db"), 0))
	require.NoError(t, wtx.Put(dbi, []byte("post1"), []byte("lmdb"), 0))
	require.NoError(t, wtx.Commit())

	rtx, err := db.Begin(false)
	require.NoError(t, err)
	defer rtx.Abort()

	c := rtx.Cursor(dbi)
	_, v, err := c.Get(Set, []byte("post1"), nil)
	require.NoError(t, err)
	require.Equal(t, "db", string(v)) // sorted: db < go < lmdb

	var got []string
	got = append(got, string(v))
	for {
		_, v, err := c.Get(NextDup, nil, nil)
		if err != nil {
			break
		}
		got = append(got, string(v))
	}
	require.Equal(t, []string{"db", "go", "lmdb"}, got)
}

func TestDupSortNoDupDataRejectsDuplicateValue(t *testing.T) {
	db := openTestDB(t)
	wtx, err := db.Begin(true)
	require.NoError(t, err)
	dbi, err := wtx.OpenDB("tags", Create|DupSort)
	require.NoError(t, err)

	require.NoError(t, wtx.Put(dbi, []byte("k"), []byte("v"), 0))
	err = wtx.Put(dbi, []byte("k"), []byte("v"), NoDupData)
	require.ErrorIs(t, err, ErrKeyExist)
}

func TestDupSortDeleteOneValueKeepsOthers(t *testing.T) {
	db := openTestDB(t)
	wtx, err := db.Begin(true)
	require.NoError(t, err)
	dbi, err := wtx.OpenDB("tags", Create|DupSort)
	require.NoError(t, err)
	require.NoError(t, wtx.Put(dbi, []byte("k"), []byte("a"), 0))
	require.NoError(t, wtx.Put(dbi, []byte("k"), []byte("b"), 0))
	require.NoError(t, wtx.Commit())

	wtx2, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, wtx2.Delete(dbi, []byte("k"), []byte("a"), 0))
	require.NoError(t, wtx2.Commit())

	rtx, err := db.Begin(false)
	require.NoError(t, err)
	defer rtx.Abort()
	c := rtx.Cursor(dbi)
	_, v, err := c.Get(GetBoth, []byte("k"), []byte("b"))
	require.NoError(t, err)
	require.Equal(t, "b", string(v))
	_, _, err = c.Get(GetBoth, []byte("k"), []byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCursorSetRangeFindsSuccessorKey(t *testing.T) {
	db := openTestDB(t)
	wtx, err := db.Begin(true)
	require.NoError(t, err)
	for _, k := range []string{"a", "c", "e"} {
		require.NoError(t, wtx.Put(MainDBI, []byte(k), []byte(k), 0))
	}
	require.NoError(t, wtx.Commit())

	rtx, err := db.Begin(false)
	require.NoError(t, err)
	defer rtx.Abort()
	c := rtx.Cursor(MainDBI)
	k, _, err := c.Get(SetRange, []byte("b"), nil)
	require.NoError(t, err)
	require.Equal(t, "c", string(k))
}

func TestAbortDiscardsUncommittedWrites(t *testing.T) {
	db := openTestDB(t)
	wtx, err := db.Begin(true)
	require.NoError(t, err)
	require.NoError(t, wtx.Put(MainDBI, []byte("k"), []byte("v"), 0))
	require.NoError(t, wtx.Abort())

	rtx, err := db.Begin(false)
	require.NoError(t, err)
	defer rtx.Abort()
	_, err = rtx.Get(MainDBI, []byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWriteTxIsExclusive(t *testing.T) {
	db := openTestDB(t)
	wtx, err := db.Begin(true)
	require.NoError(t, err)
	defer wtx.Abort()

	done := make(chan struct{})
	go func() {
		wtx2, err := db.Begin(true)
		require.NoError(t, err)
		require.NoError(t, wtx2.Abort())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second writable Begin should have blocked until the first tx finished")
	default:
	}
	require.NoError(t, wtx.Abort())
	<-done
}

func TestFreeListReclaimsPagesAcrossCommits(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 20; i++ {
		wtx, err := db.Begin(true)
		require.NoError(t, err)
		key := []byte(fmt.Sprintf("key-%03d", i))
		require.NoError(t, wtx.Put(MainDBI, key, key, 0))
		require.NoError(t, wtx.Commit())

		wtx2, err := db.Begin(true)
		require.NoError(t, err)
		require.NoError(t, wtx2.Put(MainDBI, key, []byte("overwritten"), 0))
		require.NoError(t, wtx2.Commit())
	}

	rtx, err := db.Begin(false)
	require.NoError(t, err)
	defer rtx.Abort()
	v, err := rtx.Get(MainDBI, []byte("key-000"))
	require.NoError(t, err)
	require.Equal(t, "overwritten", string(v))
}
