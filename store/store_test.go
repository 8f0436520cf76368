package store_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainkv/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db := store.NewInMemory()
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReadYourOwnWrites(t *testing.T) {
	db := newTestDB(t)
	tx := db.BeginTx()
	defer tx.Rollback()

	require.NoError(t, tx.Write([]byte("x"), []byte("42")))
	assert.Equal(t, "42", string(tx.Read([]byte("x"))))
}

func TestSnapshotIsolationNoReadSkew(t *testing.T) {
	db := newTestDB(t)

	setup := db.BeginTx()
	require.NoError(t, setup.Write([]byte("balance"), []byte("100")))
	_, err := setup.Commit()
	require.NoError(t, err)

	reader := db.Current()

	writer := db.BeginTx()
	require.NoError(t, writer.Write([]byte("balance"), []byte("200")))
	_, err = writer.Commit()
	require.NoError(t, err)

	assert.Equal(t, "100", string(reader.Read([]byte("balance"))), "read skew detected")
}

func TestBlindWriteWriteDoesNotConflict(t *testing.T) {
	db := newTestDB(t)
	base := db.BeginTx()
	require.NoError(t, base.Write([]byte("k"), []byte("0")))
	_, err := base.Commit()
	require.NoError(t, err)

	tx1 := db.BeginTx()
	tx2 := db.BeginTx()

	require.Equal(t, "0", string(tx1.Read([]byte("k"))), "unexpected base read")
	require.NoError(t, tx1.Write([]byte("k"), []byte("1")))
	require.NoError(t, tx2.Write([]byte("k"), []byte("2")))

	_, err = tx1.Commit()
	require.NoError(t, err, "tx1 commit failed unexpectedly")

	// tx2 never read "k" as a witness (it only wrote it), so a blind
	// write does not conflict — it simply lands after tx1 (invariant:
	// last committed write wins, no read witness means no conflict).
	_, err = tx2.Commit()
	require.NoError(t, err, "tx2 commit should not conflict on a blind write")
	assert.Equal(t, "2", string(db.Read([]byte("k"))), "expected tx2's write to win")
}

func TestReadWriteConflict(t *testing.T) {
	db := newTestDB(t)
	base := db.BeginTx()
	require.NoError(t, base.Write([]byte("k"), []byte("0")))
	_, err := base.Commit()
	require.NoError(t, err)

	tx1 := db.BeginTx()
	tx2 := db.BeginTx()

	_ = tx2.Read([]byte("k")) // tx2 registers a read witness on k
	require.NoError(t, tx1.Write([]byte("k"), []byte("1")))
	require.NoError(t, tx2.Write([]byte("other"), []byte("x")))

	_, err = tx1.Commit()
	require.NoError(t, err, "tx1 commit failed unexpectedly")
	_, err = tx2.Commit()
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestScanWitnessConflict(t *testing.T) {
	db := newTestDB(t)

	tx1 := db.BeginTx()
	tx2 := db.BeginTx()

	_ = tx2.Count([]byte("a"), nil) // registers a scan witness over [a*, *]
	require.NoError(t, tx1.Write([]byte("apple"), []byte("1")))
	_, err := tx1.Commit()
	require.NoError(t, err, "tx1 commit failed unexpectedly")

	require.NoError(t, tx2.Write([]byte("unrelated"), []byte("x")))
	_, err = tx2.Commit()
	assert.ErrorIs(t, err, store.ErrConflict, "expected ErrConflict from interposed scan-range write")
}

func TestDeleteShadowsOlderValue(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Write([]byte("k"), []byte("v"))
	require.NoError(t, err)
	_, err = db.Write([]byte("k"), nil)
	require.NoError(t, err)

	assert.Nil(t, db.Read([]byte("k")), "expected deleted key to read as absent")
	assert.EqualValues(t, 0, db.Count([]byte("k"), nil), "expected deleted key excluded from Count")
}

func TestEmptyKeyIsNoOp(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Write(nil, []byte("x"))
	require.NoError(t, err)
	assert.Nil(t, db.Read(nil), "expected empty key to read as absent")
}

func TestCountListScan(t *testing.T) {
	db := newTestDB(t)
	for _, kv := range [][2]string{{"apple", "1"}, {"apricot", "2"}, {"banana", "3"}} {
		_, err := db.Write([]byte(kv[0]), []byte(kv[1]))
		require.NoError(t, err)
	}

	assert.EqualValues(t, 2, db.Count([]byte("ap"), nil))

	keys := db.List([]byte("ap"), nil)
	if assert.Len(t, keys, 2) {
		assert.Equal(t, "apple", string(keys[0]))
		assert.Equal(t, "apricot", string(keys[1]))
	}

	gotKeys, gotValues := db.Scan([]byte("ap"), nil)
	if assert.Len(t, gotKeys, 2) && assert.Len(t, gotValues, 2) {
		assert.Equal(t, "1", string(gotValues[0]))
		assert.Equal(t, "2", string(gotValues[1]))
	}
}

func TestPastByUnixTime(t *testing.T) {
	db := newTestDB(t)
	ts1, err := db.Write([]byte("k"), []byte("old"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = db.Write([]byte("k"), []byte("new"))
	require.NoError(t, err)

	past := db.PastByUnixTime(ts1.Sec, ts1.Nsec)
	assert.Equal(t, "old", string(past.Read([]byte("k"))), "PastByUnixTime should see the old value")
	assert.Equal(t, "new", string(db.Read([]byte("k"))), "current should see the new value")
}

func TestRecoveryReplaysLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.log")

	db, err := store.Open(path)
	require.NoError(t, err)
	_, err = db.Write([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	_, err = db.Write([]byte("k2"), []byte("v2"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := store.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, "v1", string(reopened.Read([]byte("k1"))))
	assert.Equal(t, "v2", string(reopened.Read([]byte("k2"))))
	assert.EqualValues(t, 3, reopened.ChainLength(), "root + 2 commits")
}

// TestRecoveryPersistsIncrementally exercises persist's per-node
// cursor discipline directly: every commit must land on disk and
// advance the recorded cursor on its own, so a process that dies
// between commits never has to re-derive which records are already
// durable from anything other than the file's own length.
func TestRecoveryPersistsIncrementally(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.log")

	db, err := store.Open(path)
	require.NoError(t, err)

	var prevSize int64
	for i, kv := range [][2]string{{"k1", "v1"}, {"k2", "v2"}, {"k3", "v3"}} {
		_, err := db.Write([]byte(kv[0]), []byte(kv[1]))
		require.NoError(t, err)

		fi, statErr := os.Stat(path)
		require.NoError(t, statErr)
		assert.Greaterf(t, fi.Size(), prevSize, "commit %d should be durable before the next one starts", i)
		prevSize = fi.Size()
	}
	require.NoError(t, db.Close())

	reopened, err := store.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, "v1", string(reopened.Read([]byte("k1"))))
	assert.Equal(t, "v2", string(reopened.Read([]byte("k2"))))
	assert.Equal(t, "v3", string(reopened.Read([]byte("k3"))))
	assert.EqualValues(t, 4, reopened.ChainLength(), "root + 3 commits, none duplicated")
}

func TestRecoveryTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.log")

	db, err := store.Open(path)
	require.NoError(t, err)
	_, err = db.Write([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := store.Open(path)
	require.NoError(t, err, "Open should truncate the torn tail, not fail")
	defer reopened.Close()

	assert.Equal(t, "v1", string(reopened.Read([]byte("k1"))))
}

func TestLargeKeyUnderLimitIsNotInvariantError(t *testing.T) {
	db := newTestDB(t)
	tx := db.BeginTx()
	defer tx.Rollback()

	big := make([]byte, 1<<20)
	err := tx.Write(big, []byte("v"))
	require.NoError(t, err, "1MiB key should be well under the 2^32-1 limit")
}

func TestTxDoneAfterCommit(t *testing.T) {
	db := newTestDB(t)
	tx := db.BeginTx()
	_, err := tx.Commit()
	require.NoError(t, err)
	_, err = tx.Commit()
	assert.ErrorIs(t, err, store.ErrTxDone)
}
