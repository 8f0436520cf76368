package store

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DB is a lock-free, append-only, versioned key-value store: a chain
// of immutable commit nodes reachable from resolvedHead, plus an
// optional on-disk log that mirrors every committed node in commit
// order (§3, §4).
//
// A DB is safe for concurrent use by many goroutines.
type DB struct {
	resolvedHead   atomic.Pointer[Node]
	serializedHead atomic.Pointer[Node]
	nodeCount      atomic.Int64

	sink      *sink
	persistMu sync.Mutex

	logger   zerolog.Logger
	metrics  Recorder
	syncMode SyncMode
}

// NewInMemory returns a DB with no backing log file: every commit is
// linearized onto the chain but never persisted, so history does not
// survive process restart. Useful for tests and for embedding chainkv
// as a pure in-process cache.
func NewInMemory(opts ...Option) *DB {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	db := &DB{
		logger:   c.logger,
		metrics:  c.metrics,
		syncMode: c.syncMode,
	}
	root := &Node{}
	db.resolvedHead.Store(root)
	db.serializedHead.Store(root)
	db.nodeCount.Store(1)
	return db
}

// Current returns a Snapshot of the most recently committed state.
func (db *DB) Current() *Snapshot {
	return &Snapshot{node: db.resolvedHead.Load()}
}

// PastByUnixTime returns a Snapshot of the state as of the newest
// commit at or before the given time, walking the chain from the
// current head (§4.7, start-snapshot with a past time). If every
// commit postdates t, the returned snapshot reflects the empty
// initial state.
func (db *DB) PastByUnixTime(sec uint64, nsec uint32) *Snapshot {
	target := Timestamp{Sec: sec, Nsec: nsec}
	cur := db.resolvedHead.Load()
	for cur != nil && cur.prev != nil && target.Before(cur.time) {
		cur = cur.prev
	}
	return &Snapshot{node: cur}
}

// BeginTx starts a new optimistic transaction against the current
// head (§4.3).
func (db *DB) BeginTx() *Tx {
	return newTx(db, db.resolvedHead.Load())
}

// Read, Len, Count, List and Scan are one-shot convenience wrappers
// equivalent to beginning a transaction, performing the single
// operation, and discarding it — matching the wire protocol's
// Normal-mode requests (§6.2), which operate outside any transaction.
func (db *DB) Read(key []byte) []byte   { return effectiveValue(db.resolvedHead.Load(), key) }
func (db *DB) Len(key []byte) uint32    { return uint32(len(db.Read(key))) }

func (db *DB) Count(start, end []byte) uint32 {
	return countMatches(db.resolvedHead.Load(), nil, start, end)
}

func (db *DB) List(start, end []byte) [][]byte {
	return listMatches(db.resolvedHead.Load(), nil, start, end)
}

func (db *DB) Scan(start, end []byte) (keys [][]byte, values [][]byte) {
	return scanMatches(db.resolvedHead.Load(), nil, start, end)
}

// Write commits a single key/value pair as its own one-node
// transaction and returns the commit timestamp.
func (db *DB) Write(key, value []byte) (Timestamp, error) {
	tx := db.BeginTx()
	if err := tx.Write(key, value); err != nil {
		tx.Rollback()
		return Timestamp{}, err
	}
	return tx.Commit()
}

// ChainLength returns the number of nodes reachable from the current
// head, including the empty root.
func (db *DB) ChainLength() int64 {
	return db.nodeCount.Load()
}

// Close waits for any in-progress persist pass to finish and closes
// the backing log file. It writes nothing itself. A no-op for an
// in-memory DB.
func (db *DB) Close() error {
	if db.sink == nil {
		return nil
	}
	db.persistMu.Lock()
	defer db.persistMu.Unlock()
	return db.sink.f.Close()
}
