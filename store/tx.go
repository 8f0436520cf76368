package store

import "sync/atomic"

type txState uint32

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
	txFailed
)

// scanWitness is a registered (start, end) pair from a Count/List/Scan
// call, checked against every key written by a commit interposed since
// the transaction's snapshot.
type scanWitness struct {
	start, end string
}

// Tx is an optimistic read-write transaction: a staged change-set plus
// witnesses of every read and scan performed against a fixed base
// snapshot (§4.3). A Tx is not safe for concurrent use by multiple
// goroutines — like a database/sql transaction, it belongs to one
// goroutine from Begin to Commit/Rollback.
type Tx struct {
	db     *DB
	base   *Node
	writes ChangeSet
	reads  map[string]struct{}
	scans  []scanWitness
	state  atomic.Uint32
}

func newTx(db *DB, base *Node) *Tx {
	return &Tx{
		db:     db,
		base:   base,
		writes: make(ChangeSet),
		reads:  make(map[string]struct{}),
	}
}

func (tx *Tx) checkOpen() error {
	if txState(tx.state.Load()) != txOpen {
		return ErrTxDone
	}
	return nil
}

// Write stages key=value in the transaction's local change-set. It is
// not visible to any other transaction, nor to the database, until
// Commit succeeds. The empty key is a no-op; a key or value over
// 2^32-1 bytes fails with ErrInvariant rather than being staged.
func (tx *Tx) Write(key, value []byte) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if len(key) == 0 {
		return nil
	}
	if uint64(len(key)) > maxLen || uint64(len(value)) > maxLen {
		return ErrInvariant
	}
	v := make([]byte, len(value))
	copy(v, value)
	tx.writes[string(key)] = v
	return nil
}

// Read returns the value the transaction sees for key: its own staged
// write if any (read-your-own-writes), else the effective value in the
// base snapshot, which is additionally recorded as a read witness.
func (tx *Tx) Read(key []byte) []byte {
	if err := tx.checkOpen(); err != nil {
		return nil
	}
	if len(key) == 0 {
		return nil
	}
	k := string(key)
	if v, ok := tx.writes[k]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out
	}
	tx.reads[k] = struct{}{}
	v := effectiveValue(tx.base, key)
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// Len is Read's length, without copying the value out.
func (tx *Tx) Len(key []byte) uint32 {
	return uint32(len(tx.Read(key)))
}

// Count registers (start, end) as a scan witness and returns the match
// count computed over the staged writes layered atop the base
// snapshot, so a key the transaction just wrote is counted.
func (tx *Tx) Count(start, end []byte) uint32 {
	if err := tx.checkOpen(); err != nil {
		return 0
	}
	tx.registerScan(start, end)
	return countMatches(tx.base, tx.writes, start, end)
}

// List is Count's sorted key listing.
func (tx *Tx) List(start, end []byte) [][]byte {
	if err := tx.checkOpen(); err != nil {
		return nil
	}
	tx.registerScan(start, end)
	return listMatches(tx.base, tx.writes, start, end)
}

// Scan is List paired with effective values.
func (tx *Tx) Scan(start, end []byte) (keys [][]byte, values [][]byte) {
	if err := tx.checkOpen(); err != nil {
		return nil, nil
	}
	tx.registerScan(start, end)
	return scanMatches(tx.base, tx.writes, start, end)
}

func (tx *Tx) registerScan(start, end []byte) {
	if uint64(len(start))+uint64(len(end)) > maxLen {
		return
	}
	tx.scans = append(tx.scans, scanWitness{start: string(start), end: string(end)})
}

// Commit attempts to linearize the transaction's staged writes onto the
// chain head, validating witnesses against anything interposed since
// the base snapshot (§4.4). On success it returns the commit's
// timestamp. ErrConflict and I/O errors are distinguishable with
// errors.Is; either terminates the transaction.
func (tx *Tx) Commit() (Timestamp, error) {
	if !tx.state.CompareAndSwap(uint32(txOpen), uint32(txCommitted)) {
		return Timestamp{}, ErrTxDone
	}
	ts, err := tx.db.commit(tx)
	if err != nil {
		tx.state.Store(uint32(txFailed))
	}
	return ts, err
}

// Rollback discards the transaction's staged state. Safe to call
// multiple times and after Commit (idempotent no-op in that case).
func (tx *Tx) Rollback() {
	tx.state.CompareAndSwap(uint32(txOpen), uint32(txRolledBack))
}
