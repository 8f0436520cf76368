package store

import (
	"io"
	"os"
	"time"
)

// sink is the append-only log file a DB persists committed nodes to.
// It is nil for an in-memory DB (NewInMemory), in which case persist is
// a no-op.
//
// serializedHead tracks the newest node already written to f; persist
// walks resolvedHead back to serializedHead and writes the nodes it
// finds, oldest first, so the file's record order matches commit
// order even though the chain links newest-first.
type sink struct {
	f        *os.File
	offset   int64
	syncMode SyncMode
}

// persist writes every committed node between db.serializedHead
// (exclusive) and db.resolvedHead (inclusive) to the log file, oldest
// first, per §4.5. It takes db.persistMu for the whole pass, so only one
// goroutine ever appends to the file at a time; concurrent commits
// still race on resolvedHead via CAS, but the slower one simply finds
// more to persist once it acquires the lock.
//
// Each record is written at the tracked cursor (db.sink.offset): the
// file is seeked and truncated back to that cursor before the record
// is encoded, and serializedHead/offset only advance once that single
// record is fully on disk (and, under SyncModeSync, fsynced). This
// means a failure partway through the pending stack leaves the file
// and serializedHead pointing at the same, already-durable record —
// the next persist() call resumes exactly at the cursor instead of
// re-emitting already-written records after leftover partial-write
// bytes.
//
// SyncModeFlush and SyncModeCached behave identically here: both write
// every record to the OS (so a record never goes missing from the
// file once Commit returns) and skip fsync. A genuinely separate
// "cached" tier would hold records in a process-local buffer across
// commits, but doing that safely would require decoupling the buffer
// from the file's actual length, and this pipeline's recovery-on-crash
// correctness depends on the file's length always matching exactly
// what has been written. Exceeding the minimum durability guarantee
// for SyncModeCached is always a legal implementation choice, so the
// two modes are collapsed.
func (db *DB) persist() error {
	if db.sink == nil {
		return nil
	}
	db.persistMu.Lock()
	defer db.persistMu.Unlock()

	head := db.resolvedHead.Load()
	serialized := db.serializedHead.Load()
	if head == serialized {
		return nil
	}

	var pending []*Node
	for cur := head; cur != serialized && cur != nil; cur = cur.prev {
		pending = append(pending, cur)
	}
	for i := len(pending) - 1; i >= 0; i-- {
		start := time.Now()
		node := pending[i]
		cursor := db.sink.offset

		if _, err := db.sink.f.Seek(cursor, io.SeekStart); err != nil {
			db.metrics.PersistLatency(time.Since(start))
			return err
		}
		if err := db.sink.f.Truncate(cursor); err != nil {
			db.metrics.PersistLatency(time.Since(start))
			return err
		}

		n, err := encodeNode(db.sink.f, node)
		if err != nil {
			db.metrics.PersistLatency(time.Since(start))
			return err
		}
		if db.sink.syncMode == SyncModeSync {
			if err := db.sink.f.Sync(); err != nil {
				db.metrics.PersistLatency(time.Since(start))
				return err
			}
		}

		db.sink.offset = cursor + n
		db.serializedHead.Store(node)
		db.metrics.PersistLatency(time.Since(start))
	}
	return nil
}
