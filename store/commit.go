package store

import (
	"fmt"
	"time"
)

func now() Timestamp {
	t := time.Now()
	return Timestamp{Sec: uint64(t.Unix()), Nsec: uint32(t.Nanosecond())}
}

// commit implements §4.4: assign a node to tx's staged writes, attempt
// to CAS it onto resolvedHead, and on a losing race validate the
// transaction's witnesses against exactly the nodes interposed since
// its snapshot before retrying.
func (db *DB) commit(tx *Tx) (Timestamp, error) {
	base := tx.base
	node := &Node{prev: base, changes: tx.writes}
	for {
		node.time = now()
		if db.resolvedHead.CompareAndSwap(base, node) {
			db.nodeCount.Add(1)
			db.logger.Debug().
				Int("written_keys", len(node.changes)).
				Uint64("time_sec", node.time.Sec).
				Msg("linearized commit")
			if err := db.persist(); err != nil {
				db.metrics.CommitResult("io_error")
				return node.time, fmt.Errorf("store: persist commit: %w", err)
			}
			db.metrics.CommitResult("ok")
			db.metrics.ChainLength(db.nodeCount.Load())
			return node.time, nil
		}

		head := db.resolvedHead.Load()
		if err := validateWitnesses(head, base, tx); err != nil {
			db.metrics.CommitResult("conflict")
			db.logger.Warn().
				Int("read_witnesses", len(tx.reads)).
				Int("scan_witnesses", len(tx.scans)).
				Msg("transaction conflict detected at commit")
			return Timestamp{}, err
		}
		db.metrics.CommitRetry()
		node.prev = head
		base = head
	}
}

// validateWitnesses walks from head toward base (exclusive of base —
// the walk stops the instant it reaches base, never inspecting base's
// own change-set) checking every interposed node's changed keys
// against tx's read and scan witnesses.
func validateWitnesses(head, base *Node, tx *Tx) error {
	for cur := head; cur != base && cur != nil; cur = cur.prev {
		for k := range cur.changes {
			if _, ok := tx.reads[k]; ok {
				return ErrConflict
			}
			for _, sw := range tx.scans {
				if matchesRange(k, []byte(sw.start), []byte(sw.end)) {
					return ErrConflict
				}
			}
		}
	}
	return nil
}
