package store

import "errors"

// Sentinel errors for typed handling by callers, matching the taxonomy
// of kinds the protocol and CLI layers branch on with errors.Is rather
// than string matching.
var (
	// ErrConflict is returned by Tx.Commit when the transaction's read
	// or scan witnesses intersect a commit interposed since its
	// snapshot. Recoverable: the caller may retry with a fresh
	// transaction.
	ErrConflict = errors.New("store: transaction conflicts with an interposed commit")

	// ErrTxDone is returned by Tx.Write and Tx.Commit once the
	// transaction has already committed, failed to commit, or rolled
	// back. Tx's read methods return an empty result in that state.
	ErrTxDone = errors.New("store: transaction already completed")

	// ErrInvariant marks a caller-level programming error: a key or
	// value exceeding the 2^32-1 byte limit the wire format and log
	// format can represent.
	ErrInvariant = errors.New("store: key or value exceeds the 2^32-1 byte limit")
)

// errTornTail marks a trailing byte range of the log that does not form
// a complete record. It never escapes this package: Open downgrades it
// to a logged truncation and continues.
var errTornTail = errors.New("store: torn tail record")
