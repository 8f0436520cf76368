package store

// Snapshot is a read-only handle pinning one chain node. It answers
// point reads and range queries by walking toward the origin; it never
// blocks and never conflicts with concurrent writers, since the chain
// it walks is immutable once linked.
//
// A Snapshot's node is never nil in practice — the chain always has at
// least the empty root node — but every method here is nil-receiver
// safe too, so a *Snapshot zero value (e.g. an uninitialized field)
// behaves the same as one pinning the empty root: no keys, zero
// Count/Len, empty List/Scan. PastByUnixTime returns the root node,
// not a nil one, when no commit is old enough.
type Snapshot struct {
	node *Node
}

// Len returns the length of the effective value for key, or 0 if key
// is empty, absent, or deleted.
func (s *Snapshot) Len(key []byte) uint32 {
	if s == nil || len(key) == 0 {
		return 0
	}
	return uint32(len(effectiveValue(s.node, key)))
}

// Read returns the effective value for key, or an empty slice if key
// is empty, absent, or deleted.
func (s *Snapshot) Read(key []byte) []byte {
	if s == nil || len(key) == 0 {
		return nil
	}
	v := effectiveValue(s.node, key)
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// Count returns the number of keys with a non-empty effective value
// that start with start and end with end (§4.2).
func (s *Snapshot) Count(start, end []byte) uint32 {
	if s == nil {
		return 0
	}
	return countMatches(s.node, nil, start, end)
}

// List returns, sorted ascending, the keys with a non-empty effective
// value that start with start and end with end.
func (s *Snapshot) List(start, end []byte) [][]byte {
	if s == nil {
		return nil
	}
	return listMatches(s.node, nil, start, end)
}

// Scan returns, sorted ascending by key, the keys and effective values
// matching start/end.
func (s *Snapshot) Scan(start, end []byte) (keys [][]byte, values [][]byte) {
	if s == nil {
		return nil, nil
	}
	return scanMatches(s.node, nil, start, end)
}

// Time returns the commit timestamp of the node this snapshot pins, or
// the zero Timestamp for an empty database.
func (s *Snapshot) Time() Timestamp {
	if s == nil {
		return Timestamp{}
	}
	return s.node.Time()
}
