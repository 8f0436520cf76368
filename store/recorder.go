package store

import "time"

// Recorder receives observability events emitted by a DB. Implementations
// must be safe for concurrent use from many goroutines, the same
// contract a DB itself carries. Package metrics provides the
// Prometheus-backed implementation used by cmd/kvchaind; store itself
// stays dependency-free of any particular metrics backend so it can be
// embedded without pulling one in.
type Recorder interface {
	// CommitResult is called once per Tx.Commit with "ok", "conflict",
	// or "io_error".
	CommitResult(result string)
	// CommitRetry is called once per CAS-loop retry (§4.4 step 5).
	CommitRetry()
	// PersistLatency is called once per log record written, with the
	// wall-clock time spent on that single record's truncate/seek/
	// write/sync sequence.
	PersistLatency(d time.Duration)
	// ChainLength is called after a successful commit or a recovery
	// with the number of nodes now reachable from the resolved head.
	ChainLength(n int64)
}

type noopRecorder struct{}

func (noopRecorder) CommitResult(string)          {}
func (noopRecorder) CommitRetry()                 {}
func (noopRecorder) PersistLatency(time.Duration)  {}
func (noopRecorder) ChainLength(int64)             {}
