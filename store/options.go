package store

import "github.com/rs/zerolog"

// SyncMode selects how aggressively the persistence pipeline pushes a
// written record to stable storage (§4.5).
type SyncMode int

const (
	// SyncModeSync flushes and fsyncs every record before Commit
	// returns: the node is durable on stable storage.
	SyncModeSync SyncMode = iota
	// SyncModeFlush writes every record to the OS before Commit
	// returns, without fsync: it survives a process crash but not
	// necessarily an OS crash.
	SyncModeFlush
	// SyncModeCached writes every record before Commit returns and
	// never fsyncs at all: the spec's most lenient tier ("may be lost
	// on any crash"). See persist.go for why this implementation
	// behaves identically to SyncModeFlush rather than holding writes
	// in a process-local buffer.
	SyncModeCached
)

// String renders the sync mode the way the CLI's sync flags name it.
func (m SyncMode) String() string {
	switch m {
	case SyncModeSync:
		return "sync"
	case SyncModeFlush:
		return "flush"
	case SyncModeCached:
		return "cache"
	default:
		return "unknown"
	}
}

type config struct {
	logger   zerolog.Logger
	syncMode SyncMode
	metrics  Recorder
}

func defaultConfig() config {
	return config{
		logger:   zerolog.Nop(),
		syncMode: SyncModeSync,
		metrics:  noopRecorder{},
	}
}

// Option configures a DB at construction time (NewInMemory or Open).
type Option func(*config)

// WithLogger injects a zerolog.Logger the DB uses for commit, conflict,
// persist, and recovery events. The zero value (unset) is a no-op
// logger, matching a library that must not write to stderr by default.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithSyncMode selects the persistence pipeline's sync policy. Only
// meaningful for a DB opened against a log file; ignored by
// NewInMemory, which has no sink to flush.
func WithSyncMode(m SyncMode) Option {
	return func(c *config) { c.syncMode = m }
}

// WithMetrics injects a Recorder. Without this option the DB records
// nothing; r must not be nil.
func WithMetrics(r Recorder) Option {
	return func(c *config) { c.metrics = r }
}
