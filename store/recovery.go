package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Open opens (or creates) the log file at path and replays every
// complete record in it to rebuild the commit chain (§4.6). A
// trailing incomplete record — one cut short by a crash mid-write —
// is detected and the file is truncated back to the last complete
// record's end; recovery then proceeds as if that tail had never been
// written.
func Open(path string, opts ...Option) (*DB, error) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open log: %w", err)
	}

	root := &Node{}
	var tail *Node = root
	var count int64 = 1

	br := bufio.NewReader(f)
	var offset int64
	for {
		rec, n, err := decodeRecord(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, errTornTail) {
				c.logger.Warn().
					Int64("offset", offset).
					Msg("truncating torn tail record from log")
				if terr := f.Truncate(offset); terr != nil {
					f.Close()
					return nil, fmt.Errorf("store: truncate torn tail: %w", terr)
				}
				break
			}
			f.Close()
			return nil, fmt.Errorf("store: recover log at offset %d: %w", offset, err)
		}
		offset += n
		tail = &Node{prev: tail, time: rec.time, changes: rec.changes}
		count++
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: seek after recovery: %w", err)
	}

	db := &DB{
		logger:   c.logger,
		metrics:  c.metrics,
		syncMode: c.syncMode,
		sink:     &sink{f: f, offset: offset, syncMode: c.syncMode},
	}
	db.resolvedHead.Store(tail)
	db.serializedHead.Store(tail)
	db.nodeCount.Store(count)
	db.metrics.ChainLength(count)
	c.logger.Info().
		Int64("nodes", count).
		Str("path", path).
		Msg("recovered log")
	return db, nil
}
