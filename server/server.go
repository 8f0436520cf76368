// Package server implements the chainkv wire protocol's per-connection
// state machine over package wire, dispatching onto a package store
// DB/Tx/Snapshot (§6.2, §C8).
package server

import (
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chainkv/metrics"
	"chainkv/store"
	"chainkv/wire"
)

// mode is which of the three protocol states a connection is in.
type mode int

const (
	modeNormal mode = iota
	modeTransaction
	modeSnapshot
)

// Server serves chainkv connections against a single store.DB.
type Server struct {
	db       *store.DB
	logger   zerolog.Logger
	maxBytes uint32
}

// New returns a Server. maxBytes caps any single length-prefixed field
// the wire layer will accept before failing the connection as a
// protocol error (distinct from client_max, which is a per-request,
// client-chosen response cap).
func New(db *store.DB, logger zerolog.Logger, maxBytes uint32) *Server {
	return &Server{db: db, logger: logger, maxBytes: maxBytes}
}

// Serve accepts connections on ln until it returns an error (including
// when ln is closed).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	id := uuid.New()
	logger := s.logger.With().Str("conn", id.String()).Logger()
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()
	defer conn.Close()

	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("connection opened")
	c := &connState{srv: s, conn: conn, logger: logger}
	err := c.serve()
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		logger.Info().Msg("connection closed")
	default:
		var protoErr *wire.ProtocolError
		if errors.As(err, &protoErr) {
			logger.Warn().Err(err).Msg("protocol error, closing connection")
		} else {
			logger.Error().Err(err).Msg("connection error")
		}
	}
}

// connState holds one connection's protocol mode and any open
// transaction or snapshot (§6.2: Normal, Transaction, Snapshot).
type connState struct {
	srv    *Server
	conn   net.Conn
	logger zerolog.Logger

	mode mode
	tx   *store.Tx
	snap *store.Snapshot
}

func (c *connState) serve() error {
	for {
		op, err := wire.ReadOpcode(c.conn)
		if err != nil {
			return err
		}
		metrics.RequestReceived(op.String())
		if err := c.dispatch(op); err != nil {
			return err
		}
	}
}

func (c *connState) dispatch(op wire.Opcode) error {
	switch op {
	case wire.OpLen:
		return c.handleLen()
	case wire.OpRead:
		return c.handleRead()
	case wire.OpWrite:
		return c.handleWrite()
	case wire.OpStartTransaction:
		return c.handleStartTransaction()
	case wire.OpCommit:
		return c.handleCommit()
	case wire.OpRollback:
		return c.handleRollback()
	case wire.OpCount:
		return c.handleCount()
	case wire.OpList:
		return c.handleList()
	case wire.OpScan:
		return c.handleScan()
	case wire.OpStartSnapshot:
		return c.handleStartSnapshot()
	default:
		return &wire.ProtocolError{Reason: "unrecognized opcode " + op.String()}
	}
}

// readBytes reads one of the length-prefixed fields shared across
// handlers, capped at the server's configured frame limit.
func (c *connState) readBytes() ([]byte, error) {
	return wire.ReadBytes(c.conn, c.srv.maxBytes)
}

func (c *connState) len(key []byte) uint32 {
	switch c.mode {
	case modeTransaction:
		return c.tx.Len(key)
	case modeSnapshot:
		return c.snap.Len(key)
	default:
		return c.srv.db.Len(key)
	}
}

func (c *connState) read(key []byte) []byte {
	switch c.mode {
	case modeTransaction:
		return c.tx.Read(key)
	case modeSnapshot:
		return c.snap.Read(key)
	default:
		return c.srv.db.Read(key)
	}
}

func (c *connState) count(start, end []byte) uint32 {
	switch c.mode {
	case modeTransaction:
		return c.tx.Count(start, end)
	case modeSnapshot:
		return c.snap.Count(start, end)
	default:
		return c.srv.db.Count(start, end)
	}
}

func (c *connState) list(start, end []byte) [][]byte {
	switch c.mode {
	case modeTransaction:
		return c.tx.List(start, end)
	case modeSnapshot:
		return c.snap.List(start, end)
	default:
		return c.srv.db.List(start, end)
	}
}

func (c *connState) scan(start, end []byte) ([][]byte, [][]byte) {
	switch c.mode {
	case modeTransaction:
		return c.tx.Scan(start, end)
	case modeSnapshot:
		return c.snap.Scan(start, end)
	default:
		return c.srv.db.Scan(start, end)
	}
}

func (c *connState) handleLen() error {
	key, err := c.readBytes()
	if err != nil {
		return err
	}
	n := c.len(key)
	if err := wire.WriteOpcode(c.conn, wire.OpLen); err != nil {
		return err
	}
	return wire.WriteU32(c.conn, n)
}

func (c *connState) handleRead() error {
	key, err := c.readBytes()
	if err != nil {
		return err
	}
	clientMax, err := wire.ReadU32(c.conn)
	if err != nil {
		return err
	}
	value := c.read(key)
	if uint32(len(value)) > clientMax {
		return wire.WriteOpcode(c.conn, wire.OpLimitExceeded)
	}
	if err := wire.WriteOpcode(c.conn, wire.OpRead); err != nil {
		return err
	}
	return wire.WriteBytes(c.conn, value)
}

func (c *connState) handleWrite() error {
	key, err := c.readBytes()
	if err != nil {
		return err
	}
	value, err := c.readBytes()
	if err != nil {
		return err
	}
	if c.mode != modeTransaction {
		if c.mode == modeSnapshot {
			return &wire.ProtocolError{Reason: "WRITE is not valid in Snapshot mode"}
		}
		if _, err := c.srv.db.Write(key, value); err != nil && !errors.Is(err, store.ErrInvariant) {
			return err
		}
	} else if err := c.tx.Write(key, value); err != nil && !errors.Is(err, store.ErrInvariant) {
		return err
	}
	return wire.WriteOpcode(c.conn, wire.OpWrite)
}

func (c *connState) handleStartTransaction() error {
	c.rollbackCurrent()
	c.tx = c.srv.db.BeginTx()
	c.mode = modeTransaction
	return wire.WriteOpcode(c.conn, wire.OpStartTransaction)
}

func (c *connState) handleCommit() error {
	if c.mode != modeTransaction {
		return &wire.ProtocolError{Reason: "COMMIT outside a transaction"}
	}
	_, err := c.tx.Commit()
	c.tx = nil
	c.mode = modeNormal
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return wire.WriteOpcode(c.conn, wire.OpConflict)
		}
		return err
	}
	return wire.WriteOpcode(c.conn, wire.OpCommit)
}

func (c *connState) handleRollback() error {
	c.rollbackCurrent()
	c.mode = modeNormal
	return wire.WriteOpcode(c.conn, wire.OpRollback)
}

func (c *connState) handleCount() error {
	start, err := c.readBytes()
	if err != nil {
		return err
	}
	end, err := c.readBytes()
	if err != nil {
		return err
	}
	n := c.count(start, end)
	if err := wire.WriteOpcode(c.conn, wire.OpCount); err != nil {
		return err
	}
	return wire.WriteU32(c.conn, n)
}

func (c *connState) handleList() error {
	start, err := c.readBytes()
	if err != nil {
		return err
	}
	end, err := c.readBytes()
	if err != nil {
		return err
	}
	clientMax, err := wire.ReadU32(c.conn)
	if err != nil {
		return err
	}
	keys := c.list(start, end)
	var total uint64
	for _, k := range keys {
		total += uint64(len(k))
	}
	if total > uint64(clientMax) {
		return wire.WriteOpcode(c.conn, wire.OpLimitExceeded)
	}
	if err := wire.WriteOpcode(c.conn, wire.OpList); err != nil {
		return err
	}
	if err := wire.WriteU32(c.conn, uint32(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := wire.WriteBytes(c.conn, k); err != nil {
			return err
		}
	}
	return nil
}

func (c *connState) handleScan() error {
	start, err := c.readBytes()
	if err != nil {
		return err
	}
	end, err := c.readBytes()
	if err != nil {
		return err
	}
	clientMax, err := wire.ReadU32(c.conn)
	if err != nil {
		return err
	}
	keys, values := c.scan(start, end)
	var total uint64
	for i := range keys {
		total += uint64(len(keys[i])) + uint64(len(values[i]))
	}
	if total > uint64(clientMax) {
		return wire.WriteOpcode(c.conn, wire.OpLimitExceeded)
	}
	if err := wire.WriteOpcode(c.conn, wire.OpScan); err != nil {
		return err
	}
	if err := wire.WriteU32(c.conn, uint32(len(keys))); err != nil {
		return err
	}
	for i := range keys {
		if err := wire.WriteBytes(c.conn, keys[i]); err != nil {
			return err
		}
		if err := wire.WriteBytes(c.conn, values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *connState) handleStartSnapshot() error {
	c.rollbackCurrent()
	var hasTime [1]byte
	if _, err := io.ReadFull(c.conn, hasTime[:]); err != nil {
		return err
	}
	if hasTime[0] != 0 {
		sec, err := readU64(c.conn)
		if err != nil {
			return err
		}
		nsec, err := wire.ReadU32(c.conn)
		if err != nil {
			return err
		}
		c.snap = c.srv.db.PastByUnixTime(sec, nsec)
	} else {
		c.snap = c.srv.db.Current()
	}
	c.mode = modeSnapshot
	return wire.WriteOpcode(c.conn, wire.OpStartSnapshot)
}

func (c *connState) rollbackCurrent() {
	if c.mode == modeTransaction && c.tx != nil {
		c.tx.Rollback()
		c.tx = nil
	}
	c.snap = nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56, nil
}
