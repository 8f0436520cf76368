package server_test

import (
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainkv/server"
	"chainkv/store"
	"chainkv/wire"
)

func newTestConn(t *testing.T) (net.Conn, *store.DB) {
	t.Helper()
	db := store.NewInMemory()
	t.Cleanup(func() { db.Close() })

	client, serverSide := net.Pipe()
	srv := server.New(db, zerolog.Nop(), 0)
	go func() {
		ln := &singleConnListener{conn: serverSide}
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() { client.Close() })
	return client, db
}

// singleConnListener hands out one already-accepted net.Conn (from
// net.Pipe, which has no listener of its own) and then blocks forever,
// matching Server.Serve's accept-loop contract for a test harness.
type singleConnListener struct {
	conn net.Conn
	done bool
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	if l.done {
		select {}
	}
	l.done = true
	return l.conn, nil
}
func (l *singleConnListener) Close() error   { return l.conn.Close() }
func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }

func expectOpcode(t *testing.T, conn net.Conn, want wire.Opcode) {
	t.Helper()
	got, err := wire.ReadOpcode(conn)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestWriteThenRead(t *testing.T) {
	conn, _ := newTestConn(t)

	require.NoError(t, wire.WriteOpcode(conn, wire.OpWrite))
	require.NoError(t, wire.WriteBytes(conn, []byte("k")))
	require.NoError(t, wire.WriteBytes(conn, []byte("v")))
	expectOpcode(t, conn, wire.OpWrite)

	require.NoError(t, wire.WriteOpcode(conn, wire.OpRead))
	require.NoError(t, wire.WriteBytes(conn, []byte("k")))
	require.NoError(t, wire.WriteU32(conn, 1024))
	expectOpcode(t, conn, wire.OpRead)
	got, err := wire.ReadBytes(conn, 0)
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestReadLimitExceeded(t *testing.T) {
	conn, db := newTestConn(t)
	_, err := db.Write([]byte("k"), []byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, wire.WriteOpcode(conn, wire.OpRead))
	require.NoError(t, wire.WriteBytes(conn, []byte("k")))
	require.NoError(t, wire.WriteU32(conn, 2))
	expectOpcode(t, conn, wire.OpLimitExceeded)
}

func TestTransactionCommitAndConflict(t *testing.T) {
	conn, db := newTestConn(t)

	require.NoError(t, wire.WriteOpcode(conn, wire.OpStartTransaction))
	expectOpcode(t, conn, wire.OpStartTransaction)

	require.NoError(t, wire.WriteOpcode(conn, wire.OpWrite))
	require.NoError(t, wire.WriteBytes(conn, []byte("k")))
	require.NoError(t, wire.WriteBytes(conn, []byte("v")))
	expectOpcode(t, conn, wire.OpWrite)

	require.NoError(t, wire.WriteOpcode(conn, wire.OpCommit))
	expectOpcode(t, conn, wire.OpCommit)

	// A second transaction reads "k", an outside write to "k" commits
	// first, and the transaction's commit is answered with CONFLICT.
	require.NoError(t, wire.WriteOpcode(conn, wire.OpStartTransaction))
	expectOpcode(t, conn, wire.OpStartTransaction)

	require.NoError(t, wire.WriteOpcode(conn, wire.OpRead))
	require.NoError(t, wire.WriteBytes(conn, []byte("k")))
	require.NoError(t, wire.WriteU32(conn, 1024))
	expectOpcode(t, conn, wire.OpRead)
	got, err := wire.ReadBytes(conn, 0)
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	_, err = db.Write([]byte("k"), []byte("w"))
	require.NoError(t, err)

	require.NoError(t, wire.WriteOpcode(conn, wire.OpCommit))
	expectOpcode(t, conn, wire.OpConflict)
}

func TestUnknownOpcodeClosesConnection(t *testing.T) {
	conn, _ := newTestConn(t)

	require.NoError(t, wire.WriteOpcode(conn, wire.Opcode(77)))
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	require.Error(t, err, "expected the connection to be closed after an unrecognized opcode")
}
