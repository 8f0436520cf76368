// Package wire implements chainkv's binary request/response protocol:
// an opcode byte followed by u32-LE length-prefixed byte strings (§6.2).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Opcode identifies a request or response frame.
type Opcode byte

const (
	OpLen              Opcode = 1
	OpRead             Opcode = 2
	OpWrite            Opcode = 3
	OpStartTransaction Opcode = 4
	OpCommit           Opcode = 5
	OpRollback         Opcode = 6
	OpCount            Opcode = 7
	OpList             Opcode = 8
	OpScan             Opcode = 9
	OpStartSnapshot    Opcode = 10
	OpLimitExceeded    Opcode = 254
	OpConflict         Opcode = 255
)

func (op Opcode) String() string {
	switch op {
	case OpLen:
		return "LEN"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpStartTransaction:
		return "START_TRANSACTION"
	case OpCommit:
		return "COMMIT"
	case OpRollback:
		return "ROLLBACK"
	case OpCount:
		return "COUNT"
	case OpList:
		return "LIST"
	case OpScan:
		return "SCAN"
	case OpStartSnapshot:
		return "START_SNAPSHOT"
	case OpLimitExceeded:
		return "LIMIT_EXCEEDED"
	case OpConflict:
		return "CONFLICT"
	default:
		return fmt.Sprintf("opcode(%d)", byte(op))
	}
}

// ProtocolError marks a frame the server could not accept: an
// unrecognized opcode, a malformed length-prefixed field, or a request
// that is not valid in the connection's current mode. The
// connection that produced it must be closed, matching the original
// server's behavior of treating protocol errors as fatal to the
// connection rather than recoverable per-request.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "wire: protocol error: " + e.Reason }

// ErrLimitExceeded is the sentinel for a read-shaped response (READ,
// LIST, SCAN) that would exceed the client's stated byte cap. No
// function in this package returns it; package server checks the cap
// itself and sends OpLimitExceeded instead of the normal response.
var ErrLimitExceeded = errors.New("wire: response exceeds client_max")

// ReadOpcode reads a single opcode byte.
func ReadOpcode(r io.Reader) (Opcode, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Opcode(b[0]), nil
}

// WriteOpcode writes a single opcode byte.
func WriteOpcode(w io.Writer, op Opcode) error {
	_, err := w.Write([]byte{byte(op)})
	return err
}

// ReadBytes reads a u32-LE length followed by that many bytes.
func ReadBytes(r io.Reader, maxLen uint32) ([]byte, error) {
	var lbuf [4]byte
	if _, err := io.ReadFull(r, lbuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lbuf[:])
	if maxLen != 0 && n > maxLen {
		return nil, &ProtocolError{Reason: fmt.Sprintf("length field %d exceeds frame cap %d", n, maxLen)}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteBytes writes a u32-LE length followed by b.
func WriteBytes(w io.Writer, b []byte) error {
	var lbuf [4]byte
	binary.LittleEndian.PutUint32(lbuf[:], uint32(len(b)))
	if _, err := w.Write(lbuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadU32 reads a bare u32-LE integer (used for client_max fields).
func ReadU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteU32 writes a bare u32-LE integer.
func WriteU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}
