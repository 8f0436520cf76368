package store

import (
	"encoding/binary"
	"errors"
	"io"
)

// rawRecord is a decoded log record before it is linked into a Node.
type rawRecord struct {
	time    Timestamp
	changes ChangeSet
}

// encodeNode writes n in the §6.1 on-disk format:
//
//	record    := timestamp kv_count kv_entry{kv_count}
//	timestamp := u64 seconds  u32 nanoseconds
//	kv_count  := u32
//	kv_entry  := u32 k_len  key  u32 v_len  value
//
// It returns the number of bytes written, which the caller uses to
// advance its log cursor.
func encodeNode(w io.Writer, n *Node) (int64, error) {
	var written int64

	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[0:8], n.time.Sec)
	binary.LittleEndian.PutUint32(hdr[8:12], n.time.Nsec)
	nw, err := w.Write(hdr[:])
	written += int64(nw)
	if err != nil {
		return written, err
	}

	var cbuf [4]byte
	binary.LittleEndian.PutUint32(cbuf[:], uint32(len(n.changes)))
	nw, err = w.Write(cbuf[:])
	written += int64(nw)
	if err != nil {
		return written, err
	}

	for k, v := range n.changes {
		n1, err := writeLenPrefixed(w, []byte(k))
		written += n1
		if err != nil {
			return written, err
		}
		n2, err := writeLenPrefixed(w, v)
		written += n2
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func writeLenPrefixed(w io.Writer, b []byte) (int64, error) {
	var lbuf [4]byte
	binary.LittleEndian.PutUint32(lbuf[:], uint32(len(b)))
	n1, err := w.Write(lbuf[:])
	if err != nil {
		return int64(n1), err
	}
	n2, err := w.Write(b)
	return int64(n1 + n2), err
}

// readField reads exactly len(buf) bytes. A genuine I/O error is
// returned as-is (a hard failure that aborts recovery). io.EOF with
// zero bytes read on the very first field of a record (first == true)
// signals a clean end of log and is returned unchanged so the caller
// can stop without truncating. Any other short read — io.EOF with n >
// 0, io.ErrUnexpectedEOF, or io.EOF on a non-first field — is a torn
// tail.
func readField(r io.Reader, buf []byte, first bool) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		if first && n == 0 {
			return n, io.EOF
		}
		return n, errTornTail
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, errTornTail
	}
	return n, err
}

func readLenPrefixed(r io.Reader) ([]byte, int64, error) {
	var lbuf [4]byte
	n, err := readField(r, lbuf[:], false)
	consumed := int64(n)
	if err != nil {
		return nil, consumed, err
	}
	l := binary.LittleEndian.Uint32(lbuf[:])
	buf := make([]byte, l)
	n2, err := readField(r, buf, false)
	consumed += int64(n2)
	if err != nil {
		return nil, consumed, err
	}
	return buf, consumed, nil
}

// decodeRecord reads one record from r. It returns (nil, n, io.EOF) at
// a clean end of log, (nil, n, errTornTail) at an incomplete trailing
// record (including a nanoseconds field >= 1e9, per §4.6 — treated as
// torn-tail rather than hard corruption), or (nil, n, err) for any
// other I/O error, which the caller must treat as fatal to the open.
func decodeRecord(r io.Reader) (*rawRecord, int64, error) {
	var consumed int64

	var secbuf [8]byte
	n, err := readField(r, secbuf[:], true)
	consumed += int64(n)
	if err != nil {
		return nil, consumed, err
	}
	sec := binary.LittleEndian.Uint64(secbuf[:])

	var nsecbuf [4]byte
	n, err = readField(r, nsecbuf[:], false)
	consumed += int64(n)
	if err != nil {
		return nil, consumed, err
	}
	nsec := binary.LittleEndian.Uint32(nsecbuf[:])
	if nsec >= 1_000_000_000 {
		return nil, consumed, errTornTail
	}

	var cbuf [4]byte
	n, err = readField(r, cbuf[:], false)
	consumed += int64(n)
	if err != nil {
		return nil, consumed, err
	}
	count := binary.LittleEndian.Uint32(cbuf[:])

	changes := make(ChangeSet, count)
	for i := uint32(0); i < count; i++ {
		k, kn, err := readLenPrefixed(r)
		consumed += kn
		if err != nil {
			return nil, consumed, err
		}
		v, vn, err := readLenPrefixed(r)
		consumed += vn
		if err != nil {
			return nil, consumed, err
		}
		changes[string(k)] = v
	}

	return &rawRecord{time: Timestamp{Sec: sec, Nsec: nsec}, changes: changes}, consumed, nil
}
