// Package txlog implements the redo log: an append-only NVM stream of DATA
// and TXN_COMMIT records, framed with a fixed 24-byte header.
//
// Adapted from pkg/wal/entry.go, trimmed to the two record kinds the spec
// names (DATA, TXN_COMMIT) instead of the teacher's six WAL entry types, and
// carrying a Tid instead of an LSN - the redo log orders records by
// transaction, not by a separate sequence counter.
package txlog

import (
	"encoding/binary"
	"io"
)

const (
	// HeaderSize is the fixed on-disk header size: kind(2) + payloadLen(8)
	// + tid(4) + padding(10) = 24, aligned the same way pkg/wal's header is.
	HeaderSize = 24

	// Magic is a marker value for this log format. The Writer does not write
	// it and the Reader does not check it.
	Magic = 0xC0FFEE11
)

// Kind distinguishes a DATA record (one touched record's post-image) from a
// TXN_COMMIT marker (the durability point for a whole transaction).
type Kind uint16

const (
	KindData Kind = iota
	KindTxnCommit
)

// Header is the 24-byte record header, little-endian, exactly as spec
// section 6 describes it.
type Header struct {
	Kind       Kind
	PayloadLen uint64
	Tid        uint32
}

// Encode serializes h into buf, which must be at least HeaderSize bytes.
func (h *Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h.Kind))
	binary.LittleEndian.PutUint64(buf[2:10], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[10:14], h.Tid)
	for i := 14; i < HeaderSize; i++ {
		buf[i] = 0
	}
}

// Decode deserializes buf (at least HeaderSize bytes) into h.
func (h *Header) Decode(buf []byte) {
	h.Kind = Kind(binary.LittleEndian.Uint16(buf[0:2]))
	h.PayloadLen = binary.LittleEndian.Uint64(buf[2:10])
	h.Tid = binary.LittleEndian.Uint32(buf[10:14])
}

// Record is one framed log entry: header plus payload bytes. For KindData,
// Payload is the BSON-encoded post-image of a single touched record
// (pkg/txn.DataEnvelope); for KindTxnCommit, Payload is the 4-byte
// little-endian tid (redundant with Header.Tid, but matches the on-disk
// shape section 6 specifies).
type Record struct {
	Header  Header
	Payload []byte
}

// CommitPayload returns the 4-byte little-endian tid payload a TXN_COMMIT
// record carries alongside its header's own Tid field.
func CommitPayload(tid uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, tid)
	return buf
}

// WriteTo writes header then payload to w, matching wal.WALEntry.WriteTo.
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	var hdr [HeaderSize]byte
	r.Header.Encode(hdr[:])
	n, err := w.Write(hdr[:])
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(r.Payload)
	return int64(n + m), err
}
