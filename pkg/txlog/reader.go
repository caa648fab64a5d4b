// Reader replays a log file sequentially, exactly as pkg/wal/reader.go does,
// adapted to this package's two-kind record format and trailing checksum.
package txlog

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

var (
	ErrChecksumMismatch = errors.New("txlog: checksum mismatch")
	ErrInvalidPayloadLen = errors.New("txlog: implausible payload length")

	// maxPayload bounds a single record's payload so a corrupt length field
	// can't make the reader try to allocate gigabytes.
	maxPayload = uint64(1 << 30)
)

// Reader walks a log file from the beginning, record by record.
type Reader struct {
	file   *os.File
	offset int64
}

// NewReader opens the log file at path for replay.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f}, nil
}

// Next reads the following record, validating its checksum. It returns
// io.EOF (wrapped by nothing - callers should compare with errors.Is) once
// the file is exhausted.
func (r *Reader) Next() (*Record, error) {
	var hdrBuf [HeaderSize]byte
	if _, err := io.ReadFull(r.file, hdrBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	var hdr Header
	hdr.Decode(hdrBuf[:])
	if hdr.PayloadLen > maxPayload {
		return nil, ErrInvalidPayloadLen
	}

	payload := make([]byte, hdr.PayloadLen)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		return nil, err
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r.file, crcBuf[:]); err != nil {
		return nil, err
	}
	want := binary.LittleEndian.Uint32(crcBuf[:])
	if !validChecksum(payload, want) {
		return nil, ErrChecksumMismatch
	}

	r.offset += HeaderSize + int64(hdr.PayloadLen) + 4
	return &Record{Header: hdr, Payload: payload}, nil
}

// Offset returns the reader's current byte position, usable as a replay
// high-water mark for pkg/txlog.Truncator.
func (r *Reader) Offset() int64 { return r.offset }

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.file.Close() }
