package txlog

import (
	"io"
	"os"
	"testing"

	"github.com/cockroachdb/errors"
)

func openTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.DirPath = dir
	opts.SyncPolicy = SyncEveryWrite
	w, err := NewWriter(opts)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	return w, dir
}

func readAll(t *testing.T, dir string) []*Record {
	t.Helper()
	r, err := NewReader(dir + "/data.log")
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var recs []*Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		recs = append(recs, rec)
	}
	return recs
}

// TestReplay_Idempotent is property 4: replaying the same well-formed log
// twice produces the same sequence of records both times - nothing in the
// reader carries state across a fresh Reader instance.
func TestReplay_Idempotent(t *testing.T) {
	w, dir := openTestWriter(t)

	payload := []byte("row-1")
	rec := &Record{Header: Header{Kind: KindData, PayloadLen: uint64(len(payload)), Tid: 7}, Payload: payload}
	if err := w.WriteRecord(rec); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	commit := &Record{Header: Header{Kind: KindTxnCommit, Tid: 7}}
	if err := w.WriteRecord(commit); err != nil {
		t.Fatalf("WriteRecord commit: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	first := readAll(t, dir)
	second := readAll(t, dir)

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("got %d and %d records, want 2 and 2", len(first), len(second))
	}
	for i := range first {
		if first[i].Header.Kind != second[i].Header.Kind || first[i].Header.Tid != second[i].Header.Tid {
			t.Fatalf("record %d differs between replay passes", i)
		}
		if string(first[i].Payload) != string(second[i].Payload) {
			t.Fatalf("payload %d differs between replay passes", i)
		}
	}
}

// TestReplay_DurableAfterCommitMarker is property 5: once WriteRecord for a
// TXN_COMMIT marker returns (and the writer is synced), every record
// preceding it in the file is recoverable even if the process were to crash
// immediately after - this test stands in for that crash by closing the
// writer right after the marker and reopening the file cold.
func TestReplay_DurableAfterCommitMarker(t *testing.T) {
	w, dir := openTestWriter(t)

	for i, payload := range [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")} {
		rec := &Record{Header: Header{Kind: KindData, PayloadLen: uint64(len(payload)), Tid: uint32(i + 1)}, Payload: payload}
		if err := w.WriteRecord(rec); err != nil {
			t.Fatalf("WriteRecord %d: %v", i, err)
		}
	}
	commit := &Record{Header: Header{Kind: KindTxnCommit, Tid: 1}}
	if err := w.WriteRecord(commit); err != nil {
		t.Fatalf("WriteRecord commit: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// Simulate a crash right after the marker's sync returns: no further
	// writes, file handle closed without an orderly shutdown sequence.
	if err := w.file.Close(); err != nil {
		t.Fatalf("file.Close: %v", err)
	}

	recs := readAll(t, dir)
	if len(recs) != 4 {
		t.Fatalf("got %d records after simulated crash, want 4", len(recs))
	}
	if recs[3].Header.Kind != KindTxnCommit {
		t.Fatalf("last record kind = %v, want KindTxnCommit", recs[3].Header.Kind)
	}
}

func TestReplay_ChecksumMismatchDetected(t *testing.T) {
	w, dir := openTestWriter(t)
	payload := []byte("tampered")
	rec := &Record{Header: Header{Kind: KindData, PayloadLen: uint64(len(payload)), Tid: 1}, Payload: payload}
	if err := w.WriteRecord(rec); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Flip a payload byte in place to simulate on-disk corruption.
	path := dir + "/data.log"
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	data[HeaderSize] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite log file: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	if _, err := r.Next(); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Next() err = %v, want ErrChecksumMismatch", err)
	}
}
