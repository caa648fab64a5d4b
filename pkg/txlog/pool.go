package txlog

import "sync"

// Pooling for Record/byte-buffer reuse under heavy commit throughput,
// grounded on pkg/wal/pool.go. Callers building DATA/TXN_COMMIT records at
// commit time (pkg/txn's OCC/TwoPL/ParOCC) acquire a Record, fill it, hand
// it to the Writer, then release it - the same acquire/fill/write/release
// shape pkg/storage/transaction_write.go uses around its WAL entries.

var recordPool = sync.Pool{
	New: func() interface{} {
		return &Record{Payload: make([]byte, 0, 4096)}
	},
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, 8192)
		return &buf
	},
}

// AcquireRecord returns a reset Record from the pool.
func AcquireRecord() *Record {
	return recordPool.Get().(*Record)
}

// ReleaseRecord returns r to the pool after zeroing its header and
// truncating (not discarding) its payload backing array.
func ReleaseRecord(r *Record) {
	r.Header = Header{}
	r.Payload = r.Payload[:0]
	recordPool.Put(r)
}

// AcquireBuffer returns a reset byte buffer from the pool.
func AcquireBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// ReleaseBuffer returns buf to the pool.
func ReleaseBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}
