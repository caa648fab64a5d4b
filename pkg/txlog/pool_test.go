package txlog

import "testing"

func TestRecordPoolRoundTrip(t *testing.T) {
	rec := AcquireRecord()
	rec.Header = Header{Kind: KindData, Tid: 3}
	rec.Payload = append(rec.Payload, []byte("hello")...)
	ReleaseRecord(rec)

	rec2 := AcquireRecord()
	if rec2.Header != (Header{}) {
		t.Fatalf("pooled record header not reset: %+v", rec2.Header)
	}
	if len(rec2.Payload) != 0 {
		t.Fatalf("pooled record payload not reset: %v", rec2.Payload)
	}
}

func TestBufferPoolRoundTrip(t *testing.T) {
	buf := AcquireBuffer()
	if buf == nil {
		t.Fatal("AcquireBuffer returned nil")
	}
	*buf = append(*buf, 1, 2, 3)
	ReleaseBuffer(buf)

	buf2 := AcquireBuffer()
	if len(*buf2) != 0 {
		t.Fatalf("pooled buffer not reset: %v", *buf2)
	}
}
