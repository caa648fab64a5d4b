package txlog

import "hash/crc32"

// CRC32 Castagnoli, matching pkg/wal/checksum.go. The checksum trails the
// payload (not the header) so the header itself stays exactly the 24 bytes
// described in the record layout: kind, payload length, tid, padding.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

func checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

func validChecksum(data []byte, want uint32) bool {
	return checksum(data) == want
}
