package stream

import (
	"encoding/binary"
	"hash/crc32"
)

// Log record: enqueuedAtMs(8B BE) | body | crc32c(ts|body)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord frames a message body with its enqueue timestamp and checksum.
func EncodeRecord(enqueuedAtMs int64, body []byte) []byte {
	out := make([]byte, 0, 8+len(body)+4)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(enqueuedAtMs))
	out = append(out, ts[:]...)
	out = append(out, body...)
	crc := crc32.Update(0, castagnoli, out)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	return append(out, cb[:]...)
}

// DecodeRecord unframes a record, verifying the checksum. The returned body
// is a copy.
func DecodeRecord(b []byte) (enqueuedAtMs int64, body []byte, ok bool) {
	if len(b) < 12 {
		return 0, nil, false
	}
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Update(0, castagnoli, b[:len(b)-4]) != expect {
		return 0, nil, false
	}
	enqueuedAtMs = int64(binary.BigEndian.Uint64(b[:8]))
	body = append([]byte(nil), b[8:len(b)-4]...)
	return enqueuedAtMs, body, true
}
