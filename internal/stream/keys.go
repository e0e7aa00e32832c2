package stream

import "encoding/binary"

// Key layout, all rooted at q/<queue>/:
//
//	meta/<part:4>                      -> lastSeq(8)
//	msg/<part:4><seq:8>                -> record (ts | body | crc32c)
//	delay/<fire_ms:8><dseq:8>          -> record, not yet in the log
//	group/<group>                      -> group meta JSON
//	cursor/<group>/<part:4>            -> next seq to claim (8)
//	pel/<group>/<part:4><seq:8>        -> pending entry JSON
//	pelidx/<group>/<exp_ms:8><part:4><seq:8> -> nil
//	redel/<group>/<ts_ms:8><part:4><seq:8>   -> delivery count (4)
//	cnt/<name>                         -> uint64 counter
const (
	prefixMeta       = "meta/"
	prefixMsg        = "msg/"
	prefixDelay      = "delay/"
	prefixGroup      = "group/"
	prefixCursor     = "cursor/"
	prefixPending    = "pel/"
	prefixPendingIdx = "pelidx/"
	prefixRedeliver  = "redel/"
	prefixCounter    = "cnt/"
)

func queuePrefix(queue string) string { return "q/" + queue + "/" }

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func metaKey(queue string, part uint32) []byte {
	return appendUint32([]byte(queuePrefix(queue)+prefixMeta), part)
}

func msgKey(queue string, part uint32, seq uint64) []byte {
	k := appendUint32([]byte(queuePrefix(queue)+prefixMsg), part)
	return appendUint64(k, seq)
}

func msgPartPrefix(queue string, part uint32) []byte {
	return appendUint32([]byte(queuePrefix(queue)+prefixMsg), part)
}

func delayKey(queue string, fireMs int64, dseq uint64) []byte {
	k := appendUint64([]byte(queuePrefix(queue)+prefixDelay), uint64(fireMs))
	return appendUint64(k, dseq)
}

func delayPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixDelay)
}

func groupKey(queue, group string) []byte {
	return []byte(queuePrefix(queue) + prefixGroup + group)
}

func groupPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixGroup)
}

func cursorKey(queue, group string, part uint32) []byte {
	return appendUint32([]byte(queuePrefix(queue)+prefixCursor+group+"/"), part)
}

func refSuffix(part uint32, seq uint64) []byte {
	return appendUint64(appendUint32(nil, part), seq)
}

func pendingKey(queue, group string, part uint32, seq uint64) []byte {
	k := []byte(queuePrefix(queue) + prefixPending + group + "/")
	return append(k, refSuffix(part, seq)...)
}

func pendingPrefix(queue, group string) []byte {
	return []byte(queuePrefix(queue) + prefixPending + group + "/")
}

func pendingIdxKey(queue, group string, expMs int64, part uint32, seq uint64) []byte {
	k := appendUint64([]byte(queuePrefix(queue)+prefixPendingIdx+group+"/"), uint64(expMs))
	return append(k, refSuffix(part, seq)...)
}

func pendingIdxPrefix(queue, group string) []byte {
	return []byte(queuePrefix(queue) + prefixPendingIdx + group + "/")
}

func redeliverKey(queue, group string, tsMs int64, part uint32, seq uint64) []byte {
	k := appendUint64([]byte(queuePrefix(queue)+prefixRedeliver+group+"/"), uint64(tsMs))
	return append(k, refSuffix(part, seq)...)
}

func redeliverPrefix(queue, group string) []byte {
	return []byte(queuePrefix(queue) + prefixRedeliver + group + "/")
}

func counterKey(queue, name string) []byte {
	return []byte(queuePrefix(queue) + prefixCounter + name)
}

// parseRef extracts (part, seq) from the trailing 12 bytes of an index key.
func parseRef(key []byte) (uint32, uint64, bool) {
	if len(key) < 12 {
		return 0, 0, false
	}
	part := binary.BigEndian.Uint32(key[len(key)-12 : len(key)-8])
	seq := binary.BigEndian.Uint64(key[len(key)-8:])
	return part, seq, true
}
