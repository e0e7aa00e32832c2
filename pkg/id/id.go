package id

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// ID is a 128-bit, lexicographically sortable message identifier encoded
// big-endian as [8 bytes unix-ms timestamp][8 bytes per-process sequence].
type ID [16]byte

// Zero is the zero-valued ID.
var Zero ID

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, i[:])
	return b
}

// String returns the lowercase hex encoding.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// IsZero reports whether the ID is unset.
func (i ID) IsZero() bool { return i == Zero }

// Time returns the embedded creation time, millisecond precision.
func (i ID) Time() time.Time {
	ms := int64(binary.BigEndian.Uint64(i[0:8]))
	return time.UnixMilli(ms)
}

// Compare returns -1, 0 or 1 ordering IDs lexically (and therefore by time).
func (i ID) Compare(other ID) int {
	for n := 0; n < 16; n++ {
		if i[n] < other[n] {
			return -1
		}
		if i[n] > other[n] {
			return 1
		}
	}
	return 0
}

// Parse decodes a 32-character hex string into an ID.
func Parse(s string) (ID, error) {
	var out ID
	if len(s) != 32 {
		return out, fmt.Errorf("id: want 32 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("id: %w", err)
	}
	copy(out[:], b)
	return out, nil
}

// Generator produces monotonically increasing IDs per process.
type Generator struct {
	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

// NewGenerator creates a Generator.
func NewGenerator() *Generator { return &Generator{} }

// nowMs is swappable for deterministic tests.
var nowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID, strictly greater than any previous ID from this
// Generator even when the wall clock stalls or moves backwards.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := nowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.seq++
	} else {
		g.lastMs = ms
		g.seq = 0
	}

	var out ID
	binary.BigEndian.PutUint64(out[0:8], uint64(g.lastMs))
	binary.BigEndian.PutUint64(out[8:16], g.seq)
	return out
}
