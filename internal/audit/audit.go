// Package audit keeps a durable append-only trail of control-plane activity:
// scaling decisions, schedule executions, alert lifecycle. The hot message
// path never reads it; writes are best-effort and only logged on failure.
package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/id"
	logpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/log"
)

// Kind partitions the trail by subsystem.
type Kind string

const (
	KindScaling  Kind = "scaling"
	KindSchedule Kind = "schedule"
	KindAlert    Kind = "alert"
)

// Record is one audit entry.
type Record struct {
	ID     string          `json:"id"`
	Kind   Kind            `json:"kind"`
	AtMs   int64           `json:"atMs"`
	Action string          `json:"action"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// Recorder is the write side handed to the control loops.
type Recorder interface {
	Record(ctx context.Context, kind Kind, action string, detail any)
}

// Log is the Pebble-backed trail. Keys are audit/<kind>/<ts:8><id:16> so a
// prefix scan returns one kind in time order.
type Log struct {
	db     *pebblestore.DB
	ids    *id.Generator
	logger logpkg.Logger
}

func NewLog(db *pebblestore.DB, logger logpkg.Logger) *Log {
	if logger == nil {
		logger = logpkg.Discard()
	}
	return &Log{db: db, ids: id.NewGenerator(), logger: logger.With(logpkg.Component("audit"))}
}

func key(kind Kind, tsMs int64, rid id.ID) []byte {
	k := make([]byte, 0, 7+len(kind)+1+8+16)
	k = append(k, "audit/"...)
	k = append(k, kind...)
	k = append(k, '/')
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(tsMs))
	k = append(k, ts[:]...)
	return append(k, rid.Bytes()...)
}

// Record appends one entry. Failures are logged, never propagated: the audit
// trail must not take a control loop down.
func (l *Log) Record(ctx context.Context, kind Kind, action string, detail any) {
	nowMs := time.Now().UnixMilli()
	rid := l.ids.Next()
	rec := Record{ID: rid.String(), Kind: kind, AtMs: nowMs, Action: action}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			l.logger.Warn("audit detail not serializable", logpkg.Err(err), logpkg.Str("action", action))
		} else {
			rec.Detail = raw
		}
	}
	val, err := json.Marshal(rec)
	if err != nil {
		l.logger.Warn("audit record not serializable", logpkg.Err(err))
		return
	}
	if err := l.db.Set(key(kind, nowMs, rid), val); err != nil {
		l.logger.Warn("audit write failed", logpkg.Err(err), logpkg.Str("action", action))
	}
}

// Scan returns up to limit records of one kind, newest first.
func (l *Log) Scan(ctx context.Context, kind Kind, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	lo, hi := pebblestore.PrefixBounds([]byte("audit/" + string(kind) + "/"))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := make([]Record, 0, limit)
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("audit: corrupt record at %q: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	return out, nil
}
