package stream

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
)

const (
	counterMessages  = "msgs"
	counterDelayed   = "delay"
	counterPending   = "pel/"   // + group
	counterRedeliver = "redel/" // + group
)

// Entry is one appended message in the log.
type Entry struct {
	Partition    uint32
	Seq          uint64
	Body         []byte
	EnqueuedAtMs int64
}

// Delivery is an entry claimed by a consumer under a visibility timeout.
type Delivery struct {
	Entry
	Group         string
	Consumer      string
	DeliveryCount int
	ExpiresAtMs   int64
}

// Ref identifies a log entry for ack/inspection.
type Ref struct {
	Partition uint32 `json:"partition"`
	Seq       uint64 `json:"seq"`
}

// GroupMeta describes a consumer group on the stream.
type GroupMeta struct {
	Name        string `json:"name"`
	CreatedAtMs int64  `json:"createdAtMs"`
	FromOldest  bool   `json:"fromOldest"`
}

type pendingRecord struct {
	Consumer      string `json:"consumer"`
	DeliveredAtMs int64  `json:"deliveredAtMs"`
	ExpiresAtMs   int64  `json:"expiresAtMs"`
	DeliveryCount int    `json:"deliveryCount"`
}

// AppendItem is one element of a pipelined batch append.
type AppendItem struct {
	Body    []byte
	DelayMs int64
}

// Stream is an append-only, partitioned log for one queue with
// consumer-group claim/ack semantics. All mutating operations commit a
// single atomic Pebble batch; a process-wide mutex per stream serializes
// claims so no two consumers receive the same unacknowledged entry.
type Stream struct {
	db    *pebblestore.DB
	queue string
	parts uint32

	mu       sync.Mutex
	lastSeq  []uint64
	delaySeq uint64
	rr       uint32
	cnt      map[string]uint64

	notifyMu sync.Mutex
	notifyCh chan struct{}
}

// Open restores (or initializes) the stream for a queue.
func Open(db *pebblestore.DB, queue string, partitions uint32) (*Stream, error) {
	if queue == "" {
		return nil, errors.New("stream: queue name required")
	}
	if partitions == 0 {
		partitions = 1
	}
	s := &Stream{
		db:       db,
		queue:    queue,
		parts:    partitions,
		lastSeq:  make([]uint64, partitions),
		cnt:      map[string]uint64{},
		notifyCh: make(chan struct{}),
	}
	for p := uint32(0); p < partitions; p++ {
		if meta, err := db.Get(metaKey(queue, p)); err == nil && len(meta) >= 8 {
			s.lastSeq[p] = binary.BigEndian.Uint64(meta[:8])
		}
	}
	// restore counters
	lo, hi := pebblestore.PrefixBounds([]byte(queuePrefix(queue) + prefixCounter))
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(lo):])
		if v := iter.Value(); len(v) >= 8 {
			s.cnt[name] = binary.BigEndian.Uint64(v[:8])
		}
	}
	return s, nil
}

// Queue returns the queue name this stream backs.
func (s *Stream) Queue() string { return s.queue }

// Partitions returns the partition count.
func (s *Stream) Partitions() uint32 { return s.parts }

// KeyBounds returns the key range holding all of the stream's data, for
// whole-queue deletion.
func (s *Stream) KeyBounds() (lo, hi []byte) {
	return KeyBoundsFor(s.queue)
}

// KeyBoundsFor returns a queue's key range without opening its stream, so
// stored data can be dropped before counters are loaded.
func KeyBoundsFor(queue string) (lo, hi []byte) {
	return pebblestore.PrefixBounds([]byte(queuePrefix(queue)))
}

// counter deltas are staged per batch and applied only after a successful
// commit so the in-memory view never drifts from the committed state.
type deltas map[string]int64

func (s *Stream) stageCounters(b *pebble.Batch, d deltas) error {
	for name, delta := range d {
		v := int64(s.cnt[name]) + delta
		if v < 0 {
			v = 0
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		if err := b.Set(counterKey(s.queue, name), buf[:], nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) applyCounters(d deltas) {
	for name, delta := range d {
		v := int64(s.cnt[name]) + delta
		if v < 0 {
			v = 0
		}
		s.cnt[name] = uint64(v)
	}
}

func (s *Stream) counterLocked(name string) uint64 { return s.cnt[name] }

// Append writes one message. With delayMs > 0 the message lands in the
// delayed index and only enters the log once promoted. The returned Entry
// has Seq == 0 for delayed appends. nowMs <= 0 means time.Now().
func (s *Stream) Append(ctx context.Context, body []byte, delayMs, nowMs int64) (Entry, error) {
	entries, err := s.AppendMany(ctx, []AppendItem{{Body: body, DelayMs: delayMs}}, nowMs)
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// AppendMany writes several messages in one pipelined atomic batch.
func (s *Stream) AppendMany(ctx context.Context, items []AppendItem, nowMs int64) ([]Entry, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	d := deltas{}
	entries := make([]Entry, 0, len(items))
	lastSeq := append([]uint64(nil), s.lastSeq...)
	delaySeq := s.delaySeq
	rr := s.rr
	appended := false

	for _, it := range items {
		rec := EncodeRecord(nowMs, it.Body)
		if it.DelayMs > 0 {
			delaySeq++
			if err := b.Set(delayKey(s.queue, nowMs+it.DelayMs, delaySeq), rec, nil); err != nil {
				return nil, err
			}
			d[counterDelayed]++
			entries = append(entries, Entry{Body: it.Body, EnqueuedAtMs: nowMs})
			continue
		}
		part := rr % s.parts
		rr++
		lastSeq[part]++
		seq := lastSeq[part]
		if err := b.Set(msgKey(s.queue, part, seq), rec, nil); err != nil {
			return nil, err
		}
		d[counterMessages]++
		entries = append(entries, Entry{Partition: part, Seq: seq, Body: it.Body, EnqueuedAtMs: nowMs})
		appended = true
	}
	for p := uint32(0); p < s.parts; p++ {
		if lastSeq[p] != s.lastSeq[p] {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], lastSeq[p])
			if err := b.Set(metaKey(s.queue, p), buf[:], nil); err != nil {
				return nil, err
			}
		}
	}
	if err := s.stageCounters(b, d); err != nil {
		return nil, err
	}
	if err := s.db.CommitBatch(b); err != nil {
		return nil, err
	}
	s.lastSeq = lastSeq
	s.delaySeq = delaySeq
	s.rr = rr
	s.applyCounters(d)
	if appended {
		s.notifyAppend()
	}
	return entries, nil
}

// PromoteDue moves delayed messages whose fire time has elapsed into the log.
func (s *Stream) PromoteDue(ctx context.Context, nowMs int64, max int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promoteDueLocked(nowMs, max)
}

func (s *Stream) promoteDueLocked(nowMs int64, max int) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	lo, hi := pebblestore.PrefixBounds(delayPrefix(s.queue))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()
	d := deltas{}
	lastSeq := append([]uint64(nil), s.lastSeq...)
	rr := s.rr
	promoted := 0

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) < len(lo)+16 {
			continue
		}
		fire := int64(binary.BigEndian.Uint64(key[len(lo) : len(lo)+8]))
		if fire > nowMs {
			break
		}
		rec := append([]byte(nil), iter.Value()...)
		part := rr % s.parts
		rr++
		lastSeq[part]++
		if err := b.Set(msgKey(s.queue, part, lastSeq[part]), rec, nil); err != nil {
			return 0, err
		}
		if err := b.Delete(append([]byte(nil), key...), nil); err != nil {
			return 0, err
		}
		d[counterDelayed]--
		d[counterMessages]++
		promoted++
		if max > 0 && promoted >= max {
			break
		}
	}
	if promoted == 0 {
		return 0, nil
	}
	for p := uint32(0); p < s.parts; p++ {
		if lastSeq[p] != s.lastSeq[p] {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], lastSeq[p])
			if err := b.Set(metaKey(s.queue, p), buf[:], nil); err != nil {
				return 0, err
			}
		}
	}
	if err := s.stageCounters(b, d); err != nil {
		return 0, err
	}
	if err := s.db.CommitBatch(b); err != nil {
		return 0, err
	}
	s.lastSeq = lastSeq
	s.rr = rr
	s.applyCounters(d)
	s.notifyAppend()
	return promoted, nil
}

// EnsureGroup registers a consumer group, idempotently. New groups start at
// the oldest retained entry when fromOldest is set, otherwise at the tail.
func (s *Stream) EnsureGroup(ctx context.Context, group string, fromOldest bool) (created bool, err error) {
	if group == "" {
		return false, errors.New("stream: group name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Get(groupKey(s.queue, group)); err == nil {
		return false, nil
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return false, err
	}
	meta, err := json.Marshal(GroupMeta{Name: group, CreatedAtMs: time.Now().UnixMilli(), FromOldest: fromOldest})
	if err != nil {
		return false, err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(groupKey(s.queue, group), meta, nil); err != nil {
		return false, err
	}
	for p := uint32(0); p < s.parts; p++ {
		next := uint64(1)
		if !fromOldest {
			next = s.lastSeq[p] + 1
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], next)
		if err := b.Set(cursorKey(s.queue, group, p), buf[:], nil); err != nil {
			return false, err
		}
	}
	if err := s.db.CommitBatch(b); err != nil {
		return false, err
	}
	return true, nil
}

// Groups lists registered consumer groups.
func (s *Stream) Groups(ctx context.Context) ([]GroupMeta, error) {
	lo, hi := pebblestore.PrefixBounds(groupPrefix(s.queue))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []GroupMeta
	for iter.First(); iter.Valid(); iter.Next() {
		var gm GroupMeta
		if json.Unmarshal(iter.Value(), &gm) == nil {
			out = append(out, gm)
		}
	}
	return out, nil
}

func (s *Stream) cursor(group string, part uint32) uint64 {
	v, err := s.db.Get(cursorKey(s.queue, group, part))
	if err != nil || len(v) < 8 {
		return 1
	}
	return binary.BigEndian.Uint64(v[:8])
}

// ReadGroup claims up to max entries for a consumer: due delayed entries are
// promoted first, then expired redeliveries are drained, then fresh entries
// are claimed from the group cursor in append order. Claimed entries are
// hidden from other consumers until visibilityMs elapses or they are acked.
func (s *Stream) ReadGroup(ctx context.Context, group, consumer string, max int, visibilityMs, nowMs int64) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	if visibilityMs <= 0 {
		visibilityMs = 30_000
	}
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.promoteDueLocked(nowMs, max*4); err != nil {
		return nil, err
	}

	b := s.db.NewBatch()
	defer b.Close()
	d := deltas{}
	expires := nowMs + visibilityMs
	out := make([]Delivery, 0, max)

	claim := func(part uint32, seq uint64, dc int) error {
		rec, err := s.db.Get(msgKey(s.queue, part, seq))
		if err != nil {
			return err
		}
		enqMs, body, ok := DecodeRecord(rec)
		if !ok {
			return fmt.Errorf("stream: corrupt record %s[%d/%d]", s.queue, part, seq)
		}
		pr, err := json.Marshal(pendingRecord{Consumer: consumer, DeliveredAtMs: nowMs, ExpiresAtMs: expires, DeliveryCount: dc})
		if err != nil {
			return err
		}
		if err := b.Set(pendingKey(s.queue, group, part, seq), pr, nil); err != nil {
			return err
		}
		if err := b.Set(pendingIdxKey(s.queue, group, expires, part, seq), nil, nil); err != nil {
			return err
		}
		d[counterPending+group]++
		out = append(out, Delivery{
			Entry:         Entry{Partition: part, Seq: seq, Body: body, EnqueuedAtMs: enqMs},
			Group:         group,
			Consumer:      consumer,
			DeliveryCount: dc,
			ExpiresAtMs:   expires,
		})
		return nil
	}

	// redeliveries first
	lo, hi := pebblestore.PrefixBounds(redeliverPrefix(s.queue, group))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	for iter.First(); iter.Valid() && len(out) < max; iter.Next() {
		part, seq, ok := parseRef(iter.Key())
		if !ok {
			continue
		}
		dc := 0
		if v := iter.Value(); len(v) >= 4 {
			dc = int(binary.BigEndian.Uint32(v[:4]))
		}
		if err := b.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			iter.Close()
			return nil, err
		}
		d[counterRedeliver+group]--
		err := claim(part, seq, dc+1)
		if errors.Is(err, pebblestore.ErrNotFound) {
			// entry trimmed since reclaim; drop the redelivery marker
			continue
		}
		if err != nil {
			iter.Close()
			return nil, err
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	// fresh claims from each partition cursor
	for p := uint32(0); p < s.parts && len(out) < max; p++ {
		cur := s.cursor(group, p)
		next := cur
		for next <= s.lastSeq[p] && len(out) < max {
			err := claim(p, next, 1)
			if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
				return nil, err
			}
			next++
		}
		if next != cur {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], next)
			if err := b.Set(cursorKey(s.queue, group, p), buf[:], nil); err != nil {
				return nil, err
			}
		}
	}

	if b.Empty() {
		return nil, nil
	}
	if err := s.stageCounters(b, d); err != nil {
		return nil, err
	}
	if err := s.db.CommitBatch(b); err != nil {
		return nil, err
	}
	s.applyCounters(d)
	return out, nil
}

// ReadGroupBlock behaves like ReadGroup but waits up to block for entries,
// waking on appends.
func (s *Stream) ReadGroupBlock(ctx context.Context, group, consumer string, max int, visibilityMs int64, block time.Duration) ([]Delivery, error) {
	deadline := time.Now().Add(block)
	for {
		ds, err := s.ReadGroup(ctx, group, consumer, max, visibilityMs, time.Now().UnixMilli())
		if err != nil || len(ds) > 0 {
			return ds, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.waitCh():
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Ack acknowledges claimed entries, removing them from the group's pending
// entries list. The log entry itself is retained for replay until trimmed.
func (s *Stream) Ack(ctx context.Context, group string, refs []Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	d := deltas{}
	for _, r := range refs {
		pk := pendingKey(s.queue, group, r.Partition, r.Seq)
		raw, err := s.db.Get(pk)
		if err != nil {
			if errors.Is(err, pebblestore.ErrNotFound) {
				continue // already acked or reclaimed
			}
			return err
		}
		var pr pendingRecord
		if err := json.Unmarshal(raw, &pr); err != nil {
			return fmt.Errorf("stream: corrupt pending record: %w", err)
		}
		if err := b.Delete(pk, nil); err != nil {
			return err
		}
		if err := b.Delete(pendingIdxKey(s.queue, group, pr.ExpiresAtMs, r.Partition, r.Seq), nil); err != nil {
			return err
		}
		d[counterPending+group]--
	}
	if b.Empty() {
		return nil
	}
	if err := s.stageCounters(b, d); err != nil {
		return err
	}
	if err := s.db.CommitBatch(b); err != nil {
		return err
	}
	s.applyCounters(d)
	return nil
}

// ReclaimExpired returns claims past their visibility deadline to the
// group's redelivery index so another consumer can pick them up.
func (s *Stream) ReclaimExpired(ctx context.Context, group string, nowMs int64, max int) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := pebblestore.PrefixBounds(pendingIdxPrefix(s.queue, group))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()
	d := deltas{}
	reclaimed := 0
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) < len(lo)+8+12 {
			continue
		}
		exp := int64(binary.BigEndian.Uint64(key[len(lo) : len(lo)+8]))
		if exp > nowMs {
			break
		}
		part, seq, ok := parseRef(key)
		if !ok {
			continue
		}
		dc := 0
		if raw, err := s.db.Get(pendingKey(s.queue, group, part, seq)); err == nil {
			var pr pendingRecord
			if json.Unmarshal(raw, &pr) == nil {
				dc = pr.DeliveryCount
			}
		}
		if err := b.Delete(append([]byte(nil), key...), nil); err != nil {
			return 0, err
		}
		if err := b.Delete(pendingKey(s.queue, group, part, seq), nil); err != nil {
			return 0, err
		}
		var dcb [4]byte
		binary.BigEndian.PutUint32(dcb[:], uint32(dc))
		if err := b.Set(redeliverKey(s.queue, group, nowMs, part, seq), dcb[:], nil); err != nil {
			return 0, err
		}
		d[counterPending+group]--
		d[counterRedeliver+group]++
		reclaimed++
		if max > 0 && reclaimed >= max {
			break
		}
	}
	if reclaimed == 0 {
		return 0, nil
	}
	if err := s.stageCounters(b, d); err != nil {
		return 0, err
	}
	if err := s.db.CommitBatch(b); err != nil {
		return 0, err
	}
	s.applyCounters(d)
	s.notifyAppend()
	return reclaimed, nil
}

// ReplayFrom rewinds the group cursor for one partition, so retained entries
// from seq onward are delivered again.
func (s *Stream) ReplayFrom(ctx context.Context, group string, part uint32, seq uint64) error {
	if part >= s.parts {
		return fmt.Errorf("stream: partition %d out of range", part)
	}
	if seq == 0 {
		seq = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := s.db.Set(cursorKey(s.queue, group, part), buf[:]); err != nil {
		return err
	}
	s.notifyAppend()
	return nil
}

// Depth reports entries awaiting processing for a group: unclaimed log lag
// plus in-flight claims plus pending redeliveries.
func (s *Stream) Depth(group string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	lag := uint64(0)
	for p := uint32(0); p < s.parts; p++ {
		cur := s.cursor(group, p)
		if cur <= s.lastSeq[p] {
			lag += s.lastSeq[p] - cur + 1
		}
	}
	return int(lag + s.counterLocked(counterPending+group) + s.counterLocked(counterRedeliver+group))
}

// PendingCount reports in-flight (claimed, unacked) entries for a group.
func (s *Stream) PendingCount(group string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.counterLocked(counterPending + group))
}

// DelayedCount reports messages waiting in the delayed index.
func (s *Stream) DelayedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.counterLocked(counterDelayed))
}

// MessageCount reports retained log entries plus delayed messages; the
// backpressure bound checks against this.
func (s *Stream) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.counterLocked(counterMessages) + s.counterLocked(counterDelayed))
}

// TrimAcked deletes retained log entries already consumed by every group
// and not held by any claim or redelivery marker. Returns entries removed.
func (s *Stream) TrimAcked(ctx context.Context, max int) (int, error) {
	groups, err := s.Groups(ctx)
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// refs still referenced by any group's pending or redelivery state
	held := map[Ref]struct{}{}
	for _, g := range groups {
		for _, prefix := range [][]byte{pendingPrefix(s.queue, g.Name), redeliverPrefix(s.queue, g.Name)} {
			lo, hi := pebblestore.PrefixBounds(prefix)
			iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
			if err != nil {
				return 0, err
			}
			for iter.First(); iter.Valid(); iter.Next() {
				if part, seq, ok := parseRef(iter.Key()); ok {
					held[Ref{Partition: part, Seq: seq}] = struct{}{}
				}
			}
			if err := iter.Close(); err != nil {
				return 0, err
			}
		}
	}

	b := s.db.NewBatch()
	defer b.Close()
	d := deltas{}
	removed := 0
	for p := uint32(0); p < s.parts; p++ {
		// entries below every cursor have been claimed by all groups
		minCur := s.lastSeq[p] + 1
		for _, g := range groups {
			if c := s.cursor(g.Name, p); c < minCur {
				minCur = c
			}
		}
		lo, hi := pebblestore.PrefixBounds(msgPartPrefix(s.queue, p))
		iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
		if err != nil {
			return 0, err
		}
		for iter.First(); iter.Valid(); iter.Next() {
			key := iter.Key()
			if len(key) < len(lo)+8 {
				continue
			}
			seq := binary.BigEndian.Uint64(key[len(key)-8:])
			if seq >= minCur {
				break
			}
			if _, ok := held[Ref{Partition: p, Seq: seq}]; ok {
				continue
			}
			if err := b.Delete(append([]byte(nil), key...), nil); err != nil {
				iter.Close()
				return 0, err
			}
			d[counterMessages]--
			removed++
			if max > 0 && removed >= max {
				break
			}
		}
		if err := iter.Close(); err != nil {
			return 0, err
		}
		if max > 0 && removed >= max {
			break
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.stageCounters(b, d); err != nil {
		return 0, err
	}
	if err := s.db.CommitBatch(b); err != nil {
		return 0, err
	}
	s.applyCounters(d)
	return removed, nil
}

func (s *Stream) notifyAppend() {
	s.notifyMu.Lock()
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})
	s.notifyMu.Unlock()
}

func (s *Stream) waitCh() <-chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.notifyCh
}
