package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/stream"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/id"
	logpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/log"
)

// DefaultGroup is the consumer group used when a consumer registers without
// naming one.
const DefaultGroup = "workers"

const configKeyPrefix = "qcfg/"

// Options tunes a Manager.
type Options struct {
	Logger logpkg.Logger
	// SweepInterval paces the background promote/reclaim loop. 0 means 1s.
	SweepInterval time.Duration
}

type queueState struct {
	cfg   QueueConfig
	st    *stream.Stream
	stats *queueStats
}

// Manager owns every queue in the node: declaration, enqueue paths,
// consumer lifecycles, dead-lettering and the background sweep that
// promotes delayed messages and reclaims expired claims.
type Manager struct {
	db     *pebblestore.DB
	logger logpkg.Logger
	ids    *id.Generator

	mu        sync.RWMutex
	queues    map[string]*queueState
	consumers map[string]*consumer
	closed    bool

	sweepEvery time.Duration
	sweepStop  chan struct{}
	wg         sync.WaitGroup
}

// NewManager restores all declared queues from the store and starts the
// background sweeper.
func NewManager(db *pebblestore.DB, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.Discard()
	}
	sweepEvery := opts.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = time.Second
	}
	m := &Manager{
		db:         db,
		logger:     logger.With(logpkg.Component("queue")),
		ids:        id.NewGenerator(),
		queues:     make(map[string]*queueState),
		consumers:  make(map[string]*consumer),
		sweepEvery: sweepEvery,
		sweepStop:  make(chan struct{}),
	}
	if err := m.restore(); err != nil {
		return nil, err
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m, nil
}

func (m *Manager) restore() error {
	lo, hi := pebblestore.PrefixBounds([]byte(configKeyPrefix))
	iter, err := m.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return fmt.Errorf("queue: restore configs: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var cfg QueueConfig
		if err := json.Unmarshal(iter.Value(), &cfg); err != nil {
			return fmt.Errorf("queue: corrupt config at %q: %w", iter.Key(), err)
		}
		// only persistent queues keep their messages across restarts; the
		// declaration itself always survives
		if !cfg.Persistent {
			lo, hi := stream.KeyBoundsFor(cfg.Name)
			b := m.db.NewBatch()
			if err := b.DeleteRange(lo, hi, nil); err != nil {
				return err
			}
			if err := m.db.CommitBatch(b); err != nil {
				return fmt.Errorf("queue: flush %q: %w", cfg.Name, err)
			}
			m.logger.Info("non-persistent queue flushed", logpkg.Str("queue", cfg.Name))
		}
		if err := m.openLocked(cfg); err != nil {
			return err
		}
	}
	m.logger.Info("queues restored", logpkg.Int("count", len(m.queues)))
	return nil
}

// openLocked opens the backing stream for an already-validated config and
// records it. Callers hold m.mu or run before the manager is shared.
func (m *Manager) openLocked(cfg QueueConfig) error {
	st, err := stream.Open(m.db, cfg.Name, cfg.Partitions)
	if err != nil {
		return fmt.Errorf("queue: open %q: %w", cfg.Name, err)
	}
	m.queues[cfg.Name] = &queueState{cfg: cfg, st: st, stats: &queueStats{}}
	return nil
}

// CreateQueue declares a queue. Its dead-letter queue, if named, is
// auto-declared alongside so dead-lettering can never hit a missing queue.
func (m *Manager) CreateQueue(ctx context.Context, cfg QueueConfig) (QueueConfig, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return QueueConfig{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return QueueConfig{}, ErrShuttingDown
	}
	if _, ok := m.queues[cfg.Name]; ok {
		return QueueConfig{}, fmt.Errorf("%w: %s", ErrQueueExists, cfg.Name)
	}
	if err := m.declareLocked(cfg); err != nil {
		return QueueConfig{}, err
	}
	if dlq := cfg.DeadLetterQueue; dlq != "" {
		if _, ok := m.queues[dlq]; !ok {
			dcfg := QueueConfig{Name: dlq}.withDefaults()
			if err := m.declareLocked(dcfg); err != nil {
				return QueueConfig{}, fmt.Errorf("queue: declare dead-letter %q: %w", dlq, err)
			}
		}
	}
	m.logger.Info("queue created", logpkg.Str("queue", cfg.Name), logpkg.Str("dlq", cfg.DeadLetterQueue))
	return cfg, nil
}

func (m *Manager) declareLocked(cfg QueueConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("queue: marshal config: %w", err)
	}
	if err := m.db.Set([]byte(configKeyPrefix+cfg.Name), raw); err != nil {
		return fmt.Errorf("queue: persist config: %w", err)
	}
	return m.openLocked(cfg)
}

// UpdateQueue replaces mutable settings of an existing queue. Name and
// partition count are fixed for the queue's lifetime.
func (m *Manager) UpdateQueue(ctx context.Context, cfg QueueConfig) (QueueConfig, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return QueueConfig{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	qs, ok := m.queues[cfg.Name]
	if !ok {
		return QueueConfig{}, fmt.Errorf("%w: %s", ErrQueueNotFound, cfg.Name)
	}
	cfg.Partitions = qs.cfg.Partitions
	raw, err := json.Marshal(cfg)
	if err != nil {
		return QueueConfig{}, fmt.Errorf("queue: marshal config: %w", err)
	}
	if err := m.db.Set([]byte(configKeyPrefix+cfg.Name), raw); err != nil {
		return QueueConfig{}, fmt.Errorf("queue: persist config: %w", err)
	}
	qs.cfg = cfg
	return cfg, nil
}

// DeleteQueue stops the queue's consumers and removes its config and data.
func (m *Manager) DeleteQueue(ctx context.Context, name string) error {
	m.mu.Lock()
	qs, ok := m.queues[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	var victims []*consumer
	for cid, c := range m.consumers {
		if c.cfg.Queue == name {
			victims = append(victims, c)
			delete(m.consumers, cid)
		}
	}
	delete(m.queues, name)
	m.mu.Unlock()

	for _, c := range victims {
		c.stop()
		<-c.stopped
	}

	b := m.db.NewBatch()
	if err := b.Delete([]byte(configKeyPrefix+name), nil); err != nil {
		return err
	}
	lo, hi := qs.st.KeyBounds()
	if err := b.DeleteRange(lo, hi, nil); err != nil {
		return err
	}
	if err := m.db.CommitBatch(b); err != nil {
		return fmt.Errorf("queue: delete %q: %w", name, err)
	}
	m.logger.Info("queue deleted", logpkg.Str("queue", name))
	return nil
}

// GetQueue returns the config of a declared queue.
func (m *Manager) GetQueue(name string) (QueueConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qs, ok := m.queues[name]
	if !ok {
		return QueueConfig{}, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return qs.cfg, nil
}

// Queues lists declared queue configs sorted by name.
func (m *Manager) Queues() []QueueConfig {
	m.mu.RLock()
	out := make([]QueueConfig, 0, len(m.queues))
	for _, qs := range m.queues {
		out = append(out, qs.cfg)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) state(name string) (*queueState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrShuttingDown
	}
	qs, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return qs, nil
}

// Enqueue builds a message from the payload and options and appends it.
// It returns the assigned message id.
func (m *Manager) Enqueue(ctx context.Context, queueName, msgType string, payload any, opts EnqueueOptions) (string, error) {
	qs, err := m.state(queueName)
	if err != nil {
		return "", err
	}
	msg, err := m.buildMessage(qs, msgType, payload, opts)
	if err != nil {
		return "", err
	}
	if err := m.append(qs, msg, opts.Delay.Milliseconds()); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// BuildMessage constructs a message for queueName without appending it.
// Enqueue paths that run the message through rule evaluation first use this,
// then EnqueueMessage.
func (m *Manager) BuildMessage(ctx context.Context, queueName, msgType string, payload any, opts EnqueueOptions) (*Message, error) {
	qs, err := m.state(queueName)
	if err != nil {
		return nil, err
	}
	return m.buildMessage(qs, msgType, payload, opts)
}

// EnqueueMessage appends a pre-built message to its own queue, preserving
// its id and attempt count. Retry, requeue and routing paths use it.
func (m *Manager) EnqueueMessage(ctx context.Context, msg *Message, delay time.Duration) error {
	qs, err := m.state(msg.Queue)
	if err != nil {
		return err
	}
	return m.append(qs, msg, delay.Milliseconds())
}

// EnqueueBatch appends all valid items in one atomic write and reports
// per-item results. Invalid items are rejected without blocking the rest.
func (m *Manager) EnqueueBatch(ctx context.Context, queueName string, items []BatchItem) ([]BatchResult, error) {
	qs, err := m.state(queueName)
	if err != nil {
		return nil, err
	}
	nowMs := time.Now().UnixMilli()
	results := make([]BatchResult, len(items))
	appends := make([]stream.AppendItem, 0, len(items))
	accepted := make([]int, 0, len(items))
	for i, it := range items {
		msg, err := m.buildMessage(qs, it.Type, it.Payload, it.Opts)
		if err != nil {
			results[i] = BatchResult{Err: err}
			continue
		}
		body, err := msg.Encode()
		if err != nil {
			results[i] = BatchResult{Err: err}
			continue
		}
		results[i] = BatchResult{ID: msg.ID}
		appends = append(appends, stream.AppendItem{Body: body, DelayMs: it.Opts.Delay.Milliseconds()})
		accepted = append(accepted, i)
	}
	if len(appends) == 0 {
		return results, nil
	}
	// MessageCount already includes the delayed index
	if max := qs.cfg.MaxLength; max > 0 && qs.st.MessageCount()+len(appends) > max {
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, queueName)
	}
	if _, err := qs.st.AppendMany(ctx, appends, nowMs); err != nil {
		for _, i := range accepted {
			results[i] = BatchResult{Err: err}
		}
		return results, fmt.Errorf("queue: batch append: %w", err)
	}
	qs.stats.observeEnqueue(len(appends))
	return results, nil
}

func (m *Manager) buildMessage(qs *queueState, msgType string, payload any, opts EnqueueOptions) (*Message, error) {
	if msgType == "" {
		return nil, fmt.Errorf("queue: message type required")
	}
	prio, err := ParsePriority(string(opts.Priority))
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("queue: marshal payload: %w", err)
		}
	}
	nowMs := time.Now().UnixMilli()
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = qs.cfg.Retry.MaxAttempts
	}
	msg := &Message{
		ID:            m.ids.Next().String(),
		Type:          msgType,
		Payload:       raw,
		Priority:      prio,
		Queue:         qs.cfg.Name,
		CreatedAtMs:   nowMs,
		MaxAttempts:   maxAttempts,
		Metadata:      opts.Metadata,
		CorrelationID: opts.CorrelationID,
		ReplyTo:       opts.ReplyTo,
	}
	if d := opts.Delay; d > 0 {
		msg.DelayUntilMs = nowMs + d.Milliseconds()
	}
	if !opts.ExpiresAt.IsZero() {
		msg.ExpiresAtMs = opts.ExpiresAt.UnixMilli()
	}
	return msg, nil
}

func (m *Manager) append(qs *queueState, msg *Message, delayMs int64) error {
	if max := qs.cfg.MaxLength; max > 0 && qs.st.MessageCount() >= max {
		return fmt.Errorf("%w: %s", ErrQueueFull, qs.cfg.Name)
	}
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	if _, err := qs.st.Append(context.Background(), body, delayMs, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("queue: append to %q: %w", qs.cfg.Name, err)
	}
	qs.stats.observeEnqueue(1)
	return nil
}

// RegisterConsumer starts a consumer instance on a queue and returns its
// initial snapshot. The instance polls until stopped or the manager shuts
// down.
func (m *Manager) RegisterConsumer(ctx context.Context, cfg ConsumerConfig) (ConsumerInstance, error) {
	if cfg.Handler == nil {
		return ConsumerInstance{}, fmt.Errorf("queue: consumer handler required")
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	qs, err := m.state(cfg.Queue)
	if err != nil {
		return ConsumerInstance{}, err
	}
	if _, err := qs.st.EnsureGroup(ctx, cfg.Group, true); err != nil {
		return ConsumerInstance{}, err
	}

	pollCtx, stopPoll := context.WithCancel(context.Background())
	c := &consumer{
		id:       uuid.NewString(),
		cfg:      cfg,
		qs:       qs,
		m:        m,
		logger:   m.logger.With(logpkg.Str("queue", cfg.Queue), logpkg.Str("group", cfg.Group)),
		pollCtx:  pollCtx,
		stopPoll: stopPoll,
		stopped:  make(chan struct{}),
		status:   ConsumerStarting,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		stopPoll()
		return ConsumerInstance{}, ErrShuttingDown
	}
	m.consumers[c.id] = c
	m.wg.Add(1)
	m.mu.Unlock()

	go c.run()
	m.logger.Info("consumer registered",
		logpkg.Str("queue", cfg.Queue), logpkg.Str("group", cfg.Group), logpkg.Str("id", c.id))
	return c.snapshot(), nil
}

// StopConsumer stops one consumer instance and waits for its current batch
// to finish.
func (m *Manager) StopConsumer(ctx context.Context, consumerID string) error {
	m.mu.Lock()
	c, ok := m.consumers[consumerID]
	if ok {
		delete(m.consumers, consumerID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConsumerNotFound, consumerID)
	}
	c.stop()
	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consumers snapshots consumer instances, all of them when queue is empty.
func (m *Manager) Consumers(queue string) []ConsumerInstance {
	m.mu.RLock()
	out := make([]ConsumerInstance, 0, len(m.consumers))
	for _, c := range m.consumers {
		if queue == "" || c.cfg.Queue == queue {
			out = append(out, c.snapshot())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConsumerCount returns the number of live consumer instances on a queue.
func (m *Manager) ConsumerCount(queue string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.consumers {
		if c.cfg.Queue == queue {
			n++
		}
	}
	return n
}

// Metrics snapshots one queue's counters plus live depth.
func (m *Manager) Metrics(ctx context.Context, queueName string) (QueueMetrics, error) {
	qs, err := m.state(queueName)
	if err != nil {
		return QueueMetrics{}, err
	}
	return m.fill(ctx, qs), nil
}

// AllMetrics snapshots every queue, sorted by name.
func (m *Manager) AllMetrics(ctx context.Context) []QueueMetrics {
	m.mu.RLock()
	states := make([]*queueState, 0, len(m.queues))
	for _, qs := range m.queues {
		states = append(states, qs)
	}
	m.mu.RUnlock()
	out := make([]QueueMetrics, 0, len(states))
	for _, qs := range states {
		out = append(out, m.fill(ctx, qs))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })
	return out
}

// fill completes a stats snapshot with live depth. Depth is the worst lag
// across consumer groups; with no group declared it is the full log.
func (m *Manager) fill(ctx context.Context, qs *queueState) QueueMetrics {
	qm := qs.stats.snapshot(qs.cfg.Name)
	qm.Delayed = qs.st.DelayedCount()
	qm.ConsumerCount = m.ConsumerCount(qs.cfg.Name)
	groups, err := qs.st.Groups(ctx)
	if err != nil || len(groups) == 0 {
		qm.Depth = qs.st.MessageCount()
		return qm
	}
	for _, g := range groups {
		if d := qs.st.Depth(g.Name); d > qm.Depth {
			qm.Depth = d
		}
	}
	return qm
}

// handleOutcome applies the handler verdict: ack on success, delayed
// re-enqueue with an attempt increment on retry, unchanged re-enqueue on
// requeue, dead-letter on permanent failure or exhausted attempts.
func (m *Manager) handleOutcome(c *consumer, ref stream.Ref, msg *Message, o Outcome, latency time.Duration) {
	nowMs := time.Now().UnixMilli()
	qs := c.qs

	switch o.Code {
	case OutcomeSuccess:
		qs.stats.observeOutcome(latency, false, nowMs)

	case OutcomeRequeue:
		// redelivery without an attempt charge
		if err := m.append(qs, msg, 0); err != nil {
			c.logger.Error("requeue failed, claim will expire and redeliver", logpkg.Err(err), logpkg.Str("id", msg.ID))
			return
		}

	case OutcomeRetry:
		qs.stats.observeOutcome(latency, true, nowMs)
		attempts := msg.Attempts + 1
		if attempts < msg.MaxAttempts {
			retry := msg.Clone()
			retry.Attempts = attempts
			delay := qs.cfg.Retry.Delay(attempts)
			retry.DelayUntilMs = nowMs + delay.Milliseconds()
			if err := m.append(qs, retry, delay.Milliseconds()); err != nil {
				c.logger.Error("retry enqueue failed, claim will expire and redeliver", logpkg.Err(err), logpkg.Str("id", msg.ID))
				return
			}
			c.logger.Debug("message scheduled for retry",
				logpkg.Str("id", msg.ID), logpkg.Int("attempt", attempts), logpkg.Dur("delay", delay))
		} else {
			dead := msg.Clone()
			dead.Attempts = attempts
			m.deadLetter(c, qs, dead, o.Err, nowMs)
		}

	case OutcomeFail:
		qs.stats.observeOutcome(latency, true, nowMs)
		m.deadLetter(c, qs, msg.Clone(), o.Err, nowMs)
	}

	c.ack(ref)
}

// deadLetter stamps failure metadata onto the message and moves it to the
// queue's dead-letter queue. Without one configured the message is dropped.
func (m *Manager) deadLetter(c *consumer, qs *queueState, msg *Message, cause error, nowMs int64) {
	qs.stats.observeDeadLetter()
	errText := "unknown"
	if cause != nil {
		errText = cause.Error()
	}
	dlqName := qs.cfg.DeadLetterQueue
	if dlqName == "" {
		c.logger.Warn("no dead-letter queue, dropping message",
			logpkg.Str("id", msg.ID), logpkg.Str("error", errText))
		return
	}
	msg.SetMeta(MetaOriginalQueue, msg.Queue)
	msg.SetMeta(MetaLastError, errText)
	msg.SetMeta(MetaFailedAt, time.UnixMilli(nowMs).UTC().Format(time.RFC3339Nano))
	msg.SetMeta(MetaDeadLettered, "true")
	msg.Queue = dlqName
	msg.DelayUntilMs = 0

	dqs, err := m.state(dlqName)
	if err != nil {
		c.logger.Error("dead-letter queue unavailable, dropping message",
			logpkg.Err(err), logpkg.Str("id", msg.ID))
		return
	}
	if err := m.append(dqs, msg, 0); err != nil {
		c.logger.Error("dead-letter append failed", logpkg.Err(err), logpkg.Str("id", msg.ID))
		return
	}
	c.logger.Warn("message dead-lettered",
		logpkg.Str("id", msg.ID), logpkg.Str("queue", msg.Metadata[MetaOriginalQueue]),
		logpkg.Str("dlq", dlqName), logpkg.Int("attempts", msg.Attempts), logpkg.Str("error", errText))
}

// sweepLoop promotes due delayed messages, reclaims expired claims for
// queues with no live consumer, and periodically trims fully-acked
// entries.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	tick := 0
	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
		}
		tick++
		m.sweepOnce(context.Background(), tick%30 == 0)
	}
}

func (m *Manager) sweepOnce(ctx context.Context, trim bool) {
	m.mu.RLock()
	states := make([]*queueState, 0, len(m.queues))
	for _, qs := range m.queues {
		states = append(states, qs)
	}
	m.mu.RUnlock()

	nowMs := time.Now().UnixMilli()
	for _, qs := range states {
		if _, err := qs.st.PromoteDue(ctx, nowMs, 256); err != nil {
			m.logger.Warn("promote sweep failed", logpkg.Str("queue", qs.cfg.Name), logpkg.Err(err))
		}
		groups, err := qs.st.Groups(ctx)
		if err != nil {
			m.logger.Warn("group scan failed", logpkg.Str("queue", qs.cfg.Name), logpkg.Err(err))
			continue
		}
		for _, g := range groups {
			if _, err := qs.st.ReclaimExpired(ctx, g.Name, nowMs, 256); err != nil {
				m.logger.Warn("reclaim sweep failed",
					logpkg.Str("queue", qs.cfg.Name), logpkg.Str("group", g.Name), logpkg.Err(err))
			}
		}
		if trim {
			if _, err := qs.st.TrimAcked(ctx, 1024); err != nil {
				m.logger.Warn("trim failed", logpkg.Str("queue", qs.cfg.Name), logpkg.Err(err))
			}
		}
	}
}

// Shutdown stops intake, stops all consumers and waits for in-flight
// batches, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.sweepStop)
	victims := make([]*consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		victims = append(victims, c)
	}
	m.consumers = map[string]*consumer{}
	m.mu.Unlock()

	for _, c := range victims {
		c.stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("queue manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("queue manager shutdown timed out", logpkg.Err(ctx.Err()))
		return ctx.Err()
	}
}
