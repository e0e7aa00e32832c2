package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/stream"
	logpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/log"
)

// OutcomeCode is the handler's verdict for one message.
type OutcomeCode int

const (
	// OutcomeSuccess acknowledges the message.
	OutcomeSuccess OutcomeCode = iota
	// OutcomeRetry re-enqueues with an attempt increment and backoff delay,
	// dead-lettering once attempts are exhausted.
	OutcomeRetry
	// OutcomeRequeue re-enqueues unchanged, without touching attempts.
	OutcomeRequeue
	// OutcomeFail dead-letters immediately (non-retryable).
	OutcomeFail
)

func (c OutcomeCode) String() string {
	switch c {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeRequeue:
		return "requeue"
	case OutcomeFail:
		return "fail"
	}
	return "unknown"
}

// Outcome carries the handler verdict and, for failures, the cause.
type Outcome struct {
	Code OutcomeCode
	Err  error
}

// Success acknowledges the message.
func Success() Outcome { return Outcome{Code: OutcomeSuccess} }

// Retry reports a transient failure; the message is retried per the queue's
// backoff policy.
func Retry(err error) Outcome { return Outcome{Code: OutcomeRetry, Err: err} }

// Requeue asks for redelivery without counting an attempt.
func Requeue() Outcome { return Outcome{Code: OutcomeRequeue} }

// Fail reports a permanent failure; the message is dead-lettered.
func Fail(err error) Outcome { return Outcome{Code: OutcomeFail, Err: err} }

// Handler processes one message. Handlers must be idempotent: delivery is
// at-least-once.
type Handler func(ctx context.Context, msg *Message) Outcome

// ConsumerStatus is the lifecycle state of a consumer instance.
type ConsumerStatus string

const (
	ConsumerStarting ConsumerStatus = "starting"
	ConsumerActive   ConsumerStatus = "active"
	ConsumerStopping ConsumerStatus = "stopping"
	ConsumerStopped  ConsumerStatus = "stopped"
	ConsumerError    ConsumerStatus = "error"
)

// ConsumerConfig registers a consumer instance on a queue.
type ConsumerConfig struct {
	Queue   string
	Group   string // default "workers"
	Name    string
	Handler Handler
	// BatchSize caps entries per poll; 0 uses the queue's batchSize.
	BatchSize int
	// BlockFor bounds how long an empty poll blocks; 0 means 2s.
	BlockFor time.Duration
}

// ConsumerInstance is a point-in-time snapshot of a consumer for reporting.
type ConsumerInstance struct {
	ID             string         `json:"id"`
	Queue          string         `json:"queue"`
	Group          string         `json:"group"`
	Name           string         `json:"name"`
	Status         ConsumerStatus `json:"status"`
	ProcessedCount uint64         `json:"processedCount"`
	ErrorCount     uint64         `json:"errorCount"`
	LastActivityMs int64          `json:"lastActivityMs"`
}

type consumer struct {
	id     string
	cfg    ConsumerConfig
	qs     *queueState
	m      *Manager
	logger logpkg.Logger

	pollCtx  context.Context
	stopPoll context.CancelFunc
	stopped  chan struct{}

	mu             sync.Mutex
	status         ConsumerStatus
	processedCount uint64
	errorCount     uint64
	lastActivityMs int64
}

func (c *consumer) snapshot() ConsumerInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConsumerInstance{
		ID:             c.id,
		Queue:          c.cfg.Queue,
		Group:          c.cfg.Group,
		Name:           c.cfg.Name,
		Status:         c.status,
		ProcessedCount: c.processedCount,
		ErrorCount:     c.errorCount,
		LastActivityMs: c.lastActivityMs,
	}
}

func (c *consumer) setStatus(s ConsumerStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *consumer) touch(code OutcomeCode) {
	c.mu.Lock()
	switch code {
	case OutcomeSuccess:
		c.processedCount++
	case OutcomeRetry, OutcomeFail:
		c.errorCount++
	}
	c.lastActivityMs = time.Now().UnixMilli()
	c.mu.Unlock()
}

// stop cancels polling. The current batch, if any, still runs to completion.
func (c *consumer) stop() {
	c.setStatus(ConsumerStopping)
	c.stopPoll()
}

// run is the consumer's polling loop: reclaim expired claims, block-read a
// batch, dispatch it concurrently, repeat until stopped. Store errors do not
// kill the loop; it backs off and retries.
func (c *consumer) run() {
	defer close(c.stopped)
	defer c.m.wg.Done()
	defer c.setStatus(ConsumerStopped)
	c.setStatus(ConsumerActive)

	batch := c.cfg.BatchSize
	if batch <= 0 {
		batch = c.qs.cfg.BatchSize
	}
	block := c.cfg.BlockFor
	if block <= 0 {
		block = 2 * time.Second
	}
	backoff := time.Second

	for {
		if c.pollCtx.Err() != nil {
			return
		}
		if _, err := c.qs.st.ReclaimExpired(c.pollCtx, c.cfg.Group, 0, batch*4); err != nil && c.pollCtx.Err() == nil {
			c.logger.Warn("reclaim failed", logpkg.Err(err))
		}
		ds, err := c.qs.st.ReadGroupBlock(c.pollCtx, c.cfg.Group, c.id, batch, c.qs.cfg.VisibilityTimeoutMs, block)
		if err != nil {
			if c.pollCtx.Err() != nil {
				return
			}
			c.setStatus(ConsumerError)
			c.logger.Error("poll failed, backing off", logpkg.Err(err), logpkg.Dur("backoff", backoff))
			select {
			case <-c.pollCtx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		c.setStatus(ConsumerActive)
		backoff = time.Second
		if len(ds) == 0 {
			continue
		}
		c.dispatch(ds)
	}
}

// dispatch runs the batch through the handler with bounded concurrency.
func (c *consumer) dispatch(ds []stream.Delivery) {
	g := new(errgroup.Group)
	g.SetLimit(len(ds))
	for _, d := range ds {
		d := d
		g.Go(func() error {
			c.process(d)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *consumer) process(d stream.Delivery) {
	nowMs := time.Now().UnixMilli()
	ref := stream.Ref{Partition: d.Partition, Seq: d.Seq}

	msg, err := DecodeMessage(d.Body)
	if err != nil {
		// poison entry: it can never be handled, drop it
		c.logger.Error("undecodable message, dropping", logpkg.Err(err), logpkg.F("ref", ref))
		c.ack(ref)
		c.touch(OutcomeFail)
		return
	}
	if msg.Expired(nowMs) {
		c.logger.Debug("message expired, dropping", logpkg.Str("id", msg.ID))
		c.qs.stats.observeExpired()
		c.ack(ref)
		return
	}

	start := time.Now()
	outcome := c.invoke(msg)
	c.m.handleOutcome(c, ref, msg, outcome, time.Since(start))
	c.touch(outcome.Code)
}

// invoke runs the handler under the queue's processing timeout. A timeout or
// panic is treated as a retryable failure.
func (c *consumer) invoke(msg *Message) Outcome {
	timeout := time.Duration(c.qs.cfg.ProcessingTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Retry(fmt.Errorf("handler panic: %v", r))
			}
		}()
		done <- c.cfg.Handler(ctx, msg.Clone())
	}()

	select {
	case o := <-done:
		return o
	case <-ctx.Done():
		return Retry(fmt.Errorf("processing timeout after %s", timeout))
	}
}

func (c *consumer) ack(ref stream.Ref) {
	if err := c.qs.st.Ack(context.Background(), c.cfg.Group, []stream.Ref{ref}); err != nil {
		c.logger.Error("ack failed", logpkg.Err(err), logpkg.F("ref", ref))
	}
}
