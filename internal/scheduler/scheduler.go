// Package scheduler turns cron expressions into recurring enqueue calls.
// Each active schedule is armed on a shared timer loop; triggers run the
// enqueue path, advance occurrence accounting and append to a bounded
// execution history.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/robfig/cron/v3"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/audit"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/queue"
	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/id"
	logpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/log"
)

// ErrScheduleNotFound is returned for unknown schedule ids.
var ErrScheduleNotFound = errors.New("scheduler: schedule not found")

const (
	keyPrefix  = "sched/"
	historyCap = 50
)

// standard 5-field cron spec
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduledTask is a recurring enqueue definition.
type ScheduledTask struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Queue           string          `json:"queue"`
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Priority        queue.Priority  `json:"priority,omitempty"`
	Cron            string          `json:"cron"`
	Timezone        string          `json:"timezone,omitempty"` // IANA name, default UTC
	Active          bool            `json:"active"`
	MaxOccurrences  int             `json:"maxOccurrences"` // 0 = unbounded
	OccurrenceCount int             `json:"occurrenceCount"`
	NextRunMs       int64           `json:"nextRunMs"`
	LastRunMs       int64           `json:"lastRunMs"`
	CreatedAtMs     int64           `json:"createdAtMs"`
	UpdatedAtMs     int64           `json:"updatedAtMs"`
}

// Execution is one history entry for a schedule.
type Execution struct {
	AtMs      int64  `json:"atMs"`
	Manual    bool   `json:"manual"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
	MessageID string `json:"messageId,omitempty"`
}

// Enqueuer is the queue-manager slice the scheduler drives.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, msgType string, payload any, opts queue.EnqueueOptions) (string, error)
	GetQueue(name string) (queue.QueueConfig, error)
}

type entry struct {
	task    ScheduledTask
	sched   cron.Schedule
	history []Execution
}

// Scheduler owns all schedules. A single timer loop wakes at the earliest
// nextRun; triggers run inline, which keeps occurrence accounting ordered.
type Scheduler struct {
	db     *pebblestore.DB
	enq    Enqueuer
	aud    audit.Recorder
	logger logpkg.Logger
	ids    *id.Generator

	mu      sync.Mutex
	entries map[string]*entry
	wake    chan struct{}

	nowMs func() int64
}

// New restores persisted schedules. Run must be called to arm triggers.
func New(db *pebblestore.DB, enq Enqueuer, aud audit.Recorder, logger logpkg.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logpkg.Discard()
	}
	s := &Scheduler{
		db:      db,
		enq:     enq,
		aud:     aud,
		logger:  logger.With(logpkg.Component("scheduler")),
		ids:     id.NewGenerator(),
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
		nowMs:   func() int64 { return time.Now().UnixMilli() },
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) restore() error {
	lo, hi := pebblestore.PrefixBounds([]byte(keyPrefix))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var t ScheduledTask
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return fmt.Errorf("scheduler: corrupt schedule at %q: %w", iter.Key(), err)
		}
		sched, err := parseCron(t.Cron, t.Timezone)
		if err != nil {
			return fmt.Errorf("scheduler: recompile %q: %w", t.ID, err)
		}
		s.entries[t.ID] = &entry{task: t, sched: sched}
	}
	s.logger.Info("schedules restored", logpkg.Int("count", len(s.entries)))
	return nil
}

func parseCron(expr, tz string) (cron.Schedule, error) {
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("scheduler: invalid timezone %q: %w", tz, err)
		}
		expr = "CRON_TZ=" + tz + " " + expr
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron %q: %w", expr, err)
	}
	return sched, nil
}

// Create validates the cron expression, timezone and target queue, computes
// the first nextRun and persists the schedule.
func (s *Scheduler) Create(ctx context.Context, t ScheduledTask) (ScheduledTask, error) {
	if t.Queue == "" || t.Type == "" {
		return ScheduledTask{}, fmt.Errorf("scheduler: queue and type required")
	}
	if _, err := s.enq.GetQueue(t.Queue); err != nil {
		return ScheduledTask{}, fmt.Errorf("scheduler: target queue: %w", err)
	}
	if t.MaxOccurrences < 0 {
		return ScheduledTask{}, fmt.Errorf("scheduler: maxOccurrences must be >= 0")
	}
	sched, err := parseCron(t.Cron, t.Timezone)
	if err != nil {
		return ScheduledTask{}, err
	}

	now := s.nowMs()
	t.ID = s.ids.Next().String()
	t.OccurrenceCount = 0
	t.LastRunMs = 0
	t.CreatedAtMs, t.UpdatedAtMs = now, now
	t.NextRunMs = sched.Next(time.UnixMilli(now)).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(&t); err != nil {
		return ScheduledTask{}, err
	}
	s.entries[t.ID] = &entry{task: t, sched: sched}
	s.kick()
	s.logger.Info("schedule created",
		logpkg.Str("id", t.ID), logpkg.Str("cron", t.Cron), logpkg.Str("queue", t.Queue))
	return t, nil
}

// Update re-validates and re-arms. Occurrence accounting is preserved.
func (s *Scheduler) Update(ctx context.Context, t ScheduledTask) (ScheduledTask, error) {
	if _, err := s.enq.GetQueue(t.Queue); err != nil {
		return ScheduledTask{}, fmt.Errorf("scheduler: target queue: %w", err)
	}
	sched, err := parseCron(t.Cron, t.Timezone)
	if err != nil {
		return ScheduledTask{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[t.ID]
	if !ok {
		return ScheduledTask{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, t.ID)
	}
	now := s.nowMs()
	t.OccurrenceCount = cur.task.OccurrenceCount
	t.LastRunMs = cur.task.LastRunMs
	t.CreatedAtMs = cur.task.CreatedAtMs
	t.UpdatedAtMs = now
	t.NextRunMs = sched.Next(time.UnixMilli(now)).UnixMilli()
	if err := s.persistLocked(&t); err != nil {
		return ScheduledTask{}, err
	}
	cur.task = t
	cur.sched = sched
	s.kick()
	return t, nil
}

// SetActive pauses or resumes a schedule. Resuming recomputes nextRun from
// now rather than firing missed triggers.
func (s *Scheduler) SetActive(ctx context.Context, scheduleID string, active bool) (ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[scheduleID]
	if !ok {
		return ScheduledTask{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
	}
	now := s.nowMs()
	cur.task.Active = active
	cur.task.UpdatedAtMs = now
	if active {
		cur.task.NextRunMs = cur.sched.Next(time.UnixMilli(now)).UnixMilli()
	}
	if err := s.persistLocked(&cur.task); err != nil {
		return ScheduledTask{}, err
	}
	s.kick()
	return cur.task, nil
}

// Delete removes a schedule and its history.
func (s *Scheduler) Delete(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[scheduleID]; !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
	}
	if err := s.db.Delete([]byte(keyPrefix + scheduleID)); err != nil {
		return err
	}
	delete(s.entries, scheduleID)
	s.kick()
	return nil
}

// Get returns one schedule.
func (s *Scheduler) Get(scheduleID string) (ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[scheduleID]
	if !ok {
		return ScheduledTask{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
	}
	return cur.task, nil
}

// List returns all schedules sorted by creation.
func (s *Scheduler) List() []ScheduledTask {
	s.mu.Lock()
	out := make([]ScheduledTask, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.task)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns the bounded execution history, newest first.
func (s *Scheduler) History(scheduleID string) ([]Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[scheduleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
	}
	out := make([]Execution, len(cur.history))
	for i, h := range cur.history {
		out[len(out)-1-i] = h
	}
	return out, nil
}

// ExecuteNow runs the enqueue path immediately, recorded as a manual
// execution. It does not advance the cron or the occurrence count.
func (s *Scheduler) ExecuteNow(ctx context.Context, scheduleID string) (Execution, error) {
	s.mu.Lock()
	cur, ok := s.entries[scheduleID]
	if !ok {
		s.mu.Unlock()
		return Execution{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
	}
	task := cur.task
	s.mu.Unlock()

	exec := s.fire(ctx, task, true)

	s.mu.Lock()
	if cur, ok := s.entries[scheduleID]; ok {
		cur.pushHistory(exec)
	}
	s.mu.Unlock()
	return exec, nil
}

func (e *entry) pushHistory(x Execution) {
	e.history = append(e.history, x)
	if len(e.history) > historyCap {
		e.history = e.history[len(e.history)-historyCap:]
	}
}

// fire performs one enqueue for the task and records it to the audit trail.
func (s *Scheduler) fire(ctx context.Context, task ScheduledTask, manual bool) Execution {
	start := time.Now()
	msgID, err := s.enq.Enqueue(ctx, task.Queue, task.Type, task.Payload, queue.EnqueueOptions{
		Priority: task.Priority,
		Metadata: map[string]string{"scheduleId": task.ID},
	})
	exec := Execution{
		AtMs:      s.nowMs(),
		Manual:    manual,
		Success:   err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
		MessageID: msgID,
	}
	if err != nil {
		exec.Error = err.Error()
		s.logger.Error("schedule trigger failed",
			logpkg.Str("id", task.ID), logpkg.Str("queue", task.Queue), logpkg.Err(err))
	}
	if s.aud != nil {
		action := "triggered"
		if manual {
			action = "executed-manually"
		}
		s.aud.Record(ctx, audit.KindSchedule, action, exec)
	}
	return exec
}

func (s *Scheduler) persistLocked(t *ScheduledTask) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(keyPrefix+t.ID), raw)
}

// kick wakes the timer loop after schedule changes.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run is the timer loop: sleep until the earliest nextRun among active
// schedules, fire everything due, repeat. It returns when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.earliest()
		var timer *time.Timer
		var fireCh <-chan time.Time
		if next > 0 {
			d := time.Duration(next-s.nowMs()) * time.Millisecond
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			fireCh = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-fireCh:
			s.fireDue(ctx)
		}
	}
}

// earliest returns the soonest nextRun among active schedules, 0 if none.
func (s *Scheduler) earliest() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var min int64
	for _, e := range s.entries {
		if !e.task.Active {
			continue
		}
		if min == 0 || e.task.NextRunMs < min {
			min = e.task.NextRunMs
		}
	}
	return min
}

// fireDue triggers every active schedule whose nextRun has passed. A
// schedule at its occurrence bound deactivates without enqueuing.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.nowMs()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if e.task.Active && e.task.NextRunMs > 0 && e.task.NextRunMs <= now {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.mu.Lock()
		task := e.task
		if !task.Active || task.NextRunMs > now {
			s.mu.Unlock()
			continue
		}
		if task.MaxOccurrences > 0 && task.OccurrenceCount >= task.MaxOccurrences {
			// terminal: bound reached, stop without enqueuing
			e.task.Active = false
			e.task.UpdatedAtMs = now
			_ = s.persistLocked(&e.task)
			s.mu.Unlock()
			s.logger.Info("schedule completed its occurrence bound",
				logpkg.Str("id", task.ID), logpkg.Int("occurrences", task.OccurrenceCount))
			if s.aud != nil {
				s.aud.Record(ctx, audit.KindSchedule, "deactivated", map[string]any{
					"scheduleId": task.ID, "occurrences": task.OccurrenceCount,
				})
			}
			continue
		}
		s.mu.Unlock()

		exec := s.fire(ctx, task, false)

		s.mu.Lock()
		e.pushHistory(exec)
		if exec.Success {
			e.task.OccurrenceCount++
		}
		e.task.LastRunMs = now
		e.task.NextRunMs = e.sched.Next(time.UnixMilli(now)).UnixMilli()
		if e.task.MaxOccurrences > 0 && e.task.OccurrenceCount >= e.task.MaxOccurrences {
			e.task.Active = false
		}
		e.task.UpdatedAtMs = s.nowMs()
		_ = s.persistLocked(&e.task)
		s.mu.Unlock()
	}
}
