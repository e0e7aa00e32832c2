package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/queue"
	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
	logpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/log"
)

const (
	keyFilter   = "rule/filter/"
	keyThrottle = "rule/throttle/"
	keyPriority = "rule/priority/"
	keyRouting  = "rule/routing/"
)

type compiledFilter struct {
	FilterRule
	pred *predicate
}

type compiledThrottle struct {
	ThrottleRule
	key *keyProgram
}

type compiledPriority struct {
	PriorityRule
	pred *predicate
}

type compiledRoute struct {
	RoutingRule
	pred *predicate
}

// Enqueuer is the slice of the queue manager the pipeline needs to hand a
// rerouted message to its new queue.
type Enqueuer interface {
	EnqueueMessage(ctx context.Context, msg *queue.Message, delay time.Duration) error
}

// Engine runs messages through the filter, throttle, priority and routing
// stages in that order. Rules are persisted in the store and recompiled on
// load; conditions are CEL expressions validated at rule creation.
type Engine struct {
	db      *pebblestore.DB
	enq     Enqueuer
	counter Counter
	logger  logpkg.Logger

	mu        sync.RWMutex
	filters   []*compiledFilter
	throttles []*compiledThrottle
	priority  []*compiledPriority
	routes    []*compiledRoute
	nextPos   int
}

// NewEngine restores persisted rules. counter may be nil, which disables
// throttle evaluation until one is attached.
func NewEngine(db *pebblestore.DB, enq Enqueuer, counter Counter, logger logpkg.Logger) (*Engine, error) {
	if logger == nil {
		logger = logpkg.Discard()
	}
	e := &Engine{
		db:      db,
		enq:     enq,
		counter: counter,
		logger:  logger.With(logpkg.Component("rules")),
	}
	if err := e.restore(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) restore() error {
	if err := loadAll(e.db, keyFilter, func(r FilterRule) error {
		pred, err := compilePredicate("condition", r.Condition)
		if err != nil {
			return fmt.Errorf("rules: recompile filter %q: %w", r.ID, err)
		}
		e.filters = append(e.filters, &compiledFilter{FilterRule: r, pred: pred})
		e.bumpPos(r.Position)
		return nil
	}); err != nil {
		return err
	}
	if err := loadAll(e.db, keyThrottle, func(r ThrottleRule) error {
		key, err := compileKey("keyExpr", r.KeyExpr)
		if err != nil {
			return fmt.Errorf("rules: recompile throttle %q: %w", r.ID, err)
		}
		e.throttles = append(e.throttles, &compiledThrottle{ThrottleRule: r, key: key})
		e.bumpPos(r.Position)
		return nil
	}); err != nil {
		return err
	}
	if err := loadAll(e.db, keyPriority, func(r PriorityRule) error {
		pred, err := compilePredicate("condition", r.Condition)
		if err != nil {
			return fmt.Errorf("rules: recompile priority %q: %w", r.ID, err)
		}
		e.priority = append(e.priority, &compiledPriority{PriorityRule: r, pred: pred})
		e.bumpPos(r.Position)
		return nil
	}); err != nil {
		return err
	}
	if err := loadAll(e.db, keyRouting, func(r RoutingRule) error {
		pred, err := compilePredicate("condition", r.Condition)
		if err != nil {
			return fmt.Errorf("rules: recompile routing %q: %w", r.ID, err)
		}
		e.routes = append(e.routes, &compiledRoute{RoutingRule: r, pred: pred})
		e.bumpPos(r.Position)
		return nil
	}); err != nil {
		return err
	}
	e.sortLocked()
	e.logger.Info("rules restored",
		logpkg.Int("filters", len(e.filters)), logpkg.Int("throttles", len(e.throttles)),
		logpkg.Int("priority", len(e.priority)), logpkg.Int("routing", len(e.routes)))
	return nil
}

func (e *Engine) bumpPos(p int) {
	if p >= e.nextPos {
		e.nextPos = p + 1
	}
}

func (e *Engine) sortLocked() {
	sort.SliceStable(e.filters, func(i, j int) bool { return e.filters[i].Position < e.filters[j].Position })
	sort.SliceStable(e.throttles, func(i, j int) bool { return e.throttles[i].Position < e.throttles[j].Position })
	sort.SliceStable(e.priority, func(i, j int) bool { return e.priority[i].Position < e.priority[j].Position })
	sort.SliceStable(e.routes, func(i, j int) bool { return e.routes[i].Position < e.routes[j].Position })
}

func loadAll[T any](db *pebblestore.DB, prefix string, each func(T) error) error {
	lo, hi := pebblestore.PrefixBounds([]byte(prefix))
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var r T
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return fmt.Errorf("rules: corrupt rule at %q: %w", iter.Key(), err)
		}
		if err := each(r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) persist(prefix, id string, r any) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return e.db.Set([]byte(prefix+id), raw)
}

// --- filter rules ---

func (e *Engine) CreateFilterRule(ctx context.Context, r FilterRule) (FilterRule, error) {
	if err := validateFilter(&r); err != nil {
		return FilterRule{}, err
	}
	pred, err := compilePredicate("condition", r.Condition)
	if err != nil {
		return FilterRule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	stampNew(&r.ID, &r.CreatedAtMs, &r.UpdatedAtMs, &r.Position, &e.nextPos)
	if err := e.persist(keyFilter, r.ID, r); err != nil {
		return FilterRule{}, err
	}
	e.filters = append(e.filters, &compiledFilter{FilterRule: r, pred: pred})
	e.sortLocked()
	return r, nil
}

func (e *Engine) UpdateFilterRule(ctx context.Context, r FilterRule) (FilterRule, error) {
	if err := validateFilter(&r); err != nil {
		return FilterRule{}, err
	}
	pred, err := compilePredicate("condition", r.Condition)
	if err != nil {
		return FilterRule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.filters {
		if cur.ID == r.ID {
			r.Position, r.CreatedAtMs = cur.Position, cur.CreatedAtMs
			r.UpdatedAtMs = time.Now().UnixMilli()
			if err := e.persist(keyFilter, r.ID, r); err != nil {
				return FilterRule{}, err
			}
			e.filters[i] = &compiledFilter{FilterRule: r, pred: pred}
			return r, nil
		}
	}
	return FilterRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, r.ID)
}

func (e *Engine) DeleteFilterRule(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.filters {
		if cur.ID == id {
			if err := e.db.Delete([]byte(keyFilter + id)); err != nil {
				return err
			}
			e.filters = append(e.filters[:i], e.filters[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

func (e *Engine) FilterRules() []FilterRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]FilterRule, len(e.filters))
	for i, r := range e.filters {
		out[i] = r.FilterRule
	}
	return out
}

// --- throttle rules ---

func (e *Engine) CreateThrottleRule(ctx context.Context, r ThrottleRule) (ThrottleRule, error) {
	if err := validateThrottle(&r); err != nil {
		return ThrottleRule{}, err
	}
	key, err := compileKey("keyExpr", r.KeyExpr)
	if err != nil {
		return ThrottleRule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	stampNew(&r.ID, &r.CreatedAtMs, &r.UpdatedAtMs, &r.Position, &e.nextPos)
	if err := e.persist(keyThrottle, r.ID, r); err != nil {
		return ThrottleRule{}, err
	}
	e.throttles = append(e.throttles, &compiledThrottle{ThrottleRule: r, key: key})
	e.sortLocked()
	return r, nil
}

func (e *Engine) UpdateThrottleRule(ctx context.Context, r ThrottleRule) (ThrottleRule, error) {
	if err := validateThrottle(&r); err != nil {
		return ThrottleRule{}, err
	}
	key, err := compileKey("keyExpr", r.KeyExpr)
	if err != nil {
		return ThrottleRule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.throttles {
		if cur.ID == r.ID {
			r.Position, r.CreatedAtMs = cur.Position, cur.CreatedAtMs
			r.UpdatedAtMs = time.Now().UnixMilli()
			if err := e.persist(keyThrottle, r.ID, r); err != nil {
				return ThrottleRule{}, err
			}
			e.throttles[i] = &compiledThrottle{ThrottleRule: r, key: key}
			return r, nil
		}
	}
	return ThrottleRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, r.ID)
}

func (e *Engine) DeleteThrottleRule(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.throttles {
		if cur.ID == id {
			if err := e.db.Delete([]byte(keyThrottle + id)); err != nil {
				return err
			}
			e.throttles = append(e.throttles[:i], e.throttles[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

func (e *Engine) ThrottleRules() []ThrottleRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ThrottleRule, len(e.throttles))
	for i, r := range e.throttles {
		out[i] = r.ThrottleRule
	}
	return out
}

// --- priority rules ---

func (e *Engine) CreatePriorityRule(ctx context.Context, r PriorityRule) (PriorityRule, error) {
	if err := validatePriority(&r); err != nil {
		return PriorityRule{}, err
	}
	pred, err := compilePredicate("condition", r.Condition)
	if err != nil {
		return PriorityRule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	stampNew(&r.ID, &r.CreatedAtMs, &r.UpdatedAtMs, &r.Position, &e.nextPos)
	if err := e.persist(keyPriority, r.ID, r); err != nil {
		return PriorityRule{}, err
	}
	e.priority = append(e.priority, &compiledPriority{PriorityRule: r, pred: pred})
	e.sortLocked()
	return r, nil
}

func (e *Engine) UpdatePriorityRule(ctx context.Context, r PriorityRule) (PriorityRule, error) {
	if err := validatePriority(&r); err != nil {
		return PriorityRule{}, err
	}
	pred, err := compilePredicate("condition", r.Condition)
	if err != nil {
		return PriorityRule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.priority {
		if cur.ID == r.ID {
			r.Position, r.CreatedAtMs = cur.Position, cur.CreatedAtMs
			r.UpdatedAtMs = time.Now().UnixMilli()
			if err := e.persist(keyPriority, r.ID, r); err != nil {
				return PriorityRule{}, err
			}
			e.priority[i] = &compiledPriority{PriorityRule: r, pred: pred}
			return r, nil
		}
	}
	return PriorityRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, r.ID)
}

func (e *Engine) DeletePriorityRule(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.priority {
		if cur.ID == id {
			if err := e.db.Delete([]byte(keyPriority + id)); err != nil {
				return err
			}
			e.priority = append(e.priority[:i], e.priority[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

func (e *Engine) PriorityRules() []PriorityRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PriorityRule, len(e.priority))
	for i, r := range e.priority {
		out[i] = r.PriorityRule
	}
	return out
}

// --- routing rules ---

func (e *Engine) CreateRoutingRule(ctx context.Context, r RoutingRule) (RoutingRule, error) {
	if err := validateRouting(&r); err != nil {
		return RoutingRule{}, err
	}
	pred, err := compilePredicate("condition", r.Condition)
	if err != nil {
		return RoutingRule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	stampNew(&r.ID, &r.CreatedAtMs, &r.UpdatedAtMs, &r.Position, &e.nextPos)
	if err := e.persist(keyRouting, r.ID, r); err != nil {
		return RoutingRule{}, err
	}
	e.routes = append(e.routes, &compiledRoute{RoutingRule: r, pred: pred})
	e.sortLocked()
	return r, nil
}

func (e *Engine) UpdateRoutingRule(ctx context.Context, r RoutingRule) (RoutingRule, error) {
	if err := validateRouting(&r); err != nil {
		return RoutingRule{}, err
	}
	pred, err := compilePredicate("condition", r.Condition)
	if err != nil {
		return RoutingRule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.routes {
		if cur.ID == r.ID {
			r.Position, r.CreatedAtMs = cur.Position, cur.CreatedAtMs
			r.UpdatedAtMs = time.Now().UnixMilli()
			if err := e.persist(keyRouting, r.ID, r); err != nil {
				return RoutingRule{}, err
			}
			e.routes[i] = &compiledRoute{RoutingRule: r, pred: pred}
			return r, nil
		}
	}
	return RoutingRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, r.ID)
}

func (e *Engine) DeleteRoutingRule(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.routes {
		if cur.ID == id {
			if err := e.db.Delete([]byte(keyRouting + id)); err != nil {
				return err
			}
			e.routes = append(e.routes[:i], e.routes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

func (e *Engine) RoutingRules() []RoutingRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RoutingRule, len(e.routes))
	for i, r := range e.routes {
		out[i] = r.RoutingRule
	}
	return out
}

// --- pipeline ---

// Process runs the message through all four stages and enqueues it when the
// resulting queue differs from where it started.
func (e *Engine) Process(ctx context.Context, msg *queue.Message) (Result, error) {
	return e.run(ctx, msg, false)
}

// DryRun executes the same pipeline with zero side effects: throttle windows
// are peeked, nothing is enqueued.
func (e *Engine) DryRun(ctx context.Context, msg *queue.Message) (Result, error) {
	return e.run(ctx, msg, true)
}

func (e *Engine) run(ctx context.Context, original *queue.Message, dry bool) (Result, error) {
	msg := original.Clone()
	nowMs := time.Now().UnixMilli()
	res := Result{Status: StatusAccepted, Queue: msg.Queue, Priority: msg.Priority}

	e.mu.RLock()
	filters := append([]*compiledFilter(nil), e.filters...)
	throttles := append([]*compiledThrottle(nil), e.throttles...)
	priority := append([]*compiledPriority(nil), e.priority...)
	routes := append([]*compiledRoute(nil), e.routes...)
	e.mu.RUnlock()

	for _, f := range filters {
		if !f.Active || !f.pred.Eval(msg, nowMs) {
			continue
		}
		switch f.Action {
		case ActionReject:
			res.Status = StatusRejected
			res.Reason = f.Reason
			if res.Reason == "" {
				res.Reason = fmt.Sprintf("rejected by filter %q", f.Name)
			}
			res.Stages = append(res.Stages, StageResult{Stage: "filter", RuleID: f.ID, Rule: f.Name, Matched: true, Detail: "reject"})
			res.Queue, res.Priority = msg.Queue, msg.Priority
			return res, nil
		case ActionTransform:
			f.Transform.apply(msg)
			res.Stages = append(res.Stages, StageResult{Stage: "filter", RuleID: f.ID, Rule: f.Name, Matched: true, Detail: "transform"})
		default:
			res.Stages = append(res.Stages, StageResult{Stage: "filter", RuleID: f.ID, Rule: f.Name, Matched: true, Detail: "accept"})
		}
	}

	if e.counter != nil {
		for _, t := range throttles {
			if !t.Active {
				continue
			}
			key := t.key.Eval(msg, nowMs)
			if key == "" {
				continue
			}
			window := time.Duration(t.WindowMs) * time.Millisecond
			var over bool
			if dry {
				n, err := e.counter.Peek(ctx, key, window)
				if err != nil {
					return res, err
				}
				over = n >= t.Limit
			} else {
				ok, err := e.counter.Allow(ctx, key, t.Limit, window)
				if err != nil {
					return res, err
				}
				over = !ok
			}
			if over {
				res.Status = StatusThrottled
				res.Reason = fmt.Sprintf("throttled by %q: key %q over %d/%s", t.Name, key, t.Limit, window)
				res.Stages = append(res.Stages, StageResult{Stage: "throttle", RuleID: t.ID, Rule: t.Name, Matched: true, Detail: key})
				res.Queue, res.Priority = msg.Queue, msg.Priority
				return res, nil
			}
		}
	}

	var best *compiledPriority
	for _, p := range priority {
		if !p.Active || !p.pred.Eval(msg, nowMs) {
			continue
		}
		// ties resolved by declaration order: the slice is position-sorted
		if best == nil || p.Score > best.Score {
			best = p
		}
	}
	if best != nil {
		msg.Priority = PriorityLevel(best.Score)
		if best.Queue != "" {
			msg.Queue = best.Queue
		}
		res.Stages = append(res.Stages, StageResult{
			Stage: "priority", RuleID: best.ID, Rule: best.Name, Matched: true,
			Detail: fmt.Sprintf("score=%d level=%s", best.Score, msg.Priority),
		})
	}

	for _, r := range routes {
		if !r.Active || !r.pred.Eval(msg, nowMs) {
			continue
		}
		r.Transform.apply(msg)
		msg.Queue = r.TargetQueue
		res.Stages = append(res.Stages, StageResult{Stage: "routing", RuleID: r.ID, Rule: r.Name, Matched: true, Detail: r.TargetQueue})
		break
	}

	res.Queue, res.Priority = msg.Queue, msg.Priority
	if msg.Queue != original.Queue {
		res.Status = StatusRouted
		if !dry {
			// a rerouted message keeps whatever delay it still has left
			var delay time.Duration
			if msg.DelayUntilMs > nowMs {
				delay = time.Duration(msg.DelayUntilMs-nowMs) * time.Millisecond
			}
			if err := e.enq.EnqueueMessage(ctx, msg, delay); err != nil {
				return res, fmt.Errorf("rules: route to %q: %w", msg.Queue, err)
			}
			res.Enqueued = true
			e.logger.Debug("message rerouted",
				logpkg.Str("id", msg.ID), logpkg.Str("from", original.Queue), logpkg.Str("to", msg.Queue))
		}
	}
	if !dry {
		// hand the transformed message back so callers enqueue the final form
		*original = *msg
	}
	return res, nil
}

// --- validation ---

func stampNew(id *string, createdMs, updatedMs *int64, pos, next *int) {
	*id = uuid.NewString()
	now := time.Now().UnixMilli()
	*createdMs, *updatedMs = now, now
	*pos = *next
	*next++
}

func validateFilter(r *FilterRule) error {
	switch r.Action {
	case ActionAccept, ActionReject:
	case ActionTransform:
		if r.Transform == nil {
			return &ConfigurationError{Field: "transform", Err: fmt.Errorf("transform action needs a transform")}
		}
	default:
		return &ConfigurationError{Field: "action", Err: fmt.Errorf("unknown action %q", r.Action)}
	}
	return validateTransform(r.Transform)
}

func validateThrottle(r *ThrottleRule) error {
	if r.Limit < 1 {
		return &ConfigurationError{Field: "limit", Err: fmt.Errorf("limit must be >= 1, got %d", r.Limit)}
	}
	if r.WindowMs < 1 {
		return &ConfigurationError{Field: "windowMs", Err: fmt.Errorf("window must be positive, got %d", r.WindowMs)}
	}
	return nil
}

func validatePriority(r *PriorityRule) error {
	if r.Score < 0 {
		return &ConfigurationError{Field: "score", Err: fmt.Errorf("score must be >= 0, got %d", r.Score)}
	}
	return nil
}

func validateRouting(r *RoutingRule) error {
	if r.TargetQueue == "" {
		return &ConfigurationError{Field: "targetQueue", Err: fmt.Errorf("target queue required")}
	}
	return validateTransform(r.Transform)
}

func validateTransform(t *Transform) error {
	if t == nil || t.Priority == "" {
		return nil
	}
	if _, err := queue.ParsePriority(string(t.Priority)); err != nil {
		return &ConfigurationError{Field: "transform.priority", Err: err}
	}
	return nil
}
