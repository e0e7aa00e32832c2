package queue

import (
	"context"
	"fmt"
	"sync"

	logpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/log"
)

// Pool manages a variable-size set of identical consumer instances per
// queue. The auto-scaler drives it: a registered template says how new
// instances are built, ScaleTo adds or removes them.
type Pool struct {
	m      *Manager
	logger logpkg.Logger

	mu        sync.Mutex
	templates map[string]ConsumerConfig
	instances map[string][]string // queue -> consumer ids, oldest first
}

func NewPool(m *Manager, logger logpkg.Logger) *Pool {
	if logger == nil {
		logger = logpkg.Discard()
	}
	return &Pool{
		m:         m,
		logger:    logger.With(logpkg.Component("pool")),
		templates: make(map[string]ConsumerConfig),
		instances: make(map[string][]string),
	}
}

// SetTemplate declares how consumers for a queue are built and starts the
// initial instances. When initial <= 0 the queue's priorityWeight sets the
// baseline, so heavier queues start with a larger share of workers.
func (p *Pool) SetTemplate(ctx context.Context, cfg ConsumerConfig, initial int) error {
	if cfg.Queue == "" || cfg.Handler == nil {
		return fmt.Errorf("queue: pool template needs queue and handler")
	}
	if initial <= 0 {
		qc, err := p.m.GetQueue(cfg.Queue)
		if err != nil {
			return err
		}
		initial = qc.PriorityWeight
	}
	p.mu.Lock()
	p.templates[cfg.Queue] = cfg
	p.mu.Unlock()
	if initial > 0 {
		return p.ScaleTo(ctx, cfg.Queue, initial)
	}
	return nil
}

// ConsumerCount returns the number of pool-managed instances on a queue.
func (p *Pool) ConsumerCount(queue string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances[queue])
}

// ScaleTo grows or shrinks the instance set to target. Shrinking stops the
// oldest instances first and waits for their current batch.
func (p *Pool) ScaleTo(ctx context.Context, queue string, target int) error {
	if target < 0 {
		return fmt.Errorf("queue: scale target must be >= 0, got %d", target)
	}
	p.mu.Lock()
	tmpl, ok := p.templates[queue]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("queue: no consumer template for %q", queue)
	}
	current := append([]string(nil), p.instances[queue]...)
	p.mu.Unlock()

	switch {
	case target > len(current):
		for i := len(current); i < target; i++ {
			inst, err := p.m.RegisterConsumer(ctx, tmpl)
			if err != nil {
				return err
			}
			current = append(current, inst.ID)
		}
	case target < len(current):
		for _, victim := range current[:len(current)-target] {
			if err := p.m.StopConsumer(ctx, victim); err != nil {
				p.logger.Warn("pool stop failed", logpkg.Str("id", victim), logpkg.Err(err))
			}
		}
		current = current[len(current)-target:]
	}

	p.mu.Lock()
	p.instances[queue] = current
	p.mu.Unlock()
	p.logger.Info("pool scaled", logpkg.Str("queue", queue), logpkg.Int("instances", len(current)))
	return nil
}
