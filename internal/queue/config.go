package queue

import (
	"fmt"
	"regexp"
)

var queueNameRe = regexp.MustCompile(`^[a-z0-9_.-]{1,128}$`)

// QueueConfig declares one queue and its processing behavior.
type QueueConfig struct {
	Name                string      `json:"name"`
	PriorityWeight      int         `json:"priorityWeight"` // baseline pool consumer share
	MaxLength           int         `json:"maxLength"`      // 0 = unbounded
	BatchSize           int         `json:"batchSize"`
	ProcessingTimeoutMs int64       `json:"processingTimeoutMs"`
	Retry               RetryPolicy `json:"retry"`
	DeadLetterQueue     string      `json:"deadLetterQueue"` // empty = none
	Persistent          bool        `json:"persistent"`      // messages survive restarts
	VisibilityTimeoutMs int64       `json:"visibilityTimeoutMs"`
	Partitions          uint32      `json:"partitions"`
}

// withDefaults fills unset fields.
func (c QueueConfig) withDefaults() QueueConfig {
	if c.PriorityWeight == 0 {
		c.PriorityWeight = 1
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.ProcessingTimeoutMs == 0 {
		c.ProcessingTimeoutMs = 30_000
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = DefaultRetryPolicy()
	}
	if c.VisibilityTimeoutMs == 0 {
		c.VisibilityTimeoutMs = 30_000
	}
	if c.Partitions == 0 {
		c.Partitions = 4
	}
	return c
}

// Validate fails fast on malformed configuration.
func (c QueueConfig) Validate() error {
	if !queueNameRe.MatchString(c.Name) {
		return fmt.Errorf("queue: invalid queue name %q", c.Name)
	}
	if c.MaxLength < 0 {
		return fmt.Errorf("queue: maxLength must be >= 0")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("queue: batchSize must be >= 1")
	}
	if c.ProcessingTimeoutMs < 1 {
		return fmt.Errorf("queue: processingTimeout must be positive")
	}
	if c.VisibilityTimeoutMs < 1 {
		return fmt.Errorf("queue: visibilityTimeout must be positive")
	}
	if c.DeadLetterQueue == c.Name && c.Name != "" {
		return fmt.Errorf("queue: queue %q cannot be its own dead-letter queue", c.Name)
	}
	if c.DeadLetterQueue != "" && !queueNameRe.MatchString(c.DeadLetterQueue) {
		return fmt.Errorf("queue: invalid dead-letter queue name %q", c.DeadLetterQueue)
	}
	return c.Retry.Validate()
}
