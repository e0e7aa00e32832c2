package rules

import (
	"errors"
	"fmt"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/queue"
)

// ErrRuleNotFound is returned for CRUD against unknown rule ids.
var ErrRuleNotFound = errors.New("rules: rule not found")

// ConfigurationError reports a rule rejected at creation or update time,
// typically a malformed condition expression.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rules: invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// FilterAction is what a matching filter rule does to the message.
type FilterAction string

const (
	ActionAccept    FilterAction = "accept"
	ActionReject    FilterAction = "reject"
	ActionTransform FilterAction = "transform"
)

// Transform is an in-place message patch applied by filter or routing rules.
type Transform struct {
	Queue       string            `json:"queue,omitempty"`
	Priority    queue.Priority    `json:"priority,omitempty"`
	SetMetadata map[string]string `json:"setMetadata,omitempty"`
}

func (t *Transform) apply(msg *queue.Message) {
	if t == nil {
		return
	}
	if t.Queue != "" {
		msg.Queue = t.Queue
	}
	if t.Priority != "" {
		msg.Priority = t.Priority
	}
	for k, v := range t.SetMetadata {
		msg.SetMeta(k, v)
	}
}

// FilterRule accepts, rejects or transforms messages whose condition matches.
type FilterRule struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Condition   string       `json:"condition"`
	Action      FilterAction `json:"action"`
	Reason      string       `json:"reason,omitempty"`
	Transform   *Transform   `json:"transform,omitempty"`
	Active      bool         `json:"active"`
	Position    int          `json:"position"`
	CreatedAtMs int64        `json:"createdAtMs"`
	UpdatedAtMs int64        `json:"updatedAtMs"`
}

// ThrottleRule bounds message flow per extracted key over a sliding window.
type ThrottleRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	KeyExpr     string `json:"keyExpr"`
	Limit       int    `json:"limit"`
	WindowMs    int64  `json:"windowMs"`
	Active      bool   `json:"active"`
	Position    int    `json:"position"`
	CreatedAtMs int64  `json:"createdAtMs"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
}

// PriorityRule assigns a priority score (and optionally a queue) to matching
// messages. Among matches the highest score wins; ties go to the earliest
// declared rule.
type PriorityRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Condition   string `json:"condition"`
	Score       int    `json:"score"`
	Queue       string `json:"queue,omitempty"`
	Active      bool   `json:"active"`
	Position    int    `json:"position"`
	CreatedAtMs int64  `json:"createdAtMs"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
}

// RoutingRule redirects matching messages to a target queue. Routing rules
// run in declaration order and the first match wins.
type RoutingRule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Condition   string     `json:"condition"`
	TargetQueue string     `json:"targetQueue"`
	Transform   *Transform `json:"transform,omitempty"`
	Active      bool       `json:"active"`
	Position    int        `json:"position"`
	CreatedAtMs int64      `json:"createdAtMs"`
	UpdatedAtMs int64      `json:"updatedAtMs"`
}

// PriorityLevel maps a numeric score to the coarse delivery priority.
func PriorityLevel(score int) queue.Priority {
	switch {
	case score >= 800:
		return queue.PriorityHigh
	case score >= 200:
		return queue.PriorityNormal
	}
	return queue.PriorityLow
}

// Status is the pipeline's terminal disposition for a message.
type Status string

const (
	// StatusAccepted means the message passed all stages unchanged.
	StatusAccepted Status = "accepted"
	// StatusRejected means a filter rule dropped the message.
	StatusRejected Status = "rejected"
	// StatusThrottled means a throttle window is full; the producer should
	// retry later.
	StatusThrottled Status = "throttled"
	// StatusRouted means the message was redirected to a different queue.
	StatusRouted Status = "routed"
)

// StageResult records what one pipeline stage decided.
type StageResult struct {
	Stage   string `json:"stage"` // filter|throttle|priority|routing
	RuleID  string `json:"ruleId,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Matched bool   `json:"matched"`
	Detail  string `json:"detail,omitempty"`
}

// Result is the outcome of running a message through the pipeline.
type Result struct {
	Status   Status         `json:"status"`
	Reason   string         `json:"reason,omitempty"`
	Queue    string         `json:"queue"`
	Priority queue.Priority `json:"priority"`
	Enqueued bool           `json:"enqueued"`
	Stages   []StageResult  `json:"stages"`
}
