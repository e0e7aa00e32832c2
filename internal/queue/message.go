package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority is the coarse delivery priority carried by a message.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority validates a priority string, defaulting empty to normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	case "":
		return PriorityNormal, nil
	}
	return "", fmt.Errorf("queue: invalid priority %q", s)
}

// Message is the unit of work flowing through the system. All timestamps are
// unix milliseconds so the JSON encoding is byte-stable across round trips.
type Message struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Priority      Priority          `json:"priority"`
	Queue         string            `json:"queue"`
	CreatedAtMs   int64             `json:"createdAtMs"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"maxAttempts"`
	DelayUntilMs  int64             `json:"delayUntilMs,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	ReplyTo       string            `json:"replyTo,omitempty"`
	ExpiresAtMs   int64             `json:"expiresAtMs,omitempty"`
}

// Encode serializes the message for the store.
func (m *Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("queue: encode message: %w", err)
	}
	return b, nil
}

// DecodeMessage deserializes a stored message body.
func DecodeMessage(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("queue: decode message: %w", err)
	}
	return &m, nil
}

// Expired reports whether the message's expiry has passed at nowMs.
func (m *Message) Expired(nowMs int64) bool {
	return m.ExpiresAtMs > 0 && nowMs > m.ExpiresAtMs
}

// Clone returns a deep copy so handlers and transforms never alias state.
func (m *Message) Clone() *Message {
	out := *m
	if m.Payload != nil {
		out.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// SetMeta writes a metadata key, allocating the map on first use.
func (m *Message) SetMeta(key, value string) {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[key] = value
}

// EnqueueOptions is the options bag accepted by producer-facing enqueue
// operations.
type EnqueueOptions struct {
	Priority      Priority
	Delay         time.Duration
	MaxAttempts   int // 0 means the queue retry policy's maxAttempts
	Metadata      map[string]string
	CorrelationID string
	ReplyTo       string
	ExpiresAt     time.Time
}

// BatchItem is one element of a batch enqueue.
type BatchItem struct {
	Type    string
	Payload any
	Opts    EnqueueOptions
}

// BatchResult reports the per-item outcome of a batch enqueue.
type BatchResult struct {
	ID  string
	Err error
}

// Metadata keys stamped onto dead-lettered messages.
const (
	MetaOriginalQueue = "originalQueue"
	MetaLastError     = "lastError"
	MetaFailedAt      = "failedAt"
	MetaDeadLettered  = "deadLettered"
)
