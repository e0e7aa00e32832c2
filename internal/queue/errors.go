package queue

import "errors"

var (
	// ErrQueueNotFound is returned for operations against undeclared queues.
	ErrQueueNotFound = errors.New("queue: queue not found")
	// ErrQueueExists is returned when creating an already-declared queue.
	ErrQueueExists = errors.New("queue: queue already exists")
	// ErrQueueFull signals the maxLength backpressure bound was hit.
	ErrQueueFull = errors.New("queue: queue full")
	// ErrShuttingDown rejects work arriving after shutdown started.
	ErrShuttingDown = errors.New("queue: manager shutting down")
	// ErrConsumerNotFound is returned for unknown consumer instance IDs.
	ErrConsumerNotFound = errors.New("queue: consumer not found")
)
