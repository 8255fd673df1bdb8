package queue

import (
	"context"

	"github.com/iago/lead-intel/internal/domain"
)

// Handler runs one research job message.
type Handler func(context.Context, domain.QueueMessage) error

// Producer sends research job messages to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer receives research job messages and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// DefaultMaxAttempts is one: failed pipeline runs are retried only by an
// explicit user action, never by the queue.
const DefaultMaxAttempts = 1
