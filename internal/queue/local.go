package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/domain"
)

// LocalQueue is an in-process queue used when Redis is not configured.
// Messages are handled by up to concurrency goroutines at once.
type LocalQueue struct {
	ch          chan domain.QueueMessage
	maxAttempts int
	concurrency int
	logger      zerolog.Logger

	dlqMu sync.Mutex
	dlq   []domain.QueueMessage
}

func NewLocalQueue(bufferSize, maxAttempts, concurrency int, logger zerolog.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &LocalQueue{
		ch:          make(chan domain.QueueMessage, bufferSize),
		maxAttempts: maxAttempts,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message:
		return nil
	}
}

// Consume blocks until ctx is done, then waits for running handlers.
func (q *LocalQueue) Consume(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	slots := make(chan struct{}, q.concurrency)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case slots <- struct{}{}:
		}

		select {
		case <-ctx.Done():
			<-slots
			return ctx.Err()
		case message := <-q.ch:
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-slots }()
				q.handle(ctx, handler, message)
			}()
		}
	}
}

func (q *LocalQueue) handle(ctx context.Context, handler Handler, message domain.QueueMessage) {
	err := handler(ctx, message)
	if err == nil {
		return
	}

	message.Attempt++
	if message.Attempt >= q.maxAttempts {
		q.dlqMu.Lock()
		q.dlq = append(q.dlq, message)
		q.dlqMu.Unlock()
		q.logger.Warn().Err(err).Str("job_id", message.JobID).Msg("local queue moved message to DLQ")
		return
	}

	delay := time.Duration(message.Attempt) * 500 * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		select {
		case q.ch <- message:
		case <-ctx.Done():
		}
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}
