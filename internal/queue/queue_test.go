package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/lead-intel/internal/domain"
)

func TestLocalQueueDoesNotRetryByDefault(t *testing.T) {
	q := NewLocalQueue(8, 0, 2, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(context.Context, domain.QueueMessage) error {
			calls.Add(1)
			return errors.New("boom")
		})
	}()

	require.NoError(t, q.Enqueue(ctx, domain.QueueMessage{JobID: "j1"}))
	require.Eventually(t, func() bool { return q.DLQSize() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLocalQueueRunsHandlersConcurrently(t *testing.T) {
	q := NewLocalQueue(8, 1, 3, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var running, peak atomic.Int32
	release := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, func(context.Context, domain.QueueMessage) error {
			current := running.Add(1)
			for {
				old := peak.Load()
				if current <= old || peak.CompareAndSwap(old, current) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		})
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, domain.QueueMessage{JobID: "j"}))
	}
	require.Eventually(t, func() bool { return running.Load() == 3 }, time.Second, 10*time.Millisecond)
	close(release)
	assert.Equal(t, int32(3), peak.Load())
}

func TestParseStreamMessage(t *testing.T) {
	requested := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	message := domain.QueueMessage{
		JobID:            "j1",
		Kind:             domain.MessageKindRetryAnalysis,
		UserID:           "u1",
		AnalysisProvider: "gemini",
		AnalysisModel:    "gemini-2.5-flash",
		Attempt:          0,
		RequestedAt:      requested,
	}
	values := streamValues(message)
	values["attempt"] = "0"

	parsed, err := parseStreamMessage(redis.XMessage{ID: "1-0", Values: values})
	require.NoError(t, err)
	assert.Equal(t, message, parsed)

	delete(values, "user_id")
	_, err = parseStreamMessage(redis.XMessage{ID: "1-0", Values: values})
	assert.Error(t, err)
}
