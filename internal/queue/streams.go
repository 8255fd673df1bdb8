package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/domain"
)

type StreamsConfig struct {
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
}

// StreamsQueue implements Producer and Consumer backed by Redis Streams.
type StreamsQueue struct {
	client      redis.UniversalClient
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	logger      zerolog.Logger
}

func NewStreamsQueue(ctx context.Context, client redis.UniversalClient, cfg StreamsConfig, logger zerolog.Logger) (*StreamsQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "research_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "research_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	queue := &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: streamValues(message),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

// Consume reads messages for this consumer until ctx is done. Messages are
// handled sequentially; run several consumers for parallelism.
func (q *StreamsQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.handle(ctx, handler, item)
			}
		}
	}
}

// WithConsumer returns a copy reading as another consumer of the same group.
func (q *StreamsQueue) WithConsumer(name string) *StreamsQueue {
	cp := *q
	cp.consumer = name
	return &cp
}

func (q *StreamsQueue) handle(ctx context.Context, handler Handler, item redis.XMessage) {
	message, err := parseStreamMessage(item)
	if err != nil {
		q.sendToDLQ(ctx, domain.QueueMessage{}, item, err.Error())
		q.ackAndDelete(ctx, item.ID)
		return
	}

	handleErr := handler(ctx, message)
	if handleErr == nil {
		q.ackAndDelete(ctx, item.ID)
		return
	}

	message.Attempt++
	if message.Attempt >= q.maxAttempts {
		q.sendToDLQ(ctx, message, item, handleErr.Error())
	} else if requeueErr := q.Enqueue(ctx, message); requeueErr != nil {
		q.sendToDLQ(ctx, message, item, fmt.Sprintf("requeue failed: %v", requeueErr))
	}
	q.ackAndDelete(ctx, item.ID)
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		q.logger.Warn().Err(err).Str("stream_id", streamID).Msg("xack failed")
		return
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		q.logger.Warn().Err(err).Str("stream_id", streamID).Msg("xdel failed")
	}
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, message domain.QueueMessage, item redis.XMessage, errorMessage string) {
	values := streamValues(message)
	values["stream_id"] = item.ID
	values["error"] = errorMessage
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Err(); err != nil {
		q.logger.Error().Err(err).Str("job_id", message.JobID).Msg("send to dlq failed")
		return
	}
	q.logger.Warn().Str("job_id", message.JobID).Str("error", errorMessage).Msg("message moved to DLQ")
}

func streamValues(message domain.QueueMessage) map[string]any {
	return map[string]any{
		"job_id":            message.JobID,
		"kind":              string(message.Kind),
		"user_id":           message.UserID,
		"search_provider":   message.SearchProvider,
		"analysis_provider": message.AnalysisProvider,
		"analysis_model":    message.AnalysisModel,
		"attempt":           message.Attempt,
		"requested_at":      message.RequestedAt.Format(time.RFC3339Nano),
	}
}

func parseStreamMessage(item redis.XMessage) (domain.QueueMessage, error) {
	getString := func(key string, required bool) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			if required {
				return "", fmt.Errorf("missing field %s", key)
			}
			return "", nil
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id", true)
	if err != nil {
		return domain.QueueMessage{}, err
	}
	kind, err := getString("kind", true)
	if err != nil {
		return domain.QueueMessage{}, err
	}
	userID, err := getString("user_id", true)
	if err != nil {
		return domain.QueueMessage{}, err
	}

	attemptString, err := getString("attempt", true)
	if err != nil {
		return domain.QueueMessage{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid attempt: %w", err)
	}

	requestedAtString, err := getString("requested_at", true)
	if err != nil {
		return domain.QueueMessage{}, err
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, requestedAtString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	searchProvider, _ := getString("search_provider", false)
	analysisProvider, _ := getString("analysis_provider", false)
	analysisModel, _ := getString("analysis_model", false)

	return domain.QueueMessage{
		JobID:            jobID,
		Kind:             domain.MessageKind(kind),
		UserID:           userID,
		SearchProvider:   searchProvider,
		AnalysisProvider: analysisProvider,
		AnalysisModel:    analysisModel,
		Attempt:          attempt,
		RequestedAt:      requestedAt,
	}, nil
}
