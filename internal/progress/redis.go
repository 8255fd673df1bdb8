package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/domain"
)

const publishTimeout = 2 * time.Second

type wireEvent struct {
	JobID string               `json:"job_id"`
	Event domain.ProgressEvent `json:"event"`
}

// RedisBroadcaster relays events between processes over a Redis Pub/Sub
// channel. Publish hands events to a local sender goroutine; Subscribe is
// served by a local Hub fed from the channel.
type RedisBroadcaster struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	out     chan wireEvent
	logger  zerolog.Logger
}

func NewRedisBroadcaster(client redis.UniversalClient, channel string, buffer int, logger zerolog.Logger) *RedisBroadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if channel == "" {
		channel = "research_progress"
	}
	return &RedisBroadcaster{
		client:  client,
		channel: channel,
		hub:     NewHub(buffer, DefaultSubscriberBuffer),
		out:     make(chan wireEvent, buffer),
		logger:  logger,
	}
}

func (b *RedisBroadcaster) Publish(jobID string, event domain.ProgressEvent) {
	select {
	case b.out <- wireEvent{JobID: jobID, Event: event}:
	default:
		b.hub.drop()
	}
}

func (b *RedisBroadcaster) Subscribe(jobID string) *Subscription {
	return b.hub.Subscribe(jobID)
}

// Run sends queued events and relays channel messages into the local hub
// until ctx is done.
func (b *RedisBroadcaster) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()
	defer b.hub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	messages := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-b.out:
			b.send(ctx, event)
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			var event wireEvent
			if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
				b.logger.Debug().Err(err).Msg("invalid progress payload")
				continue
			}
			b.hub.Publish(event.JobID, event.Event)
		}
	}
}

func (b *RedisBroadcaster) send(ctx context.Context, event wireEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.hub.drop()
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.client.Publish(sendCtx, b.channel, payload).Err(); err != nil {
		b.hub.drop()
		b.logger.Debug().Err(err).Str("job_id", event.JobID).Msg("progress publish failed")
	}
}

func (b *RedisBroadcaster) Dropped() int64 {
	return b.hub.Dropped()
}
