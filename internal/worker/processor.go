package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/domain"
	"github.com/iago/lead-intel/internal/queue"
)

const restartDelay = 2 * time.Second

var errHandlerPanic = errors.New("job handler panicked")

// Processor drives a queue consumer, restarting it after backend errors
// until ctx is done.
type Processor struct {
	consumer queue.Consumer
	handler  queue.Handler
	logger   zerolog.Logger
}

func NewProcessor(consumer queue.Consumer, handler queue.Handler, logger zerolog.Logger) *Processor {
	return &Processor{consumer: consumer, handler: handler, logger: logger}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.handle)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error().Err(err).Msg("worker consume loop error")

		timer := time.NewTimer(restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) handle(ctx context.Context, message domain.QueueMessage) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error().Interface("panic", recovered).Str("job_id", message.JobID).Msg("job handler panicked")
			err = errHandlerPanic
		}
	}()
	return p.handler(ctx, message)
}
