// Package consumer applies relayed events to the read model with at-most-once
// side effects per event id.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/boardfeed-backend/internal/events"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/metrics"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox"
)

const defaultHandlerTimeout = 10 * time.Second

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type idempotencyGuard interface {
	IsProcessed(ctx context.Context, eventID int64) (bool, error)
	MarkProcessed(ctx context.Context, eventID int64) error
}

type statusRecorder interface {
	RecordAttempt(ctx context.Context, eventID int64, eventType enums.EventType, shardKey string) error
	RecordFailure(ctx context.Context, eventID int64, cause error) error
	MarkProcessed(ctx context.Context, eventID int64, eventType enums.EventType) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, event events.Event) error
}

// Params wires a consumer.
type Params struct {
	Name           string
	Subscription   receiver
	Decoder        *events.Decoder
	Dispatcher     dispatcher
	Idempotency    idempotencyGuard
	Status         statusRecorder
	Logger         *logger.Logger
	Metrics        *metrics.PipelineMetrics
	HandlerTimeout time.Duration
}

// Consumer receives envelopes from one subscription and dispatches them.
type Consumer struct {
	name        string
	sub         receiver
	decoder     *events.Decoder
	dispatcher  dispatcher
	idempotency idempotencyGuard
	status      statusRecorder
	logg        *logger.Logger
	metrics     *metrics.PipelineMetrics
	timeout     time.Duration
	now         func() time.Time
}

func New(p Params) (*Consumer, error) {
	switch {
	case p.Decoder == nil:
		return nil, errors.New("decoder is required")
	case p.Dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	case p.Idempotency == nil:
		return nil, errors.New("idempotency guard is required")
	case p.Status == nil:
		return nil, errors.New("status recorder is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	}
	timeout := p.HandlerTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	name := p.Name
	if name == "" {
		name = "read-model"
	}
	return &Consumer{
		name:        name,
		sub:         p.Subscription,
		decoder:     p.Decoder,
		dispatcher:  p.Dispatcher,
		idempotency: p.Idempotency,
		status:      p.Status,
		logg:        p.Logger,
		metrics:     p.Metrics,
		timeout:     timeout,
		now:         time.Now,
	}, nil
}

// Run receives until ctx is canceled. Successful messages are acked; every
// failure is nacked so the broker redelivers it.
func (c *Consumer) Run(ctx context.Context) error {
	if c.sub == nil {
		return errors.New("subscription is required")
	}
	c.logg.Info(c.logg.WithField(ctx, "consumer", c.name), "consumer receiving")
	err := c.sub.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if err := c.Process(msgCtx, msg.Data, msg.Attributes); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s receive: %w", c.name, err)
	}
	return ctx.Err()
}

// String names the consumer for supervisor logs.
func (c *Consumer) String() string { return "consumer:" + c.name }

// Serve lets a supervisor run the consumer.
func (c *Consumer) Serve(ctx context.Context) error { return c.Run(ctx) }

// Process handles one message body. A nil return means the message may be acked.
func (c *Consumer) Process(ctx context.Context, data []byte, attrs map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	event, err := c.decoder.DecodeBytes(data)
	if err != nil {
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"consumer":   c.name,
			"event_type": attrs[outbox.AttrEventType],
			"event_id":   attrs[outbox.AttrEventID],
			"error":      err.Error(),
		})
		c.logg.Warn(logCtx, "poison message")
		c.metrics.ConsumerOutcome(attrs[outbox.AttrEventType], metrics.ConsumerPoison)
		return err
	}
	event.ShardKey = strings.TrimSpace(attrs[outbox.AttrShardKey])
	eventType := event.Type.String()

	logCtx := c.logg.WithEvent(c.logg.WithField(ctx, "consumer", c.name), event.ID, eventType)

	if event.ID == 0 {
		c.logg.Warn(logCtx, "event id missing; idempotency degraded")
	} else {
		done, err := c.idempotency.IsProcessed(logCtx, event.ID)
		if err != nil {
			c.logg.Error(logCtx, "idempotency check failed", err)
			c.metrics.ConsumerOutcome(eventType, metrics.ConsumerFailed)
			return err
		}
		if done {
			c.logg.Info(logCtx, "duplicate event skipped")
			c.metrics.ConsumerOutcome(eventType, metrics.ConsumerDuplicate)
			return nil
		}
		if err := c.status.RecordAttempt(logCtx, event.ID, event.Type, event.ShardKey); err != nil {
			c.logg.Error(logCtx, "record attempt failed", err)
			c.metrics.ConsumerOutcome(eventType, metrics.ConsumerFailed)
			return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "record processing attempt")
		}
	}

	start := c.now()
	err = c.dispatcher.Dispatch(logCtx, event)
	c.metrics.ObserveHandle(eventType, c.now().Sub(start))
	if err != nil {
		c.logg.Error(logCtx, "event handling failed", err)
		c.metrics.ConsumerOutcome(eventType, metrics.ConsumerFailed)
		if event.ID != 0 {
			if recErr := c.status.RecordFailure(context.WithoutCancel(logCtx), event.ID, err); recErr != nil {
				c.logg.Error(logCtx, "record failure failed", recErr)
			}
		}
		return err
	}

	if event.ID != 0 {
		if err := c.idempotency.MarkProcessed(logCtx, event.ID); err != nil {
			c.logg.Error(logCtx, "idempotency mark failed", err)
			c.metrics.ConsumerOutcome(eventType, metrics.ConsumerFailed)
			return err
		}
		if err := c.status.MarkProcessed(logCtx, event.ID, event.Type); err != nil {
			// the Redis marker already guards redelivery
			c.logg.Error(logCtx, "status mark failed", err)
		}
	}
	c.logg.Debug(logCtx, "event processed")
	c.metrics.ConsumerOutcome(eventType, metrics.ConsumerProcessed)
	return nil
}
