package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	gobreaker "github.com/sony/gobreaker/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/boardfeed-backend/pkg/config"
	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/metrics"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/registry"
)

const (
	defaultPublishTimeout  = 5 * time.Second
	defaultMaxAttempts     = 5
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 200 * time.Millisecond
	defaultRetryMaxDelay   = 2 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

// ErrBreakerOpen reports that publishing is suspended; the row is left untouched.
var ErrBreakerOpen = errors.New("publish circuit breaker open")

type outboxRepository interface {
	FetchDueForPublish(tx *gorm.DB, cutoff time.Time, limit int) ([]models.OutboxEvent, error)
	IsProcessed(tx *gorm.DB, id int64) (bool, error)
	MarkPublished(tx *gorm.DB, id int64, sentAt time.Time) error
	MarkFailed(tx *gorm.DB, id int64, cause error) error
	MarkDeadLettered(tx *gorm.DB, id int64, cause error) error
}

type dlqWriter interface {
	SaveTx(tx *gorm.DB, entry models.DeadLetterEvent) (bool, error)
}

type resolver interface {
	Resolve(row models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// Outcome is what happened to a row after a failed publish.
type Outcome int

const (
	OutcomeRetryLater Outcome = iota
	OutcomeDeadLettered
)

type ProcessorParams struct {
	Config     config.OutboxConfig
	Registry   resolver
	Publisher  Publisher
	Repository outboxRepository
	DLQ        dlqWriter
	Logger     *logger.Logger
	Metrics    *metrics.PipelineMetrics
}

// Processor owns the publish policy: breaker-protected delivery, inline
// retries, and the dead-letter decision once retries are spent.
type Processor struct {
	registry       resolver
	publisher      Publisher
	repo           outboxRepository
	dlq            dlqWriter
	logg           *logger.Logger
	metrics        *metrics.PipelineMetrics
	breaker        *gobreaker.CircuitBreaker[struct{}]
	publishTimeout time.Duration
	maxAttempts    int
	retryAttempts  int
	retryBase      time.Duration
	retryMax       time.Duration
	sleep          func(context.Context, time.Duration) error
}

func NewProcessor(p ProcessorParams) (*Processor, error) {
	switch {
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.Publisher == nil:
		return nil, errors.New("publisher is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case p.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	}
	cfg := p.Config
	proc := &Processor{
		registry:       p.Registry,
		publisher:      p.Publisher,
		repo:           p.Repository,
		dlq:            p.DLQ,
		logg:           p.Logger,
		metrics:        p.Metrics,
		publishTimeout: orDuration(cfg.PublishTimeout, defaultPublishTimeout),
		maxAttempts:    orInt(cfg.MaxAttempts, defaultMaxAttempts),
		retryAttempts:  orInt(cfg.RetryAttempts, defaultRetryAttempts),
		retryBase:      orDuration(cfg.RetryBaseDelay, defaultRetryBaseDelay),
		retryMax:       orDuration(cfg.RetryMaxDelay, defaultRetryMaxDelay),
		sleep:          sleepCtx,
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	proc.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "outbox-publish",
		Timeout: orDuration(cfg.BreakerTimeout, defaultBreakerTimeout),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// terminal rows say nothing about broker health
			return err == nil || !pkgerrors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			proc.metrics.BreakerOpen(to == gobreaker.StateOpen)
			logCtx := proc.logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			proc.logg.Warn(logCtx, "publish breaker state changed")
		},
	})
	return proc, nil
}

// Publish delivers row once through the breaker.
func (p *Processor) Publish(ctx context.Context, row models.OutboxEvent) error {
	resolved, err := p.registry.Resolve(row)
	if err != nil {
		return err
	}
	msg := &gcppubsub.Message{
		Data:        resolved.Data,
		OrderingKey: row.ShardKey,
		Attributes: map[string]string{
			outbox.AttrEventID:   strconv.FormatInt(row.EventID, 10),
			outbox.AttrEventType: string(row.EventType),
			outbox.AttrShardKey:  row.ShardKey,
		},
	}
	_, err = p.breaker.Execute(func() (struct{}, error) {
		publishCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
		if err := p.publisher.Publish(publishCtx, resolved.Descriptor.Topic, msg); err != nil {
			return struct{}{}, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "publish to "+resolved.Descriptor.Topic)
		}
		return struct{}{}, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBreakerOpen
	}
	return err
}

// PublishWithRetry retries retryable failures with capped exponential backoff.
// Terminal errors and an open breaker return immediately.
func (p *Processor) PublishWithRetry(ctx context.Context, row models.OutboxEvent) error {
	var err error
	delay := p.retryBase
	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		err = p.Publish(ctx, row)
		if err == nil || errors.Is(err, ErrBreakerOpen) || !pkgerrors.IsRetryable(err) {
			return err
		}
		if attempt == p.retryAttempts-1 {
			break
		}
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return err
		}
		delay *= 2
		if delay > p.retryMax {
			delay = p.retryMax
		}
	}
	return err
}

// HandleFailure records a failed publish. Terminal errors and rows out of
// attempts go to the dead-letter table; everything else waits for the next cycle.
func (p *Processor) HandleFailure(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, cause error) (Outcome, error) {
	nextAttempt := row.AttemptCount + 1
	logCtx := p.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID,
		"event_id":      row.EventID,
		"event_type":    row.EventType,
		"attempt_count": nextAttempt,
		"error":         cause.Error(),
	})

	var reason enums.DLQReason
	switch {
	case !pkgerrors.IsRetryable(cause):
		reason = enums.DLQReasonNonRetryable
	case nextAttempt >= p.maxAttempts:
		reason = enums.DLQReasonMaxAttempts
		cause = pkgerrors.Wrap(pkgerrors.CodeTerminalDelivery, cause, "max publish attempts reached")
	default:
		p.logg.Warn(logCtx, "outbox publish failed")
		if err := p.repo.MarkFailed(tx, row.ID, cause); err != nil {
			return OutcomeRetryLater, fmt.Errorf("mark failed %d: %w", row.ID, err)
		}
		return OutcomeRetryLater, nil
	}

	entry := models.DeadLetterEvent{
		EventID:    row.EventID,
		EventType:  row.EventType,
		RetryCount: nextAttempt,
		LastError:  cause.Error(),
		Payload:    deadLetterPayload(row),
		Reason:     reason,
		ShardKey:   optional(row.ShardKey),
	}
	saved, err := p.dlq.SaveTx(tx, entry)
	if err != nil {
		return OutcomeRetryLater, fmt.Errorf("dead-letter %d: %w", row.ID, err)
	}
	if !saved {
		p.logg.Info(logCtx, "dead-letter row already present")
	}
	if err := p.repo.MarkDeadLettered(tx, row.ID, cause); err != nil {
		return OutcomeRetryLater, fmt.Errorf("mark dead-lettered %d: %w", row.ID, err)
	}
	p.logg.Warn(p.logg.WithField(logCtx, "reason", reason), "outbox event dead-lettered")
	return OutcomeDeadLettered, nil
}

// deadLetterPayload stores the envelope so reprocessing sees the consumer's
// wire form. Rows without a payload keep the empty marker.
func deadLetterPayload(row models.OutboxEvent) []byte {
	if len(row.Payload) == 0 {
		return nil
	}
	data, err := outbox.EnvelopeFromRow(row).Marshal()
	if err != nil {
		return row.Payload
	}
	return data
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
