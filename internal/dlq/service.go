// Package dlq reprocesses dead-lettered events and detects events that were
// lost between the outbox and the read model.
package dlq

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/angelmondragon/boardfeed-backend/internal/events"
	"github.com/angelmondragon/boardfeed-backend/pkg/db"
	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/metrics"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox"
)

// ErrNotReprocessable marks a dead-letter row synthesized without a payload.
var ErrNotReprocessable = pkgerrors.New(pkgerrors.CodeConflict, "dead letter event has no payload to dispatch")

type deadLetterStore interface {
	FindByID(ctx context.Context, id int64) (*models.DeadLetterEvent, error)
	ListReprocessable(ctx context.Context, eventType enums.EventType, limit int) ([]models.DeadLetterEvent, error)
	List(ctx context.Context, afterID int64, limit int) ([]models.DeadLetterEvent, error)
	DeleteTx(tx *gorm.DB, id int64) error
	RecordRetryFailure(ctx context.Context, id int64, cause error) error
}

type statusMarker interface {
	MarkProcessedTx(tx *gorm.DB, eventID int64, eventType enums.EventType) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, event events.Event) error
}

type idempotencyGuard interface {
	IsProcessed(ctx context.Context, eventID int64) (bool, error)
	MarkProcessed(ctx context.Context, eventID int64) error
}

// Result counts one reprocessing pass.
type Result struct {
	Succeeded int
	Failed    int
}

type ServiceParams struct {
	DB            db.Transactor
	DeadLetters   deadLetterStore
	Status        statusMarker
	Decoder       *events.Decoder
	Dispatcher    dispatcher
	Idempotency   idempotencyGuard
	Logger        *logger.Logger
	Metrics       *metrics.PipelineMetrics
	RatePerSecond float64
}

type Service struct {
	db          db.Transactor
	deadLetters deadLetterStore
	status      statusMarker
	decoder     *events.Decoder
	dispatcher  dispatcher
	idempotency idempotencyGuard
	logg        *logger.Logger
	metrics     *metrics.PipelineMetrics
	limiter     *rate.Limiter
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.DB == nil:
		return nil, errors.New("database is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dead letter repository is required")
	case p.Status == nil:
		return nil, errors.New("status repository is required")
	case p.Decoder == nil:
		return nil, errors.New("decoder is required")
	case p.Dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	}
	svc := &Service{
		db:          p.DB,
		deadLetters: p.DeadLetters,
		status:      p.Status,
		decoder:     p.Decoder,
		dispatcher:  p.Dispatcher,
		idempotency: p.Idempotency,
		logg:        p.Logger,
		metrics:     p.Metrics,
	}
	if p.RatePerSecond > 0 {
		burst := int(p.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		svc.limiter = rate.NewLimiter(rate.Limit(p.RatePerSecond), burst)
	}
	return svc, nil
}

// List pages dead-letter rows newest first.
func (s *Service) List(ctx context.Context, afterID int64, limit int) ([]models.DeadLetterEvent, error) {
	return s.deadLetters.List(ctx, afterID, limit)
}

// Reprocess re-dispatches one dead-letter row. On success the row is deleted
// and the event is recorded as processed; on failure the row stays with its
// retry count bumped.
func (s *Service) Reprocess(ctx context.Context, id int64) error {
	row, err := s.deadLetters.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return s.reprocess(ctx, *row)
}

// ReprocessByType re-dispatches up to limit rows of one type. Per-row failures
// are counted, not returned.
func (s *Service) ReprocessByType(ctx context.Context, eventType enums.EventType, limit int) (Result, error) {
	var res Result
	rows, err := s.deadLetters.ListReprocessable(ctx, eventType, limit)
	if err != nil {
		return res, fmt.Errorf("list dead letters for %s: %w", eventType, err)
	}
	for _, row := range rows {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return res, err
			}
		} else if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.reprocess(ctx, row); err != nil {
			res.Failed++
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

func (s *Service) reprocess(ctx context.Context, row models.DeadLetterEvent) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"dlq_id":      row.ID,
		"event_id":    row.EventID,
		"event_type":  row.EventType,
		"retry_count": row.RetryCount,
	})
	if len(row.Payload) == 0 {
		return ErrNotReprocessable
	}

	if err := s.apply(logCtx, row); err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "dead letter reprocess failed")
		s.metrics.DLQResult(string(row.EventType), false)
		if recErr := s.deadLetters.RecordRetryFailure(context.WithoutCancel(logCtx), row.ID, err); recErr != nil {
			s.logg.Error(logCtx, "record dead letter failure", recErr)
		}
		return err
	}

	err := s.db.WithTx(logCtx, func(tx *gorm.DB) error {
		if err := s.deadLetters.DeleteTx(tx, row.ID); err != nil {
			return fmt.Errorf("delete dead letter %d: %w", row.ID, err)
		}
		if err := s.status.MarkProcessedTx(tx, row.EventID, row.EventType); err != nil {
			return fmt.Errorf("mark event %d processed: %w", row.EventID, err)
		}
		return nil
	})
	if err != nil {
		s.logg.Error(logCtx, "dead letter cleanup failed", err)
		s.metrics.DLQResult(string(row.EventType), false)
		return err
	}
	if s.idempotency != nil {
		if err := s.idempotency.MarkProcessed(logCtx, row.EventID); err != nil {
			s.logg.Error(logCtx, "idempotency mark failed", err)
		}
	}
	s.metrics.DLQResult(string(row.EventType), true)
	s.logg.Info(logCtx, "dead letter reprocessed")
	return nil
}

// apply decodes the stored envelope and dispatches it unless the event was
// already applied through a later redelivery.
func (s *Service) apply(ctx context.Context, row models.DeadLetterEvent) error {
	env, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return err
	}
	event, err := s.decoder.Decode(env)
	if err != nil {
		return err
	}
	if row.ShardKey != nil {
		event.ShardKey = *row.ShardKey
	}
	if s.idempotency != nil && event.ID != 0 {
		done, err := s.idempotency.IsProcessed(ctx, event.ID)
		if err != nil {
			return err
		}
		if done {
			s.logg.Info(ctx, "event already applied; dropping dead letter")
			return nil
		}
	}
	return s.dispatcher.Dispatch(ctx, event)
}
