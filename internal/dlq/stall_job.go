package dlq

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
)

const (
	defaultStallCutoff = time.Hour
	defaultStallLimit  = 100
	orphanedError      = "event lost before processing"
)

type stalledFinder interface {
	FindStalled(ctx context.Context, cutoff time.Time, limit int) ([]models.EventProcessingStatus, error)
	ForceMarkProcessed(ctx context.Context, eventID int64, eventType enums.EventType, reason string) error
}

type outboxLookup interface {
	FindByEventID(ctx context.Context, eventID int64) (*models.OutboxEvent, error)
}

type deadLetterSaver interface {
	Save(ctx context.Context, entry models.DeadLetterEvent) (bool, error)
}

type StallJobParams struct {
	Logger      *logger.Logger
	Status      stalledFinder
	Outbox      outboxLookup
	DeadLetters deadLetterSaver
	Cutoff      time.Duration
	Limit       int
}

func NewStallJob(params StallJobParams) (*StallJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Status == nil {
		return nil, fmt.Errorf("status repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.DeadLetters == nil {
		return nil, fmt.Errorf("dead letter repository required")
	}
	cutoff := params.Cutoff
	if cutoff <= 0 {
		cutoff = defaultStallCutoff
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultStallLimit
	}
	return &StallJob{
		logg:        params.Logger,
		status:      params.Status,
		outbox:      params.Outbox,
		deadLetters: params.DeadLetters,
		cutoff:      cutoff,
		limit:       limit,
		now:         time.Now,
	}, nil
}

// StallJob finds events whose processing status never closed. An event still
// waiting in the outbox is in flight; anything else was lost and is recorded
// as an orphaned dead letter.
type StallJob struct {
	logg        *logger.Logger
	status      stalledFinder
	outbox      outboxLookup
	deadLetters deadLetterSaver
	cutoff      time.Duration
	limit       int
	now         func() time.Time
}

func (j *StallJob) Name() string { return "dlq-stall-detector" }

func (j *StallJob) Run(ctx context.Context) error {
	logCtx := j.logg.WithJob(ctx, j.Name())
	cutoff := j.now().UTC().Add(-j.cutoff)
	stalled, err := j.status.FindStalled(logCtx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("find stalled events: %w", err)
	}

	var errs error
	inFlight, orphaned := 0, 0
	for _, row := range stalled {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		lost, err := j.handle(logCtx, row)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("event %d: %w", row.EventID, err))
			continue
		}
		if lost {
			orphaned++
		} else {
			inFlight++
		}
	}
	reportCtx := j.logg.WithFields(logCtx, map[string]any{
		"stalled":   len(stalled),
		"in_flight": inFlight,
		"orphaned":  orphaned,
	})
	j.logg.Info(reportCtx, "dlq stall scan complete")
	return errs
}

func (j *StallJob) handle(ctx context.Context, row models.EventProcessingStatus) (bool, error) {
	source, err := j.outbox.FindByEventID(ctx, row.EventID)
	if err != nil {
		return false, err
	}
	if source != nil && !source.Processed {
		return false, nil
	}

	lastError := orphanedError
	if row.LastError != nil && *row.LastError != "" {
		lastError = *row.LastError
	}
	saved, err := j.deadLetters.Save(ctx, models.DeadLetterEvent{
		EventID:    row.EventID,
		EventType:  row.EventType,
		RetryCount: row.RetryCount,
		LastError:  lastError,
		Reason:     enums.DLQReasonOrphaned,
		ShardKey:   row.ShardKey,
	})
	if err != nil {
		return false, fmt.Errorf("save orphaned dead letter: %w", err)
	}
	if err := j.status.ForceMarkProcessed(ctx, row.EventID, row.EventType, string(enums.DLQReasonOrphaned)); err != nil {
		return false, fmt.Errorf("force mark processed: %w", err)
	}
	logCtx := j.logg.WithField(j.logg.WithEvent(ctx, row.EventID, string(row.EventType)), "new_row", saved)
	j.logg.Warn(logCtx, "stalled event presumed lost")
	return true, nil
}
