// Package relay moves committed outbox rows to Pub/Sub.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/boardfeed-backend/pkg/config"
	"github.com/angelmondragon/boardfeed-backend/pkg/db"
	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/metrics"
)

const (
	defaultBatchSize    = 100
	defaultSafetyCutoff = 2 * time.Second
)

// RelayStats summarizes one relay cycle.
type RelayStats struct {
	Fetched      int
	Published    int
	Failed       int
	DeadLettered int
	Skipped      int
	Stopped      bool
}

type RelayParams struct {
	Config     config.OutboxConfig
	DB         db.Transactor
	Repository outboxRepository
	Processor  *Processor
	Logger     *logger.Logger
	Metrics    *metrics.PipelineMetrics
}

// Relay is the scheduled job that drains due outbox rows.
type Relay struct {
	db        db.Transactor
	repo      outboxRepository
	processor *Processor
	logg      *logger.Logger
	metrics   *metrics.PipelineMetrics
	batchSize int
	cutoff    time.Duration
	now       func() time.Time
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.DB == nil:
		return nil, errors.New("database is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case p.Processor == nil:
		return nil, errors.New("processor is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	}
	return &Relay{
		db:        p.DB,
		repo:      p.Repository,
		processor: p.Processor,
		logg:      p.Logger,
		metrics:   p.Metrics,
		batchSize: orInt(p.Config.BatchSize, defaultBatchSize),
		cutoff:    orDuration(p.Config.SafetyCutoff, defaultSafetyCutoff),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *Relay) Name() string { return "outbox-relay" }

// Run executes one cycle as a scheduled job.
func (r *Relay) Run(ctx context.Context) error {
	stats, err := r.RunOnce(ctx)
	if err != nil {
		return err
	}
	if stats.Fetched > 0 {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"fetched":       stats.Fetched,
			"published":     stats.Published,
			"failed":        stats.Failed,
			"dead_lettered": stats.DeadLettered,
			"skipped":       stats.Skipped,
			"stopped":       stats.Stopped,
		})
		r.logg.Info(logCtx, "outbox relay cycle complete")
	}
	return nil
}

// RunOnce publishes the rows created before now-cutoff, oldest first. Each
// row is published and marked in its own transaction, so a failure on one row
// never rolls back the marks of the rows before it. Cancellation or an open
// breaker ends the batch early; rows already marked stay marked and the rest
// are left for the next cycle.
func (r *Relay) RunOnce(ctx context.Context) (RelayStats, error) {
	var stats RelayStats
	// marks must commit even when ctx is canceled mid-batch
	txCtx := context.WithoutCancel(ctx)

	var rows []models.OutboxEvent
	err := r.db.WithTx(txCtx, func(tx *gorm.DB) error {
		var err error
		rows, err = r.repo.FetchDueForPublish(tx, r.now().Add(-r.cutoff), r.batchSize)
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("fetch due outbox rows: %w", err)
	}
	stats.Fetched = len(rows)

	for _, row := range rows {
		if ctx.Err() != nil {
			stats.Stopped = true
			return stats, nil
		}
		var stop bool
		err := r.db.WithTx(txCtx, func(tx *gorm.DB) error {
			var err error
			stop, err = r.relayRow(ctx, tx, row, &stats)
			return err
		})
		if err != nil {
			return stats, err
		}
		if stop {
			stats.Stopped = true
			return stats, nil
		}
	}
	return stats, nil
}

// relayRow settles a single row inside tx. It reports stop when the batch
// should end without treating the row as failed.
func (r *Relay) relayRow(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, stats *RelayStats) (bool, error) {
	processed, err := r.repo.IsProcessed(tx, row.ID)
	if err != nil {
		return false, fmt.Errorf("recheck outbox row %d: %w", row.ID, err)
	}
	if processed {
		stats.Skipped++
		r.metrics.RelayOutcome(string(row.EventType), metrics.RelaySkipped)
		return false, nil
	}

	pubErr := r.processor.PublishWithRetry(ctx, row)
	switch {
	case pubErr == nil:
		if err := r.repo.MarkPublished(tx, row.ID, r.now()); err != nil {
			return false, fmt.Errorf("mark published %d: %w", row.ID, err)
		}
		stats.Published++
		r.metrics.RelayOutcome(string(row.EventType), metrics.RelayPublished)
	case errors.Is(pubErr, ErrBreakerOpen):
		r.logg.Warn(ctx, "publish breaker open; ending relay batch")
		return true, nil
	case ctx.Err() != nil:
		return true, nil
	default:
		outcome, err := r.processor.HandleFailure(ctx, tx, row, pubErr)
		if err != nil {
			return false, err
		}
		if outcome == OutcomeDeadLettered {
			stats.DeadLettered++
			r.metrics.RelayOutcome(string(row.EventType), metrics.RelayDeadLettered)
		} else {
			stats.Failed++
			r.metrics.RelayOutcome(string(row.EventType), metrics.RelayFailed)
		}
	}
	return false, nil
}
