package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/boardfeed-backend/internal/readmodel"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/metrics"
)

type CleanupJobParams struct {
	Logger    *logger.Logger
	Period    enums.RankingPeriod
	Rankings  sortedLists
	Details   boardDetails
	Source    boardSource
	Metrics   *metrics.PipelineMetrics
	BatchSize int
}

// CleanupJob drops members that have aged out of one ranking period. A
// member's age comes from its detail snapshot, or from the board table when
// the snapshot is gone; a board found in neither is removed.
type CleanupJob struct {
	logg      *logger.Logger
	period    enums.RankingPeriod
	rankings  sortedLists
	details   boardDetails
	source    boardSource
	metrics   *metrics.PipelineMetrics
	batchSize int
	now       func() time.Time
}

func NewCleanupJob(params CleanupJobParams) (*CleanupJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if !params.Period.IsValid() {
		return nil, fmt.Errorf("invalid ranking period %q", params.Period)
	}
	if params.Rankings == nil {
		return nil, fmt.Errorf("ranking store required")
	}
	if params.Details == nil {
		return nil, fmt.Errorf("detail store required")
	}
	if params.Source == nil {
		return nil, fmt.Errorf("board source required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &CleanupJob{
		logg:      params.Logger,
		period:    params.Period,
		rankings:  params.Rankings,
		details:   params.Details,
		source:    params.Source,
		metrics:   params.Metrics,
		batchSize: batch,
		now:       time.Now,
	}, nil
}

func (j *CleanupJob) Name() string {
	switch j.period {
	case enums.PeriodDay:
		return "ranking-cleanup-daily"
	case enums.PeriodWeek:
		return "ranking-cleanup-weekly"
	default:
		return "ranking-cleanup-monthly"
	}
}

func (j *CleanupJob) Run(ctx context.Context) error {
	logCtx := j.logg.WithJob(ctx, j.Name())
	threshold := j.now().UTC().Add(-j.period.MaxAge())

	var errs error
	removed := 0
	for _, metric := range enums.RankingMetrics() {
		key := readmodel.RankingKey(metric, j.period)
		n, err := j.cleanList(logCtx, j.rankings.List(key), threshold)
		removed += n
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	j.metrics.MembersRemoved(j.Name(), removed)
	reportCtx := j.logg.WithFields(logCtx, map[string]any{
		"threshold": threshold,
		"removed":   removed,
	})
	j.logg.Info(reportCtx, "ranking cleanup complete")
	return errs
}

func (j *CleanupJob) cleanList(ctx context.Context, list *readmodel.SortedList, threshold time.Time) (int, error) {
	members, err := list.Members(ctx)
	if err != nil {
		return 0, err
	}
	ids, invalid := splitMembers(members)
	removed := 0
	if len(invalid) > 0 {
		if err := list.Remove(ctx, invalid...); err != nil {
			return 0, err
		}
		removed += len(invalid)
	}

	var errs error
	for _, batch := range chunk(ids, j.batchSize) {
		if err := ctx.Err(); err != nil {
			return removed, multierr.Append(errs, err)
		}
		stale, err := j.staleMembers(ctx, batch, threshold)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if len(stale) == 0 {
			continue
		}
		if err := list.Remove(ctx, stale...); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed += len(stale)
	}
	if removed > 0 {
		listCtx := j.logg.WithFields(ctx, map[string]any{"list": list.Key(), "removed": removed})
		j.logg.Info(listCtx, "expired ranking members removed")
	}
	return removed, errs
}

func (j *CleanupJob) staleMembers(ctx context.Context, ids []int64, threshold time.Time) ([]string, error) {
	snapshots, err := j.details.Boards(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load board snapshots: %w", err)
	}
	createdAt := make(map[int64]time.Time, len(ids))
	var missing []int64
	for _, id := range ids {
		if snap, ok := snapshots[id]; ok && !snap.CreatedAt.IsZero() {
			createdAt[id] = snap.CreatedAt
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) > 0 {
		fromSource, err := j.source.BoardCreatedAt(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("load board timestamps: %w", err)
		}
		for id, ts := range fromSource {
			createdAt[id] = ts
		}
	}

	var stale []string
	for _, id := range ids {
		ts, ok := createdAt[id]
		if !ok || ts.Before(threshold) {
			stale = append(stale, memberOf(id))
		}
	}
	return stale, nil
}
