package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/boardfeed-backend/internal/readmodel"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/metrics"
	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

type timelineLists interface {
	sortedLists
	CategoryKeys(ctx context.Context) ([]string, error)
}

type ReconcileJobParams struct {
	Logger    *logger.Logger
	Timelines timelineLists
	Rankings  sortedLists
	Source    boardSource
	Metrics   *metrics.PipelineMetrics
	BatchSize int
}

// ReconcileJob removes members of every list whose board no longer exists.
// It never adds members and leaves a batch untouched when the source lookup
// fails.
type ReconcileJob struct {
	logg      *logger.Logger
	timelines timelineLists
	rankings  sortedLists
	source    boardSource
	metrics   *metrics.PipelineMetrics
	batchSize int
}

func NewReconcileJob(params ReconcileJobParams) (*ReconcileJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Timelines == nil || params.Rankings == nil {
		return nil, fmt.Errorf("timeline and ranking stores required")
	}
	if params.Source == nil {
		return nil, fmt.Errorf("board source required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &ReconcileJob{
		logg:      params.Logger,
		timelines: params.Timelines,
		rankings:  params.Rankings,
		source:    params.Source,
		metrics:   params.Metrics,
		batchSize: batch,
	}, nil
}

func (j *ReconcileJob) Name() string { return "ranking-reconcile" }

func (j *ReconcileJob) Run(ctx context.Context) error {
	logCtx := j.logg.WithJob(ctx, j.Name())
	lists, err := j.lists(logCtx)
	if err != nil {
		return err
	}

	var errs error
	removed := 0
	for _, list := range lists {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		n, err := j.reconcileList(logCtx, list)
		removed += n
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", list.Key(), err))
		}
	}
	j.metrics.MembersRemoved(j.Name(), removed)
	reportCtx := j.logg.WithFields(logCtx, map[string]any{
		"lists":   len(lists),
		"removed": removed,
	})
	j.logg.Info(reportCtx, "ranking reconcile complete")
	return errs
}

func (j *ReconcileJob) lists(ctx context.Context) ([]*readmodel.SortedList, error) {
	categories, err := j.timelines.CategoryKeys(ctx)
	if err != nil {
		return nil, err
	}
	lists := []*readmodel.SortedList{j.timelines.List(redis.AllListKey)}
	for _, key := range categories {
		lists = append(lists, j.timelines.List(key))
	}
	for _, key := range readmodel.RankingKeys() {
		lists = append(lists, j.rankings.List(key))
	}
	return lists, nil
}

func (j *ReconcileJob) reconcileList(ctx context.Context, list *readmodel.SortedList) (int, error) {
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
		existing, err := j.source.ExistingBoardIDs(ctx, batch)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("check board ids: %w", err))
			continue
		}
		var absent []string
		for _, id := range batch {
			if !existing[id] {
				absent = append(absent, memberOf(id))
			}
		}
		if len(absent) == 0 {
			continue
		}
		if err := list.Remove(ctx, absent...); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed += len(absent)
	}
	if removed > 0 {
		listCtx := j.logg.WithFields(ctx, map[string]any{"list": list.Key(), "removed": removed})
		j.logg.Info(listCtx, "orphaned list members removed")
	}
	return removed, errs
}
