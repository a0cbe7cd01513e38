package dlq

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
)

const defaultSweepBatchSize = 100

type typeLister interface {
	Types() []enums.EventType
}

type reprocessor interface {
	ReprocessByType(ctx context.Context, eventType enums.EventType, limit int) (Result, error)
}

type RetryJobParams struct {
	Logger    *logger.Logger
	Service   reprocessor
	Types     typeLister
	BatchSize int
}

func NewRetryJob(params RetryJobParams) (*RetryJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Service == nil {
		return nil, fmt.Errorf("dlq service required")
	}
	if params.Types == nil {
		return nil, fmt.Errorf("event type source required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &RetryJob{
		logg:      params.Logger,
		service:   params.Service,
		types:     params.Types,
		batchSize: batch,
	}, nil
}

// RetryJob sweeps every handled event type through the dead-letter service.
type RetryJob struct {
	logg      *logger.Logger
	service   reprocessor
	types     typeLister
	batchSize int
}

func (j *RetryJob) Name() string { return "dlq-retry-sweep" }

func (j *RetryJob) Run(ctx context.Context) error {
	logCtx := j.logg.WithJob(ctx, j.Name())
	var (
		errs  error
		total Result
	)
	for _, eventType := range j.types.Types() {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		res, err := j.service.ReprocessByType(logCtx, eventType, j.batchSize)
		total.Succeeded += res.Succeeded
		total.Failed += res.Failed
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if res.Succeeded+res.Failed > 0 {
			typeCtx := j.logg.WithFields(logCtx, map[string]any{
				"event_type": eventType,
				"succeeded":  res.Succeeded,
				"failed":     res.Failed,
			})
			j.logg.Info(typeCtx, "dead letters reprocessed")
		}
	}
	reportCtx := j.logg.WithFields(logCtx, map[string]any{
		"succeeded": total.Succeeded,
		"failed":    total.Failed,
	})
	j.logg.Info(reportCtx, "dlq retry sweep complete")
	return errs
}
