package main

import (
	"fmt"

	"github.com/angelmondragon/boardfeed-backend/internal/cron"
	"github.com/angelmondragon/boardfeed-backend/internal/dlq"
	"github.com/angelmondragon/boardfeed-backend/internal/events"
	"github.com/angelmondragon/boardfeed-backend/internal/readmodel/handlers"
	"github.com/angelmondragon/boardfeed-backend/internal/reconcile"
	"github.com/angelmondragon/boardfeed-backend/internal/source"
	"github.com/angelmondragon/boardfeed-backend/pkg/config"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/metrics"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox"
)

type jobDeps struct {
	Config      *config.Config
	Logger      *logger.Logger
	Stores      handlers.Stores
	Source      *source.Store
	Registry    *events.Registry
	DeadLetters *dlq.Service
	DLQRepo     *outbox.DLQRepository
	Status      *outbox.StatusRepository
	Outbox      *outbox.Repository
	Metrics     *metrics.PipelineMetrics
}

// buildJobs assembles every scheduled maintenance job with its schedule.
func buildJobs(d jobDeps) ([]cron.Registration, error) {
	sched := d.Config.Scheduler
	hold := func(job cron.Job, schedule string) cron.Registration {
		return cron.Registration{Job: job, Schedule: schedule, MinHold: sched.LockMinHold, MaxHold: sched.LockMaxHold}
	}

	regs := []cron.Registration{}
	cleanupSchedules := map[enums.RankingPeriod]string{
		enums.PeriodDay:   sched.CleanupDailyCron,
		enums.PeriodWeek:  sched.CleanupWeeklyCron,
		enums.PeriodMonth: sched.CleanupMonthlyCron,
	}
	for _, period := range enums.RankingPeriods() {
		job, err := reconcile.NewCleanupJob(reconcile.CleanupJobParams{
			Logger:    d.Logger,
			Period:    period,
			Rankings:  d.Stores.Rankings,
			Details:   d.Stores.Details,
			Source:    d.Source,
			Metrics:   d.Metrics,
			BatchSize: sched.ReconcileBatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("cleanup job %s: %w", period, err)
		}
		regs = append(regs, hold(job, cleanupSchedules[period]))
	}

	reconcileJob, err := reconcile.NewReconcileJob(reconcile.ReconcileJobParams{
		Logger:    d.Logger,
		Timelines: d.Stores.Timelines,
		Rankings:  d.Stores.Rankings,
		Source:    d.Source,
		Metrics:   d.Metrics,
		BatchSize: sched.ReconcileBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile job: %w", err)
	}
	regs = append(regs, hold(reconcileJob, sched.ReconcileCron))

	retryJob, err := dlq.NewRetryJob(dlq.RetryJobParams{
		Logger:    d.Logger,
		Service:   d.DeadLetters,
		Types:     d.Registry,
		BatchSize: d.Config.DLQ.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("dlq retry job: %w", err)
	}
	regs = append(regs, hold(retryJob, d.Config.DLQ.RetryCron))

	stallJob, err := dlq.NewStallJob(dlq.StallJobParams{
		Logger:      d.Logger,
		Status:      d.Status,
		Outbox:      d.Outbox,
		DeadLetters: d.DLQRepo,
		Cutoff:      d.Config.DLQ.StallCutoff,
		Limit:       d.Config.DLQ.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("dlq stall job: %w", err)
	}
	regs = append(regs, hold(stallJob, d.Config.DLQ.StallCron))

	return regs, nil
}
