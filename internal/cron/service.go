package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/metrics"
)

const releaseTimeout = 5 * time.Second

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.CronJobMetrics
}

// Service runs every registered job in its own loop, each tick guarded by the
// job's distributed lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockFactory
	metrics  *metrics.CronJobMetrics
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locks:    params.Locks,
		metrics:  params.Metrics,
		now:      time.Now,
		after:    time.After,
	}, nil
}

// Run starts one loop per job and blocks until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var wg sync.WaitGroup
	for _, e := range s.registry.entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	wg.Wait()
	s.logg.Info(ctx, "cron service context canceled")
	return ctx.Err()
}

// String names the scheduler for supervisor logs.
func (s *Service) String() string { return "cron-service" }

// Serve lets a supervisor run the scheduler.
func (s *Service) Serve(ctx context.Context) error { return s.Run(ctx) }

func (s *Service) loop(ctx context.Context, e entry) {
	var prev time.Time
	for {
		now := s.now()
		next := e.schedule.Next(now, prev)
		if next.IsZero() {
			s.logg.Warn(s.logg.WithJob(ctx, e.Job.Name()), "schedule has no further runs")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(now)):
		}
		prev = next
		s.tick(ctx, e)
	}
}

// RunNow executes a registered job once under its lock, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	e, ok := s.registry.lookup(name)
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return s.tick(ctx, e)
}

func (s *Service) tick(ctx context.Context, e entry) error {
	name := e.Job.Name()
	jobCtx := s.logg.WithJob(ctx, name)

	lock := s.locks(name, e.MinHold, e.MaxHold)
	locked, err := lock.Acquire(jobCtx)
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		s.metrics.IncFailure(name)
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Debug(jobCtx, "job held by another instance; skipping tick")
		s.metrics.IncSkipped(name)
		return nil
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(jobCtx), releaseTimeout)
		defer cancel()
		if relErr := lock.Release(relCtx); relErr != nil {
			s.logg.Error(jobCtx, "failed to release job lock", relErr)
		}
	}()

	return s.runJob(jobCtx, e)
}

func (s *Service) runJob(ctx context.Context, e entry) error {
	runCtx, cancel := context.WithTimeout(ctx, e.MaxHold)
	defer cancel()

	name := e.Job.Name()
	s.logg.Debug(ctx, "job start")
	start := s.now()
	err := e.Job.Run(runCtx)
	duration := s.now().Sub(start)
	s.metrics.ObserveDuration(name, duration)
	logCtx := s.logg.WithField(ctx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(logCtx, "job failed", err)
		s.metrics.IncFailure(name)
		return err
	}
	s.logg.Debug(logCtx, "job completed")
	s.metrics.IncSuccess(name)
	return nil
}
