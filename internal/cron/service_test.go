package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	err      error
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.released++
	return nil
}

type testJob struct {
	name     string
	err      error
	runs     atomic.Int32
	deadline bool
	onRun    func(n int32)
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	n := t.runs.Add(1)
	_, t.deadline = ctx.Deadline()
	if t.onRun != nil {
		t.onRun(n)
	}
	return t.err
}

func newTestService(t *testing.T, lock Lock, regs ...Registration) (*Service, *prometheus.Registry) {
	t.Helper()
	registry := NewRegistry()
	registry.MustRegister(regs...)
	reg := prometheus.NewRegistry()
	m := metrics.NewCronJobMetrics(reg)
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: registry,
		Locks:    func(string, time.Duration, time.Duration) Lock { return lock },
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service, reg
}

func TestServiceRunNowRunsJobUnderLock(t *testing.T) {
	job := &testJob{name: "outbox-relay"}
	lock := &fakeLock{}
	service, reg := newTestService(t, lock, Registration{Job: job, Schedule: "with 1s interval", MaxHold: time.Second})

	if err := service.RunNow(context.Background(), "outbox-relay"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	if job.runs.Load() != 1 {
		t.Fatalf("expected one run, got %d", job.runs.Load())
	}
	if !job.deadline {
		t.Fatal("expected job context bounded by max hold")
	}
	if lock.released != 1 {
		t.Fatalf("expected lock released once, got %d", lock.released)
	}
	if got := counterValue(t, reg, "boardfeed_job_success_total"); got != 1 {
		t.Fatalf("expected success counter 1, got %v", got)
	}
}

func TestServiceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "ranking-reconcile"}
	lock := &fakeLock{held: true}
	service, reg := newTestService(t, lock, Registration{Job: job, Schedule: "with 1s interval"})

	if err := service.RunNow(context.Background(), "ranking-reconcile"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	if job.runs.Load() != 0 {
		t.Fatalf("expected no runs while lock held")
	}
	if got := counterValue(t, reg, "boardfeed_job_skipped_total"); got != 1 {
		t.Fatalf("expected skipped counter 1, got %v", got)
	}
}

func TestServiceReportsJobFailure(t *testing.T) {
	job := &testJob{name: "dlq-retry-sweep", err: errors.New("boom")}
	lock := &fakeLock{}
	service, reg := newTestService(t, lock, Registration{Job: job, Schedule: "with 1s interval"})

	if err := service.RunNow(context.Background(), "dlq-retry-sweep"); err == nil {
		t.Fatal("expected job error")
	}
	if lock.released != 1 {
		t.Fatal("expected lock released after failure")
	}
	if got := counterValue(t, reg, "boardfeed_job_failure_total"); got != 1 {
		t.Fatalf("expected failure counter 1, got %v", got)
	}
}

func TestServiceLockErrorSkipsJob(t *testing.T) {
	job := &testJob{name: "a"}
	service, _ := newTestService(t, &fakeLock{err: errors.New("redis down")}, Registration{Job: job, Schedule: "with 1s interval"})

	if err := service.RunNow(context.Background(), "a"); err == nil {
		t.Fatal("expected lock error")
	}
	if job.runs.Load() != 0 {
		t.Fatal("job must not run without lock")
	}
}

func TestServiceRunNowUnknownJob(t *testing.T) {
	service, _ := newTestService(t, &fakeLock{})
	if err := service.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestServiceRunLoopsUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := &testJob{name: "loop", onRun: func(n int32) {
		if n == 3 {
			cancel()
		}
	}}
	service, _ := newTestService(t, &fakeLock{}, Registration{Job: job, Schedule: "with 1s interval"})
	service.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
	if job.runs.Load() < 3 {
		t.Fatalf("expected at least 3 runs, got %d", job.runs.Load())
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
