// Package supervisor runs long-lived process components under a suture tree
// so a crashed consumer or server is restarted with backoff.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
)

const (
	defaultFailureThreshold = 5
	defaultFailureBackoff   = 15 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
)

// Options tune restart behaviour; zero values fall back to defaults.
type Options struct {
	FailureThreshold float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// New builds a supervisor whose lifecycle events go to logg.
func New(ctx context.Context, name string, logg *logger.Logger, opts Options) *suture.Supervisor {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = defaultFailureThreshold
	}
	if opts.FailureBackoff <= 0 {
		opts.FailureBackoff = defaultFailureBackoff
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	return suture.New(name, suture.Spec{
		EventHook:        EventHook(ctx, logg),
		FailureThreshold: opts.FailureThreshold,
		FailureBackoff:   opts.FailureBackoff,
		Timeout:          opts.ShutdownTimeout,
	})
}

// EventHook logs supervisor events with their structured fields.
func EventHook(ctx context.Context, logg *logger.Logger) suture.EventHook {
	return func(ev suture.Event) {
		fields := ev.Map()
		fields["supervisor_event"] = ev.Type()
		logg.Warn(logg.WithFields(ctx, fields), ev.String())
	}
}

// Run adds services to sup and serves until ctx is canceled. A clean
// shutdown returns nil.
func Run(ctx context.Context, sup *suture.Supervisor, services ...suture.Service) error {
	for _, svc := range services {
		sup.Add(svc)
	}
	err := sup.Serve(ctx)
	if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}
