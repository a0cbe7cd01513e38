package cron

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultMinHold = time.Second
	defaultMaxHold = 10 * time.Minute
)

// Job represents a scheduled task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registration binds a job to its schedule and lock hold bounds.
type Registration struct {
	Job      Job
	Schedule string
	MinHold  time.Duration
	MaxHold  time.Duration
}

type entry struct {
	Registration
	schedule Schedule
}

// Registry tracks registered jobs.
type Registry struct {
	entries []entry
	names   map[string]bool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: map[string]bool{}}
}

// Register validates reg and adds it. Job names must be unique since they key the lock.
func (r *Registry) Register(reg Registration) error {
	if reg.Job == nil {
		return fmt.Errorf("job required")
	}
	name := reg.Job.Name()
	if name == "" {
		return fmt.Errorf("job name required")
	}
	if r.names[name] {
		return fmt.Errorf("job %q already registered", name)
	}
	schedule, err := ParseSchedule(reg.Schedule)
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	if reg.MaxHold <= 0 {
		reg.MaxHold = defaultMaxHold
	}
	if reg.MinHold <= 0 {
		reg.MinHold = defaultMinHold
	}
	if reg.MinHold > reg.MaxHold {
		return fmt.Errorf("job %q: min hold %s exceeds max hold %s", name, reg.MinHold, reg.MaxHold)
	}
	r.names[name] = true
	r.entries = append(r.entries, entry{Registration: reg, schedule: schedule})
	return nil
}

// MustRegister is Register for static wiring in main.
func (r *Registry) MustRegister(regs ...Registration) {
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			panic(err)
		}
	}
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.Job)
	}
	return jobs
}

func (r *Registry) lookup(name string) (entry, bool) {
	for _, e := range r.entries {
		if e.Job.Name() == name {
			return e, true
		}
	}
	return entry{}, false
}
