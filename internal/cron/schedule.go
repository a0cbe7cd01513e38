package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
)

// Schedule yields the next run time given the current time and the previous
// planned run (zero before the first run).
type Schedule interface {
	Next(now, prev time.Time) time.Time
	String() string
}

// ParseSchedule accepts "with <duration> interval" or a cron expression.
// Six-field expressions carry a leading seconds field; five and seven fields
// follow cronexpr.
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if strings.HasPrefix(expr, "with ") {
		return parseInterval(expr)
	}
	cronText := expr
	if len(strings.Fields(expr)) == 6 {
		cronText = expr + " *"
	}
	parsed, err := cronexpr.Parse(cronText)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return &absoluteSchedule{expr: parsed, text: expr}, nil
}

func parseInterval(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 3 || fields[0] != "with" || fields[2] != "interval" {
		return nil, fmt.Errorf("expected \"with <duration> interval\", got %q", expr)
	}
	interval, err := time.ParseDuration(fields[1])
	if err != nil {
		return nil, fmt.Errorf("bad interval in %q: %w", expr, err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	return &intervalSchedule{interval: interval, text: expr}, nil
}

type absoluteSchedule struct {
	expr *cronexpr.Expression
	text string
}

func (s *absoluteSchedule) Next(now, _ time.Time) time.Time {
	return s.expr.Next(now)
}

func (s *absoluteSchedule) String() string { return s.text }

// intervalSchedule runs back to back with a fixed gap; a late tick fires immediately.
type intervalSchedule struct {
	interval time.Duration
	text     string
}

func (s *intervalSchedule) Next(now, prev time.Time) time.Time {
	if prev.IsZero() {
		return now
	}
	next := prev.Add(s.interval)
	if next.Before(now) {
		return now
	}
	return next
}

func (s *intervalSchedule) String() string { return s.text }
