package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseScheduleInterval(t *testing.T) {
	s, err := ParseSchedule("with 2s interval")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, now, s.Next(now, time.Time{}), "first run fires immediately")
	require.Equal(t, now.Add(2*time.Second), s.Next(now, now))
	// a late tick does not queue up missed runs
	late := now.Add(10 * time.Second)
	require.Equal(t, late, s.Next(late, now))
}

func TestParseScheduleSixFieldsHasSeconds(t *testing.T) {
	s, err := ParseSchedule("0 */10 * * * *")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 3, 15, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC), s.Next(now, time.Time{}))
}

func TestParseScheduleSevenFields(t *testing.T) {
	s, err := ParseSchedule("0 30 3 * * * *")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC), s.Next(now, time.Time{}))
}

func TestParseScheduleFiveFields(t *testing.T) {
	s, err := ParseSchedule("15 * * * *")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC), s.Next(now, time.Time{}))
}

func TestParseScheduleErrors(t *testing.T) {
	for _, expr := range []string{"", "with interval", "with -1s interval", "with 5 parsecs", "not a cron"} {
		_, err := ParseSchedule(expr)
		require.Errorf(t, err, "expected error for %q", expr)
	}
}
