package supervisor

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
)

type flakyService struct {
	starts atomic.Int32
}

func (s *flakyService) String() string { return "flaky" }

func (s *flakyService) Serve(ctx context.Context) error {
	if s.starts.Add(1) == 1 {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunRestartsFailedService(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := &flakyService{}
	sup := New(ctx, "test", logg, Options{FailureBackoff: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- Run(ctx, sup, svc) }()

	require.Eventually(t, func() bool { return svc.starts.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	require.Contains(t, buf.String(), "flaky")
}
