package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/boardfeed-backend/internal/events"
	"github.com/angelmondragon/boardfeed-backend/pkg/db/dbtest"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

type countingDispatcher struct {
	calls []events.Event
	err   error
}

func (d *countingDispatcher) Dispatch(_ context.Context, ev events.Event) error {
	d.calls = append(d.calls, ev)
	return d.err
}

type harness struct {
	consumer   *Consumer
	dispatcher *countingDispatcher
	status     *outbox.StatusRepository
	mr         *miniredis.Miniredis
}

func newHarness(t *testing.T) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })

	status := outbox.NewStatusRepository(dbtest.Open(t))
	manager, err := idempotency.NewManager(redis.NewFromClient(raw), status, 24*time.Hour, logger.Nop())
	require.NoError(t, err)

	dispatcher := &countingDispatcher{}
	c, err := New(Params{
		Decoder:     events.NewDecoder(),
		Dispatcher:  dispatcher,
		Idempotency: manager,
		Status:      status,
		Logger:      logger.Nop(),
	})
	require.NoError(t, err)
	return harness{consumer: c, dispatcher: dispatcher, status: status, mr: mr}
}

const boardCreated42 = `{"eventId":42,"type":"BOARD_CREATED","eventTs":1767225600000,
	"payload":{"board_id":9,"category_id":3,"author_id":5,"title":"hello","created_at":"2026-01-01T00:00:00Z"}}`

// Event 42 delivered twice is applied once and both deliveries are acked.
func TestProcessRedeliveryAppliesOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	attrs := map[string]string{outbox.AttrShardKey: "board:9"}

	require.NoError(t, h.consumer.Process(ctx, []byte(boardCreated42), attrs))
	require.NoError(t, h.consumer.Process(ctx, []byte(boardCreated42), attrs))

	require.Len(t, h.dispatcher.calls, 1)
	require.Equal(t, "board:9", h.dispatcher.calls[0].ShardKey)
	require.True(t, h.mr.Exists(redis.IdempotencyKey(42)))
	require.Equal(t, 24*time.Hour, h.mr.TTL(redis.IdempotencyKey(42)))

	row, err := h.status.Find(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.True(t, row.Processed)
	require.Equal(t, 1, row.RetryCount)
}

func TestProcessFallsBackToStatusWhenMarkerExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.consumer.Process(ctx, []byte(boardCreated42), nil))
	h.mr.FastForward(25 * time.Hour)
	require.False(t, h.mr.Exists(redis.IdempotencyKey(42)))

	require.NoError(t, h.consumer.Process(ctx, []byte(boardCreated42), nil))
	require.Len(t, h.dispatcher.calls, 1)
	require.True(t, h.mr.Exists(redis.IdempotencyKey(42)), "marker rewarmed from status table")
}

func TestProcessHandlerFailureAllowsRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.dispatcher.err = errors.New("redis timeout")

	require.Error(t, h.consumer.Process(ctx, []byte(boardCreated42), nil))
	require.False(t, h.mr.Exists(redis.IdempotencyKey(42)))
	row, err := h.status.Find(ctx, 42)
	require.NoError(t, err)
	require.False(t, row.Processed)
	require.NotNil(t, row.LastError)

	h.dispatcher.err = nil
	require.NoError(t, h.consumer.Process(ctx, []byte(boardCreated42), nil))
	require.Len(t, h.dispatcher.calls, 2)
	row, err = h.status.Find(ctx, 42)
	require.NoError(t, err)
	require.True(t, row.Processed)
	require.Equal(t, 2, row.RetryCount)
}

func TestProcessPoisonMessageNeverDispatches(t *testing.T) {
	h := newHarness(t)
	err := h.consumer.Process(context.Background(), []byte(`{"eventId":1,"type":"BOARD_CREATED","payload":{}}`), nil)
	require.Error(t, err)
	require.Empty(t, h.dispatcher.calls)
}

// A type this build has no handler for is acked and recorded, not redelivered.
func TestProcessUnknownTypeIsAckedAndMarked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	reg, err := events.NewRegistry(logger.Nop())
	require.NoError(t, err)
	h.consumer.dispatcher = reg

	body := []byte(`{"eventId":77,"type":"BOARD_PINNED","eventTs":1767225600000,"payload":{"board_id":1}}`)
	require.NoError(t, h.consumer.Process(ctx, body, map[string]string{outbox.AttrShardKey: "board:1"}))
	require.True(t, h.mr.Exists(redis.IdempotencyKey(77)))

	row, err := h.status.Find(ctx, 77)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.True(t, row.Processed)

	require.NoError(t, h.consumer.Process(ctx, body, nil), "redelivery stays acked")
}

func TestProcessWithoutEventIDSkipsIdempotency(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	body := []byte(`{"eventId":0,"type":"BOARD_VIEWED","payload":{"board_id":3}}`)

	require.NoError(t, h.consumer.Process(ctx, body, nil))
	require.NoError(t, h.consumer.Process(ctx, body, nil))
	require.Len(t, h.dispatcher.calls, 2)
}

func TestProcessIdempotencyStoreDownNacks(t *testing.T) {
	h := newHarness(t)
	h.mr.SetError("LOADING server is loading")

	err := h.consumer.Process(context.Background(), []byte(boardCreated42), nil)
	require.Error(t, err)
	require.Empty(t, h.dispatcher.calls)
}

func TestNewValidatesParams(t *testing.T) {
	_, err := New(Params{})
	require.Error(t, err)
}
