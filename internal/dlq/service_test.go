package dlq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/boardfeed-backend/internal/events"
	"github.com/angelmondragon/boardfeed-backend/internal/readmodel"
	"github.com/angelmondragon/boardfeed-backend/internal/readmodel/handlers"
	"github.com/angelmondragon/boardfeed-backend/pkg/db"
	"github.com/angelmondragon/boardfeed-backend/pkg/db/dbtest"
	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

type recordingDispatcher struct {
	next  dispatcher
	calls []events.Event
	err   error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev events.Event) error {
	d.calls = append(d.calls, ev)
	if d.err != nil {
		return d.err
	}
	if d.next != nil {
		return d.next.Dispatch(ctx, ev)
	}
	return nil
}

type dlqHarness struct {
	conn       *gorm.DB
	mr         *miniredis.Miniredis
	service    *Service
	dispatcher *recordingDispatcher
	details    *readmodel.DetailStore
	deadLetter *outbox.DLQRepository
	status     *outbox.StatusRepository
}

func newDLQHarness(t *testing.T) dlqHarness {
	t.Helper()
	conn := dbtest.Open(t)
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	client := redis.NewFromClient(raw)

	details, err := readmodel.NewDetailStore(client, logger.Nop(), 0)
	require.NoError(t, err)
	lists, err := readmodel.NewRankingStore(client, 100)
	require.NoError(t, err)
	counters, err := readmodel.NewCounterStore(client)
	require.NoError(t, err)
	hs, err := handlers.All(handlers.Stores{Details: details, Timelines: lists, Rankings: lists, Counters: counters, Logger: logger.Nop()})
	require.NoError(t, err)
	registry, err := events.NewRegistry(logger.Nop(), hs...)
	require.NoError(t, err)

	deadLetters := outbox.NewDLQRepository(conn)
	status := outbox.NewStatusRepository(conn)
	guard, err := idempotency.NewManager(client, status, 24*time.Hour, logger.Nop())
	require.NoError(t, err)
	disp := &recordingDispatcher{next: registry}

	svc, err := NewService(ServiceParams{
		DB:          db.Wrap(conn),
		DeadLetters: deadLetters,
		Status:      status,
		Decoder:     events.NewDecoder(),
		Dispatcher:  disp,
		Idempotency: guard,
		Logger:      logger.Nop(),
	})
	require.NoError(t, err)
	return dlqHarness{conn: conn, mr: mr, service: svc, dispatcher: disp, details: details, deadLetter: deadLetters, status: status}
}

func envelopeBytes(t *testing.T, eventID int64, eventType enums.EventType, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := outbox.Envelope{EventID: eventID, Type: eventType, Payload: raw, EventTs: time.Now().UnixMilli()}.Marshal()
	require.NoError(t, err)
	return data
}

func (h dlqHarness) seed(t *testing.T, entry models.DeadLetterEvent) models.DeadLetterEvent {
	t.Helper()
	if entry.Reason == "" {
		entry.Reason = enums.DLQReasonMaxAttempts
	}
	require.NoError(t, h.conn.Create(&entry).Error)
	return entry
}

func boardCreated(id int64) *payloads.BoardCreatedEvent {
	return &payloads.BoardCreatedEvent{
		BoardID:    id,
		CategoryID: 3,
		AuthorID:   1,
		Title:      "recovered",
		CreatedAt:  time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

// A dead-lettered BOARD_CREATED is applied, its row deleted, and its status closed.
func TestReprocessBoardCreated(t *testing.T) {
	ctx := context.Background()
	h := newDLQHarness(t)
	require.NoError(t, h.status.RecordAttempt(ctx, 7, enums.EventBoardCreated, "board:70"))
	shard := "board:70"
	row := h.seed(t, models.DeadLetterEvent{
		EventID:    7,
		EventType:  enums.EventBoardCreated,
		RetryCount: 5,
		LastError:  "publish failed",
		Payload:    envelopeBytes(t, 7, enums.EventBoardCreated, boardCreated(70)),
		ShardKey:   &shard,
	})

	require.NoError(t, h.service.Reprocess(ctx, row.ID))

	require.Len(t, h.dispatcher.calls, 1)
	require.Equal(t, "board:70", h.dispatcher.calls[0].ShardKey)
	snap, err := h.details.Board(ctx, 70)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, "recovered", snap.Title)

	gone, err := h.deadLetter.FindByEventID(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, gone)

	status, err := h.status.Find(ctx, 7)
	require.NoError(t, err)
	require.True(t, status.Processed)
	require.True(t, h.mr.Exists(redis.IdempotencyKey(7)))
}

func TestReprocessFailureKeepsRow(t *testing.T) {
	ctx := context.Background()
	h := newDLQHarness(t)
	h.dispatcher.err = pkgerrors.New(pkgerrors.CodeHandlerFailure, "redis down")
	row := h.seed(t, models.DeadLetterEvent{
		EventID:    8,
		EventType:  enums.EventBoardCreated,
		RetryCount: 1,
		Payload:    envelopeBytes(t, 8, enums.EventBoardCreated, boardCreated(80)),
	})

	err := h.service.Reprocess(ctx, row.ID)
	require.Error(t, err)

	kept, err := h.deadLetter.FindByID(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, 2, kept.RetryCount)
	require.Contains(t, kept.LastError, "redis down")
	require.False(t, h.mr.Exists(redis.IdempotencyKey(8)))
}

func TestReprocessRejectsEmptyPayload(t *testing.T) {
	ctx := context.Background()
	h := newDLQHarness(t)
	row := h.seed(t, models.DeadLetterEvent{EventID: 9, EventType: enums.EventBoardViewed, Reason: enums.DLQReasonOrphaned})

	err := h.service.Reprocess(ctx, row.ID)
	require.ErrorIs(t, err, ErrNotReprocessable)
	require.Empty(t, h.dispatcher.calls)

	kept, err := h.deadLetter.FindByID(ctx, row.ID)
	require.NoError(t, err)
	require.Zero(t, kept.RetryCount)
}

func TestReprocessMissingRow(t *testing.T) {
	h := newDLQHarness(t)
	err := h.service.Reprocess(context.Background(), 404)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReprocessSkipsDispatchWhenAlreadyApplied(t *testing.T) {
	ctx := context.Background()
	h := newDLQHarness(t)
	h.mr.Set(redis.IdempotencyKey(10), "1")
	row := h.seed(t, models.DeadLetterEvent{
		EventID:   10,
		EventType: enums.EventBoardLiked,
		Payload:   envelopeBytes(t, 10, enums.EventBoardLiked, &payloads.BoardEngagementEvent{BoardID: 1, UserID: 2}),
	})

	require.NoError(t, h.service.Reprocess(ctx, row.ID))
	require.Empty(t, h.dispatcher.calls)
	gone, err := h.deadLetter.FindByEventID(ctx, 10)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestReprocessByTypeCountsResults(t *testing.T) {
	ctx := context.Background()
	h := newDLQHarness(t)
	h.seed(t, models.DeadLetterEvent{EventID: 21, EventType: enums.EventBoardCreated, Payload: envelopeBytes(t, 21, enums.EventBoardCreated, boardCreated(21))})
	h.seed(t, models.DeadLetterEvent{EventID: 22, EventType: enums.EventBoardCreated, Payload: envelopeBytes(t, 22, enums.EventBoardCreated, boardCreated(22))})
	h.seed(t, models.DeadLetterEvent{EventID: 23, EventType: enums.EventBoardCreated, Payload: []byte(`{"eventId":23}`)})
	h.seed(t, models.DeadLetterEvent{EventID: 24, EventType: enums.EventBoardCreated, Reason: enums.DLQReasonOrphaned})
	h.seed(t, models.DeadLetterEvent{EventID: 25, EventType: enums.EventBoardDeleted, Payload: envelopeBytes(t, 25, enums.EventBoardDeleted, &payloads.BoardDeletedEvent{BoardID: 25, CategoryID: 3})})

	res, err := h.service.ReprocessByType(ctx, enums.EventBoardCreated, 10)
	require.NoError(t, err)
	require.Equal(t, Result{Succeeded: 2, Failed: 1}, res)

	var remaining []models.DeadLetterEvent
	require.NoError(t, h.conn.Order("event_id").Find(&remaining).Error)
	ids := make([]int64, 0, len(remaining))
	for _, row := range remaining {
		ids = append(ids, row.EventID)
	}
	require.Equal(t, []int64{23, 24, 25}, ids)
}

func TestReprocessByTypeStopsOnCanceledContext(t *testing.T) {
	h := newDLQHarness(t)
	h.seed(t, models.DeadLetterEvent{EventID: 31, EventType: enums.EventBoardCreated, Payload: envelopeBytes(t, 31, enums.EventBoardCreated, boardCreated(31))})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.service.ReprocessByType(ctx, enums.EventBoardCreated, 10)
	require.True(t, errors.Is(err, context.Canceled))
	require.Empty(t, h.dispatcher.calls)
}
