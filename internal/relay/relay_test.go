package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/boardfeed-backend/pkg/config"
	"github.com/angelmondragon/boardfeed-backend/pkg/db"
	"github.com/angelmondragon/boardfeed-backend/pkg/db/dbtest"
	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/registry"
)

type sentMessage struct {
	topic string
	msg   *gcppubsub.Message
}

type fakePublisher struct {
	mu    sync.Mutex
	sent  []sentMessage
	fail  func(msg *gcppubsub.Message) error
	calls int
}

func (f *fakePublisher) Publish(_ context.Context, topic string, msg *gcppubsub.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		if err := f.fail(msg); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMessage{topic: topic, msg: msg})
	return nil
}

type relayHarness struct {
	conn      *gorm.DB
	relay     *Relay
	processor *Processor
	publisher *fakePublisher
	repo      *outbox.Repository
	dlq       *outbox.DLQRepository
	now       time.Time
}

func newRelayHarness(t *testing.T, cfg config.OutboxConfig) relayHarness {
	t.Helper()
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	dlq := outbox.NewDLQRepository(conn)
	reg, err := registry.NewEventRegistry(config.PubSubConfig{BoardTopic: "board-events", EngagementTopic: "engagement-events"})
	require.NoError(t, err)

	publisher := &fakePublisher{}
	processor, err := NewProcessor(ProcessorParams{
		Config:     cfg,
		Registry:   reg,
		Publisher:  publisher,
		Repository: repo,
		DLQ:        dlq,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	processor.sleep = func(context.Context, time.Duration) error { return nil }

	relay, err := NewRelay(RelayParams{
		Config:     cfg,
		DB:         db.Wrap(conn),
		Repository: repo,
		Processor:  processor,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	relay.now = func() time.Time { return now }

	return relayHarness{conn: conn, relay: relay, processor: processor, publisher: publisher, repo: repo, dlq: dlq, now: now}
}

func (h relayHarness) seed(t *testing.T, eventID int64, eventType enums.EventType, payload string, createdAt time.Time) models.OutboxEvent {
	t.Helper()
	row := models.OutboxEvent{
		EventID:   eventID,
		EventType: eventType,
		Payload:   []byte(payload),
		ShardKey:  "board:1",
		CreatedAt: createdAt,
	}
	require.NoError(t, h.conn.Create(&row).Error)
	return row
}

func (h relayHarness) load(t *testing.T, id int64) models.OutboxEvent {
	t.Helper()
	var row models.OutboxEvent
	require.NoError(t, h.conn.First(&row, id).Error)
	return row
}

const boardDeleted = `{"board_id":1,"category_id":2}`

// Three rows older than the safety cutoff are published; a fresh one waits.
func TestRelayPublishesRowsOlderThanCutoff(t *testing.T) {
	h := newRelayHarness(t, config.OutboxConfig{SafetyCutoff: 2 * time.Second})
	var old []models.OutboxEvent
	for i := int64(1); i <= 3; i++ {
		old = append(old, h.seed(t, 100+i, enums.EventBoardDeleted, boardDeleted, h.now.Add(-time.Duration(10-i)*time.Second)))
	}
	fresh := h.seed(t, 200, enums.EventBoardDeleted, boardDeleted, h.now.Add(-500*time.Millisecond))

	stats, err := h.relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, RelayStats{Fetched: 3, Published: 3}, stats)

	require.Len(t, h.publisher.sent, 3)
	for i, sent := range h.publisher.sent {
		require.Equal(t, "board-events", sent.topic)
		require.Equal(t, "board:1", sent.msg.OrderingKey)
		env, err := outbox.DecodeEnvelope(sent.msg.Data)
		require.NoError(t, err)
		require.Equal(t, old[i].EventID, env.EventID, "oldest first")
	}
	for _, row := range old {
		got := h.load(t, row.ID)
		require.True(t, got.Processed)
		require.NotNil(t, got.SentAt)
	}
	require.False(t, h.load(t, fresh.ID).Processed)

	// the next cycle has nothing new to send until the fresh row ages
	stats, err = h.relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Published)
}

func TestRelayRoutesEngagementTopic(t *testing.T) {
	h := newRelayHarness(t, config.OutboxConfig{})
	h.seed(t, 1, enums.EventBoardLiked, `{"board_id":1,"user_id":2}`, h.now.Add(-time.Minute))

	_, err := h.relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, h.publisher.sent, 1)
	require.Equal(t, "engagement-events", h.publisher.sent[0].topic)
	require.Equal(t, "BOARD_LIKED", h.publisher.sent[0].msg.Attributes[outbox.AttrEventType])
	require.Equal(t, "1", h.publisher.sent[0].msg.Attributes[outbox.AttrEventID])
}

func TestRelayMarksFailureForLaterRetry(t *testing.T) {
	h := newRelayHarness(t, config.OutboxConfig{MaxAttempts: 5, RetryAttempts: 2, BreakerFailures: 100})
	h.publisher.fail = func(*gcppubsub.Message) error { return errors.New("unavailable") }
	row := h.seed(t, 1, enums.EventBoardDeleted, boardDeleted, h.now.Add(-time.Minute))

	stats, err := h.relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 2, h.publisher.calls, "inline retries")

	got := h.load(t, row.ID)
	require.False(t, got.Processed)
	require.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.LastError)
}

func TestRelayDeadLettersAfterMaxAttempts(t *testing.T) {
	h := newRelayHarness(t, config.OutboxConfig{MaxAttempts: 2, RetryAttempts: 1, BreakerFailures: 100})
	h.publisher.fail = func(*gcppubsub.Message) error { return errors.New("unavailable") }
	row := h.seed(t, 77, enums.EventBoardDeleted, boardDeleted, h.now.Add(-time.Minute))

	_, err := h.relay.RunOnce(context.Background())
	require.NoError(t, err)
	stats, err := h.relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.DeadLettered)

	got := h.load(t, row.ID)
	require.True(t, got.Processed, "dead-lettered rows are closed")
	require.Nil(t, got.SentAt)

	entry, err := h.dlq.FindByEventID(context.Background(), 77)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, enums.DLQReasonMaxAttempts, entry.Reason)
	require.Equal(t, 2, entry.RetryCount)
	env, err := outbox.DecodeEnvelope(entry.Payload)
	require.NoError(t, err)
	require.Equal(t, int64(77), env.EventID)

	// nothing left to publish
	stats, err = h.relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Fetched)
}

func TestRelayDeadLettersUnknownTypeImmediately(t *testing.T) {
	h := newRelayHarness(t, config.OutboxConfig{})
	row := h.seed(t, 5, enums.EventType("BOARD_ARCHIVED"), boardDeleted, h.now.Add(-time.Minute))

	stats, err := h.relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.DeadLettered)
	require.Zero(t, h.publisher.calls)
	require.True(t, h.load(t, row.ID).Processed)

	entry, err := h.dlq.FindByEventID(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, enums.DLQReasonNonRetryable, entry.Reason)
}

func TestRelayStopsBatchWhenBreakerOpens(t *testing.T) {
	h := newRelayHarness(t, config.OutboxConfig{RetryAttempts: 1, BreakerFailures: 2, BreakerTimeout: time.Hour})
	h.publisher.fail = func(*gcppubsub.Message) error { return errors.New("unavailable") }
	for i := int64(1); i <= 4; i++ {
		h.seed(t, i, enums.EventBoardDeleted, boardDeleted, h.now.Add(-time.Duration(10-i)*time.Second))
	}

	stats, err := h.relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, stats.Stopped)
	require.Equal(t, 2, stats.Failed)
	require.Equal(t, 2, h.publisher.calls)

	var untouched int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("attempt_count = 0").Count(&untouched).Error)
	require.Equal(t, int64(2), untouched)
}

func TestRelayCancellationKeepsMarkedRows(t *testing.T) {
	h := newRelayHarness(t, config.OutboxConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	first := h.seed(t, 1, enums.EventBoardDeleted, boardDeleted, h.now.Add(-3*time.Minute))
	second := h.seed(t, 2, enums.EventBoardDeleted, boardDeleted, h.now.Add(-2*time.Minute))
	h.publisher.fail = func(*gcppubsub.Message) error {
		cancel()
		return nil
	}

	stats, err := h.relay.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, stats.Stopped)
	require.Equal(t, 1, stats.Published)
	require.True(t, h.load(t, first.ID).Processed)
	require.False(t, h.load(t, second.ID).Processed)
}

// flakyMarkRepository fails MarkPublished on the call numbered failOn.
type flakyMarkRepository struct {
	*outbox.Repository
	failOn int
	calls  int
}

func (f *flakyMarkRepository) MarkPublished(tx *gorm.DB, id int64, sentAt time.Time) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("connection reset")
	}
	return f.Repository.MarkPublished(tx, id, sentAt)
}

func TestRelayMarkFailureKeepsEarlierRowsCommitted(t *testing.T) {
	h := newRelayHarness(t, config.OutboxConfig{})
	var rows []models.OutboxEvent
	for i := int64(1); i <= 3; i++ {
		rows = append(rows, h.seed(t, 300+i, enums.EventBoardDeleted, boardDeleted, h.now.Add(-time.Duration(10-i)*time.Second)))
	}

	flaky, err := NewRelay(RelayParams{
		DB:         db.Wrap(h.conn),
		Repository: &flakyMarkRepository{Repository: h.repo, failOn: 2},
		Processor:  h.processor,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	flaky.now = h.relay.now

	stats, err := flaky.RunOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, stats.Published)
	require.True(t, h.load(t, rows[0].ID).Processed)
	require.False(t, h.load(t, rows[1].ID).Processed)
	require.False(t, h.load(t, rows[2].ID).Processed)

	stats, err = h.relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, RelayStats{Fetched: 2, Published: 2}, stats)

	published := map[int64]int{}
	for _, sent := range h.publisher.sent {
		env, err := outbox.DecodeEnvelope(sent.msg.Data)
		require.NoError(t, err)
		published[env.EventID]++
	}
	require.Equal(t, 1, published[rows[0].EventID], "committed row is not republished")
	require.Equal(t, 2, published[rows[1].EventID])
	require.Equal(t, 1, published[rows[2].EventID])
	for _, row := range rows {
		require.True(t, h.load(t, row.ID).Processed)
	}
}
