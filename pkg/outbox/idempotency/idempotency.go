package idempotency

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

// StatusChecker is the durable fallback consulted when the Redis marker is gone.
type StatusChecker interface {
	IsProcessed(ctx context.Context, eventID int64) (bool, error)
}

// Manager tracks processed event ids with a Redis marker per event
// (`idempotency_key:<event_id>`) and falls back to the processing status table
// once the marker has expired.
type Manager struct {
	store  redis.IdempotencyStore
	status StatusChecker
	ttl    time.Duration
	logg   *logger.Logger
}

// NewManager builds an idempotency guard. status and logg may be nil.
func NewManager(store redis.IdempotencyStore, status StatusChecker, ttl time.Duration, logg *logger.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Manager{store: store, status: status, ttl: ttl, logg: logg}, nil
}

// IsProcessed reports whether eventID was already applied. A marker found only
// in the status table is written back to Redis.
func (m *Manager) IsProcessed(ctx context.Context, eventID int64) (bool, error) {
	if eventID == 0 {
		return false, errors.New("event id is required")
	}
	key := redis.IdempotencyKey(eventID)
	exists, err := m.store.Exists(ctx, key)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "check idempotency marker")
	}
	if exists {
		return true, nil
	}
	if m.status == nil {
		return false, nil
	}
	processed, err := m.status.IsProcessed(ctx, eventID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "check processing status")
	}
	if processed {
		if err := m.store.Set(ctx, key, "1", m.ttl); err != nil {
			logCtx := m.logg.WithFields(ctx, map[string]any{
				"event_id": eventID,
				"error":    err.Error(),
			})
			m.logg.Warn(logCtx, "rewarm idempotency marker failed")
		}
	}
	return processed, nil
}

// MarkProcessed records eventID for the configured TTL.
func (m *Manager) MarkProcessed(ctx context.Context, eventID int64) error {
	if eventID == 0 {
		return errors.New("event id is required")
	}
	if err := m.store.Set(ctx, redis.IdempotencyKey(eventID), "1", m.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "write idempotency marker")
	}
	return nil
}

// Clear drops the marker so the event can be applied again.
func (m *Manager) Clear(ctx context.Context, eventID int64) error {
	if eventID == 0 {
		return errors.New("event id is required")
	}
	return m.store.Del(ctx, redis.IdempotencyKey(eventID))
}

// TTL exposes the configured marker lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
