package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
)

// StatusRepository persists per-event consumption state.
type StatusRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStatusRepository(db *gorm.DB) *StatusRepository {
	return &StatusRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// RecordAttempt creates the row on first delivery and bumps retry_count on
// every later one. A processed row stays processed.
func (r *StatusRepository) RecordAttempt(ctx context.Context, eventID int64, eventType enums.EventType, shardKey string) error {
	now := r.now()
	row := models.EventProcessingStatus{
		EventID:         eventID,
		EventType:       eventType,
		RetryCount:      1,
		LastProcessedAt: now,
		ShardKey:        optionalString(shardKey),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "retry_count"}, Value: gorm.Expr("event_processing_status.retry_count + 1")},
			{Column: clause.Column{Name: "last_processed_at"}, Value: now},
		},
	}).Create(&row).Error
}

func (r *StatusRepository) RecordFailure(ctx context.Context, eventID int64, cause error) error {
	return r.db.WithContext(ctx).
		Model(&models.EventProcessingStatus{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"last_error":        truncateError(cause),
			"last_processed_at": r.now(),
		}).Error
}

// MarkProcessed upserts a terminal processed row.
func (r *StatusRepository) MarkProcessed(ctx context.Context, eventID int64, eventType enums.EventType) error {
	return r.markProcessed(r.db.WithContext(ctx), eventID, eventType, nil)
}

// MarkProcessedTx is MarkProcessed inside the caller's transaction.
func (r *StatusRepository) MarkProcessedTx(tx *gorm.DB, eventID int64, eventType enums.EventType) error {
	return r.markProcessed(tx, eventID, eventType, nil)
}

// ForceMarkProcessed closes a stalled row and records why.
func (r *StatusRepository) ForceMarkProcessed(ctx context.Context, eventID int64, eventType enums.EventType, reason string) error {
	return r.markProcessed(r.db.WithContext(ctx), eventID, eventType, &reason)
}

func (r *StatusRepository) markProcessed(tx *gorm.DB, eventID int64, eventType enums.EventType, lastError *string) error {
	now := r.now()
	row := models.EventProcessingStatus{
		EventID:         eventID,
		EventType:       eventType,
		Processed:       true,
		LastProcessedAt: now,
		LastError:       lastError,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "processed"}, Value: true},
			{Column: clause.Column{Name: "last_processed_at"}, Value: now},
			{Column: clause.Column{Name: "last_error"}, Value: lastError},
		},
	}).Create(&row).Error
}

// IsProcessed reports whether a processed row exists for eventID.
func (r *StatusRepository) IsProcessed(ctx context.Context, eventID int64) (bool, error) {
	var row models.EventProcessingStatus
	err := r.db.WithContext(ctx).Select("processed").Where("event_id = ?", eventID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return row.Processed, nil
}

func (r *StatusRepository) Find(ctx context.Context, eventID int64) (*models.EventProcessingStatus, error) {
	var row models.EventProcessingStatus
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// FindStalled returns unprocessed rows whose last attempt is older than cutoff.
func (r *StatusRepository) FindStalled(ctx context.Context, cutoff time.Time, limit int) ([]models.EventProcessingStatus, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.EventProcessingStatus
	err := r.db.WithContext(ctx).
		Where("processed = ? AND last_processed_at < ?", false, cutoff).
		Order("last_processed_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
