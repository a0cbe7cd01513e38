package outbox

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/angelmondragon/boardfeed-backend/pkg/db"
	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
)

type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// Save inserts entry unless a row for the same event id exists. It reports
// whether a new row was written.
func (r *DLQRepository) Save(ctx context.Context, entry models.DeadLetterEvent) (bool, error) {
	return r.SaveTx(r.db.WithContext(ctx), entry)
}

// SaveTx is Save inside the caller's transaction.
func (r *DLQRepository) SaveTx(tx *gorm.DB, entry models.DeadLetterEvent) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	entry.LastError = truncateMessage(entry.LastError)
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&entry)
	if res.Error != nil {
		if dbpkg.IsUniqueViolation(res.Error, "") {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *DLQRepository) FindByID(ctx context.Context, id int64) (*models.DeadLetterEvent, error) {
	var row models.DeadLetterEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter event not found")
		}
		return nil, err
	}
	return &row, nil
}

// FindByEventID returns nil when no row exists.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID int64) (*models.DeadLetterEvent, error) {
	var row models.DeadLetterEvent
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListByType returns the oldest rows of one event type.
func (r *DLQRepository) ListByType(ctx context.Context, eventType enums.EventType, limit int) ([]models.DeadLetterEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.DeadLetterEvent
	err := r.db.WithContext(ctx).
		Where("event_type = ?", eventType).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListReprocessable returns rows of one event type that still carry a payload,
// least retried first so a few stubborn rows cannot starve the rest.
func (r *DLQRepository) ListReprocessable(ctx context.Context, eventType enums.EventType, limit int) ([]models.DeadLetterEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.DeadLetterEvent
	err := r.db.WithContext(ctx).
		Where("event_type = ? AND payload IS NOT NULL AND length(payload) > 0", eventType).
		Order("retry_count ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// List pages newest first; afterID 0 starts at the newest row.
func (r *DLQRepository) List(ctx context.Context, afterID int64, limit int) ([]models.DeadLetterEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if afterID > 0 {
		query = query.Where("id < ?", afterID)
	}
	var rows []models.DeadLetterEvent
	err := query.Find(&rows).Error
	return rows, err
}

func (r *DLQRepository) DeleteTx(tx *gorm.DB, id int64) error {
	return tx.Where("id = ?", id).Delete(&models.DeadLetterEvent{}).Error
}

// RecordRetryFailure keeps the row for a later attempt.
func (r *DLQRepository) RecordRetryFailure(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = truncateMessage(cause.Error())
	}
	return r.db.WithContext(ctx).
		Model(&models.DeadLetterEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  msg,
		}).Error
}
