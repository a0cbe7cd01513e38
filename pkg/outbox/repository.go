package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
)

const maxErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(event).Error
}

// FetchDueForPublish returns unprocessed rows created at or before cutoff, oldest
// first. On Postgres the rows are locked with SKIP LOCKED for the life of tx.
func (r *Repository) FetchDueForPublish(tx *gorm.DB, cutoff time.Time, limit int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	query := tx.Where("processed = ? AND created_at <= ?", false, cutoff).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	err := query.Find(&rows).Error
	return rows, err
}

// IsProcessed re-reads the processed flag right before a publish.
func (r *Repository) IsProcessed(tx *gorm.DB, id int64) (bool, error) {
	var row models.OutboxEvent
	err := tx.Select("processed").Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, nil
		}
		return false, err
	}
	return row.Processed, nil
}

// MarkPublished flips processed once; a row that is already processed is left as is.
func (r *Repository) MarkPublished(tx *gorm.DB, id int64, sentAt time.Time) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]any{
			"processed": true,
			"sent_at":   sentAt,
		}).Error
}

func (r *Repository) MarkFailed(tx *gorm.DB, id int64, cause error) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    truncateError(cause),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// MarkDeadLettered closes a row after its payload was copied to the dead-letter table.
func (r *Repository) MarkDeadLettered(tx *gorm.DB, id int64, cause error) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]any{
			"processed":     true,
			"last_error":    truncateError(cause),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// FindByEventID returns nil when no row exists.
func (r *Repository) FindByEventID(ctx context.Context, eventID int64) (*models.OutboxEvent, error) {
	var row models.OutboxEvent
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// DeleteProcessedBefore removes up to limit processed rows older than cutoff.
func (r *Repository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	ids := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Select("id").
		Where("processed = ? AND created_at < ?", true, cutoff).
		Order("id ASC").
		Limit(limit)
	res := r.db.WithContext(ctx).Where("id IN (?)", ids).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func truncateError(err error) *string {
	if err == nil {
		return nil
	}
	msg := truncateMessage(err.Error())
	return &msg
}

func truncateMessage(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
