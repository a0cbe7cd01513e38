package models

import (
	"time"

	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
)

// DeadLetterEvent holds an event that exhausted its retries or was found orphaned.
// An empty Payload marks a synthesized row that cannot be re-dispatched.
type DeadLetterEvent struct {
	ID         int64           `gorm:"column:id;primaryKey;autoIncrement"`
	EventID    int64           `gorm:"column:event_id;not null;uniqueIndex"`
	EventType  enums.EventType `gorm:"column:event_type;not null;index"`
	RetryCount int             `gorm:"column:retry_count;not null;default:0"`
	LastError  string          `gorm:"column:last_error;not null;default:''"`
	Payload    []byte          `gorm:"column:payload"`
	Reason     enums.DLQReason `gorm:"column:reason;not null"`
	ShardKey   *string         `gorm:"column:shard_key"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (DeadLetterEvent) TableName() string { return "dead_letter_events" }
