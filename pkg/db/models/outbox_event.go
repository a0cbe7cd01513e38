package models

import (
	"time"

	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
)

// OutboxEvent is a not-yet-relayed event written in the producer's transaction.
type OutboxEvent struct {
	ID           int64           `gorm:"column:id;primaryKey;autoIncrement"`
	EventID      int64           `gorm:"column:event_id;not null;uniqueIndex"`
	EventType    enums.EventType `gorm:"column:event_type;not null"`
	Payload      []byte          `gorm:"column:payload;not null"`
	ShardKey     string          `gorm:"column:shard_key;not null;default:''"`
	CreatedAt    time.Time       `gorm:"column:created_at;not null;index"`
	SentAt       *time.Time      `gorm:"column:sent_at"`
	Processed    bool            `gorm:"column:processed;not null;default:false;index"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string         `gorm:"column:last_error"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }
