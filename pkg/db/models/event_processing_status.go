package models

import (
	"time"

	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
)

// EventProcessingStatus tracks consumption attempts per event id.
type EventProcessingStatus struct {
	EventID         int64           `gorm:"column:event_id;primaryKey;autoIncrement:false"`
	EventType       enums.EventType `gorm:"column:event_type;not null"`
	Processed       bool            `gorm:"column:processed;not null;default:false;index"`
	RetryCount      int             `gorm:"column:retry_count;not null;default:0"`
	LastProcessedAt time.Time       `gorm:"column:last_processed_at;not null;index"`
	LastError       *string         `gorm:"column:last_error"`
	ShardKey        *string         `gorm:"column:shard_key"`
}

func (EventProcessingStatus) TableName() string { return "event_processing_status" }
