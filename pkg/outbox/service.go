package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/goccy/go-json"
	"gorm.io/gorm"

	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
)

// DomainEvent is what producers hand to Emit inside their business transaction.
type DomainEvent struct {
	EventType  enums.EventType
	ShardKey   string
	Data       any
	OccurredAt time.Time
}

// IDGenerator yields time ordered event ids.
type IDGenerator interface {
	Generate() snowflake.ID
}

type Service struct {
	repo *Repository
	ids  IDGenerator
	logg *logger.Logger
}

// NewIDGenerator builds a snowflake node; nodeID must be unique per producer.
func NewIDGenerator(nodeID int64) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return node, nil
}

func NewService(repo *Repository, ids IDGenerator, logg *logger.Logger) *Service {
	return &Service{repo: repo, ids: ids, logg: logg}
}

// Emit writes the outbox row for event in tx and returns its event id.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !event.EventType.IsValid() {
		return 0, fmt.Errorf("unknown event type %q", event.EventType)
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", event.EventType, err)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	row := models.OutboxEvent{
		EventID:   s.ids.Generate().Int64(),
		EventType: event.EventType,
		Payload:   payload,
		ShardKey:  event.ShardKey,
		CreatedAt: event.OccurredAt,
	}
	if err := s.repo.Insert(tx, &row); err != nil {
		return 0, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":   row.EventID,
			"event_type": row.EventType,
			"shard_key":  row.ShardKey,
		})
		s.logg.Debug(logCtx, "outbox event queued")
	}
	return row.EventID, nil
}
