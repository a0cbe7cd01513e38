package payloads

import (
	"time"

	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
)

// BoardCreatedEvent carries everything the read model needs to show a new board.
type BoardCreatedEvent struct {
	BoardID    int64     `json:"board_id" validate:"required,gt=0"`
	CategoryID int64     `json:"category_id" validate:"required,gt=0"`
	AuthorID   int64     `json:"author_id" validate:"required,gt=0"`
	Title      string    `json:"title" validate:"required,max=300"`
	CreatedAt  time.Time `json:"created_at" validate:"required"`
}

// BoardUpdatedEvent replaces the board snapshot. PreviousCategoryID is set when
// the board moved between categories.
type BoardUpdatedEvent struct {
	BoardID            int64     `json:"board_id" validate:"required,gt=0"`
	CategoryID         int64     `json:"category_id" validate:"required,gt=0"`
	PreviousCategoryID int64     `json:"previous_category_id,omitempty" validate:"gte=0"`
	AuthorID           int64     `json:"author_id" validate:"required,gt=0"`
	Title              string    `json:"title" validate:"required,max=300"`
	CreatedAt          time.Time `json:"created_at" validate:"required"`
	UpdatedAt          time.Time `json:"updated_at" validate:"required"`
}

type BoardDeletedEvent struct {
	BoardID    int64 `json:"board_id" validate:"required,gt=0"`
	CategoryID int64 `json:"category_id" validate:"required,gt=0"`
}

type CommentCreatedEvent struct {
	CommentID int64     `json:"comment_id" validate:"required,gt=0"`
	BoardID   int64     `json:"board_id" validate:"required,gt=0"`
	AuthorID  int64     `json:"author_id" validate:"required,gt=0"`
	Body      string    `json:"body" validate:"max=4000"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
}

type CommentDeletedEvent struct {
	CommentID int64 `json:"comment_id" validate:"required,gt=0"`
	BoardID   int64 `json:"board_id" validate:"required,gt=0"`
}

// BoardEngagementEvent is shared by like, unlike and view events.
type BoardEngagementEvent struct {
	BoardID    int64     `json:"board_id" validate:"required,gt=0"`
	UserID     int64     `json:"user_id" validate:"gte=0"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RankingEntry is one member of a recomputed ranking.
type RankingEntry struct {
	BoardID int64   `json:"board_id" validate:"required,gt=0"`
	Score   float64 `json:"score"`
}

// RankingSnapshotEvent pushes a complete recomputed ranking list.
type RankingSnapshotEvent struct {
	Metric     enums.RankingMetric `json:"metric" validate:"required,oneof=likes views"`
	Period     enums.RankingPeriod `json:"period" validate:"required,oneof=day week month"`
	Entries    []RankingEntry      `json:"entries" validate:"dive"`
	ComputedAt time.Time           `json:"computed_at"`
}
