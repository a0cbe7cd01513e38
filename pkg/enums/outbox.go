package enums

import "fmt"

// EventType is the discriminator carried by every event envelope.
type EventType string

const (
	EventBoardCreated    EventType = "BOARD_CREATED"
	EventBoardUpdated    EventType = "BOARD_UPDATED"
	EventBoardDeleted    EventType = "BOARD_DELETED"
	EventCommentCreated  EventType = "COMMENT_CREATED"
	EventCommentDeleted  EventType = "COMMENT_DELETED"
	EventBoardLiked      EventType = "BOARD_LIKED"
	EventBoardUnliked    EventType = "BOARD_UNLIKED"
	EventBoardViewed     EventType = "BOARD_VIEWED"
	EventRankingSnapshot EventType = "RANKING_SNAPSHOT"
)

var validEventTypes = []EventType{
	EventBoardCreated,
	EventBoardUpdated,
	EventBoardDeleted,
	EventCommentCreated,
	EventCommentDeleted,
	EventBoardLiked,
	EventBoardUnliked,
	EventBoardViewed,
	EventRankingSnapshot,
}

// EventTypes returns every known event type in declaration order.
func EventTypes() []EventType {
	out := make([]EventType, len(validEventTypes))
	copy(out, validEventTypes)
	return out
}

// IsValid reports whether the value is a known event type.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

func (e EventType) String() string {
	return string(e)
}

// ParseEventType converts raw input into EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// EntityType names the aggregate a detail snapshot or counter belongs to.
type EntityType string

const (
	EntityBoard   EntityType = "board"
	EntityComment EntityType = "comment"
)

func (e EntityType) IsValid() bool {
	return e == EntityBoard || e == EntityComment
}
