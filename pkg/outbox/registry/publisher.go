package registry

import (
	"bytes"
	"fmt"

	"github.com/angelmondragon/boardfeed-backend/pkg/config"
	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox"
)

// EventDescriptor links an event type to the topic it is relayed to.
type EventDescriptor struct {
	EventType enums.EventType
	Topic     string
}

// ResolvedEvent is an outbox row ready for publishing.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.Envelope
	Data       []byte
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.EventType]EventDescriptor
}

// NewEventRegistry routes board and comment lifecycle events to the board
// topic and engagement events to the engagement topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.BoardTopic == "" {
		return nil, fmt.Errorf("board topic is required")
	}
	engagementTopic := cfg.EngagementTopic
	if engagementTopic == "" {
		engagementTopic = cfg.BoardTopic
	}

	reg := &EventRegistry{entries: make(map[enums.EventType]EventDescriptor)}
	for _, eventType := range []enums.EventType{
		enums.EventBoardCreated,
		enums.EventBoardUpdated,
		enums.EventBoardDeleted,
		enums.EventCommentCreated,
		enums.EventCommentDeleted,
	} {
		reg.register(EventDescriptor{EventType: eventType, Topic: cfg.BoardTopic})
	}
	for _, eventType := range []enums.EventType{
		enums.EventBoardLiked,
		enums.EventBoardUnliked,
		enums.EventBoardViewed,
		enums.EventRankingSnapshot,
	} {
		reg.register(EventDescriptor{EventType: eventType, Topic: engagementTopic})
	}
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	r.entries[desc.EventType] = desc
}

// Descriptor returns the descriptor registered for eventType.
func (r *EventRegistry) Descriptor(eventType enums.EventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Topics lists the distinct topics in use.
func (r *EventRegistry) Topics() []string {
	seen := map[string]bool{}
	var topics []string
	for _, eventType := range enums.EventTypes() {
		desc, ok := r.entries[eventType]
		if !ok || seen[desc.Topic] {
			continue
		}
		seen[desc.Topic] = true
		topics = append(topics, desc.Topic)
	}
	return topics
}

// Resolve builds the publishable form of row. Unknown types and empty payloads
// are terminal: retrying them can never succeed.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[row.EventType]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeTerminalDelivery, fmt.Sprintf("event type %s not registered", row.EventType))
	}
	trimmed := bytes.TrimSpace(row.Payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, pkgerrors.New(pkgerrors.CodeTerminalDelivery, fmt.Sprintf("payload missing for %s", row.EventType))
	}
	if row.EventID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeTerminalDelivery, "event id missing")
	}

	envelope := outbox.EnvelopeFromRow(row)
	data, err := envelope.Marshal()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTerminalDelivery, err, "encode envelope")
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Data: data}, nil
}
