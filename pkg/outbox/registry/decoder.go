package registry

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/payloads"
)

type decoderFunc func(payload []byte) (any, error)

// DecoderRegistry turns an envelope payload into its typed struct, keyed by
// the event type discriminator.
type DecoderRegistry struct {
	decoders map[enums.EventType]decoderFunc
	validate *validator.Validate
}

// NewDecoderRegistry registers a decoder for every known event type.
func NewDecoderRegistry() *DecoderRegistry {
	reg := &DecoderRegistry{
		decoders: make(map[enums.EventType]decoderFunc),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	register[payloads.BoardCreatedEvent](reg, enums.EventBoardCreated)
	register[payloads.BoardUpdatedEvent](reg, enums.EventBoardUpdated)
	register[payloads.BoardDeletedEvent](reg, enums.EventBoardDeleted)
	register[payloads.CommentCreatedEvent](reg, enums.EventCommentCreated)
	register[payloads.CommentDeletedEvent](reg, enums.EventCommentDeleted)
	register[payloads.BoardEngagementEvent](reg, enums.EventBoardLiked)
	register[payloads.BoardEngagementEvent](reg, enums.EventBoardUnliked)
	register[payloads.BoardEngagementEvent](reg, enums.EventBoardViewed)
	register[payloads.RankingSnapshotEvent](reg, enums.EventRankingSnapshot)
	return reg
}

func register[T any](r *DecoderRegistry, eventType enums.EventType) {
	r.decoders[eventType] = func(payload []byte) (any, error) {
		var decoded T
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodePoisonMessage, err, fmt.Sprintf("decode %s payload", eventType))
		}
		if err := r.validate.Struct(decoded); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodePoisonMessage, err, fmt.Sprintf("invalid %s payload", eventType))
		}
		return &decoded, nil
	}
}

// Known reports whether a decoder exists for eventType.
func (r *DecoderRegistry) Known(eventType enums.EventType) bool {
	_, ok := r.decoders[eventType]
	return ok
}

// Decode runs the decoder registered for the event type.
func (r *DecoderRegistry) Decode(eventType enums.EventType, payload []byte) (any, error) {
	decoder, ok := r.decoders[eventType]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodePoisonMessage, fmt.Sprintf("decoder not registered for %s", eventType))
	}
	return decoder(payload)
}
