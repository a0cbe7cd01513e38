package registry

import (
	"testing"

	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/payloads"
)

func TestDecoderRegistryTypedPayload(t *testing.T) {
	reg := NewDecoderRegistry()

	input := []byte(`{"board_id":11,"category_id":2,"author_id":5,"title":"hello","created_at":"2026-01-02T03:04:05Z"}`)
	output, err := reg.Decode(enums.EventBoardCreated, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	created, ok := output.(*payloads.BoardCreatedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", output)
	}
	if created.BoardID != 11 || created.CategoryID != 2 || created.Title != "hello" {
		t.Fatalf("unexpected payload %+v", created)
	}
}

func TestDecoderRegistrySharedEngagementPayload(t *testing.T) {
	reg := NewDecoderRegistry()
	for _, eventType := range []enums.EventType{enums.EventBoardLiked, enums.EventBoardUnliked, enums.EventBoardViewed} {
		out, err := reg.Decode(eventType, []byte(`{"board_id":3,"user_id":9}`))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", eventType, err)
		}
		if _, ok := out.(*payloads.BoardEngagementEvent); !ok {
			t.Fatalf("%s: unexpected payload type %T", eventType, out)
		}
	}
}

func TestDecoderRegistryRejectsInvalidPayloads(t *testing.T) {
	reg := NewDecoderRegistry()
	cases := []struct {
		name      string
		eventType enums.EventType
		payload   string
	}{
		{name: "malformed json", eventType: enums.EventBoardDeleted, payload: `{"board_id":`},
		{name: "missing board id", eventType: enums.EventBoardDeleted, payload: `{"category_id":1}`},
		{name: "bad period", eventType: enums.EventRankingSnapshot, payload: `{"metric":"likes","period":"year","entries":[]}`},
		{name: "bad entry", eventType: enums.EventRankingSnapshot, payload: `{"metric":"likes","period":"day","entries":[{"board_id":0,"score":1}]}`},
		{name: "unknown type", eventType: "BOARD_PINNED", payload: `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Decode(tc.eventType, []byte(tc.payload))
			if !pkgerrors.IsCode(err, pkgerrors.CodePoisonMessage) {
				t.Fatalf("expected poison error, got %v", err)
			}
		})
	}
}

func TestDecoderRegistryKnownCoversEveryEventType(t *testing.T) {
	reg := NewDecoderRegistry()
	for _, eventType := range enums.EventTypes() {
		if !reg.Known(eventType) {
			t.Fatalf("missing decoder for %s", eventType)
		}
	}
}
