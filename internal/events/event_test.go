package events

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/payloads"
)

func TestDecodeBytesBoardCreated(t *testing.T) {
	body := []byte(`{"eventId":42,"type":"BOARD_CREATED","eventTs":1767225600000,
		"payload":{"board_id":9,"category_id":3,"author_id":5,"title":"hello","created_at":"2026-01-01T00:00:00Z"}}`)

	ev, err := NewDecoder().DecodeBytes(body)
	require.NoError(t, err)
	require.Equal(t, int64(42), ev.ID)
	require.Equal(t, enums.EventBoardCreated, ev.Type)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ev.EventTs)

	payload, ok := ev.Payload.(*payloads.BoardCreatedEvent)
	require.True(t, ok, "payload type %T", ev.Payload)
	require.Equal(t, int64(9), payload.BoardID)
	require.Equal(t, "hello", payload.Title)
}

func TestDecodeBytesRejectsPoison(t *testing.T) {
	cases := map[string]string{
		"not json":       `{{`,
		"missing field":  `{"eventId":1,"type":"BOARD_DELETED","payload":{"board_id":1}}`,
		"null payload":   `{"eventId":1,"type":"BOARD_DELETED","payload":null}`,
		"wrong shape":    `{"eventId":1,"type":"BOARD_VIEWED","payload":{"board_id":"abc"}}`,
		"empty envelope": ``,
	}
	dec := NewDecoder()
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := dec.DecodeBytes([]byte(body))
			require.Error(t, err)
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodePoisonMessage), "got %v", err)
			require.False(t, pkgerrors.IsRetryable(err))
		})
	}
}

func TestDecodeBytesKeepsUnknownTypeRaw(t *testing.T) {
	ev, err := NewDecoder().DecodeBytes([]byte(`{"eventId":77,"type":"BOARD_PINNED","eventTs":1767225600000,"payload":{"board_id":1}}`))
	require.NoError(t, err)
	require.Equal(t, int64(77), ev.ID)
	require.Equal(t, enums.EventType("BOARD_PINNED"), ev.Type)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ev.EventTs)

	raw, ok := ev.Payload.(json.RawMessage)
	require.True(t, ok, "payload type %T", ev.Payload)
	require.JSONEq(t, `{"board_id":1}`, string(raw))
}

func TestDecodeEngagementTypesShareStruct(t *testing.T) {
	dec := NewDecoder()
	for _, typ := range []string{"BOARD_LIKED", "BOARD_UNLIKED", "BOARD_VIEWED"} {
		ev, err := dec.DecodeBytes([]byte(`{"eventId":3,"type":"` + typ + `","payload":{"board_id":11,"user_id":2}}`))
		require.NoError(t, err)
		payload, ok := ev.Payload.(*payloads.BoardEngagementEvent)
		require.True(t, ok)
		require.Equal(t, int64(11), payload.BoardID)
	}
}
