package outbox

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
)

// Message attributes set on every relayed event.
const (
	AttrEventID   = "event_id"
	AttrEventType = "event_type"
	AttrShardKey  = "shard_key"
)

// Envelope is the wire form of every relayed event. EventID doubles as the
// idempotency key downstream.
type Envelope struct {
	EventID int64           `json:"eventId"`
	Type    enums.EventType `json:"type"`
	Payload json.RawMessage `json:"payload"`
	EventTs int64           `json:"eventTs"`
}

// EnvelopeFromRow builds the envelope for an outbox row.
func EnvelopeFromRow(row models.OutboxEvent) Envelope {
	return Envelope{
		EventID: row.EventID,
		Type:    row.EventType,
		Payload: json.RawMessage(row.Payload),
		EventTs: row.CreatedAt.UnixMilli(),
	}
}

// Marshal encodes the envelope.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, "encode envelope")
	}
	return data, nil
}

// DecodeEnvelope parses a message body. Malformed input is a poison message.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return env, pkgerrors.New(pkgerrors.CodePoisonMessage, "empty envelope")
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return env, pkgerrors.Wrap(pkgerrors.CodePoisonMessage, err, "decode envelope")
	}
	if env.Type == "" {
		return env, pkgerrors.New(pkgerrors.CodePoisonMessage, "envelope type missing")
	}
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return env, pkgerrors.New(pkgerrors.CodePoisonMessage, fmt.Sprintf("payload missing for %s", env.Type))
	}
	return env, nil
}
