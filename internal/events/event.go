package events

import (
	"time"

	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/registry"
)

// Event is a decoded envelope handed to handlers. Payload holds a pointer to
// the typed struct for Type (see pkg/outbox/payloads), or the raw JSON when
// Type is not one this build knows.
type Event struct {
	ID       int64
	Type     enums.EventType
	Payload  any
	ShardKey string
	EventTs  time.Time
}

// Decoder turns envelopes into typed events.
type Decoder struct {
	payloads *registry.DecoderRegistry
}

func NewDecoder() *Decoder {
	return &Decoder{payloads: registry.NewDecoderRegistry()}
}

// Decode decodes the payload for a known discriminator; an invalid payload is
// a poison message. An unknown discriminator is not an error: the event keeps
// its raw payload and dispatch skips it, so producers can ship new types
// before consumers learn them.
func (d *Decoder) Decode(env outbox.Envelope) (Event, error) {
	event := Event{
		ID:      env.EventID,
		Type:    env.Type,
		Payload: env.Payload,
	}
	if env.EventTs > 0 {
		event.EventTs = time.UnixMilli(env.EventTs).UTC()
	}
	if !env.Type.IsValid() {
		return event, nil
	}
	payload, err := d.payloads.Decode(env.Type, env.Payload)
	if err != nil {
		return Event{}, err
	}
	event.Payload = payload
	return event, nil
}

// DecodeBytes parses and decodes a raw message body.
func (d *Decoder) DecodeBytes(data []byte) (Event, error) {
	env, err := outbox.DecodeEnvelope(data)
	if err != nil {
		return Event{}, err
	}
	return d.Decode(env)
}
