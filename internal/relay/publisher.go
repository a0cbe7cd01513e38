package relay

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// Publisher sends one message to a topic and waits for the broker ack.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

type topicSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// PubSubPublisher publishes through cached, ordering-enabled topic publishers.
type PubSubPublisher struct {
	topics topicSource
}

func NewPubSubPublisher(topics topicSource) (*PubSubPublisher, error) {
	if topics == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &PubSubPublisher{topics: topics}, nil
}

// Publish blocks until the broker acknowledges msg. After a failed publish the
// ordering key is paused by the client library, so it is resumed here to let
// the next relay cycle retry it.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := p.topics.Publisher(topic)
	if pub == nil {
		return errors.New("publisher not configured for topic " + topic)
	}
	if _, err := pub.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			pub.ResumePublish(msg.OrderingKey)
		}
		return err
	}
	return nil
}
