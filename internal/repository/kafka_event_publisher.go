package repository

import (
	"context"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
)

// KafkaProducer is the part of *pkg/kafka.Producer the publisher uses.
type KafkaProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}, headers map[string]string) error
}

// KafkaEventPublisher writes engine events to one topic keyed by symbol, so
// every event for a symbol lands on the same partition in publish order.
type KafkaEventPublisher struct {
	producer KafkaProducer
	topic    string
}

func NewKafkaEventPublisher(p KafkaProducer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: p, topic: topic}
}

func (k *KafkaEventPublisher) Publish(ctx context.Context, ev models.Event) error {
	return k.producer.Publish(ctx, k.topic, []byte(ev.Symbol), ev, map[string]string{
		"event_type": string(ev.Type),
		"event_id":   ev.ID,
	})
}

// PublishMessage sends an arbitrary payload to topic. The log collector ships
// its digests through it.
func (k *KafkaEventPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return k.producer.Publish(ctx, topic, nil, payload, nil)
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
