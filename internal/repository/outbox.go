package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/logger"
	"TradeEngine/pkg/queue"
)

// OutboxJobType is the queue message type for events awaiting re-delivery.
const OutboxJobType = "engine_event"

// OutboxPublisher tries the primary sink first and parks the event on the
// queue when that fails. Publish only errors when both paths fail.
type OutboxPublisher struct {
	primary domrepo.EventPublisher
	queue   queue.Publisher
	log     *logger.Logger
}

func NewOutboxPublisher(primary domrepo.EventPublisher, q queue.Publisher, log *logger.Logger) *OutboxPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &OutboxPublisher{primary: primary, queue: q, log: log}
}

func (o *OutboxPublisher) Publish(ctx context.Context, ev models.Event) error {
	err := o.primary.Publish(ctx, ev)
	if err == nil {
		return nil
	}
	o.log.Warn("event publish failed, parking in outbox",
		logger.String("event_id", ev.ID),
		logger.String("type", string(ev.Type)),
		logger.Error(err),
	)
	if qerr := o.queue.PublishMessage(ctx, OutboxJobType, ev); qerr != nil {
		return fmt.Errorf("publish %s: %v; outbox: %w", ev.ID, err, qerr)
	}
	return nil
}

// outboxEvent keeps the payload undecoded, so a redelivered event carries
// byte-identical payload JSON.
type outboxEvent struct {
	Payload json.RawMessage `json:"payload"`
}

// OutboxJob re-publishes parked events to primary. A failing publish is
// returned so the queue schedules a retry.
func OutboxJob(primary domrepo.EventPublisher) queue.Job {
	return queue.JobFunc{
		JobName: "outbox-redeliver",
		MsgType: OutboxJobType,
		Fn: func(ctx context.Context, payload json.RawMessage) error {
			raw, err := queue.ParsePayload[outboxEvent](payload)
			if err != nil {
				return err
			}
			var ev models.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			ev.Payload = raw.Payload
			return primary.Publish(ctx, ev)
		},
	}
}

var _ domrepo.EventPublisher = (*OutboxPublisher)(nil)
