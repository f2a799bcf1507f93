package repository

import (
	"context"
	"fmt"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/logger"
)

// Sink is a named fan-out target.
type Sink struct {
	Name      string
	Publisher domrepo.EventPublisher
}

// FanoutPublisher delivers each event to every sink in order. A failing sink
// does not stop the others; the first error is returned.
type FanoutPublisher struct {
	sinks   []Sink
	log     *logger.Logger
	metrics domrepo.Metrics
}

func NewFanoutPublisher(log *logger.Logger, metrics domrepo.Metrics, sinks ...Sink) *FanoutPublisher {
	if log == nil {
		log = logger.Nop()
	}
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Publisher != nil {
			out = append(out, s)
		}
	}
	return &FanoutPublisher{sinks: out, log: log, metrics: metrics}
}

func (f *FanoutPublisher) Publish(ctx context.Context, ev models.Event) error {
	var first error
	for _, s := range f.sinks {
		if err := s.Publisher.Publish(ctx, ev); err != nil {
			if f.metrics != nil {
				f.metrics.RecordError("publish_" + s.Name)
			}
			f.log.Error("event sink failed",
				logger.String("sink", s.Name),
				logger.String("event_id", ev.ID),
				logger.String("type", string(ev.Type)),
				logger.Error(err),
			)
			if first == nil {
				first = fmt.Errorf("sink %s: %w", s.Name, err)
			}
		}
	}
	return first
}

var _ domrepo.EventPublisher = (*FanoutPublisher)(nil)
