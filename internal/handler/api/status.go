package api

import (
	"sync"

	"TradeEngine/internal/domain/models"
)

// StatusTracker remembers the latest signal and transition seen on the bus.
type StatusTracker struct {
	mu         sync.RWMutex
	signal     *models.Event
	transition *models.Event
	counts     map[models.EventType]int64
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{counts: make(map[models.EventType]int64)}
}

// Observe is a bus subscriber.
func (t *StatusTracker) Observe(ev models.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[ev.Type]++
	switch ev.Type {
	case models.EventSignal:
		t.signal = &ev
	case models.EventStateTransition:
		t.transition = &ev
	}
}

func (t *StatusTracker) LastSignal() *models.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.signal
}

func (t *StatusTracker) LastTransition() *models.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.transition
}

func (t *StatusTracker) Counts() map[models.EventType]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[models.EventType]int64, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
