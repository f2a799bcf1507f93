package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TradeEngine/internal/domain/errs"
	"TradeEngine/internal/domain/models"
	drepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/config"
	"TradeEngine/pkg/logger"
)

// edges is the complete automated transition graph. HALTED→BOOTSTRAP is reachable
// only through Resume.
var edges = map[models.SystemState][]models.SystemState{
	models.StateBootstrap:    {models.StateScanning, models.StateHalted},
	models.StateScanning:     {models.StateEntryPending, models.StateHalted},
	models.StateEntryPending: {models.StateInPosition, models.StateScanning, models.StateHalted},
	models.StateInPosition:   {models.StateCooldown, models.StateHalted},
	models.StateCooldown:     {models.StateScanning, models.StateHalted},
}

// CanTransition reports whether from→to is an automated edge.
func CanTransition(from, to models.SystemState) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

type TransitionOption func(*models.StateTransition)

func WithOrderID(id string) TransitionOption {
	return func(t *models.StateTransition) { t.OrderID = id }
}

func WithPositionID(id string) TransitionOption {
	return func(t *models.StateTransition) { t.PositionID = id }
}

type StateMachineOption func(*StateMachine)

// WithClock replaces the transition timestamp source.
func WithClock(now func() time.Time) StateMachineOption {
	return func(m *StateMachine) { m.now = now }
}

// WithHaltRetry sets how many times a HALTED record is written before the halt
// is applied in memory only, and the pause between attempts.
func WithHaltRetry(attempts int, delay time.Duration) StateMachineOption {
	return func(m *StateMachine) {
		if attempts > 0 {
			m.haltAttempts = attempts
		}
		m.haltDelay = delay
	}
}

// StateMachine is the six-state lifecycle controller. Every transition is persisted
// before it becomes visible and then announced with exactly one event.
type StateMachine struct {
	mu sync.RWMutex

	symbol          string
	cooldownCandles int

	state      models.SystemState
	orderID    string
	positionID string
	changedAt  time.Time
	last       *models.StateTransition
	ticks      int
	committed  int
	restored   bool

	haltAttempts int
	haltDelay    time.Duration

	store   drepo.StateStore
	pub     drepo.EventPublisher
	metrics drepo.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func NewStateMachine(
	cfg config.Engine,
	store drepo.StateStore,
	pub drepo.EventPublisher,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...StateMachineOption,
) *StateMachine {
	m := &StateMachine{
		symbol:          cfg.Symbol,
		cooldownCandles: cfg.CooldownCandles,
		state:           models.StateBootstrap,
		haltAttempts:    3,
		haltDelay:       100 * time.Millisecond,
		store:           store,
		pub:             pub,
		metrics:         metrics,
		log:             log,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.changedAt = m.now()
	m.metrics.SetState(m.state)
	return m
}

func (m *StateMachine) State() models.SystemState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the in-memory view of the persisted record.
func (m *StateMachine) Snapshot() models.PersistedState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.PersistedState{
		State:      m.state,
		OrderID:    m.orderID,
		PositionID: m.positionID,
		Timestamp:  m.changedAt,
	}
}

// LastTransition returns a copy of the most recent transition, or nil.
func (m *StateMachine) LastTransition() *models.StateTransition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return nil
	}
	t := *m.last
	return &t
}

// TransitionTo moves along an automated edge. Invalid edges are fatal and leave
// the state untouched; so does a failed persist.
func (m *StateMachine) TransitionTo(ctx context.Context, to models.SystemState, reason string, opts ...TransitionOption) error {
	const op = "state.TransitionTo"

	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		m.metrics.RecordError("invalid_transition")
		return errs.Fatal(op, errs.CodeInvalidTransition, fmt.Errorf("%s -> %s", from, to))
	}
	tr, err := m.commitLocked(ctx, to, reason, opts, false)
	m.mu.Unlock()
	if err != nil {
		return errs.Fatal(op, errs.CodePersistFailed, err)
	}

	m.announce(ctx, tr)
	return nil
}

// Halt moves any non-HALTED state to HALTED. The write is retried a bounded
// number of times; if it never succeeds the in-memory state still becomes
// HALTED, the published transition is marked Unpersisted and the persist error
// is returned.
func (m *StateMachine) Halt(ctx context.Context, reason string, opts ...TransitionOption) error {
	const op = "state.Halt"

	m.mu.Lock()
	if m.state == models.StateHalted {
		m.mu.Unlock()
		return nil
	}
	tr, err := m.commitLocked(ctx, models.StateHalted, reason, opts, true)
	m.mu.Unlock()

	m.announce(ctx, tr)
	if err != nil {
		m.log.Error("halt not persisted", logger.Error(err), logger.String("reason", reason))
		return errs.Fatal(op, errs.CodePersistFailed, err)
	}
	return nil
}

// Resume is the operator-only HALTED→BOOTSTRAP edge.
func (m *StateMachine) Resume(ctx context.Context, operator, reason string) error {
	const op = "state.Resume"

	m.mu.Lock()
	if m.state != models.StateHalted {
		from := m.state
		m.mu.Unlock()
		return errs.Recoverable(op, errs.CodeNotHalted, fmt.Errorf("state is %s", from))
	}
	tr, err := m.commitLocked(ctx, models.StateBootstrap, fmt.Sprintf("manual resume by %s: %s", operator, reason), nil, false)
	m.mu.Unlock()
	if err != nil {
		return errs.Fatal(op, errs.CodePersistFailed, err)
	}

	m.log.Warn("halt cleared by operator", logger.String("operator", operator), logger.String("reason", reason))
	m.announce(ctx, tr)
	return nil
}

// Restore seeds a fresh machine from the persisted record without writing or
// publishing anything. It is used once, by recovery.
func (m *StateMachine) Restore(ps models.PersistedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.committed > 0 || m.restored {
		return errs.Fatal("state.Restore", errs.CodeInvalidTransition, fmt.Errorf("machine already started"))
	}
	if !ps.State.Valid() {
		return errs.Fatal("state.Restore", errs.CodeInvalidTransition, fmt.Errorf("unknown state %q", ps.State))
	}
	m.state = ps.State
	m.orderID = ps.OrderID
	m.positionID = ps.PositionID
	m.changedAt = ps.Timestamp
	m.restored = true
	m.metrics.SetState(m.state)
	return nil
}

// Reconcile replaces a restored state that the exchange contradicts. It bypasses
// the graph and is only legal directly after Restore.
func (m *StateMachine) Reconcile(ctx context.Context, to models.SystemState, reason string) error {
	const op = "state.Reconcile"

	m.mu.Lock()
	if !m.restored || m.committed > 0 {
		m.mu.Unlock()
		return errs.Fatal(op, errs.CodeInvalidTransition, fmt.Errorf("reconcile requires a freshly restored machine"))
	}
	tr, err := m.commitLocked(ctx, to, reason, nil, false)
	m.mu.Unlock()
	if err != nil {
		return errs.Fatal(op, errs.CodePersistFailed, err)
	}

	m.announce(ctx, tr)
	return nil
}

// TickCooldown counts one candle in COOLDOWN and returns to SCANNING once the
// configured number of candles has elapsed.
func (m *StateMachine) TickCooldown(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.state != models.StateCooldown {
		m.mu.Unlock()
		return false, nil
	}
	m.ticks++
	done := m.ticks >= m.cooldownCandles
	ticks := m.ticks
	m.mu.Unlock()

	if !done {
		return false, nil
	}
	if err := m.TransitionTo(ctx, models.StateScanning, fmt.Sprintf("cooldown elapsed after %d candles", ticks)); err != nil {
		return false, err
	}
	return true, nil
}

// CooldownTicks returns the candles counted in the current cooldown.
func (m *StateMachine) CooldownTicks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ticks
}

// commitLocked persists the new record and then applies it. With force set the
// write is retried and the state is applied even if every attempt fails.
func (m *StateMachine) commitLocked(ctx context.Context, to models.SystemState, reason string, opts []TransitionOption, force bool) (models.StateTransition, error) {
	tr := models.StateTransition{
		From:      m.state,
		To:        to,
		Reason:    reason,
		Timestamp: m.now(),
	}
	// Ids survive into IN_POSITION and HALTED; every other state starts clean.
	if to == models.StateInPosition || to == models.StateHalted {
		tr.OrderID, tr.PositionID = m.orderID, m.positionID
	}
	for _, opt := range opts {
		opt(&tr)
	}

	err := m.store.SaveState(ctx, to, tr.OrderID, tr.PositionID)
	for attempt := 1; err != nil && force && attempt < m.haltAttempts; attempt++ {
		m.log.Warn("retrying state write", logger.Int("attempt", attempt), logger.Error(err))
		if !wait(ctx, m.haltDelay) {
			break
		}
		err = m.store.SaveState(ctx, to, tr.OrderID, tr.PositionID)
	}
	if err != nil {
		m.metrics.RecordError("persist_state")
		if !force {
			return tr, err
		}
		tr.Unpersisted = true
	}

	m.state = to
	m.orderID, m.positionID = tr.OrderID, tr.PositionID
	m.changedAt = tr.Timestamp
	m.last = &tr
	m.committed++
	if to == models.StateCooldown {
		m.ticks = 0
	}
	m.metrics.RecordTransition(tr.From, tr.To)
	m.metrics.SetState(to)
	return tr, err
}

func (m *StateMachine) announce(ctx context.Context, tr models.StateTransition) {
	m.log.Info("state transition",
		logger.String("from", string(tr.From)),
		logger.String("to", string(tr.To)),
		logger.String("reason", tr.Reason),
		logger.String("order_id", tr.OrderID),
	)
	ev := models.NewEvent(models.EventStateTransition, m.symbol, tr.Timestamp, tr)
	if err := m.pub.Publish(ctx, ev); err != nil {
		m.metrics.RecordError("publish_transition")
		m.log.Error("publish transition", logger.Error(err), logger.String("event_id", ev.ID))
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
