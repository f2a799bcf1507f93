package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"TradeEngine/internal/domain/errs"
	"TradeEngine/internal/domain/models"
	"TradeEngine/internal/repository"
	"TradeEngine/pkg/config"
	"TradeEngine/pkg/logger"
	"TradeEngine/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails every write, or only the first failures writes when set.
type failingStore struct {
	err      error
	failures int
	calls    int
}

func (f *failingStore) SaveState(context.Context, models.SystemState, string, string) error {
	f.calls++
	if f.failures > 0 && f.calls > f.failures {
		return nil
	}
	return f.err
}

func (f *failingStore) LoadState(context.Context) (*models.PersistedState, error) {
	return nil, f.err
}

func newMachine(t *testing.T) (*StateMachine, *repository.MemoryStateStore, *repository.EventRecorder) {
	t.Helper()
	store := repository.NewMemoryStateStore()
	rec := &repository.EventRecorder{}
	m := NewStateMachine(config.DefaultEngine(), store, rec, metrics.Nop{}, logger.Nop())
	return m, store, rec
}

func TestTransitionPersistsThenPublishesOnce(t *testing.T) {
	ctx := context.Background()
	m, store, rec := newMachine(t)

	require.NoError(t, m.TransitionTo(ctx, models.StateScanning, "warmup complete"))
	require.NoError(t, m.TransitionTo(ctx, models.StateEntryPending, "order placed", WithOrderID("ord-1")))

	ps, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateEntryPending, ps.State)
	assert.Equal(t, "ord-1", ps.OrderID)

	events := rec.Events(models.EventStateTransition)
	require.Len(t, events, 2)
	tr := events[1].Payload.(models.StateTransition)
	assert.Equal(t, models.StateScanning, tr.From)
	assert.Equal(t, models.StateEntryPending, tr.To)
	assert.Equal(t, "ord-1", tr.OrderID)
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	ctx := context.Background()

	for _, from := range models.AllStates {
		for _, to := range models.AllStates {
			if CanTransition(from, to) {
				continue
			}
			m, store, rec := newMachine(t)
			require.NoError(t, m.Restore(models.PersistedState{State: from}))

			err := m.TransitionTo(ctx, to, "test")
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errs.IsFatal(err))
			assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
			assert.Equal(t, from, m.State())
			assert.Zero(t, store.Saves())
			assert.Empty(t, rec.Events())
		}
	}
}

func TestHaltedOnlyLeavesThroughResume(t *testing.T) {
	ctx := context.Background()
	m, _, rec := newMachine(t)

	require.NoError(t, m.TransitionTo(ctx, models.StateScanning, "ready"))
	require.NoError(t, m.Halt(ctx, "exchange lost"))
	assert.Equal(t, models.StateHalted, m.State())

	assert.Error(t, m.TransitionTo(ctx, models.StateBootstrap, "auto"))
	assert.Error(t, m.TransitionTo(ctx, models.StateScanning, "auto"))

	require.NoError(t, m.Resume(ctx, "alice", "exchange back"))
	assert.Equal(t, models.StateBootstrap, m.State())
	assert.Contains(t, m.LastTransition().Reason, "alice")
	assert.Len(t, rec.Events(models.EventStateTransition), 3)
}

func TestResumeRequiresHalted(t *testing.T) {
	m, _, _ := newMachine(t)
	err := m.Resume(context.Background(), "bob", "why not")
	assert.Equal(t, errs.CodeNotHalted, errs.CodeOf(err))
	assert.Equal(t, models.StateBootstrap, m.State())
}

func TestFailedPersistLeavesStateUnchanged(t *testing.T) {
	rec := &repository.EventRecorder{}
	m := NewStateMachine(config.DefaultEngine(), &failingStore{err: errors.New("db down")}, rec, metrics.Nop{}, logger.Nop())

	err := m.TransitionTo(context.Background(), models.StateScanning, "ready")
	require.Error(t, err)
	assert.Equal(t, errs.CodePersistFailed, errs.CodeOf(err))
	assert.Equal(t, models.StateBootstrap, m.State())
	assert.Empty(t, rec.Events())
}

func TestHaltFailsClosedWhenPersistFails(t *testing.T) {
	rec := &repository.EventRecorder{}
	store := &failingStore{err: errors.New("db down")}
	m := NewStateMachine(config.DefaultEngine(), store, rec, metrics.Nop{}, logger.Nop(), WithHaltRetry(3, 0))

	err := m.Halt(context.Background(), "fatal")
	require.Error(t, err)
	assert.Equal(t, errs.CodePersistFailed, errs.CodeOf(err))
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, models.StateHalted, m.State())

	events := rec.Events(models.EventStateTransition)
	require.Len(t, events, 1)
	tr, ok := events[0].Payload.(models.StateTransition)
	require.True(t, ok)
	assert.True(t, tr.Unpersisted)

	require.NoError(t, m.Halt(context.Background(), "again"))
	assert.Len(t, rec.Events(models.EventStateTransition), 1)
}

func TestHaltRetriesTransientPersistFailure(t *testing.T) {
	rec := &repository.EventRecorder{}
	store := &failingStore{err: errors.New("db blip"), failures: 2}
	m := NewStateMachine(config.DefaultEngine(), store, rec, metrics.Nop{}, logger.Nop(), WithHaltRetry(3, time.Millisecond))

	require.NoError(t, m.Halt(context.Background(), "fatal"))
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, models.StateHalted, m.State())

	events := rec.Events(models.EventStateTransition)
	require.Len(t, events, 1)
	tr, ok := events[0].Payload.(models.StateTransition)
	require.True(t, ok)
	assert.False(t, tr.Unpersisted)
}

func TestTransitionDoesNotRetryPersist(t *testing.T) {
	store := &failingStore{err: errors.New("db down")}
	m := NewStateMachine(config.DefaultEngine(), store, &repository.EventRecorder{}, metrics.Nop{}, logger.Nop(), WithHaltRetry(3, 0))

	require.Error(t, m.TransitionTo(context.Background(), models.StateScanning, "ready"))
	assert.Equal(t, 1, store.calls)
}

func TestCooldownCountsCandles(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newMachine(t)
	require.NoError(t, m.Restore(models.PersistedState{State: models.StateInPosition, PositionID: "pos-1"}))
	require.NoError(t, m.TransitionTo(ctx, models.StateCooldown, "position closed"))

	for i := 0; i < 3; i++ {
		done, err := m.TickCooldown(ctx)
		require.NoError(t, err)
		assert.False(t, done)
	}
	done, err := m.TickCooldown(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, models.StateScanning, m.State())
	assert.Empty(t, m.Snapshot().PositionID)
}

func TestRestoreAndReconcile(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m, store, rec := newMachine(t)

	require.NoError(t, m.Restore(models.PersistedState{State: models.StateInPosition, PositionID: "pos-9", Timestamp: at}))
	assert.Equal(t, at, m.Snapshot().Timestamp)
	assert.Error(t, m.Restore(models.PersistedState{State: models.StateScanning}))

	require.NoError(t, m.Reconcile(ctx, models.StateScanning, "position closed while offline"))
	assert.Equal(t, models.StateScanning, m.State())
	assert.Equal(t, 1, store.Saves())
	require.Len(t, rec.Events(), 1)

	assert.Error(t, m.Reconcile(ctx, models.StateBootstrap, "twice"))
}
