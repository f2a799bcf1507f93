package usecase

import (
	"context"
	"errors"
	"fmt"

	"TradeEngine/internal/domain/errs"
	"TradeEngine/internal/domain/models"
	drepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/config"
	"TradeEngine/pkg/logger"
)

// StatusManualIntervention is reported whenever recovery finds a persisted halt.
const StatusManualIntervention = "manual intervention required"

// RecoveryService reconciles the persisted lifecycle record with the exchange at
// startup. It reads the record exactly once.
type RecoveryService struct {
	symbol   string
	store    drepo.StateStore
	exchange drepo.Exchange
	machine  *StateMachine
	pub      drepo.EventPublisher
	metrics  drepo.Metrics
	log      *logger.Logger
}

func NewRecoveryService(
	cfg config.Engine,
	store drepo.StateStore,
	exchange drepo.Exchange,
	machine *StateMachine,
	pub drepo.EventPublisher,
	metrics drepo.Metrics,
	log *logger.Logger,
) *RecoveryService {
	return &RecoveryService{
		symbol:   cfg.Symbol,
		store:    store,
		exchange: exchange,
		machine:  machine,
		pub:      pub,
		metrics:  metrics,
		log:      log,
	}
}

// Recover decides the starting state. A non-nil error is always fatal and the
// machine is already HALTED when it is returned.
func (r *RecoveryService) Recover(ctx context.Context) (models.RecoveryResult, error) {
	res, err := r.recover(ctx)
	r.report(ctx, res)
	return res, err
}

func (r *RecoveryService) recover(ctx context.Context) (models.RecoveryResult, error) {
	const op = "recovery.Recover"

	ps, err := r.store.LoadState(ctx)
	if errors.Is(err, drepo.ErrNotFound) {
		return models.RecoveryResult{Action: models.RecoveryNoAction, State: models.StateBootstrap, Reason: "no persisted state"}, nil
	}
	if err != nil {
		reason := "persisted state unreadable"
		_ = r.machine.Halt(ctx, reason)
		return models.RecoveryResult{Action: models.RecoveryBlocked, State: models.StateHalted, Reason: reason},
			errs.Fatal(op, errs.CodeVerificationFailed, fmt.Errorf("load state: %w", err))
	}

	res := models.RecoveryResult{Persisted: ps}
	switch ps.State {
	case models.StateHalted:
		if err := r.machine.Restore(*ps); err != nil {
			return res, err
		}
		res.Action, res.State, res.Reason = models.RecoveryBlocked, models.StateHalted, StatusManualIntervention
		return res, nil

	case models.StateInPosition:
		if err := r.machine.Restore(*ps); err != nil {
			return res, err
		}
		pos, err := r.exchange.GetPosition(ctx, r.symbol)
		if err != nil {
			reason := fmt.Sprintf("position verification failed: %v", err)
			if herr := r.machine.Halt(ctx, reason); herr != nil {
				r.log.Error("recovery halt not persisted", logger.Error(herr))
			}
			res.Action, res.State, res.Reason = models.RecoveryBlocked, models.StateHalted, reason
			return res, errs.Fatal(op, errs.CodeVerificationFailed, err)
		}
		if pos == nil {
			if err := r.machine.Reconcile(ctx, models.StateScanning, "position closed while offline"); err != nil {
				_ = r.machine.Halt(ctx, "reconcile failed")
				res.Action, res.State, res.Reason = models.RecoveryBlocked, models.StateHalted, err.Error()
				return res, err
			}
			res.Action, res.State, res.Reason = models.RecoveryReset, models.StateScanning, "position closed while offline"
			return res, nil
		}
		res.Action, res.State, res.SkipWarmup = models.RecoveryRestored, models.StateInPosition, true
		res.Reason = fmt.Sprintf("position %s confirmed by %s exchange", pos.ID, r.exchange.GetExchangeType())
		return res, nil

	default:
		if ps.OrderID != "" {
			r.lookupOrder(ctx, ps.OrderID)
		}
		res.Action, res.State = models.RecoveryNoAction, models.StateBootstrap
		res.Reason = fmt.Sprintf("persisted %s treated as hint", ps.State)
		return res, nil
	}
}

// lookupOrder is best effort; the result only goes to the log.
func (r *RecoveryService) lookupOrder(ctx context.Context, orderID string) {
	st, err := r.exchange.GetOrderStatus(ctx, r.symbol, orderID)
	if err != nil {
		r.log.Warn("recovery order lookup failed", logger.String("order_id", orderID), logger.Error(err))
		return
	}
	if st == nil {
		return
	}
	r.log.Info("recovery order hint",
		logger.String("order_id", orderID),
		logger.String("order_state", string(st.State)),
		logger.Float64("filled_qty", st.FilledQty),
	)
}

func (r *RecoveryService) report(ctx context.Context, res models.RecoveryResult) {
	fields := []logger.Field{
		logger.String("action", string(res.Action)),
		logger.String("state", string(res.State)),
		logger.String("reason", res.Reason),
		logger.Bool("skip_warmup", res.SkipWarmup),
	}
	if res.Action == models.RecoveryBlocked {
		r.log.Warn("recovery", fields...)
	} else {
		r.log.Info("recovery", fields...)
	}

	ev := models.NewEvent(models.EventRecovery, r.symbol, r.machine.Snapshot().Timestamp, res)
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.metrics.RecordError("publish_recovery")
		r.log.Error("publish recovery", logger.Error(err))
	}
}
