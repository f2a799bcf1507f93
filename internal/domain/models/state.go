package models

import (
	"fmt"
	"time"
)

// SystemState is the lifecycle state of the engine.
type SystemState string

const (
	StateBootstrap    SystemState = "BOOTSTRAP"
	StateScanning     SystemState = "SCANNING"
	StateEntryPending SystemState = "ENTRY_PENDING"
	StateInPosition   SystemState = "IN_POSITION"
	StateCooldown     SystemState = "COOLDOWN"
	StateHalted       SystemState = "HALTED"
)

// AllStates lists every state in lifecycle order.
var AllStates = []SystemState{
	StateBootstrap,
	StateScanning,
	StateEntryPending,
	StateInPosition,
	StateCooldown,
	StateHalted,
}

// Valid reports whether s is one of the six states.
func (s SystemState) Valid() bool {
	for _, v := range AllStates {
		if v == s {
			return true
		}
	}
	return false
}

// ParseSystemState converts a raw string to a SystemState.
func ParseSystemState(raw string) (SystemState, error) {
	s := SystemState(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown system state %q", raw)
	}
	return s, nil
}

// StateTransition records one edge taken by the state machine.
type StateTransition struct {
	From       SystemState `json:"from"`
	To         SystemState `json:"to"`
	Reason     string      `json:"reason"`
	Timestamp  time.Time   `json:"timestamp"`
	OrderID    string      `json:"order_id,omitempty"`
	PositionID string      `json:"position_id,omitempty"`

	// Unpersisted marks a halt applied in memory after every write attempt failed.
	Unpersisted bool `json:"unpersisted,omitempty"`
}

// PersistedState is the durable recovery record.
type PersistedState struct {
	State      SystemState `json:"state"`
	OrderID    string      `json:"order_id,omitempty"`
	PositionID string      `json:"position_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// RecoveryAction names what recovery did at startup.
type RecoveryAction string

const (
	RecoveryRestored RecoveryAction = "restored"
	RecoveryReset    RecoveryAction = "reset"
	RecoveryBlocked  RecoveryAction = "blocked"
	RecoveryNoAction RecoveryAction = "no_action"
)

// RecoveryResult is the outcome of startup reconciliation.
type RecoveryResult struct {
	Action     RecoveryAction  `json:"action"`
	State      SystemState     `json:"state"`
	SkipWarmup bool            `json:"skip_warmup"`
	Reason     string          `json:"reason"`
	Persisted  *PersistedState `json:"persisted,omitempty"`
}
