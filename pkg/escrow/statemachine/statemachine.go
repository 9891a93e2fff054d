// Package statemachine enforces the transaction lifecycle transitions,
// guards, and state-change event emission described in §4.1. It operates on
// a domain.Transaction by value-mutation; callers (the orchestrator) are
// responsible for persisting the mutation. The orchestrator discards the
// returned state_changed event and records its own operation-level audit
// events instead, so state_changed events are not written to the audit log.
package statemachine

import (
	"time"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
)

var validTransitions = map[domain.TransactionState][]domain.TransactionState{
	domain.StateInitiated: {
		domain.StateFunded,
		domain.StateCancelled,
	},
	domain.StateFunded: {
		domain.StateVerificationInProgress,
		domain.StateCancelled,
		domain.StateDisputed,
	},
	domain.StateVerificationInProgress: {
		domain.StateVerificationComplete,
		domain.StateCancelled,
		domain.StateDisputed,
	},
	domain.StateVerificationComplete: {
		domain.StateSettlementPending,
		domain.StateDisputed,
	},
	domain.StateSettlementPending: {
		domain.StateSettled,
		domain.StateDisputed,
	},
	domain.StateDisputed: {
		domain.StateVerificationInProgress,
		domain.StateSettlementPending,
		domain.StateCancelled,
	},
	domain.StateSettled:   {},
	domain.StateCancelled: {},
}

// TransitionContext carries the facts a guard needs that are not already on
// the Transaction itself — whatever the caller has established by querying
// the store before attempting the transition.
type TransitionContext struct {
	EarnestMoneyDeposited    bool
	AllVerificationsComplete bool
	AllVerificationsApproved bool
	SettlementExecuted       bool
}

// ValidTargets returns the states reachable from the transaction's current
// state (the read-only lookup named in §4.1).
func ValidTargets(state domain.TransactionState) []domain.TransactionState {
	return append([]domain.TransactionState(nil), validTransitions[state]...)
}

// CanTransitionTo reports whether target appears in the transition table for
// the current state, ignoring guards.
func CanTransitionTo(current, target domain.TransactionState) bool {
	for _, s := range validTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

func guardHolds(tx *domain.Transaction, target domain.TransactionState, ctx TransitionContext) bool {
	switch target {
	case domain.StateFunded:
		return ctx.EarnestMoneyDeposited
	case domain.StateVerificationInProgress:
		return tx.CustodyID != ""
	case domain.StateVerificationComplete:
		return ctx.AllVerificationsComplete
	case domain.StateSettlementPending:
		return ctx.AllVerificationsApproved
	case domain.StateSettled:
		return ctx.SettlementExecuted
	case domain.StateDisputed:
		return !tx.State.IsTerminal()
	default:
		return true
	}
}

// Transition validates and applies a state change to tx, returning a
// state_changed audit event describing the change; it does not persist
// the event itself. It fails
// with ErrorTypeConflict (InvalidTransition) if target is not reachable from
// the current state, or (GuardFailed) if the guard for target does not hold.
func Transition(tx *domain.Transaction, target domain.TransactionState, ctx TransitionContext, now time.Time) (domain.AuditEvent, error) {
	current := tx.State

	if !CanTransitionTo(current, target) {
		return domain.AuditEvent{}, errors.NewConflictError(
			"invalid transition from " + string(current) + " to " + string(target))
	}

	if !guardHolds(tx, target, ctx) {
		return domain.AuditEvent{}, errors.NewConflictError(
			"guard failed for transition " + string(current) + " -> " + string(target))
	}

	payload := map[string]interface{}{
		"old_state": string(current),
		"new_state": string(target),
	}
	if target == domain.StateDisputed {
		payload["previous_state"] = string(current)
	}

	tx.State = target
	tx.UpdatedAt = now

	return domain.AuditEvent{
		TransactionID: tx.ID,
		EventType:     domain.EventStateChanged,
		Payload:       payload,
		Timestamp:     now,
	}, nil
}

// IsTerminalState reports whether state permits no further transitions.
func IsTerminalState(state domain.TransactionState) bool {
	return state.IsTerminal()
}
