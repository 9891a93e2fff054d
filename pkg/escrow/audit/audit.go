// Package audit implements the append-only, dual-sinked audit log (§4.8):
// synchronous writes to the primary store, one inline best-effort write to
// an external immutability sink per appended event, and a reconciliation
// worker that backfills rows the sink has not yet acknowledged.
package audit

import (
	"context"

	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
)

// Store is the subset of the primary transactional store the audit log
// needs: appending events and listing pending/ordered rows.
type Store interface {
	AppendEvent(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	MarkAcknowledged(ctx context.Context, eventID, externalTxRef string, blockNumber *int64) error
	PendingEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error)
	EventsForTransaction(ctx context.Context, transactionID string) ([]domain.AuditEvent, error)
}

// Sink is the external immutability sink contract (§9 Glossary): accepts
// one event and returns a receipt, or an error if it could not be recorded
// this attempt.
type Sink interface {
	Record(ctx context.Context, event domain.AuditEvent) (externalTxRef string, blockNumber *int64, err error)
}

// Log appends events to Store synchronously and best-effort forwards them
// to Sink. A Sink failure never fails the caller's operation — the event
// is left `Pending` for the reconciliation worker to retry.
type Log struct {
	store Store
	sink  Sink
}

// New builds a Log over the given store and sink.
func New(store Store, sink Sink) *Log {
	return &Log{store: store, sink: sink}
}

// Append persists event to the primary store, then makes one best-effort
// attempt at the sink; a sink failure is swallowed here (not returned) — it
// is the reconciliation worker's job, not the caller's, to retry.
func (l *Log) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	event.Pending = true

	stored, err := l.store.AppendEvent(ctx, event)
	if err != nil {
		return domain.AuditEvent{}, err
	}

	if ref, block, sinkErr := l.sink.Record(ctx, stored); sinkErr == nil {
		if ackErr := l.store.MarkAcknowledged(ctx, stored.ID, ref, block); ackErr == nil {
			stored.ExternalTxRef = ref
			stored.BlockNumber = block
			stored.Pending = false
		}
	}

	return stored, nil
}

// Trail returns every event recorded against transactionID in insertion
// order (`getAuditTrail`, §4.8).
func (l *Log) Trail(ctx context.Context, transactionID string) ([]domain.AuditEvent, error) {
	return l.store.EventsForTransaction(ctx, transactionID)
}
