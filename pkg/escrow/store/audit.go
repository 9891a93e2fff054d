package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
)

type auditEventRow struct {
	ID            string        `db:"id"`
	TransactionID string        `db:"transaction_id"`
	EventType     string        `db:"event_type"`
	Payload       []byte        `db:"payload"`
	ExternalTxRef string        `db:"external_tx_ref"`
	BlockNumber   sql.NullInt64 `db:"block_number"`
	Pending       bool          `db:"pending"`
	Timestamp     sql.NullTime  `db:"timestamp"`
}

func (r auditEventRow) toDomain() (domain.AuditEvent, error) {
	var payload map[string]interface{}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			return domain.AuditEvent{}, errors.Wrap(err, errors.ErrorTypeDatabase, "decode audit payload")
		}
	}

	event := domain.AuditEvent{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		EventType:     domain.EventType(r.EventType),
		Payload:       payload,
		ExternalTxRef: r.ExternalTxRef,
		Pending:       r.Pending,
	}
	if r.BlockNumber.Valid {
		event.BlockNumber = &r.BlockNumber.Int64
	}
	if r.Timestamp.Valid {
		event.Timestamp = r.Timestamp.Time
	}
	return event, nil
}

// AppendEvent satisfies audit.Store: inserts event and returns it with its
// assigned ID. IDs are assigned by the caller (the orchestrator, via
// google/uuid) rather than generated here, so this is a plain insert.
func (s *Store) AppendEvent(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	return appendEvent(ctx, s.db, event)
}

// AppendEventInTx is AppendEvent run against an existing caller-managed
// transaction, so an audit event commits atomically with the domain change
// it describes.
func (s *Store) AppendEventInTx(ctx context.Context, dbTx *sqlx.Tx, event domain.AuditEvent) (domain.AuditEvent, error) {
	return appendEvent(ctx, dbTx, event)
}

func appendEvent(ctx context.Context, q querier, event domain.AuditEvent) (domain.AuditEvent, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return domain.AuditEvent{}, errors.Wrap(err, errors.ErrorTypeDatabase, "encode audit payload")
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_events (id, transaction_id, event_type, payload, pending, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.TransactionID, string(event.EventType), payload, true, event.Timestamp)
	if err != nil {
		return domain.AuditEvent{}, errors.Wrap(err, errors.ErrorTypeDatabase, "insert audit event")
	}

	event.Pending = true
	return event, nil
}

// MarkAcknowledged satisfies audit.Store: records the immutability sink's
// receipt and clears the pending flag.
func (s *Store) MarkAcknowledged(ctx context.Context, eventID, externalTxRef string, blockNumber *int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audit_events SET external_tx_ref = $2, block_number = $3, pending = false
		WHERE id = $1`, eventID, externalTxRef, blockNumber)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "mark audit event acknowledged")
	}
	return nil
}

// PendingEvents satisfies audit.Store: lists rows still awaiting sink
// acknowledgement, oldest first, for the reconciliation worker.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	var rows []auditEventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, transaction_id, event_type, payload, external_tx_ref, block_number, pending, timestamp
		FROM audit_events WHERE pending ORDER BY timestamp LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "select pending audit events")
	}
	return toAuditEvents(rows)
}

// EventsForTransaction satisfies audit.Store: returns every event for
// transactionID in insertion order (`getAuditTrail`, §4.8).
func (s *Store) EventsForTransaction(ctx context.Context, transactionID string) ([]domain.AuditEvent, error) {
	var rows []auditEventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, transaction_id, event_type, payload, external_tx_ref, block_number, pending, timestamp
		FROM audit_events WHERE transaction_id = $1 ORDER BY timestamp`, transactionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "select audit trail")
	}
	return toAuditEvents(rows)
}

func toAuditEvents(rows []auditEventRow) ([]domain.AuditEvent, error) {
	events := make([]domain.AuditEvent, 0, len(rows))
	for _, row := range rows {
		event, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
