package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
)

type disputeRow struct {
	ID            string       `db:"id"`
	TransactionID string       `db:"transaction_id"`
	RaisedBy      string       `db:"raised_by"`
	Type          string       `db:"type"`
	Description   string       `db:"description"`
	Evidence      []byte       `db:"evidence"`
	RaisedAt      sql.NullTime `db:"raised_at"`
	Status        string       `db:"status"`
	PreviousState string       `db:"previous_state"`
}

func (r disputeRow) toDomain() (domain.Dispute, error) {
	var evidence []string
	if len(r.Evidence) > 0 {
		if err := json.Unmarshal(r.Evidence, &evidence); err != nil {
			return domain.Dispute{}, errors.Wrap(err, errors.ErrorTypeDatabase, "decode evidence")
		}
	}

	d := domain.Dispute{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		RaisedBy:      r.RaisedBy,
		Type:          r.Type,
		Description:   r.Description,
		Evidence:      evidence,
		Status:        domain.DisputeStatus(r.Status),
		PreviousState: domain.TransactionState(r.PreviousState),
	}
	if r.RaisedAt.Valid {
		d.RaisedAt = r.RaisedAt.Time
	}
	return d, nil
}

// CreateDispute inserts a dispute record.
func (s *Store) CreateDispute(ctx context.Context, d domain.Dispute) error {
	return createDispute(ctx, s.db, d)
}

// CreateDisputeInTx is CreateDispute run against an existing caller-managed
// transaction.
func (s *Store) CreateDisputeInTx(ctx context.Context, dbTx *sqlx.Tx, d domain.Dispute) error {
	return createDispute(ctx, dbTx, d)
}

func createDispute(ctx context.Context, q querier, d domain.Dispute) error {
	evidence, err := json.Marshal(d.Evidence)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "encode evidence")
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO disputes
			(id, transaction_id, raised_by, type, description, evidence, raised_at, status, previous_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.TransactionID, d.RaisedBy, d.Type, d.Description, evidence,
		d.RaisedAt, string(d.Status), string(d.PreviousState))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "insert dispute")
	}
	return nil
}

// UpdateDisputeStatus closes or reopens a dispute.
func (s *Store) UpdateDisputeStatus(ctx context.Context, disputeID string, status domain.DisputeStatus) error {
	return updateDisputeStatus(ctx, s.db, disputeID, status)
}

// UpdateDisputeStatusInTx is UpdateDisputeStatus run against an existing
// caller-managed transaction.
func (s *Store) UpdateDisputeStatusInTx(ctx context.Context, dbTx *sqlx.Tx, disputeID string, status domain.DisputeStatus) error {
	return updateDisputeStatus(ctx, dbTx, disputeID, status)
}

func updateDisputeStatus(ctx context.Context, q querier, disputeID string, status domain.DisputeStatus) error {
	_, err := q.ExecContext(ctx, `UPDATE disputes SET status = $2 WHERE id = $1`, disputeID, string(status))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "update dispute status")
	}
	return nil
}

// DisputesForTransaction returns every dispute raised against
// transactionID, oldest first.
func (s *Store) DisputesForTransaction(ctx context.Context, transactionID string) ([]domain.Dispute, error) {
	var rows []disputeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, transaction_id, raised_by, type, description, evidence, raised_at, status, previous_state
		FROM disputes WHERE transaction_id = $1 ORDER BY raised_at`, transactionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "select disputes")
	}

	disputes := make([]domain.Dispute, 0, len(rows))
	for _, row := range rows {
		d, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, nil
}
