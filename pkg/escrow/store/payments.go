package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

type paymentRow struct {
	ID            string       `db:"id"`
	TransactionID string       `db:"transaction_id"`
	CustodyID     string       `db:"custody_id"`
	Type          string       `db:"type"`
	RecipientID   string       `db:"recipient_id"`
	Amount        string       `db:"amount"`
	Status        string       `db:"status"`
	ExternalTxRef string       `db:"external_tx_ref"`
	InitiatedAt   sql.NullTime `db:"initiated_at"`
	CompletedAt   sql.NullTime `db:"completed_at"`
}

func (r paymentRow) toDomain() (domain.Payment, error) {
	amount, err := money.NewFromString(r.Amount)
	if err != nil {
		return domain.Payment{}, errors.Wrap(err, errors.ErrorTypeDatabase, "parse payment amount")
	}

	p := domain.Payment{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		CustodyID:     r.CustodyID,
		Type:          domain.PaymentType(r.Type),
		RecipientID:   r.RecipientID,
		Amount:        amount,
		Status:        domain.PaymentStatus(r.Status),
		ExternalTxRef: r.ExternalTxRef,
	}
	if r.InitiatedAt.Valid {
		p.InitiatedAt = r.InitiatedAt.Time
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		p.CompletedAt = &t
	}
	return p, nil
}

// CreatePayment inserts a payment record.
func (s *Store) CreatePayment(ctx context.Context, p domain.Payment) error {
	return createPayment(ctx, s.db, p)
}

// CreatePaymentInTx is CreatePayment run against an existing caller-managed
// transaction.
func (s *Store) CreatePaymentInTx(ctx context.Context, dbTx *sqlx.Tx, p domain.Payment) error {
	return createPayment(ctx, dbTx, p)
}

func createPayment(ctx context.Context, q querier, p domain.Payment) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO payments
			(id, transaction_id, custody_id, type, recipient_id, amount, status,
			 external_tx_ref, initiated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.TransactionID, p.CustodyID, string(p.Type), p.RecipientID,
		p.Amount.String(), string(p.Status), p.ExternalTxRef, p.InitiatedAt, p.CompletedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "insert payment")
	}
	return nil
}

// UpdatePaymentStatus updates a payment's terminal status and reference.
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID string, status domain.PaymentStatus, externalTxRef string) error {
	return updatePaymentStatus(ctx, s.db, paymentID, status, externalTxRef)
}

// UpdatePaymentStatusInTx is UpdatePaymentStatus run against an existing
// caller-managed transaction.
func (s *Store) UpdatePaymentStatusInTx(ctx context.Context, dbTx *sqlx.Tx, paymentID string, status domain.PaymentStatus, externalTxRef string) error {
	return updatePaymentStatus(ctx, dbTx, paymentID, status, externalTxRef)
}

func updatePaymentStatus(ctx context.Context, q querier, paymentID string, status domain.PaymentStatus, externalTxRef string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE payments SET status = $2, external_tx_ref = $3, completed_at = now()
		WHERE id = $1`, paymentID, string(status), externalTxRef)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "update payment status")
	}
	return nil
}

// PaymentsForTransaction returns every payment recorded against
// transactionID, most recent first.
func (s *Store) PaymentsForTransaction(ctx context.Context, transactionID string) ([]domain.Payment, error) {
	var rows []paymentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, transaction_id, custody_id, type, recipient_id, amount, status,
			external_tx_ref, initiated_at, completed_at
		FROM payments WHERE transaction_id = $1 ORDER BY initiated_at DESC`, transactionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "select payments")
	}

	payments := make([]domain.Payment, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, nil
}
