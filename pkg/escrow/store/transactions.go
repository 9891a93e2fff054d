package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/ycagentic/escrow-orchestrator/internal/encryption"
	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

type transactionRow struct {
	ID                 string         `db:"id"`
	BuyerAgentID       string         `db:"buyer_agent_id"`
	SellerAgentID      string         `db:"seller_agent_id"`
	PropertyID         string         `db:"property_id"`
	EarnestMoney       string         `db:"earnest_money"`
	TotalPurchasePrice string         `db:"total_purchase_price"`
	State              string         `db:"state"`
	CustodyID          string         `db:"custody_id"`
	InitiatedAt        sql.NullTime   `db:"initiated_at"`
	TargetClosingDate  sql.NullTime   `db:"target_closing_date"`
	ActualClosingDate  sql.NullTime   `db:"actual_closing_date"`
	Metadata           []byte         `db:"metadata"`
	UpdatedAt          sql.NullTime   `db:"updated_at"`
}

func (r transactionRow) toDomain(cipher *encryption.Cipher) (domain.Transaction, error) {
	earnest, err := money.NewFromString(r.EarnestMoney)
	if err != nil {
		return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeDatabase, "parse earnest_money")
	}
	total, err := money.NewFromString(r.TotalPurchasePrice)
	if err != nil {
		return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeDatabase, "parse total_purchase_price")
	}

	var metadata map[string]interface{}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
			return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeDatabase, "decode metadata")
		}
	}
	if cipher != nil {
		metadata, err = cipher.DecryptMetadata(metadata)
		if err != nil {
			return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeDatabase, "decrypt metadata")
		}
	}

	tx := domain.Transaction{
		ID:                 r.ID,
		BuyerAgentID:       r.BuyerAgentID,
		SellerAgentID:      r.SellerAgentID,
		PropertyID:         r.PropertyID,
		EarnestMoney:       earnest,
		TotalPurchasePrice: total,
		State:              domain.TransactionState(r.State),
		CustodyID:          r.CustodyID,
		Metadata:           metadata,
	}
	if r.InitiatedAt.Valid {
		tx.InitiatedAt = r.InitiatedAt.Time
	}
	if r.TargetClosingDate.Valid {
		tx.TargetClosingDate = r.TargetClosingDate.Time
	}
	if r.UpdatedAt.Valid {
		tx.UpdatedAt = r.UpdatedAt.Time
	}
	if r.ActualClosingDate.Valid {
		t := r.ActualClosingDate.Time
		tx.ActualClosingDate = &t
	}
	return tx, nil
}

// CreateTransaction inserts a new transaction row.
func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) error {
	return createTransaction(ctx, s.db, s.cipher, tx)
}

// CreateTransactionInTx is CreateTransaction run against an existing
// caller-managed transaction.
func (s *Store) CreateTransactionInTx(ctx context.Context, dbTx *sqlx.Tx, tx domain.Transaction) error {
	return createTransaction(ctx, dbTx, s.cipher, tx)
}

func createTransaction(ctx context.Context, q querier, cipher *encryption.Cipher, tx domain.Transaction) error {
	metadataFields := tx.Metadata
	if cipher != nil {
		encrypted, err := cipher.EncryptMetadata(tx.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "encrypt metadata")
		}
		metadataFields = encrypted
	}

	metadata, err := json.Marshal(metadataFields)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "encode metadata")
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO transactions
			(id, buyer_agent_id, seller_agent_id, property_id, earnest_money,
			 total_purchase_price, state, custody_id, initiated_at,
			 target_closing_date, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $9)`,
		tx.ID, tx.BuyerAgentID, tx.SellerAgentID, tx.PropertyID,
		tx.EarnestMoney.String(), tx.TotalPurchasePrice.String(), string(tx.State),
		tx.CustodyID, tx.InitiatedAt, tx.TargetClosingDate, metadata)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "insert transaction")
	}
	return nil
}

// GetTransaction reads a transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return getTransaction(ctx, s.db, s.cipher, id, false)
}

// GetTransactionForUpdate reads a transaction by ID with a row lock, for
// use inside a RunInTx read-modify-write sequence (e.g. a state
// transition).
func (s *Store) GetTransactionForUpdate(ctx context.Context, dbTx *sqlx.Tx, id string) (domain.Transaction, error) {
	return getTransaction(ctx, dbTx, s.cipher, id, true)
}

func getTransaction(ctx context.Context, q querier, cipher *encryption.Cipher, id string, forUpdate bool) (domain.Transaction, error) {
	query := `SELECT id, buyer_agent_id, seller_agent_id, property_id, earnest_money,
		total_purchase_price, state, custody_id, initiated_at, target_closing_date,
		actual_closing_date, metadata, updated_at FROM transactions WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var row transactionRow
	if err := q.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return domain.Transaction{}, errors.NewNotFoundError("transaction " + id)
		}
		return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeDatabase, "select transaction")
	}
	return row.toDomain(cipher)
}

// UpdateTransactionState persists a state-machine transition's outcome.
func (s *Store) UpdateTransactionState(ctx context.Context, dbTx *sqlx.Tx, tx domain.Transaction) error {
	metadataFields := tx.Metadata
	if s.cipher != nil {
		encrypted, err := s.cipher.EncryptMetadata(tx.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "encrypt metadata")
		}
		metadataFields = encrypted
	}

	metadata, err := json.Marshal(metadataFields)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "encode metadata")
	}

	_, err = dbTx.ExecContext(ctx, `
		UPDATE transactions SET state = $2, custody_id = $3, metadata = $4,
			actual_closing_date = $5, updated_at = $6
		WHERE id = $1`,
		tx.ID, string(tx.State), tx.CustodyID, metadata, tx.ActualClosingDate, tx.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "update transaction state")
	}
	return nil
}
