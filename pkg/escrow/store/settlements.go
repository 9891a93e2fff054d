package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

type settlementRow struct {
	ID                    string       `db:"id"`
	TransactionID         string       `db:"transaction_id"`
	TotalAmount           string       `db:"total_amount"`
	SellerAmount          string       `db:"seller_amount"`
	BuyerAgentCommission  string       `db:"buyer_agent_commission"`
	SellerAgentCommission string       `db:"seller_agent_commission"`
	ClosingCosts          string       `db:"closing_costs"`
	Distributions         []byte       `db:"distributions"`
	ExternalTxRef         string       `db:"external_tx_ref"`
	ExecutedAt            sql.NullTime `db:"executed_at"`
}

func (r settlementRow) toDomain() (domain.Settlement, error) {
	amounts := make([]string, 5)
	amounts[0], amounts[1], amounts[2], amounts[3], amounts[4] =
		r.TotalAmount, r.SellerAmount, r.BuyerAgentCommission, r.SellerAgentCommission, r.ClosingCosts

	parsed := make([]money.Amount, len(amounts))
	for i, a := range amounts {
		amt, err := money.NewFromString(a)
		if err != nil {
			return domain.Settlement{}, errors.Wrap(err, errors.ErrorTypeDatabase, "parse settlement amount")
		}
		parsed[i] = amt
	}

	var distributions []domain.Distribution
	if len(r.Distributions) > 0 {
		if err := json.Unmarshal(r.Distributions, &distributions); err != nil {
			return domain.Settlement{}, errors.Wrap(err, errors.ErrorTypeDatabase, "decode distributions")
		}
	}

	s := domain.Settlement{
		ID:                    r.ID,
		TransactionID:         r.TransactionID,
		TotalAmount:           parsed[0],
		SellerAmount:          parsed[1],
		BuyerAgentCommission:  parsed[2],
		SellerAgentCommission: parsed[3],
		ClosingCosts:          parsed[4],
		Distributions:         distributions,
		ExternalTxRef:         r.ExternalTxRef,
	}
	if r.ExecutedAt.Valid {
		s.ExecutedAt = r.ExecutedAt.Time
	}
	return s, nil
}

// CreateSettlement inserts the settlement record produced by executing a
// transaction's final distribution. A transaction may have at most one
// settlement (enforced by the unique index on transaction_id).
func (s *Store) CreateSettlement(ctx context.Context, settlement domain.Settlement) error {
	return createSettlement(ctx, s.db, settlement)
}

// CreateSettlementInTx is CreateSettlement run against an existing
// caller-managed transaction.
func (s *Store) CreateSettlementInTx(ctx context.Context, dbTx *sqlx.Tx, settlement domain.Settlement) error {
	return createSettlement(ctx, dbTx, settlement)
}

func createSettlement(ctx context.Context, q querier, settlement domain.Settlement) error {
	distributions, err := json.Marshal(settlement.Distributions)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "encode distributions")
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO settlements
			(id, transaction_id, total_amount, seller_amount, buyer_agent_commission,
			 seller_agent_commission, closing_costs, distributions, external_tx_ref, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		settlement.ID, settlement.TransactionID, settlement.TotalAmount.String(),
		settlement.SellerAmount.String(), settlement.BuyerAgentCommission.String(),
		settlement.SellerAgentCommission.String(), settlement.ClosingCosts.String(),
		distributions, settlement.ExternalTxRef, settlement.ExecutedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "insert settlement")
	}
	return nil
}

// GetSettlement reads the settlement for transactionID, if any.
func (s *Store) GetSettlement(ctx context.Context, transactionID string) (domain.Settlement, error) {
	var row settlementRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, transaction_id, total_amount, seller_amount, buyer_agent_commission,
			seller_agent_commission, closing_costs, distributions, external_tx_ref, executed_at
		FROM settlements WHERE transaction_id = $1`, transactionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Settlement{}, errors.NewNotFoundError("settlement for transaction " + transactionID)
		}
		return domain.Settlement{}, errors.Wrap(err, errors.ErrorTypeDatabase, "select settlement")
	}
	return row.toDomain()
}
