package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/custody"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/statemachine"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

// SettlementPreview is the pure computation returned by PreviewSettlement,
// shared with ExecuteSettlement so a caller can preview the exact amounts
// an execution will apply (§4.6).
type SettlementPreview struct {
	TotalAmount           money.Amount
	BuyerAgentCommission  money.Amount
	SellerAgentCommission money.Amount
	ClosingCosts          money.Amount
	SellerAmount          money.Amount
	Distributions         []domain.Distribution
}

// PreviewSettlement computes the settlement split without touching custody
// or the transaction's state — callers use it to show agents the numbers
// before committing to ExecuteSettlement.
func (o *Orchestrator) PreviewSettlement(ctx context.Context, in SettlementInput) (SettlementPreview, error) {
	if err := o.validate.Struct(in); err != nil {
		return SettlementPreview{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid settlement input")
	}
	if err := o.validateTransactionID(in.TransactionID); err != nil {
		return SettlementPreview{}, err
	}

	tx, err := o.store.GetTransaction(ctx, in.TransactionID)
	if err != nil {
		return SettlementPreview{}, err
	}
	tasks, err := o.store.TasksForTransaction(ctx, in.TransactionID)
	if err != nil {
		return SettlementPreview{}, err
	}

	return o.computeSettlement(tx, tasks, in)
}

func (o *Orchestrator) computeSettlement(tx domain.Transaction, tasks []domain.VerificationTask, in SettlementInput) (SettlementPreview, error) {
	price := tx.TotalPurchasePrice

	buyerCommission := price.MulRate(in.BuyerAgentRate)
	sellerCommission := price.MulRate(in.SellerAgentRate)

	closingCosts := o.closingCostFormula(tasks, price)
	if in.ClosingCosts != nil {
		closingCosts = *in.ClosingCosts
	}

	sellerAmount := price.Sub(buyerCommission).Sub(sellerCommission).Sub(closingCosts)
	if sellerAmount.IsNegative() {
		return SettlementPreview{}, errors.NewArithmeticError("seller amount would be negative: commissions and closing costs exceed purchase price")
	}

	distributions := make([]domain.Distribution, 0, len(in.AdditionalDistributions)+3)
	distributions = append(distributions,
		domain.Distribution{Recipient: tx.BuyerAgentID, Amount: buyerCommission, Description: "buyer agent commission"},
		domain.Distribution{Recipient: tx.SellerAgentID, Amount: sellerCommission, Description: "seller agent commission"},
		domain.Distribution{Recipient: "seller", Amount: sellerAmount, Description: "net seller proceeds"},
	)
	distributions = append(distributions, in.AdditionalDistributions...)

	return SettlementPreview{
		TotalAmount:           price,
		BuyerAgentCommission:  buyerCommission,
		SellerAgentCommission: sellerCommission,
		ClosingCosts:          closingCosts,
		SellerAmount:          sellerAmount,
		Distributions:         distributions,
	}, nil
}

// ExecuteSettlement validates the transaction is at SETTLEMENT_PENDING with
// every verification report approved, distributes the wallet balance via
// custody, and transitions the transaction to SETTLED.
func (o *Orchestrator) ExecuteSettlement(ctx context.Context, in SettlementInput) (domain.Transaction, error) {
	if err := o.validate.Struct(in); err != nil {
		return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid settlement input")
	}
	if err := o.validateTransactionID(in.TransactionID); err != nil {
		return domain.Transaction{}, err
	}

	tx, err := o.store.GetTransaction(ctx, in.TransactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.State != domain.StateSettlementPending {
		return domain.Transaction{}, errors.New(errors.ErrorTypeConflict, "transaction is not at SETTLEMENT_PENDING")
	}

	hadOverride, err := applySettlementOverride(tx.Metadata, &in)
	if err != nil {
		return domain.Transaction{}, err
	}

	tasks, err := o.store.TasksForTransaction(ctx, in.TransactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := o.requireAllApproved(ctx, tasks); err != nil {
		return domain.Transaction{}, err
	}

	preview, err := o.computeSettlement(tx, tasks, in)
	if err != nil {
		return domain.Transaction{}, err
	}

	custodyDistributions := make([]custody.Distribution, 0, len(preview.Distributions))
	for _, d := range preview.Distributions {
		custodyDistributions = append(custodyDistributions, custody.Distribution{
			Recipient: d.Recipient, Amount: d.Amount, Description: d.Description,
		})
	}

	now := o.clock()
	settlement := domain.Settlement{
		ID:                    uuid.NewString(),
		TransactionID:         tx.ID,
		TotalAmount:           preview.TotalAmount,
		SellerAmount:          preview.SellerAmount,
		BuyerAgentCommission:  preview.BuyerAgentCommission,
		SellerAgentCommission: preview.SellerAgentCommission,
		ClosingCosts:          preview.ClosingCosts,
		Distributions:         preview.Distributions,
		ExecutedAt:            now,
	}

	var result custody.SettlementResult
	err = o.store.RunInTx(ctx, func(dbTx *sqlx.Tx) error {
		current, err := o.store.GetTransactionForUpdate(ctx, dbTx, tx.ID)
		if err != nil {
			return err
		}

		if breakerErr := o.breakers.Execute(ctx, "custody", func(ctx context.Context) error {
			var err error
			result, err = o.custody.ExecuteFinalSettlement(ctx, "settle:"+tx.ID, current.CustodyID, custodyDistributions)
			return err
		}); breakerErr != nil {
			return errors.Wrap(breakerErr, errors.ErrorTypeCustody, "execute final settlement")
		}
		settlement.ExternalTxRef = result.ExternalTxRef

		if err := o.store.CreateSettlementInTx(ctx, dbTx, settlement); err != nil {
			return err
		}

		if _, err := statemachine.Transition(&current, domain.StateSettled, statemachine.TransitionContext{SettlementExecuted: true}, now); err != nil {
			return err
		}
		current.ActualClosingDate = &now
		if hadOverride {
			delete(current.Metadata, settlementOverrideMetadataKey)
		}
		tx = current
		return o.store.UpdateTransactionState(ctx, dbTx, current)
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	o.appendEvent(ctx, tx.ID, domain.EventSettlementExecuted, map[string]interface{}{
		"settlement_id": settlement.ID, "seller_amount": settlement.SellerAmount.String(),
		"total_amount": settlement.TotalAmount.String(),
	})
	o.invalidateCache(ctx, tx.ID)

	return tx, nil
}

// applySettlementOverride fills in rate/closing-cost fields the caller left
// unset with the override a prior adjust_settlement dispute resolution
// recorded on the transaction (§4.7). It reports whether an override was
// present so the caller can clear it after a successful settlement.
func applySettlementOverride(metadata map[string]interface{}, in *SettlementInput) (bool, error) {
	raw, ok := metadata[settlementOverrideMetadataKey]
	if !ok {
		return false, nil
	}
	override, ok := raw.(map[string]interface{})
	if !ok {
		return false, nil
	}

	if v, ok := override["buyer_agent_rate"].(string); ok && in.BuyerAgentRate.IsZero() {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return false, errors.Wrap(err, errors.ErrorTypeDatabase, "parse stored buyer_agent_rate override")
		}
		in.BuyerAgentRate = rate
	}
	if v, ok := override["seller_agent_rate"].(string); ok && in.SellerAgentRate.IsZero() {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return false, errors.Wrap(err, errors.ErrorTypeDatabase, "parse stored seller_agent_rate override")
		}
		in.SellerAgentRate = rate
	}
	if v, ok := override["closing_costs"].(string); ok && in.ClosingCosts == nil {
		amount, err := money.NewFromString(v)
		if err != nil {
			return false, errors.Wrap(err, errors.ErrorTypeDatabase, "parse stored closing_costs override")
		}
		in.ClosingCosts = &amount
	}
	return true, nil
}

// requireAllApproved fails unless every task is COMPLETED with an APPROVED
// report, the precondition for leaving SETTLEMENT_PENDING (§4.6).
func (o *Orchestrator) requireAllApproved(ctx context.Context, tasks []domain.VerificationTask) error {
	for _, t := range tasks {
		if t.Status != domain.TaskCompleted {
			return errors.New(errors.ErrorTypeConflict, "task "+string(t.Type)+" is not complete")
		}
		report, err := o.store.GetReport(ctx, t.ReportID)
		if err != nil {
			return err
		}
		if report.Status != domain.ReportApproved {
			return errors.New(errors.ErrorTypeConflict, "task "+string(t.Type)+" report is not approved")
		}
	}
	return nil
}
