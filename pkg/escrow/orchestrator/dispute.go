package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/statemachine"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

// settlementOverrideMetadataKey holds a resolution's replaced settlement
// parameters in the transaction's metadata until the next ExecuteSettlement
// call consumes and clears them (§4.7: adjust_settlement "replaces
// settlement parameters and returns to SETTLEMENT_PENDING").
const settlementOverrideMetadataKey = "_settlement_override"

// settlementOverrideFromDetails reads buyer_agent_rate/seller_agent_rate/
// closing_costs overrides out of a resolve-dispute Details payload, storing
// them as strings so the map round-trips through JSON metadata unchanged.
func settlementOverrideFromDetails(details map[string]interface{}) (map[string]interface{}, error) {
	override := make(map[string]interface{})

	if v, ok := details["buyer_agent_rate"]; ok {
		rate, err := decimal.NewFromString(fmt.Sprintf("%v", v))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid buyer_agent_rate override")
		}
		override["buyer_agent_rate"] = rate.String()
	}
	if v, ok := details["seller_agent_rate"]; ok {
		rate, err := decimal.NewFromString(fmt.Sprintf("%v", v))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid seller_agent_rate override")
		}
		override["seller_agent_rate"] = rate.String()
	}
	if v, ok := details["closing_costs"]; ok {
		amount, err := money.NewFromString(fmt.Sprintf("%v", v))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid closing_costs override")
		}
		override["closing_costs"] = amount.String()
	}
	return override, nil
}

// Cancel transitions the transaction to CANCELLED, cancels every task still
// ASSIGNED or IN_PROGRESS, and records whether earnest money is to be
// refunded — the refund itself is carried out by whatever settles the wallet
// out-of-band; this operation only records the decision (§4.7).
func (o *Orchestrator) Cancel(ctx context.Context, in CancelInput) (domain.Transaction, error) {
	if err := o.validate.Struct(in); err != nil {
		return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid cancel input")
	}
	if err := o.validateTransactionID(in.TransactionID); err != nil {
		return domain.Transaction{}, err
	}
	if err := o.validateFreeText("reason", in.Reason, 500); err != nil {
		return domain.Transaction{}, err
	}

	tasks, err := o.store.TasksForTransaction(ctx, in.TransactionID)
	if err != nil {
		return domain.Transaction{}, err
	}

	var tx domain.Transaction
	err = o.store.RunInTx(ctx, func(dbTx *sqlx.Tx) error {
		current, err := o.store.GetTransactionForUpdate(ctx, dbTx, in.TransactionID)
		if err != nil {
			return err
		}

		if _, err := statemachine.Transition(&current, domain.StateCancelled, statemachine.TransitionContext{}, o.clock()); err != nil {
			return err
		}

		for _, t := range tasks {
			if t.Status != domain.TaskAssigned && t.Status != domain.TaskInProgress {
				continue
			}
			if err := o.store.UpdateTaskStatusInTx(ctx, dbTx, t.ID, domain.TaskCancelled, t.ReportID, t.CompletedAt); err != nil {
				return err
			}
		}

		tx = current
		return o.store.UpdateTransactionState(ctx, dbTx, current)
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	o.appendEvent(ctx, tx.ID, domain.EventTransactionCancelled, map[string]interface{}{
		"reason": in.Reason, "refund_earnest_money": in.Refund,
	})
	o.invalidateCache(ctx, tx.ID)

	return tx, nil
}

// RaiseDispute transitions the transaction to DISPUTED, records the
// previous state so a later resolution can restore it, and returns the
// resolution kinds available given the dispute's type and previous state.
func (o *Orchestrator) RaiseDispute(ctx context.Context, in RaiseDisputeInput) (domain.Dispute, []domain.ResolutionKind, error) {
	if err := o.validate.Struct(in); err != nil {
		return domain.Dispute{}, nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid raise-dispute input")
	}
	if err := o.validateTransactionID(in.TransactionID); err != nil {
		return domain.Dispute{}, nil, err
	}
	if err := o.validateFreeText("raised_by", in.RaisedBy, 128); err != nil {
		return domain.Dispute{}, nil, err
	}
	if err := o.validateFreeText("type", in.Type, 64); err != nil {
		return domain.Dispute{}, nil, err
	}
	if err := o.validateFreeText("description", in.Description, 2000); err != nil {
		return domain.Dispute{}, nil, err
	}

	var dispute domain.Dispute
	var tx domain.Transaction
	now := o.clock()

	err := o.store.RunInTx(ctx, func(dbTx *sqlx.Tx) error {
		current, err := o.store.GetTransactionForUpdate(ctx, dbTx, in.TransactionID)
		if err != nil {
			return err
		}
		if current.State.IsTerminal() {
			return errors.New(errors.ErrorTypeConflict, "cannot raise a dispute against a terminal transaction")
		}
		previousState := current.State

		if _, err := statemachine.Transition(&current, domain.StateDisputed, statemachine.TransitionContext{}, now); err != nil {
			return err
		}

		dispute = domain.Dispute{
			ID:            uuid.NewString(),
			TransactionID: in.TransactionID,
			RaisedBy:      in.RaisedBy,
			Type:          in.Type,
			Description:   in.Description,
			Evidence:      in.Evidence,
			RaisedAt:      now,
			Status:        domain.DisputeOpen,
			PreviousState: previousState,
		}
		if err := o.store.CreateDisputeInTx(ctx, dbTx, dispute); err != nil {
			return err
		}

		tx = current
		return o.store.UpdateTransactionState(ctx, dbTx, current)
	})
	if err != nil {
		return domain.Dispute{}, nil, err
	}

	o.appendEvent(ctx, tx.ID, domain.EventDisputeRaised, map[string]interface{}{
		"dispute_id": dispute.ID, "type": dispute.Type, "previous_state": string(dispute.PreviousState),
	})
	o.invalidateCache(ctx, tx.ID)

	return dispute, resolutionOptions(dispute.Type, dispute.PreviousState), nil
}

func resolutionOptions(disputeType string, previousState domain.TransactionState) []domain.ResolutionKind {
	options := []domain.ResolutionKind{domain.ResolutionContinue, domain.ResolutionCancel}
	if disputeType == "verification" {
		options = append(options, domain.ResolutionRetryVerification)
	}
	if previousState == domain.StateSettlementPending {
		options = append(options, domain.ResolutionAdjustSettlement)
	}
	return options
}

// ResolveDispute closes an open dispute and applies the effect of the
// chosen resolution kind (§4.7).
func (o *Orchestrator) ResolveDispute(ctx context.Context, in ResolveDisputeInput) (domain.Transaction, error) {
	if err := o.validate.Struct(in); err != nil {
		return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid resolve-dispute input")
	}
	if err := o.validateTransactionID(in.TransactionID); err != nil {
		return domain.Transaction{}, err
	}

	disputes, err := o.store.DisputesForTransaction(ctx, in.TransactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	var dispute *domain.Dispute
	for i := range disputes {
		if disputes[i].ID == in.DisputeID {
			dispute = &disputes[i]
			break
		}
	}
	if dispute == nil {
		return domain.Transaction{}, errors.NewNotFoundError("dispute " + in.DisputeID)
	}
	if dispute.Status != domain.DisputeOpen {
		return domain.Transaction{}, errors.New(errors.ErrorTypeConflict, "dispute "+in.DisputeID+" is already "+string(dispute.Status))
	}

	var tx domain.Transaction

	switch in.Resolution {
	case domain.ResolutionCancel:
		refund := true
		if v, ok := in.Details["refund_earnest_money"].(bool); ok {
			refund = v
		}
		tx, err = o.Cancel(ctx, CancelInput{
			TransactionID: in.TransactionID,
			Reason:        "dispute resolution: " + in.DisputeID,
			Refund:        refund,
		})
		if err != nil {
			return domain.Transaction{}, err
		}
		if err := o.store.UpdateDisputeStatus(ctx, dispute.ID, domain.DisputeClosed); err != nil {
			return domain.Transaction{}, err
		}

	case domain.ResolutionContinue:
		err = o.store.RunInTx(ctx, func(dbTx *sqlx.Tx) error {
			current, err := o.store.GetTransactionForUpdate(ctx, dbTx, in.TransactionID)
			if err != nil {
				return err
			}
			if _, err := statemachine.Transition(&current, dispute.PreviousState, statemachine.TransitionContext{
				EarnestMoneyDeposited:    true,
				AllVerificationsComplete: true,
				AllVerificationsApproved: true,
				SettlementExecuted:       true,
			}, o.clock()); err != nil {
				return err
			}
			if err := o.store.UpdateDisputeStatusInTx(ctx, dbTx, dispute.ID, domain.DisputeClosed); err != nil {
				return err
			}
			tx = current
			return o.store.UpdateTransactionState(ctx, dbTx, current)
		})
		if err != nil {
			return domain.Transaction{}, err
		}

	case domain.ResolutionRetryVerification:
		verificationType, _ := in.Details["verification_type"].(string)
		err = o.store.RunInTx(ctx, func(dbTx *sqlx.Tx) error {
			current, err := o.store.GetTransactionForUpdate(ctx, dbTx, in.TransactionID)
			if err != nil {
				return err
			}

			if verificationType != "" {
				tasks, err := o.store.TasksForTransaction(ctx, in.TransactionID)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					if string(t.Type) != verificationType {
						continue
					}
					if err := o.store.UpdateTaskStatusInTx(ctx, dbTx, t.ID, domain.TaskAssigned, "", nil); err != nil {
						return err
					}
					break
				}
			}

			if _, err := statemachine.Transition(&current, domain.StateVerificationInProgress, statemachine.TransitionContext{}, o.clock()); err != nil {
				return err
			}
			if err := o.store.UpdateDisputeStatusInTx(ctx, dbTx, dispute.ID, domain.DisputeClosed); err != nil {
				return err
			}
			tx = current
			return o.store.UpdateTransactionState(ctx, dbTx, current)
		})
		if err != nil {
			return domain.Transaction{}, err
		}

	case domain.ResolutionAdjustSettlement:
		if dispute.PreviousState != domain.StateSettlementPending {
			return domain.Transaction{}, errors.New(errors.ErrorTypeConflict, "adjust_settlement is only valid when the dispute's previous state was SETTLEMENT_PENDING")
		}
		override, err := settlementOverrideFromDetails(in.Details)
		if err != nil {
			return domain.Transaction{}, err
		}
		err = o.store.RunInTx(ctx, func(dbTx *sqlx.Tx) error {
			current, err := o.store.GetTransactionForUpdate(ctx, dbTx, in.TransactionID)
			if err != nil {
				return err
			}
			if _, err := statemachine.Transition(&current, domain.StateSettlementPending, statemachine.TransitionContext{AllVerificationsApproved: true}, o.clock()); err != nil {
				return err
			}
			if err := o.store.UpdateDisputeStatusInTx(ctx, dbTx, dispute.ID, domain.DisputeClosed); err != nil {
				return err
			}
			if len(override) > 0 {
				if current.Metadata == nil {
					current.Metadata = make(map[string]interface{})
				}
				current.Metadata[settlementOverrideMetadataKey] = override
			}
			tx = current
			return o.store.UpdateTransactionState(ctx, dbTx, current)
		})
		if err != nil {
			return domain.Transaction{}, err
		}

	default:
		return domain.Transaction{}, errors.NewValidationError("unknown resolution kind: " + string(in.Resolution))
	}

	o.appendEvent(ctx, in.TransactionID, domain.EventDisputeResolved, map[string]interface{}{
		"dispute_id": dispute.ID, "resolution": string(in.Resolution), "details": in.Details,
	})
	o.invalidateCache(ctx, in.TransactionID)

	return tx, nil
}
