package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/custody"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/statemachine"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/workflow"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

// CreateVerificationWorkflow builds the verification DAG for the
// transaction, configures custody milestones for every task, and
// transitions the transaction to VERIFICATION_IN_PROGRESS.
func (o *Orchestrator) CreateVerificationWorkflow(ctx context.Context, in CreateVerificationWorkflowInput) (*workflow.Workflow, error) {
	if err := o.validate.Struct(in); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid create-workflow input")
	}
	if err := o.validateTransactionID(in.TransactionID); err != nil {
		return nil, err
	}

	tx, err := o.store.GetTransaction(ctx, in.TransactionID)
	if err != nil {
		return nil, err
	}

	wf, err := workflow.New(tx.ID, o.taskDefinitions)
	if err != nil {
		return nil, err
	}
	tasks := wf.CreateTasks(o.clock())
	for i := range tasks {
		tasks[i].ID = uuid.NewString()
	}

	milestones := make([]custody.Milestone, 0, len(tasks))
	for _, task := range tasks {
		milestones = append(milestones, custody.Milestone{
			ID:          task.ID,
			Description: string(task.Type),
			Amount:      task.PaymentAmount,
		})
	}

	err = o.store.RunInTx(ctx, func(dbTx *sqlx.Tx) error {
		if err := o.store.CreateTasksInTx(ctx, dbTx, tasks); err != nil {
			return err
		}

		current, err := o.store.GetTransactionForUpdate(ctx, dbTx, tx.ID)
		if err != nil {
			return err
		}

		if err := o.breakers.Execute(ctx, "custody", func(ctx context.Context) error {
			return o.custody.ConfigureMilestones(ctx, current.CustodyID, milestones)
		}); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCustody, "configure milestones")
		}

		if _, err := statemachine.Transition(&current, domain.StateVerificationInProgress, statemachine.TransitionContext{}, o.clock()); err != nil {
			return err
		}
		return o.store.UpdateTransactionState(ctx, dbTx, current)
	})
	if err != nil {
		return nil, err
	}

	for _, task := range tasks {
		o.appendEvent(ctx, tx.ID, domain.EventVerificationAssigned, map[string]interface{}{
			"task_id": task.ID, "type": string(task.Type), "deadline": task.Deadline.Format(time.RFC3339),
		})
	}
	o.invalidateCache(ctx, tx.ID)

	return wf, nil
}

// ProcessVerificationCompletion records a submitted report against its
// task, releases the milestone payment on approval, and — once every task
// is both completed and approved — collapses VERIFICATION_COMPLETE and
// SETTLEMENT_PENDING into a single commit (§9, Open Question #2).
func (o *Orchestrator) ProcessVerificationCompletion(ctx context.Context, in ProcessVerificationCompletionInput) (domain.Transaction, error) {
	if err := o.validate.Struct(in); err != nil {
		return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid verification-completion input")
	}
	if err := o.validateTransactionID(in.TransactionID); err != nil {
		return domain.Transaction{}, err
	}
	if err := o.validateVerificationType(in.Type); err != nil {
		return domain.Transaction{}, err
	}

	tasks, err := o.store.TasksForTransaction(ctx, in.TransactionID)
	if err != nil {
		return domain.Transaction{}, err
	}

	var target *domain.VerificationTask
	for i := range tasks {
		if tasks[i].Type == in.Type {
			target = &tasks[i]
			break
		}
	}
	if target == nil {
		return domain.Transaction{}, errors.NewNotFoundError("verification task " + string(in.Type) + " for transaction " + in.TransactionID)
	}

	now := o.clock()
	var paymentErr error
	var tx domain.Transaction

	err = o.store.RunInTx(ctx, func(dbTx *sqlx.Tx) error {
		current, err := o.store.GetTransactionForUpdate(ctx, dbTx, in.TransactionID)
		if err != nil {
			return err
		}
		tx = current

		if err := o.store.UpdateTaskStatusInTx(ctx, dbTx, target.ID, domain.TaskCompleted, in.Report.ID, &now); err != nil {
			return err
		}

		if in.Report.Status == domain.ReportApproved && target.PaymentAmount.IsPositive() {
			payment := domain.Payment{
				ID:            uuid.NewString(),
				TransactionID: in.TransactionID,
				CustodyID:     current.CustodyID,
				Type:          domain.PaymentVerification,
				RecipientID:   target.AssignedAgentID,
				Amount:        target.PaymentAmount,
				Status:        domain.PaymentPending,
				InitiatedAt:   now,
			}
			if err := o.store.CreatePaymentInTx(ctx, dbTx, payment); err != nil {
				return err
			}

			result, releaseErr := o.releaseMilestonePayment(ctx, current.CustodyID, target.ID, target.AssignedAgentID, target.PaymentAmount)
			if releaseErr != nil {
				// Payment failure is non-fatal to the workflow commit — it is
				// recorded and left for retry, not rolled back (§4.5).
				paymentErr = releaseErr
				return o.store.UpdatePaymentStatusInTx(ctx, dbTx, payment.ID, domain.PaymentFailed, "")
			}
			if err := o.store.UpdatePaymentStatusInTx(ctx, dbTx, payment.ID, result.Status, result.ExternalTxRef); err != nil {
				return err
			}
		}

		allComplete, allApproved, err := o.summarizeTasks(ctx, tasks, in.Type, in.Report)
		if err != nil {
			return err
		}
		if allComplete {
			if _, err := statemachine.Transition(&current, domain.StateVerificationComplete, statemachine.TransitionContext{AllVerificationsComplete: true}, now); err != nil {
				return err
			}
			if allApproved {
				if _, err := statemachine.Transition(&current, domain.StateSettlementPending, statemachine.TransitionContext{AllVerificationsApproved: true}, now); err != nil {
					return err
				}
			}
		}
		tx = current
		return o.store.UpdateTransactionState(ctx, dbTx, current)
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	o.appendEvent(ctx, in.TransactionID, domain.EventVerificationCompleted, map[string]interface{}{
		"type": string(in.Type), "status": string(in.Report.Status), "report_id": in.Report.ID,
	})
	if paymentErr == nil && in.Report.Status == domain.ReportApproved && target.PaymentAmount.IsPositive() {
		o.appendEvent(ctx, in.TransactionID, domain.EventPaymentReleased, map[string]interface{}{
			"type": string(in.Type), "amount": target.PaymentAmount.String(),
		})
	}
	o.invalidateCache(ctx, in.TransactionID)

	if paymentErr != nil {
		return tx, errors.Wrap(paymentErr, errors.ErrorTypeCustody, "milestone payment release failed, retry permitted")
	}
	return tx, nil
}

func (o *Orchestrator) releaseMilestonePayment(ctx context.Context, custodyID, milestoneID, recipientID string, amount money.Amount) (custody.PaymentResult, error) {
	var result custody.PaymentResult
	err := o.breakers.Execute(ctx, "custody", func(ctx context.Context) error {
		var err error
		result, err = o.custody.ReleaseMilestonePayment(ctx, "release:"+milestoneID, custodyID, milestoneID, recipientID, amount)
		return err
	})
	return result, err
}

// summarizeTasks reports whether every task is COMPLETED and, separately,
// whether every COMPLETED task's linked report was APPROVED. completedReport
// describes the task just updated in this call, since its in-memory copy in
// tasks does not yet reflect the update applied inside the transaction;
// every other COMPLETED task's report status is looked up by ID.
func (o *Orchestrator) summarizeTasks(ctx context.Context, tasks []domain.VerificationTask, completedType domain.VerificationType, completedReport domain.VerificationReport) (allComplete bool, allApproved bool, err error) {
	allComplete = true
	allApproved = true

	for _, t := range tasks {
		status := t.Status
		approved := false

		switch {
		case t.Type == completedType:
			status = domain.TaskCompleted
			approved = completedReport.Status == domain.ReportApproved
		case status == domain.TaskCompleted && t.ReportID != "":
			report, getErr := o.store.GetReport(ctx, t.ReportID)
			if getErr != nil {
				return false, false, getErr
			}
			approved = report.Status == domain.ReportApproved
		}

		if status != domain.TaskCompleted {
			allComplete = false
		}
		if status == domain.TaskCompleted && !approved {
			allApproved = false
		}
	}

	return allComplete, allApproved, nil
}
