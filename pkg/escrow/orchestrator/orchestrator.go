// Package orchestrator is the top-level façade over an escrow
// transaction's lifecycle (§4.5): the public operations a caller (HTTP
// handler, CLI, scheduled job) invokes, each validated, transactional with
// respect to the store, and wrapped in the "custody" circuit breaker around
// custody calls. Each custody call is made once per operation; a failed
// call is not retried here.
package orchestrator

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/internal/validation"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/audit"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/cache"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/custody"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/resilience"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/statemachine"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/workflow"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

// Store is the subset of pkg/escrow/store the orchestrator depends on,
// satisfied structurally by *store.Store.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error

	GetTransaction(ctx context.Context, id string) (domain.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, dbTx *sqlx.Tx, id string) (domain.Transaction, error)
	CreateTransactionInTx(ctx context.Context, dbTx *sqlx.Tx, tx domain.Transaction) error
	UpdateTransactionState(ctx context.Context, dbTx *sqlx.Tx, tx domain.Transaction) error

	CreateTasksInTx(ctx context.Context, dbTx *sqlx.Tx, tasks []domain.VerificationTask) error
	TasksForTransaction(ctx context.Context, transactionID string) ([]domain.VerificationTask, error)
	UpdateTaskStatusInTx(ctx context.Context, dbTx *sqlx.Tx, taskID string, status domain.TaskStatus, reportID string, completedAt *time.Time) error

	CreatePaymentInTx(ctx context.Context, dbTx *sqlx.Tx, p domain.Payment) error
	UpdatePaymentStatusInTx(ctx context.Context, dbTx *sqlx.Tx, paymentID string, status domain.PaymentStatus, externalTxRef string) error
	PaymentsForTransaction(ctx context.Context, transactionID string) ([]domain.Payment, error)

	CreateSettlementInTx(ctx context.Context, dbTx *sqlx.Tx, settlement domain.Settlement) error
	GetSettlement(ctx context.Context, transactionID string) (domain.Settlement, error)

	CreateDisputeInTx(ctx context.Context, dbTx *sqlx.Tx, d domain.Dispute) error
	UpdateDisputeStatus(ctx context.Context, disputeID string, status domain.DisputeStatus) error
	UpdateDisputeStatusInTx(ctx context.Context, dbTx *sqlx.Tx, disputeID string, status domain.DisputeStatus) error
	DisputesForTransaction(ctx context.Context, transactionID string) ([]domain.Dispute, error)

	GetReport(ctx context.Context, id string) (domain.VerificationReport, error)
}

// ClosingCostFormula computes closing costs when the caller does not
// supply an explicit override (§4.6, Open Question #3).
type ClosingCostFormula func(tasks []domain.VerificationTask, price money.Amount) money.Amount

// DefaultClosingCostFormula sums every task's payment amount plus 1% of
// the purchase price.
func DefaultClosingCostFormula(tasks []domain.VerificationTask, price money.Amount) money.Amount {
	amounts := make([]money.Amount, 0, len(tasks)+1)
	for _, t := range tasks {
		amounts = append(amounts, t.PaymentAmount)
	}
	onePercent := price.MulRate(pointZeroOne)
	amounts = append(amounts, onePercent)
	return money.Sum(amounts...)
}

// Orchestrator composes the store, custody adapter, audit log, cache, and
// resilience registry via explicit constructor injection — never a
// package-level singleton (§9).
type Orchestrator struct {
	store              Store
	custody            custody.Adapter
	audit              *audit.Log
	cache              *cache.Cache
	breakers           *resilience.Registry
	validate           *validator.Validate
	logger             *zap.Logger
	clock              func() time.Time
	closingCostFormula ClosingCostFormula
	taskDefinitions    map[domain.VerificationType]workflow.TaskDefinition
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

func WithClosingCostFormula(formula ClosingCostFormula) Option {
	return func(o *Orchestrator) { o.closingCostFormula = formula }
}

func WithTaskDefinitions(defs map[domain.VerificationType]workflow.TaskDefinition) Option {
	return func(o *Orchestrator) { o.taskDefinitions = defs }
}

// New builds an Orchestrator from its required dependencies.
func New(store Store, custodyAdapter custody.Adapter, auditLog *audit.Log, c *cache.Cache, breakers *resilience.Registry, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		store:              store,
		custody:            custodyAdapter,
		audit:              auditLog,
		cache:              c,
		breakers:           breakers,
		validate:           validator.New(),
		logger:             logger,
		clock:              time.Now,
		closingCostFormula: DefaultClosingCostFormula,
		taskDefinitions:    workflow.DefaultTaskDefinitions(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *Orchestrator) appendEvent(ctx context.Context, transactionID string, eventType domain.EventType, payload map[string]interface{}) {
	event, err := o.audit.Append(ctx, domain.AuditEvent{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		EventType:     eventType,
		Payload:       payload,
		Timestamp:     o.clock(),
	})
	if err != nil {
		o.logger.Error("failed to append audit event",
			zap.String("transaction_id", transactionID), zap.String("event_type", string(eventType)), zap.Error(err))
		return
	}
	if event.Pending {
		o.logger.Warn("audit event pending external sink acknowledgement",
			zap.String("transaction_id", transactionID), zap.String("event_id", event.ID))
	}
}

func (o *Orchestrator) invalidateCache(ctx context.Context, transactionID string) {
	if err := o.cache.InvalidateTransactionAndWorkflow(ctx, transactionID); err != nil {
		o.logger.Warn("failed to invalidate cache", zap.String("transaction_id", transactionID), zap.Error(err))
	}
}

// validateTransactionID composes the hand-written format/safety check in
// internal/validation with the struct-tag validation every operation already
// runs via o.validate.Struct, per §4.5.
func (o *Orchestrator) validateTransactionID(id string) error {
	if err := validation.ValidateTransactionID(id); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, err.Error())
	}
	return nil
}

// validateFreeText runs the SQL/script-injection and control-character
// screen from internal/validation against an operator-supplied free-text
// field (reasons, descriptions, dispute types) before it reaches the store.
func (o *Orchestrator) validateFreeText(field, value string, maxLength int) error {
	if err := validation.ValidateStringInput(field, value, maxLength); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, err.Error())
	}
	return nil
}

// validateVerificationType checks membership in the closed verification-task
// type enum via internal/validation.
func (o *Orchestrator) validateVerificationType(t domain.VerificationType) error {
	if err := validation.ValidateVerificationType(string(t)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, err.Error())
	}
	return nil
}

// Initiate creates a Transaction at INITIATED, opens its custody wallet
// with the earnest money deposit, and transitions it to FUNDED.
func (o *Orchestrator) Initiate(ctx context.Context, in InitiateInput) (domain.Transaction, error) {
	if err := o.validate.Struct(in); err != nil {
		return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid initiate input")
	}
	if err := o.validateFreeText("buyer_agent_id", in.BuyerAgentID, 128); err != nil {
		return domain.Transaction{}, err
	}
	if err := o.validateFreeText("seller_agent_id", in.SellerAgentID, 128); err != nil {
		return domain.Transaction{}, err
	}
	if err := o.validateFreeText("property_id", in.PropertyID, 128); err != nil {
		return domain.Transaction{}, err
	}
	if !in.EarnestMoney.IsPositive() || !in.TotalPurchasePrice.IsPositive() {
		return domain.Transaction{}, errors.NewValidationError("earnest money and purchase price must be positive")
	}

	now := o.clock()
	tx := domain.Transaction{
		ID:                 uuid.NewString(),
		BuyerAgentID:       in.BuyerAgentID,
		SellerAgentID:      in.SellerAgentID,
		PropertyID:         in.PropertyID,
		EarnestMoney:       in.EarnestMoney,
		TotalPurchasePrice: in.TotalPurchasePrice,
		State:              domain.StateInitiated,
		InitiatedAt:        now,
		UpdatedAt:          now,
		TargetClosingDate:  in.TargetClosingDate,
		Metadata:           in.Metadata,
	}

	var custodyID string
	err := o.store.RunInTx(ctx, func(dbTx *sqlx.Tx) error {
		if err := o.store.CreateTransactionInTx(ctx, dbTx, tx); err != nil {
			return err
		}

		var err error
		custodyID, err = o.createWallet(ctx, tx)
		if err != nil {
			return err
		}
		tx.CustodyID = custodyID

		if _, err := statemachine.Transition(&tx, domain.StateFunded, statemachine.TransitionContext{EarnestMoneyDeposited: true}, o.clock()); err != nil {
			return err
		}
		return o.store.UpdateTransactionState(ctx, dbTx, tx)
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	o.appendEvent(ctx, tx.ID, domain.EventTransactionInitiated, map[string]interface{}{
		"buyer_agent_id": tx.BuyerAgentID, "seller_agent_id": tx.SellerAgentID, "property_id": tx.PropertyID,
	})
	o.appendEvent(ctx, tx.ID, domain.EventEarnestMoneyDeposited, map[string]interface{}{
		"amount": tx.EarnestMoney.String(), "custody_id": custodyID,
	})
	o.invalidateCache(ctx, tx.ID)

	return tx, nil
}

func (o *Orchestrator) createWallet(ctx context.Context, tx domain.Transaction) (string, error) {
	var custodyID string
	err := o.breakers.Execute(ctx, "custody", func(ctx context.Context) error {
		var err error
		custodyID, err = o.custody.CreateWallet(ctx, "initiate:"+tx.ID, tx.ID, tx.EarnestMoney, tx.Metadata)
		return err
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeCustody, "create custody wallet")
	}
	return custodyID, nil
}

var pointZeroOne = decimal.RequireFromString("0.01")
