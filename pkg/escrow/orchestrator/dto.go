package orchestrator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

// InitiateInput is the validated input to Initiate (§4.5).
type InitiateInput struct {
	BuyerAgentID       string                 `validate:"required"`
	SellerAgentID      string                 `validate:"required"`
	PropertyID         string                 `validate:"required"`
	EarnestMoney       money.Amount           `validate:"-"`
	TotalPurchasePrice money.Amount           `validate:"-"`
	TargetClosingDate  time.Time              `validate:"required"`
	Metadata           map[string]interface{} `validate:"-"`
}

// CreateVerificationWorkflowInput is the validated input to
// CreateVerificationWorkflow.
type CreateVerificationWorkflowInput struct {
	TransactionID string `validate:"required"`
}

// ProcessVerificationCompletionInput is the validated input to
// ProcessVerificationCompletion.
type ProcessVerificationCompletionInput struct {
	TransactionID string                     `validate:"required"`
	Type          domain.VerificationType    `validate:"required"`
	Report        domain.VerificationReport  `validate:"-"`
}

// SettlementInput is shared between PreviewSettlement and ExecuteSettlement.
type SettlementInput struct {
	TransactionID           string              `validate:"required"`
	BuyerAgentRate          decimal.Decimal     `validate:"-"`
	SellerAgentRate         decimal.Decimal     `validate:"-"`
	ClosingCosts            *money.Amount       `validate:"-"`
	AdditionalDistributions []domain.Distribution `validate:"-"`
}

// CancelInput is the validated input to Cancel.
type CancelInput struct {
	TransactionID string `validate:"required"`
	Reason        string `validate:"required"`
	Refund        bool   `validate:"-"`
}

// RaiseDisputeInput is the validated input to RaiseDispute.
type RaiseDisputeInput struct {
	TransactionID string   `validate:"required"`
	RaisedBy      string   `validate:"required"`
	Type          string   `validate:"required"`
	Description   string   `validate:"required"`
	Evidence      []string `validate:"-"`
}

// ResolveDisputeInput is the validated input to ResolveDispute.
type ResolveDisputeInput struct {
	TransactionID string                 `validate:"required"`
	DisputeID     string                 `validate:"required"`
	Resolution    domain.ResolutionKind  `validate:"required"`
	Details       map[string]interface{} `validate:"-"`
}
