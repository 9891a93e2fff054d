// Package domain defines the entities at the center of an escrow
// transaction: the Transaction itself and everything it exclusively owns
// (VerificationTask, VerificationReport, Payment, Settlement, AuditEvent,
// Dispute). These are plain records; all relationships are foreign IDs
// resolved through the store, never language-level back-pointers, so the
// object graph stays an arena of independently-addressable rows rather than
// a cyclic session-backed graph.
package domain

import (
	"time"

	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

// TransactionState is the transaction's lifecycle state (§4.1).
type TransactionState string

const (
	StateInitiated               TransactionState = "INITIATED"
	StateFunded                  TransactionState = "FUNDED"
	StateVerificationInProgress  TransactionState = "VERIFICATION_IN_PROGRESS"
	StateVerificationComplete    TransactionState = "VERIFICATION_COMPLETE"
	StateSettlementPending       TransactionState = "SETTLEMENT_PENDING"
	StateSettled                 TransactionState = "SETTLED"
	StateDisputed                TransactionState = "DISPUTED"
	StateCancelled               TransactionState = "CANCELLED"
)

// IsTerminal reports whether no further transitions are permitted.
func (s TransactionState) IsTerminal() bool {
	return s == StateSettled || s == StateCancelled
}

// VerificationType is the closed enum of verification task kinds.
type VerificationType string

const (
	TypeTitleSearch VerificationType = "TITLE_SEARCH"
	TypeInspection  VerificationType = "INSPECTION"
	TypeAppraisal   VerificationType = "APPRAISAL"
	TypeLending     VerificationType = "LENDING"
)

// AllVerificationTypes enumerates the complete closed set, in the default
// topological order of the workflow DAG (§4.2).
var AllVerificationTypes = []VerificationType{TypeTitleSearch, TypeInspection, TypeAppraisal, TypeLending}

// TaskStatus is a VerificationTask's lifecycle status.
type TaskStatus string

const (
	TaskAssigned   TaskStatus = "ASSIGNED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// ReportStatus is a VerificationReport's review outcome.
type ReportStatus string

const (
	ReportApproved    ReportStatus = "APPROVED"
	ReportRejected    ReportStatus = "REJECTED"
	ReportNeedsReview ReportStatus = "NEEDS_REVIEW"
)

// PaymentType classifies a money movement (§3).
type PaymentType string

const (
	PaymentEarnestMoney PaymentType = "EARNEST_MONEY"
	PaymentVerification PaymentType = "VERIFICATION"
	PaymentCommission   PaymentType = "COMMISSION"
	PaymentClosingCost  PaymentType = "CLOSING_COST"
	PaymentSettlement   PaymentType = "SETTLEMENT"
)

// PaymentStatus is a Payment's lifecycle status.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
)

// EventType is the closed enum of audit event kinds (§3).
type EventType string

const (
	EventTransactionInitiated   EventType = "TRANSACTION_INITIATED"
	EventEarnestMoneyDeposited  EventType = "EARNEST_MONEY_DEPOSITED"
	EventVerificationAssigned   EventType = "VERIFICATION_TASK_ASSIGNED"
	EventVerificationCompleted  EventType = "VERIFICATION_COMPLETED"
	EventPaymentReleased        EventType = "PAYMENT_RELEASED"
	EventSettlementExecuted     EventType = "SETTLEMENT_EXECUTED"
	EventTransactionCancelled   EventType = "TRANSACTION_CANCELLED"
	EventDisputeRaised          EventType = "DISPUTE_RAISED"
	EventDisputeResolved        EventType = "DISPUTE_RESOLVED"
	EventStateChanged           EventType = "state_changed"
)

// DisputeStatus tracks whether a dispute still blocks progress.
type DisputeStatus string

const (
	DisputeOpen   DisputeStatus = "open"
	DisputeClosed DisputeStatus = "closed"
)

// ResolutionKind is the set of ways a dispute may be resolved (§4.7).
type ResolutionKind string

const (
	ResolutionContinue         ResolutionKind = "continue"
	ResolutionCancel           ResolutionKind = "cancel"
	ResolutionRetryVerification ResolutionKind = "retry_verification"
	ResolutionAdjustSettlement ResolutionKind = "adjust_settlement"
)

// Transaction is the hub entity (§3).
type Transaction struct {
	ID                 string
	BuyerAgentID       string
	SellerAgentID      string
	PropertyID         string
	EarnestMoney       money.Amount
	TotalPurchasePrice money.Amount
	State              TransactionState
	CustodyID          string // empty until funded
	InitiatedAt        time.Time
	UpdatedAt          time.Time
	TargetClosingDate  time.Time
	ActualClosingDate  *time.Time
	Metadata           map[string]interface{}
	Disputes           []Dispute
}

// VerificationTask is a unit of verification work (§3).
type VerificationTask struct {
	ID              string
	TransactionID   string
	Type            VerificationType
	AssignedAgentID string
	Status          TaskStatus
	DependsOn       []VerificationType
	Deadline        time.Time
	PaymentAmount   money.Amount
	ReportID        string
	AssignedAt      time.Time
	CompletedAt     *time.Time
}

// VerificationReport is a report submitted against a task (§3).
type VerificationReport struct {
	ID             string
	TaskID         string
	AgentID        string
	Type           VerificationType
	Status         ReportStatus
	Findings       map[string]interface{}
	Documents      []string
	SubmittedAt    time.Time
	ReviewedAt     *time.Time
	ReviewerNotes  string
}

// Payment is a single money movement initiated by the orchestrator (§3).
type Payment struct {
	ID            string
	TransactionID string
	CustodyID     string
	Type          PaymentType
	RecipientID   string
	Amount        money.Amount
	Status        PaymentStatus
	ExternalTxRef string
	InitiatedAt   time.Time
	CompletedAt   *time.Time
}

// Distribution is a single recipient line in a Settlement (§3).
type Distribution struct {
	Recipient   string
	Amount      money.Amount
	Description string
}

// Settlement is the final distribution record (§3).
type Settlement struct {
	ID                     string
	TransactionID          string
	TotalAmount            money.Amount
	SellerAmount           money.Amount
	BuyerAgentCommission   money.Amount
	SellerAgentCommission  money.Amount
	ClosingCosts           money.Amount
	Distributions          []Distribution
	ExternalTxRef          string
	ExecutedAt             time.Time
}

// AuditEvent is an immutable fact recorded against a transaction (§3).
type AuditEvent struct {
	ID            string
	TransactionID string
	EventType     EventType
	Payload       map[string]interface{}
	ExternalTxRef string // empty until the immutability sink acknowledges
	BlockNumber   *int64
	Pending       bool
	Timestamp     time.Time
}

// Dispute is an open issue that halts forward progress until resolved (§4.7).
type Dispute struct {
	ID            string
	TransactionID string
	RaisedBy      string
	Type          string
	Description   string
	Evidence      []string
	RaisedAt      time.Time
	Status        DisputeStatus
	PreviousState TransactionState
}
