// Package custody defines the programmable-wallet contract an escrow
// transaction's funds are held under (§4.4): wallet creation, milestone
// configuration, payment release, final settlement, balance and history
// queries, and webhook signature verification. The contract is
// intentionally provider-agnostic — the original system spoke to a single
// custody provider, but nothing here assumes that providers stays singular.
package custody

import (
	"context"
	"time"

	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

// Milestone configures one funds-release condition on a wallet.
type Milestone struct {
	ID          string
	Description string
	Amount      money.Amount
}

// Distribution is one recipient line of a settlement payout.
type Distribution struct {
	Recipient   string
	Amount      money.Amount
	Description string
}

// PaymentResult reports the outcome of a single payment release.
type PaymentResult struct {
	PaymentID     string
	Status        domain.PaymentStatus
	ExternalTxRef string
	CompletedAt   *time.Time
}

// SettlementResult reports the outcome of a final settlement.
type SettlementResult struct {
	SettlementID  string
	Status        domain.PaymentStatus
	ExternalTxRef string
	Distributions []Distribution
	CompletedAt   *time.Time
}

// Transaction is one ledger entry in a wallet's transaction history, as
// returned by History (get_transaction_history).
type Transaction struct {
	ID        string
	Type      string
	Amount    money.Amount
	Recipient string
	Timestamp time.Time
	Status    string
}

// Adapter is the custody provider contract the orchestrator depends on.
// Every mutating method must be safe to call twice with the same
// idempotencyKey without double-spending funds.
type Adapter interface {
	// CreateWallet opens a new custody wallet funded with the given initial
	// deposit (earnest money) and returns its provider-assigned ID.
	CreateWallet(ctx context.Context, idempotencyKey string, transactionID string, initialDeposit money.Amount, metadata map[string]interface{}) (custodyID string, err error)

	// ConfigureMilestones attaches the transaction's release conditions to
	// an already-created wallet.
	ConfigureMilestones(ctx context.Context, custodyID string, milestones []Milestone) error

	// ReleaseMilestonePayment pays recipientID amount against milestoneID.
	ReleaseMilestonePayment(ctx context.Context, idempotencyKey string, custodyID, milestoneID, recipientID string, amount money.Amount) (PaymentResult, error)

	// ExecuteFinalSettlement distributes the wallet's remaining balance per
	// distributions and closes the wallet out.
	ExecuteFinalSettlement(ctx context.Context, idempotencyKey string, custodyID string, distributions []Distribution) (SettlementResult, error)

	// Balance returns the wallet's current balance.
	Balance(ctx context.Context, custodyID string) (money.Amount, error)

	// History returns the wallet's most recent ledger entries (deposits,
	// milestone releases, the final settlement), newest first.
	History(ctx context.Context, custodyID string) ([]Transaction, error)

	// VerifyWebhookSignature reports whether signature authenticates
	// payload under the adapter's configured webhook secret.
	VerifyWebhookSignature(payload []byte, signature string) bool
}
