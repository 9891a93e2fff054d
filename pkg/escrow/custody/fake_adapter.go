package custody

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

// FakeAdapter is a deterministic, in-memory Adapter for tests. It has no
// network dependency and enforces the same idempotency contract as a real
// provider: a repeated idempotencyKey returns the first call's result
// instead of mutating the wallet a second time.
type FakeAdapter struct {
	mu            sync.Mutex
	nextID        int
	wallets       map[string]money.Amount
	milestones    map[string][]Milestone
	history       map[string][]Transaction
	idempotent    map[string]interface{}
	WebhookSecret string
	Now           func() time.Time
}

// NewFakeAdapter returns a ready-to-use FakeAdapter.
func NewFakeAdapter(webhookSecret string) *FakeAdapter {
	return &FakeAdapter{
		wallets:       make(map[string]money.Amount),
		milestones:    make(map[string][]Milestone),
		history:       make(map[string][]Transaction),
		idempotent:    make(map[string]interface{}),
		WebhookSecret: webhookSecret,
		Now:           time.Now,
	}
}

// recordHistory prepends an entry so History returns newest first, as the
// provider's get_transaction_history does. Caller must hold f.mu.
func (f *FakeAdapter) recordHistory(custodyID string, entry Transaction) {
	f.history[custodyID] = append([]Transaction{entry}, f.history[custodyID]...)
}

func (f *FakeAdapter) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *FakeAdapter) CreateWallet(ctx context.Context, idempotencyKey, transactionID string, initialDeposit money.Amount, metadata map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.idempotent[idempotencyKey]; ok && idempotencyKey != "" {
		return cached.(string), nil
	}

	f.nextID++
	id := fmt.Sprintf("custody-%d", f.nextID)
	f.wallets[id] = initialDeposit
	f.recordHistory(id, Transaction{
		ID: fmt.Sprintf("tx-deposit-%s", id), Type: "deposit", Amount: initialDeposit,
		Recipient: id, Timestamp: f.now(), Status: string(domain.PaymentCompleted),
	})

	if idempotencyKey != "" {
		f.idempotent[idempotencyKey] = id
	}
	return id, nil
}

func (f *FakeAdapter) ConfigureMilestones(ctx context.Context, custodyID string, milestones []Milestone) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.wallets[custodyID]; !ok {
		return errors.NewCustodyError("configure_milestones", fmt.Errorf("unknown wallet %s", custodyID))
	}
	f.milestones[custodyID] = milestones
	return nil
}

func (f *FakeAdapter) ReleaseMilestonePayment(ctx context.Context, idempotencyKey, custodyID, milestoneID, recipientID string, amount money.Amount) (PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.idempotent[idempotencyKey]; ok && idempotencyKey != "" {
		return cached.(PaymentResult), nil
	}

	balance, ok := f.wallets[custodyID]
	if !ok {
		return PaymentResult{}, errors.NewCustodyError("release_payment", fmt.Errorf("unknown wallet %s", custodyID))
	}
	if balance.LessThan(amount) {
		return PaymentResult{}, errors.NewCustodyError("release_payment", fmt.Errorf("insufficient balance in wallet %s", custodyID))
	}

	f.wallets[custodyID] = balance.Sub(amount)
	completed := f.now()
	result := PaymentResult{
		PaymentID:     fmt.Sprintf("pay-%s-%s", custodyID, milestoneID),
		Status:        domain.PaymentCompleted,
		ExternalTxRef: fmt.Sprintf("tx-%s-%s", custodyID, milestoneID),
		CompletedAt:   &completed,
	}
	f.recordHistory(custodyID, Transaction{
		ID: result.ExternalTxRef, Type: "milestone_release", Amount: amount,
		Recipient: recipientID, Timestamp: completed, Status: string(result.Status),
	})

	if idempotencyKey != "" {
		f.idempotent[idempotencyKey] = result
	}
	return result, nil
}

func (f *FakeAdapter) ExecuteFinalSettlement(ctx context.Context, idempotencyKey, custodyID string, distributions []Distribution) (SettlementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.idempotent[idempotencyKey]; ok && idempotencyKey != "" {
		return cached.(SettlementResult), nil
	}

	balance, ok := f.wallets[custodyID]
	if !ok {
		return SettlementResult{}, errors.NewCustodyError("execute_settlement", fmt.Errorf("unknown wallet %s", custodyID))
	}

	total := money.Sum(distributionAmounts(distributions)...)
	if balance.LessThan(total) {
		return SettlementResult{}, errors.NewCustodyError("execute_settlement", fmt.Errorf("insufficient balance in wallet %s", custodyID))
	}

	f.wallets[custodyID] = balance.Sub(total)
	completed := f.now()
	result := SettlementResult{
		SettlementID:  fmt.Sprintf("settle-%s", custodyID),
		Status:        domain.PaymentCompleted,
		ExternalTxRef: fmt.Sprintf("tx-settle-%s", custodyID),
		Distributions: distributions,
		CompletedAt:   &completed,
	}
	for _, d := range distributions {
		f.recordHistory(custodyID, Transaction{
			ID: result.ExternalTxRef, Type: "settlement", Amount: d.Amount,
			Recipient: d.Recipient, Timestamp: completed, Status: string(result.Status),
		})
	}

	if idempotencyKey != "" {
		f.idempotent[idempotencyKey] = result
	}
	return result, nil
}

func distributionAmounts(distributions []Distribution) []money.Amount {
	amounts := make([]money.Amount, len(distributions))
	for i, d := range distributions {
		amounts[i] = d.Amount
	}
	return amounts
}

func (f *FakeAdapter) Balance(ctx context.Context, custodyID string) (money.Amount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	balance, ok := f.wallets[custodyID]
	if !ok {
		return money.Zero, errors.NewCustodyError("balance", fmt.Errorf("unknown wallet %s", custodyID))
	}
	return balance, nil
}

func (f *FakeAdapter) History(ctx context.Context, custodyID string) ([]Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.wallets[custodyID]; !ok {
		return nil, errors.NewCustodyError("history", fmt.Errorf("unknown wallet %s", custodyID))
	}
	out := make([]Transaction, len(f.history[custodyID]))
	copy(out, f.history[custodyID])
	return out, nil
}

func (f *FakeAdapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	return VerifyHMACSHA256([]byte(f.WebhookSecret), payload, signature)
}
