package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

// HTTPAdapter talks to a programmable-wallet custody provider over a JSON
// HTTP API. Wallet creation, milestone payment release, and final settlement
// carry an Idempotency-Key header so a retried call never double-spends;
// ConfigureMilestones is sent without one.
type HTTPAdapter struct {
	BaseURL       string
	WebhookSecret string
	Client        *http.Client
}

// NewHTTPAdapter builds an adapter with a bounded-timeout HTTP client.
func NewHTTPAdapter(baseURL, webhookSecret string, timeout time.Duration) *HTTPAdapter {
	return &HTTPAdapter{
		BaseURL:       baseURL,
		WebhookSecret: webhookSecret,
		Client:        &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAdapter) do(ctx context.Context, method, path, idempotencyKey string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCustody, "encode custody request")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, &buf)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCustody, "build custody request")
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCustody, "custody request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		return errors.NewCustodyError(path, fmt.Errorf("status %d: %s", resp.StatusCode, detail))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCustody, "decode custody response")
	}
	return nil
}

type createWalletRequest struct {
	TransactionID  string                 `json:"transaction_id"`
	InitialDeposit string                 `json:"initial_deposit"`
	Metadata       map[string]interface{} `json:"metadata"`
}

type createWalletResponse struct {
	WalletID string `json:"wallet_id"`
}

func (a *HTTPAdapter) CreateWallet(ctx context.Context, idempotencyKey, transactionID string, initialDeposit money.Amount, metadata map[string]interface{}) (string, error) {
	var resp createWalletResponse
	err := a.do(ctx, http.MethodPost, "/wallets", idempotencyKey, createWalletRequest{
		TransactionID:  transactionID,
		InitialDeposit: initialDeposit.String(),
		Metadata:       metadata,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.WalletID, nil
}

type milestoneRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

func (a *HTTPAdapter) ConfigureMilestones(ctx context.Context, custodyID string, milestones []Milestone) error {
	reqs := make([]milestoneRequest, len(milestones))
	for i, m := range milestones {
		reqs[i] = milestoneRequest{ID: m.ID, Description: m.Description, Amount: m.Amount.String()}
	}
	return a.do(ctx, http.MethodPost, "/wallets/"+custodyID+"/milestones", "", reqs, nil)
}

type releasePaymentRequest struct {
	MilestoneID string `json:"milestone_id"`
	RecipientID string `json:"recipient_id"`
	Amount      string `json:"amount"`
}

type paymentResponse struct {
	PaymentID     string     `json:"payment_id"`
	Status        string     `json:"status"`
	ExternalTxRef string     `json:"external_tx_ref"`
	CompletedAt   *time.Time `json:"completed_at"`
}

func (a *HTTPAdapter) ReleaseMilestonePayment(ctx context.Context, idempotencyKey, custodyID, milestoneID, recipientID string, amount money.Amount) (PaymentResult, error) {
	var resp paymentResponse
	err := a.do(ctx, http.MethodPost, "/wallets/"+custodyID+"/payments", idempotencyKey, releasePaymentRequest{
		MilestoneID: milestoneID,
		RecipientID: recipientID,
		Amount:      amount.String(),
	}, &resp)
	if err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{
		PaymentID:     resp.PaymentID,
		Status:        statusFromString(resp.Status),
		ExternalTxRef: resp.ExternalTxRef,
		CompletedAt:   resp.CompletedAt,
	}, nil
}

type distributionRequest struct {
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type settlementResponse struct {
	SettlementID  string                 `json:"settlement_id"`
	Status        string                 `json:"status"`
	ExternalTxRef string                 `json:"external_tx_ref"`
	Distributions []distributionRequest  `json:"distributions"`
	CompletedAt   *time.Time             `json:"completed_at"`
}

func (a *HTTPAdapter) ExecuteFinalSettlement(ctx context.Context, idempotencyKey, custodyID string, distributions []Distribution) (SettlementResult, error) {
	reqs := make([]distributionRequest, len(distributions))
	for i, d := range distributions {
		reqs[i] = distributionRequest{Recipient: d.Recipient, Amount: d.Amount.String(), Description: d.Description}
	}

	var resp settlementResponse
	err := a.do(ctx, http.MethodPost, "/wallets/"+custodyID+"/settle", idempotencyKey, struct {
		Distributions []distributionRequest `json:"distributions"`
	}{Distributions: reqs}, &resp)
	if err != nil {
		return SettlementResult{}, err
	}

	out := make([]Distribution, len(resp.Distributions))
	for i, d := range resp.Distributions {
		amt, parseErr := money.NewFromString(d.Amount)
		if parseErr != nil {
			return SettlementResult{}, errors.Wrap(parseErr, errors.ErrorTypeCustody, "parse distribution amount")
		}
		out[i] = Distribution{Recipient: d.Recipient, Amount: amt, Description: d.Description}
	}

	return SettlementResult{
		SettlementID:  resp.SettlementID,
		Status:        statusFromString(resp.Status),
		ExternalTxRef: resp.ExternalTxRef,
		Distributions: out,
		CompletedAt:   resp.CompletedAt,
	}, nil
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

func (a *HTTPAdapter) Balance(ctx context.Context, custodyID string) (money.Amount, error) {
	var resp balanceResponse
	if err := a.do(ctx, http.MethodGet, "/wallets/"+custodyID+"/balance", "", nil, &resp); err != nil {
		return money.Zero, err
	}
	return money.NewFromString(resp.Balance)
}

type historyEntryResponse struct {
	TransactionID string    `json:"transaction_id"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	Recipient     string    `json:"recipient"`
	Timestamp     time.Time `json:"timestamp"`
	Status        string    `json:"status"`
}

func (a *HTTPAdapter) History(ctx context.Context, custodyID string) ([]Transaction, error) {
	var resp []historyEntryResponse
	if err := a.do(ctx, http.MethodGet, "/wallets/"+custodyID+"/history", "", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]Transaction, len(resp))
	for i, e := range resp {
		amt, err := money.NewFromString(e.Amount)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCustody, "parse history entry amount")
		}
		out[i] = Transaction{
			ID:        e.TransactionID,
			Type:      e.Type,
			Amount:    amt,
			Recipient: e.Recipient,
			Timestamp: e.Timestamp,
			Status:    e.Status,
		}
	}
	return out, nil
}

func (a *HTTPAdapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	return VerifyHMACSHA256([]byte(a.WebhookSecret), payload, signature)
}
