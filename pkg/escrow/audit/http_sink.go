package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
)

// HTTPSink submits audit events to an external immutability service over a
// JSON HTTP API, mirroring the custody package's HTTPAdapter idiom.
type HTTPSink struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSink builds a sink with a bounded-timeout HTTP client.
func NewHTTPSink(baseURL string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{BaseURL: baseURL, Client: &http.Client{Timeout: timeout}}
}

type recordEventRequest struct {
	EventID       string                 `json:"event_id"`
	TransactionID string                 `json:"transaction_id"`
	EventType     string                 `json:"event_type"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
}

type recordEventResponse struct {
	ExternalTxRef string `json:"external_tx_ref"`
	BlockNumber   *int64 `json:"block_number"`
}

// Record submits event and returns the sink's receipt.
func (s *HTTPSink) Record(ctx context.Context, event domain.AuditEvent) (string, *int64, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(recordEventRequest{
		EventID:       event.ID,
		TransactionID: event.TransactionID,
		EventType:     string(event.EventType),
		Payload:       event.Payload,
		Timestamp:     event.Timestamp,
	}); err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeAuditSink, "encode audit sink request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/events", &buf)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeAuditSink, "build audit sink request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeAuditSink, "audit sink request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		return "", nil, errors.NewAuditSinkError("record_event", fmt.Errorf("status %d: %s", resp.StatusCode, detail))
	}

	var out recordEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeAuditSink, "decode audit sink response")
	}
	return out.ExternalTxRef, out.BlockNumber, nil
}
