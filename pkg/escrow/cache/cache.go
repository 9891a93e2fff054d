// Package cache implements the read-through workflow cache (§4.10): three
// materialized views keyed by stable IDs, JSON-encoded, with write-through
// invalidation whenever the underlying rows change.
package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
)

const (
	defaultTransactionTTL = 5 * time.Minute
	defaultReportTTL      = 24 * time.Hour
	defaultWorkflowTTL    = 5 * time.Minute
)

// TTLs groups the three views' cache lifetimes so they can be swapped as a
// unit when configuration is hot-reloaded.
type TTLs struct {
	Transaction time.Duration
	Report      time.Duration
	Workflow    time.Duration
}

func defaultTTLs() TTLs {
	return TTLs{Transaction: defaultTransactionTTL, Report: defaultReportTTL, Workflow: defaultWorkflowTTL}
}

// Cache wraps a redis.Cmdable (satisfied by both *redis.Client and a
// miniredis-backed client in tests) with the three named views. TTLs are
// held behind an atomic.Value so SetTTLs can be called from a config
// hot-reload goroutine without racing readers (§6: cache TTLs are safe to
// change at runtime).
type Cache struct {
	client redis.Cmdable
	ttls   atomic.Value
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithTTLs overrides the default view lifetimes.
func WithTTLs(ttls TTLs) Option {
	return func(c *Cache) { c.ttls.Store(ttls) }
}

// New wraps client in a Cache.
func New(client redis.Cmdable, opts ...Option) *Cache {
	c := &Cache{client: client}
	c.ttls.Store(defaultTTLs())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTTLs swaps the view lifetimes in effect for subsequent writes.
func (c *Cache) SetTTLs(ttls TTLs) {
	c.ttls.Store(ttls)
}

func (c *Cache) currentTTLs() TTLs {
	return c.ttls.Load().(TTLs)
}

func transactionKey(id string) string { return "transaction:" + id }
func reportKey(id string) string      { return "report:" + id }
func workflowKey(transactionID string) string { return "workflow:" + transactionID }

func (c *Cache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode cache value")
	}
	if err := c.client.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "write cache entry")
	}
	return nil
}

// get decodes the cached value for key into out, reporting (false, nil) on
// a cache miss rather than an error.
func (c *Cache) get(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeInternal, "read cache entry")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeInternal, "decode cache value")
	}
	return true, nil
}

// TransactionView is the denormalized read model cached under
// transaction:{id} — state, custody, progress, tasks, payments, and
// settlement in one payload so a status read costs one round trip.
type TransactionView struct {
	TransactionID string                 `json:"transaction_id"`
	State         string                 `json:"state"`
	CustodyID     string                 `json:"custody_id"`
	Tasks         []map[string]interface{} `json:"tasks"`
	Payments      []map[string]interface{} `json:"payments"`
	Settlement    map[string]interface{} `json:"settlement,omitempty"`
}

// PutTransaction caches view under transaction:{id} with the transaction
// TTL (5 minutes unless changed by WithTTLs or SetTTLs).
func (c *Cache) PutTransaction(ctx context.Context, view TransactionView) error {
	return c.set(ctx, transactionKey(view.TransactionID), view, c.currentTTLs().Transaction)
}

// GetTransaction reads the cached view for transactionID.
func (c *Cache) GetTransaction(ctx context.Context, transactionID string) (TransactionView, bool, error) {
	var view TransactionView
	ok, err := c.get(ctx, transactionKey(transactionID), &view)
	return view, ok, err
}

// InvalidateTransaction evicts transaction:{id}.
func (c *Cache) InvalidateTransaction(ctx context.Context, transactionID string) error {
	if err := c.client.Del(ctx, transactionKey(transactionID)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "invalidate transaction cache")
	}
	return nil
}

// ReportView is the cached payload for a single verification report.
type ReportView struct {
	ReportID string                 `json:"report_id"`
	Status   string                 `json:"status"`
	Findings map[string]interface{} `json:"findings"`
}

// PutReport caches view under report:{id} with the report TTL (24 hours
// unless changed by WithTTLs or SetTTLs) — reports are immutable once
// submitted, so a long TTL is safe.
func (c *Cache) PutReport(ctx context.Context, view ReportView) error {
	return c.set(ctx, reportKey(view.ReportID), view, c.currentTTLs().Report)
}

// GetReport reads the cached view for reportID.
func (c *Cache) GetReport(ctx context.Context, reportID string) (ReportView, bool, error) {
	var view ReportView
	ok, err := c.get(ctx, reportKey(reportID), &view)
	return view, ok, err
}

// WorkflowView is the cached task-status/deadline snapshot for a
// transaction's verification DAG.
type WorkflowView struct {
	TransactionID string                    `json:"transaction_id"`
	TaskStatus    map[string]string         `json:"task_status"`
	Deadlines     map[string]time.Time      `json:"deadlines"`
}

// PutWorkflow caches view under workflow:{transaction_id} with the workflow
// TTL (5 minutes unless changed by WithTTLs or SetTTLs).
func (c *Cache) PutWorkflow(ctx context.Context, view WorkflowView) error {
	return c.set(ctx, workflowKey(view.TransactionID), view, c.currentTTLs().Workflow)
}

// GetWorkflow reads the cached view for transactionID.
func (c *Cache) GetWorkflow(ctx context.Context, transactionID string) (WorkflowView, bool, error) {
	var view WorkflowView
	ok, err := c.get(ctx, workflowKey(transactionID), &view)
	return view, ok, err
}

// InvalidateWorkflow evicts workflow:{transaction_id}.
func (c *Cache) InvalidateWorkflow(ctx context.Context, transactionID string) error {
	if err := c.client.Del(ctx, workflowKey(transactionID)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "invalidate workflow cache")
	}
	return nil
}

// InvalidateTransactionAndWorkflow evicts both transaction:{id} and
// workflow:{id} — every write that mutates Tasks, Payments, Settlement, or
// state must call this before its own commit returns (§4.10).
func (c *Cache) InvalidateTransactionAndWorkflow(ctx context.Context, transactionID string) error {
	if err := c.InvalidateTransaction(ctx, transactionID); err != nil {
		return err
	}
	return c.InvalidateWorkflow(ctx, transactionID)
}
