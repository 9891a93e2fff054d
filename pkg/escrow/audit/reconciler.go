package audit

import (
	"context"
	"time"

	goerrors "github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/resilience"
)

// Reconciler is the single background goroutine that polls the store for
// pending audit rows and re-submits each to the sink under the audit-sink
// retry policy (§4.8).
type Reconciler struct {
	log      *Log
	interval time.Duration
	batch    int
	policy   resilience.Policy
	logger   *zap.Logger
}

// NewReconciler builds a Reconciler polling every interval (default 30s
// when interval is zero) for up to batch pending rows per cycle.
func NewReconciler(log *Log, interval time.Duration, batch int, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{log: log, interval: interval, batch: batch, policy: resilience.AuditSinkPolicy(), logger: logger}
}

// WithPolicy overrides the retry policy used to resubmit pending rows to
// the sink. Production wiring never needs this — it exists so tests can
// swap in a policy with negligible delays instead of waiting out the real
// audit-sink backoff schedule.
func (r *Reconciler) WithPolicy(policy resilience.Policy) *Reconciler {
	r.policy = policy
	return r
}

// Run blocks, polling on Reconciler's interval until ctx is cancelled. Each
// cycle's per-row failures are accumulated into one wrapped error via
// go-faster/errors and logged as a single line, rather than one line per
// failed row.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	pending, err := r.log.store.PendingEvents(ctx, r.batch)
	if err != nil {
		r.logger.Error("reconciler: failed to list pending audit events", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	var cause error
	reconciled := 0

	for _, event := range pending {
		event := event
		retryErr := resilience.Do(ctx, r.policy, r.logger, func(ctx context.Context) error {
			ref, block, sinkErr := r.log.sink.Record(ctx, event)
			if sinkErr != nil {
				return sinkErr
			}
			return r.log.store.MarkAcknowledged(ctx, event.ID, ref, block)
		})

		if retryErr != nil {
			wrapped := goerrors.Wrapf(retryErr, "reconcile event %s", event.ID)
			if cause == nil {
				cause = wrapped
			} else {
				cause = goerrors.Wrap(cause, wrapped.Error())
			}
			continue
		}
		reconciled++
	}

	if cause != nil {
		r.logger.Warn("reconciler: cycle completed with failures",
			zap.Int("reconciled", reconciled),
			zap.Int("pending", len(pending)),
			zap.Error(cause))
	} else {
		r.logger.Info("reconciler: cycle completed", zap.Int("reconciled", reconciled))
	}
}
