package resilience

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// Policy configures exponential or fixed-delay retry for one operation
// kind (§4.9, grounded on the original retry_utils pre-configured
// decorators).
type Policy struct {
	Name            string
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Fixed           bool
}

// PaymentPolicy makes up to 3 attempts at a payment operation with
// exponential backoff, waiting 1s and then 2s between attempts (delays are
// capped at 4s).
func PaymentPolicy() Policy {
	return Policy{Name: "payment", MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 4 * time.Second, ExponentialBase: 2}
}

// AuditSinkPolicy makes up to 5 attempts at an audit-sink write with
// exponential backoff, waiting 2s, 4s, 8s, and 16s between attempts (delays
// are capped at 32s).
func AuditSinkPolicy() Policy {
	return Policy{Name: "audit_sink", MaxAttempts: 5, InitialDelay: 2 * time.Second, MaxDelay: 32 * time.Second, ExponentialBase: 2}
}

// NotificationPolicy makes up to 3 attempts at a notification dispatch,
// waiting a fixed 5 seconds between attempts.
func NotificationPolicy() Policy {
	return Policy{Name: "notification", MaxAttempts: 3, InitialDelay: 5 * time.Second, Fixed: true}
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Fixed {
		return p.InitialDelay
	}
	d := float64(p.InitialDelay) * math.Pow(p.ExponentialBase, float64(attempt-1))
	if max := float64(p.MaxDelay); max > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// Do runs fn up to p.MaxAttempts times, sleeping per the policy's backoff
// between attempts, and returns the last error if every attempt fails. It
// stops immediately if ctx is cancelled.
func Do(ctx context.Context, p Policy, logger *zap.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= p.MaxAttempts {
			logger.Error("operation failed after retries",
				zap.String("policy", p.Name),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return lastErr
		}

		d := p.delay(attempt)
		logger.Warn("retrying after failure",
			zap.String("policy", p.Name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", d),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}

	return lastErr
}
