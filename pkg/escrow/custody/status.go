package custody

import "github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"

func statusFromString(s string) domain.PaymentStatus {
	switch s {
	case "completed":
		return domain.PaymentCompleted
	case "processing":
		return domain.PaymentProcessing
	case "failed":
		return domain.PaymentFailed
	default:
		return domain.PaymentPending
	}
}
