package resilience

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	internalerrors "github.com/ycagentic/escrow-orchestrator/internal/errors"
)

var _ = Describe("Circuit breaker registry", func() {
	var registry *Registry

	BeforeEach(func() {
		registry = NewRegistry([]BreakerConfig{
			{Name: "custody", FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond},
		}, zap.NewNop())
	})

	It("passes calls through while closed", func() {
		err := registry.Execute(context.Background(), "custody", func(ctx context.Context) error {
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(registry.State("custody")).To(Equal("closed"))
	})

	It("trips open after the failure threshold and fails fast with ErrorTypeCircuitOpen", func() {
		failing := func(ctx context.Context) error { return errors.New("boom") }

		for i := 0; i < 2; i++ {
			_ = registry.Execute(context.Background(), "custody", failing)
		}
		Expect(registry.State("custody")).To(Equal("open"))

		err := registry.Execute(context.Background(), "custody", func(ctx context.Context) error {
			return nil
		})
		Expect(err).To(HaveOccurred())
		Expect(internalerrors.IsType(err, internalerrors.ErrorTypeCircuitOpen)).To(BeTrue())
	})

	It("recovers to closed after the recovery timeout and two successes", func() {
		failing := func(ctx context.Context) error { return errors.New("boom") }
		for i := 0; i < 2; i++ {
			_ = registry.Execute(context.Background(), "custody", failing)
		}
		Expect(registry.State("custody")).To(Equal("open"))

		time.Sleep(30 * time.Millisecond)

		succeed := func(ctx context.Context) error { return nil }
		Expect(registry.Execute(context.Background(), "custody", succeed)).To(Succeed())
		Expect(registry.Execute(context.Background(), "custody", succeed)).To(Succeed())
		Expect(registry.State("custody")).To(Equal("closed"))
	})

	It("passes calls through unmodified for an unregistered breaker name", func() {
		err := registry.Execute(context.Background(), "unknown", func(ctx context.Context) error {
			return errors.New("boom")
		})
		Expect(err).To(HaveOccurred())
		Expect(internalerrors.IsType(err, internalerrors.ErrorTypeCircuitOpen)).To(BeFalse())
	})

	It("resets an open breaker's failure count on Rebuild", func() {
		failing := func(ctx context.Context) error { return errors.New("boom") }
		for i := 0; i < 2; i++ {
			_ = registry.Execute(context.Background(), "custody", failing)
		}
		Expect(registry.State("custody")).To(Equal("open"))

		registry.Rebuild([]BreakerConfig{
			{Name: "custody", FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond},
		})
		Expect(registry.State("custody")).To(Equal("closed"))
	})
})
