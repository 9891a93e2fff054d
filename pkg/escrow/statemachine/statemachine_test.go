package statemachine

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
)

var _ = Describe("Transaction State Machine", func() {
	var (
		tx  *domain.Transaction
		now time.Time
	)

	BeforeEach(func() {
		now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		tx = &domain.Transaction{
			ID:    "txn-1",
			State: domain.StateInitiated,
		}
	})

	Describe("ValidTargets", func() {
		It("returns the transitions permitted from INITIATED", func() {
			Expect(ValidTargets(domain.StateInitiated)).To(ConsistOf(
				domain.StateFunded, domain.StateCancelled))
		})

		It("returns no transitions from a terminal state", func() {
			Expect(ValidTargets(domain.StateSettled)).To(BeEmpty())
			Expect(ValidTargets(domain.StateCancelled)).To(BeEmpty())
		})
	})

	Describe("Transition", func() {
		Context("when the target is not in the transition table", func() {
			It("fails with a conflict error", func() {
				_, err := Transition(tx, domain.StateSettled, TransitionContext{}, now)
				Expect(err).To(HaveOccurred())
				Expect(errors.IsType(err, errors.ErrorTypeConflict)).To(BeTrue())
			})
		})

		Context("transitioning to FUNDED", func() {
			It("fails when earnest money has not been deposited", func() {
				_, err := Transition(tx, domain.StateFunded, TransitionContext{}, now)
				Expect(err).To(HaveOccurred())
			})

			It("succeeds and emits a state_changed event when the guard holds", func() {
				event, err := Transition(tx, domain.StateFunded, TransitionContext{EarnestMoneyDeposited: true}, now)
				Expect(err).NotTo(HaveOccurred())
				Expect(tx.State).To(Equal(domain.StateFunded))
				Expect(tx.UpdatedAt).To(Equal(now))
				Expect(event.EventType).To(Equal(domain.EventStateChanged))
				Expect(event.Payload["old_state"]).To(Equal("INITIATED"))
				Expect(event.Payload["new_state"]).To(Equal("FUNDED"))
			})
		})

		Context("transitioning to VERIFICATION_IN_PROGRESS", func() {
			BeforeEach(func() {
				tx.State = domain.StateFunded
			})

			It("fails without a custody id", func() {
				_, err := Transition(tx, domain.StateVerificationInProgress, TransitionContext{}, now)
				Expect(err).To(HaveOccurred())
			})

			It("succeeds once a custody id is set", func() {
				tx.CustodyID = "custody-1"
				_, err := Transition(tx, domain.StateVerificationInProgress, TransitionContext{}, now)
				Expect(err).NotTo(HaveOccurred())
				Expect(tx.State).To(Equal(domain.StateVerificationInProgress))
			})
		})

		Context("transitioning to DISPUTED", func() {
			BeforeEach(func() {
				tx.State = domain.StateVerificationInProgress
			})

			It("stores the previous state in the event payload", func() {
				event, err := Transition(tx, domain.StateDisputed, TransitionContext{}, now)
				Expect(err).NotTo(HaveOccurred())
				Expect(event.Payload["previous_state"]).To(Equal("VERIFICATION_IN_PROGRESS"))
				Expect(tx.State).To(Equal(domain.StateDisputed))
			})

			It("fails if the transaction is already terminal", func() {
				tx.State = domain.StateSettled
				_, err := Transition(tx, domain.StateDisputed, TransitionContext{}, now)
				Expect(err).To(HaveOccurred())
			})
		})

		Context("resuming from DISPUTED", func() {
			BeforeEach(func() {
				tx.State = domain.StateDisputed
			})

			It("allows returning to VERIFICATION_IN_PROGRESS", func() {
				tx.CustodyID = "custody-1"
				_, err := Transition(tx, domain.StateVerificationInProgress, TransitionContext{}, now)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("transitioning to SETTLED", func() {
			BeforeEach(func() {
				tx.State = domain.StateSettlementPending
			})

			It("fails without an executed settlement", func() {
				_, err := Transition(tx, domain.StateSettled, TransitionContext{}, now)
				Expect(err).To(HaveOccurred())
			})

			It("succeeds once settlement has executed", func() {
				_, err := Transition(tx, domain.StateSettled, TransitionContext{SettlementExecuted: true}, now)
				Expect(err).NotTo(HaveOccurred())
				Expect(IsTerminalState(tx.State)).To(BeTrue())
			})
		})
	})
})
