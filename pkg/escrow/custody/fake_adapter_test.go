package custody

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

var _ = Describe("FakeAdapter", func() {
	var adapter *FakeAdapter
	ctx := context.Background()

	BeforeEach(func() {
		adapter = NewFakeAdapter("wh-secret")
	})

	Describe("CreateWallet", func() {
		It("funds the wallet with the initial deposit", func() {
			id, err := adapter.CreateWallet(ctx, "key-1", "txn-1", money.MustNewFromString("10000.00"), nil)
			Expect(err).NotTo(HaveOccurred())

			balance, err := adapter.Balance(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(balance.String()).To(Equal("10000.00"))
		})

		It("is idempotent on a repeated key", func() {
			id1, err := adapter.CreateWallet(ctx, "key-1", "txn-1", money.MustNewFromString("10000.00"), nil)
			Expect(err).NotTo(HaveOccurred())

			id2, err := adapter.CreateWallet(ctx, "key-1", "txn-1", money.MustNewFromString("99999.00"), nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(id2).To(Equal(id1))
			balance, _ := adapter.Balance(ctx, id1)
			Expect(balance.String()).To(Equal("10000.00"))
		})
	})

	Describe("ReleaseMilestonePayment", func() {
		It("debits the wallet balance", func() {
			id, _ := adapter.CreateWallet(ctx, "", "txn-1", money.MustNewFromString("10000.00"), nil)

			result, err := adapter.ReleaseMilestonePayment(ctx, "pay-key", id, "title-search", "agent-1", money.MustNewFromString("1200.00"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(domain.PaymentCompleted))

			balance, _ := adapter.Balance(ctx, id)
			Expect(balance.String()).To(Equal("8800.00"))
		})

		It("rejects a payment exceeding the wallet balance", func() {
			id, _ := adapter.CreateWallet(ctx, "", "txn-1", money.MustNewFromString("100.00"), nil)

			_, err := adapter.ReleaseMilestonePayment(ctx, "", id, "title-search", "agent-1", money.MustNewFromString("1200.00"))
			Expect(err).To(HaveOccurred())
		})

		It("does not double-spend on a repeated idempotency key", func() {
			id, _ := adapter.CreateWallet(ctx, "", "txn-1", money.MustNewFromString("10000.00"), nil)

			_, err := adapter.ReleaseMilestonePayment(ctx, "pay-key", id, "title-search", "agent-1", money.MustNewFromString("1200.00"))
			Expect(err).NotTo(HaveOccurred())
			_, err = adapter.ReleaseMilestonePayment(ctx, "pay-key", id, "title-search", "agent-1", money.MustNewFromString("1200.00"))
			Expect(err).NotTo(HaveOccurred())

			balance, _ := adapter.Balance(ctx, id)
			Expect(balance.String()).To(Equal("8800.00"))
		})
	})

	Describe("ExecuteFinalSettlement", func() {
		It("distributes and debits the total across recipients", func() {
			id, _ := adapter.CreateWallet(ctx, "", "txn-1", money.MustNewFromString("385000.00"), nil)

			result, err := adapter.ExecuteFinalSettlement(ctx, "settle-key", id, []Distribution{
				{Recipient: "seller", Amount: money.MustNewFromString("355950.00"), Description: "Seller payment"},
				{Recipient: "buyer-agent", Amount: money.MustNewFromString("11550.00"), Description: "Buyer agent commission"},
				{Recipient: "seller-agent", Amount: money.MustNewFromString("11550.00"), Description: "Seller agent commission"},
				{Recipient: "title_co", Amount: money.MustNewFromString("5950.00"), Description: "Closing costs"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Distributions).To(HaveLen(4))

			balance, _ := adapter.Balance(ctx, id)
			Expect(balance.IsZero()).To(BeTrue())
		})
	})

	Describe("History", func() {
		It("returns ledger entries newest first", func() {
			id, _ := adapter.CreateWallet(ctx, "", "txn-1", money.MustNewFromString("10000.00"), nil)
			_, err := adapter.ReleaseMilestonePayment(ctx, "pay-key", id, "title-search", "agent-1", money.MustNewFromString("1200.00"))
			Expect(err).NotTo(HaveOccurred())

			history, err := adapter.History(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].Type).To(Equal("milestone_release"))
			Expect(history[0].Amount.String()).To(Equal("1200.00"))
			Expect(history[1].Type).To(Equal("deposit"))
		})

		It("rejects an unknown wallet", func() {
			_, err := adapter.History(ctx, "unknown")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("VerifyWebhookSignature", func() {
		It("accepts a valid HMAC-SHA256 signature and rejects a tampered one", func() {
			payload := []byte(`{"event":"payment.completed"}`)
			sig := signFor(payload, "wh-secret")

			Expect(adapter.VerifyWebhookSignature(payload, sig)).To(BeTrue())
			Expect(adapter.VerifyWebhookSignature([]byte(`{"event":"payment.failed"}`), sig)).To(BeFalse())
		})
	})
})
