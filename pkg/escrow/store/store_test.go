package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"regexp"
	"strings"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ycagentic/escrow-orchestrator/internal/encryption"
	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

func quote(query string) string { return regexp.QuoteMeta(query) }

func testCipher() *encryption.Cipher {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	cipher, err := encryption.NewCipher(key)
	Expect(err).NotTo(HaveOccurred())
	return cipher
}

var _ = Describe("Store", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		st     *Store
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).NotTo(HaveOccurred())

		st = New(sqlx.NewDb(mockDB, "pgx"))
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("CreateTransaction and GetTransaction", func() {
		It("inserts then reads back a transaction", func() {
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			tx := domain.Transaction{
				ID:                 "txn-1",
				BuyerAgentID:       "buyer-1",
				SellerAgentID:      "seller-1",
				PropertyID:         "prop-1",
				EarnestMoney:       money.MustNewFromString("10000.00"),
				TotalPurchasePrice: money.MustNewFromString("385000.00"),
				State:              domain.StateInitiated,
				InitiatedAt:        now,
				TargetClosingDate:  now.AddDate(0, 1, 0),
				Metadata:           map[string]interface{}{"buyer_name": "Jane"},
			}

			mock.ExpectExec(quote("INSERT INTO transactions")).WillReturnResult(sqlmock.NewResult(0, 1))
			Expect(st.CreateTransaction(ctx, tx)).To(Succeed())

			rows := sqlmock.NewRows([]string{
				"id", "buyer_agent_id", "seller_agent_id", "property_id", "earnest_money",
				"total_purchase_price", "state", "custody_id", "initiated_at",
				"target_closing_date", "actual_closing_date", "metadata", "updated_at",
			}).AddRow(
				tx.ID, tx.BuyerAgentID, tx.SellerAgentID, tx.PropertyID, "10000.00",
				"385000.00", "INITIATED", "", now, tx.TargetClosingDate, nil, []byte(`{"buyer_name":"Jane"}`), now,
			)
			mock.ExpectQuery(quote("SELECT id, buyer_agent_id, seller_agent_id, property_id, earnest_money")).WillReturnRows(rows)

			got, err := st.GetTransaction(ctx, "txn-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("txn-1"))
			Expect(got.EarnestMoney.String()).To(Equal("10000.00"))
			Expect(got.Metadata["buyer_name"]).To(Equal("Jane"))

			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("surfaces NotFound when no row matches", func() {
			mock.ExpectQuery(quote("SELECT id, buyer_agent_id, seller_agent_id, property_id, earnest_money")).WillReturnError(sql.ErrNoRows)

			_, err := st.GetTransaction(ctx, "missing")
			Expect(err).To(HaveOccurred())
			Expect(errors.IsType(err, errors.ErrorTypeNotFound)).To(BeTrue())
		})
	})

	Describe("CreateTransaction and GetTransaction with a cipher", func() {
		It("encrypts sensitive metadata fields before they reach the database and decrypts them back", func() {
			cipher := testCipher()
			cst := NewWithCipher(sqlx.NewDb(mockDB, "pgx"), cipher)

			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			tx := domain.Transaction{
				ID:                 "txn-1",
				BuyerAgentID:       "buyer-1",
				SellerAgentID:      "seller-1",
				PropertyID:         "prop-1",
				EarnestMoney:       money.MustNewFromString("10000.00"),
				TotalPurchasePrice: money.MustNewFromString("385000.00"),
				State:              domain.StateInitiated,
				InitiatedAt:        now,
				TargetClosingDate:  now.AddDate(0, 1, 0),
				Metadata:           map[string]interface{}{"buyer_name": "Jane", "buyer_ssn_last_4": "6789"},
			}

			mock.ExpectExec(quote("INSERT INTO transactions")).WillReturnResult(sqlmock.NewResult(0, 1))
			Expect(cst.CreateTransaction(ctx, tx)).To(Succeed())

			encryptedSSN, err := cipher.EncryptString("6789")
			Expect(err).NotTo(HaveOccurred())
			storedMetadata := []byte(`{"buyer_name":"Jane","buyer_ssn_last_4":"` + encryptedSSN + `"}`)

			rows := sqlmock.NewRows([]string{
				"id", "buyer_agent_id", "seller_agent_id", "property_id", "earnest_money",
				"total_purchase_price", "state", "custody_id", "initiated_at",
				"target_closing_date", "actual_closing_date", "metadata", "updated_at",
			}).AddRow(
				tx.ID, tx.BuyerAgentID, tx.SellerAgentID, tx.PropertyID, "10000.00",
				"385000.00", "INITIATED", "", now, tx.TargetClosingDate, nil, storedMetadata, now,
			)
			mock.ExpectQuery(quote("SELECT id, buyer_agent_id, seller_agent_id, property_id, earnest_money")).WillReturnRows(rows)

			got, err := cst.GetTransaction(ctx, "txn-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Metadata["buyer_name"]).To(Equal("Jane"))
			Expect(got.Metadata["buyer_ssn_last_4"]).To(Equal("6789"))
		})
	})

	Describe("UpdateTransactionState inside RunInTx", func() {
		It("locks, updates, and commits the row", func() {
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

			mock.ExpectBegin()
			rows := sqlmock.NewRows([]string{
				"id", "buyer_agent_id", "seller_agent_id", "property_id", "earnest_money",
				"total_purchase_price", "state", "custody_id", "initiated_at",
				"target_closing_date", "actual_closing_date", "metadata", "updated_at",
			}).AddRow(
				"txn-1", "buyer-1", "seller-1", "prop-1", "10000.00",
				"385000.00", "INITIATED", "", now, now, nil, []byte(`{}`), now,
			)
			mock.ExpectQuery(quote("SELECT id, buyer_agent_id, seller_agent_id, property_id, earnest_money")).WillReturnRows(rows)
			mock.ExpectExec(quote("UPDATE transactions SET state")).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			err := st.RunInTx(ctx, func(dbTx *sqlx.Tx) error {
				current, err := st.GetTransactionForUpdate(ctx, dbTx, "txn-1")
				if err != nil {
					return err
				}
				current.State = domain.StateFunded
				return st.UpdateTransactionState(ctx, dbTx, current)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("rolls back when the callback fails", func() {
			mock.ExpectBegin()
			mock.ExpectQuery(quote("SELECT id, buyer_agent_id, seller_agent_id, property_id, earnest_money")).WillReturnError(sql.ErrNoRows)
			mock.ExpectRollback()

			err := st.RunInTx(ctx, func(dbTx *sqlx.Tx) error {
				_, err := st.GetTransactionForUpdate(ctx, dbTx, "missing")
				return err
			})
			Expect(err).To(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("AppendEvent and PendingEvents", func() {
		It("lists a freshly appended event as pending", func() {
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			event := domain.AuditEvent{ID: "evt-1", TransactionID: "txn-1", EventType: domain.EventTransactionInitiated, Timestamp: now}

			mock.ExpectExec(quote("INSERT INTO audit_events")).WillReturnResult(sqlmock.NewResult(0, 1))
			stored, err := st.AppendEvent(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Pending).To(BeTrue())

			rows := sqlmock.NewRows([]string{
				"id", "transaction_id", "event_type", "payload", "external_tx_ref", "block_number", "pending", "timestamp",
			}).AddRow("evt-1", "txn-1", "TRANSACTION_INITIATED", []byte(`{}`), "", nil, true, now)
			mock.ExpectQuery(quote("SELECT id, transaction_id, event_type, payload, external_tx_ref, block_number, pending, timestamp")).WillReturnRows(rows)

			pending, err := st.PendingEvents(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].ID).To(Equal("evt-1"))

			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
