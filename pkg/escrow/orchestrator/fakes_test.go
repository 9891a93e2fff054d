package orchestrator_test

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
)

// fakeStore is an in-memory stand-in for *store.Store sufficient to drive
// every orchestrator operation. RunInTx has no real rollback semantics —
// store.Store's own transactional behavior is covered in pkg/escrow/store;
// here the focus is the orchestrator's call sequencing and validation.
type fakeStore struct {
	mu           sync.Mutex
	transactions map[string]domain.Transaction
	tasks        map[string][]domain.VerificationTask
	payments     map[string][]domain.Payment
	settlements  map[string]domain.Settlement
	disputes     map[string][]domain.Dispute
	reports      map[string]domain.VerificationReport
	events       []domain.AuditEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		transactions: make(map[string]domain.Transaction),
		tasks:        make(map[string][]domain.VerificationTask),
		payments:     make(map[string][]domain.Payment),
		settlements:  make(map[string]domain.Settlement),
		disputes:     make(map[string][]domain.Dispute),
		reports:      make(map[string]domain.VerificationReport),
	}
}

func (s *fakeStore) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

func (s *fakeStore) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return domain.Transaction{}, errors.NewNotFoundError("transaction " + id)
	}
	return tx, nil
}

func (s *fakeStore) GetTransactionForUpdate(ctx context.Context, dbTx *sqlx.Tx, id string) (domain.Transaction, error) {
	return s.GetTransaction(ctx, id)
}

func (s *fakeStore) CreateTransactionInTx(ctx context.Context, dbTx *sqlx.Tx, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
	return nil
}

func (s *fakeStore) UpdateTransactionState(ctx context.Context, dbTx *sqlx.Tx, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
	return nil
}

func (s *fakeStore) CreateTasksInTx(ctx context.Context, dbTx *sqlx.Tx, tasks []domain.VerificationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(tasks) == 0 {
		return nil
	}
	s.tasks[tasks[0].TransactionID] = append(s.tasks[tasks[0].TransactionID], tasks...)
	return nil
}

func (s *fakeStore) TasksForTransaction(ctx context.Context, transactionID string) ([]domain.VerificationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.VerificationTask, len(s.tasks[transactionID]))
	copy(out, s.tasks[transactionID])
	return out, nil
}

func (s *fakeStore) UpdateTaskStatusInTx(ctx context.Context, dbTx *sqlx.Tx, taskID string, status domain.TaskStatus, reportID string, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for txID, tasks := range s.tasks {
		for i := range tasks {
			if tasks[i].ID == taskID {
				tasks[i].Status = status
				tasks[i].ReportID = reportID
				tasks[i].CompletedAt = completedAt
				s.tasks[txID] = tasks
				return nil
			}
		}
	}
	return errors.NewNotFoundError("task " + taskID)
}

func (s *fakeStore) CreatePaymentInTx(ctx context.Context, dbTx *sqlx.Tx, p domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.TransactionID] = append(s.payments[p.TransactionID], p)
	return nil
}

func (s *fakeStore) UpdatePaymentStatusInTx(ctx context.Context, dbTx *sqlx.Tx, paymentID string, status domain.PaymentStatus, externalTxRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for txID, payments := range s.payments {
		for i := range payments {
			if payments[i].ID == paymentID {
				payments[i].Status = status
				payments[i].ExternalTxRef = externalTxRef
				s.payments[txID] = payments
				return nil
			}
		}
	}
	return errors.NewNotFoundError("payment " + paymentID)
}

func (s *fakeStore) PaymentsForTransaction(ctx context.Context, transactionID string) ([]domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Payment, len(s.payments[transactionID]))
	copy(out, s.payments[transactionID])
	return out, nil
}

func (s *fakeStore) CreateSettlementInTx(ctx context.Context, dbTx *sqlx.Tx, settlement domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlements[settlement.TransactionID] = settlement
	return nil
}

func (s *fakeStore) GetSettlement(ctx context.Context, transactionID string) (domain.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settlement, ok := s.settlements[transactionID]
	if !ok {
		return domain.Settlement{}, errors.NewNotFoundError("settlement for transaction " + transactionID)
	}
	return settlement, nil
}

func (s *fakeStore) CreateDisputeInTx(ctx context.Context, dbTx *sqlx.Tx, d domain.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disputes[d.TransactionID] = append(s.disputes[d.TransactionID], d)
	return nil
}

func (s *fakeStore) UpdateDisputeStatus(ctx context.Context, disputeID string, status domain.DisputeStatus) error {
	return s.UpdateDisputeStatusInTx(ctx, nil, disputeID, status)
}

func (s *fakeStore) UpdateDisputeStatusInTx(ctx context.Context, dbTx *sqlx.Tx, disputeID string, status domain.DisputeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for txID, disputes := range s.disputes {
		for i := range disputes {
			if disputes[i].ID == disputeID {
				disputes[i].Status = status
				s.disputes[txID] = disputes
				return nil
			}
		}
	}
	return errors.NewNotFoundError("dispute " + disputeID)
}

func (s *fakeStore) DisputesForTransaction(ctx context.Context, transactionID string) ([]domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Dispute, len(s.disputes[transactionID]))
	copy(out, s.disputes[transactionID])
	return out, nil
}

func (s *fakeStore) putReport(report domain.VerificationReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.ID] = report
}

func (s *fakeStore) GetReport(ctx context.Context, id string) (domain.VerificationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[id]
	if !ok {
		return domain.VerificationReport{}, errors.NewNotFoundError("verification report " + id)
	}
	return report, nil
}

// The methods below satisfy audit.Store, letting fakeStore double as the
// primary store backing an *audit.Log in tests.

func (s *fakeStore) AppendEvent(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Pending = true
	s.events = append(s.events, event)
	return event, nil
}

func (s *fakeStore) MarkAcknowledged(ctx context.Context, eventID, externalTxRef string, blockNumber *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == eventID {
			s.events[i].ExternalTxRef = externalTxRef
			s.events[i].BlockNumber = blockNumber
			s.events[i].Pending = false
			return nil
		}
	}
	return errors.NewNotFoundError("audit event " + eventID)
}

func (s *fakeStore) PendingEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []domain.AuditEvent
	for _, e := range s.events {
		if e.Pending {
			pending = append(pending, e)
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *fakeStore) EventsForTransaction(ctx context.Context, transactionID string) ([]domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range s.events {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeSink is an always-succeeding audit.Sink for tests that don't exercise
// reconciliation.
type fakeSink struct{}

func (fakeSink) Record(ctx context.Context, event domain.AuditEvent) (string, *int64, error) {
	return "sink-tx-" + event.ID, nil, nil
}
