package engine

import (
	"context"
	"sync"
	"time"

	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/cache"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	tasks    map[string]domain.VerificationTask
	reports  map[string]domain.VerificationReport
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:   make(map[string]domain.VerificationTask),
		reports: make(map[string]domain.VerificationReport),
	}
}

func (f *fakeStore) CreateTasks(ctx context.Context, tasks []domain.VerificationTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range tasks {
		f.tasks[task.ID] = task
	}
	return nil
}

func (f *fakeStore) TasksForTransaction(ctx context.Context, transactionID string) ([]domain.VerificationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.VerificationTask
	for _, task := range f.tasks {
		if task.TransactionID == transactionID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus, reportID string, completedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := f.tasks[taskID]
	task.Status = status
	task.ReportID = reportID
	task.CompletedAt = completedAt
	f.tasks[taskID] = task
	return nil
}

func (f *fakeStore) CreateReport(ctx context.Context, report domain.VerificationReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[report.ID] = report
	return nil
}

func (f *fakeStore) taskByType(transactionID string, t domain.VerificationType) (domain.VerificationTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.TransactionID == transactionID && task.Type == t {
			return task, true
		}
	}
	return domain.VerificationTask{}, false
}

type fakeCache struct {
	mu                  sync.Mutex
	invalidationCalls   int
	lastWorkflowView    cache.WorkflowView
}

func newFakeCache() *fakeCache { return &fakeCache{} }

func (f *fakeCache) PutWorkflow(ctx context.Context, view cache.WorkflowView) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWorkflowView = view
	return nil
}

func (f *fakeCache) InvalidateTransactionAndWorkflow(ctx context.Context, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidationCalls++
	return nil
}
