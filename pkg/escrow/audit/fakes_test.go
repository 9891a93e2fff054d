package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
)

type memoryStore struct {
	mu     sync.Mutex
	nextID int
	events map[string]domain.AuditEvent
	order  []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{events: make(map[string]domain.AuditEvent)}
}

func (m *memoryStore) AppendEvent(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	event.ID = fmt.Sprintf("evt-%d", m.nextID)
	m.events[event.ID] = event
	m.order = append(m.order, event.ID)
	return event, nil
}

func (m *memoryStore) MarkAcknowledged(ctx context.Context, eventID, externalTxRef string, blockNumber *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[eventID]
	if !ok {
		return errors.New("unknown event")
	}
	event.ExternalTxRef = externalTxRef
	event.BlockNumber = blockNumber
	event.Pending = false
	m.events[eventID] = event
	return nil
}

func (m *memoryStore) PendingEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []domain.AuditEvent
	for _, id := range m.order {
		if event := m.events[id]; event.Pending {
			pending = append(pending, event)
			if len(pending) >= limit {
				break
			}
		}
	}
	return pending, nil
}

func (m *memoryStore) EventsForTransaction(ctx context.Context, transactionID string) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.AuditEvent
	for _, id := range m.order {
		event := m.events[id]
		if event.TransactionID == transactionID {
			out = append(out, event)
		}
	}
	return out, nil
}

type flakySink struct {
	mu        sync.Mutex
	failUntil int
	calls     map[string]int
}

func newFlakySink(failUntil int) *flakySink {
	return &flakySink{failUntil: failUntil, calls: make(map[string]int)}
}

func (s *flakySink) Record(ctx context.Context, event domain.AuditEvent) (string, *int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[event.ID]++
	if s.calls[event.ID] <= s.failUntil {
		return "", nil, errors.New("sink unavailable")
	}
	return "ref-" + event.ID, nil, nil
}
