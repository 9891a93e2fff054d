// Package workflow builds and tracks the DAG of verification tasks attached
// to a transaction (§4.2): dependency validation, deadline propagation,
// the executable frontier, and overdue/escalation detection.
package workflow

import (
	"time"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

// TaskDefinition configures one verification type's place in the DAG.
type TaskDefinition struct {
	Type          domain.VerificationType
	Dependencies  []domain.VerificationType
	DeadlineDays  int
	PaymentAmount money.Amount
	AgentID       string // empty means the caller assigns one at CreateTasks time
}

// DefaultTaskDefinitions is the standard four-task workflow (§4.2): title
// search and inspection run independently, appraisal waits on inspection,
// and lending waits on both title search and appraisal.
func DefaultTaskDefinitions() map[domain.VerificationType]TaskDefinition {
	return map[domain.VerificationType]TaskDefinition{
		domain.TypeTitleSearch: {
			Type:          domain.TypeTitleSearch,
			DeadlineDays:  5,
			PaymentAmount: money.MustNewFromString("1200.00"),
		},
		domain.TypeInspection: {
			Type:          domain.TypeInspection,
			DeadlineDays:  7,
			PaymentAmount: money.MustNewFromString("500.00"),
		},
		domain.TypeAppraisal: {
			Type:          domain.TypeAppraisal,
			Dependencies:  []domain.VerificationType{domain.TypeInspection},
			DeadlineDays:  5,
			PaymentAmount: money.MustNewFromString("400.00"),
		},
		domain.TypeLending: {
			Type:          domain.TypeLending,
			Dependencies:  []domain.VerificationType{domain.TypeTitleSearch, domain.TypeAppraisal},
			DeadlineDays:  10,
			PaymentAmount: money.Zero,
		},
	}
}

// Workflow tracks task status and computed deadlines for one transaction's
// verification DAG. It holds no store reference; callers own persistence.
type Workflow struct {
	TransactionID string
	definitions   map[domain.VerificationType]TaskDefinition
	status        map[domain.VerificationType]domain.TaskStatus
	deadlines     map[domain.VerificationType]time.Time
}

// OverdueTask describes one task past its deadline (§4.2 escalation rule).
type OverdueTask struct {
	Type                domain.VerificationType
	Deadline            time.Time
	DaysOverdue         int
	Status              domain.TaskStatus
	EscalationRequired  bool
}

// Progress summarizes completion across the workflow's tasks.
type Progress struct {
	TotalTasks          int
	CompletedTasks      int
	InProgressTasks     int
	FailedTasks         int
	CompletionPercentage float64
	IsComplete          bool
}

// New validates defs as an acyclic graph and returns a Workflow ready to
// create tasks. It fails with ErrorTypeConflict (CircularDependency) if defs
// contains a cycle.
func New(transactionID string, defs map[domain.VerificationType]TaskDefinition) (*Workflow, error) {
	if err := validateDAG(defs); err != nil {
		return nil, err
	}

	return &Workflow{
		TransactionID: transactionID,
		definitions:   defs,
		status:        make(map[domain.VerificationType]domain.TaskStatus),
		deadlines:     make(map[domain.VerificationType]time.Time),
	}, nil
}

func validateDAG(defs map[domain.VerificationType]TaskDefinition) error {
	visited := make(map[domain.VerificationType]bool)
	onStack := make(map[domain.VerificationType]bool)

	var hasCycle func(t domain.VerificationType) bool
	hasCycle = func(t domain.VerificationType) bool {
		visited[t] = true
		onStack[t] = true
		defer func() { onStack[t] = false }()

		for _, dep := range defs[t].Dependencies {
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if onStack[dep] {
				return true
			}
		}
		return false
	}

	for t := range defs {
		if !visited[t] {
			if hasCycle(t) {
				return errors.NewConflictError("circular dependency detected in workflow for task " + string(t))
			}
		}
	}
	return nil
}

// CreateTasks materializes one VerificationTask per definition, computing
// each deadline from baseDate via calculateDeadline, and seeds every task's
// status as ASSIGNED.
func (w *Workflow) CreateTasks(baseDate time.Time) []domain.VerificationTask {
	tasks := make([]domain.VerificationTask, 0, len(w.definitions))

	for t, def := range w.definitions {
		deadline := w.calculateDeadline(t, baseDate)

		agentID := def.AgentID
		if agentID == "" {
			agentID = "agent_" + string(t)
		}

		tasks = append(tasks, domain.VerificationTask{
			TransactionID:   w.TransactionID,
			Type:            t,
			AssignedAgentID: agentID,
			Status:          domain.TaskAssigned,
			DependsOn:       def.Dependencies,
			Deadline:        deadline,
			PaymentAmount:   def.PaymentAmount,
			AssignedAt:      baseDate,
		})

		w.status[t] = domain.TaskAssigned
		w.deadlines[t] = deadline
	}

	return tasks
}

// calculateDeadline implements deadline(T) = max(deps' deadlines) +
// T.deadline_days, recursing into dependencies not yet computed and
// memoizing the result in w.deadlines.
func (w *Workflow) calculateDeadline(t domain.VerificationType, baseDate time.Time) time.Time {
	def := w.definitions[t]

	if len(def.Dependencies) == 0 {
		return baseDate.AddDate(0, 0, def.DeadlineDays)
	}

	latest := baseDate
	for _, dep := range def.Dependencies {
		depDeadline, ok := w.deadlines[dep]
		if !ok {
			depDeadline = w.calculateDeadline(dep, baseDate)
			w.deadlines[dep] = depDeadline
		}
		if depDeadline.After(latest) {
			latest = depDeadline
		}
	}

	return latest.AddDate(0, 0, def.DeadlineDays)
}

// ExecutableTasks returns the tasks not yet completed or in progress whose
// dependencies are all completed — the frontier the engine may dispatch in
// parallel.
func (w *Workflow) ExecutableTasks() []domain.VerificationType {
	var executable []domain.VerificationType

	for t, def := range w.definitions {
		switch w.status[t] {
		case domain.TaskCompleted, domain.TaskInProgress:
			continue
		}

		allMet := true
		for _, dep := range def.Dependencies {
			if w.status[dep] != domain.TaskCompleted {
				allMet = false
				break
			}
		}

		if allMet {
			executable = append(executable, t)
		}
	}

	return executable
}

// UpdateTaskStatus records a new status for t.
func (w *Workflow) UpdateTaskStatus(t domain.VerificationType, status domain.TaskStatus) {
	w.status[t] = status
}

// TaskStatus returns the tracked status for t, or "" if unknown.
func (w *Workflow) TaskStatus(t domain.VerificationType) domain.TaskStatus {
	return w.status[t]
}

// OverdueTasks reports every non-completed task whose deadline has passed as
// of now, flagging EscalationRequired when more than two days overdue.
func (w *Workflow) OverdueTasks(now time.Time) []OverdueTask {
	var overdue []OverdueTask

	for t, deadline := range w.deadlines {
		status := w.status[t]
		if status == domain.TaskCompleted || !now.After(deadline) {
			continue
		}

		daysOverdue := int(now.Sub(deadline).Hours() / 24)
		overdue = append(overdue, OverdueTask{
			Type:               t,
			Deadline:           deadline,
			DaysOverdue:        daysOverdue,
			Status:             status,
			EscalationRequired: daysOverdue > 2,
		})
	}

	return overdue
}

// IsComplete reports whether every task has reached COMPLETED.
func (w *Workflow) IsComplete() bool {
	if len(w.status) == 0 {
		return false
	}
	for _, s := range w.status {
		if s != domain.TaskCompleted {
			return false
		}
	}
	return true
}

// AllApproved reports whether every task has COMPLETED with an APPROVED
// report — callers resolve the report status and pass it in, since Workflow
// itself tracks task status only, not report content.
func (w *Workflow) AllApproved(reportStatus map[domain.VerificationType]domain.ReportStatus) bool {
	if !w.IsComplete() {
		return false
	}
	for t := range w.definitions {
		if reportStatus[t] != domain.ReportApproved {
			return false
		}
	}
	return true
}

// ProgressSummary reports completion counts across the workflow's tasks.
func (w *Workflow) ProgressSummary() Progress {
	total := len(w.definitions)
	var completed, inProgress, failed int

	for _, s := range w.status {
		switch s {
		case domain.TaskCompleted:
			completed++
		case domain.TaskInProgress:
			inProgress++
		case domain.TaskFailed:
			failed++
		}
	}

	pct := 0.0
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}

	return Progress{
		TotalTasks:           total,
		CompletedTasks:       completed,
		InProgressTasks:      inProgress,
		FailedTasks:          failed,
		CompletionPercentage: pct,
		IsComplete:           w.IsComplete(),
	}
}

// DependencyChain returns t's full dependency chain in topological order,
// ending with t itself.
func (w *Workflow) DependencyChain(t domain.VerificationType) []domain.VerificationType {
	visited := make(map[domain.VerificationType]bool)
	var chain []domain.VerificationType

	var visit func(domain.VerificationType)
	visit = func(cur domain.VerificationType) {
		if visited[cur] {
			return
		}
		visited[cur] = true

		for _, dep := range w.definitions[cur].Dependencies {
			visit(dep)
		}
		chain = append(chain, cur)
	}

	visit(t)
	return chain
}
