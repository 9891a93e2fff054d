package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
	"github.com/ycagentic/escrow-orchestrator/pkg/money"
)

type taskRow struct {
	ID              string       `db:"id"`
	TransactionID   string       `db:"transaction_id"`
	Type            string       `db:"type"`
	AssignedAgentID string       `db:"assigned_agent_id"`
	Status          string       `db:"status"`
	DependsOn       []byte       `db:"depends_on"`
	Deadline        sql.NullTime `db:"deadline"`
	PaymentAmount   string       `db:"payment_amount"`
	ReportID        string       `db:"report_id"`
	AssignedAt      sql.NullTime `db:"assigned_at"`
	CompletedAt     sql.NullTime `db:"completed_at"`
}

func (r taskRow) toDomain() (domain.VerificationTask, error) {
	amount, err := money.NewFromString(r.PaymentAmount)
	if err != nil {
		return domain.VerificationTask{}, errors.Wrap(err, errors.ErrorTypeDatabase, "parse payment_amount")
	}

	var dependsOn []domain.VerificationType
	if len(r.DependsOn) > 0 {
		if err := json.Unmarshal(r.DependsOn, &dependsOn); err != nil {
			return domain.VerificationTask{}, errors.Wrap(err, errors.ErrorTypeDatabase, "decode depends_on")
		}
	}

	task := domain.VerificationTask{
		ID:              r.ID,
		TransactionID:   r.TransactionID,
		Type:            domain.VerificationType(r.Type),
		AssignedAgentID: r.AssignedAgentID,
		Status:          domain.TaskStatus(r.Status),
		DependsOn:       dependsOn,
		PaymentAmount:   amount,
		ReportID:        r.ReportID,
	}
	if r.Deadline.Valid {
		task.Deadline = r.Deadline.Time
	}
	if r.AssignedAt.Valid {
		task.AssignedAt = r.AssignedAt.Time
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		task.CompletedAt = &t
	}
	return task, nil
}

// CreateTasks inserts every task in tasks directly against s.db, outside
// any transaction; CreateTasksInTx is the variant that joins a
// caller-managed transaction.
func (s *Store) CreateTasks(ctx context.Context, tasks []domain.VerificationTask) error {
	return createTasks(ctx, s.db, tasks)
}

// CreateTasksInTx is CreateTasks run against an existing caller-managed
// transaction.
func (s *Store) CreateTasksInTx(ctx context.Context, dbTx *sqlx.Tx, tasks []domain.VerificationTask) error {
	return createTasks(ctx, dbTx, tasks)
}

func createTasks(ctx context.Context, q querier, tasks []domain.VerificationTask) error {
	for _, task := range tasks {
		if err := createTask(ctx, q, task); err != nil {
			return err
		}
	}
	return nil
}

func createTask(ctx context.Context, q querier, task domain.VerificationTask) error {
	dependsOn, err := json.Marshal(task.DependsOn)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "encode depends_on")
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO verification_tasks
			(id, transaction_id, type, assigned_agent_id, status, depends_on,
			 deadline, payment_amount, report_id, assigned_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		task.ID, task.TransactionID, string(task.Type), task.AssignedAgentID,
		string(task.Status), dependsOn, task.Deadline, task.PaymentAmount.String(),
		task.ReportID, task.AssignedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "insert verification task")
	}
	return nil
}

// TasksForTransaction returns every task belonging to transactionID.
func (s *Store) TasksForTransaction(ctx context.Context, transactionID string) ([]domain.VerificationTask, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, transaction_id, type, assigned_agent_id, status, depends_on,
			deadline, payment_amount, report_id, assigned_at, completed_at
		FROM verification_tasks WHERE transaction_id = $1 ORDER BY assigned_at`, transactionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "select verification tasks")
	}

	tasks := make([]domain.VerificationTask, 0, len(rows))
	for _, row := range rows {
		task, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// UpdateTaskStatus persists a task's new status together with the given
// report ID and completion time; both are written on every call, whatever
// the status.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus, reportID string, completedAt *time.Time) error {
	return updateTaskStatus(ctx, s.db, taskID, status, reportID, completedAt)
}

// UpdateTaskStatusInTx is UpdateTaskStatus run against an existing
// caller-managed transaction.
func (s *Store) UpdateTaskStatusInTx(ctx context.Context, dbTx *sqlx.Tx, taskID string, status domain.TaskStatus, reportID string, completedAt *time.Time) error {
	return updateTaskStatus(ctx, dbTx, taskID, status, reportID, completedAt)
}

func updateTaskStatus(ctx context.Context, q querier, taskID string, status domain.TaskStatus, reportID string, completedAt *time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE verification_tasks SET status = $2, report_id = $3, completed_at = $4, updated_at = now()
		WHERE id = $1`, taskID, string(status), reportID, completedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "update task status")
	}
	return nil
}
