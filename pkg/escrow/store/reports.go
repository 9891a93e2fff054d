package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/domain"
)

type reportRow struct {
	ID            string       `db:"id"`
	TaskID        string       `db:"task_id"`
	AgentID       string       `db:"agent_id"`
	Type          string       `db:"type"`
	Status        string       `db:"status"`
	Findings      []byte       `db:"findings"`
	Documents     []byte       `db:"documents"`
	SubmittedAt   sql.NullTime `db:"submitted_at"`
	ReviewedAt    sql.NullTime `db:"reviewed_at"`
	ReviewerNotes string       `db:"reviewer_notes"`
}

func (r reportRow) toDomain() (domain.VerificationReport, error) {
	var findings map[string]interface{}
	if len(r.Findings) > 0 {
		if err := json.Unmarshal(r.Findings, &findings); err != nil {
			return domain.VerificationReport{}, errors.Wrap(err, errors.ErrorTypeDatabase, "decode findings")
		}
	}

	var documents []string
	if len(r.Documents) > 0 {
		if err := json.Unmarshal(r.Documents, &documents); err != nil {
			return domain.VerificationReport{}, errors.Wrap(err, errors.ErrorTypeDatabase, "decode documents")
		}
	}

	report := domain.VerificationReport{
		ID:            r.ID,
		TaskID:        r.TaskID,
		AgentID:       r.AgentID,
		Type:          domain.VerificationType(r.Type),
		Status:        domain.ReportStatus(r.Status),
		Findings:      findings,
		Documents:     documents,
		ReviewerNotes: r.ReviewerNotes,
	}
	if r.SubmittedAt.Valid {
		report.SubmittedAt = r.SubmittedAt.Time
	}
	if r.ReviewedAt.Valid {
		t := r.ReviewedAt.Time
		report.ReviewedAt = &t
	}
	return report, nil
}

// CreateReport inserts a verification report submitted against a task.
func (s *Store) CreateReport(ctx context.Context, report domain.VerificationReport) error {
	findings, err := json.Marshal(report.Findings)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "encode findings")
	}
	documents, err := json.Marshal(report.Documents)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "encode documents")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_reports
			(id, task_id, agent_id, type, status, findings, documents, submitted_at, reviewer_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		report.ID, report.TaskID, report.AgentID, string(report.Type),
		string(report.Status), findings, documents, report.SubmittedAt, report.ReviewerNotes)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "insert verification report")
	}
	return nil
}

// GetReport reads a report by ID.
func (s *Store) GetReport(ctx context.Context, id string) (domain.VerificationReport, error) {
	var row reportRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, task_id, agent_id, type, status, findings, documents, submitted_at, reviewed_at, reviewer_notes
		FROM verification_reports WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.VerificationReport{}, errors.NewNotFoundError("verification report " + id)
		}
		return domain.VerificationReport{}, errors.Wrap(err, errors.ErrorTypeDatabase, "select verification report")
	}
	return row.toDomain()
}
