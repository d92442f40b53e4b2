package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

const submissionSchema = `
CREATE TABLE IF NOT EXISTS submission_jobs (
    job_id              TEXT PRIMARY KEY,
    rfp_id              TEXT NOT NULL,
    rfp_title           TEXT NOT NULL DEFAULT '',
    bid_document_id     TEXT NOT NULL,
    portal              TEXT NOT NULL,
    deadline            TIMESTAMPTZ NOT NULL,
    priority            INTEGER NOT NULL DEFAULT 0,
    status              TEXT NOT NULL,
    attempts            INTEGER NOT NULL DEFAULT 0,
    max_retries         INTEGER NOT NULL DEFAULT 3,
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL,
    submitted_at        TIMESTAMPTZ,
    confirmed_at        TIMESTAMPTZ,
    next_attempt_at     TIMESTAMPTZ,
    error_message       TEXT NOT NULL DEFAULT '',
    confirmation_number TEXT NOT NULL DEFAULT '',
    document            JSONB NOT NULL DEFAULT '{}'::jsonb,
    metadata            JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS idx_submission_jobs_status ON submission_jobs(status);

CREATE TABLE IF NOT EXISTS submission_audit (
    id          BIGSERIAL PRIMARY KEY,
    job_id      TEXT NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL,
    event_type  TEXT NOT NULL,
    success     BOOLEAN NOT NULL,
    details     JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS idx_submission_audit_job ON submission_audit(job_id, id);
`

// EnsureSubmissionSchema creates the job snapshot and audit tables if missing.
func EnsureSubmissionSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, submissionSchema); err != nil {
		return fmt.Errorf("ensure submission schema: %w", err)
	}
	return nil
}

type pgJobStore struct {
	db *sql.DB
}

func NewPgJobStore(db *sql.DB) JobStore {
	return &pgJobStore{db: db}
}

// Save upserts the snapshot. Writes for one job arrive in transition order from
// the goroutine that owns the job, so last-write-wins is the correct merge.
func (r *pgJobStore) Save(ctx context.Context, job *model.SubmissionJob) error {
	document, err := json.Marshal(job.Document)
	if err != nil {
		return fmt.Errorf("pgJobStore.Save: encode document: %w", err)
	}
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("pgJobStore.Save: encode metadata: %w", err)
	}

	query := `INSERT INTO submission_jobs (job_id, rfp_id, rfp_title, bid_document_id, portal, deadline, priority,
	              status, attempts, max_retries, created_at, updated_at, submitted_at, confirmed_at, next_attempt_at,
	              error_message, confirmation_number, document, metadata)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	          ON CONFLICT (job_id) DO UPDATE SET
	              status = EXCLUDED.status, attempts = EXCLUDED.attempts, updated_at = EXCLUDED.updated_at,
	              submitted_at = EXCLUDED.submitted_at, confirmed_at = EXCLUDED.confirmed_at,
	              next_attempt_at = EXCLUDED.next_attempt_at, error_message = EXCLUDED.error_message,
	              confirmation_number = EXCLUDED.confirmation_number, metadata = EXCLUDED.metadata`
	_, err = r.db.ExecContext(ctx, query,
		job.JobID, job.RFPID, job.RFPTitle, job.BidDocumentID, job.Portal, job.Deadline, job.Priority,
		string(job.Status), job.Attempts, job.MaxRetries, job.CreatedAt, job.UpdatedAt,
		job.SubmittedAt, job.ConfirmedAt, job.NextAttemptAt,
		job.ErrorMessage, job.ConfirmationNumber, document, metadata,
	)
	if err != nil {
		return fmt.Errorf("pgJobStore.Save: %w", err)
	}
	return nil
}

const selectJobColumns = `SELECT job_id, rfp_id, rfp_title, bid_document_id, portal, deadline, priority, status,
       attempts, max_retries, created_at, updated_at, submitted_at, confirmed_at, next_attempt_at,
       error_message, confirmation_number, document, metadata
FROM submission_jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.SubmissionJob, error) {
	job := &model.SubmissionJob{}
	var status string
	var submittedAt, confirmedAt, nextAttemptAt sql.NullTime
	var document, metadata []byte
	err := row.Scan(
		&job.JobID, &job.RFPID, &job.RFPTitle, &job.BidDocumentID, &job.Portal, &job.Deadline, &job.Priority, &status,
		&job.Attempts, &job.MaxRetries, &job.CreatedAt, &job.UpdatedAt, &submittedAt, &confirmedAt, &nextAttemptAt,
		&job.ErrorMessage, &job.ConfirmationNumber, &document, &metadata,
	)
	if err != nil {
		return nil, err
	}
	job.Status = model.JobStatus(status)
	job.Deadline = job.Deadline.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.SubmittedAt = nullTime(submittedAt)
	job.ConfirmedAt = nullTime(confirmedAt)
	job.NextAttemptAt = nullTime(nextAttemptAt)
	if len(document) > 0 {
		if err := json.Unmarshal(document, &job.Document); err != nil {
			return nil, fmt.Errorf("decode document for %s: %w", job.JobID, err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", job.JobID, err)
		}
	}
	return job, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func (r *pgJobStore) Load(ctx context.Context, jobID string) (*model.SubmissionJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, selectJobColumns+` WHERE job_id = $1`, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", jobID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgJobStore.Load: %w", err)
	}
	return job, nil
}

func (r *pgJobStore) List(ctx context.Context) ([]*model.SubmissionJob, error) {
	rows, err := r.db.QueryContext(ctx, selectJobColumns+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("pgJobStore.List: %w", err)
	}
	defer rows.Close()

	var jobs []*model.SubmissionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("pgJobStore.List: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type pgAuditLog struct {
	db *sql.DB
}

func NewPgAuditLog(db *sql.DB) AuditLog {
	return &pgAuditLog{db: db}
}

func (r *pgAuditLog) Append(ctx context.Context, entry model.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("pgAuditLog.Append: encode details: %w", err)
	}
	query := `INSERT INTO submission_audit (job_id, occurred_at, event_type, success, details)
	          VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, entry.JobID, entry.Timestamp, string(entry.EventType), entry.Success, details); err != nil {
		return fmt.Errorf("pgAuditLog.Append: %w", err)
	}
	return nil
}

func (r *pgAuditLog) Entries(ctx context.Context, jobID string) ([]model.AuditEntry, error) {
	query := `SELECT job_id, occurred_at, event_type, success, details
	          FROM submission_audit WHERE job_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("pgAuditLog.Entries: %w", err)
	}
	defer rows.Close()

	entries := []model.AuditEntry{}
	for rows.Next() {
		var entry model.AuditEntry
		var eventType string
		var details []byte
		if err := rows.Scan(&entry.JobID, &entry.Timestamp, &eventType, &entry.Success, &details); err != nil {
			return nil, fmt.Errorf("pgAuditLog.Entries: %w", err)
		}
		entry.EventType = model.AuditEventType(eventType)
		entry.Timestamp = entry.Timestamp.UTC()
		if len(details) > 0 && string(details) != "null" {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("pgAuditLog.Entries: decode details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
