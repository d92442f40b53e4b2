package model

import "time"

type AuditEventType string

const (
	AuditJobCreated           AuditEventType = "job_created"
	AuditValidationPassed     AuditEventType = "validation_passed"
	AuditValidationFailed     AuditEventType = "validation_failed"
	AuditSubmissionSuccessful AuditEventType = "submission_successful"
	AuditSubmissionFailed     AuditEventType = "submission_failed"
	AuditJobCancelled         AuditEventType = "job_cancelled"
	AuditJobRequeued          AuditEventType = "job_requeued"
	AuditPortalConfirmed      AuditEventType = "portal_confirmed"
	AuditPortalRejected       AuditEventType = "portal_rejected"
)

// AuditEntry is one immutable record in a job's history.
type AuditEntry struct {
	JobID     string         `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	Success   bool           `json:"success"`
	Details   map[string]any `json:"details,omitempty"`
}
