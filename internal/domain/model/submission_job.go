package model

import (
	"fmt"
	"time"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusValidating JobStatus = "validating"
	JobStatusFormatting JobStatus = "formatting"
	JobStatusSubmitting JobStatus = "submitting"
	JobStatusSubmitted  JobStatus = "submitted" // Accepted by the portal, awaiting confirmation
	JobStatusConfirmed  JobStatus = "confirmed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRejected   JobStatus = "rejected" // Explicit rejection reported by the portal
)

const DefaultMaxRetries = 3

// transitions lists every permitted edge. submitting->queued is the retry edge;
// failed->queued is reserved for an operator retry.
var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusValidating, JobStatusFailed},
	JobStatusValidating: {JobStatusFormatting, JobStatusFailed},
	JobStatusFormatting: {JobStatusSubmitting, JobStatusFailed},
	JobStatusSubmitting: {JobStatusSubmitted, JobStatusQueued, JobStatusFailed},
	JobStatusSubmitted:  {JobStatusConfirmed, JobStatusRejected},
	JobStatusFailed:     {JobStatusQueued},
}

// IsTerminal reports whether the scheduler is done with a job in this status.
// Submitted counts as terminal: only a portal callback may move it further.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSubmitted, JobStatusConfirmed, JobStatusFailed, JobStatusRejected:
		return true
	}
	return false
}

// IsSuccess reports whether the portal accepted the submission.
func (s JobStatus) IsSuccess() bool {
	return s == JobStatusSubmitted || s == JobStatusConfirmed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusValidating, JobStatusFormatting, JobStatusSubmitting,
		JobStatusSubmitted, JobStatusConfirmed, JobStatusFailed, JobStatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether from->to is an edge of the job state machine.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SubmissionJob is one attempt to deliver a bid document to one portal.
// It is persisted as a JSON snapshot after every transition.
type SubmissionJob struct {
	JobID              string            `json:"job_id"`
	RFPID              string            `json:"rfp_id"`
	RFPTitle           string            `json:"rfp_title,omitempty"`
	BidDocumentID      string            `json:"bid_document_id"`
	Portal             string            `json:"portal"`
	Deadline           time.Time         `json:"deadline"`
	Priority           int               `json:"priority"`
	Status             JobStatus         `json:"status"`
	Attempts           int               `json:"attempts"`
	MaxRetries         int               `json:"max_retries"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	SubmittedAt        *time.Time        `json:"submitted_at,omitempty"`
	ConfirmedAt        *time.Time        `json:"confirmed_at,omitempty"`
	NextAttemptAt      *time.Time        `json:"next_attempt_at,omitempty"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	ConfirmationNumber string            `json:"confirmation_number,omitempty"`
	Document           map[string]any    `json:"document,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// StoredTime normalises t to what every store can hold: UTC at microsecond
// precision, the resolution of a postgres timestamptz.
func StoredTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// NewSubmissionJob builds a queued job. All timestamps go through StoredTime so
// snapshots encode identically after a reload from any backend.
func NewSubmissionJob(id string, rfp RFPMeta, doc BidDocument, portal string, priority, maxRetries int, now time.Time) *SubmissionJob {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now = StoredTime(now)
	return &SubmissionJob{
		JobID:         id,
		RFPID:         rfp.ID,
		RFPTitle:      rfp.Title,
		BidDocumentID: doc.ID,
		Portal:        portal,
		Deadline:      StoredTime(rfp.Deadline),
		Priority:      priority,
		Status:        JobStatusQueued,
		MaxRetries:    maxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
		Document:      copyAnyMap(doc.Content),
		Metadata:      map[string]string{},
	}
}

// TransitionTo moves the job along one state machine edge.
func (j *SubmissionJob) TransitionTo(to JobStatus, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("job %s: %s -> %s: %w", j.JobID, j.Status, to, common.ErrInvalidTransition)
	}
	now = StoredTime(now)
	j.Status = to
	j.UpdatedAt = now
	switch to {
	case JobStatusSubmitted:
		if j.SubmittedAt == nil {
			j.SubmittedAt = &now
		}
	case JobStatusConfirmed:
		if j.ConfirmedAt == nil {
			j.ConfirmedAt = &now
		}
	case JobStatusQueued:
		j.ErrorMessage = ""
	}
	return nil
}

// Fail moves the job to failed with reason as its error message.
func (j *SubmissionJob) Fail(reason string, now time.Time) error {
	if err := j.TransitionTo(JobStatusFailed, now); err != nil {
		return err
	}
	j.ErrorMessage = reason
	j.NextAttemptAt = nil
	return nil
}

func (j *SubmissionJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// RetriesRemaining reports whether another submit attempt is allowed.
func (j *SubmissionJob) RetriesRemaining() bool {
	return j.Attempts < j.MaxRetries
}

// DeadlinePassed reports whether the hard cutoff is before now.
func (j *SubmissionJob) DeadlinePassed(now time.Time) bool {
	return !j.Deadline.IsZero() && now.After(j.Deadline)
}

// BidDocument rebuilds the document the job was created with.
func (j *SubmissionJob) BidDocument() BidDocument {
	return BidDocument{ID: j.BidDocumentID, Content: copyAnyMap(j.Document)}
}

// Clone returns a deep copy so callers never share mutable state with the scheduler.
func (j *SubmissionJob) Clone() *SubmissionJob {
	if j == nil {
		return nil
	}
	c := *j
	c.SubmittedAt = copyTime(j.SubmittedAt)
	c.ConfirmedAt = copyTime(j.ConfirmedAt)
	c.NextAttemptAt = copyTime(j.NextAttemptAt)
	c.Document = copyAnyMap(j.Document)
	if j.Metadata != nil {
		c.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// StatusResult returns the externally visible view of the job.
func (j *SubmissionJob) StatusResult() JobStatusResult {
	return JobStatusResult{
		Found:              true,
		JobID:              j.JobID,
		RFPID:              j.RFPID,
		Portal:             j.Portal,
		Status:             j.Status,
		ConfirmationNumber: j.ConfirmationNumber,
		ErrorMessage:       j.ErrorMessage,
		Attempts:           j.Attempts,
		MaxRetries:         j.MaxRetries,
	}
}

// JobStatusResult is returned for every status lookup, including unknown ids.
type JobStatusResult struct {
	Found              bool      `json:"found"`
	JobID              string    `json:"job_id"`
	RFPID              string    `json:"rfp_id,omitempty"`
	Portal             string    `json:"portal,omitempty"`
	Status             JobStatus `json:"status,omitempty"`
	ConfirmationNumber string    `json:"confirmation_number,omitempty"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	Attempts           int       `json:"attempts"`
	MaxRetries         int       `json:"max_retries,omitempty"`
}

func NotFoundStatus(jobID string) JobStatusResult {
	return JobStatusResult{Found: false, JobID: jobID}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
