package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/notify"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/portal"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/repository"
)

type AgentConfig struct {
	MaxConcurrentSubmissions int
	MaxRetries               int
	SubmitTimeout            time.Duration
	VerifyTimeout            time.Duration
	RetryBackoffBase         time.Duration // zero disables backoff
	PollInterval             time.Duration
	LockRetryDelay           time.Duration
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.MaxConcurrentSubmissions < 1 {
		c.MaxConcurrentSubmissions = 1
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = model.DefaultMaxRetries
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 60 * time.Second
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 15 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.LockRetryDelay <= 0 {
		c.LockRetryDelay = c.PollInterval
	}
	return c
}

// backoff is the delay before attempt n+1 after n failed attempts.
func (c AgentConfig) backoff(attempts int) time.Duration {
	if c.RetryBackoffBase <= 0 || attempts < 1 {
		return 0
	}
	return time.Duration(float64(c.RetryBackoffBase) * math.Pow(2, float64(attempts-1)))
}

type Option func(*SubmissionAgent)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *SubmissionAgent) { a.now = now }
}

// WithLocker installs a cross-process job locker.
func WithLocker(l JobLocker) Option {
	return func(a *SubmissionAgent) { a.locker = l }
}

// SubmissionAgent is the submission scheduler. It owns the pending queue and
// the active set; the job store and audit log are its only shared state.
type SubmissionAgent struct {
	cfg      AgentConfig
	portals  *portal.Registry
	store    repository.JobStore
	audit    repository.AuditLog
	notifier notify.Notifier
	locker   JobLocker
	now      func() time.Time

	queue *pendingQueue
	slots chan struct{}
	wake  chan struct{}
}

func NewSubmissionAgent(cfg AgentConfig, portals *portal.Registry, store repository.JobStore, audit repository.AuditLog, notifier notify.Notifier, opts ...Option) *SubmissionAgent {
	cfg = cfg.withDefaults()
	a := &SubmissionAgent{
		cfg:      cfg,
		portals:  portals,
		store:    store,
		audit:    audit,
		notifier: notifier,
		locker:   NewMemoryLocker(),
		now:      time.Now,
		queue:    newPendingQueue(),
		slots:    make(chan struct{}, cfg.MaxConcurrentSubmissions),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Portals returns the registered portal keys.
func (a *SubmissionAgent) Portals() []string {
	return a.portals.Keys()
}

// QueueDepth returns the number of pending and in-flight jobs.
func (a *SubmissionAgent) QueueDepth() (pending, active int) {
	return a.queue.Len()
}

// SubmitBid creates a queued job for doc on portalKey. No job is created when
// the portal has no registered adapter.
func (a *SubmissionAgent) SubmitBid(ctx context.Context, rfp model.RFPMeta, doc model.BidDocument, portalKey string, priority int) (*model.SubmissionJob, error) {
	if _, ok := a.portals.Get(portalKey); !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrAdapterUnavailable, portalKey)
	}

	content := make(map[string]any, len(doc.Content)+1)
	for k, v := range doc.Content {
		content[k] = v
	}
	if doc.ID != "" {
		if _, ok := content["document_id"]; !ok {
			content["document_id"] = doc.ID
		}
	}
	doc.Content = content

	job := model.NewSubmissionJob(uuid.NewString(), rfp, doc, portalKey, priority, a.cfg.MaxRetries, a.now())
	if err := a.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("persist new job: %w", err)
	}
	a.record(ctx, job, model.AuditJobCreated, true, map[string]any{
		"rfp_id":          job.RFPID,
		"bid_document_id": job.BidDocumentID,
		"portal":          job.Portal,
		"priority":        job.Priority,
		"deadline":        job.Deadline,
	})

	created := job.Clone()
	a.enqueue(job)
	a.notify(ctx, job, model.NotificationQueued,
		fmt.Sprintf("Bid for RFP %s queued for submission to %s", job.RFPID, job.Portal))
	log.Printf("INFO: Job %s queued (rfp=%s portal=%s priority=%d)", job.JobID, job.RFPID, job.Portal, job.Priority)
	return created, nil
}

// ValidateSubmission runs the bound adapter's requirement checks and records
// the outcome. It does not change the job's status.
func (a *SubmissionAgent) ValidateSubmission(ctx context.Context, job *model.SubmissionJob, doc model.BidDocument) (bool, []string) {
	var errs []string
	adapter, ok := a.portals.Get(job.Portal)
	if !ok {
		errs = []string{fmt.Sprintf("%s: %s", common.ErrAdapterUnavailable, job.Portal)}
	} else {
		errs = safeValidate(adapter, doc)
	}

	if len(errs) > 0 {
		a.record(ctx, job, model.AuditValidationFailed, false, map[string]any{"errors": errs})
		return false, errs
	}
	a.record(ctx, job, model.AuditValidationPassed, true, map[string]any{"portal": job.Portal})
	return true, nil
}

// RetryFailedSubmission puts a failed job back in the queue. Jobs that used up
// their retries are refused.
func (a *SubmissionAgent) RetryFailedSubmission(ctx context.Context, jobID string) error {
	job, err := a.store.Load(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusFailed {
		return fmt.Errorf("job %s is %s, only failed jobs can be retried: %w", jobID, job.Status, common.ErrInvalidTransition)
	}
	if job.Attempts >= job.MaxRetries {
		log.Printf("WARN: Retry refused for job %s: %d of %d attempts used", jobID, job.Attempts, job.MaxRetries)
		return fmt.Errorf("job %s: %w", jobID, common.ErrRetriesExhausted)
	}

	previous := job.ErrorMessage
	if err := job.TransitionTo(model.JobStatusQueued, a.now()); err != nil {
		return err
	}
	job.NextAttemptAt = nil
	if err := a.store.Save(ctx, job); err != nil {
		return fmt.Errorf("persist retried job: %w", err)
	}
	a.record(ctx, job, model.AuditJobRequeued, true, map[string]any{
		"previous_error": previous,
		"attempts":       job.Attempts,
	})
	a.enqueue(job)
	log.Printf("INFO: Job %s re-queued by operator", jobID)
	return nil
}

// GetJobStatus never fails: unknown ids yield a result with Found=false.
func (a *SubmissionAgent) GetJobStatus(ctx context.Context, jobID string) model.JobStatusResult {
	job, err := a.store.Load(ctx, jobID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			log.Printf("ERROR: Failed to load job %s for status: %v", jobID, err)
		}
		return model.NotFoundStatus(jobID)
	}
	return job.StatusResult()
}

// AuditTrail returns the job's audit entries in append order.
func (a *SubmissionAgent) AuditTrail(ctx context.Context, jobID string) ([]model.AuditEntry, error) {
	if _, err := a.store.Load(ctx, jobID); err != nil {
		return nil, err
	}
	return a.audit.Entries(ctx, jobID)
}

type CancelOutcome string

const (
	CancelApplied CancelOutcome = "cancelled"
	// CancelPending means the job is mid-pipeline; the cancel takes effect
	// once the current attempt completes or times out.
	CancelPending CancelOutcome = "cancel_pending"
)

// CancelJob stops a job that has not reached a terminal state. History is
// kept: the cancel is recorded as a job_cancelled audit entry.
func (a *SubmissionAgent) CancelJob(ctx context.Context, jobID, reason string) (CancelOutcome, error) {
	if reason == "" {
		reason = "operator request"
	}
	switch a.queue.RequestCancel(jobID, reason) {
	case cancelDeferred:
		log.Printf("INFO: Cancel requested for in-flight job %s", jobID)
		return CancelPending, nil
	case cancelRemoved:
		job, err := a.store.Load(ctx, jobID)
		if err != nil {
			return "", err
		}
		a.applyCancel(ctx, job, reason)
		return CancelApplied, nil
	}

	job, err := a.store.Load(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.IsTerminal() {
		return "", fmt.Errorf("job %s is %s: %w", jobID, job.Status, common.ErrJobTerminal)
	}
	if job.Status != model.JobStatusQueued {
		return "", fmt.Errorf("job %s is being processed by another worker: %w", jobID, common.ErrConflict)
	}
	a.applyCancel(ctx, job, reason)
	return CancelApplied, nil
}

// applyCancel fails a queued job that is no longer in the pending heap.
func (a *SubmissionAgent) applyCancel(ctx context.Context, job *model.SubmissionJob, reason string) {
	if err := job.Fail("cancelled: "+reason, a.now()); err != nil {
		log.Printf("ERROR: Cannot cancel job %s: %v", job.JobID, err)
		return
	}
	a.persist(ctx, job)
	a.record(ctx, job, model.AuditJobCancelled, true, map[string]any{"reason": reason})
	a.notify(ctx, job, model.NotificationFailed,
		fmt.Sprintf("Bid for RFP %s to %s was cancelled: %s", job.RFPID, job.Portal, reason))
	log.Printf("INFO: Job %s cancelled: %s", job.JobID, reason)
}

// RecordPortalOutcome applies an asynchronous confirmation or rejection from
// the portal to a submitted job. Repeating an outcome already applied is a no-op.
func (a *SubmissionAgent) RecordPortalOutcome(ctx context.Context, jobID string, confirmed bool, detail string) (*model.SubmissionJob, error) {
	if a.queue.IsActive(jobID) {
		return nil, fmt.Errorf("job %s is still in flight: %w", jobID, common.ErrConflict)
	}
	job, err := a.store.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}

	target := model.JobStatusRejected
	event := model.AuditPortalRejected
	if confirmed {
		target = model.JobStatusConfirmed
		event = model.AuditPortalConfirmed
	}
	if job.Status == target {
		log.Printf("INFO: Portal outcome for job %s already recorded (%s)", jobID, job.Status)
		return job, nil
	}
	if job.Status != model.JobStatusSubmitted {
		return nil, fmt.Errorf("job %s is %s, expected %s: %w", jobID, job.Status, model.JobStatusSubmitted, common.ErrInvalidTransition)
	}

	if err := job.TransitionTo(target, a.now()); err != nil {
		return nil, err
	}
	if !confirmed {
		job.ErrorMessage = detail
	}
	if err := a.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("persist portal outcome: %w", err)
	}
	a.record(ctx, job, event, confirmed, map[string]any{
		"confirmation_number": job.ConfirmationNumber,
		"detail":              detail,
	})
	if confirmed {
		a.notify(ctx, job, model.NotificationSuccessful,
			fmt.Sprintf("Bid for RFP %s confirmed by %s (%s)", job.RFPID, job.Portal, job.ConfirmationNumber))
	} else {
		a.notify(ctx, job, model.NotificationFailed,
			fmt.Sprintf("Bid for RFP %s rejected by %s: %s", job.RFPID, job.Portal, detail))
	}
	return job, nil
}

// Recover reloads unfinished jobs after a restart and returns how many were
// queued again. Jobs interrupted mid-submit take the retry edge; jobs
// interrupted while validating or formatting are failed. A job whose lock is
// held belongs to a live worker and is left alone.
func (a *SubmissionAgent) Recover(ctx context.Context) (int, error) {
	jobs, err := a.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	requeued := 0
	for _, job := range jobs {
		switch job.Status {
		case model.JobStatusQueued:
			if a.enqueue(job) {
				requeued++
			}
		case model.JobStatusSubmitting, model.JobStatusValidating, model.JobStatusFormatting:
			if a.queue.IsActive(job.JobID) {
				continue
			}
			if a.recoverInterrupted(ctx, job.JobID, job.Status) {
				requeued++
			}
		}
	}
	if requeued > 0 {
		log.Printf("INFO: Recovered %d queued job(s)", requeued)
	}
	return requeued, nil
}

func (a *SubmissionAgent) recoverInterrupted(ctx context.Context, jobID string, seen model.JobStatus) bool {
	release, ok, err := a.locker.Acquire(ctx, jobID)
	if err != nil {
		log.Printf("ERROR: Job %s not recovered: %v", jobID, err)
		return false
	}
	if !ok {
		log.Printf("INFO: Job %s is %s under another worker, not recovering it", jobID, seen)
		return false
	}
	defer release()

	// The owner may have finished between List and Acquire.
	job, err := a.store.Load(ctx, jobID)
	if err != nil {
		log.Printf("ERROR: Failed to reload job %s for recovery: %v", jobID, err)
		return false
	}
	if job.Status != seen {
		return false
	}

	if job.Status == model.JobStatusSubmitting {
		if a.failAttempt(ctx, job, errors.New("interrupted during submission")) {
			return a.enqueue(job)
		}
		return false
	}
	stage := string(job.Status)
	a.failTerminal(ctx, job, "interrupted during "+stage, model.AuditSubmissionFailed, map[string]any{"stage": stage})
	return false
}

// Start drains the queue whenever work arrives or the poll interval elapses,
// until ctx is cancelled.
func (a *SubmissionAgent) Start(ctx context.Context) {
	log.Printf("Submission agent started (max concurrent submissions: %d)", a.cfg.MaxConcurrentSubmissions)
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Submission agent stopping...")
			return
		case <-a.wake:
		case <-ticker.C:
		}
		stats := a.ProcessQueue(ctx)
		if stats.Dispatched > 0 {
			log.Printf("INFO: Drain cycle finished: %+v", stats)
		}
	}
}

func (a *SubmissionAgent) enqueue(job *model.SubmissionJob) bool {
	if !a.queue.Push(job) {
		return false
	}
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

func (a *SubmissionAgent) persist(ctx context.Context, job *model.SubmissionJob) {
	if err := a.store.Save(ctx, job); err != nil {
		log.Printf("ERROR: Failed to persist job %s (%s): %v", job.JobID, job.Status, err)
	}
}

func (a *SubmissionAgent) record(ctx context.Context, job *model.SubmissionJob, event model.AuditEventType, success bool, details map[string]any) {
	entry := model.AuditEntry{
		JobID:     job.JobID,
		Timestamp: model.StoredTime(a.now()),
		EventType: event,
		Success:   success,
		Details:   details,
	}
	if err := a.audit.Append(ctx, entry); err != nil {
		log.Printf("ERROR: Failed to append %s audit entry for job %s: %v", event, job.JobID, err)
	}
}

func (a *SubmissionAgent) notify(ctx context.Context, job *model.SubmissionJob, typ model.NotificationType, message string) {
	if a.notifier == nil {
		return
	}
	n := model.Notification{
		Type:      typ,
		RFPID:     job.RFPID,
		JobID:     job.JobID,
		Portal:    job.Portal,
		Message:   message,
		Timestamp: model.StoredTime(a.now()),
	}
	if err := a.notifier.Notify(ctx, n); err != nil {
		log.Printf("WARN: Notification %s for job %s not delivered: %v", typ, job.JobID, err)
	}
}
