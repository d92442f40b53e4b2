package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/portal"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

// DrainStats summarises one ProcessQueue cycle.
type DrainStats struct {
	Dispatched int `json:"dispatched"`
	Succeeded  int `json:"succeeded"`
	Retried    int `json:"retried"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeRetried
	outcomeFailed
)

func (s *DrainStats) add(o outcome) {
	switch o {
	case outcomeSucceeded:
		s.Succeeded++
	case outcomeRetried:
		s.Retried++
	case outcomeFailed:
		s.Failed++
	default:
		s.Skipped++
	}
}

// ProcessQueue runs one drain cycle: it dispatches eligible jobs to at most
// MaxConcurrentSubmissions workers and returns once no eligible job is left
// and every job it dispatched has finished. Jobs re-queued with no backoff
// are drained again within the same cycle.
func (a *SubmissionAgent) ProcessQueue(ctx context.Context) DrainStats {
	var stats DrainStats
	done := make(chan outcome, cap(a.slots))
	inflight := 0

dispatch:
	for {
		select {
		case a.slots <- struct{}{}:
		case o := <-done:
			inflight--
			stats.add(o)
			continue
		case <-ctx.Done():
			break dispatch
		}

		job := a.queue.PopEligible(a.now())
		if job == nil {
			<-a.slots
			if inflight == 0 {
				break dispatch
			}
			o := <-done
			inflight--
			stats.add(o)
			continue
		}

		inflight++
		stats.Dispatched++
		go func(job *model.SubmissionJob) {
			defer func() { <-a.slots }()
			done <- a.runJob(ctx, job)
		}(job)
	}

	for inflight > 0 {
		stats.add(<-done)
		inflight--
	}
	return stats
}

// runJob owns jobID from the moment it leaves the pending heap until it is
// completed or deferred.
func (a *SubmissionAgent) runJob(ctx context.Context, popped *model.SubmissionJob) (result outcome) {
	jobID := popped.JobID
	// Persistence must outlive a shutdown that cancels ctx mid-pipeline.
	storeCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic while processing job %s: %v\n%s", jobID, r, debug.Stack())
			a.queue.Complete(jobID, nil)
			result = outcomeFailed
		}
	}()

	release, ok, err := a.locker.Acquire(ctx, jobID)
	if err != nil || !ok {
		if err != nil {
			log.Printf("ERROR: Job %s deferred: %v", jobID, err)
		}
		a.deferJob(storeCtx, jobID)
		return outcomeSkipped
	}
	defer release()

	job, err := a.store.Load(storeCtx, jobID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			log.Printf("WARN: Job %s vanished from the store, dropping it", jobID)
			a.queue.Complete(jobID, nil)
		} else {
			log.Printf("ERROR: Failed to load job %s: %v", jobID, err)
			a.deferJob(storeCtx, jobID)
		}
		return outcomeSkipped
	}
	if job.Status != model.JobStatusQueued {
		log.Printf("INFO: Job %s is already %s, skipping", jobID, job.Status)
		a.queue.Complete(jobID, nil)
		return outcomeSkipped
	}

	result = a.pipeline(ctx, storeCtx, job)

	var requeue *model.SubmissionJob
	if result == outcomeRetried {
		requeue = job
	}
	reason, cancelled := a.queue.Complete(jobID, requeue)
	if cancelled {
		if job.Status == model.JobStatusQueued {
			a.applyCancel(storeCtx, job, reason)
			return outcomeFailed
		}
		a.record(storeCtx, job, model.AuditJobCancelled, false, map[string]any{
			"reason": reason,
			"status": job.Status,
			"detail": "attempt finished before the cancel took effect",
		})
	}
	return result
}

func (a *SubmissionAgent) deferJob(ctx context.Context, jobID string) {
	reason, cancelled := a.queue.Defer(jobID, a.now().Add(a.cfg.LockRetryDelay))
	if !cancelled {
		return
	}
	job, err := a.store.Load(ctx, jobID)
	if err != nil {
		log.Printf("ERROR: Failed to load cancelled job %s: %v", jobID, err)
		return
	}
	if job.Status == model.JobStatusQueued {
		a.applyCancel(ctx, job, reason)
	}
}

func (a *SubmissionAgent) pipeline(ctx, storeCtx context.Context, job *model.SubmissionJob) outcome {
	if job.DeadlinePassed(a.now()) {
		a.failTerminal(storeCtx, job, common.ErrDeadlineExceeded.Error(), model.AuditSubmissionFailed, map[string]any{
			"stage":    "deadline",
			"deadline": job.Deadline,
		})
		return outcomeFailed
	}

	adapter, _ := a.portals.Get(job.Portal)
	doc := job.BidDocument()

	if !a.advance(storeCtx, job, model.JobStatusValidating) {
		return outcomeFailed
	}
	if ok, errs := a.ValidateSubmission(storeCtx, job, doc); !ok {
		reason := fmt.Errorf("%w: %s", common.ErrValidation, strings.Join(errs, "; "))
		a.failTerminal(storeCtx, job, reason.Error(), "", nil)
		return outcomeFailed
	}

	if !a.advance(storeCtx, job, model.JobStatusFormatting) {
		return outcomeFailed
	}
	payload, err := safeFormat(adapter, job, doc)
	if err != nil {
		a.failTerminal(storeCtx, job, err.Error(), model.AuditSubmissionFailed, map[string]any{"stage": "format"})
		return outcomeFailed
	}

	if !a.advance(storeCtx, job, model.JobStatusSubmitting) {
		return outcomeFailed
	}
	receipt, err := callWithTimeout(ctx, a.cfg.SubmitTimeout, func(ctx context.Context) (*portal.Receipt, error) {
		return adapter.Submit(ctx, payload)
	})
	if err == nil && (receipt == nil || receipt.ConfirmationNumber == "") {
		err = errors.New("portal returned no confirmation number")
	}
	if err != nil && ctx.Err() != nil {
		// Shutdown, not a portal failure. The job stays submitting and
		// Recover charges the attempt if it never came back.
		log.Printf("WARN: Job %s interrupted during submission, left for recovery: %v", job.JobID, err)
		return outcomeSkipped
	}
	if err != nil {
		if a.failAttempt(storeCtx, job, fmt.Errorf("%w: %w", common.ErrTransientSubmission, err)) {
			return outcomeRetried
		}
		return outcomeFailed
	}

	a.succeed(ctx, storeCtx, job, adapter, receipt)
	return outcomeSucceeded
}

// advance applies one forward transition and persists it.
func (a *SubmissionAgent) advance(ctx context.Context, job *model.SubmissionJob, to model.JobStatus) bool {
	if err := job.TransitionTo(to, a.now()); err != nil {
		log.Printf("ERROR: %v", err)
		return false
	}
	a.persist(ctx, job)
	return true
}

func (a *SubmissionAgent) succeed(ctx, storeCtx context.Context, job *model.SubmissionJob, adapter portal.Adapter, receipt *portal.Receipt) {
	job.ConfirmationNumber = receipt.ConfirmationNumber
	if job.Metadata == nil {
		job.Metadata = make(map[string]string, len(receipt.Metadata))
	}
	for k, v := range receipt.Metadata {
		job.Metadata[k] = v
	}
	if err := job.TransitionTo(model.JobStatusSubmitted, a.now()); err != nil {
		log.Printf("ERROR: %v", err)
		return
	}
	job.ErrorMessage = ""
	job.NextAttemptAt = nil
	a.persist(storeCtx, job)
	a.record(storeCtx, job, model.AuditSubmissionSuccessful, true, map[string]any{
		"confirmation_number": job.ConfirmationNumber,
		"portal":              job.Portal,
		"attempt":             job.Attempts + 1,
	})
	log.Printf("INFO: Job %s submitted to %s, confirmation %s", job.JobID, job.Portal, job.ConfirmationNumber)

	verified, err := callWithTimeout(ctx, a.cfg.VerifyTimeout, func(ctx context.Context) (bool, error) {
		return adapter.VerifySubmission(ctx, job.ConfirmationNumber)
	})
	switch {
	case err != nil:
		log.Printf("WARN: Verification of job %s (%s) failed, leaving it submitted: %v", job.JobID, job.ConfirmationNumber, err)
	case verified:
		if err := job.TransitionTo(model.JobStatusConfirmed, a.now()); err == nil {
			a.persist(storeCtx, job)
		}
	}

	a.notify(storeCtx, job, model.NotificationSuccessful,
		fmt.Sprintf("Bid for RFP %s submitted to %s (confirmation %s)", job.RFPID, job.Portal, job.ConfirmationNumber))
}

// failAttempt counts a failed submit and takes the retry edge if attempts
// remain. It reports whether the job was re-queued.
func (a *SubmissionAgent) failAttempt(ctx context.Context, job *model.SubmissionJob, cause error) bool {
	job.Attempts++
	retry := job.Attempts < job.MaxRetries
	a.record(ctx, job, model.AuditSubmissionFailed, false, map[string]any{
		"attempt":     job.Attempts,
		"max_retries": job.MaxRetries,
		"error":       cause.Error(),
		"will_retry":  retry,
	})

	now := a.now()
	if retry {
		if err := job.TransitionTo(model.JobStatusQueued, now); err != nil {
			log.Printf("ERROR: %v", err)
			return false
		}
		job.ErrorMessage = fmt.Sprintf("attempt %d failed: %v", job.Attempts, cause)
		if d := a.cfg.backoff(job.Attempts); d > 0 {
			next := model.StoredTime(now.Add(d))
			job.NextAttemptAt = &next
		}
		a.persist(ctx, job)
		log.Printf("WARN: Job %s attempt %d/%d failed, re-queued: %v", job.JobID, job.Attempts, job.MaxRetries, cause)
		return true
	}

	a.failTerminal(ctx, job, fmt.Sprintf("submission failed after %d attempts: %v", job.Attempts, cause), "", nil)
	return false
}

// failTerminal moves job to failed, persists it, and notifies. An audit entry
// is written only when event is set; callers that already audited pass "".
func (a *SubmissionAgent) failTerminal(ctx context.Context, job *model.SubmissionJob, reason string, event model.AuditEventType, details map[string]any) {
	if err := job.Fail(reason, a.now()); err != nil {
		log.Printf("ERROR: %v", err)
		return
	}
	a.persist(ctx, job)
	if event != "" {
		if details == nil {
			details = map[string]any{}
		}
		details["error"] = reason
		a.record(ctx, job, event, false, details)
	}
	a.notify(ctx, job, model.NotificationFailed,
		fmt.Sprintf("Bid for RFP %s to %s failed: %s", job.RFPID, job.Portal, reason))
	log.Printf("ERROR: Job %s failed: %s", job.JobID, reason)
}

func safeValidate(adapter portal.Adapter, doc model.BidDocument) (errs []string) {
	defer func() {
		if r := recover(); r != nil {
			errs = []string{fmt.Sprintf("validator panic: %v", r)}
		}
	}()
	return adapter.ValidateRequirements(doc)
}

func safeFormat(adapter portal.Adapter, job *model.SubmissionJob, doc model.BidDocument) (payload portal.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: formatter panic: %v", common.ErrFormatting, r)
		}
	}()
	payload, err = adapter.FormatSubmission(job, doc)
	if err != nil && !errors.Is(err, common.ErrFormatting) {
		err = fmt.Errorf("%w: %w", common.ErrFormatting, err)
	}
	return payload, err
}

// callWithTimeout bounds fn by timeout even when fn ignores its context.
// A panic inside fn is returned as an error.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		v, err := fn(callCtx)
		ch <- result{value: v, err: err}
	}()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-callCtx.Done():
		var zero T
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("timed out after %s", timeout)
		}
		return zero, callCtx.Err()
	}
}
