package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

var base = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func queuedJob(id string, priority int, deadline time.Time) *model.SubmissionJob {
	rfp := model.RFPMeta{ID: "rfp-" + id, Deadline: deadline}
	return model.NewSubmissionJob(id, rfp, model.BidDocument{ID: "doc-" + id}, "mock", priority, 3, base)
}

func drainOrder(q *pendingQueue, now time.Time) []string {
	var ids []string
	for {
		job := q.PopEligible(now)
		if job == nil {
			return ids
		}
		ids = append(ids, job.JobID)
		q.Complete(job.JobID, nil)
	}
}

func TestQueueOrdering(t *testing.T) {
	q := newPendingQueue()
	d1 := base.Add(24 * time.Hour)
	d2 := base.Add(48 * time.Hour)

	q.Push(queuedJob("late", 1, d2))
	q.Push(queuedJob("early", 1, d1))
	q.Push(queuedJob("urgent", 5, d2))
	q.Push(queuedJob("no-deadline", 1, time.Time{}))
	q.Push(queuedJob("early-second", 1, d1))

	assert.Equal(t, []string{"urgent", "early", "early-second", "late", "no-deadline"}, drainOrder(q, base))
}

func TestQueueRequeueGetsFreshSequence(t *testing.T) {
	q := newPendingQueue()
	d := base.Add(time.Hour)
	q.Push(queuedJob("a", 1, d))
	q.Push(queuedJob("b", 1, d))

	a := q.PopEligible(base)
	require.Equal(t, "a", a.JobID)
	_, cancelled := q.Complete("a", a)
	assert.False(t, cancelled)

	assert.Equal(t, []string{"b", "a"}, drainOrder(q, base))
}

func TestQueuePushIgnoresKnownIDs(t *testing.T) {
	q := newPendingQueue()
	job := queuedJob("a", 1, base.Add(time.Hour))

	assert.True(t, q.Push(job))
	assert.False(t, q.Push(job.Clone()))

	popped := q.PopEligible(base)
	require.NotNil(t, popped)
	assert.False(t, q.Push(job.Clone()), "active job must not be queued twice")
	assert.Nil(t, q.PopEligible(base))

	pending, active := q.Len()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, active)
}

func TestQueueSkipsBackoffDelayedJobs(t *testing.T) {
	q := newPendingQueue()
	delayed := queuedJob("delayed", 9, base.Add(time.Hour))
	next := base.Add(time.Minute)
	delayed.NextAttemptAt = &next
	q.Push(delayed)
	q.Push(queuedJob("ready", 1, base.Add(time.Hour)))

	assert.Equal(t, []string{"ready"}, drainOrder(q, base))
	assert.Equal(t, []string{"delayed"}, drainOrder(q, next))
}

func TestQueueCancel(t *testing.T) {
	q := newPendingQueue()
	q.Push(queuedJob("pending", 1, base.Add(time.Hour)))
	q.Push(queuedJob("inflight", 2, base.Add(time.Hour)))

	inflight := q.PopEligible(base)
	require.Equal(t, "inflight", inflight.JobID)

	assert.Equal(t, cancelRemoved, q.RequestCancel("pending", "dup"))
	assert.Equal(t, cancelDeferred, q.RequestCancel("inflight", "dup"))
	assert.Equal(t, cancelNotPresent, q.RequestCancel("unknown", "dup"))

	reason, cancelled := q.Complete("inflight", inflight)
	assert.True(t, cancelled)
	assert.Equal(t, "dup", reason)

	pending, active := q.Len()
	assert.Zero(t, pending, "cancelled job must not be requeued")
	assert.Zero(t, active)
}

func TestQueueDefer(t *testing.T) {
	q := newPendingQueue()
	q.Push(queuedJob("a", 1, base.Add(time.Hour)))

	require.NotNil(t, q.PopEligible(base))
	_, cancelled := q.Defer("a", base.Add(time.Second))
	assert.False(t, cancelled)
	assert.Nil(t, q.PopEligible(base))
	require.NotNil(t, q.PopEligible(base.Add(time.Second)))

	q.RequestCancel("a", "stop")
	reason, cancelled := q.Defer("a", base.Add(2*time.Second))
	assert.True(t, cancelled)
	assert.Equal(t, "stop", reason)
	pending, active := q.Len()
	assert.Zero(t, pending+active)
}

func TestBackoff(t *testing.T) {
	cfg := AgentConfig{RetryBackoffBase: 5 * time.Second}
	assert.Equal(t, 5*time.Second, cfg.backoff(1))
	assert.Equal(t, 10*time.Second, cfg.backoff(2))
	assert.Equal(t, 20*time.Second, cfg.backoff(3))
	assert.Zero(t, AgentConfig{}.backoff(3))
}
