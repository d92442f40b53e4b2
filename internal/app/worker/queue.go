package worker

import (
	"container/heap"
	"sync"
	"time"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

type queueItem struct {
	job       *model.SubmissionJob
	seq       uint64
	notBefore time.Time // set when the job lock was held elsewhere
	index     int
}

func (it *queueItem) eligible(now time.Time) bool {
	if !it.notBefore.IsZero() && now.Before(it.notBefore) {
		return false
	}
	if it.job.NextAttemptAt != nil && now.Before(*it.job.NextAttemptAt) {
		return false
	}
	return true
}

// jobHeap orders by priority descending, then earliest deadline, then
// insertion order. Jobs without a deadline sort after those with one.
type jobHeap []*queueItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, k int) bool {
	a, b := h[i], h[k]
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	ad, bd := a.job.Deadline, b.job.Deadline
	if !ad.Equal(bd) {
		if ad.IsZero() {
			return false
		}
		if bd.IsZero() {
			return true
		}
		return ad.Before(bd)
	}
	return a.seq < b.seq
}

func (h jobHeap) Swap(i, k int) {
	h[i], h[k] = h[k], h[i]
	h[i].index = i
	h[k].index = k
}

func (h *jobHeap) Push(x any) {
	it := x.(*queueItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

type cancelState int

const (
	cancelNotPresent cancelState = iota
	cancelRemoved
	cancelDeferred
)

// pendingQueue holds the pending heap and the active set. A job id is in at
// most one of them at any time.
type pendingQueue struct {
	mu        sync.Mutex
	heap      jobHeap
	pending   map[string]*queueItem
	active    map[string]*queueItem
	cancelled map[string]string // in-flight job id -> cancel reason
	seq       uint64
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{
		pending:   make(map[string]*queueItem),
		active:    make(map[string]*queueItem),
		cancelled: make(map[string]string),
	}
}

// Push inserts job unless its id is already pending or active.
func (q *pendingQueue) Push(job *model.SubmissionJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(job)
}

func (q *pendingQueue) pushLocked(job *model.SubmissionJob) bool {
	if _, ok := q.pending[job.JobID]; ok {
		return false
	}
	if _, ok := q.active[job.JobID]; ok {
		return false
	}
	q.seq++
	it := &queueItem{job: job, seq: q.seq}
	heap.Push(&q.heap, it)
	q.pending[job.JobID] = it
	return true
}

// PopEligible removes the first job in drain order that may run at now and
// marks it active. It returns nil when no pending job is eligible.
func (q *pendingQueue) PopEligible(now time.Time) *model.SubmissionJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*queueItem
	var found *queueItem
	for q.heap.Len() > 0 {
		it := heap.Pop(&q.heap).(*queueItem)
		if it.eligible(now) {
			found = it
			break
		}
		skipped = append(skipped, it)
	}
	for _, it := range skipped {
		heap.Push(&q.heap, it)
	}
	if found == nil {
		return nil
	}
	delete(q.pending, found.job.JobID)
	q.active[found.job.JobID] = found
	return found.job
}

// Defer returns an active job to the pending heap unchanged, keeping its
// place in the order, but holds it back until the given instant. A job
// cancelled while active is dropped instead and the reason returned.
func (q *pendingQueue) Defer(jobID string, until time.Time) (reason string, cancelled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.active[jobID]
	if !ok {
		return "", false
	}
	delete(q.active, jobID)
	if reason, cancelled = q.cancelled[jobID]; cancelled {
		delete(q.cancelled, jobID)
		return reason, true
	}
	it.notBefore = until
	heap.Push(&q.heap, it)
	q.pending[jobID] = it
	return "", false
}

// Complete ends the active period of jobID. When requeue is non-nil the job
// goes back into the heap with a fresh insertion sequence, unless a cancel
// was requested while it was in flight. The cancel reason is returned either way.
func (q *pendingQueue) Complete(jobID string, requeue *model.SubmissionJob) (reason string, cancelled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, jobID)
	reason, cancelled = q.cancelled[jobID]
	delete(q.cancelled, jobID)
	if requeue != nil && !cancelled {
		q.pushLocked(requeue)
	}
	return reason, cancelled
}

// RequestCancel removes a pending job, or records the request for an active one.
func (q *pendingQueue) RequestCancel(jobID, reason string) cancelState {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it, ok := q.pending[jobID]; ok {
		heap.Remove(&q.heap, it.index)
		delete(q.pending, jobID)
		return cancelRemoved
	}
	if _, ok := q.active[jobID]; ok {
		if _, already := q.cancelled[jobID]; !already {
			q.cancelled[jobID] = reason
		}
		return cancelDeferred
	}
	return cancelNotPresent
}

func (q *pendingQueue) IsActive(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.active[jobID]
	return ok
}

// Len returns the number of pending and active jobs.
func (q *pendingQueue) Len() (pending, active int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.active)
}
