package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/worker"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common/security"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

type fakeScheduler struct {
	jobs      map[string]*model.SubmissionJob
	submitted []model.BidDocument
	cancelled []string
	outcomes  []bool
	submitErr error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[string]*model.SubmissionJob{}}
}

func (f *fakeScheduler) SubmitBid(_ context.Context, rfp model.RFPMeta, doc model.BidDocument, portalKey string, priority int) (*model.SubmissionJob, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, doc)
	job := model.NewSubmissionJob("job-1", rfp, doc, portalKey, priority, 3, time.Now())
	f.jobs[job.JobID] = job
	return job, nil
}

func (f *fakeScheduler) GetJobStatus(_ context.Context, jobID string) model.JobStatusResult {
	if job, ok := f.jobs[jobID]; ok {
		return job.StatusResult()
	}
	return model.NotFoundStatus(jobID)
}

func (f *fakeScheduler) AuditTrail(context.Context, string) ([]model.AuditEntry, error) {
	return nil, nil
}

func (f *fakeScheduler) RetryFailedSubmission(_ context.Context, jobID string) error {
	if _, ok := f.jobs[jobID]; !ok {
		return common.ErrNotFound
	}
	return common.ErrRetriesExhausted
}

func (f *fakeScheduler) CancelJob(_ context.Context, jobID, reason string) (worker.CancelOutcome, error) {
	f.cancelled = append(f.cancelled, reason)
	return worker.CancelApplied, nil
}

func (f *fakeScheduler) RecordPortalOutcome(_ context.Context, jobID string, confirmed bool, detail string) (*model.SubmissionJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, common.ErrNotFound
	}
	f.outcomes = append(f.outcomes, confirmed)
	return job, nil
}

func (f *fakeScheduler) Portals() []string { return []string{"mock"} }

type stubRFPs map[string]model.RFPMeta

func (s stubRFPs) FindRFPByID(_ context.Context, id string) (*model.RFPMeta, error) {
	rfp, ok := s[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &rfp, nil
}

type stubDocs map[string]model.BidDocument

func (s stubDocs) FindDocumentByID(_ context.Context, id string) (*model.BidDocument, error) {
	doc, ok := s[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &doc, nil
}

func TestCreateSubmissionResolvesCollaborators(t *testing.T) {
	deadline := time.Now().Add(72 * time.Hour).UTC()
	sched := newFakeScheduler()
	svc := NewBidService(
		stubRFPs{"R1": {ID: "R1", Deadline: deadline}},
		stubDocs{"D1": {ID: "D1", Content: map[string]any{"document_id": "D1"}}},
		sched,
	)

	job, err := svc.CreateSubmission(context.Background(), CreateSubmissionRequest{
		RFPID: "R1", BidDocumentID: "D1", Portal: "mock", Priority: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "R1", job.RFPID)
	assert.Equal(t, 2, job.Priority)
	require.Len(t, sched.submitted, 1)
	assert.Equal(t, "D1", sched.submitted[0].ID)
}

func TestCreateSubmissionErrors(t *testing.T) {
	sched := newFakeScheduler()
	svc := NewBidService(stubRFPs{}, nil, sched)
	ctx := context.Background()

	_, err := svc.CreateSubmission(ctx, CreateSubmissionRequest{RFPID: "R1", BidDocumentID: "D1"})
	assert.ErrorIs(t, err, common.ErrBadRequest, "portal is required")

	_, err = svc.CreateSubmission(ctx, CreateSubmissionRequest{RFPID: "missing", BidDocumentID: "D1", Portal: "mock"})
	assert.ErrorIs(t, err, common.ErrNotFound)

	due := time.Now().Add(time.Hour)
	_, err = svc.CreateSubmission(ctx, CreateSubmissionRequest{
		RFP: &model.RFPMeta{ID: "R1", Deadline: due}, BidDocumentID: "D1", Portal: "mock",
	})
	assert.ErrorIs(t, err, common.ErrBadRequest, "no document repository configured")

	sched.submitErr = common.ErrAdapterUnavailable
	_, err = svc.CreateSubmission(ctx, CreateSubmissionRequest{
		RFP:      &model.RFPMeta{ID: "R1", Deadline: due},
		Document: &model.BidDocument{ID: "D1"},
		Portal:   "nowhere",
	})
	assert.ErrorIs(t, err, common.ErrAdapterUnavailable)
	assert.Equal(t, 400, common.HTTPStatusFromError(err))
}

func TestCreateSubmissionRequiresDeadline(t *testing.T) {
	sched := newFakeScheduler()
	svc := NewBidService(stubRFPs{"R2": {ID: "R2"}}, nil, sched)
	ctx := context.Background()

	_, err := svc.CreateSubmission(ctx, CreateSubmissionRequest{
		RFP:      &model.RFPMeta{ID: "R1"},
		Document: &model.BidDocument{ID: "D1"},
		Portal:   "mock",
	})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.ErrorContains(t, err, "rfp.deadline is required")
	assert.Equal(t, 400, common.HTTPStatusFromError(err))

	_, err = svc.CreateSubmission(ctx, CreateSubmissionRequest{
		RFPID:    "R2",
		Document: &model.BidDocument{ID: "D1"},
		Portal:   "mock",
	})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Empty(t, sched.submitted)
}

func TestCreateSubmissionInlineDocumentTakesRequestID(t *testing.T) {
	sched := newFakeScheduler()
	svc := NewBidService(nil, nil, sched)

	_, err := svc.CreateSubmission(context.Background(), CreateSubmissionRequest{
		BidDocumentID: "D9",
		Portal:        "mock",
		RFP:           &model.RFPMeta{ID: "R9", Deadline: time.Now().Add(time.Hour)},
		Document:      &model.BidDocument{Content: map[string]any{"title": "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "D9", sched.submitted[0].ID)
}

func TestAuditTrailUnknownJob(t *testing.T) {
	svc := NewBidService(nil, nil, newFakeScheduler())
	_, err := svc.AuditTrail(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCancelDefaultsReasonToActor(t *testing.T) {
	sched := newFakeScheduler()
	svc := NewBidService(nil, nil, sched)

	resp, err := svc.Cancel(context.Background(), "job-1", CancelRequest{}, "alice")
	require.NoError(t, err)
	assert.Equal(t, worker.CancelApplied, resp.Outcome)
	assert.Equal(t, []string{"cancelled by alice"}, sched.cancelled)
}

func TestWebhookConfirmationMismatch(t *testing.T) {
	sched := newFakeScheduler()
	job := model.NewSubmissionJob("job-1", model.RFPMeta{ID: "R1"}, model.BidDocument{ID: "D1"}, "mock", 0, 3, time.Now())
	job.ConfirmationNumber = "MOCK-AAAA1111"
	sched.jobs[job.JobID] = job
	svc := NewWebhookService(sched)
	ctx := context.Background()

	_, err := svc.HandlePortalOutcome(ctx, PortalOutcomePayload{JobID: "job-1", Confirmed: true, ConfirmationNumber: "MOCK-BBBB2222"})
	assert.ErrorIs(t, err, common.ErrBadRequest)
	assert.Empty(t, sched.outcomes)

	_, err = svc.HandlePortalOutcome(ctx, PortalOutcomePayload{JobID: "job-1", Confirmed: true, ConfirmationNumber: "MOCK-AAAA1111"})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, sched.outcomes)

	_, err = svc.HandlePortalOutcome(ctx, PortalOutcomePayload{})
	assert.ErrorIs(t, err, common.ErrBadRequest)

	_, err = svc.HandlePortalOutcome(ctx, PortalOutcomePayload{JobID: "ghost", Confirmed: false})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLogin(t *testing.T) {
	security.InitJWT([]byte("test-secret"), time.Hour)
	hash, err := security.HashPassword("s3cret")
	require.NoError(t, err)
	svc := NewAuthService([]model.Account{{Username: "ops", PasswordHash: hash, Role: model.RoleOperator}})
	ctx := context.Background()

	resp, err := svc.Login(ctx, LoginRequest{Username: "ops", Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, model.RoleOperator, resp.Account.Role)

	_, err = svc.Login(ctx, LoginRequest{Username: "ops", Password: "wrong"})
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	_, err = svc.Login(ctx, LoginRequest{Username: "nobody", Password: "s3cret"})
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	_, err = svc.Login(ctx, LoginRequest{Username: "ops"})
	assert.ErrorIs(t, err, common.ErrBadRequest)
}
