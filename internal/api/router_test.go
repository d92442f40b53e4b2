package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/notify"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/portal"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/service"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/worker"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common/security"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/repository"
)

const hookSecret = "hook-secret"

type testServer struct {
	handler http.Handler
	agent   *worker.SubmissionAgent
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	security.InitJWT([]byte("router-test-key"), time.Hour)

	dir := t.TempDir()
	store, err := repository.NewFileJobStore(filepath.Join(dir, "jobs"))
	require.NoError(t, err)
	audit, err := repository.NewFileAuditLog(filepath.Join(dir, "audit"))
	require.NoError(t, err)
	registry, err := portal.NewRegistry(portal.NewMockPortalAdapter())
	require.NoError(t, err)
	agent := worker.NewSubmissionAgent(worker.AgentConfig{MaxConcurrentSubmissions: 2}, registry, store, audit, notify.NewLogNotifier())

	opHash, err := security.HashPassword("op-pass")
	require.NoError(t, err)
	subHash, err := security.HashPassword("sub-pass")
	require.NoError(t, err)
	auth := service.NewAuthService([]model.Account{
		{Username: "ops", PasswordHash: opHash, Role: model.RoleOperator},
		{Username: "bidder", PasswordHash: subHash, Role: model.RoleSubmitter},
	})

	router := NewRouter(auth, service.NewBidService(nil, nil, agent), service.NewWebhookService(agent), hookSecret)
	return &testServer{handler: router, agent: agent}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, user, pass string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", service.LoginRequest{Username: user, Password: pass})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp service.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createJob(t *testing.T, token string) model.JobStatusResult {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/submissions", token, service.CreateSubmissionRequest{
		Portal:   "mock",
		Priority: 1,
		RFP:      &model.RFPMeta{ID: "R1", Deadline: time.Now().Add(72 * time.Hour).UTC()},
		Document: &model.BidDocument{ID: "D1", Content: map[string]any{"document_id": "D1"}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	return decode[model.JobStatusResult](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestPortals(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/portals", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"portals":["mock"]}`, rec.Body.String())
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", service.LoginRequest{Username: "ops", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmissionsRequireToken(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/submissions/anything", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/submissions/anything", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmissionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "bidder", "sub-pass")

	created := s.createJob(t, token)
	assert.Equal(t, model.JobStatusQueued, created.Status)

	s.agent.ProcessQueue(context.Background())

	rec := s.do(t, http.MethodGet, "/api/v1/submissions/"+created.JobID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[model.JobStatusResult](t, rec)
	assert.Equal(t, model.JobStatusConfirmed, status.Status)
	assert.Regexp(t, `^MOCK-[A-Z0-9]{8}$`, status.ConfirmationNumber)

	rec = s.do(t, http.MethodGet, "/api/v1/submissions/"+created.JobID+"/audit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]model.AuditEntry](t, rec)
	require.Len(t, entries, 3)
	assert.Equal(t, model.AuditJobCreated, entries[0].EventType)
	assert.Equal(t, model.AuditSubmissionSuccessful, entries[2].EventType)
}

func TestUnknownJobIs404(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "bidder", "sub-pass")

	rec := s.do(t, http.MethodGet, "/api/v1/submissions/ghost", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	status := decode[model.JobStatusResult](t, rec)
	assert.False(t, status.Found)

	rec = s.do(t, http.MethodGet, "/api/v1/submissions/ghost/audit", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownPortalIs400(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "bidder", "sub-pass")

	rec := s.do(t, http.MethodPost, "/api/v1/submissions", token, service.CreateSubmissionRequest{
		Portal:   "fedconnect",
		RFP:      &model.RFPMeta{ID: "R1", Deadline: time.Now().Add(time.Hour)},
		Document: &model.BidDocument{ID: "D1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOperatorRoutes(t *testing.T) {
	s := newTestServer(t)
	bidder := s.login(t, "bidder", "sub-pass")
	ops := s.login(t, "ops", "op-pass")
	job := s.createJob(t, bidder)

	rec := s.do(t, http.MethodPost, "/api/v1/submissions/"+job.JobID+"/cancel", bidder, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/submissions/"+job.JobID+"/retry", ops, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "queued jobs cannot be retried")

	rec = s.do(t, http.MethodPost, "/api/v1/submissions/"+job.JobID+"/cancel", ops, service.CancelRequest{Reason: "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[service.CancelResponse](t, rec)
	assert.Equal(t, worker.CancelApplied, resp.Outcome)

	status := s.agent.GetJobStatus(context.Background(), job.JobID)
	assert.Equal(t, model.JobStatusFailed, status.Status)
	assert.Equal(t, "cancelled: duplicate", status.ErrorMessage)

	rec = s.do(t, http.MethodPost, "/api/v1/submissions/"+job.JobID+"/cancel", ops, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPortalWebhook(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "bidder", "sub-pass")
	job := s.createJob(t, token)
	s.agent.ProcessQueue(context.Background())

	payload := service.PortalOutcomePayload{JobID: job.JobID, Confirmed: true}

	rec := s.do(t, http.MethodPost, "/api/v1/webhook/portal", "", payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/webhook/portal", "", payload, "X-Webhook-Secret", hookSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.JobStatusConfirmed, decode[model.JobStatusResult](t, rec).Status)

	payload.Confirmed = false
	rec = s.do(t, http.MethodPost, "/api/v1/webhook/portal", "", payload, "X-Webhook-Secret", hookSecret)
	assert.Equal(t, http.StatusConflict, rec.Code, "a confirmed job cannot be rejected")
}
