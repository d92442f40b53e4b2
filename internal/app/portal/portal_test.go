package portal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
)

var mockConfirmation = regexp.MustCompile(`^MOCK-[A-Z0-9]{8}$`)

func testJob(portal string) *model.SubmissionJob {
	rfp := model.RFPMeta{ID: "R1", Deadline: time.Now().Add(7 * 24 * time.Hour)}
	return model.NewSubmissionJob("job-1", rfp, model.BidDocument{ID: "D1"}, portal, 1, 3, time.Now())
}

func TestMockValidateRequirements(t *testing.T) {
	a := NewMockPortalAdapter()

	assert.Equal(t, []string{"Missing document_id"}, a.ValidateRequirements(model.BidDocument{Content: map[string]any{}}))
	assert.Equal(t, []string{"Missing document_id"}, a.ValidateRequirements(model.BidDocument{ID: "D1"}))
	assert.Empty(t, a.ValidateRequirements(model.BidDocument{Content: map[string]any{"document_id": "D1"}}))
	// Presence is what matters, not the value.
	assert.Empty(t, a.ValidateRequirements(model.BidDocument{Content: map[string]any{"document_id": ""}}))
}

func TestMockSubmitAlwaysSucceeds(t *testing.T) {
	a := NewMockPortalAdapter()
	doc := model.BidDocument{ID: "D1", Content: map[string]any{"document_id": "D1"}}
	payload, err := a.FormatSubmission(testJob(config.PortalMock), doc)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		receipt, err := a.Submit(context.Background(), payload)
		require.NoError(t, err)
		assert.Regexp(t, mockConfirmation, receipt.ConfirmationNumber)
	}

	ledger := a.Submissions()
	require.Len(t, ledger, 20)
	assert.Equal(t, "D1", ledger[0].Payload["document_id"])

	ok, err := a.VerifySubmission(context.Background(), ledger[3].ConfirmationNumber)
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := a.GetSubmissionStatus(context.Background(), "MOCK-00000000")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, status)
}

func TestSAMGovValidateRequirements(t *testing.T) {
	a := NewSAMGovAdapter(config.PortalCredentials{APIKey: "k"}, Simulation{})

	valid := map[string]any{
		"cage_code":           "1ABC2",
		"duns_number":         "123456789",
		"solicitation_number": "W91-24-R-0001",
		"vendor_name":         "Acme",
		"vendor_address":      "1 Main St",
		"file_format":         "pdf",
		"file_size":           float64(10 * megabyte),
	}

	tests := []struct {
		name   string
		mutate func(m map[string]any)
		want   []string
	}{
		{name: "valid", mutate: func(map[string]any) {}},
		{
			name:   "missing cage code",
			mutate: func(m map[string]any) { delete(m, "cage_code") },
			want:   []string{"Missing required field: cage_code"},
		},
		{
			name:   "blank vendor name",
			mutate: func(m map[string]any) { m["vendor_name"] = "  " },
			want:   []string{"Missing required field: vendor_name"},
		},
		{
			name:   "unsupported format",
			mutate: func(m map[string]any) { m["file_format"] = "XLSX" },
			want:   []string{"Unsupported file format: XLSX (accepted: PDF, DOCX)"},
		},
		{
			name:   "too large",
			mutate: func(m map[string]any) { m["file_size"] = float64(101 * megabyte) },
			want:   []string{"File size 105906176 bytes exceeds 100MB limit"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := make(map[string]any, len(valid))
			for k, v := range valid {
				content[k] = v
			}
			tt.mutate(content)
			got := a.ValidateRequirements(model.BidDocument{ID: "D1", Content: content})
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSAMGovSubmitAndVerify(t *testing.T) {
	a := NewSAMGovAdapter(config.PortalCredentials{APIKey: "k", EntityID: "E1"}, Simulation{})
	doc := model.BidDocument{ID: "D1", Content: map[string]any{"solicitation_number": "SOL-1", "cage_code": "abc12"}}

	payload, err := a.FormatSubmission(testJob(config.PortalSAMGov), doc)
	require.NoError(t, err)
	assert.Equal(t, "ABC12", payload["cageCode"])
	assert.Equal(t, "E1", payload["submittingEntity"])

	receipt, err := a.Submit(context.Background(), payload)
	require.NoError(t, err)
	assert.Regexp(t, `^SAM-[A-Z0-9]{8}$`, receipt.ConfirmationNumber)

	ok, err := a.VerifySubmission(context.Background(), receipt.ConfirmationNumber)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSAMGovFormatRejectsForeignJob(t *testing.T) {
	a := NewSAMGovAdapter(config.PortalCredentials{APIKey: "k"}, Simulation{})
	_, err := a.FormatSubmission(testJob(config.PortalMock), model.BidDocument{})
	assert.ErrorIs(t, err, common.ErrFormatting)
}

func TestSimulationHonoursContext(t *testing.T) {
	a := NewSAMGovAdapter(config.PortalCredentials{APIKey: "k"}, Simulation{Latency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := a.Submit(ctx, Payload{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulationFailureHook(t *testing.T) {
	boom := errors.New("portal unavailable")
	a := NewSAMGovAdapter(config.PortalCredentials{APIKey: "k"}, Simulation{
		Fail: func(context.Context, Payload) error { return boom },
	})
	_, err := a.Submit(context.Background(), Payload{})
	assert.ErrorIs(t, err, boom)
}

func TestGSAeBuyWritesProof(t *testing.T) {
	dir := t.TempDir()
	a, err := NewGSAeBuyAdapter(config.PortalCredentials{Username: "vendor"}, dir, Simulation{})
	require.NoError(t, err)

	doc := model.BidDocument{ID: "D1", Content: map[string]any{
		"rfq_number":        "RFQ 1234/A",
		"vendor_cage_code":  "1ABC2",
		"response_document": "technical volume",
	}}
	require.Empty(t, a.ValidateRequirements(doc))

	payload, err := a.FormatSubmission(testJob(config.PortalGSAeBuy), doc)
	require.NoError(t, err)

	receipt, err := a.Submit(context.Background(), payload)
	require.NoError(t, err)
	assert.Regexp(t, `^EBUY-[A-Z0-9]{8}$`, receipt.ConfirmationNumber)

	want := filepath.Join(dir, "rfq-1234-a-"+receipt.ConfirmationNumber+".json")
	assert.Equal(t, want, receipt.Metadata["proof_path"])
	_, err = os.Stat(want)
	require.NoError(t, err)

	ok, err := a.VerifySubmission(context.Background(), receipt.ConfirmationNumber)
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := a.GetSubmissionStatus(context.Background(), "EBUY-DEADBEEF")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, status)
}

func TestGSAeBuyValidation(t *testing.T) {
	a, err := NewGSAeBuyAdapter(config.PortalCredentials{Username: "vendor"}, t.TempDir(), Simulation{})
	require.NoError(t, err)

	got := a.ValidateRequirements(model.BidDocument{Content: map[string]any{
		"rfq_number": "RFQ-1",
		"file_size":  int64(51 * megabyte),
	}})
	assert.Equal(t, []string{
		"Missing required field: vendor_cage_code",
		"Missing required field: response_document",
		"File size 53477376 bytes exceeds 50MB limit",
	}, got)

	_, err = a.FormatSubmission(testJob(config.PortalGSAeBuy), model.BidDocument{Content: map[string]any{"response_document": 42}})
	assert.ErrorIs(t, err, common.ErrFormatting)
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(NewMockPortalAdapter(), NewSAMGovAdapter(config.PortalCredentials{}, Simulation{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"mock", "sam_gov"}, r.Keys())

	_, ok := r.Get("gsa_ebuy")
	assert.False(t, ok)

	_, err = NewRegistry(NewMockPortalAdapter(), NewMockPortalAdapter())
	assert.Error(t, err)
}

func TestBuildRegistry(t *testing.T) {
	cfg := &config.Config{
		DataDir:          t.TempDir(),
		EnableMockPortal: true,
		Portals: map[string]config.PortalCredentials{
			config.PortalSAMGov:  {APIKey: "key"},
			config.PortalGSAeBuy: {Username: "vendor"},
		},
	}
	r, err := BuildRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"gsa_ebuy", "mock", "sam_gov"}, r.Keys())

	_, err = BuildRegistry(&config.Config{DataDir: t.TempDir()})
	assert.Error(t, err)
}
