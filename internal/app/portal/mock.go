package portal

import (
	"context"
	"sync"
	"time"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
)

// MockSubmission is one entry of the mock portal's ledger.
type MockSubmission struct {
	ConfirmationNumber string
	Payload            Payload
	SubmittedAt        time.Time
}

// MockPortalAdapter accepts everything and records what it received.
type MockPortalAdapter struct {
	mu          sync.Mutex
	submissions []MockSubmission
}

func NewMockPortalAdapter() *MockPortalAdapter {
	return &MockPortalAdapter{}
}

func (a *MockPortalAdapter) Name() string { return config.PortalMock }

func (a *MockPortalAdapter) ValidateRequirements(doc model.BidDocument) []string {
	if !doc.Present("document_id") {
		return []string{"Missing document_id"}
	}
	return nil
}

func (a *MockPortalAdapter) FormatSubmission(job *model.SubmissionJob, doc model.BidDocument) (Payload, error) {
	p := basePayload(job)
	p["document_id"] = doc.Content["document_id"]
	return p, nil
}

func (a *MockPortalAdapter) Submit(ctx context.Context, payload Payload) (*Receipt, error) {
	conf := newConfirmation("MOCK")
	now := time.Now().UTC()

	a.mu.Lock()
	a.submissions = append(a.submissions, MockSubmission{ConfirmationNumber: conf, Payload: payload, SubmittedAt: now})
	a.mu.Unlock()

	return &Receipt{ConfirmationNumber: conf, SubmittedAt: now}, nil
}

func (a *MockPortalAdapter) VerifySubmission(ctx context.Context, confirmation string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.submissions {
		if s.ConfirmationNumber == confirmation {
			return true, nil
		}
	}
	return false, nil
}

func (a *MockPortalAdapter) GetSubmissionStatus(ctx context.Context, confirmation string) (string, error) {
	ok, _ := a.VerifySubmission(ctx, confirmation)
	if ok {
		return StatusReceived, nil
	}
	return StatusNotFound, nil
}

// Submissions returns a copy of the ledger in submission order.
func (a *MockPortalAdapter) Submissions() []MockSubmission {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]MockSubmission, len(a.submissions))
	copy(out, a.submissions)
	return out
}
