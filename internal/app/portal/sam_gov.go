package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
)

const samMaxFileSizeMB = 100

var samRequiredFields = []string{"cage_code", "duns_number", "solicitation_number", "vendor_name", "vendor_address"}

// SAMGovAdapter submits to SAM.gov. The remote API call is simulated; accepted
// confirmations are remembered so they can be verified later.
type SAMGovAdapter struct {
	creds config.PortalCredentials
	sim   Simulation

	mu       sync.Mutex
	accepted map[string]time.Time
}

func NewSAMGovAdapter(creds config.PortalCredentials, sim Simulation) *SAMGovAdapter {
	return &SAMGovAdapter{creds: creds, sim: sim, accepted: make(map[string]time.Time)}
}

func (a *SAMGovAdapter) Name() string { return config.PortalSAMGov }

func (a *SAMGovAdapter) ValidateRequirements(doc model.BidDocument) []string {
	errs := requireFields(doc, samRequiredFields...)
	errs = append(errs, checkFileFormat(doc, "PDF", "DOCX")...)
	errs = append(errs, checkFileSize(doc, samMaxFileSizeMB)...)
	return errs
}

func (a *SAMGovAdapter) FormatSubmission(job *model.SubmissionJob, doc model.BidDocument) (Payload, error) {
	if job.Portal != a.Name() {
		return nil, fmt.Errorf("sam_gov: job %s is bound to portal %q: %w", job.JobID, job.Portal, common.ErrFormatting)
	}
	p := basePayload(job)
	p["solicitationNumber"] = doc.String("solicitation_number")
	p["cageCode"] = strings.ToUpper(doc.String("cage_code"))
	p["dunsNumber"] = doc.String("duns_number")
	p["vendor"] = map[string]any{
		"name":    doc.String("vendor_name"),
		"address": doc.String("vendor_address"),
	}
	if doc.Has("file_format") {
		p["fileFormat"] = strings.ToUpper(doc.String("file_format"))
	}
	if a.creds.EntityID != "" {
		p["submittingEntity"] = a.creds.EntityID
	}
	return p, nil
}

func (a *SAMGovAdapter) Submit(ctx context.Context, payload Payload) (*Receipt, error) {
	if err := a.sim.call(ctx, payload); err != nil {
		return nil, fmt.Errorf("sam_gov submit %s: %w", stringValue(payload, "solicitationNumber"), err)
	}
	conf := newConfirmation("SAM")
	now := time.Now().UTC()

	a.mu.Lock()
	a.accepted[conf] = now
	a.mu.Unlock()

	return &Receipt{
		ConfirmationNumber: conf,
		SubmittedAt:        now,
		Metadata:           map[string]string{"solicitation_number": stringValue(payload, "solicitationNumber")},
	}, nil
}

func (a *SAMGovAdapter) VerifySubmission(ctx context.Context, confirmation string) (bool, error) {
	if err := a.sim.wait(ctx); err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.accepted[confirmation]
	return ok, nil
}

func (a *SAMGovAdapter) GetSubmissionStatus(ctx context.Context, confirmation string) (string, error) {
	ok, err := a.VerifySubmission(ctx, confirmation)
	if err != nil {
		return "", err
	}
	if ok {
		return StatusReceived, nil
	}
	return StatusNotFound, nil
}
