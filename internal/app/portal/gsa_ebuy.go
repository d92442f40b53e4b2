package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gosimple/slug"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
)

const ebuyMaxFileSizeMB = 50

var ebuyRequiredFields = []string{"rfq_number", "vendor_cage_code", "response_document"}

// GSAeBuyAdapter models a portal without a submission API: Submit produces a
// proof artifact on disk, and verification looks for that artifact.
type GSAeBuyAdapter struct {
	creds    config.PortalCredentials
	proofDir string
	sim      Simulation
}

func NewGSAeBuyAdapter(creds config.PortalCredentials, proofDir string, sim Simulation) (*GSAeBuyAdapter, error) {
	if err := os.MkdirAll(proofDir, 0o755); err != nil {
		return nil, fmt.Errorf("create eBuy proof dir: %w", err)
	}
	return &GSAeBuyAdapter{creds: creds, proofDir: proofDir, sim: sim}, nil
}

func (a *GSAeBuyAdapter) Name() string { return config.PortalGSAeBuy }

func (a *GSAeBuyAdapter) ValidateRequirements(doc model.BidDocument) []string {
	errs := requireFields(doc, ebuyRequiredFields...)
	return append(errs, checkFileSize(doc, ebuyMaxFileSizeMB)...)
}

func (a *GSAeBuyAdapter) FormatSubmission(job *model.SubmissionJob, doc model.BidDocument) (Payload, error) {
	if job.Portal != a.Name() {
		return nil, fmt.Errorf("gsa_ebuy: job %s is bound to portal %q: %w", job.JobID, job.Portal, common.ErrFormatting)
	}
	var response any
	switch v := doc.Content["response_document"].(type) {
	case string, map[string]any:
		response = v
	default:
		return nil, fmt.Errorf("gsa_ebuy: response_document has unsupported type %T: %w", v, common.ErrFormatting)
	}
	p := basePayload(job)
	p["rfq_number"] = doc.String("rfq_number")
	p["vendor_cage_code"] = doc.String("vendor_cage_code")
	p["response_document"] = response
	p["submitted_by"] = a.creds.Username
	return p, nil
}

type ebuyProof struct {
	ConfirmationNumber string    `json:"confirmation_number"`
	RFQNumber          string    `json:"rfq_number"`
	VendorCageCode     string    `json:"vendor_cage_code"`
	JobID              string    `json:"job_id"`
	RFPID              string    `json:"rfp_id"`
	SubmittedBy        string    `json:"submitted_by,omitempty"`
	SubmittedAt        time.Time `json:"submitted_at"`
	Payload            Payload   `json:"payload"`
}

func (a *GSAeBuyAdapter) proofPath(rfq, confirmation string) string {
	return filepath.Join(a.proofDir, slug.Make(rfq)+"-"+confirmation+".json")
}

func (a *GSAeBuyAdapter) Submit(ctx context.Context, payload Payload) (*Receipt, error) {
	rfq := stringValue(payload, "rfq_number")
	if err := a.sim.call(ctx, payload); err != nil {
		return nil, fmt.Errorf("gsa_ebuy submit %s: %w", rfq, err)
	}
	conf := newConfirmation("EBUY")
	now := time.Now().UTC()
	proof := ebuyProof{
		ConfirmationNumber: conf,
		RFQNumber:          rfq,
		VendorCageCode:     stringValue(payload, "vendor_cage_code"),
		JobID:              stringValue(payload, "job_id"),
		RFPID:              stringValue(payload, "rfp_id"),
		SubmittedBy:        a.creds.Username,
		SubmittedAt:        now,
		Payload:            payload,
	}
	data, err := json.MarshalIndent(proof, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("gsa_ebuy: encode proof: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("gsa_ebuy submit %s: %w", rfq, err)
	}
	path := a.proofPath(rfq, conf)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("gsa_ebuy: write proof: %w", err)
	}
	return &Receipt{
		ConfirmationNumber: conf,
		SubmittedAt:        now,
		Metadata:           map[string]string{"proof_path": path, "rfq_number": rfq},
	}, nil
}

func (a *GSAeBuyAdapter) VerifySubmission(ctx context.Context, confirmation string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	matches, err := filepath.Glob(filepath.Join(a.proofDir, "*-"+confirmation+".json"))
	if err != nil {
		return false, fmt.Errorf("gsa_ebuy verify: %w", err)
	}
	return len(matches) > 0, nil
}

func (a *GSAeBuyAdapter) GetSubmissionStatus(ctx context.Context, confirmation string) (string, error) {
	ok, err := a.VerifySubmission(ctx, confirmation)
	if err != nil {
		return "", err
	}
	if ok {
		return StatusReceived, nil
	}
	return StatusNotFound, nil
}
