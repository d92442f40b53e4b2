package service

import (
	"context"
	"log"
	"strings"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/worker"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/repository"
)

// Scheduler is the part of the submission agent the API layer drives.
type Scheduler interface {
	SubmitBid(ctx context.Context, rfp model.RFPMeta, doc model.BidDocument, portalKey string, priority int) (*model.SubmissionJob, error)
	GetJobStatus(ctx context.Context, jobID string) model.JobStatusResult
	AuditTrail(ctx context.Context, jobID string) ([]model.AuditEntry, error)
	RetryFailedSubmission(ctx context.Context, jobID string) error
	CancelJob(ctx context.Context, jobID, reason string) (worker.CancelOutcome, error)
	RecordPortalOutcome(ctx context.Context, jobID string, confirmed bool, detail string) (*model.SubmissionJob, error)
	Portals() []string
}

type BidService struct {
	rfpRepo   repository.RFPRepository
	docRepo   repository.BidDocumentRepository
	scheduler Scheduler
}

// NewBidService wires the collaborator lookups. Either repository may be nil,
// in which case requests must carry the RFP metadata or document inline.
func NewBidService(rfpRepo repository.RFPRepository, docRepo repository.BidDocumentRepository, scheduler Scheduler) *BidService {
	return &BidService{rfpRepo: rfpRepo, docRepo: docRepo, scheduler: scheduler}
}

type CreateSubmissionRequest struct {
	RFPID         string             `json:"rfp_id"`
	BidDocumentID string             `json:"bid_document_id"`
	Portal        string             `json:"portal"`
	Priority      int                `json:"priority"`
	RFP           *model.RFPMeta     `json:"rfp,omitempty"`
	Document      *model.BidDocument `json:"document,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type CancelResponse struct {
	JobID   string               `json:"job_id"`
	Outcome worker.CancelOutcome `json:"outcome"`
}

func (s *BidService) CreateSubmission(ctx context.Context, req CreateSubmissionRequest) (*model.SubmissionJob, error) {
	if strings.TrimSpace(req.Portal) == "" {
		return nil, common.Errorf("portal is required: %w", common.ErrBadRequest)
	}

	rfp, err := s.resolveRFP(ctx, req)
	if err != nil {
		return nil, err
	}
	doc, err := s.resolveDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	job, err := s.scheduler.SubmitBid(ctx, *rfp, *doc, req.Portal, req.Priority)
	if err != nil {
		return nil, common.Errorf("failed to queue submission for rfp %s: %w", rfp.ID, err)
	}
	log.Printf("INFO: Submission job %s queued for rfp %s on %s", job.JobID, job.RFPID, job.Portal)
	return job, nil
}

func (s *BidService) resolveRFP(ctx context.Context, req CreateSubmissionRequest) (*model.RFPMeta, error) {
	if req.RFP != nil {
		if req.RFP.ID == "" {
			return nil, common.Errorf("rfp.rfp_id is required: %w", common.ErrBadRequest)
		}
		if req.RFP.Deadline.IsZero() {
			return nil, common.Errorf("rfp.deadline is required: %w", common.ErrValidation)
		}
		return req.RFP, nil
	}
	if req.RFPID == "" {
		return nil, common.Errorf("rfp_id is required: %w", common.ErrBadRequest)
	}
	if s.rfpRepo == nil {
		return nil, common.Errorf("rfp lookup unavailable, send rfp inline: %w", common.ErrBadRequest)
	}
	rfp, err := s.rfpRepo.FindRFPByID(ctx, req.RFPID)
	if err != nil {
		return nil, common.Errorf("rfp not found: %w", err)
	}
	if rfp.Deadline.IsZero() {
		return nil, common.Errorf("rfp %s has no response deadline: %w", rfp.ID, common.ErrValidation)
	}
	return rfp, nil
}

func (s *BidService) resolveDocument(ctx context.Context, req CreateSubmissionRequest) (*model.BidDocument, error) {
	if req.Document != nil {
		if req.Document.ID == "" {
			req.Document.ID = req.BidDocumentID
		}
		if req.Document.ID == "" {
			return nil, common.Errorf("document.document_id is required: %w", common.ErrBadRequest)
		}
		return req.Document, nil
	}
	if req.BidDocumentID == "" {
		return nil, common.Errorf("bid_document_id is required: %w", common.ErrBadRequest)
	}
	if s.docRepo == nil {
		return nil, common.Errorf("document lookup unavailable, send document inline: %w", common.ErrBadRequest)
	}
	doc, err := s.docRepo.FindDocumentByID(ctx, req.BidDocumentID)
	if err != nil {
		return nil, common.Errorf("bid document not found: %w", err)
	}
	return doc, nil
}

func (s *BidService) GetStatus(ctx context.Context, jobID string) model.JobStatusResult {
	return s.scheduler.GetJobStatus(ctx, jobID)
}

func (s *BidService) AuditTrail(ctx context.Context, jobID string) ([]model.AuditEntry, error) {
	if res := s.scheduler.GetJobStatus(ctx, jobID); !res.Found {
		return nil, common.Errorf("job %s: %w", jobID, common.ErrNotFound)
	}
	entries, err := s.scheduler.AuditTrail(ctx, jobID)
	if err != nil {
		return nil, common.Errorf("failed to read audit trail for job %s: %w", jobID, err)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return entries, nil
}

func (s *BidService) Retry(ctx context.Context, jobID string) (model.JobStatusResult, error) {
	if err := s.scheduler.RetryFailedSubmission(ctx, jobID); err != nil {
		return model.JobStatusResult{}, err
	}
	return s.scheduler.GetJobStatus(ctx, jobID), nil
}

func (s *BidService) Cancel(ctx context.Context, jobID string, req CancelRequest, actor string) (*CancelResponse, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by " + actor
	}
	outcome, err := s.scheduler.CancelJob(ctx, jobID, reason)
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: Cancel of job %s by %s: %s", jobID, actor, outcome)
	return &CancelResponse{JobID: jobID, Outcome: outcome}, nil
}

func (s *BidService) Portals() []string {
	return s.scheduler.Portals()
}
