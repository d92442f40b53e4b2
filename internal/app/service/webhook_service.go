package service

import (
	"context"
	"log"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

type WebhookService struct {
	scheduler Scheduler
}

func NewWebhookService(scheduler Scheduler) *WebhookService {
	return &WebhookService{scheduler: scheduler}
}

// PortalOutcomePayload is posted by a portal (or a relay polling it) once a
// submitted bid has been confirmed or rejected.
type PortalOutcomePayload struct {
	JobID              string `json:"job_id"`
	Confirmed          bool   `json:"confirmed"`
	Detail             string `json:"detail,omitempty"`
	ConfirmationNumber string `json:"confirmation_number,omitempty"`
}

func (s *WebhookService) HandlePortalOutcome(ctx context.Context, payload PortalOutcomePayload) (*model.SubmissionJob, error) {
	log.Printf("INFO: Webhook received for JobID: %s, confirmed: %t", payload.JobID, payload.Confirmed)
	if payload.JobID == "" {
		return nil, common.Errorf("job_id is required: %w", common.ErrBadRequest)
	}

	if payload.ConfirmationNumber != "" {
		status := s.scheduler.GetJobStatus(ctx, payload.JobID)
		if !status.Found {
			return nil, common.Errorf("job %s: %w", payload.JobID, common.ErrNotFound)
		}
		if status.ConfirmationNumber != payload.ConfirmationNumber {
			return nil, common.Errorf("confirmation number %s does not match job %s: %w",
				payload.ConfirmationNumber, payload.JobID, common.ErrBadRequest)
		}
	}

	job, err := s.scheduler.RecordPortalOutcome(ctx, payload.JobID, payload.Confirmed, payload.Detail)
	if err != nil {
		return nil, common.Errorf("failed to record portal outcome for job %s: %w", payload.JobID, err)
	}
	return job, nil
}
