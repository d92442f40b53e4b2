package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/api/middleware"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/service"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
)

type WebhookHandler struct {
	webhookService *service.WebhookService
	secret         string
}

func NewWebhookHandler(ws *service.WebhookService, secret string) *WebhookHandler {
	return &WebhookHandler{webhookService: ws, secret: secret}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.WebhookSecret(h.secret))
	r.Post("/portal", h.handlePortalOutcome)
}

func (h *WebhookHandler) handlePortalOutcome(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload service.PortalOutcomePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("ERROR: Webhook: Invalid payload: %v", err)
		common.RespondWithError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	job, err := h.webhookService.HandlePortalOutcome(r.Context(), payload)
	if err != nil {
		log.Printf("ERROR: Webhook: Error handling outcome for JobID %s: %v", payload.JobID, err)
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job.StatusResult())
}
