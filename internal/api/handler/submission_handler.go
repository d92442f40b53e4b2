package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/api/middleware"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/service"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
)

type SubmissionHandler struct {
	bidService *service.BidService
}

func NewSubmissionHandler(bs *service.BidService) *SubmissionHandler {
	return &SubmissionHandler{bidService: bs}
}

func (h *SubmissionHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator) // All submission routes require auth
	r.Post("/", h.createSubmission)
	r.Get("/{jobID}", h.getStatus)
	r.Get("/{jobID}/audit", h.getAuditTrail)

	r.Group(func(ops chi.Router) {
		ops.Use(middleware.OperatorOnly)
		ops.Post("/{jobID}/retry", h.retry)
		ops.Post("/{jobID}/cancel", h.cancel)
	})
}

func (h *SubmissionHandler) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req service.CreateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	job, err := h.bidService.CreateSubmission(r.Context(), req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, job.StatusResult()) // Accepted (202) as it's async
}

func (h *SubmissionHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	result := h.bidService.GetStatus(r.Context(), chi.URLParam(r, "jobID"))
	if !result.Found {
		common.RespondWithJSON(w, http.StatusNotFound, result)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, result)
}

func (h *SubmissionHandler) getAuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.bidService.AuditTrail(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entries)
}

func (h *SubmissionHandler) retry(w http.ResponseWriter, r *http.Request) {
	result, err := h.bidService.Retry(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, result)
}

func (h *SubmissionHandler) cancel(w http.ResponseWriter, r *http.Request) {
	subject, ok := middleware.GetSubjectFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	var req service.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	resp, err := h.bidService.Cancel(r.Context(), chi.URLParam(r, "jobID"), req, subject)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}
