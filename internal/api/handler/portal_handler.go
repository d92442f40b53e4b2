package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/service"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
)

type PortalHandler struct {
	bidService *service.BidService
}

func NewPortalHandler(bs *service.BidService) *PortalHandler {
	return &PortalHandler{bidService: bs}
}

func (h *PortalHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.listPortals) // GET /api/v1/portals
}

func (h *PortalHandler) listPortals(w http.ResponseWriter, r *http.Request) {
	type portalsResponse struct {
		Portals []string `json:"portals"`
	}
	common.RespondWithJSON(w, http.StatusOK, portalsResponse{Portals: h.bidService.Portals()})
}
