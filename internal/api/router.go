package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/api/handler"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/service"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common/security"
)

func NewRouter(
	authService *service.AuthService,
	bidService *service.BidService,
	webhookService *service.WebhookService,
	webhookSecret string,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Looks for "Authorization: Bearer T" and puts verified claims in context.
	r.Use(jwtauth.Verifier(security.TokenAuth))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(v1 chi.Router) {
		authHandler := handler.NewAuthHandler(authService)
		v1.Route("/auth", authHandler.RegisterRoutes)

		portalHandler := handler.NewPortalHandler(bidService)
		v1.Route("/portals", portalHandler.RegisterRoutes)

		submissionHandler := handler.NewSubmissionHandler(bidService)
		v1.Route("/submissions", submissionHandler.RegisterRoutes)

		webhookHandler := handler.NewWebhookHandler(webhookService, webhookSecret)
		v1.Route("/webhook", webhookHandler.RegisterRoutes)
	})

	return r
}
