package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/api"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/bootstrap"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/service"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common/security"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
)

func main() {
	// 1. Load Configuration
	config.Load()
	cfg := config.AppConfig
	log.Println("INFO: Configuration loaded.")

	// 2. Initialize JWT
	security.InitJWT(cfg.JWTKey, cfg.JWTExp)

	// 3. Stores, locks, notifiers, portals and the agent
	ctx := context.Background()
	components, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}
	defer components.Close()
	agent := components.Agent

	// 4. Pick up jobs left unfinished by a previous run
	requeued, err := agent.Recover(ctx)
	if err != nil {
		log.Fatalf("Recovery failed: %v", err)
	}
	log.Printf("INFO: Recovered %d queued job(s)", requeued)

	// 5. Initialize Services
	accounts := cfg.Accounts()
	if len(accounts) == 0 {
		log.Println("WARN: No API accounts configured, set OPERATOR_PASSWORD_HASH or SUBMITTER_PASSWORD_HASH")
	}
	authService := service.NewAuthService(accounts)
	bidService := service.NewBidService(components.RFPs, components.Documents, agent)
	webhookService := service.NewWebhookService(agent)
	if cfg.WebhookSecret == "" {
		log.Println("WARN: PORTAL_WEBHOOK_SECRET is empty, portal webhook is unauthenticated")
	}

	// 6. Start the submission agent
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		agent.Start(workerCtx)
	}()
	log.Println("INFO: Submission agent started.")

	// 7. Initialize Router & HTTP Server
	router := api.NewRouter(authService, bidService, webhookService, cfg.WebhookSecret)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("INFO: Server starting on port %s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
		}
	}()

	<-stop

	log.Println("INFO: Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: Server shutdown failed: %v", err)
	}

	workerCancel()
	select {
	case <-agentDone:
	case <-shutdownCtx.Done():
		log.Println("WARN: Submission agent did not stop before the shutdown deadline")
	}

	log.Println("INFO: Server and agent stopped gracefully.")
}
