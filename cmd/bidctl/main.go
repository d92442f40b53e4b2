package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
)

func main() {
	config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.AppConfig).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
