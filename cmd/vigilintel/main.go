package main

import (
	"context"
	"os"

	"vigilintel/internal/app"
	"vigilintel/internal/config"
	"vigilintel/internal/logging"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("connector initialization failed", "error", err)
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("connector stopped", "error", err)
		os.Exit(1)
	}
}
