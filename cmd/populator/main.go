// Package main wires together the frontier populator service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-frontier/internal/app"
	"github.com/JakeFAU/crawler-frontier/internal/config"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	logger := a.Logger()
	logger.Info("frontier populator starting",
		zap.String("store", cfg.Frontier.Store),
		zap.String("inflight", cfg.InFlight.Backend),
		zap.Ints("shards", cfg.Frontier.Shards),
		zap.Int("port", cfg.Server.Port),
	)

	if err := a.Run(ctx); err != nil {
		logger.Error("shutdown with errors", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
