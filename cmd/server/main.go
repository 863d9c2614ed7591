// Escrowd - escrow ledger and dispute coordination for marketplace platforms
package main

import (
	"context"
	"os"

	"github.com/openwork-labs/escrowd/internal/config"
	"github.com/openwork-labs/escrowd/internal/logging"
	"github.com/openwork-labs/escrowd/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting escrowd",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"protocol_fee_rate_bps", cfg.ProtocolFeeRateBps,
		"completion_threshold_bps", cfg.CompletionThresholdBps,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
