// predictmm is an automated two-sided market maker for binary prediction
// markets (YES/NO outcomes, prices in [0,1]) across multiple venues.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine          — orchestrator: scheduler jobs, quote cycle, sync jobs, candidate intake
//	internal/quote           — pure bid/ask calculator: mid + spread + inventory skew + policy
//	internal/inventory       — sole writer of inventory/avg-cost/realized-pnl, driven by fills
//	internal/sanity          — seven-check gate that refuses to quote on unsafe books
//	internal/dispatch        — diffs desired quotes against tracked orders, cancels/places the delta
//	internal/reconcile       — fast inventory sync + hourly orders/positions reconciliation
//	internal/screen          — scores scanner candidates for market-making eligibility
//	internal/pushfeed        — authenticated order/trade/position stream with backoff + per-order ordering
//	internal/venue           — Adapter interface plus polyclob and kalshi implementations
//	internal/risk            — kill-switch, price-anchor, and exposure limits
//	internal/store           — SQLite-backed persistence for markets, MMs, orders, fills, candidates
//	internal/controlapi      — operator HTTP/WebSocket surface: status, full-sync, reset-to-chain, pause/resume
//
// How it makes money:
//
//	The engine posts a buy (bid) below mid price and a sell (ask) above mid
//	price on each enrolled market, capturing the spread when both sides
//	fill. Quotes are skewed by current inventory so that as a position
//	accumulates on one side, prices shift to attract offsetting fills.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/favored-labs/predictmm/internal/config"
	"github.com/favored-labs/predictmm/internal/controlapi"
	"github.com/favored-labs/predictmm/internal/engine"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Create and start engine
	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	// Start control API server if enabled
	var apiServer *controlapi.Server
	if cfg.ControlAPI.Enabled {
		apiServer = controlapi.NewServer(cfg.ControlAPI.Port, cfg.ControlAPI.AllowedOrigins, cfg.ControlAPI.ConfirmationToken, eng, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("control API server failed", "error", err)
			}
		}()
		logger.Info("control API started", "url", fmt.Sprintf("http://localhost:%d", cfg.ControlAPI.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("market maker started",
		"markets_max", cfg.Risk.MaxMarketsActive,
		"order_size", cfg.MM.DefaultOrderSize,
		"max_exposure", cfg.Risk.MaxGlobalExposure,
		"dry_run", cfg.DryRun,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop control API first
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop control API", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
