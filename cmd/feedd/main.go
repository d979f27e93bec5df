// feedd — the market-data aggregation daemon.
//
// Architecture:
//
//	main.go                     — entry point: loads config, bootstraps the manager, waits for SIGINT/SIGTERM
//	feed/manager.go             — central state store: instrument universe, tickers, reference prices, snapshots
//	feed/planner.go             — strike-by-expiry subscription planning inside a moneyness window
//	adapter/adapter.go          — the contract every vendor adapter implements
//	adapter/symbolsheet.go      — CSV directive table for symbol translation
//	adapter/deribit/            — crypto-derivatives venue: REST bootstrap + JSON-RPC WebSocket stream
//	adapter/terminal/           — institutional terminal via its local gateway bridge
//
// The daemon performs a blocking bootstrap (option chains, then reference
// prices) before any stream starts, then serves a continuously updated,
// thread-safe market snapshot to in-process consumers until shutdown.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"marketfeed/internal/config"
	"marketfeed/internal/feed"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MF_CONFIG"); p != "" {
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

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	manager := feed.New(cfg, logger)
	manager.StartStream()

	logger.Info("market feed started", "tabs", len(cfg.Tabs))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	manager.StopStream()
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
