// clob-engine — a multi-instrument limit order matching engine with durable
// journaling and replay-based cold start.
//
// Architecture:
//
//	main.go              — entry point: loads config, rebuilds books, waits for SIGINT/SIGTERM
//	exchange/exchange.go — façade: sequences orders, allocates ids, fans out events
//	exchange/rebuild.go  — cold start: replays the order journal into fresh books
//	book/book.go         — per-instrument matching under price-time priority
//	book/level.go        — FIFO price level with lazy dead-order skipping
//	book/heap.go         — min/max price heaps with lazy stale-entry discard
//	journal/durable.go   — queued durable writer: async consumer over the file store
//	journal/store.go     — JSONL journals + atomically replaced projection files
//	journal/broadcast.go — WebSocket fan-out of ORDER/TRADE/CANCEL events
//	journal/backup.go    — append-only per-instrument text journals
//	metrics/metrics.go   — Prometheus health and throughput metrics
//
// The engine is the authoritative source of matching truth; storage exists
// to survive restarts and feed downstream consumers. On startup the order
// journal is replayed into fresh books before any request is accepted.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"clob-engine/internal/config"
	"clob-engine/internal/exchange"
	"clob-engine/internal/journal"
	"clob-engine/internal/metrics"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("CLOB_CONFIG"); p != "" {
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

	collector := metrics.NewCollector()

	// Durable writer over the file store: always first, it is the primary.
	store, err := journal.OpenStore(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	durable := journal.NewQueuedDurable(store, cfg.Writer.QueueSize, cfg.Writer.CounterBatch, logger, collector)

	writers := []journal.Writer{durable}

	var broadcast *journal.BroadcastWriter
	if cfg.Broadcast.Enabled {
		broadcast = journal.NewBroadcast(cfg.Broadcast.Port, logger, collector)
		writers = append(writers, broadcast)
	}

	if cfg.Backup.Enabled {
		backup, err := journal.NewBackup(cfg.Backup.DataDir, logger)
		if err != nil {
			logger.Error("failed to open backup dir", "error", err)
			os.Exit(1)
		}
		writers = append(writers, backup)
	}

	composite := journal.NewComposite(logger, writers...)
	ex := exchange.New(composite, durable, logger, collector)

	// Replay the journal before serving anything.
	if err := ex.Rebuild(); err != nil {
		logger.Error("rebuild failed", "error", err)
		os.Exit(1)
	}

	if broadcast != nil {
		go func() {
			if err := broadcast.Start(); err != nil {
				logger.Error("broadcast server failed", "error", err)
			}
		}()
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = collector.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	logger.Info("matching engine started",
		"store", cfg.Store.DataDir,
		"broadcast", cfg.Broadcast.Enabled,
		"backup", cfg.Backup.Enabled,
		"next_order_id", ex.NextOrderID(),
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if metricsSrv != nil {
		metricsSrv.Close()
	}
	// Close quiesces intake, waits for in-flight calls, then drains every
	// writer (durable last).
	if err := ex.Close(); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
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
