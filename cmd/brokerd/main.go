// Market Broker — a TCP broker for a distributed electronic marketplace.
// Sellers put timed sales of catalog goods on the floor, buyers purchase
// from them, and the broker keeps stock, expiry, and everyone's view of the
// market consistent.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts broker + monitor, waits for SIGINT/SIGTERM
//	broker/broker.go     — orchestrator: TCP accept loop, expiry feedback, idle reaping
//	broker/session.go    — per-connection state machine: handshake, read/write loops
//	broker/dispatcher.go — serialized broadcast fan-out with slow-consumer eviction
//	market/manager.go    — trading core: sales, per-seller ledgers, expiry sweeper
//	monitor/server.go    — HTTP observability: health, snapshot, websocket stream, metrics
//	client/client.go     — Go client library speaking the same wire protocol
//	wire/wire.go         — shared vocabulary: envelope, payloads, length-prefixed framing
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"market-broker/internal/broker"
	"market-broker/internal/config"
	"market-broker/internal/monitor"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (default: MARKET_CONFIG env, else built-in defaults)")
	port := flag.Int("port", 0, "override server.port from config")
	flag.Parse()

	path := *cfgPath
	if path == "" {
		path = os.Getenv("MARKET_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", path)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
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

	metrics := monitor.NewMetrics()
	b := broker.New(*cfg, metrics, logger)

	var mon *monitor.Server
	if cfg.Monitor.Enabled {
		mon = monitor.NewServer(*cfg, b, b.Events(), metrics, logger)
		go func() {
			if err := mon.Start(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
		logger.Info("monitor started", "url", fmt.Sprintf("http://localhost%s", cfg.Monitor.Listen))
	}

	if err := b.Start(); err != nil {
		logger.Error("failed to start broker", "error", err)
		os.Exit(1)
	}

	logger.Info("market broker started",
		"port", cfg.Server.Port,
		"initial_stock", cfg.Market.InitialStock,
		"default_sale_duration", cfg.Market.DefaultSaleDuration,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if mon != nil {
		if err := mon.Stop(); err != nil {
			logger.Error("failed to stop monitor", "error", err)
		}
	}
	b.Stop()
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
