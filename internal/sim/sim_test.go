package sim

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"market-broker/internal/broker"
	"market-broker/internal/config"
	"market-broker/internal/monitor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBroker(t *testing.T) string {
	t.Helper()
	cfg := config.Config{
		Server: config.ServerConfig{
			Port:             0,
			HandshakeTimeout: 2 * time.Second,
			WriteTimeout:     2 * time.Second,
			OutboundBuffer:   64,
			BroadcastBuffer:  256,
			ShutdownTimeout:  2 * time.Second,
		},
		Market: config.MarketConfig{
			InitialStock:        1000,
			DefaultSaleDuration: time.Minute,
			MaxSaleDuration:     time.Minute,
			SweepInterval:       50 * time.Millisecond,
		},
	}
	b := broker.New(cfg, monitor.NewMetrics(), testLogger())
	if err := b.Start(); err != nil {
		t.Fatalf("start broker: %v", err)
	}
	t.Cleanup(b.Stop)
	return fmt.Sprintf("127.0.0.1:%d", b.Addr().(*net.TCPAddr).Port)
}

func TestRunRejectsEmptyConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Rate: 1}, testLogger()).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no actors") {
		t.Fatalf("err = %v, want no-actors rejection", err)
	}

	_, err = New(Config{Buyers: 1}, testLogger()).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "rate") {
		t.Fatalf("err = %v, want rate rejection", err)
	}
}

func TestRunFailsWithoutBroker(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Addr:     "127.0.0.1:1",
		Buyers:   1,
		Rate:     10,
		Duration: time.Second,
	}
	if _, err := New(cfg, testLogger()).Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with nothing listening")
	}
}

func TestRunGeneratesTraffic(t *testing.T) {
	t.Parallel()
	addr := startBroker(t)
	reportPath := filepath.Join(t.TempDir(), "report.json")

	cfg := Config{
		Addr:       addr,
		Buyers:     1,
		Sellers:    1,
		Duration:   700 * time.Millisecond,
		Rate:       20,
		ReportPath: reportPath,
	}
	report, err := New(cfg, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.SalesStarted == 0 {
		t.Error("no sales started")
	}
	if report.BuyAttempts == 0 {
		t.Error("no buys attempted")
	}
	if _, err := os.Stat(reportPath); err != nil {
		t.Errorf("report file: %v", err)
	}
}
