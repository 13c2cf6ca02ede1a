// Package sim generates synthetic marketplace traffic for load and soak
// testing. It connects a configurable number of seller and buyer actors to
// a running broker, paces each with a token-bucket limiter, and folds the
// outcomes into a Stats report that can be written to disk as JSON.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"market-broker/internal/client"
	"market-broker/pkg/wire"
)

const dialTimeout = 5 * time.Second

// Config sizes a simulation run.
type Config struct {
	Addr     string        // broker TCP address
	Buyers   int           // number of buyer actors
	Sellers  int           // number of seller actors
	Duration time.Duration // 0 runs until ctx is cancelled
	Rate     float64       // actions per second, per actor

	// ReportPath is where the JSON report lands; empty skips the file.
	ReportPath string
}

// Sim owns one simulation run.
type Sim struct {
	cfg    Config
	stats  *Stats
	logger *slog.Logger
}

// New builds a simulation from the given config.
func New(cfg Config, logger *slog.Logger) *Sim {
	return &Sim{
		cfg:    cfg,
		stats:  NewStats(),
		logger: logger.With("component", "sim"),
	}
}

// Run drives the actors until the configured duration elapses or ctx is
// cancelled, then returns the final report. Individual request failures are
// counted, not fatal; Run errors only when no actor connects at all or the
// report cannot be written.
func (s *Sim) Run(ctx context.Context) (Report, error) {
	if s.cfg.Buyers+s.cfg.Sellers == 0 {
		return Report{}, errors.New("no actors configured")
	}
	if s.cfg.Rate <= 0 {
		return Report{}, fmt.Errorf("rate must be positive, got %v", s.cfg.Rate)
	}

	if s.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Duration)
		defer cancel()
	}

	s.logger.Info("simulation starting",
		"addr", s.cfg.Addr,
		"sellers", s.cfg.Sellers,
		"buyers", s.cfg.Buyers,
		"rate", s.cfg.Rate,
	)
	start := time.Now()

	var (
		wg        sync.WaitGroup
		connected atomic.Int64
	)
	for i := 0; i < s.cfg.Sellers; i++ {
		s.spawn(ctx, &wg, &connected, wire.RoleSeller, i)
	}
	for i := 0; i < s.cfg.Buyers; i++ {
		s.spawn(ctx, &wg, &connected, wire.RoleBuyer, i)
	}
	wg.Wait()

	report := s.stats.Report(time.Since(start))
	if connected.Load() == 0 {
		return report, fmt.Errorf("no actor could connect to %s", s.cfg.Addr)
	}
	if s.cfg.ReportPath != "" {
		if err := WriteReport(s.cfg.ReportPath, report); err != nil {
			return report, fmt.Errorf("write report: %w", err)
		}
		s.logger.Info("report written", "path", s.cfg.ReportPath)
	}
	s.logger.Info("simulation finished",
		"salesStarted", report.SalesStarted,
		"buyAttempts", report.BuyAttempts,
		"errors", report.Errors,
	)
	return report, nil
}

func (s *Sim) spawn(ctx context.Context, wg *sync.WaitGroup, connected *atomic.Int64, role wire.Role, n int) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger := s.logger.With("actor", fmt.Sprintf("%s-%d", strings.ToLower(string(role)), n))

		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		c, err := client.Dial(dialCtx, s.cfg.Addr, role, client.Options{Logger: logger})
		cancel()
		if err != nil {
			s.stats.Error()
			logger.Warn("connect failed", "error", err)
			return
		}
		defer c.Close()
		connected.Add(1)

		limiter := rate.NewLimiter(rate.Limit(s.cfg.Rate), 1)
		switch role {
		case wire.RoleSeller:
			(&seller{client: c, limiter: limiter, stats: s.stats, logger: logger}).run(ctx)
		default:
			(&buyer{client: c, limiter: limiter, stats: s.stats, logger: logger}).run(ctx)
		}
	}()
}
