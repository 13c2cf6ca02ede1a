// market-sim floods a running broker with synthetic buyer and seller
// traffic and prints a summary of what happened. Useful for load testing
// and for watching the monitor dashboard move.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-broker/internal/sim"
)

func main() {
	var cfg sim.Config
	flag.StringVar(&cfg.Addr, "addr", "127.0.0.1:5000", "broker TCP address")
	flag.IntVar(&cfg.Buyers, "buyers", 5, "number of buyer actors")
	flag.IntVar(&cfg.Sellers, "sellers", 2, "number of seller actors")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run (0 = until Ctrl-C)")
	flag.Float64Var(&cfg.Rate, "rate", 2, "actions per second, per actor")
	flag.StringVar(&cfg.ReportPath, "report", "", "write a JSON report here (optional)")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := sim.New(cfg, logger).Run(ctx)
	if err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\nsimulation summary (%s):\n", report.Duration)
	fmt.Printf("  sales started:   %d\n", report.SalesStarted)
	fmt.Printf("  sales ended:     %d\n", report.SalesEnded)
	fmt.Printf("  buy attempts:    %d\n", report.BuyAttempts)
	fmt.Printf("  buys ok:         %d\n", report.BuyOK)
	fmt.Printf("  buys refused:    %d\n", report.BuyRefused)
	fmt.Printf("  broadcasts seen: %d\n", report.BroadcastsSeen)
	fmt.Printf("  errors:          %d\n", report.Errors)
}
