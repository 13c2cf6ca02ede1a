package sim

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"market-broker/internal/client"
	"market-broker/pkg/wire"
)

const stepTimeout = 5 * time.Second

// seller keeps a rotation of sales open: mostly it puts a random catalog
// kind up for sale, every few steps it closes everything so the remainder
// flows back to its ledger for the next round.
type seller struct {
	client  *client.Client
	limiter *rate.Limiter
	stats   *Stats
	logger  *slog.Logger
}

func (a *seller) run(ctx context.Context) {
	go a.watch(ctx)
	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return
		}
		if err := a.step(ctx); err != nil {
			if errors.Is(err, client.ErrClosed) || ctx.Err() != nil {
				return
			}
			a.stats.Error()
			a.logger.Debug("step failed", "error", err)
		}
	}
}

func (a *seller) step(ctx context.Context) error {
	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	if rand.Intn(5) == 0 {
		res, err := a.client.EndSales(stepCtx)
		if err != nil {
			return err
		}
		a.stats.SalesEnded(res.Closed)
		return nil
	}

	kinds := wire.Catalog()
	kind := kinds[rand.Intn(len(kinds))]
	quantity := decimal.NewFromInt(int64(5 + rand.Intn(46)))
	duration := time.Duration(2+rand.Intn(9)) * time.Second

	if _, err := a.client.StartSale(stepCtx, string(kind), quantity, duration); err != nil {
		return err
	}
	a.stats.SaleStarted()
	return nil
}

// watch drains the broadcast stream so purchase notifications show up in
// the run's totals.
func (a *seller) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.client.Broadcasts():
			a.stats.Broadcast()
		}
	}
}
