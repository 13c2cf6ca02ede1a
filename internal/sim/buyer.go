package sim

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"market-broker/internal/client"
)

// buyer polls the catalog and takes a bite out of a random active sale.
// Refusals (sold out, expired under it) are normal traffic, not errors.
type buyer struct {
	client  *client.Client
	limiter *rate.Limiter
	stats   *Stats
	logger  *slog.Logger
}

func (a *buyer) run(ctx context.Context) {
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

func (a *buyer) step(ctx context.Context) error {
	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	items, err := a.client.ListItems(stepCtx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	item := items[rand.Intn(len(items))]
	res, err := a.client.Buy(stepCtx, item.ID, bite(item.Quantity))
	if err != nil {
		return err
	}
	a.stats.BuyResult(res.Success)
	return nil
}

// bite picks 1 to 20 whole units, capped by what the listing still shows.
// The listing is a snapshot, so the buy can still lose the race and come
// back refused.
func bite(remaining decimal.Decimal) decimal.Decimal {
	limit := remaining.IntPart()
	if limit > 20 {
		limit = 20
	}
	if limit < 1 {
		limit = 1
	}
	return decimal.NewFromInt(1 + rand.Int63n(limit))
}

func (a *buyer) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.client.Broadcasts():
			a.stats.Broadcast()
		}
	}
}
