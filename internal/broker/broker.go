// Package broker is the TCP side of the marketplace.
//
// It wires together the moving parts:
//
//  1. An accept loop turns connections into sessions after a REGISTER
//     handshake (registry.go, session.go).
//  2. Role-gated handlers translate requests into market.Manager calls
//     (handlers.go).
//  3. A single dispatcher fans broadcasts out to audiences with bounded
//     queues, reaping slow consumers instead of blocking (dispatcher.go).
//  4. The manager's expiry sweeper feeds back here so closed sales are
//     announced like any other market change.
//
// Lifecycle: New() → Start() → [serves until SIGINT] → Stop()
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market-broker/internal/config"
	"market-broker/internal/market"
	"market-broker/internal/monitor"
	"market-broker/pkg/wire"
)

// Broker owns the listener, the market manager, and every session.
type Broker struct {
	cfg      config.Config
	manager  *market.Manager
	registry *registry
	dispatch *dispatcher
	metrics  *monitor.Metrics
	logger   *slog.Logger

	listener net.Listener

	// events feeds the monitor's websocket stream. Sends never block;
	// a slow monitor loses events, not the broker.
	events chan monitor.Event

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New wires a broker. metrics must be non-nil; pass monitor.NewMetrics()
// even when the monitor server is disabled.
func New(cfg config.Config, metrics *monitor.Metrics, logger *slog.Logger) *Broker {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Broker{
		cfg:      cfg,
		manager:  market.NewManager(cfg.Market, logger),
		registry: newRegistry(),
		metrics:  metrics,
		logger:   logger.With("component", "broker"),
		events:   make(chan monitor.Event, 100),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.dispatch = newDispatcher(b.registry, cfg.Server.BroadcastBuffer, metrics, logger)
	return b
}

// Start binds the listener and launches the sweeper, the dispatcher, the
// expiry announcer, and the accept loop. It returns once the broker is
// serving.
func (b *Broker) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", b.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	b.listener = ln
	b.logger.Info("broker listening", "addr", ln.Addr().String())

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.manager.Run(b.ctx)
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dispatch.run(b.ctx)
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.announceExpired()
	}()

	if b.cfg.Server.HeartbeatTimeout > 0 {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.cullIdle()
		}()
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.acceptLoop()
	}()

	return nil
}

// Stop is idempotent: stop accepting, tear down every session, and wait for
// goroutines up to the configured shutdown timeout.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		b.logger.Info("broker stopping", "sessions", b.registry.count())
		b.cancel()
		if b.listener != nil {
			b.listener.Close()
		}
		for _, s := range b.registry.all() {
			s.teardown()
		}

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(b.cfg.Server.ShutdownTimeout):
			b.logger.Warn("shutdown timed out", "timeout", b.cfg.Server.ShutdownTimeout)
		}
		b.logger.Info("broker stopped")
	})
}

// Addr returns the bound listen address, nil before Start. Tests bind port
// 0 and read the real port from here.
func (b *Broker) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Events returns the monitor event feed.
func (b *Broker) Events() <-chan monitor.Event {
	return b.events
}

func (b *Broker) acceptLoop() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if b.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			b.logger.Error("accept failed", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		sess := newSession(b, conn)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			sess.run()
		}()
	}
}

// announceExpired consumes the sweeper's batches and turns them into the
// same announcements a seller-initiated close produces.
func (b *Broker) announceExpired() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case batch := <-b.manager.Expired():
			perSeller := make(map[string]int)
			for _, e := range batch {
				perSeller[e.SellerID]++
			}

			items := b.manager.ActiveItems()
			b.dispatch.submit(broadcast{
				msg:      wire.MustNew(wire.TypeSaleEnd, wire.ItemList{Items: items}),
				audience: toEveryone,
			})
			b.pushStockItems(items)
			b.metrics.SalesActive.Set(float64(len(items)))

			for sellerID, n := range perSeller {
				b.metrics.SalesEnded.WithLabelValues("expired").Add(float64(n))
				b.emitEvent(monitor.NewSaleEndedEvent(sellerID, "expired", n))
			}
		}
	}
}

// announceSaleEnd broadcasts the post-close market state after a seller's
// SALE_END request, whether or not it closed anything.
func (b *Broker) announceSaleEnd(sellerID, reason string, closed int) {
	items := b.manager.ActiveItems()
	b.dispatch.submit(broadcast{
		msg:      wire.MustNew(wire.TypeSaleEnd, wire.ItemList{Items: items}),
		audience: toEveryone,
	})
	b.pushStockItems(items)

	b.metrics.SalesEnded.WithLabelValues(reason).Add(float64(closed))
	b.metrics.SalesActive.Set(float64(len(items)))
	b.emitEvent(monitor.NewSaleEndedEvent(sellerID, reason, closed))
}

// pushStock broadcasts the current active-sale snapshot to buyers.
func (b *Broker) pushStock() {
	b.pushStockItems(b.manager.ActiveItems())
}

func (b *Broker) pushStockItems(items []wire.ItemSnapshot) {
	b.dispatch.submit(broadcast{
		msg:      wire.MustNew(wire.TypeStockUpdate, wire.ItemList{Items: items}),
		audience: toBuyers,
	})
}

// cullIdle reaps sessions that stayed silent past the heartbeat timeout.
// Only runs when the timeout is configured.
func (b *Broker) cullIdle() {
	ticker := time.NewTicker(b.cfg.Server.HeartbeatTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-b.cfg.Server.HeartbeatTimeout)
			for _, s := range b.registry.all() {
				if s.seenAt().Before(cutoff) {
					s.kill("idle")
				}
			}
		}
	}
}

// emitEvent forwards to the monitor feed without blocking.
func (b *Broker) emitEvent(evt monitor.Event) {
	select {
	case b.events <- evt:
	default:
		// Monitor can't keep up, drop the event.
	}
}

// SessionsSnapshot returns the connected sessions, ordered by id. Together
// with ActiveItems and LedgerBalances this implements monitor.SnapshotProvider.
func (b *Broker) SessionsSnapshot() []monitor.SessionStatus {
	sessions := b.registry.all()
	out := make([]monitor.SessionStatus, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveItems returns snapshots of every open sale.
func (b *Broker) ActiveItems() []wire.ItemSnapshot {
	return b.manager.ActiveItems()
}

// LedgerBalances returns every seller's balances by item kind.
func (b *Broker) LedgerBalances() map[string]map[string]decimal.Decimal {
	out := make(map[string]map[string]decimal.Decimal)
	for _, id := range b.manager.Sellers() {
		out[id] = b.manager.LedgerSnapshot(id)
	}
	return out
}
