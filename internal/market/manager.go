package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market-broker/internal/config"
	"market-broker/pkg/wire"
)

var (
	// ErrUnknownSeller means no ledger exists for the seller id.
	ErrUnknownSeller = errors.New("unknown seller")

	// ErrSaleNotFound means the item id names no active sale. On the buy
	// path this maps to a refusal, not a protocol error.
	ErrSaleNotFound = errors.New("sale not found")
)

// PurchaseResult reports one purchase attempt. SellerID is set on success so
// the caller can notify the sale's owner.
type PurchaseResult struct {
	OK       bool
	SellerID string
}

// ExpiredSale describes one sale the sweeper closed.
type ExpiredSale struct {
	ItemID    string
	SellerID  string
	Kind      wire.ItemKind
	Remainder decimal.Decimal
}

// Manager owns every ledger and active sale. A single mutex orders all
// market mutations (registration, sale start and end, sweeping); purchases
// only hold it for the sale lookup and then race on the sale's own lock, so
// buys against different sales do not serialize here.
type Manager struct {
	mu      sync.Mutex
	cfg     config.MarketConfig
	ledgers map[string]*Ledger // seller id -> ledger
	sales   map[string]*Sale   // item id -> active sale
	saleSeq int64

	expiredCh chan []ExpiredSale
	logger    *slog.Logger
}

// NewManager creates an empty market.
func NewManager(cfg config.MarketConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		ledgers:   make(map[string]*Ledger),
		sales:     make(map[string]*Sale),
		expiredCh: make(chan []ExpiredSale, 16),
		logger:    logger.With("component", "market"),
	}
}

// RegisterSeller ensures a ledger exists for sellerID, seeding it with the
// configured initial stock on first sight. Reconnecting sellers get their
// existing ledger back untouched.
func (m *Manager) RegisterSeller(sellerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ledgers[sellerID]; ok {
		return
	}
	m.ledgers[sellerID] = NewLedger(sellerID, decimal.NewFromInt(m.cfg.InitialStock))
	m.logger.Info("seller ledger created", "seller", sellerID, "initial_stock", m.cfg.InitialStock)
}

// StartSale debits qty of itemName from the seller's ledger and opens a
// sale. Zero duration means the configured default; anything above the
// configured maximum (or negative) is rejected.
func (m *Manager) StartSale(sellerID, itemName string, qty decimal.Decimal, duration time.Duration) (wire.ItemSnapshot, error) {
	kind, err := wire.ParseItemKind(itemName)
	if err != nil {
		return wire.ItemSnapshot{}, fmt.Errorf("%w: %q", ErrUnknownItem, itemName)
	}
	if qty.Sign() <= 0 {
		return wire.ItemSnapshot{}, ErrInvalidQuantity
	}
	if duration == 0 {
		duration = m.cfg.DefaultSaleDuration
	}
	if duration < 0 || duration > m.cfg.MaxSaleDuration {
		return wire.ItemSnapshot{}, fmt.Errorf("%w: %s (max %s)", ErrInvalidDuration, duration, m.cfg.MaxSaleDuration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ledger, ok := m.ledgers[sellerID]
	if !ok {
		return wire.ItemSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownSeller, sellerID)
	}
	if err := ledger.Debit(kind, qty); err != nil {
		return wire.ItemSnapshot{}, err
	}

	m.saleSeq++
	id := fmt.Sprintf("sale_%s_%d", sellerID, m.saleSeq)
	sale, err := NewSale(id, kind, sellerID, qty, duration)
	if err != nil {
		ledger.Credit(kind, qty)
		return wire.ItemSnapshot{}, err
	}
	m.sales[id] = sale

	m.logger.Info("sale started",
		"sale", id,
		"seller", sellerID,
		"item", kind,
		"quantity", qty,
		"duration", duration,
	)
	return sale.Snapshot(), nil
}

// Buy attempts a purchase against the sale named by itemID. An unknown id
// returns ErrSaleNotFound; sold out and expired sales come back as a
// refusal with no error.
func (m *Manager) Buy(itemID string, qty decimal.Decimal) (PurchaseResult, error) {
	m.mu.Lock()
	sale, ok := m.sales[itemID]
	m.mu.Unlock()
	if !ok {
		return PurchaseResult{}, fmt.Errorf("%w: %s", ErrSaleNotFound, itemID)
	}

	ok, err := sale.TryPurchase(qty)
	if err != nil {
		return PurchaseResult{}, err
	}
	if !ok {
		return PurchaseResult{}, nil
	}
	return PurchaseResult{OK: true, SellerID: sale.SellerID()}, nil
}

// EndSellerSales force-closes every active sale owned by sellerID, crediting
// each remainder back to the ledger, and returns how many sales it closed.
func (m *Manager) EndSellerSales(sellerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ledger, ok := m.ledgers[sellerID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSeller, sellerID)
	}

	closed := 0
	for id, sale := range m.sales {
		if sale.SellerID() != sellerID {
			continue
		}
		remainder := sale.ForceClose()
		ledger.Credit(sale.Kind(), remainder)
		delete(m.sales, id)
		closed++
		m.logger.Info("sale closed", "sale", id, "seller", sellerID, "returned", remainder)
	}
	return closed, nil
}

// SellerFor returns the owning seller of an active sale.
func (m *Manager) SellerFor(itemID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.sales[itemID]
	if !ok {
		return "", false
	}
	return sale.SellerID(), true
}

// ActiveItems returns snapshots of every active sale, ordered by id so
// repeated broadcasts are comparable. A sale past its deadline is already
// invisible here even if the sweeper has not caught it yet.
func (m *Manager) ActiveItems() []wire.ItemSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]wire.ItemSnapshot, 0, len(m.sales))
	for _, sale := range m.sales {
		if sale.Expired() {
			continue
		}
		items = append(items, sale.Snapshot())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// LedgerSnapshot returns the seller's balances, nil if the seller is unknown.
func (m *Manager) LedgerSnapshot(sellerID string) map[string]decimal.Decimal {
	m.mu.Lock()
	ledger, ok := m.ledgers[sellerID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return ledger.Snapshot()
}

// Sellers returns every known seller id, sorted.
func (m *Manager) Sellers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.ledgers))
	for id := range m.ledgers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveSaleCount returns the number of open sales, expired ones excluded.
func (m *Manager) ActiveSaleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, sale := range m.sales {
		if !sale.Expired() {
			n++
		}
	}
	return n
}

// Expired returns the channel on which the sweeper delivers closed-sale
// batches. The consumer announces the closures to connected clients.
func (m *Manager) Expired() <-chan []ExpiredSale {
	return m.expiredCh
}

// Run drives the expiry sweeper until ctx is cancelled. Sales are checked
// every SweepInterval; remainders are credited the moment a sale is caught,
// independent of whether anyone is listening for the announce.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	m.logger.Info("expiry sweeper started", "interval", m.cfg.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			expired := m.sweepExpired()
			if len(expired) == 0 {
				continue
			}
			select {
			case m.expiredCh <- expired:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sweepExpired closes every sale past its deadline and credits the
// remainders back. Called on the sweep tick; exported behavior is tested
// through this method directly.
func (m *Manager) sweepExpired() []ExpiredSale {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []ExpiredSale
	for id, sale := range m.sales {
		if !sale.Expired() {
			continue
		}
		remainder := sale.ForceClose()
		if ledger, ok := m.ledgers[sale.SellerID()]; ok {
			ledger.Credit(sale.Kind(), remainder)
		}
		delete(m.sales, id)
		expired = append(expired, ExpiredSale{
			ItemID:    id,
			SellerID:  sale.SellerID(),
			Kind:      sale.Kind(),
			Remainder: remainder,
		})
		m.logger.Info("sale expired", "sale", id, "seller", sale.SellerID(), "returned", remainder)
	}
	return expired
}
