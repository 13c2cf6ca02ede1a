package market

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"market-broker/pkg/wire"
)

var (
	// ErrInsufficientStock means a debit would push a balance negative.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUnknownItem means the kind is not in the catalog.
	ErrUnknownItem = errors.New("unknown item")
)

// Ledger holds one seller's uncommitted stock, one balance per catalog kind.
// It is created at the seller's first registration and outlives the session:
// a seller that drops and reconnects under the same id finds its stock where
// it left it.
//
// Balances never go negative. Stock committed to an open sale is not in the
// ledger; it returns via Credit when the sale closes.
type Ledger struct {
	mu       sync.RWMutex
	sellerID string
	stock    map[wire.ItemKind]decimal.Decimal
}

// NewLedger creates a ledger with initial units of every catalog kind.
func NewLedger(sellerID string, initial decimal.Decimal) *Ledger {
	stock := make(map[wire.ItemKind]decimal.Decimal, len(wire.Catalog()))
	for _, kind := range wire.Catalog() {
		stock[kind] = initial
	}
	return &Ledger{sellerID: sellerID, stock: stock}
}

// Debit removes qty units of kind, failing the whole operation if the
// balance cannot cover it.
func (l *Ledger) Debit(kind wire.ItemKind, qty decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.stock[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, kind)
	}
	if qty.GreaterThan(balance) {
		return fmt.Errorf("%w: %s has %s, want %s", ErrInsufficientStock, kind, balance, qty)
	}
	l.stock[kind] = balance.Sub(qty)
	return nil
}

// Credit returns qty units of kind to the ledger. Sale-end and expiry
// remainders find their way back here; a zero or negative amount is a no-op.
func (l *Ledger) Credit(kind wire.ItemKind, qty decimal.Decimal) {
	if qty.Sign() <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.stock[kind] = l.stock[kind].Add(qty)
}

// Balance returns the current balance for kind, zero for unknown kinds.
func (l *Ledger) Balance(kind wire.ItemKind) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stock[kind]
}

// Snapshot returns a copy of all balances keyed by kind name.
func (l *Ledger) Snapshot() map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(l.stock))
	for kind, balance := range l.stock {
		out[string(kind)] = balance
	}
	return out
}
