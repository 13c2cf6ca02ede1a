// Package market implements the trading core: timed sales, per-seller stock
// ledgers, and the Manager that ties them together.
//
// A Sale is a fixed-duration offer of one catalog item. Stock committed to a
// sale leaves the seller's ledger when the sale opens and whatever remains
// comes back when the sale closes, whether the seller ended it or the expiry
// sweeper caught it. A sale outlives its seller's connection. Purchases
// decrement the sale's remaining quantity atomically; the total of ledger
// balance, open sale remainders, and sold quantity is conserved for every
// seller and kind.
package market

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market-broker/pkg/wire"
)

var (
	// ErrInvalidQuantity rejects zero or negative quantities. This is a
	// caller error, distinct from a purchase refusal.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidDuration rejects sale durations outside (0, max].
	ErrInvalidDuration = errors.New("invalid sale duration")
)

// Sale is one timed offer. All state is guarded by mu so concurrent buyers
// race on the lock, not on the quantity.
type Sale struct {
	mu        sync.Mutex
	id        string
	kind      wire.ItemKind
	sellerID  string
	remaining decimal.Decimal
	createdAt time.Time
	deadline  time.Time
	closed    bool
}

// NewSale opens a sale of qty units lasting duration. The caller (Manager)
// has already debited the seller's ledger and resolved the duration; a
// non-positive qty or duration is rejected regardless.
func NewSale(id string, kind wire.ItemKind, sellerID string, qty decimal.Decimal, duration time.Duration) (*Sale, error) {
	if qty.Sign() <= 0 {
		return nil, ErrInvalidQuantity
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	now := time.Now()
	return &Sale{
		id:        id,
		kind:      kind,
		sellerID:  sellerID,
		remaining: qty,
		createdAt: now,
		deadline:  now.Add(duration),
	}, nil
}

// TryPurchase attempts to take amount units from the sale.
//
// A non-positive amount is a caller error. Closed and expired sales refuse,
// as does any amount above the remainder; refusals leave the stock
// untouched. Taking the exact remainder succeeds and leaves the sale open
// at zero: depletion does not close a sale.
func (s *Sale) TryPurchase(amount decimal.Decimal) (bool, error) {
	if amount.Sign() <= 0 {
		return false, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !time.Now().Before(s.deadline) {
		return false, nil
	}
	if amount.GreaterThan(s.remaining) {
		return false, nil
	}
	s.remaining = s.remaining.Sub(amount)
	return true, nil
}

// ForceClose marks the sale closed and returns the unsold remainder exactly
// once; later calls return zero. The caller credits the remainder back to
// the seller's ledger.
func (s *Sale) ForceClose() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return decimal.Zero
	}
	s.closed = true
	remainder := s.remaining
	s.remaining = decimal.Zero
	return remainder
}

// Expired reports whether the deadline has passed. A closed sale is not
// "expired"; it is gone.
func (s *Sale) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !time.Now().Before(s.deadline)
}

// RemainingTime returns how long until expiry, zero once closed or expired.
func (s *Sale) RemainingTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingTimeLocked()
}

func (s *Sale) remainingTimeLocked() time.Duration {
	if s.closed {
		return 0
	}
	left := time.Until(s.deadline)
	if left < 0 {
		return 0
	}
	return left
}

// Remaining returns the unsold quantity.
func (s *Sale) Remaining() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// SellerID returns the owning seller's client id.
func (s *Sale) SellerID() string { return s.sellerID }

// Kind returns the catalog kind on offer.
func (s *Sale) Kind() wire.ItemKind { return s.kind }

// ID returns the sale id.
func (s *Sale) ID() string { return s.id }

// Snapshot returns a point-in-time wire view of the sale.
func (s *Sale) Snapshot() wire.ItemSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.ItemSnapshot{
		ID:            s.id,
		Name:          string(s.kind),
		Quantity:      s.remaining,
		SellerID:      s.sellerID,
		RemainingTime: s.remainingTimeLocked().Milliseconds(),
	}
}
