package market

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market-broker/internal/config"
)

func newTestManager() *Manager {
	cfg := config.MarketConfig{
		InitialStock:        1000,
		DefaultSaleDuration: time.Minute,
		MaxSaleDuration:     time.Minute,
		SweepInterval:       time.Second,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(cfg, logger)
}

func TestStartSaleDebitsLedger(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	snap, err := m.StartSale(testSellerID, "flower", qty("100"), 0)
	if err != nil {
		t.Fatalf("StartSale() error = %v", err)
	}
	if !snap.Quantity.Equal(qty("100")) {
		t.Errorf("sale quantity = %v, want 100", snap.Quantity)
	}
	if snap.SellerID != testSellerID {
		t.Errorf("sale seller = %q, want %q", snap.SellerID, testSellerID)
	}

	balances := m.LedgerSnapshot(testSellerID)
	if !balances["flower"].Equal(qty("900")) {
		t.Errorf("ledger flower = %v, want 900", balances["flower"])
	}
	if got := len(m.ActiveItems()); got != 1 {
		t.Errorf("ActiveItems() has %d sales, want 1", got)
	}
}

func TestStartSaleUnknownSeller(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	if _, err := m.StartSale("ghost", "flower", qty("10"), 0); !errors.Is(err, ErrUnknownSeller) {
		t.Errorf("StartSale() error = %v, want ErrUnknownSeller", err)
	}
}

func TestStartSaleUnknownItem(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	if _, err := m.StartSale(testSellerID, "gold", qty("10"), 0); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("StartSale() error = %v, want ErrUnknownItem", err)
	}
}

func TestStartSaleInsufficientStock(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	if _, err := m.StartSale(testSellerID, "flower", qty("1000.5"), 0); !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("StartSale() error = %v, want ErrInsufficientStock", err)
	}
	if got := m.LedgerSnapshot(testSellerID)["flower"]; !got.Equal(qty("1000")) {
		t.Errorf("ledger flower = %v, want 1000 (failed start must not debit)", got)
	}
}

func TestStartSaleDurationRules(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	// Zero duration takes the configured default.
	snap, err := m.StartSale(testSellerID, "sugar", qty("10"), 0)
	if err != nil {
		t.Fatalf("StartSale() error = %v", err)
	}
	if snap.RemainingTime <= 0 || snap.RemainingTime > time.Minute.Milliseconds() {
		t.Errorf("RemainingTime = %d ms, want in (0, 60000]", snap.RemainingTime)
	}

	if _, err := m.StartSale(testSellerID, "sugar", qty("10"), 2*time.Minute); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("over-max duration error = %v, want ErrInvalidDuration", err)
	}
	if _, err := m.StartSale(testSellerID, "sugar", qty("10"), -time.Second); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("negative duration error = %v, want ErrInvalidDuration", err)
	}
}

func TestStartSaleNonPositiveQuantity(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	if _, err := m.StartSale(testSellerID, "oil", qty("0"), 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("StartSale(0) error = %v, want ErrInvalidQuantity", err)
	}
}

func TestSaleIDsUnique(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	a, err := m.StartSale(testSellerID, "flower", qty("1"), 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.StartSale(testSellerID, "flower", qty("1"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Errorf("two sales share id %q", a.ID)
	}
}

func TestRegisterSellerIdempotent(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	if _, err := m.StartSale(testSellerID, "flower", qty("400"), 0); err != nil {
		t.Fatal(err)
	}
	m.RegisterSeller(testSellerID)
	if got := m.LedgerSnapshot(testSellerID)["flower"]; !got.Equal(qty("600")) {
		t.Errorf("ledger flower = %v after re-register, want 600 (no reset)", got)
	}
}

func TestBuy(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)
	snap, err := m.StartSale(testSellerID, "potato", qty("100"), 0)
	if err != nil {
		t.Fatal(err)
	}

	res, err := m.Buy(snap.ID, qty("30"))
	if err != nil {
		t.Fatalf("Buy() error = %v", err)
	}
	if !res.OK {
		t.Fatal("Buy() refused a valid purchase")
	}
	if res.SellerID != testSellerID {
		t.Errorf("SellerID = %q, want %q", res.SellerID, testSellerID)
	}

	items := m.ActiveItems()
	if len(items) != 1 || !items[0].Quantity.Equal(qty("70")) {
		t.Errorf("active quantity = %v, want 70", items[0].Quantity)
	}
}

func TestBuyNotFound(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	if _, err := m.Buy("sale_ghost_1", qty("1")); !errors.Is(err, ErrSaleNotFound) {
		t.Errorf("Buy() error = %v, want ErrSaleNotFound", err)
	}
}

func TestBuyRefusedOverRemainder(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)
	snap, err := m.StartSale(testSellerID, "potato", qty("50"), 0)
	if err != nil {
		t.Fatal(err)
	}

	res, err := m.Buy(snap.ID, qty("51"))
	if err != nil {
		t.Fatalf("Buy() error = %v", err)
	}
	if res.OK {
		t.Error("Buy() above remainder succeeded")
	}
}

func TestBuyInvalidQuantity(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)
	snap, err := m.StartSale(testSellerID, "potato", qty("50"), 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Buy(snap.ID, qty("-1")); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("Buy(-1) error = %v, want ErrInvalidQuantity", err)
	}
}

// Stock is conserved under concurrent purchases: with 500 on sale and 100
// buyers asking 10 each, exactly 50 succeed and nothing is minted or lost.
func TestConcurrentBuysConserveStock(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)
	snap, err := m.StartSale(testSellerID, "flower", qty("500"), 0)
	if err != nil {
		t.Fatal(err)
	}

	const buyers = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Buy(snap.ID, qty("10"))
			if err != nil {
				t.Errorf("Buy() error = %v", err)
				return
			}
			if res.OK {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 50 {
		t.Errorf("successful buys = %d, want exactly 50", succeeded)
	}

	items := m.ActiveItems()
	if len(items) != 1 || !items[0].Quantity.Equal(decimal.Zero) {
		t.Errorf("remaining = %v, want 0", items[0].Quantity)
	}
	// ledger 500 + sale remainder 0 + sold 500 = initial 1000
	if got := m.LedgerSnapshot(testSellerID)["flower"]; !got.Equal(qty("500")) {
		t.Errorf("ledger flower = %v, want 500", got)
	}
}

func TestEndSellerSales(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	s1, err := m.StartSale(testSellerID, "flower", qty("100"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartSale(testSellerID, "sugar", qty("200"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Buy(s1.ID, qty("40")); err != nil {
		t.Fatal(err)
	}

	closed, err := m.EndSellerSales(testSellerID)
	if err != nil {
		t.Fatalf("EndSellerSales() error = %v", err)
	}
	if closed != 2 {
		t.Errorf("closed = %d, want 2", closed)
	}
	if got := len(m.ActiveItems()); got != 0 {
		t.Errorf("ActiveItems() has %d sales after end, want 0", got)
	}

	balances := m.LedgerSnapshot(testSellerID)
	if !balances["flower"].Equal(qty("960")) {
		t.Errorf("ledger flower = %v, want 960 (remainder credited back)", balances["flower"])
	}
	if !balances["sugar"].Equal(qty("1000")) {
		t.Errorf("ledger sugar = %v, want 1000", balances["sugar"])
	}

	closed, err = m.EndSellerSales(testSellerID)
	if err != nil || closed != 0 {
		t.Errorf("second EndSellerSales() = %d, %v, want 0, nil", closed, err)
	}
}

func TestEndSellerSalesUnknownSeller(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	if _, err := m.EndSellerSales("ghost"); !errors.Is(err, ErrUnknownSeller) {
		t.Errorf("EndSellerSales() error = %v, want ErrUnknownSeller", err)
	}
}

func TestEndSellerSalesLeavesOthers(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller("seller-a")
	m.RegisterSeller("seller-b")

	if _, err := m.StartSale("seller-a", "flower", qty("10"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartSale("seller-b", "flower", qty("10"), 0); err != nil {
		t.Fatal(err)
	}

	if _, err := m.EndSellerSales("seller-a"); err != nil {
		t.Fatal(err)
	}
	items := m.ActiveItems()
	if len(items) != 1 || items[0].SellerID != "seller-b" {
		t.Errorf("remaining sales = %+v, want only seller-b's", items)
	}
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	snap, err := m.StartSale(testSellerID, "oil", qty("100"), 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Buy(snap.ID, qty("40")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(60 * time.Millisecond)
	expired := m.sweepExpired()
	if len(expired) != 1 {
		t.Fatalf("sweepExpired() closed %d sales, want 1", len(expired))
	}
	if expired[0].ItemID != snap.ID || expired[0].SellerID != testSellerID {
		t.Errorf("expired = %+v, want sale %s of %s", expired[0], snap.ID, testSellerID)
	}
	if !expired[0].Remainder.Equal(qty("60")) {
		t.Errorf("remainder = %v, want 60", expired[0].Remainder)
	}

	if got := m.LedgerSnapshot(testSellerID)["oil"]; !got.Equal(qty("960")) {
		t.Errorf("ledger oil = %v, want 960", got)
	}
	if got := len(m.ActiveItems()); got != 0 {
		t.Errorf("ActiveItems() has %d sales after sweep, want 0", got)
	}
	if again := m.sweepExpired(); len(again) != 0 {
		t.Errorf("second sweep closed %d sales, want 0", len(again))
	}
}

func TestSweepLeavesLiveSales(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	if _, err := m.StartSale(testSellerID, "flower", qty("10"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if expired := m.sweepExpired(); len(expired) != 0 {
		t.Errorf("sweepExpired() closed %d live sales, want 0", len(expired))
	}
}

func TestSweeperRunDeliversExpiries(t *testing.T) {
	t.Parallel()

	cfg := config.MarketConfig{
		InitialStock:        1000,
		DefaultSaleDuration: time.Minute,
		MaxSaleDuration:     time.Minute,
		SweepInterval:       20 * time.Millisecond,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	m := NewManager(cfg, logger)
	m.RegisterSeller(testSellerID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	if _, err := m.StartSale(testSellerID, "sugar", qty("5"), 30*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	select {
	case expired := <-m.Expired():
		if len(expired) != 1 || !expired[0].Remainder.Equal(qty("5")) {
			t.Errorf("expired = %+v, want one sale with remainder 5", expired)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never delivered the expiry")
	}
}

func TestSellerFor(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)
	snap, err := m.StartSale(testSellerID, "flower", qty("10"), 0)
	if err != nil {
		t.Fatal(err)
	}

	seller, ok := m.SellerFor(snap.ID)
	if !ok || seller != testSellerID {
		t.Errorf("SellerFor() = %q, %v, want %q, true", seller, ok, testSellerID)
	}
	if _, ok := m.SellerFor("sale_ghost_9"); ok {
		t.Error("SellerFor() found a ghost sale")
	}
}

// A sale past its deadline must vanish from listings immediately, not on
// the next sweep tick.
func TestActiveItemsOmitsExpiredBeforeSweep(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	snap, err := m.StartSale(testSellerID, "flower", qty("50"), 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	if got := m.ActiveItems(); len(got) != 0 {
		t.Errorf("ActiveItems() = %+v after expiry, want none before any sweep", got)
	}
	if got := m.ActiveSaleCount(); got != 0 {
		t.Errorf("ActiveSaleCount() = %d after expiry, want 0", got)
	}

	// The stock is still committed until the sweeper credits it back.
	if got := m.LedgerSnapshot(testSellerID)["flower"]; !got.Equal(qty("950")) {
		t.Errorf("ledger flower = %v before sweep, want 950", got)
	}
	res, err := m.Buy(snap.ID, qty("1"))
	if err != nil || res.OK {
		t.Errorf("Buy() on expired sale = %+v, %v, want refusal without error", res, err)
	}
}

func TestActiveItemsSorted(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.RegisterSeller(testSellerID)

	for i := 0; i < 5; i++ {
		if _, err := m.StartSale(testSellerID, "flower", qty("1"), 0); err != nil {
			t.Fatal(err)
		}
	}
	items := m.ActiveItems()
	for i := 1; i < len(items); i++ {
		if items[i-1].ID >= items[i].ID {
			t.Errorf("items out of order: %q before %q", items[i-1].ID, items[i].ID)
		}
	}
}
