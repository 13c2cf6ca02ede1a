package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"market-broker/internal/config"
	"market-broker/pkg/wire"
)

type stubProvider struct {
	sessions []SessionStatus
	items    []wire.ItemSnapshot
	ledgers  map[string]map[string]decimal.Decimal
}

func (s *stubProvider) SessionsSnapshot() []SessionStatus { return s.sessions }

func (s *stubProvider) ActiveItems() []wire.ItemSnapshot { return s.items }

func (s *stubProvider) LedgerBalances() map[string]map[string]decimal.Decimal { return s.ledgers }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(provider SnapshotProvider) *Handlers {
	logger := testLogger()
	return NewHandlers(provider, config.Config{}, NewHub(logger), logger)
}

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.MonitorConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.MonitorConfig{},
			reqHost: "localhost:5050",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:5050",
			cfg:     config.MonitorConfig{},
			reqHost: "localhost:5050",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.MonitorConfig{},
			reqHost: "localhost:5050",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://dash.example.com",
			cfg:     config.MonitorConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:5050",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.MonitorConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:5050",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://broker.internal:5050",
			cfg:     config.MonitorConfig{},
			reqHost: "broker.internal:5050",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		sessions: []SessionStatus{
			{ID: "buyer-1", Role: "buyer"},
			{ID: "seller-1", Role: "seller"},
		},
		items: []wire.ItemSnapshot{{ID: "sale_seller-1_1"}},
	}
	h := newTestHandlers(provider)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
		Sales    int    `json:"sales"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Sessions != 2 {
		t.Errorf("sessions = %d, want 2", body.Sessions)
	}
	if body.Sales != 1 {
		t.Errorf("sales = %d, want 1", body.Sales)
	}
}

func TestHandleSnapshotTotals(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		sessions: []SessionStatus{
			{ID: "buyer-1", Role: "buyer"},
			{ID: "buyer-2", Role: "buyer"},
			{ID: "seller-1", Role: "seller"},
		},
		items: []wire.ItemSnapshot{
			{ID: "sale_seller-1_1", SellerID: "seller-1"},
		},
		ledgers: map[string]map[string]decimal.Decimal{
			"seller-1": {"flower": decimal.NewFromInt(990)},
		},
	}
	h := newTestHandlers(provider)

	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var snap BrokerSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Totals.Buyers != 2 || snap.Totals.Sellers != 1 || snap.Totals.ActiveSales != 1 {
		t.Errorf("totals = %+v, want 2 buyers, 1 seller, 1 active sale", snap.Totals)
	}
	if _, ok := snap.Ledgers["seller-1"]; !ok {
		t.Errorf("ledgers = %v, want seller-1 entry", snap.Ledgers)
	}
}

func TestHandleItems(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		items: []wire.ItemSnapshot{
			{ID: "sale_s1_1", Name: "flower", SellerID: "s1"},
			{ID: "sale_s1_2", Name: "sugar", SellerID: "s1"},
		},
	}
	h := newTestHandlers(provider)

	rec := httptest.NewRecorder()
	h.HandleItems(rec, httptest.NewRequest(http.MethodGet, "/api/items", nil))

	var items []wire.ItemSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&items); err != nil {
		t.Fatalf("decode items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].Name != "flower" || items[1].Name != "sugar" {
		t.Errorf("unexpected items: %+v", items)
	}
}
