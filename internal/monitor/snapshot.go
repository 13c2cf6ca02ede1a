package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"market-broker/internal/config"
	"market-broker/pkg/wire"
)

// SnapshotProvider provides snapshot access to broker state. Implemented by
// the broker; defined here so the monitor has no dependency on it.
type SnapshotProvider interface {
	SessionsSnapshot() []SessionStatus
	ActiveItems() []wire.ItemSnapshot
	LedgerBalances() map[string]map[string]decimal.Decimal
}

// BuildSnapshot aggregates state from the provider into a dashboard snapshot.
func BuildSnapshot(provider SnapshotProvider, cfg config.Config) BrokerSnapshot {
	sessions := provider.SessionsSnapshot()
	items := provider.ActiveItems()

	var totals Totals
	totals.ActiveSales = len(items)
	for _, s := range sessions {
		role, err := wire.ParseRole(s.Role)
		if err != nil {
			continue
		}
		switch role {
		case wire.RoleBuyer:
			totals.Buyers++
		case wire.RoleSeller:
			totals.Sellers++
		}
	}

	return BrokerSnapshot{
		Timestamp: time.Now(),
		Sessions:  sessions,
		Items:     items,
		Ledgers:   provider.LedgerBalances(),
		Totals:    totals,
		Config:    NewConfigSummary(cfg),
	}
}
