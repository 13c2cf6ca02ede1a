package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"market-broker/internal/config"
	"market-broker/pkg/wire"
)

// BrokerSnapshot represents the complete observable broker state.
type BrokerSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Connected sessions
	Sessions []SessionStatus `json:"sessions"`

	// Active sales
	Items []wire.ItemSnapshot `json:"items"`

	// Seller balances: seller id -> kind -> quantity
	Ledgers map[string]map[string]decimal.Decimal `json:"ledgers"`

	// Aggregate counts
	Totals Totals `json:"totals"`

	// Configuration
	Config ConfigSummary `json:"config"`
}

// SessionStatus represents one connected client.
type SessionStatus struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Totals aggregates the headline numbers for the dashboard.
type Totals struct {
	Buyers      int `json:"buyers"`
	Sellers     int `json:"sellers"`
	ActiveSales int `json:"active_sales"`
}

// ConfigSummary represents the operative broker configuration.
type ConfigSummary struct {
	Port                int    `json:"port"`
	InitialStock        int64  `json:"initial_stock"`
	DefaultSaleDuration string `json:"default_sale_duration"`
	MaxSaleDuration     string `json:"max_sale_duration"`
	SweepInterval       string `json:"sweep_interval"`
	HeartbeatTimeout    string `json:"heartbeat_timeout"`
	OutboundBuffer      int    `json:"outbound_buffer"`
	BroadcastBuffer     int    `json:"broadcast_buffer"`
}

// NewConfigSummary creates a config summary from config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		Port:                cfg.Server.Port,
		InitialStock:        cfg.Market.InitialStock,
		DefaultSaleDuration: cfg.Market.DefaultSaleDuration.String(),
		MaxSaleDuration:     cfg.Market.MaxSaleDuration.String(),
		SweepInterval:       cfg.Market.SweepInterval.String(),
		HeartbeatTimeout:    cfg.Server.HeartbeatTimeout.String(),
		OutboundBuffer:      cfg.Server.OutboundBuffer,
		BroadcastBuffer:     cfg.Server.BroadcastBuffer,
	}
}
