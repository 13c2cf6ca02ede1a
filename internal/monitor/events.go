package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"market-broker/pkg/wire"
)

// Event is the wrapper for everything pushed over the dashboard websocket.
type Event struct {
	Type      string    `json:"type"` // "snapshot", "session", "sale_started", "sale_ended", "purchase"
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// SessionEvent reports a client connecting or disconnecting.
type SessionEvent struct {
	ClientID   string `json:"client_id"`
	Role       string `json:"role"`
	RemoteAddr string `json:"remote_addr"`
	Connected  bool   `json:"connected"`
}

// SaleStartedEvent reports a new sale.
type SaleStartedEvent struct {
	ItemID        string          `json:"item_id"`
	SellerID      string          `json:"seller_id"`
	Name          string          `json:"name"`
	Quantity      decimal.Decimal `json:"quantity"`
	RemainingTime int64           `json:"remaining_time_ms"`
}

// SaleEndedEvent reports a closed sale. Reason is "seller" for explicit
// ends and "expired" when the sweeper caught it.
type SaleEndedEvent struct {
	SellerID string `json:"seller_id"`
	Reason   string `json:"reason"`
	Closed   int    `json:"closed"`
}

// PurchaseEvent reports a successful purchase.
type PurchaseEvent struct {
	ItemID   string          `json:"item_id"`
	BuyerID  string          `json:"buyer_id"`
	SellerID string          `json:"seller_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// NewSessionEvent creates a session lifecycle event.
func NewSessionEvent(clientID string, role wire.Role, remoteAddr string, connected bool) Event {
	return Event{
		Type:      "session",
		Timestamp: time.Now(),
		Data: SessionEvent{
			ClientID:   clientID,
			Role:       string(role),
			RemoteAddr: remoteAddr,
			Connected:  connected,
		},
	}
}

// NewSaleStartedEvent creates a sale-started event from a sale snapshot.
func NewSaleStartedEvent(snap wire.ItemSnapshot) Event {
	return Event{
		Type:      "sale_started",
		Timestamp: time.Now(),
		Data: SaleStartedEvent{
			ItemID:        snap.ID,
			SellerID:      snap.SellerID,
			Name:          snap.Name,
			Quantity:      snap.Quantity,
			RemainingTime: snap.RemainingTime,
		},
	}
}

// NewSaleEndedEvent creates a sale-ended event.
func NewSaleEndedEvent(sellerID, reason string, closed int) Event {
	return Event{
		Type:      "sale_ended",
		Timestamp: time.Now(),
		Data: SaleEndedEvent{
			SellerID: sellerID,
			Reason:   reason,
			Closed:   closed,
		},
	}
}

// NewPurchaseEvent creates a purchase event.
func NewPurchaseEvent(itemID, buyerID, sellerID string, quantity decimal.Decimal) Event {
	return Event{
		Type:      "purchase",
		Timestamp: time.Now(),
		Data: PurchaseEvent{
			ItemID:   itemID,
			BuyerID:  buyerID,
			SellerID: sellerID,
			Quantity: quantity,
		},
	}
}
