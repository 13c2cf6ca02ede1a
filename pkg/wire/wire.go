// Package wire defines the broker protocol vocabulary shared by the server,
// the client library, and the tools built on top of them.
//
// On TCP each frame is a 4-byte big-endian payload length followed by that
// many bytes of JSON. Every frame carries one Message: a type tag, a JSON
// object payload, the sender's client id, and a unix-millisecond timestamp.
// Payload shapes are fixed per message type and defined here as structs so
// both ends agree on key names. The package has no dependencies on internal
// packages, so it can be imported by any layer.
//
// Quantities travel as quoted decimal strings ("100", "12.5") and are held
// as decimal.Decimal in memory, which keeps stock arithmetic exact end to
// end. Decoding also accepts bare JSON numbers from foreign clients.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Message types and roles
// ————————————————————————————————————————————————————————————————————————

// Type tags a message with its protocol meaning.
type Type string

const (
	TypeRegister             Type = "REGISTER"              // client -> broker: handshake
	TypeAck                  Type = "ACK"                   // broker -> client: handshake accepted
	TypeSaleStart            Type = "SALE_START"            // seller request, broker response, and broadcast announce
	TypeSaleEnd              Type = "SALE_END"              // seller request, broker response, and broadcast announce
	TypeBuyRequest           Type = "BUY_REQUEST"           // buyer -> broker
	TypeBuyResponse          Type = "BUY_RESPONSE"          // broker -> buyer
	TypeListItems            Type = "LIST_ITEMS"            // request (empty) and response (items)
	TypeStockUpdate          Type = "STOCK_UPDATE"          // broker -> buyers: active item snapshot
	TypeError                Type = "ERROR"                 // broker -> client: request rejected
	TypeHeartbeat            Type = "HEARTBEAT"             // client -> broker: liveness
	TypePurchaseNotification Type = "PURCHASE_NOTIFICATION" // broker -> owning seller
)

// Role identifies what a session is allowed to do.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
)

// ParseRole converts a wire string into a Role, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(RoleBuyer):
		return RoleBuyer, nil
	case string(RoleSeller):
		return RoleSeller, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// ————————————————————————————————————————————————————————————————————————
// Item catalog
// ————————————————————————————————————————————————————————————————————————

// ItemKind names a tradeable good. The catalog is fixed; sellers cannot
// invent new kinds at runtime.
type ItemKind string

const (
	ItemFlower ItemKind = "flower"
	ItemSugar  ItemKind = "sugar"
	ItemPotato ItemKind = "potato"
	ItemOil    ItemKind = "oil"
)

// Catalog returns the full set of tradeable kinds in canonical order.
func Catalog() []ItemKind {
	return []ItemKind{ItemFlower, ItemSugar, ItemPotato, ItemOil}
}

// ParseItemKind converts a wire string into an ItemKind, case-insensitively.
func ParseItemKind(s string) (ItemKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ItemFlower):
		return ItemFlower, nil
	case string(ItemSugar):
		return ItemSugar, nil
	case string(ItemPotato):
		return ItemPotato, nil
	case string(ItemOil):
		return ItemOil, nil
	}
	return "", fmt.Errorf("unknown item %q", s)
}

// ————————————————————————————————————————————————————————————————————————
// Envelope
// ————————————————————————————————————————————————————————————————————————

// Message is the envelope every frame carries. Data is a JSON object whose
// shape is fixed by Type; payload-less messages (HEARTBEAT, LIST_ITEMS
// requests) omit it.
type Message struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	SenderID  string          `json:"senderId,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// ErrNoPayload is returned by DecodeInto when the message has no data object.
var ErrNoPayload = errors.New("message has no payload")

// New builds a Message of the given type, marshalling payload into Data.
// A nil payload produces a payload-less message.
func New(t Type, payload any) (Message, error) {
	m := Message{Type: t, Timestamp: time.Now().UnixMilli()}
	if payload == nil {
		return m, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	m.Data = data
	return m, nil
}

// MustNew is New for payloads that cannot fail to marshal (our own structs).
// It panics on error and is intended for constructing protocol replies.
func MustNew(t Type, payload any) Message {
	m, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// DecodeInto unmarshals the message payload into v.
func (m Message) DecodeInto(v any) error {
	if len(m.Data) == 0 {
		return ErrNoPayload
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Payloads
// ————————————————————————————————————————————————————————————————————————

// RegisterRequest opens a session. It must be the first message a client
// sends; anything else is a protocol violation.
type RegisterRequest struct {
	ClientType Role `json:"clientType"`
}

// Ack completes the handshake and tells the client its assigned id.
type Ack struct {
	ClientID string `json:"clientId"`
}

// SaleStartRequest asks the broker to open a sale from the seller's stock.
// DurationSeconds is optional; the broker applies its configured default
// when zero and caps at the configured maximum.
type SaleStartRequest struct {
	Name            string          `json:"name"`
	Quantity        decimal.Decimal `json:"quantity"`
	DurationSeconds int64           `json:"durationSeconds,omitempty"`
}

// SaleStartResponse is the direct reply to the requesting seller.
type SaleStartResponse struct {
	Success       bool            `json:"success"`
	ItemID        string          `json:"itemId"`
	Name          string          `json:"name"`
	Quantity      decimal.Decimal `json:"quantity"`
	RemainingTime int64           `json:"remainingTime"` // milliseconds
}

// SaleStartAnnounce is broadcast to every session when a sale opens.
// Announces never carry a success field; that is how clients tell a
// broadcast SALE_START from the direct response to their own request.
type SaleStartAnnounce struct {
	ItemID   string `json:"itemId"`
	SellerID string `json:"sellerId"`
}

// SaleEndResponse is the direct reply to a seller ending its sales.
type SaleEndResponse struct {
	Success bool `json:"success"`
	Closed  int  `json:"closed"` // number of sales force-closed
}

// BuyRequest asks to purchase from an active sale.
type BuyRequest struct {
	ItemID   string          `json:"itemId"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BuyResponse reports the outcome of a purchase attempt. Success false
// covers sold out, expired, and unknown sale ids; those are refusals, not
// protocol errors.
type BuyResponse struct {
	Success  bool            `json:"success"`
	ItemID   string          `json:"itemId"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ItemList carries active sale snapshots. It rides on LIST_ITEMS responses,
// STOCK_UPDATE broadcasts, and SALE_END announces.
type ItemList struct {
	Items []ItemSnapshot `json:"items"`
}

// ErrorPayload carries a human-readable rejection reason.
type ErrorPayload struct {
	Error string `json:"error"`
}

// PurchaseNotification tells the owning seller one of its sales was hit.
type PurchaseNotification struct {
	ItemID   string          `json:"itemId"`
	Quantity decimal.Decimal `json:"quantity"`
	BuyerID  string          `json:"buyerId"`
}

// ItemSnapshot is a point-in-time view of one sale, safe to ship to clients.
type ItemSnapshot struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Quantity      decimal.Decimal `json:"quantity"`
	SellerID      string          `json:"sellerId"`
	RemainingTime int64           `json:"remainingTime"` // milliseconds
}
