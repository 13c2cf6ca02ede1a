// Package client is the TCP client library for the marketplace broker.
//
// A Client speaks the length-prefixed JSON protocol: Dial registers a role
// and returns once the broker ACKs, then a background read loop splits the
// inbound stream into direct responses (resolving the in-flight request)
// and broadcasts (delivered on Broadcasts). SALE_START and SALE_END frames
// are bi-modal on the wire; only those carrying a success field are
// responses, the rest are announces.
//
// The client keeps one request in flight at a time. The protocol's ERROR
// frame carries no correlation id, so a single waiter is the only
// unambiguous reading of it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market-broker/pkg/wire"
)

const (
	defaultHeartbeat = 10 * time.Second // liveness cadence when not configured
	defaultDialWait  = 10 * time.Second // register deadline without a ctx deadline
	writeTimeout     = 10 * time.Second // deadline for outgoing frames
	broadcastBuffer  = 64               // buffer for announces and stock pushes
)

// ErrClosed is returned by requests on a closed client.
var ErrClosed = errors.New("client closed")

// Options tunes a Client. The zero value is ready to use.
type Options struct {
	// HeartbeatInterval is how often the client pings the broker. Zero
	// means the default; negative disables heartbeats.
	HeartbeatInterval time.Duration

	// Logger for connection lifecycle noise. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is one registered session with the broker. Safe for concurrent
// use; requests serialize on an internal mutex.
type Client struct {
	conn net.Conn
	wc   *wire.Conn

	id   string
	role wire.Role

	writeMu sync.Mutex // serializes outgoing frames

	// reqMu admits one request at a time; mu guards the waiter handoff
	// between a request and the read loop.
	reqMu    sync.Mutex
	mu       sync.Mutex
	waiter   chan wire.Message
	waitType wire.Type

	broadcasts chan wire.Message

	heartbeat time.Duration
	logger    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects, registers the given role, and waits for the broker's ACK.
// The ctx deadline bounds the whole handshake.
func Dial(ctx context.Context, addr string, role wire.Role, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	heartbeat := opts.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = defaultHeartbeat
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	c := &Client{
		conn:       conn,
		wc:         wire.NewConn(conn),
		role:       role,
		broadcasts: make(chan wire.Message, broadcastBuffer),
		heartbeat:  heartbeat,
		logger:     logger.With("component", "client"),
		done:       make(chan struct{}),
	}

	if err := c.register(ctx, role); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	if c.heartbeat > 0 {
		go c.heartbeatLoop()
	}
	return c, nil
}

// register runs the REGISTER/ACK exchange synchronously, before the read
// loop exists.
func (c *Client) register(ctx context.Context, role wire.Role) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultDialWait)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}

	if err := c.wc.WriteMessage(wire.MustNew(wire.TypeRegister, wire.RegisterRequest{ClientType: role})); err != nil {
		return fmt.Errorf("send register: %w", err)
	}
	msg, err := c.wc.ReadMessage()
	if err != nil {
		return fmt.Errorf("await ack: %w", err)
	}
	switch msg.Type {
	case wire.TypeAck:
	case wire.TypeError:
		var ep wire.ErrorPayload
		if err := msg.DecodeInto(&ep); err == nil {
			return fmt.Errorf("broker rejected registration: %s", ep.Error)
		}
		return errors.New("broker rejected registration")
	default:
		return fmt.Errorf("expected ACK, got %s", msg.Type)
	}

	var ack wire.Ack
	if err := msg.DecodeInto(&ack); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	c.id = ack.ClientID

	if err := c.conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear handshake deadline: %w", err)
	}
	c.logger.Debug("registered", "id", c.id, "role", role)
	return nil
}

// ID returns the broker-assigned client id.
func (c *Client) ID() string { return c.id }

// Role returns the registered role.
func (c *Client) Role() wire.Role { return c.role }

// Broadcasts returns the stream of announces, stock updates, and purchase
// notifications. The channel is never closed; select with Done-style
// signals or drain until read errors close the client.
func (c *Client) Broadcasts() <-chan wire.Message { return c.broadcasts }

// Close tears the connection down. Idempotent; in-flight requests return
// ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

// ListItems fetches the active sale snapshots.
func (c *Client) ListItems(ctx context.Context) ([]wire.ItemSnapshot, error) {
	resp, err := c.request(ctx, wire.MustNew(wire.TypeListItems, nil), wire.TypeListItems)
	if err != nil {
		return nil, err
	}
	var list wire.ItemList
	if err := resp.DecodeInto(&list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// Buy attempts a purchase. A refusal (sold out, expired, unknown item)
// comes back as Success false with a nil error; only protocol-level
// rejections are errors.
func (c *Client) Buy(ctx context.Context, itemID string, quantity decimal.Decimal) (wire.BuyResponse, error) {
	msg := wire.MustNew(wire.TypeBuyRequest, wire.BuyRequest{ItemID: itemID, Quantity: quantity})
	resp, err := c.request(ctx, msg, wire.TypeBuyResponse)
	if err != nil {
		return wire.BuyResponse{}, err
	}
	var out wire.BuyResponse
	if err := resp.DecodeInto(&out); err != nil {
		return wire.BuyResponse{}, err
	}
	return out, nil
}

// StartSale opens a sale of the named item. Zero duration lets the broker
// apply its default. The wire carries whole seconds, so a positive duration
// under a second is rejected here rather than truncated into "use the
// default".
func (c *Client) StartSale(ctx context.Context, name string, quantity decimal.Decimal, duration time.Duration) (wire.SaleStartResponse, error) {
	if duration > 0 && duration < time.Second {
		return wire.SaleStartResponse{}, fmt.Errorf("sale duration must be at least 1s, got %s", duration)
	}
	msg := wire.MustNew(wire.TypeSaleStart, wire.SaleStartRequest{
		Name:            name,
		Quantity:        quantity,
		DurationSeconds: int64(duration / time.Second),
	})
	resp, err := c.request(ctx, msg, wire.TypeSaleStart)
	if err != nil {
		return wire.SaleStartResponse{}, err
	}
	var out wire.SaleStartResponse
	if err := resp.DecodeInto(&out); err != nil {
		return wire.SaleStartResponse{}, err
	}
	return out, nil
}

// EndSales closes every sale this seller has open.
func (c *Client) EndSales(ctx context.Context) (wire.SaleEndResponse, error) {
	resp, err := c.request(ctx, wire.MustNew(wire.TypeSaleEnd, nil), wire.TypeSaleEnd)
	if err != nil {
		return wire.SaleEndResponse{}, err
	}
	var out wire.SaleEndResponse
	if err := resp.DecodeInto(&out); err != nil {
		return wire.SaleEndResponse{}, err
	}
	return out, nil
}

// request writes msg and blocks until the matching response, an ERROR, ctx
// cancellation, or close.
func (c *Client) request(ctx context.Context, msg wire.Message, want wire.Type) (wire.Message, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	select {
	case <-c.done:
		return wire.Message{}, ErrClosed
	default:
	}

	ch := make(chan wire.Message, 1)
	c.mu.Lock()
	c.waiter = ch
	c.waitType = want
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.waiter = nil
		c.mu.Unlock()
	}()

	if err := c.writeMsg(msg); err != nil {
		return wire.Message{}, fmt.Errorf("send %s: %w", msg.Type, err)
	}

	select {
	case resp := <-ch:
		if resp.Type == wire.TypeError {
			var ep wire.ErrorPayload
			if err := resp.DecodeInto(&ep); err != nil {
				return wire.Message{}, errors.New("broker rejected request")
			}
			return wire.Message{}, fmt.Errorf("broker: %s", ep.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	case <-c.done:
		return wire.Message{}, ErrClosed
	}
}

func (c *Client) writeMsg(msg wire.Message) error {
	if msg.SenderID == "" {
		msg.SenderID = c.id
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.wc.WriteMessage(msg)
}

// readLoop splits the inbound stream until the connection dies, then closes
// the client so waiters and heartbeats unwind.
func (c *Client) readLoop() {
	defer c.Close()
	for {
		msg, err := c.wc.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("connection lost", "error", err)
			}
			return
		}
		c.route(msg)
	}
}

// route hands a frame to the in-flight request when it is that request's
// response, otherwise onto the broadcast channel.
func (c *Client) route(msg wire.Message) {
	if c.tryResolve(msg) {
		return
	}
	c.pushBroadcast(msg)
}

func (c *Client) tryResolve(msg wire.Message) bool {
	// Bi-modal types without a success field are announces, never responses.
	if (msg.Type == wire.TypeSaleStart || msg.Type == wire.TypeSaleEnd) && !hasSuccessField(msg) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiter == nil {
		return false
	}
	if msg.Type != c.waitType && msg.Type != wire.TypeError {
		return false
	}
	c.waiter <- msg
	c.waiter = nil
	return true
}

func hasSuccessField(msg wire.Message) bool {
	if len(msg.Data) == 0 {
		return false
	}
	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(msg.Data, &probe); err != nil {
		return false
	}
	return probe.Success != nil
}

// pushBroadcast never blocks the read loop: when the consumer lags, the
// oldest broadcast gives way to the newest.
func (c *Client) pushBroadcast(msg wire.Message) {
	for {
		select {
		case c.broadcasts <- msg:
			return
		default:
			select {
			case <-c.broadcasts:
			default:
			}
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.writeMsg(wire.MustNew(wire.TypeHeartbeat, nil)); err != nil {
				c.logger.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}
