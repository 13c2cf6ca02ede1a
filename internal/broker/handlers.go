package broker

import (
	"errors"
	"fmt"
	"time"

	"market-broker/internal/market"
	"market-broker/internal/monitor"
	"market-broker/pkg/wire"
)

// handle routes one inbound message. Role violations and malformed payloads
// answer with ERROR and leave the connection open; only framing-level
// garbage costs a client its connection.
func (s *session) handle(msg wire.Message) {
	switch msg.Type {
	case wire.TypeHeartbeat:
		// Liveness was refreshed by the read loop.
	case wire.TypeRegister:
		s.sendError("already registered")
	case wire.TypeListItems:
		s.handleListItems()
	case wire.TypeSaleStart:
		if s.requireRole(wire.RoleSeller, msg.Type) {
			s.handleSaleStart(msg)
		}
	case wire.TypeSaleEnd:
		if s.requireRole(wire.RoleSeller, msg.Type) {
			s.handleSaleEnd()
		}
	case wire.TypeBuyRequest:
		if s.requireRole(wire.RoleBuyer, msg.Type) {
			s.handleBuy(msg)
		}
	default:
		s.sendError(fmt.Sprintf("unsupported message type %q", msg.Type))
	}
}

func (s *session) requireRole(role wire.Role, t wire.Type) bool {
	if s.role == role {
		return true
	}
	s.sendError(fmt.Sprintf("%s requires role %s", t, role))
	return false
}

func (s *session) handleListItems() {
	s.reply(wire.MustNew(wire.TypeListItems, wire.ItemList{
		Items: s.broker.manager.ActiveItems(),
	}))
}

func (s *session) handleSaleStart(msg wire.Message) {
	var req wire.SaleStartRequest
	if err := msg.DecodeInto(&req); err != nil {
		s.sendError(fmt.Sprintf("malformed %s: %v", wire.TypeSaleStart, err))
		return
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	snap, err := s.broker.manager.StartSale(s.id, req.Name, req.Quantity, duration)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	s.reply(wire.MustNew(wire.TypeSaleStart, wire.SaleStartResponse{
		Success:       true,
		ItemID:        snap.ID,
		Name:          snap.Name,
		Quantity:      snap.Quantity,
		RemainingTime: snap.RemainingTime,
	}))
	s.broker.dispatch.submit(broadcast{
		msg:      wire.MustNew(wire.TypeSaleStart, wire.SaleStartAnnounce{ItemID: snap.ID, SellerID: s.id}),
		audience: toEveryone,
	})
	s.broker.pushStock()

	s.broker.metrics.SalesStarted.Inc()
	s.broker.metrics.SalesActive.Set(float64(s.broker.manager.ActiveSaleCount()))
	s.broker.emitEvent(monitor.NewSaleStartedEvent(snap))
}

func (s *session) handleSaleEnd() {
	closed, err := s.broker.manager.EndSellerSales(s.id)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	s.reply(wire.MustNew(wire.TypeSaleEnd, wire.SaleEndResponse{
		Success: true,
		Closed:  closed,
	}))
	s.broker.announceSaleEnd(s.id, "seller", closed)
}

func (s *session) handleBuy(msg wire.Message) {
	var req wire.BuyRequest
	if err := msg.DecodeInto(&req); err != nil {
		s.sendError(fmt.Sprintf("malformed %s: %v", wire.TypeBuyRequest, err))
		return
	}

	refuse := func(result string) {
		s.broker.metrics.Purchases.WithLabelValues(result).Inc()
		s.reply(wire.MustNew(wire.TypeBuyResponse, wire.BuyResponse{
			Success:  false,
			ItemID:   req.ItemID,
			Quantity: req.Quantity,
		}))
	}

	res, err := s.broker.manager.Buy(req.ItemID, req.Quantity)
	switch {
	case errors.Is(err, market.ErrSaleNotFound):
		refuse("not_found")
	case err != nil:
		s.broker.metrics.Purchases.WithLabelValues("invalid").Inc()
		s.sendError(err.Error())
	case !res.OK:
		refuse("refused")
	default:
		s.broker.metrics.Purchases.WithLabelValues("ok").Inc()
		s.reply(wire.MustNew(wire.TypeBuyResponse, wire.BuyResponse{
			Success:  true,
			ItemID:   req.ItemID,
			Quantity: req.Quantity,
		}))
		s.broker.dispatch.submit(broadcast{
			msg: wire.MustNew(wire.TypePurchaseNotification, wire.PurchaseNotification{
				ItemID:   req.ItemID,
				Quantity: req.Quantity,
				BuyerID:  s.id,
			}),
			audience: toOne,
			only:     res.SellerID,
		})
		s.broker.pushStock()
		s.broker.emitEvent(monitor.NewPurchaseEvent(req.ItemID, s.id, res.SellerID, req.Quantity))
	}
}
