package broker

import (
	"context"
	"log/slog"

	"market-broker/internal/monitor"
	"market-broker/pkg/wire"
)

// audience selects who receives a broadcast.
type audience int

const (
	toEveryone audience = iota
	toBuyers
	toSellers
	toOne
)

// broadcast is one fan-out job. only names the recipient when the audience
// is toOne.
type broadcast struct {
	msg      wire.Message
	audience audience
	only     string
}

// dispatcher fans broadcasts out to sessions. A single goroutine drains the
// bounded queue, which gives every recipient the same broadcast order; each
// session's writer then drains its own outbound channel in that order, so
// per-recipient FIFO holds end to end.
type dispatcher struct {
	registry *registry
	queue    chan broadcast
	metrics  *monitor.Metrics
	logger   *slog.Logger
}

func newDispatcher(reg *registry, buffer int, metrics *monitor.Metrics, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		registry: reg,
		queue:    make(chan broadcast, buffer),
		metrics:  metrics,
		logger:   logger.With("component", "dispatcher"),
	}
}

// submit enqueues without blocking. The stock broadcasts are refresh-style:
// a dropped one is superseded by the next, so a full queue drops rather
// than stalls the caller.
func (d *dispatcher) submit(b broadcast) {
	select {
	case d.queue <- b:
	default:
		d.metrics.BroadcastsDrop.Inc()
		d.logger.Warn("broadcast queue full, dropping", "type", b.msg.Type)
	}
}

// run drains the queue until ctx is cancelled.
func (d *dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-d.queue:
			d.deliver(b)
		}
	}
}

// deliver resolves the audience and enqueues on each recipient's outbound
// channel. A session whose channel is full is a slow consumer and gets
// reaped rather than stall the fan-out.
func (d *dispatcher) deliver(b broadcast) {
	d.metrics.Broadcasts.WithLabelValues(string(b.msg.Type)).Inc()

	var recipients []*session
	switch b.audience {
	case toOne:
		s, ok := d.registry.get(b.only)
		if !ok {
			return
		}
		recipients = []*session{s}
	case toBuyers:
		recipients = d.registry.byRole(wire.RoleBuyer)
	case toSellers:
		recipients = d.registry.byRole(wire.RoleSeller)
	default:
		recipients = d.registry.all()
	}

	for _, s := range recipients {
		if !s.send(b.msg) {
			d.logger.Warn("slow session, disconnecting", "client", s.id, "type", b.msg.Type)
			s.kill("slow_consumer")
		}
	}
}
