package broker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"market-broker/internal/monitor"
	"market-broker/pkg/wire"
)

// session is one TCP connection from handshake to teardown. The read side
// runs on the run goroutine; a dedicated writer goroutine serializes every
// outgoing frame through the out channel, so direct responses and
// broadcasts share one ordered pipe.
type session struct {
	broker *Broker

	conn       net.Conn
	wc         *wire.Conn
	remoteAddr string

	// id and role are set once by the handshake, before the session is
	// visible to the registry or the dispatcher.
	id   string
	role wire.Role

	out  chan wire.Message
	done chan struct{}

	connectedAt time.Time
	lastSeen    atomic.Int64 // unix nanos

	closeOnce sync.Once
	logger    *slog.Logger
}

func newSession(b *Broker, conn net.Conn) *session {
	return &session{
		broker:      b,
		conn:        conn,
		wc:          wire.NewConn(conn),
		remoteAddr:  conn.RemoteAddr().String(),
		out:         make(chan wire.Message, b.cfg.Server.OutboundBuffer),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
		logger:      b.logger.With("component", "session"),
	}
}

// run owns the session lifecycle: writer first, then the handshake, then
// reads until the peer goes away or violates the protocol.
func (s *session) run() {
	defer s.teardown()
	go s.writeLoop()

	if err := s.handshake(); err != nil {
		s.broker.metrics.ProtocolErrors.Inc()
		s.logger.Warn("handshake rejected", "remote", s.remoteAddr, "error", err)
		s.sendError(err.Error())
		return
	}
	s.readLoop()
}

// handshake requires the first frame to be a REGISTER with a valid role,
// within the configured deadline. On success the session gets its id, joins
// the registry, and the ACK is queued as the first frame out.
func (s *session) handshake() error {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.broker.cfg.Server.HandshakeTimeout)); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}
	msg, err := s.wc.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	if msg.Type != wire.TypeRegister {
		return fmt.Errorf("expected %s, got %s", wire.TypeRegister, msg.Type)
	}
	var req wire.RegisterRequest
	if err := msg.DecodeInto(&req); err != nil {
		return fmt.Errorf("malformed %s: %w", wire.TypeRegister, err)
	}
	role, err := wire.ParseRole(string(req.ClientType))
	if err != nil {
		return err
	}
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear handshake deadline: %w", err)
	}
	if s.broker.ctx.Err() != nil {
		return errors.New("broker shutting down")
	}

	s.role = role
	s.id = mintID(role)
	s.logger = s.logger.With("client", s.id)
	s.touch()

	if role == wire.RoleSeller {
		s.broker.manager.RegisterSeller(s.id)
	}
	s.reply(wire.MustNew(wire.TypeAck, wire.Ack{ClientID: s.id}))
	s.broker.registry.add(s)

	s.broker.metrics.SessionsActive.WithLabelValues(strings.ToLower(string(role))).Inc()
	s.broker.emitEvent(monitor.NewSessionEvent(s.id, role, s.remoteAddr, true))
	s.logger.Info("session registered", "role", role, "remote", s.remoteAddr)

	// Buyers start with a view of the market.
	if role == wire.RoleBuyer {
		s.reply(wire.MustNew(wire.TypeStockUpdate, wire.ItemList{Items: s.broker.manager.ActiveItems()}))
	}
	return nil
}

// readLoop pulls frames until the connection dies. Heartbeats only refresh
// liveness; everything else goes through the role-gated handler table.
func (s *session) readLoop() {
	for {
		msg, err := s.wc.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				s.logger.Debug("peer closed connection")
			case errors.As(err, &ne):
				s.logger.Debug("transport error", "error", err)
			default:
				s.broker.metrics.ProtocolErrors.Inc()
				s.logger.Warn("protocol violation, closing", "error", err)
				s.sendError(fmt.Sprintf("protocol error: %v", err))
			}
			return
		}
		s.touch()
		s.handle(msg)
	}
}

// writeLoop is the only writer on the connection. It drains out until the
// session is done, flushes whatever is still queued (an ERROR explaining a
// close, typically), and closes the socket on the way out, which also
// unblocks the reader.
func (s *session) writeLoop() {
	defer s.conn.Close()
	for {
		select {
		case <-s.done:
			s.flush()
			return
		case msg := <-s.out:
			if err := s.write(msg); err != nil {
				s.logger.Debug("write failed", "error", err)
				s.teardown()
				return
			}
		}
	}
}

// flush drains queued frames best-effort after done closes.
func (s *session) flush() {
	for {
		select {
		case msg := <-s.out:
			if err := s.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *session) write(msg wire.Message) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.broker.cfg.Server.WriteTimeout)); err != nil {
		return err
	}
	return s.wc.WriteMessage(msg)
}

// send enqueues without blocking and reports whether the message fit.
func (s *session) send(msg wire.Message) bool {
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

// reply enqueues a direct response. A session that cannot absorb its own
// responses is a slow consumer and gets reaped.
func (s *session) reply(msg wire.Message) {
	if !s.send(msg) {
		s.kill("slow_consumer")
	}
}

// sendError queues an ERROR frame best-effort. The connection stays open;
// closing decisions live with the caller.
func (s *session) sendError(reason string) {
	s.send(wire.MustNew(wire.TypeError, wire.ErrorPayload{Error: reason}))
}

// kill reaps a session the broker gave up on.
func (s *session) kill(cause string) {
	s.broker.metrics.SessionsReaped.WithLabelValues(cause).Inc()
	s.logger.Warn("session reaped", "cause", cause)
	s.teardown()
}

// teardown runs exactly once: deregister, emit the disconnect event, and
// release the writer. The writer closes the socket after its final flush.
// A seller's open sales are not touched; they keep selling until their
// deadline and the sweeper credits the remainders to the retained ledger.
func (s *session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)

		if s.id == "" {
			// Handshake never completed; nothing was registered.
			return
		}
		s.broker.registry.remove(s.id)
		s.broker.metrics.SessionsActive.WithLabelValues(strings.ToLower(string(s.role))).Dec()

		s.broker.emitEvent(monitor.NewSessionEvent(s.id, s.role, s.remoteAddr, false))
		s.logger.Info("session closed")
	})
}

func (s *session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *session) seenAt() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *session) status() monitor.SessionStatus {
	return monitor.SessionStatus{
		ID:          s.id,
		Role:        string(s.role),
		RemoteAddr:  s.remoteAddr,
		ConnectedAt: s.connectedAt,
		LastSeen:    s.seenAt(),
	}
}
