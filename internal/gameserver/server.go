// Package gameserver runs the single-threaded game loop: it drains the
// transport inbox once per tick, maintains client records, routes RPC
// messages into entity Messengers, and dispatches module ticks.
package gameserver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/aether/internal/config"
	"github.com/cory-johannsen/aether/internal/engine"
	"github.com/cory-johannsen/aether/internal/protocol"
	"github.com/cory-johannsen/aether/internal/transport"
)

// Version is reported to clients in RegisterResponse.
const Version = "0.3.0"

// Server owns all entity, module, and messenger state. Every method that
// touches that state runs on the game loop goroutine; the transport's
// receiver goroutines only ever produce into the shared inbox.
type Server struct {
	cfg       config.RuntimeConfig
	logger    *zap.Logger
	transport *transport.Server
	world     *engine.World

	lastKeepAlive time.Time

	quit chan struct{}
	done chan struct{}
}

// New creates a game server over an already-listening transport.
//
// Precondition: ts and logger must be non-nil; cfg must be validated.
func New(cfg config.RuntimeConfig, ts *transport.Server, logger *zap.Logger) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		transport:     ts,
		world:         engine.NewWorld(ts, logger),
		lastKeepAlive: time.Now(),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// World returns the entity store. Must only be used from the game loop
// goroutine, or before Run starts.
func (s *Server) World() *engine.World { return s.world }

// Run drives the game loop until ctx is cancelled or Stop is called.
// This method blocks.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	defer close(s.done)

	s.logger.Info("game loop running",
		zap.Duration("tick_interval", s.cfg.TickInterval),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return nil
		case now := <-ticker.C:
			s.Step(now)
		}
	}
}

// Stop terminates the game loop and waits for the current tick to finish.
func (s *Server) Stop() {
	close(s.quit)
	<-s.done
}

// Step executes exactly one tick: connection failures, then every packet
// received since the previous tick, then the timeout sweep, keep-alives,
// and module ticks. Exposed so tests can drive the loop deterministically.
//
// Failure events are deliberately handled before the packet drain: a
// client that loses its reliable channel and reconnects within one tick
// is dropped first, so the buffered Login from the new connection
// re-registers it cleanly instead of being discarded.
func (s *Server) Step(now time.Time) {
	for _, ev := range s.transport.Events() {
		s.handleConnFailure(ev)
	}
	for _, inb := range s.transport.Drain() {
		s.handlePacket(inb)
	}
	s.sweepIdle(now)
	s.keepAlive(now)
	s.world.Tick()
}

func (s *Server) handleConnFailure(ev transport.ConnEvent) {
	if ev.ClientID == uuid.Nil {
		return
	}
	if !s.transport.Known(ev.ClientID) {
		return
	}
	s.logger.Info("client connection lost",
		zap.String("client_id", ev.ClientID.String()),
		zap.Error(ev.Err),
	)
	s.dropClient(ev.ClientID)
}

// handlePacket processes one inbound packet. Per-packet failures are
// isolated: a malformed or misrouted packet is logged and dropped and
// never affects later packets.
func (s *Server) handlePacket(inb transport.Inbound) {
	pkt := inb.Packet
	switch msg := pkt.Message.(type) {
	case protocol.Login:
		s.handleLogin(inb, msg)
	case protocol.Logout:
		if s.transport.Known(pkt.ClientID) {
			s.logger.Info("client logged out",
				zap.String("client_id", pkt.ClientID.String()),
			)
			s.dropClient(pkt.ClientID)
		}
	case protocol.Ping:
		s.reply(inb, protocol.Pong{Text: msg.Text})
	case protocol.Pong:
		// Touch already happened in the receive path; nothing else to do.
	case protocol.RawData:
		s.logger.Debug("raw data received",
			zap.String("client_id", pkt.ClientID.String()),
			zap.Int("bytes", len(msg.Data)),
		)
	case protocol.ModMessage:
		s.routeModMessage(pkt.ClientID, msg)
	default:
		s.logger.Warn("unhandled client message, dropping",
			zap.String("client_id", pkt.ClientID.String()),
		)
	}
}

func (s *Server) handleLogin(inb transport.Inbound, msg protocol.Login) {
	id := inb.Packet.ClientID
	if s.transport.Known(id) {
		// Duplicate login is acknowledged again, not treated as an error.
		s.transport.Clients().Touch(id)
		s.reply(inb, protocol.RegisterResponse{OK: true, ServerVersion: Version})
		return
	}
	s.transport.Register(id, msg.Name, inb)
	s.reply(inb, protocol.RegisterResponse{OK: true, ServerVersion: Version})
	s.logger.Info("client registered",
		zap.String("client_id", id.String()),
		zap.String("name", msg.Name),
	)
	engine.NotifyJoin(s.world, id)
}

// reply answers the packet on the channel it arrived on: safe when the
// source was the reliable stream, quick otherwise.
func (s *Server) reply(inb transport.Inbound, msg protocol.ServerMessage) {
	mode := protocol.Quick
	if inb.Conn != nil {
		mode = protocol.Safe
	}
	out := &protocol.ServerPacket{ConvID: uuid.New(), Message: msg}
	if err := s.transport.Send(inb.Packet.ClientID, out, mode); err != nil {
		s.logger.Warn("replying to client",
			zap.String("client_id", inb.Packet.ClientID.String()),
			zap.Error(err),
		)
	}
}

// routeModMessage resolves the target entity, its Messenger, and the
// registered handler. Every unresolved step logs and drops the message.
func (s *Server) routeModMessage(sender uuid.UUID, msg protocol.ModMessage) {
	if _, ok := s.world.Entity(msg.Entity); !ok {
		s.logger.Warn("mod message for unknown entity, dropping",
			zap.String("entity_id", msg.Entity.String()),
			zap.String("sender", sender.String()),
		)
		return
	}
	messenger, ok := engine.ModuleOf[*engine.Messenger](s.world, msg.Entity)
	if !ok {
		s.logger.Warn("mod message for entity without messenger, dropping",
			zap.String("entity_id", msg.Entity.String()),
			zap.String("sender", sender.String()),
		)
		return
	}
	messenger.Dispatch(s.world, sender, msg)
}

// sweepIdle kicks every client idle longer than the configured timeout.
func (s *Server) sweepIdle(now time.Time) {
	if s.cfg.ClientTimeout <= 0 {
		return
	}
	for _, id := range s.transport.Clients().IdleBefore(now.Add(-s.cfg.ClientTimeout)) {
		s.Kick(id, "timed out")
	}
}

// keepAlive broadcasts a KeepAlive to all registered clients at the
// configured interval.
func (s *Server) keepAlive(now time.Time) {
	if s.cfg.KeepAliveInterval <= 0 {
		return
	}
	if now.Sub(s.lastKeepAlive) < s.cfg.KeepAliveInterval {
		return
	}
	s.lastKeepAlive = now
	for _, id := range s.transport.Clients().IDs() {
		pkt := &protocol.ServerPacket{ConvID: uuid.New(), Message: protocol.KeepAlive{}}
		if err := s.transport.Send(id, pkt, protocol.Quick); err != nil {
			s.logger.Warn("sending keepalive",
				zap.String("client_id", id.String()),
				zap.Error(err),
			)
		}
	}
}

// Kick disconnects a client with a reason, removes its record, and runs
// leave callbacks.
func (s *Server) Kick(id uuid.UUID, reason string) {
	pkt := &protocol.ServerPacket{ConvID: uuid.New(), Message: protocol.Kick{Reason: reason}}
	if err := s.transport.Send(id, pkt, protocol.Safe); err != nil {
		s.logger.Warn("sending kick",
			zap.String("client_id", id.String()),
			zap.Error(err),
		)
	}
	s.logger.Info("client kicked",
		zap.String("client_id", id.String()),
		zap.String("reason", reason),
	)
	s.dropClient(id)
}

// dropClient removes the client record, unsubscribes it from every
// Messenger, and runs leave callbacks.
func (s *Server) dropClient(id uuid.UUID) {
	// Unsubscribe while the record still exists so the RemoveClientHandle
	// notification gets a best-effort delivery attempt.
	for _, eid := range engine.EntitiesWith[*engine.Messenger](s.world) {
		if m, ok := engine.ModuleOf[*engine.Messenger](s.world, eid); ok && m.HasClient(id) {
			m.RemoveClient(id)
		}
	}
	s.transport.Remove(id)
	engine.NotifyLeave(s.world, id)
}
