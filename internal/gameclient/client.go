package gameclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/aether/internal/protocol"
	"github.com/cory-johannsen/aether/internal/transport"
)

// Client runs the client-side loop: it drains the transport inbox once
// per tick, instantiates and removes handles as the server directs, and
// dispatches RPC messages into handle receivers. All handle state is
// owned by the loop goroutine.
type Client struct {
	id     uuid.UUID
	name   string
	conn   *transport.Client
	reg    *Registry
	logger *zap.Logger
	store  any

	tickInterval time.Duration

	handles map[uuid.UUID]*boundHandle
	order   []uuid.UUID

	kickReason string
	quit       chan struct{}
	stopOnce   sync.Once
}

type boundHandle struct {
	handle ClientHandle
	ctx    *Context
}

// New creates a client loop over an already-connected transport.
//
// Precondition: conn, reg, and logger must be non-nil; tickInterval > 0.
func New(name string, conn *transport.Client, reg *Registry, store any, tickInterval time.Duration, logger *zap.Logger) *Client {
	return &Client{
		id:           uuid.New(),
		name:         name,
		conn:         conn,
		reg:          reg,
		logger:       logger,
		store:        store,
		tickInterval: tickInterval,
		handles:      make(map[uuid.UUID]*boundHandle),
		quit:         make(chan struct{}),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uuid.UUID { return c.id }

// Login announces the client to the server over the reliable channel.
func (c *Client) Login() error {
	return c.send(protocol.Login{Name: c.name}, protocol.Safe)
}

// Logout announces an orderly disconnect.
func (c *Client) Logout() error {
	return c.send(protocol.Logout{}, protocol.Safe)
}

// Run drives the client loop until ctx is cancelled, the server kicks the
// client, or the reliable channel fails. This method blocks.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.quit:
			if c.kickReason != "" {
				return fmt.Errorf("kicked by server: %s", c.kickReason)
			}
			return nil
		case err := <-c.conn.Disconnected():
			// Reliable channel failure ends the session; the caller may
			// reconnect and log in again.
			c.removeAllHandles()
			return fmt.Errorf("disconnected: %w", err)
		case <-ticker.C:
			c.Step()
		}
	}
}

// Stop terminates the loop. Safe to call from any goroutine, any number
// of times; the Kick path calls it from the loop itself.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.quit)
	})
}

// HandleCount returns the number of live handles.
func (c *Client) HandleCount() int { return len(c.handles) }

// Step executes one client tick: drain, dispatch, then update every live
// handle in instantiation order. Exposed so tests can drive the loop
// deterministically.
func (c *Client) Step() {
	for _, pkt := range c.conn.Drain() {
		c.handlePacket(pkt)
	}
	for _, id := range c.order {
		if b, ok := c.handles[id]; ok {
			b.handle.Update(b.ctx)
		}
	}
}

func (c *Client) handlePacket(pkt protocol.ServerPacket) {
	switch msg := pkt.Message.(type) {
	case protocol.RegisterResponse:
		if msg.OK {
			c.logger.Info("registered with server",
				zap.String("server_version", msg.ServerVersion),
			)
		} else {
			c.logger.Error("registration rejected",
				zap.String("reason", msg.Error),
			)
		}
	case protocol.KeepAlive:
		// Answer on the quick channel so the server sees us alive and
		// learns our datagram address.
		if err := c.send(protocol.Pong{Text: "keepalive"}, protocol.Quick); err != nil {
			c.logger.Warn("answering keepalive", zap.Error(err))
		}
	case protocol.Ping:
		if err := c.send(protocol.Pong{Text: msg.Text}, protocol.Quick); err != nil {
			c.logger.Warn("answering ping", zap.Error(err))
		}
	case protocol.Pong:
		c.logger.Debug("pong received", zap.String("text", msg.Text))
	case protocol.Kick:
		c.logger.Warn("kicked by server", zap.String("reason", msg.Reason))
		c.kickReason = msg.Reason
		c.removeAllHandles()
		c.Stop()
	case protocol.Acknowledge:
		c.logger.Debug("acknowledged", zap.String("conv_id", msg.Conv.String()))
	case protocol.RawData:
		c.logger.Debug("raw data received", zap.Int("bytes", len(msg.Data)))
	case protocol.AddClientHandle:
		c.addHandle(msg)
	case protocol.RemoveClientHandle:
		c.removeHandle(msg.Entity)
	case protocol.ModMessage:
		c.dispatchModMessage(msg)
	default:
		c.logger.Warn("unhandled server message, dropping")
	}
}

func (c *Client) addHandle(msg protocol.AddClientHandle) {
	if _, exists := c.handles[msg.Entity]; exists {
		c.logger.Warn("handle already instantiated for entity, dropping",
			zap.String("entity_id", msg.Entity.String()),
		)
		return
	}
	handle, ok := c.reg.New(msg.HandleType)
	if !ok {
		c.logger.Warn("no handle type registered, dropping",
			zap.String("entity_id", msg.Entity.String()),
			zap.Uint64("handle_type", uint64(msg.HandleType)),
		)
		return
	}
	ctx := &Context{
		EntityID:  msg.Entity,
		Messenger: newMessenger(c.id, msg.Entity, c.conn, c.logger),
		Store:     c.store,
	}
	b := &boundHandle{handle: handle, ctx: ctx}
	c.handles[msg.Entity] = b
	c.order = append(c.order, msg.Entity)
	if name, ok := c.reg.Name(msg.HandleType); ok {
		c.logger.Info("handle instantiated",
			zap.String("entity_id", msg.Entity.String()),
			zap.String("handle_type", name),
		)
	}
	handle.Start(ctx)
}

func (c *Client) removeHandle(entity uuid.UUID) {
	b, ok := c.handles[entity]
	if !ok {
		c.logger.Warn("remove for unknown handle, dropping",
			zap.String("entity_id", entity.String()),
		)
		return
	}
	b.handle.Remove(b.ctx)
	delete(c.handles, entity)
	for i, id := range c.order {
		if id == entity {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Client) removeAllHandles() {
	for _, id := range append([]uuid.UUID(nil), c.order...) {
		c.removeHandle(id)
	}
}

func (c *Client) dispatchModMessage(msg protocol.ModMessage) {
	b, ok := c.handles[msg.Entity]
	if !ok {
		c.logger.Warn("mod message for entity without handle, dropping",
			zap.String("entity_id", msg.Entity.String()),
		)
		return
	}
	b.ctx.Messenger.dispatch(b.ctx, msg)
}

func (c *Client) send(msg protocol.ClientMessage, mode protocol.SendMode) error {
	return c.conn.Send(&protocol.ClientPacket{
		ClientID: c.id,
		ConvID:   uuid.New(),
		Message:  msg,
	}, mode)
}
