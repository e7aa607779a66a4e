package gameclient

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/aether/internal/protocol"
	"github.com/cory-johannsen/aether/internal/transport"
	"github.com/cory-johannsen/aether/internal/wire"
)

// Messenger is the per-handle RPC endpoint on the client: it registers
// receivers for server calls and invokes named functions on the server
// entity's Messenger.
type Messenger struct {
	clientID uuid.UUID
	entityID uuid.UUID
	conn     *transport.Client
	logger   *zap.Logger

	handlers map[protocol.FuncID]func(ctx *Context, payload []byte)
}

func newMessenger(clientID, entityID uuid.UUID, conn *transport.Client, logger *zap.Logger) *Messenger {
	return &Messenger{
		clientID: clientID,
		entityID: entityID,
		conn:     conn,
		logger:   logger,
		handlers: make(map[protocol.FuncID]func(ctx *Context, payload []byte)),
	}
}

// EntityID returns the server entity this messenger mirrors.
func (m *Messenger) EntityID() uuid.UUID { return m.entityID }

// RegisterReceiver associates the declared function name with a handler
// invoked when the server calls it. Decode failures are logged and
// dropped without affecting other packets.
func RegisterReceiver[M any](m *Messenger, name string, fn func(ctx *Context, msg M)) protocol.FuncID {
	id := protocol.FuncIDOf(name)
	m.handlers[id] = func(ctx *Context, payload []byte) {
		var msg M
		if err := wire.Unmarshal(payload, &msg); err != nil {
			m.logger.Error("decoding receiver payload",
				zap.String("entity_id", m.entityID.String()),
				zap.String("func", name),
				zap.Error(err),
			)
			return
		}
		fn(ctx, msg)
	}
	return id
}

// CallServerFn invokes the named receiver on the server entity's
// Messenger, serializing args with the wire codec.
func (m *Messenger) CallServerFn(name string, args any, mode protocol.SendMode) error {
	payload, err := wire.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding call arguments for %s: %w", name, err)
	}
	pkt := &protocol.ClientPacket{
		ClientID: m.clientID,
		ConvID:   uuid.New(),
		Message: protocol.ModMessage{
			Entity:  m.entityID,
			Func:    protocol.FuncIDOf(name),
			Payload: payload,
		},
	}
	return m.conn.Send(pkt, mode)
}

// dispatch routes an inbound ModMessage to the registered handler.
// Unknown function identifiers are logged and dropped.
func (m *Messenger) dispatch(ctx *Context, msg protocol.ModMessage) bool {
	handler, ok := m.handlers[msg.Func]
	if !ok {
		m.logger.Warn("mod message for unregistered function, dropping",
			zap.String("entity_id", msg.Entity.String()),
			zap.Uint64("func_id", uint64(msg.Func)),
		)
		return false
	}
	handler(ctx, msg.Payload)
	return true
}
