package engine

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/aether/internal/protocol"
	"github.com/cory-johannsen/aether/internal/wire"
)

// receiverFunc decodes a raw payload and invokes the registered handler.
type receiverFunc func(entity uuid.UUID, w *World, sender uuid.UUID, payload []byte)

// Messenger is the module implementing subscriber-based RPC for one
// entity. It tracks the clients subscribed to the entity, a registry of
// named receive handlers, and turns local calls into ModMessage packets
// addressed to every subscriber (and vice versa).
//
// Function identifiers are derived from programmer-declared names; the
// remote end registers its handlers under the same names, so both sides
// derive identical routing keys without sharing source.
type Messenger struct {
	sender     ClientSender
	logger     *zap.Logger
	entityID   uuid.UUID
	handleType protocol.HandleTypeID

	receivers map[uuid.UUID]struct{}
	handlers  map[protocol.FuncID]receiverFunc
}

// NewMessenger creates a Messenger whose subscribers will instantiate the
// client handle type declared under handleTypeName on their end.
func NewMessenger(handleTypeName string) *Messenger {
	return &Messenger{
		handleType: protocol.HandleTypeIDOf(handleTypeName),
		receivers:  make(map[uuid.UUID]struct{}),
		handlers:   make(map[protocol.FuncID]receiverFunc),
	}
}

// Start captures the world's transport capability and the owning entity.
func (m *Messenger) Start(id uuid.UUID, w *World) {
	m.entityID = id
	m.sender = w.Sender()
	m.logger = w.Logger()
}

// Tick is a no-op; the Messenger only reacts to calls and dispatches.
func (m *Messenger) Tick(id uuid.UUID, w *World) {}

// HandleType returns the identifier sent to subscribers in
// AddClientHandle notifications.
func (m *Messenger) HandleType() protocol.HandleTypeID { return m.handleType }

// Clients returns the currently subscribed client ids.
func (m *Messenger) Clients() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m.receivers))
	for id := range m.receivers {
		out = append(out, id)
	}
	return out
}

// HasClient reports whether the client is subscribed.
func (m *Messenger) HasClient(id uuid.UUID) bool {
	_, ok := m.receivers[id]
	return ok
}

// AddClient subscribes a known, currently-connected client and sends it
// an AddClientHandle notification so the remote side instantiates its
// local handle. Returns whether the subscription actually changed:
// already-subscribed and unknown clients are both no-ops.
func (m *Messenger) AddClient(id uuid.UUID) bool {
	if _, ok := m.receivers[id]; ok {
		return false
	}
	if !m.sender.Known(id) {
		return false
	}
	m.receivers[id] = struct{}{}
	err := m.sender.Send(id, &protocol.ServerPacket{
		ConvID: uuid.New(),
		Message: protocol.AddClientHandle{
			Entity:     m.entityID,
			HandleType: m.handleType,
		},
	}, protocol.Safe)
	if err != nil {
		m.logger.Warn("sending AddClientHandle",
			zap.String("entity_id", m.entityID.String()),
			zap.String("client_id", id.String()),
			zap.Error(err),
		)
	}
	return true
}

// RemoveClient unsubscribes the client and sends it a RemoveClientHandle
// notification. Returns whether the subscription actually changed.
func (m *Messenger) RemoveClient(id uuid.UUID) bool {
	if _, ok := m.receivers[id]; !ok {
		return false
	}
	delete(m.receivers, id)
	err := m.sender.Send(id, &protocol.ServerPacket{
		ConvID:  uuid.New(),
		Message: protocol.RemoveClientHandle{Entity: m.entityID},
	}, protocol.Safe)
	if err != nil {
		m.logger.Warn("sending RemoveClientHandle",
			zap.String("entity_id", m.entityID.String()),
			zap.String("client_id", id.String()),
			zap.Error(err),
		)
	}
	return true
}

// RegisterReceiver associates the declared function name with a handler.
// When a ModMessage routed to this entity carries the name's identifier,
// the payload is decoded into M and fn is invoked with the sender's
// client id. A decode failure is logged and dropped without affecting
// other packets. Returns the derived identifier.
func RegisterReceiver[M any](m *Messenger, name string, fn func(entity uuid.UUID, w *World, sender uuid.UUID, msg M)) protocol.FuncID {
	id := protocol.FuncIDOf(name)
	m.handlers[id] = func(entity uuid.UUID, w *World, sender uuid.UUID, payload []byte) {
		var msg M
		if err := wire.Unmarshal(payload, &msg); err != nil {
			m.logger.Error("decoding receiver payload",
				zap.String("entity_id", entity.String()),
				zap.String("func", name),
				zap.String("sender", sender.String()),
				zap.Error(err),
			)
			return
		}
		fn(entity, w, sender, msg)
	}
	return id
}

// UnregisterReceiver removes the handler registered under name.
func (m *Messenger) UnregisterReceiver(name string) {
	delete(m.handlers, protocol.FuncIDOf(name))
}

// CallClientFn invokes the named function on every subscribed client's
// handle: the arguments are serialized once and one ModMessage is sent
// per subscriber in the requested mode. Zero subscribers is a silent
// no-op. A failed delivery to one subscriber is logged and does not
// affect the others.
func (m *Messenger) CallClientFn(name string, args any, mode protocol.SendMode) {
	payload, err := wire.Marshal(args)
	if err != nil {
		m.logger.Error("encoding call arguments",
			zap.String("entity_id", m.entityID.String()),
			zap.String("func", name),
			zap.Error(err),
		)
		return
	}
	fn := protocol.FuncIDOf(name)
	for client := range m.receivers {
		m.sendModMessage(client, fn, name, payload, mode)
	}
}

// CallClientFnFor invokes the named function on exactly one client,
// regardless of its subscription state. Used for initial data pushes
// before a subscription is acknowledged.
func (m *Messenger) CallClientFnFor(name string, client uuid.UUID, args any, mode protocol.SendMode) {
	payload, err := wire.Marshal(args)
	if err != nil {
		m.logger.Error("encoding call arguments",
			zap.String("entity_id", m.entityID.String()),
			zap.String("func", name),
			zap.Error(err),
		)
		return
	}
	m.sendModMessage(client, protocol.FuncIDOf(name), name, payload, mode)
}

func (m *Messenger) sendModMessage(client uuid.UUID, fn protocol.FuncID, name string, payload []byte, mode protocol.SendMode) {
	err := m.sender.Send(client, &protocol.ServerPacket{
		ConvID: uuid.New(),
		Message: protocol.ModMessage{
			Entity:  m.entityID,
			Func:    fn,
			Payload: payload,
		},
	}, mode)
	if err != nil {
		// Best-effort: a vanished subscriber is logged, not fatal.
		m.logger.Warn("delivering mod message",
			zap.String("entity_id", m.entityID.String()),
			zap.String("client_id", client.String()),
			zap.String("func", name),
			zap.Error(err),
		)
	}
}

// Dispatch routes an inbound ModMessage to the handler registered for its
// function identifier. An unknown identifier is logged and dropped; the
// game loop is never affected. Returns whether a handler ran.
func (m *Messenger) Dispatch(w *World, sender uuid.UUID, msg protocol.ModMessage) bool {
	handler, ok := m.handlers[msg.Func]
	if !ok {
		m.logger.Warn("mod message for unregistered function, dropping",
			zap.String("entity_id", msg.Entity.String()),
			zap.Uint64("func_id", uint64(msg.Func)),
			zap.String("sender", sender.String()),
		)
		return false
	}
	handler(msg.Entity, w, sender, msg.Payload)
	return true
}
