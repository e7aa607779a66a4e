// Package engine implements the server-side entity/module store and the
// Messenger RPC module. One single-threaded game loop owns all state in
// this package; nothing here is safe for concurrent use.
package engine

import (
	"reflect"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/aether/internal/protocol"
)

// ClientSender is the transport capability the engine needs: delivering
// a packet to one registered client and checking registration.
type ClientSender interface {
	Send(client uuid.UUID, pkt *protocol.ServerPacket, mode protocol.SendMode) error
	Known(client uuid.UUID) bool
}

// Module is a polymorphic behavior unit attached to exactly one entity.
// Start runs when the module is attached to an in-world entity; Tick runs
// once per game tick in module registration order.
type Module interface {
	Start(id uuid.UUID, w *World)
	Tick(id uuid.UUID, w *World)
}

// World maps entity identifiers to entities and dispatches lifecycle
// callbacks across all modules of all entities. Entities tick in
// insertion order; the order is an implementation detail callers must
// not rely on across entities.
type World struct {
	logger   *zap.Logger
	sender   ClientSender
	entities map[uuid.UUID]*Entity
	order    []uuid.UUID
}

// NewWorld creates an empty world.
//
// Precondition: sender and logger must be non-nil.
func NewWorld(sender ClientSender, logger *zap.Logger) *World {
	return &World{
		logger:   logger,
		sender:   sender,
		entities: make(map[uuid.UUID]*Entity),
	}
}

// Sender returns the transport capability modules use for outbound calls.
func (w *World) Sender() ClientSender { return w.sender }

// Logger returns the world's logger for modules to log through.
func (w *World) Logger() *zap.Logger { return w.logger }

// NewEntity allocates a fresh unique identifier and creates an empty
// entity under it.
func (w *World) NewEntity() uuid.UUID {
	id := uuid.New()
	w.entities[id] = &Entity{
		id:      id,
		modules: make(map[reflect.Type]Module),
	}
	w.order = append(w.order, id)
	return id
}

// Entity returns the entity with the given id. Absence is a normal
// result, not an error.
func (w *World) Entity(id uuid.UUID) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// RemoveEntity destroys the entity. Returns whether it existed.
func (w *World) RemoveEntity(id uuid.UUID) bool {
	if _, ok := w.entities[id]; !ok {
		return false
	}
	delete(w.entities, id)
	for i, oid := range w.order {
		if oid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return true
}

// EntityCount returns the number of live entities.
func (w *World) EntityCount() int { return len(w.entities) }

// FindNamed returns the first entity tagged with name.
func (w *World) FindNamed(name string) (*Entity, bool) {
	for _, id := range w.order {
		if e := w.entities[id]; e.name == name {
			return e, true
		}
	}
	return nil, false
}

// AddModule attaches m to the entity and invokes its Start callback with
// a handle to the whole world, enabling cross-module and cross-entity
// wiring. At most one module of a given type may be attached: a
// duplicate is rejected, logged, and the existing module is kept.
func (w *World) AddModule(id uuid.UUID, m Module) bool {
	e, ok := w.entities[id]
	if !ok {
		w.logger.Warn("adding module to unknown entity",
			zap.String("entity_id", id.String()),
		)
		return false
	}
	key := reflect.TypeOf(m)
	if _, exists := e.modules[key]; exists {
		w.logger.Warn("module type already attached, rejecting",
			zap.String("entity_id", id.String()),
			zap.String("module_type", key.String()),
		)
		return false
	}
	e.modules[key] = m
	e.moduleOrder = append(e.moduleOrder, key)
	m.Start(id, w)
	return true
}

// Tick dispatches every module's Tick callback: entities in insertion
// order, modules of one entity in registration order.
func (w *World) Tick() {
	ids := make([]uuid.UUID, len(w.order))
	copy(ids, w.order)
	for _, id := range ids {
		e, ok := w.entities[id]
		if !ok {
			// Removed by an earlier module this tick.
			continue
		}
		keys := make([]reflect.Type, len(e.moduleOrder))
		copy(keys, e.moduleOrder)
		for _, key := range keys {
			if m, ok := e.modules[key]; ok {
				m.Tick(id, w)
			}
		}
	}
}

// ModuleOf returns the entity's module of type T. Absence is a normal
// "not attached" result.
func ModuleOf[T Module](w *World, id uuid.UUID) (T, bool) {
	var zero T
	e, ok := w.entities[id]
	if !ok {
		return zero, false
	}
	m, ok := e.modules[reflect.TypeOf(zero)]
	if !ok {
		return zero, false
	}
	return m.(T), true
}

// HasModule reports whether the entity has a module of type T attached.
func HasModule[T Module](w *World, id uuid.UUID) bool {
	_, ok := ModuleOf[T](w, id)
	return ok
}

// EntitiesWith returns the ids of all entities holding a module of type
// T, in entity insertion order.
func EntitiesWith[T Module](w *World) []uuid.UUID {
	var zero T
	key := reflect.TypeOf(zero)
	var out []uuid.UUID
	for _, id := range w.order {
		if _, ok := w.entities[id].modules[key]; ok {
			out = append(out, id)
		}
	}
	return out
}
