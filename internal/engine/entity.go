package engine

import (
	"reflect"

	"github.com/google/uuid"
)

// Entity is an identified container of modules, keyed by module type.
// Entities are created and destroyed explicitly by game logic; an entity
// with zero modules stays alive until removed.
type Entity struct {
	id   uuid.UUID
	name string

	modules     map[reflect.Type]Module
	moduleOrder []reflect.Type
}

// ID returns the entity's unique identifier.
func (e *Entity) ID() uuid.UUID { return e.id }

// Name returns the entity's optional human-readable name.
func (e *Entity) Name() string { return e.name }

// SetName tags the entity with a human-readable name for lookup via
// World.FindNamed.
func (e *Entity) SetName(name string) { e.name = name }

// ModuleCount returns the number of attached modules.
func (e *Entity) ModuleCount() int { return len(e.modules) }

// HasModuleType reports whether a module of m's type is attached.
func (e *Entity) HasModuleType(m Module) bool {
	_, ok := e.modules[reflect.TypeOf(m)]
	return ok
}
