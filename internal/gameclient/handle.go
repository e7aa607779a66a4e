// Package gameclient implements the client side of the RPC substrate:
// the ClientHandle lifecycle mirroring server-side modules, the handle
// type registry, and the client loop that drains the transport and
// dispatches into handles.
package gameclient

import (
	"github.com/google/uuid"

	"github.com/cory-johannsen/aether/internal/protocol"
)

// ClientHandle is the client-side counterpart of a server entity's
// Messenger: it is instantiated when the server subscribes this client to
// the entity and torn down when the subscription ends.
type ClientHandle interface {
	// Start runs once when the handle is instantiated.
	Start(ctx *Context)
	// Update runs once per client tick while the handle is live.
	Update(ctx *Context)
	// Remove runs once when the server revokes the handle.
	Remove(ctx *Context)
}

// Context carries the capabilities a handle may use: the entity it
// mirrors, its messenger for server calls, and an opaque store supplied
// by the host application (renderer, asset cache, whatever the mod
// needs; the engine does not look inside).
type Context struct {
	EntityID  uuid.UUID
	Messenger *Messenger
	Store     any
}

// Registry maps handle type identifiers to constructors. Game mods
// register their handle types under the same declared names the server
// uses, so both ends derive identical identifiers.
type Registry struct {
	constructors map[protocol.HandleTypeID]func() ClientHandle
	names        map[protocol.HandleTypeID]string
}

// NewRegistry returns an empty handle registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[protocol.HandleTypeID]func() ClientHandle),
		names:        make(map[protocol.HandleTypeID]string),
	}
}

// RegisterHandle associates the declared handle type name with a
// constructor. A repeated name replaces the previous constructor.
func (r *Registry) RegisterHandle(name string, ctor func() ClientHandle) {
	id := protocol.HandleTypeIDOf(name)
	r.constructors[id] = ctor
	r.names[id] = name
}

// New instantiates the handle type with the given identifier.
func (r *Registry) New(id protocol.HandleTypeID) (ClientHandle, bool) {
	ctor, ok := r.constructors[id]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// Name returns the declared name for a registered handle type id.
func (r *Registry) Name(id protocol.HandleTypeID) (string, bool) {
	name, ok := r.names[id]
	return name, ok
}
