package engine

import "github.com/google/uuid"

// ConnectionListener is a module whose callbacks run whenever a client
// joins or leaves the server. The runtime invokes the callbacks for every
// entity holding one, on login, logout, kick, and timeout.
type ConnectionListener struct {
	// OnJoin runs after a client's registration completes.
	OnJoin func(id uuid.UUID, w *World, client uuid.UUID)
	// OnLeave runs after a client's record is removed, whatever the cause.
	OnLeave func(id uuid.UUID, w *World, client uuid.UUID)
}

// NewConnectionListener creates a listener module. Either callback may be
// nil.
func NewConnectionListener(onJoin, onLeave func(id uuid.UUID, w *World, client uuid.UUID)) *ConnectionListener {
	return &ConnectionListener{OnJoin: onJoin, OnLeave: onLeave}
}

func (l *ConnectionListener) Start(id uuid.UUID, w *World) {}
func (l *ConnectionListener) Tick(id uuid.UUID, w *World)  {}

// NotifyJoin invokes every ConnectionListener's OnJoin across the world.
func NotifyJoin(w *World, client uuid.UUID) {
	for _, id := range EntitiesWith[*ConnectionListener](w) {
		if l, ok := ModuleOf[*ConnectionListener](w, id); ok && l.OnJoin != nil {
			l.OnJoin(id, w, client)
		}
	}
}

// NotifyLeave invokes every ConnectionListener's OnLeave across the world.
func NotifyLeave(w *World, client uuid.UUID) {
	for _, id := range EntitiesWith[*ConnectionListener](w) {
		if l, ok := ModuleOf[*ConnectionListener](w, id); ok && l.OnLeave != nil {
			l.OnLeave(id, w, client)
		}
	}
}
