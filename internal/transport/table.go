package transport

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/aether/internal/protocol"
)

// clientRecord tracks one registered client: its datagram address, its
// reliable stream connection, and the last time any packet arrived from
// it. The connMu serializes frame writes so concurrent safe-mode senders
// cannot interleave frames on the shared stream.
type clientRecord struct {
	id       uuid.UUID
	name     string
	udpAddr  *net.UDPAddr
	conn     net.Conn
	connMu   sync.Mutex
	lastSeen time.Time
}

// writeFrame writes one length-prefixed frame on conn. The conn is read
// under the table lock by the caller; connMu alone serializes the write.
func (c *clientRecord) writeFrame(conn net.Conn, payload []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return protocol.WriteFrame(conn, payload)
}

// ClientTable tracks all registered clients by id. All methods are safe
// for concurrent use; receiver goroutines touch and bind records while
// the game loop adds, inspects, and removes them.
type ClientTable struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*clientRecord
}

// NewClientTable returns an empty table.
func NewClientTable() *ClientTable {
	return &ClientTable{clients: make(map[uuid.UUID]*clientRecord)}
}

// Add registers a client. The record is created with whichever channel
// endpoints are already known; the other binds on its first packet.
// Returns false if the id is already registered.
func (t *ClientTable) Add(id uuid.UUID, name string, udpAddr *net.UDPAddr, conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[id]; ok {
		return false
	}
	t.clients[id] = &clientRecord{
		id:       id,
		name:     name,
		udpAddr:  udpAddr,
		conn:     conn,
		lastSeen: time.Now(),
	}
	return true
}

// Remove deletes the client record and closes its reliable connection.
// Returns whether a record existed.
func (t *ClientTable) Remove(id uuid.UUID) bool {
	t.mu.Lock()
	rec, ok := t.clients[id]
	delete(t.clients, id)
	t.mu.Unlock()
	if ok && rec.conn != nil {
		rec.conn.Close()
	}
	return ok
}

// Known reports whether id has a record.
func (t *ClientTable) Known(id uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.clients[id]
	return ok
}

// Name returns the registered display name for id.
func (t *ClientTable) Name(id uuid.UUID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.clients[id]
	if !ok {
		return "", false
	}
	return rec.name, true
}

// Count returns the number of registered clients.
func (t *ClientTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// IDs returns the ids of all registered clients in no particular order.
func (t *ClientTable) IDs() []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(t.clients))
	for id := range t.clients {
		out = append(out, id)
	}
	return out
}

// Touch updates the last-seen timestamp for id.
func (t *ClientTable) Touch(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.clients[id]; ok {
		rec.lastSeen = time.Now()
	}
}

// BindAddr records the datagram source address for id.
func (t *ClientTable) BindAddr(id uuid.UUID, addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.clients[id]; ok {
		rec.udpAddr = addr
	}
}

// BindConn records the reliable stream connection for id.
func (t *ClientTable) BindConn(id uuid.UUID, conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.clients[id]; ok && rec.conn == nil {
		rec.conn = conn
	}
}

// FindByConn returns the client id bound to conn.
func (t *ClientTable) FindByConn(conn net.Conn) (uuid.UUID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, rec := range t.clients {
		if rec.conn == conn {
			return id, true
		}
	}
	return uuid.Nil, false
}

// IdleBefore returns the ids of all clients whose last-seen timestamp is
// older than cutoff. Used by the game loop's timeout sweep.
func (t *ClientTable) IdleBefore(cutoff time.Time) []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []uuid.UUID
	for id, rec := range t.clients {
		if rec.lastSeen.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// record returns the live record for id.
func (t *ClientTable) record(id uuid.UUID) (*clientRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.clients[id]
	return rec, ok
}

// endpoints returns the record plus a consistent snapshot of its channel
// endpoints.
func (t *ClientTable) endpoints(id uuid.UUID) (rec *clientRecord, udpAddr *net.UDPAddr, conn net.Conn, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok = t.clients[id]
	if !ok {
		return nil, nil, nil, false
	}
	return rec, rec.udpAddr, rec.conn, true
}
