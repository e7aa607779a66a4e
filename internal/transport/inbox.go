// Package transport owns the dual-channel network layer: one unreliable
// datagram socket and one reliable stream per peer, background receiver
// goroutines, and the shared inbox drained by the game loop.
package transport

import "sync"

// Inbox is the thread-safe queue bridging the network receiver goroutines
// and the single-threaded game loop. Receivers only Push; the game loop
// only Drains. The lock is held just long enough to swap the backing
// slice, so producers are never blocked behind consumer work.
type Inbox[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewInbox returns an empty inbox.
func NewInbox[T any]() *Inbox[T] {
	return &Inbox[T]{}
}

// Push appends item in arrival order.
func (in *Inbox[T]) Push(item T) {
	in.mu.Lock()
	in.items = append(in.items, item)
	in.mu.Unlock()
}

// Drain returns everything pushed since the previous Drain, in arrival
// order, and leaves the inbox empty. It never blocks on producers beyond
// the swap itself.
func (in *Inbox[T]) Drain() []T {
	in.mu.Lock()
	items := in.items
	in.items = nil
	in.mu.Unlock()
	return items
}

// Len returns the number of queued items.
func (in *Inbox[T]) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}
