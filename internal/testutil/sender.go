// Package testutil provides test doubles shared across packages.
package testutil

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cory-johannsen/aether/internal/protocol"
)

// SentPacket is one packet recorded by a RecordingSender.
type SentPacket struct {
	Client uuid.UUID
	Packet *protocol.ServerPacket
	Mode   protocol.SendMode
}

// RecordingSender implements the engine's transport capability in memory,
// recording every send for assertions. Clients must be connected with
// Connect before sends to them succeed.
type RecordingSender struct {
	mu      sync.Mutex
	known   map[uuid.UUID]bool
	sent    []SentPacket
	failFor map[uuid.UUID]error
}

// NewRecordingSender returns an empty sender with no connected clients.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{
		known:   make(map[uuid.UUID]bool),
		failFor: make(map[uuid.UUID]error),
	}
}

// Connect marks a client as known to the transport.
func (s *RecordingSender) Connect(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[id] = true
}

// Disconnect removes a client.
func (s *RecordingSender) Disconnect(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.known, id)
}

// FailWith makes every send to id return err while still recording the
// attempt.
func (s *RecordingSender) FailWith(id uuid.UUID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor[id] = err
}

// Known reports whether id is connected.
func (s *RecordingSender) Known(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[id]
}

// Send records the packet and returns the configured failure, if any.
func (s *RecordingSender) Send(client uuid.UUID, pkt *protocol.ServerPacket, mode protocol.SendMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentPacket{Client: client, Packet: pkt, Mode: mode})
	if err, ok := s.failFor[client]; ok {
		return err
	}
	return nil
}

// Sent returns a copy of every recorded send in order.
func (s *RecordingSender) Sent() []SentPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentPacket, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentTo returns the recorded sends addressed to id, in order.
func (s *RecordingSender) SentTo(id uuid.UUID) []SentPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SentPacket
	for _, sp := range s.sent {
		if sp.Client == id {
			out = append(out, sp)
		}
	}
	return out
}

// Reset clears the recorded sends.
func (s *RecordingSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}
