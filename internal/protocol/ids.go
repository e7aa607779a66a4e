// Package protocol defines the packet model exchanged between game clients
// and the game server: the two packet envelopes, their tagged-union message
// sets, routing identifiers, delivery modes, and reliable-stream framing.
package protocol

import "hash/fnv"

// FuncID is the stable routing key for one RPC handler. Both ends derive
// it from the same programmer-declared function name, so it is identical
// across processes and restarts without any shared source.
type FuncID uint64

// HandleTypeID identifies a client handle type, derived from its declared
// name the same way FuncID is.
type HandleTypeID uint64

// FuncIDOf derives the FuncID for a declared function name.
//
// Postcondition: Equal names always produce equal identifiers.
func FuncIDOf(name string) FuncID {
	return FuncID(hashName(name))
}

// HandleTypeIDOf derives the HandleTypeID for a declared handle type name.
func HandleTypeIDOf(name string) HandleTypeID {
	return HandleTypeID(hashName(name))
}

func hashName(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// SendMode selects the delivery channel for an outbound packet.
type SendMode uint8

const (
	// Quick sends over the datagram channel: low latency, no delivery,
	// ordering, or duplication guarantees.
	Quick SendMode = iota
	// Safe sends over the reliable stream: delivered exactly once, in order.
	Safe
)

func (m SendMode) String() string {
	switch m {
	case Quick:
		return "quick"
	case Safe:
		return "safe"
	default:
		return "unknown"
	}
}

// MaxPacketSize is the largest encoded packet accepted on the datagram
// channel. Quick sends exceeding it are rejected before any I/O.
const MaxPacketSize = 4096
