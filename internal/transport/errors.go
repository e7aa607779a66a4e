package transport

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/aether/internal/protocol"
)

// ErrUnknownClient is returned when sending to a client id that has no
// record in the client table.
var ErrUnknownClient = errors.New("unknown client")

// ErrClosed is returned when sending through a closed transport.
var ErrClosed = errors.New("transport closed")

// OversizeError reports a quick-mode payload rejected before any I/O
// because it exceeds protocol.MaxPacketSize. It is non-fatal: the
// connection is unaffected.
type OversizeError struct {
	Size int
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("packet too large for datagram channel: %d > %d",
		e.Size, protocol.MaxPacketSize)
}
