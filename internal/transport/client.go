package transport

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/aether/internal/protocol"
)

// Client owns the client side of the transport: one connected datagram
// socket and one reliable stream to the server, each read by a dedicated
// goroutine feeding the shared inbox.
type Client struct {
	logger *zap.Logger

	udp *net.UDPConn
	tcp net.Conn
	// tcpMu serializes safe-mode frame writes on the shared stream.
	tcpMu sync.Mutex

	inbox    *Inbox[protocol.ServerPacket]
	outbound chan []byte

	// disc delivers at most one reliable-channel failure to the owner.
	disc chan error

	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Dial connects both channels to the server and starts the receiver and
// sender goroutines.
//
// Precondition: tcpAddr and udpAddr must name the same server; logger
// must be non-nil.
func Dial(tcpAddr, udpAddr string, queueSize int, logger *zap.Logger) (*Client, error) {
	tcp, err := net.Dial("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("dialing tcp %s: %w", tcpAddr, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", udpAddr)
	if err != nil {
		tcp.Close()
		return nil, fmt.Errorf("resolving udp address %s: %w", udpAddr, err)
	}
	udp, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		tcp.Close()
		return nil, fmt.Errorf("dialing udp %s: %w", udpAddr, err)
	}
	if queueSize < 1 {
		queueSize = 1
	}

	c := &Client{
		logger:   logger,
		udp:      udp,
		tcp:      tcp,
		inbox:    NewInbox[protocol.ServerPacket](),
		outbound: make(chan []byte, queueSize),
		disc:     make(chan error, 1),
		quit:     make(chan struct{}),
	}

	c.wg.Add(3)
	go c.datagramLoop()
	go c.streamLoop()
	go c.sendLoop()

	logger.Info("connected to server",
		zap.String("tcp_addr", tcpAddr),
		zap.String("udp_addr", udpAddr),
	)
	return c, nil
}

// Drain returns all packets received since the previous Drain, in arrival
// order. Never blocks.
func (c *Client) Drain() []protocol.ServerPacket {
	return c.inbox.Drain()
}

// Disconnected returns a channel that delivers the reliable-channel
// failure, if one occurs. The session layer should treat it as fatal for
// this connection and re-login.
func (c *Client) Disconnected() <-chan error {
	return c.disc
}

// LocalUDPAddr returns the bound local datagram address.
func (c *Client) LocalUDPAddr() string { return c.udp.LocalAddr().String() }

// Send delivers pkt to the server in the requested mode. Quick mode
// rejects oversize payloads with an *OversizeError before any I/O and
// otherwise fire-and-forgets via the bounded outbound queue; Safe mode
// frames the payload onto the stream under the write lock.
func (c *Client) Send(pkt *protocol.ClientPacket, mode protocol.SendMode) error {
	data, err := pkt.Encode()
	if err != nil {
		return fmt.Errorf("encoding packet: %w", err)
	}
	switch mode {
	case protocol.Quick:
		if len(data) > protocol.MaxPacketSize {
			return &OversizeError{Size: len(data)}
		}
		select {
		case c.outbound <- data:
		case <-c.quit:
			return ErrClosed
		default:
			c.logger.Warn("outbound datagram queue full, dropping packet")
		}
		return nil
	case protocol.Safe:
		c.tcpMu.Lock()
		defer c.tcpMu.Unlock()
		if err := protocol.WriteFrame(c.tcp, data); err != nil {
			return fmt.Errorf("writing frame: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown send mode %d", mode)
	}
}

// datagramLoop decodes each received datagram independently. Malformed
// datagrams are logged and dropped.
func (c *Client) datagramLoop() {
	defer c.wg.Done()
	buf := make([]byte, protocol.MaxPacketSize)
	for {
		n, err := c.udp.Read(buf)
		if err != nil {
			select {
			case <-c.quit:
				return
			default:
				c.logger.Error("reading datagram", zap.Error(err))
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		pkt, err := protocol.DecodeServerPacket(data)
		if err != nil {
			c.logger.Warn("invalid server datagram, dropping", zap.Error(err))
			continue
		}
		c.inbox.Push(pkt)
	}
}

// streamLoop reads length-prefixed frames from the reliable stream. Any
// read or decode failure is fatal for the connection and is surfaced
// through Disconnected rather than swallowed.
func (c *Client) streamLoop() {
	defer c.wg.Done()
	for {
		payload, err := protocol.ReadFrame(c.tcp)
		if err != nil {
			c.fail(fmt.Errorf("reading frame: %w", err))
			return
		}
		pkt, err := protocol.DecodeServerPacket(payload)
		if err != nil {
			c.fail(fmt.Errorf("decoding frame: %w", err))
			return
		}
		c.inbox.Push(pkt)
	}
}

func (c *Client) fail(err error) {
	select {
	case <-c.quit:
		return
	default:
	}
	c.logger.Warn("reliable channel failed", zap.Error(err))
	select {
	case c.disc <- err:
	default:
	}
}

// sendLoop is the single datagram sender draining the bounded outbound
// queue.
func (c *Client) sendLoop() {
	defer c.wg.Done()
	for {
		select {
		case data := <-c.outbound:
			if _, err := c.udp.Write(data); err != nil {
				c.logger.Warn("sending datagram", zap.Error(err))
			}
		case <-c.quit:
			return
		}
	}
}

// Close stops all goroutines and closes both sockets. Safe to call more
// than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.udp.Close()
		c.tcp.Close()
		c.wg.Wait()
		c.logger.Info("disconnected from server")
	})
}
