package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/aether/internal/config"
	"github.com/cory-johannsen/aether/internal/protocol"
)

// Inbound is one received, decoded client packet together with the
// channel endpoint it arrived on. Exactly one of UDPAddr and Conn is set.
type Inbound struct {
	Packet  protocol.ClientPacket
	UDPAddr *net.UDPAddr
	Conn    net.Conn
}

// ConnEvent reports a reliable-channel failure to the game loop. The
// connection is already closed when the event is drained; the session
// layer decides what to do with the client.
type ConnEvent struct {
	// ClientID is the client bound to the failed connection, or uuid.Nil
	// when the connection failed before any packet identified it.
	ClientID uuid.UUID
	Err      error
}

type datagram struct {
	addr *net.UDPAddr
	data []byte
}

// Server owns the server side of the transport: one datagram socket
// shared by all peers, one reliable stream per peer, the shared inbox,
// and the client table. Receiver goroutines decode and push; the game
// loop drains.
type Server struct {
	logger *zap.Logger

	udp      *net.UDPConn
	listener net.Listener

	inbox    *Inbox[Inbound]
	events   *Inbox[ConnEvent]
	table    *ClientTable
	outbound chan datagram

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Listen binds the datagram socket and the stream listener and starts the
// receiver and sender goroutines.
//
// Precondition: cfg must be validated; logger must be non-nil.
// Postcondition: Returns a running Server, or an error with nothing bound.
func Listen(cfg config.NetworkConfig, logger *zap.Logger) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.UDPAddr())
	if err != nil {
		return nil, fmt.Errorf("resolving udp address %s: %w", cfg.UDPAddr(), err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("binding udp %s: %w", cfg.UDPAddr(), err)
	}
	listener, err := net.Listen("tcp", cfg.TCPAddr())
	if err != nil {
		udp.Close()
		return nil, fmt.Errorf("listening on tcp %s: %w", cfg.TCPAddr(), err)
	}

	s := &Server{
		logger:   logger,
		udp:      udp,
		listener: listener,
		inbox:    NewInbox[Inbound](),
		events:   NewInbox[ConnEvent](),
		table:    NewClientTable(),
		outbound: make(chan datagram, cfg.OutboundQueueSize),
		conns:    make(map[net.Conn]struct{}),
		quit:     make(chan struct{}),
	}

	s.wg.Add(3)
	go s.datagramLoop()
	go s.acceptLoop()
	go s.sendLoop()

	logger.Info("transport listening",
		zap.String("udp_addr", udp.LocalAddr().String()),
		zap.String("tcp_addr", listener.Addr().String()),
	)
	return s, nil
}

// Drain returns all packets received since the previous Drain, in arrival
// order. Called once per tick by the game loop; never blocks.
func (s *Server) Drain() []Inbound {
	return s.inbox.Drain()
}

// Events returns all reliable-channel failures since the previous call.
func (s *Server) Events() []ConnEvent {
	return s.events.Drain()
}

// Clients returns the client table.
func (s *Server) Clients() *ClientTable {
	return s.table
}

// Known reports whether the client is currently registered.
func (s *Server) Known(id uuid.UUID) bool {
	return s.table.Known(id)
}

// Register creates a client record bound to whichever channel endpoint
// the registering packet arrived on. Returns false if already registered.
func (s *Server) Register(id uuid.UUID, name string, src Inbound) bool {
	return s.table.Add(id, name, src.UDPAddr, src.Conn)
}

// Remove drops the client record and closes its reliable connection.
func (s *Server) Remove(id uuid.UUID) bool {
	return s.table.Remove(id)
}

// UDPAddr returns the bound datagram address.
func (s *Server) UDPAddr() string { return s.udp.LocalAddr().String() }

// TCPAddr returns the bound stream address.
func (s *Server) TCPAddr() string { return s.listener.Addr().String() }

// Send delivers pkt to the client in the requested mode.
//
// Quick mode rejects payloads over protocol.MaxPacketSize with an
// *OversizeError before any I/O, then fire-and-forgets the datagram via
// the bounded outbound queue. Safe mode frames the payload onto the
// client's reliable stream under the per-connection lock.
func (s *Server) Send(id uuid.UUID, pkt *protocol.ServerPacket, mode protocol.SendMode) error {
	rec, udpAddr, conn, ok := s.table.endpoints(id)
	if !ok {
		return fmt.Errorf("sending to %s: %w", id, ErrUnknownClient)
	}
	data, err := pkt.Encode()
	if err != nil {
		return fmt.Errorf("encoding packet for %s: %w", id, err)
	}

	switch mode {
	case protocol.Quick:
		if len(data) > protocol.MaxPacketSize {
			return &OversizeError{Size: len(data)}
		}
		if udpAddr == nil {
			return fmt.Errorf("client %s has no datagram address yet", id)
		}
		select {
		case s.outbound <- datagram{addr: udpAddr, data: data}:
		case <-s.quit:
			return ErrClosed
		default:
			// Fire-and-forget: a full queue drops the datagram.
			s.logger.Warn("outbound datagram queue full, dropping packet",
				zap.String("client_id", id.String()),
			)
		}
		return nil
	case protocol.Safe:
		if conn == nil {
			return fmt.Errorf("client %s has no reliable connection", id)
		}
		if err := rec.writeFrame(conn, data); err != nil {
			return fmt.Errorf("writing frame to %s: %w", id, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown send mode %d", mode)
	}
}

// datagramLoop blocks on the shared datagram socket, decodes each
// datagram independently, and pushes decoded packets into the inbox.
// A malformed datagram is logged and dropped; the socket is unaffected.
func (s *Server) datagramLoop() {
	defer s.wg.Done()
	buf := make([]byte, protocol.MaxPacketSize)
	for {
		n, addr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.logger.Error("reading datagram", zap.Error(err))
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		pkt, err := protocol.DecodeClientPacket(data)
		if err != nil {
			s.logger.Warn("invalid client datagram, dropping",
				zap.String("remote_addr", addr.String()),
				zap.Error(err),
			)
			continue
		}
		if s.table.Known(pkt.ClientID) {
			s.table.BindAddr(pkt.ClientID, addr)
			s.table.Touch(pkt.ClientID)
		}
		s.inbox.Push(Inbound{Packet: pkt, UDPAddr: addr})
	}
}

// acceptLoop accepts reliable stream connections, one goroutine per peer.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.logger.Error("accepting connection", zap.Error(err))
				continue
			}
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn reads length-prefixed frames from one reliable stream. Any
// read or decode failure is fatal for this connection: the conn is closed
// and a ConnEvent is pushed for the game loop to handle.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
	}()
	remote := conn.RemoteAddr().String()
	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			s.failConn(conn, remote, fmt.Errorf("reading frame: %w", err))
			return
		}
		pkt, err := protocol.DecodeClientPacket(payload)
		if err != nil {
			s.failConn(conn, remote, fmt.Errorf("decoding frame: %w", err))
			return
		}
		if s.table.Known(pkt.ClientID) {
			s.table.BindConn(pkt.ClientID, conn)
			s.table.Touch(pkt.ClientID)
		}
		s.inbox.Push(Inbound{Packet: pkt, Conn: conn})
	}
}

func (s *Server) failConn(conn net.Conn, remote string, err error) {
	conn.Close()
	id, bound := s.table.FindByConn(conn)
	select {
	case <-s.quit:
		return
	default:
	}
	if bound {
		s.logger.Warn("reliable channel failed",
			zap.String("client_id", id.String()),
			zap.String("remote_addr", remote),
			zap.Error(err),
		)
	} else {
		s.logger.Warn("reliable channel failed before identification",
			zap.String("remote_addr", remote),
			zap.Error(err),
		)
	}
	s.events.Push(ConnEvent{ClientID: id, Err: err})
}

// sendLoop is the single datagram sender draining the bounded outbound
// queue.
func (s *Server) sendLoop() {
	defer s.wg.Done()
	for {
		select {
		case d := <-s.outbound:
			if _, err := s.udp.WriteToUDP(d.data, d.addr); err != nil {
				s.logger.Warn("sending datagram",
					zap.String("remote_addr", d.addr.String()),
					zap.Error(err),
				)
			}
		case <-s.quit:
			return
		}
	}
}

// Close stops all goroutines and closes every socket and connection.
// Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.udp.Close()
		s.listener.Close()
		for _, id := range s.table.IDs() {
			s.table.Remove(id)
		}
		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()
		s.wg.Wait()
		s.logger.Info("transport stopped")
	})
}
