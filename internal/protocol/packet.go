package protocol

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cory-johannsen/aether/internal/wire"
)

// ClientPacket is the envelope for every client-originated packet.
// ConvID is a fresh conversation identifier per logical exchange; it is
// never reused for retries.
type ClientPacket struct {
	ClientID uuid.UUID
	ConvID   uuid.UUID
	Message  ClientMessage
}

// ServerPacket is the envelope for every server-originated packet.
type ServerPacket struct {
	ConvID  uuid.UUID
	Message ServerMessage
}

// ClientMessage is the tagged union of client-originated message kinds.
type ClientMessage interface{ isClientMessage() }

// ServerMessage is the tagged union of server-originated message kinds.
type ServerMessage interface{ isServerMessage() }

// Login announces a client to the server and requests registration.
type Login struct {
	Name string
}

// Logout announces an orderly disconnect.
type Logout struct{}

// Ping requests a Pong echoing the same text. Sent by either side.
type Ping struct {
	Text string
}

// Pong answers a Ping.
type Pong struct {
	Text string
}

// RawData carries opaque application bytes outside the RPC layer.
type RawData struct {
	Data []byte
}

// ModMessage carries one RPC invocation: the target entity, the routing
// key of the registered handler, and the wire-encoded arguments.
type ModMessage struct {
	Entity  uuid.UUID
	Func    FuncID
	Payload []byte
}

// KeepAlive is a liveness probe from the server.
type KeepAlive struct{}

// Acknowledge confirms receipt of the conversation with the given id.
type Acknowledge struct {
	Conv uuid.UUID
}

// Kick tells a client it has been disconnected by the server.
type Kick struct {
	Reason string
}

// RegisterResponse answers a Login. When OK is false, Error holds the
// rejection reason and ServerVersion is empty.
type RegisterResponse struct {
	OK            bool
	ServerVersion string
	Error         string
}

// AddClientHandle tells a client to instantiate its local handle for an
// entity it has been subscribed to.
type AddClientHandle struct {
	Entity     uuid.UUID
	HandleType HandleTypeID
}

// RemoveClientHandle tells a client to tear down its local handle for an
// entity.
type RemoveClientHandle struct {
	Entity uuid.UUID
}

func (Login) isClientMessage()      {}
func (Logout) isClientMessage()     {}
func (Ping) isClientMessage()       {}
func (Pong) isClientMessage()       {}
func (RawData) isClientMessage()    {}
func (ModMessage) isClientMessage() {}

func (KeepAlive) isServerMessage()          {}
func (Acknowledge) isServerMessage()        {}
func (Kick) isServerMessage()               {}
func (RegisterResponse) isServerMessage()   {}
func (Ping) isServerMessage()               {}
func (Pong) isServerMessage()               {}
func (RawData) isServerMessage()            {}
func (ModMessage) isServerMessage()         {}
func (AddClientHandle) isServerMessage()    {}
func (RemoveClientHandle) isServerMessage() {}

// Tagged-union discriminants. One byte on the wire, shared across both
// message sets where the variant is shared.
const (
	tagLogin              = 0x01
	tagLogout             = 0x02
	tagPing               = 0x03
	tagPong               = 0x04
	tagRawData            = 0x05
	tagModMessage         = 0x06
	tagKeepAlive          = 0x10
	tagAcknowledge        = 0x11
	tagKick               = 0x12
	tagRegisterResponse   = 0x13
	tagAddClientHandle    = 0x14
	tagRemoveClientHandle = 0x15
)

// Encode serializes the packet.
//
// Precondition: p.Message must be non-nil.
func (p *ClientPacket) Encode() ([]byte, error) {
	var w wire.Writer
	w.Array16(p.ClientID)
	w.Array16(p.ConvID)
	if err := encodeClientMessage(&w, p.Message); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Encode serializes the packet.
//
// Precondition: p.Message must be non-nil.
func (p *ServerPacket) Encode() ([]byte, error) {
	var w wire.Writer
	w.Array16(p.ConvID)
	if err := encodeServerMessage(&w, p.Message); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func encodeClientMessage(w *wire.Writer, m ClientMessage) error {
	switch msg := m.(type) {
	case Login:
		w.Uint8(tagLogin)
		w.String(msg.Name)
	case Logout:
		w.Uint8(tagLogout)
	case Ping:
		w.Uint8(tagPing)
		w.String(msg.Text)
	case Pong:
		w.Uint8(tagPong)
		w.String(msg.Text)
	case RawData:
		w.Uint8(tagRawData)
		w.Bytes32(msg.Data)
	case ModMessage:
		w.Uint8(tagModMessage)
		encodeModMessage(w, msg)
	default:
		return fmt.Errorf("protocol: cannot encode client message %T", m)
	}
	return nil
}

func encodeServerMessage(w *wire.Writer, m ServerMessage) error {
	switch msg := m.(type) {
	case KeepAlive:
		w.Uint8(tagKeepAlive)
	case Acknowledge:
		w.Uint8(tagAcknowledge)
		w.Array16(msg.Conv)
	case Kick:
		w.Uint8(tagKick)
		w.String(msg.Reason)
	case RegisterResponse:
		w.Uint8(tagRegisterResponse)
		w.Bool(msg.OK)
		w.String(msg.ServerVersion)
		w.String(msg.Error)
	case Ping:
		w.Uint8(tagPing)
		w.String(msg.Text)
	case Pong:
		w.Uint8(tagPong)
		w.String(msg.Text)
	case RawData:
		w.Uint8(tagRawData)
		w.Bytes32(msg.Data)
	case ModMessage:
		w.Uint8(tagModMessage)
		encodeModMessage(w, msg)
	case AddClientHandle:
		w.Uint8(tagAddClientHandle)
		w.Array16(msg.Entity)
		w.Uint64(uint64(msg.HandleType))
	case RemoveClientHandle:
		w.Uint8(tagRemoveClientHandle)
		w.Array16(msg.Entity)
	default:
		return fmt.Errorf("protocol: cannot encode server message %T", m)
	}
	return nil
}

func encodeModMessage(w *wire.Writer, msg ModMessage) {
	w.Array16(msg.Entity)
	w.Uint64(uint64(msg.Func))
	w.Bytes32(msg.Payload)
}

// DecodeClientPacket decodes one complete encoded ClientPacket.
// Malformed input yields a *wire.DecodeError; the function never panics.
func DecodeClientPacket(data []byte) (ClientPacket, error) {
	r := wire.NewReader(data)
	var p ClientPacket
	id, err := r.Array16()
	if err != nil {
		return p, err
	}
	p.ClientID = id
	conv, err := r.Array16()
	if err != nil {
		return p, err
	}
	p.ConvID = conv
	p.Message, err = decodeClientMessage(r)
	if err != nil {
		return p, err
	}
	if err := r.Done(); err != nil {
		return p, err
	}
	return p, nil
}

// DecodeServerPacket decodes one complete encoded ServerPacket.
func DecodeServerPacket(data []byte) (ServerPacket, error) {
	r := wire.NewReader(data)
	var p ServerPacket
	conv, err := r.Array16()
	if err != nil {
		return p, err
	}
	p.ConvID = conv
	p.Message, err = decodeServerMessage(r)
	if err != nil {
		return p, err
	}
	if err := r.Done(); err != nil {
		return p, err
	}
	return p, nil
}

func decodeClientMessage(r *wire.Reader) (ClientMessage, error) {
	tag, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagLogin:
		name, err := r.String()
		if err != nil {
			return nil, err
		}
		return Login{Name: name}, nil
	case tagLogout:
		return Logout{}, nil
	case tagPing:
		text, err := r.String()
		if err != nil {
			return nil, err
		}
		return Ping{Text: text}, nil
	case tagPong:
		text, err := r.String()
		if err != nil {
			return nil, err
		}
		return Pong{Text: text}, nil
	case tagRawData:
		data, err := r.Bytes32()
		if err != nil {
			return nil, err
		}
		return RawData{Data: data}, nil
	case tagModMessage:
		return decodeModMessage(r)
	default:
		return nil, &wire.DecodeError{Kind: wire.KindBadDiscriminant, Offset: r.Offset() - 1,
			Detail: fmt.Sprintf("client message tag 0x%02x", tag)}
	}
}

func decodeServerMessage(r *wire.Reader) (ServerMessage, error) {
	tag, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagKeepAlive:
		return KeepAlive{}, nil
	case tagAcknowledge:
		conv, err := r.Array16()
		if err != nil {
			return nil, err
		}
		return Acknowledge{Conv: conv}, nil
	case tagKick:
		reason, err := r.String()
		if err != nil {
			return nil, err
		}
		return Kick{Reason: reason}, nil
	case tagRegisterResponse:
		var resp RegisterResponse
		if resp.OK, err = r.Bool(); err != nil {
			return nil, err
		}
		if resp.ServerVersion, err = r.String(); err != nil {
			return nil, err
		}
		if resp.Error, err = r.String(); err != nil {
			return nil, err
		}
		return resp, nil
	case tagPing:
		text, err := r.String()
		if err != nil {
			return nil, err
		}
		return Ping{Text: text}, nil
	case tagPong:
		text, err := r.String()
		if err != nil {
			return nil, err
		}
		return Pong{Text: text}, nil
	case tagRawData:
		data, err := r.Bytes32()
		if err != nil {
			return nil, err
		}
		return RawData{Data: data}, nil
	case tagModMessage:
		return decodeModMessage(r)
	case tagAddClientHandle:
		entity, err := r.Array16()
		if err != nil {
			return nil, err
		}
		ht, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		return AddClientHandle{Entity: entity, HandleType: HandleTypeID(ht)}, nil
	case tagRemoveClientHandle:
		entity, err := r.Array16()
		if err != nil {
			return nil, err
		}
		return RemoveClientHandle{Entity: entity}, nil
	default:
		return nil, &wire.DecodeError{Kind: wire.KindBadDiscriminant, Offset: r.Offset() - 1,
			Detail: fmt.Sprintf("server message tag 0x%02x", tag)}
	}
}

func decodeModMessage(r *wire.Reader) (ModMessage, error) {
	var msg ModMessage
	entity, err := r.Array16()
	if err != nil {
		return msg, err
	}
	msg.Entity = entity
	fn, err := r.Uint64()
	if err != nil {
		return msg, err
	}
	msg.Func = FuncID(fn)
	msg.Payload, err = r.Bytes32()
	if err != nil {
		return msg, err
	}
	return msg, nil
}
