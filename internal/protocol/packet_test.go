package protocol

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/aether/internal/wire"
)

func roundTripClient(t *testing.T, msg ClientMessage) ClientPacket {
	t.Helper()
	in := ClientPacket{ClientID: uuid.New(), ConvID: uuid.New(), Message: msg}
	data, err := in.Encode()
	require.NoError(t, err)
	out, err := DecodeClientPacket(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	return out
}

func roundTripServer(t *testing.T, msg ServerMessage) ServerPacket {
	t.Helper()
	in := ServerPacket{ConvID: uuid.New(), Message: msg}
	data, err := in.Encode()
	require.NoError(t, err)
	out, err := DecodeServerPacket(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	return out
}

func TestClientPacket_RoundTrip(t *testing.T) {
	roundTripClient(t, Login{Name: "alice"})
	roundTripClient(t, Logout{})
	roundTripClient(t, Ping{Text: "ping"})
	roundTripClient(t, Pong{Text: "pong"})
	roundTripClient(t, RawData{Data: []byte{1, 2, 3}})
	roundTripClient(t, ModMessage{
		Entity:  uuid.New(),
		Func:    FuncIDOf("chat.send"),
		Payload: []byte{9, 8, 7},
	})
}

func TestServerPacket_RoundTrip(t *testing.T) {
	roundTripServer(t, KeepAlive{})
	roundTripServer(t, Acknowledge{Conv: uuid.New()})
	roundTripServer(t, Kick{Reason: "idle"})
	roundTripServer(t, RegisterResponse{OK: true, ServerVersion: "0.3.0"})
	roundTripServer(t, RegisterResponse{OK: false, Error: "server full"})
	roundTripServer(t, Ping{Text: "ping"})
	roundTripServer(t, Pong{Text: "pong"})
	roundTripServer(t, RawData{Data: []byte{4, 5}})
	roundTripServer(t, ModMessage{
		Entity:  uuid.New(),
		Func:    FuncIDOf("chat.message"),
		Payload: []byte("payload"),
	})
	roundTripServer(t, AddClientHandle{Entity: uuid.New(), HandleType: HandleTypeIDOf("chat")})
	roundTripServer(t, RemoveClientHandle{Entity: uuid.New()})
}

func TestDecode_UnknownDiscriminant(t *testing.T) {
	pkt := ClientPacket{ClientID: uuid.New(), ConvID: uuid.New(), Message: Logout{}}
	data, err := pkt.Encode()
	require.NoError(t, err)
	data[32] = 0xEE // message tag follows the two 16-byte ids

	_, err = DecodeClientPacket(data)
	var de *wire.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, wire.KindBadDiscriminant, de.Kind)
}

func TestDecode_Truncated(t *testing.T) {
	pkt := ServerPacket{ConvID: uuid.New(), Message: Kick{Reason: "reason text"}}
	data, err := pkt.Encode()
	require.NoError(t, err)

	for cut := 0; cut < len(data); cut++ {
		_, err := DecodeServerPacket(data[:cut])
		assert.Error(t, err, "prefix of %d/%d bytes must not decode", cut, len(data))
	}
}

func TestDecode_TrailingBytes(t *testing.T) {
	pkt := ClientPacket{ClientID: uuid.New(), ConvID: uuid.New(), Message: Logout{}}
	data, err := pkt.Encode()
	require.NoError(t, err)

	_, err = DecodeClientPacket(append(data, 0x00))
	var de *wire.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, wire.KindTrailing, de.Kind)
}

func TestFuncIDOf_StableAndDistinct(t *testing.T) {
	assert.Equal(t, FuncIDOf("chat.send"), FuncIDOf("chat.send"))
	assert.NotEqual(t, FuncIDOf("chat.send"), FuncIDOf("chat.message"))
	assert.Equal(t, HandleTypeIDOf("chat"), HandleTypeIDOf("chat"))
}

func TestPropertyModMessageRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var entity, clientID, convID uuid.UUID
		copy(entity[:], rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "entity"))
		copy(clientID[:], rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "client"))
		copy(convID[:], rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "conv"))
		in := ClientPacket{
			ClientID: clientID,
			ConvID:   convID,
			Message: ModMessage{
				Entity:  entity,
				Func:    FuncID(rapid.Uint64().Draw(t, "func")),
				Payload: rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "payload"),
			},
		}
		data, err := in.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		out, err := DecodeClientPacket(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		msg, ok := out.Message.(ModMessage)
		if !ok {
			t.Fatalf("decoded wrong variant %T", out.Message)
		}
		inMsg := in.Message.(ModMessage)
		if out.ClientID != in.ClientID || out.ConvID != in.ConvID ||
			msg.Entity != inMsg.Entity || msg.Func != inMsg.Func {
			t.Fatal("envelope fields changed in round trip")
		}
		if string(msg.Payload) != string(inMsg.Payload) {
			t.Fatal("payload changed in round trip")
		}
	})
}
