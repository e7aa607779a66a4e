package gameserver

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/aether/internal/config"
	"github.com/cory-johannsen/aether/internal/engine"
	"github.com/cory-johannsen/aether/internal/protocol"
	"github.com/cory-johannsen/aether/internal/transport"
	"github.com/cory-johannsen/aether/internal/wire"
)

type fixture struct {
	srv    *Server
	ts     *transport.Server
	client *transport.Client
}

func newFixture(t *testing.T, runtime config.RuntimeConfig) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	netCfg := config.NetworkConfig{Host: "127.0.0.1", UDPPort: 0, TCPPort: 0, OutboundQueueSize: 16}

	ts, err := transport.Listen(netCfg, logger)
	require.NoError(t, err)
	t.Cleanup(ts.Close)

	client, err := transport.Dial(ts.TCPAddr(), ts.UDPAddr(), 16, logger)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return &fixture{
		srv:    New(runtime, ts, logger),
		ts:     ts,
		client: client,
	}
}

func defaultRuntime() config.RuntimeConfig {
	return config.RuntimeConfig{
		TickInterval:      10 * time.Millisecond,
		ClientTimeout:     30 * time.Second,
		KeepAliveInterval: time.Hour, // keep broadcasts out of most tests
	}
}

// login drives the loop until the client's login is acknowledged.
func (f *fixture) login(t *testing.T, id uuid.UUID, name string) {
	t.Helper()
	pkt := &protocol.ClientPacket{ClientID: id, ConvID: uuid.New(), Message: protocol.Login{Name: name}}
	require.NoError(t, f.client.Send(pkt, protocol.Safe))

	require.Eventually(t, func() bool {
		f.srv.Step(time.Now())
		for _, in := range f.client.Drain() {
			if resp, ok := in.Message.(protocol.RegisterResponse); ok {
				assert.True(t, resp.OK)
				assert.Equal(t, Version, resp.ServerVersion)
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "login was not acknowledged")
	require.True(t, f.ts.Known(id))
}

// expect drives the loop until pred accepts a received packet.
func (f *fixture) expect(t *testing.T, what string, pred func(protocol.ServerPacket) bool) protocol.ServerPacket {
	t.Helper()
	var found protocol.ServerPacket
	require.Eventually(t, func() bool {
		f.srv.Step(time.Now())
		for _, in := range f.client.Drain() {
			if pred(in) {
				found = in
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, what)
	return found
}

func TestServer_LoginRegistersClient(t *testing.T) {
	f := newFixture(t, defaultRuntime())
	id := uuid.New()
	f.login(t, id, "alice")
	name, ok := f.ts.Clients().Name(id)
	require.True(t, ok)
	assert.Equal(t, "alice", name)
}

func TestServer_DuplicateLoginAcknowledgedAgain(t *testing.T) {
	f := newFixture(t, defaultRuntime())
	id := uuid.New()
	f.login(t, id, "alice")
	f.login(t, id, "alice")
	assert.Equal(t, 1, f.ts.Clients().Count())
}

func TestServer_LoginRunsJoinCallbacks(t *testing.T) {
	f := newFixture(t, defaultRuntime())

	var joined []uuid.UUID
	eid := f.srv.World().NewEntity()
	require.True(t, f.srv.World().AddModule(eid, engine.NewConnectionListener(
		func(entity uuid.UUID, w *engine.World, client uuid.UUID) { joined = append(joined, client) },
		nil,
	)))

	id := uuid.New()
	f.login(t, id, "alice")
	assert.Equal(t, []uuid.UUID{id}, joined)
}

func TestServer_LogoutDropsClient(t *testing.T) {
	f := newFixture(t, defaultRuntime())

	var left []uuid.UUID
	eid := f.srv.World().NewEntity()
	require.True(t, f.srv.World().AddModule(eid, engine.NewConnectionListener(
		nil,
		func(entity uuid.UUID, w *engine.World, client uuid.UUID) { left = append(left, client) },
	)))

	id := uuid.New()
	f.login(t, id, "alice")

	pkt := &protocol.ClientPacket{ClientID: id, ConvID: uuid.New(), Message: protocol.Logout{}}
	require.NoError(t, f.client.Send(pkt, protocol.Safe))

	require.Eventually(t, func() bool {
		f.srv.Step(time.Now())
		return !f.ts.Known(id)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uuid.UUID{id}, left)
}

func TestServer_ReconnectAfterConnFailure(t *testing.T) {
	f := newFixture(t, defaultRuntime())

	var joins, leaves int
	eid := f.srv.World().NewEntity()
	require.True(t, f.srv.World().AddModule(eid, engine.NewConnectionListener(
		func(entity uuid.UUID, w *engine.World, client uuid.UUID) { joins++ },
		func(entity uuid.UUID, w *engine.World, client uuid.UUID) { leaves++ },
	)))

	id := uuid.New()
	f.login(t, id, "alice")

	// Kill the reliable channel and let the failure drop the record,
	// then log in again from a fresh connection with the same client id.
	f.client.Close()
	require.Eventually(t, func() bool {
		f.srv.Step(time.Now())
		return !f.ts.Known(id)
	}, 2*time.Second, 5*time.Millisecond, "conn failure did not drop the client")

	logger := zaptest.NewLogger(t)
	reconn, err := transport.Dial(f.ts.TCPAddr(), f.ts.UDPAddr(), 16, logger)
	require.NoError(t, err)
	t.Cleanup(reconn.Close)
	f.client = reconn
	f.login(t, id, "alice")

	assert.Equal(t, 2, joins, "both logins run join callbacks")
	assert.Equal(t, 1, leaves, "the failed connection runs leave callbacks once")
	assert.Equal(t, 1, f.ts.Clients().Count())
}

func TestServer_PingPong(t *testing.T) {
	f := newFixture(t, defaultRuntime())
	id := uuid.New()
	f.login(t, id, "alice")

	pkt := &protocol.ClientPacket{ClientID: id, ConvID: uuid.New(), Message: protocol.Ping{Text: "marco"}}
	require.NoError(t, f.client.Send(pkt, protocol.Safe))

	got := f.expect(t, "pong did not arrive", func(in protocol.ServerPacket) bool {
		_, ok := in.Message.(protocol.Pong)
		return ok
	})
	assert.Equal(t, protocol.Pong{Text: "marco"}, got.Message)
}

func TestServer_IdleClientKicked(t *testing.T) {
	runtime := defaultRuntime()
	runtime.ClientTimeout = 20 * time.Millisecond
	f := newFixture(t, runtime)

	id := uuid.New()
	f.login(t, id, "alice")

	// Step with a future clock instead of sleeping out the timeout.
	f.srv.Step(time.Now().Add(time.Minute))
	assert.False(t, f.ts.Known(id))

	got := f.expect(t, "kick did not arrive", func(in protocol.ServerPacket) bool {
		_, ok := in.Message.(protocol.Kick)
		return ok
	})
	assert.Equal(t, protocol.Kick{Reason: "timed out"}, got.Message)
}

func TestServer_KeepAliveBroadcast(t *testing.T) {
	runtime := defaultRuntime()
	runtime.KeepAliveInterval = time.Nanosecond
	f := newFixture(t, runtime)

	id := uuid.New()
	f.login(t, id, "alice")

	// KeepAlive goes out quick, which needs a known datagram address.
	ping := &protocol.ClientPacket{ClientID: id, ConvID: uuid.New(), Message: protocol.Ping{Text: "here"}}
	require.NoError(t, f.client.Send(ping, protocol.Quick))

	f.expect(t, "keepalive did not arrive", func(in protocol.ServerPacket) bool {
		_, ok := in.Message.(protocol.KeepAlive)
		return ok
	})
}

func TestServer_ModMessageUnknownEntityDropped(t *testing.T) {
	f := newFixture(t, defaultRuntime())
	id := uuid.New()
	f.login(t, id, "alice")

	pkt := &protocol.ClientPacket{
		ClientID: id,
		ConvID:   uuid.New(),
		Message: protocol.ModMessage{
			Entity: uuid.New(),
			Func:   protocol.FuncIDOf("chat.send"),
		},
	}
	require.NoError(t, f.client.Send(pkt, protocol.Safe))

	// The loop must survive the misroute; a later ping still answers.
	ping := &protocol.ClientPacket{ClientID: id, ConvID: uuid.New(), Message: protocol.Ping{Text: "alive"}}
	require.NoError(t, f.client.Send(ping, protocol.Safe))
	f.expect(t, "server stopped responding after misrouted message", func(in protocol.ServerPacket) bool {
		_, ok := in.Message.(protocol.Pong)
		return ok
	})
}

type greeting struct {
	Text string
}

// Full round trip: login, subscribe on join, server call reaching the
// client, client call reaching the server handler.
func TestServer_MessengerRoundTrip(t *testing.T) {
	f := newFixture(t, defaultRuntime())

	world := f.srv.World()
	eid := world.NewEntity()
	messenger := engine.NewMessenger("chat")
	require.True(t, world.AddModule(eid, messenger))

	var received []greeting
	var from []uuid.UUID
	engine.RegisterReceiver(messenger, "chat.send", func(entity uuid.UUID, w *engine.World, sender uuid.UUID, msg greeting) {
		received = append(received, msg)
		from = append(from, sender)
	})
	require.True(t, world.AddModule(eid, engine.NewConnectionListener(
		func(entity uuid.UUID, w *engine.World, client uuid.UUID) {
			messenger.AddClient(client)
		},
		nil,
	)))

	id := uuid.New()
	f.login(t, id, "alice")

	add := f.expect(t, "AddClientHandle did not arrive", func(in protocol.ServerPacket) bool {
		_, ok := in.Message.(protocol.AddClientHandle)
		return ok
	})
	assert.Equal(t, protocol.AddClientHandle{
		Entity:     eid,
		HandleType: protocol.HandleTypeIDOf("chat"),
	}, add.Message)

	// Server-to-client call on the reliable channel.
	messenger.CallClientFn("chat.message", greeting{Text: "hello"}, protocol.Safe)
	mod := f.expect(t, "mod message did not arrive", func(in protocol.ServerPacket) bool {
		m, ok := in.Message.(protocol.ModMessage)
		return ok && m.Func == protocol.FuncIDOf("chat.message")
	})
	var got greeting
	require.NoError(t, wire.Unmarshal(mod.Message.(protocol.ModMessage).Payload, &got))
	assert.Equal(t, greeting{Text: "hello"}, got)

	// Client-to-server call.
	payload, err := wire.Marshal(greeting{Text: "hi server"})
	require.NoError(t, err)
	call := &protocol.ClientPacket{
		ClientID: id,
		ConvID:   uuid.New(),
		Message: protocol.ModMessage{
			Entity:  eid,
			Func:    protocol.FuncIDOf("chat.send"),
			Payload: payload,
		},
	}
	require.NoError(t, f.client.Send(call, protocol.Safe))

	require.Eventually(t, func() bool {
		f.srv.Step(time.Now())
		return len(received) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []greeting{{Text: "hi server"}}, received)
	assert.Equal(t, []uuid.UUID{id}, from)
}

func TestServer_DropUnsubscribesMessengers(t *testing.T) {
	f := newFixture(t, defaultRuntime())

	world := f.srv.World()
	eid := world.NewEntity()
	messenger := engine.NewMessenger("chat")
	require.True(t, world.AddModule(eid, messenger))
	require.True(t, world.AddModule(eid, engine.NewConnectionListener(
		func(entity uuid.UUID, w *engine.World, client uuid.UUID) {
			messenger.AddClient(client)
		},
		nil,
	)))

	id := uuid.New()
	f.login(t, id, "alice")
	require.Eventually(t, func() bool {
		f.srv.Step(time.Now())
		return messenger.HasClient(id)
	}, 2*time.Second, 5*time.Millisecond)

	f.srv.Kick(id, "testing")
	assert.False(t, messenger.HasClient(id))
	assert.False(t, f.ts.Known(id))
}
