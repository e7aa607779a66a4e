package engine

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/aether/internal/protocol"
	"github.com/cory-johannsen/aether/internal/testutil"
	"github.com/cory-johannsen/aether/internal/wire"
)

type chatLine struct {
	From string
	Text string
}

func newMessengerWorld(t *testing.T) (*World, *testutil.RecordingSender, *Messenger, uuid.UUID) {
	t.Helper()
	sender := testutil.NewRecordingSender()
	w := NewWorld(sender, zaptest.NewLogger(t))
	id := w.NewEntity()
	m := NewMessenger("chat")
	require.True(t, w.AddModule(id, m))
	return w, sender, m, id
}

func TestMessenger_AddClient(t *testing.T) {
	_, sender, m, entityID := newMessengerWorld(t)
	client := uuid.New()
	sender.Connect(client)

	assert.True(t, m.AddClient(client))
	assert.True(t, m.HasClient(client))

	sent := sender.SentTo(client)
	require.Len(t, sent, 1)
	add, ok := sent[0].Packet.Message.(protocol.AddClientHandle)
	require.True(t, ok)
	assert.Equal(t, entityID, add.Entity)
	assert.Equal(t, protocol.HandleTypeIDOf("chat"), add.HandleType)
	assert.Equal(t, protocol.Safe, sent[0].Mode)
}

func TestMessenger_AddClientIdempotent(t *testing.T) {
	_, sender, m, _ := newMessengerWorld(t)
	client := uuid.New()
	sender.Connect(client)

	assert.True(t, m.AddClient(client))
	assert.False(t, m.AddClient(client))
	assert.Len(t, sender.SentTo(client), 1, "resubscribing must not notify twice")
}

func TestMessenger_AddClientUnknown(t *testing.T) {
	_, sender, m, _ := newMessengerWorld(t)
	client := uuid.New()

	assert.False(t, m.AddClient(client), "a client the transport has never seen cannot subscribe")
	assert.False(t, m.HasClient(client))
	assert.Empty(t, sender.Sent())
}

func TestMessenger_RemoveClient(t *testing.T) {
	_, sender, m, entityID := newMessengerWorld(t)
	client := uuid.New()
	sender.Connect(client)
	require.True(t, m.AddClient(client))

	assert.True(t, m.RemoveClient(client))
	assert.False(t, m.HasClient(client))
	assert.False(t, m.RemoveClient(client), "removing twice must report no change")

	sent := sender.SentTo(client)
	require.Len(t, sent, 2)
	rem, ok := sent[1].Packet.Message.(protocol.RemoveClientHandle)
	require.True(t, ok)
	assert.Equal(t, entityID, rem.Entity)
}

func TestMessenger_CallClientFnFanOut(t *testing.T) {
	_, sender, m, entityID := newMessengerWorld(t)

	clients := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, c := range clients {
		sender.Connect(c)
		require.True(t, m.AddClient(c))
	}
	outsider := uuid.New()
	sender.Connect(outsider)
	sender.Reset()

	m.CallClientFn("chat.message", chatLine{From: "alice", Text: "hello"}, protocol.Safe)

	want, err := wire.Marshal(chatLine{From: "alice", Text: "hello"})
	require.NoError(t, err)

	for _, c := range clients {
		sent := sender.SentTo(c)
		require.Len(t, sent, 1, "each subscriber gets exactly one message")
		mod, ok := sent[0].Packet.Message.(protocol.ModMessage)
		require.True(t, ok)
		assert.Equal(t, entityID, mod.Entity)
		assert.Equal(t, protocol.FuncIDOf("chat.message"), mod.Func)
		assert.Equal(t, want, mod.Payload, "every subscriber sees identical payload bytes")
	}
	assert.Empty(t, sender.SentTo(outsider), "non-subscribers receive nothing")
}

func TestMessenger_CallClientFnNoSubscribers(t *testing.T) {
	_, sender, m, _ := newMessengerWorld(t)
	m.CallClientFn("chat.message", chatLine{Text: "into the void"}, protocol.Quick)
	assert.Empty(t, sender.Sent())
}

func TestMessenger_CallClientFnFor(t *testing.T) {
	_, sender, m, _ := newMessengerWorld(t)
	client := uuid.New()
	sender.Connect(client)

	// Directed calls do not require a subscription.
	m.CallClientFnFor("chat.history", client, chatLine{From: "system", Text: "welcome"}, protocol.Safe)

	sent := sender.SentTo(client)
	require.Len(t, sent, 1)
	mod, ok := sent[0].Packet.Message.(protocol.ModMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.FuncIDOf("chat.history"), mod.Func)
}

func TestMessenger_CallClientFnSendFailureIsolated(t *testing.T) {
	_, sender, m, _ := newMessengerWorld(t)

	healthy := uuid.New()
	broken := uuid.New()
	sender.Connect(healthy)
	sender.Connect(broken)
	require.True(t, m.AddClient(healthy))
	require.True(t, m.AddClient(broken))
	sender.FailWith(broken, errors.New("conn reset"))
	sender.Reset()

	m.CallClientFn("chat.message", chatLine{Text: "hi"}, protocol.Safe)
	assert.Len(t, sender.SentTo(healthy), 1, "one failed subscriber must not block the rest")
}

func TestMessenger_Dispatch(t *testing.T) {
	w, _, m, entityID := newMessengerWorld(t)

	var calls int
	var got chatLine
	var gotSender uuid.UUID
	RegisterReceiver(m, "chat.send", func(entity uuid.UUID, tw *World, sender uuid.UUID, msg chatLine) {
		calls++
		got = msg
		gotSender = sender
		assert.Equal(t, entityID, entity)
		assert.Same(t, w, tw)
	})

	payload, err := wire.Marshal(chatLine{From: "bob", Text: "hey"})
	require.NoError(t, err)

	from := uuid.New()
	ok := m.Dispatch(w, from, protocol.ModMessage{
		Entity:  entityID,
		Func:    protocol.FuncIDOf("chat.send"),
		Payload: payload,
	})
	assert.True(t, ok)
	assert.Equal(t, 1, calls, "handler runs exactly once per message")
	assert.Equal(t, chatLine{From: "bob", Text: "hey"}, got)
	assert.Equal(t, from, gotSender)
}

func TestMessenger_DispatchUnknownFunc(t *testing.T) {
	w, _, m, entityID := newMessengerWorld(t)
	ok := m.Dispatch(w, uuid.New(), protocol.ModMessage{
		Entity: entityID,
		Func:   protocol.FuncIDOf("never.registered"),
	})
	assert.False(t, ok)
}

func TestMessenger_DispatchDecodeFailureIsolated(t *testing.T) {
	w, _, m, entityID := newMessengerWorld(t)

	var calls int
	RegisterReceiver(m, "chat.send", func(entity uuid.UUID, tw *World, sender uuid.UUID, msg chatLine) {
		calls++
	})

	// Truncated payload: the handler must not run and nothing panics.
	m.Dispatch(w, uuid.New(), protocol.ModMessage{
		Entity:  entityID,
		Func:    protocol.FuncIDOf("chat.send"),
		Payload: []byte{0x07, 0x00},
	})
	assert.Equal(t, 0, calls)

	// A well-formed message afterwards still goes through.
	payload, err := wire.Marshal(chatLine{Text: "ok"})
	require.NoError(t, err)
	m.Dispatch(w, uuid.New(), protocol.ModMessage{
		Entity:  entityID,
		Func:    protocol.FuncIDOf("chat.send"),
		Payload: payload,
	})
	assert.Equal(t, 1, calls)
}

func TestMessenger_UnregisterReceiver(t *testing.T) {
	w, _, m, entityID := newMessengerWorld(t)

	var calls int
	RegisterReceiver(m, "chat.send", func(entity uuid.UUID, tw *World, sender uuid.UUID, msg chatLine) {
		calls++
	})
	m.UnregisterReceiver("chat.send")

	payload, err := wire.Marshal(chatLine{Text: "late"})
	require.NoError(t, err)
	ok := m.Dispatch(w, uuid.New(), protocol.ModMessage{
		Entity:  entityID,
		Func:    protocol.FuncIDOf("chat.send"),
		Payload: payload,
	})
	assert.False(t, ok)
	assert.Equal(t, 0, calls)
}

func TestConnectionListener_Notify(t *testing.T) {
	sender := testutil.NewRecordingSender()
	w := NewWorld(sender, zaptest.NewLogger(t))

	var joins, leaves []uuid.UUID
	id := w.NewEntity()
	require.True(t, w.AddModule(id, NewConnectionListener(
		func(entity uuid.UUID, tw *World, client uuid.UUID) { joins = append(joins, client) },
		func(entity uuid.UUID, tw *World, client uuid.UUID) { leaves = append(leaves, client) },
	)))
	w.NewEntity() // entity without a listener is skipped

	client := uuid.New()
	NotifyJoin(w, client)
	NotifyLeave(w, client)

	assert.Equal(t, []uuid.UUID{client}, joins)
	assert.Equal(t, []uuid.UUID{client}, leaves)
}
