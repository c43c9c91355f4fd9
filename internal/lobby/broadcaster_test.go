// internal/lobby/broadcaster_test.go
package lobby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racewire/racewire/internal/protocol"
	"github.com/racewire/racewire/internal/ws"
)

func recvLobby(t *testing.T, c *ws.Client) protocol.LobbyUpdate {
	t.Helper()
	select {
	case msg := <-c.Out:
		u, ok := msg.(protocol.LobbyUpdate)
		require.True(t, ok, "expected lobby:update, got %T", msg)
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lobby:update")
		return protocol.LobbyUpdate{}
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	b := NewBroadcaster(nil)
	c := ws.NewClient(func() {})

	b.Subscribe(c)
	b.Subscribe(c)
	assert.Equal(t, 1, b.Len())

	b.Publish(protocol.NewLobbyUpdate(1, protocol.LobbyCreated, 2, "waiting"))
	recvLobby(t, c)
	select {
	case msg := <-c.Out:
		t.Fatalf("duplicate delivery for double subscribe: %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotentAndNeutral(t *testing.T) {
	b := NewBroadcaster(nil)
	c := ws.NewClient(func() {})

	b.Unsubscribe(c) // never subscribed, no-op
	assert.Equal(t, 0, b.Len())

	b.Subscribe(c)
	b.Unsubscribe(c)
	b.Unsubscribe(c)
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Subscribed(c))

	b.Publish(protocol.NewLobbyUpdate(1, protocol.LobbyRemoved, -1, ""))
	select {
	case msg := <-c.Out:
		t.Fatalf("unsubscribed connection received frame: %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	a, c, outsider := ws.NewClient(func() {}), ws.NewClient(func() {}), ws.NewClient(func() {})
	b.Subscribe(a)
	b.Subscribe(c)

	b.Publish(protocol.NewLobbyUpdate(5, protocol.LobbyUpdated, 3, "countdown"))

	for _, sub := range []*ws.Client{a, c} {
		u := recvLobby(t, sub)
		assert.Equal(t, protocol.TypeLobbyUpdate, u.Type)
		assert.Equal(t, int64(5), u.RaceID)
		assert.Equal(t, protocol.LobbyUpdated, u.Action)
		require.NotNil(t, u.ParticipantCount)
		assert.Equal(t, 3, *u.ParticipantCount)
		assert.Equal(t, "countdown", u.Status)
	}

	select {
	case msg := <-outsider.Out:
		t.Fatalf("non-subscriber received frame: %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}
