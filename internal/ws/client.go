// internal/ws/client.go
package ws

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/racewire/racewire/internal/protocol"
)

// Role is a connection's relationship to its current room.
type Role int

const (
	RoleNone Role = iota
	RoleRacer
	RoleSpectator
)

// Client is the per-socket state attached on upgrade and destroyed on close.
//
// RaceID, UserID, UserName and Role are the room binding; they are only
// touched from the connection's own read goroutine (dispatch and disconnect
// cleanup run there), so they carry no lock. Flags crossed by other goroutines
// (matchmaking worker, lobby broadcaster) go through the mutexed accessors.
type Client struct {
	ID       uuid.UUID
	UserID   int64
	UserName string
	RaceID   int64
	Role     Role

	// Cancel tears down the read loop; the write pump follows via context.
	Cancel context.CancelFunc

	// Out carries serialized-order outbound frames to the write pump.
	Out chan protocol.ServerMessage

	mu                sync.Mutex
	subscribedToLobby bool
	inMatchmaking     bool
}

// NewClient allocates fresh connection state with a buffered outbox.
func NewClient(cancel context.CancelFunc) *Client {
	return &Client{
		ID:     uuid.New(),
		Cancel: cancel,
		Out:    make(chan protocol.ServerMessage, 32),
	}
}

// Send queues msg for the write pump without blocking. Delivery is best
// effort: a peer that cannot drain its outbox loses frames rather than
// stalling the room that produced them.
func (c *Client) Send(msg protocol.ServerMessage) {
	select {
	case c.Out <- msg:
	default:
		log.Printf("ws: outbox full for connection %s, dropped %T", c.ID, msg)
	}
}

// SendError queues a single error frame for this connection only.
func (c *Client) SendError(message string) {
	c.Send(protocol.NewError(message))
}

// InRoom reports whether the connection is bound to a room.
func (c *Client) InRoom() bool {
	return c.RaceID != 0
}

// ClearRoom drops the room binding.
func (c *Client) ClearRoom() {
	c.RaceID = 0
	c.Role = RoleNone
}

// SetSubscribedToLobby flips the lobby-subscription flag.
func (c *Client) SetSubscribedToLobby(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribedToLobby = v
}

// SubscribedToLobby reports the lobby-subscription flag.
func (c *Client) SubscribedToLobby() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedToLobby
}

// SetInMatchmaking flips the matchmaking flag.
func (c *Client) SetInMatchmaking(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inMatchmaking = v
}

// InMatchmaking reports the matchmaking flag.
func (c *Client) InMatchmaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inMatchmaking
}
