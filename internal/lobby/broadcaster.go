// internal/lobby/broadcaster.go
package lobby

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/racewire/racewire/internal/protocol"
	"github.com/racewire/racewire/internal/ws"
)

// Broadcaster maintains the process-wide set of connections that elected to
// receive coarse race lifecycle events. Delivery is best effort: a subscriber
// that disconnects is dropped by its own cleanup path, and a subscriber with
// a full outbox simply misses the frame.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*ws.Client]struct{}
	logger *logrus.Logger
}

func NewBroadcaster(logger *logrus.Logger) *Broadcaster {
	if logger == nil {
		logger = logrus.New()
	}
	return &Broadcaster{
		subs:   make(map[*ws.Client]struct{}),
		logger: logger,
	}
}

// Subscribe adds a connection to the lobby feed. Idempotent.
func (b *Broadcaster) Subscribe(c *ws.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[c] = struct{}{}
}

// Unsubscribe removes a connection from the lobby feed. Idempotent.
func (b *Broadcaster) Unsubscribe(c *ws.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, c)
}

// Subscribed reports membership; used by disconnect cleanup and tests.
func (b *Broadcaster) Subscribed(c *ws.Client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[c]
	return ok
}

// Len returns the subscriber count.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish fans one lobby:update out to every subscriber.
func (b *Broadcaster) Publish(u protocol.LobbyUpdate) {
	b.mu.Lock()
	targets := make([]*ws.Client, 0, len(b.subs))
	for c := range b.subs {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.Send(u)
	}
	b.logger.Debugf("lobby: published %s for race %d to %d subscribers", u.Action, u.RaceID, len(targets))
}
