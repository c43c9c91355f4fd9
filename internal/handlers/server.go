// internal/handlers/server.go
package handlers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/racewire/racewire/internal/cache"
	"github.com/racewire/racewire/internal/lobby"
	"github.com/racewire/racewire/internal/matchmaking"
	"github.com/racewire/racewire/internal/protocol"
	"github.com/racewire/racewire/internal/race"
	"github.com/racewire/racewire/internal/ws"
)

// RaceServer is the high-level aggregate holding the three coordination
// planes: the room registry, the lobby subscriber set, and the matchmaking
// queue. Each plane has its own locking; RaceServer itself is stateless glue.
type RaceServer struct {
	Rooms  *race.Store
	Lobby  *lobby.Broadcaster
	Queue  *matchmaking.Queue
	Logger *logrus.Logger

	// CountdownTick is the spacing applied to rooms created by this server.
	// Tests shrink it; production keeps the one-second wire cadence.
	CountdownTick time.Duration
}

// NewRaceServer wires the three planes together. factory may be nil, which
// queues matchmaking entries but never forms matches.
func NewRaceServer(logger *logrus.Logger, factory matchmaking.MatchFactory) *RaceServer {
	if logger == nil {
		logger = logrus.New()
	}
	s := &RaceServer{
		Rooms:         race.NewStore(),
		Lobby:         lobby.NewBroadcaster(logger),
		Queue:         matchmaking.NewQueue(factory, logger),
		Logger:        logger,
		CountdownTick: time.Second,
	}
	s.Queue.OnMatch = func(raceID int64, players []matchmaking.Player) {
		s.Lobby.Publish(protocol.NewLobbyUpdate(raceID, protocol.LobbyCreated, len(players), string(race.StatusWaiting)))
	}
	return s
}

// configureRoom hooks a freshly created room into the lobby feed, the
// registry's removal path, and the results queue.
func (s *RaceServer) configureRoom(r *race.Room) {
	r.Logger = s.Logger
	r.TickInterval = s.CountdownTick
	r.OnLobbyUpdate = s.Lobby.Publish
	r.OnEmpty = s.Rooms.Delete
	r.OnFinished = s.publishResult
}

// publishResult hands a finished race to the Redis results queue off the room
// goroutine. Failures are logged and dropped.
func (s *RaceServer) publishResult(res race.Result) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cache.PublishRaceResult(ctx, res); err != nil {
			s.Logger.Errorf("results: publish for race %d failed: %v", res.RaceID, err)
		}
	}()
}

// HandleDisconnect revokes every reference the components hold to a closed
// connection: lobby subscription, matchmaking entry, and room membership.
func (s *RaceServer) HandleDisconnect(c *ws.Client) {
	if c.SubscribedToLobby() {
		s.Lobby.Unsubscribe(c)
		c.SetSubscribedToLobby(false)
	}
	if c.InMatchmaking() {
		s.Queue.Leave(c.UserID, false)
	}
	if c.InRoom() {
		if room := s.Rooms.Get(c.RaceID); room != nil {
			room.HandleDisconnect(c)
		}
		c.ClearRoom()
	}
}
