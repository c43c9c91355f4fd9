// internal/handlers/dispatch.go
package handlers

import (
	"context"

	"github.com/racewire/racewire/internal/protocol"
	"github.com/racewire/racewire/internal/ws"
)

// Dispatch routes one decoded client message to the owning component. It
// holds no state of its own; each arm is a single component call with the
// payload and the originating connection.
//
// Messages referencing rooms that do not exist are dropped silently, with one
// exception: race:spectate replies "Race not found" to the requester.
func (s *RaceServer) Dispatch(ctx context.Context, c *ws.Client, msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case protocol.RaceJoin:
		s.handleJoin(c, m)

	case protocol.RaceLeave:
		if room := s.Rooms.Get(m.RaceID); room != nil {
			room.Leave(c, m.UserID)
		}
		if c.RaceID == m.RaceID {
			c.ClearRoom()
		}

	case protocol.RaceStart:
		if room := s.Rooms.Get(m.RaceID); room != nil {
			room.Start(c)
		}

	case protocol.RaceProgress:
		if room := s.Rooms.Get(m.RaceID); room != nil {
			room.Progress(m.UserID, m.Progress, m.CurrentWpm)
		}

	case protocol.RaceFinish:
		if room := s.Rooms.Get(m.RaceID); room != nil {
			room.Finish(m.UserID, m.Wpm, m.Accuracy)
		}

	case protocol.RaceAdvanceChallenge:
		// ChallengeWpm / ChallengeAccuracy are reserved and ignored here.
		if room := s.Rooms.Get(m.RaceID); room != nil {
			room.AdvanceChallenge(m.UserID)
		}

	case protocol.RaceCountdown:
		if room := s.Rooms.Get(m.RaceID); room != nil {
			room.RelayCountdown(m.Count)
		}

	case protocol.RaceSpectate:
		s.handleSpectate(c, m)

	case protocol.RaceUnspectate:
		if room := s.Rooms.Get(m.RaceID); room != nil {
			room.Unspectate(c)
		}
		if c.RaceID == m.RaceID && c.Role == ws.RoleSpectator {
			c.ClearRoom()
		}

	case protocol.LobbySubscribe:
		s.Lobby.Subscribe(c)
		c.SetSubscribedToLobby(true)

	case protocol.LobbyUnsubscribe:
		s.Lobby.Unsubscribe(c)
		c.SetSubscribedToLobby(false)

	case protocol.MatchmakingJoin:
		c.UserID = m.UserID
		c.UserName = m.UserName
		s.Queue.Join(ctx, c, m.UserID, m.UserName)

	case protocol.MatchmakingLeave:
		s.Queue.Leave(m.UserID, true)
	}
}

// handleJoin binds the connection as a racer, creating the room on first
// join. A stale room pointer (destroyed between lookup and join) is retried
// against the registry until a live room accepts the member.
func (s *RaceServer) handleJoin(c *ws.Client, m protocol.RaceJoin) {
	s.detachIfElsewhere(c, m.RaceID)
	for {
		room, _ := s.Rooms.GetOrCreate(m.RaceID, s.configureRoom)
		if room.Join(c, m.UserID, m.UserName) {
			break
		}
	}
	c.RaceID = m.RaceID
	c.UserID = m.UserID
	c.UserName = m.UserName
	c.Role = ws.RoleRacer
}

func (s *RaceServer) handleSpectate(c *ws.Client, m protocol.RaceSpectate) {
	room := s.Rooms.Get(m.RaceID)
	if room == nil {
		c.SendError("Race not found")
		return
	}
	s.detachIfElsewhere(c, m.RaceID)
	// A racer switching to watch its own room gives up the racer role first,
	// exactly as if it had dropped. In waiting that removes its participant
	// entry, which may destroy the room out from under the switch.
	if c.RaceID == m.RaceID && c.Role == ws.RoleRacer {
		room.HandleDisconnect(c)
		c.ClearRoom()
		room = s.Rooms.Get(m.RaceID)
		if room == nil {
			c.SendError("Race not found")
			return
		}
	}
	if !room.Spectate(c) {
		c.SendError("Race not found")
		return
	}
	c.RaceID = m.RaceID
	c.Role = ws.RoleSpectator
}

// detachIfElsewhere cleanly removes the connection from a previously bound
// room before it binds to a different one.
func (s *RaceServer) detachIfElsewhere(c *ws.Client, raceID int64) {
	if !c.InRoom() || c.RaceID == raceID {
		return
	}
	if prev := s.Rooms.Get(c.RaceID); prev != nil {
		prev.HandleDisconnect(c)
	}
	c.ClearRoom()
}
