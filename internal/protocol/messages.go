// internal/protocol/messages.go
package protocol

import (
	"time"

	"github.com/racewire/racewire/internal/models"
)

// Client message type discriminators.
const (
	TypeRaceJoin             = "race:join"
	TypeRaceLeave            = "race:leave"
	TypeRaceStart            = "race:start"
	TypeRaceProgress         = "race:progress"
	TypeRaceFinish           = "race:finish"
	TypeRaceAdvanceChallenge = "race:advanceChallenge"
	TypeRaceCountdown        = "race:countdown"
	TypeRaceSpectate         = "race:spectate"
	TypeRaceUnspectate       = "race:unspectate"
	TypeLobbySubscribe       = "lobby:subscribe"
	TypeLobbyUnsubscribe     = "lobby:unsubscribe"
	TypeMatchmakingJoin      = "matchmaking:join"
	TypeMatchmakingLeave     = "matchmaking:leave"
)

// Server message type discriminators.
const (
	TypeRaceState         = "race:state"
	TypeLobbyUpdate       = "lobby:update"
	TypeMatchmakingStatus = "matchmaking:status"
	TypeError             = "error"
)

// Lobby update actions.
const (
	LobbyCreated = "created"
	LobbyUpdated = "updated"
	LobbyRemoved = "removed"
)

// Matchmaking statuses.
const (
	MatchQueued    = "queued"
	MatchMatched   = "matched"
	MatchCancelled = "cancelled"
)

// ClientMessage is the closed union of inbound frames. Decode produces exactly
// one variant per "type" discriminator.
type ClientMessage interface {
	clientMessage()
}

// RaceJoin binds the sender to a room as a racer, creating the room if needed.
type RaceJoin struct {
	RaceID   int64  `json:"raceId"`
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
}

// RaceLeave removes a participant from a room.
type RaceLeave struct {
	RaceID int64 `json:"raceId"`
	UserID int64 `json:"userId"`
}

// RaceStart requests the countdown for a waiting room.
type RaceStart struct {
	RaceID int64 `json:"raceId"`
}

// RaceProgress reports per-keystroke progress for one participant.
type RaceProgress struct {
	RaceID     int64   `json:"raceId"`
	UserID     int64   `json:"userId"`
	Progress   float64 `json:"progress"`
	CurrentWpm float64 `json:"currentWpm"`
}

// RaceFinish reports a participant's final result.
type RaceFinish struct {
	RaceID   int64   `json:"raceId"`
	UserID   int64   `json:"userId"`
	Wpm      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
}

// RaceAdvanceChallenge moves a participant to the next challenge in a
// multi-challenge race. ChallengeWpm and ChallengeAccuracy are accepted from
// clients but not consumed by the coordinator.
type RaceAdvanceChallenge struct {
	RaceID            int64   `json:"raceId"`
	UserID            int64   `json:"userId"`
	ChallengeWpm      float64 `json:"challengeWpm"`
	ChallengeAccuracy float64 `json:"challengeAccuracy"`
}

// RaceCountdown relays a client-driven countdown tick to the whole room.
type RaceCountdown struct {
	RaceID int64 `json:"raceId"`
	Count  int   `json:"count"`
}

// RaceSpectate attaches the sender to a room in a read-only role.
type RaceSpectate struct {
	RaceID int64 `json:"raceId"`
}

// RaceUnspectate detaches the sender from a room's spectator set.
type RaceUnspectate struct {
	RaceID int64 `json:"raceId"`
}

// LobbySubscribe adds the sender to the lobby feed.
type LobbySubscribe struct{}

// LobbyUnsubscribe removes the sender from the lobby feed.
type LobbyUnsubscribe struct{}

// MatchmakingJoin enqueues the sender for skill-based matching.
type MatchmakingJoin struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
}

// MatchmakingLeave removes the sender's queue entry.
type MatchmakingLeave struct {
	UserID int64 `json:"userId"`
}

func (RaceJoin) clientMessage()             {}
func (RaceLeave) clientMessage()            {}
func (RaceStart) clientMessage()            {}
func (RaceProgress) clientMessage()         {}
func (RaceFinish) clientMessage()           {}
func (RaceAdvanceChallenge) clientMessage() {}
func (RaceCountdown) clientMessage()        {}
func (RaceSpectate) clientMessage()         {}
func (RaceUnspectate) clientMessage()       {}
func (LobbySubscribe) clientMessage()       {}
func (LobbyUnsubscribe) clientMessage()     {}
func (MatchmakingJoin) clientMessage()      {}
func (MatchmakingLeave) clientMessage()     {}

// ServerMessage is the union of outbound frames. Every variant carries its own
// "type" discriminator so it can be marshaled directly onto the wire.
type ServerMessage interface {
	serverMessage()
}

// RaceState is a full authoritative snapshot of one room. Field deltas are
// never sent.
type RaceState struct {
	Type           string               `json:"type"`
	RaceID         int64                `json:"raceId"`
	Status         string               `json:"status"`
	Participants   []models.Participant `json:"participants"`
	CountdownValue *int                 `json:"countdownValue,omitempty"`
	StartTime      *time.Time           `json:"startTime,omitempty"`
	SpectatorCount int                  `json:"spectatorCount"`
}

// LobbyUpdate is a coarse create/update/remove notification for one room.
type LobbyUpdate struct {
	Type             string `json:"type"`
	RaceID           int64  `json:"raceId"`
	Action           string `json:"action"`
	ParticipantCount *int   `json:"participantCount,omitempty"`
	Status           string `json:"status,omitempty"`
}

// MatchedPlayer identifies one member of a formed match.
type MatchedPlayer struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
}

// MatchmakingStatus reports queue membership changes to one connection.
type MatchmakingStatus struct {
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	AverageWpm *float64        `json:"averageWpm,omitempty"`
	QueueSize  *int            `json:"queueSize,omitempty"`
	RaceID     *int64          `json:"raceId,omitempty"`
	Players    []MatchedPlayer `json:"players,omitempty"`
}

// ErrorMessage is a single-recipient error frame. Never broadcast.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (RaceState) serverMessage()         {}
func (LobbyUpdate) serverMessage()       {}
func (MatchmakingStatus) serverMessage() {}
func (ErrorMessage) serverMessage()      {}

// NewError builds an error frame with the given client-facing message.
func NewError(msg string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: msg}
}

// NewLobbyUpdate builds a lobby:update frame. participantCount < 0 omits the
// field (used for "removed", which carries neither count nor status).
func NewLobbyUpdate(raceID int64, action string, participantCount int, status string) LobbyUpdate {
	u := LobbyUpdate{
		Type:   TypeLobbyUpdate,
		RaceID: raceID,
		Action: action,
		Status: status,
	}
	if participantCount >= 0 {
		n := participantCount
		u.ParticipantCount = &n
	}
	return u
}
