// internal/race/room.go
package race

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/racewire/racewire/internal/models"
	"github.com/racewire/racewire/internal/protocol"
	"github.com/racewire/racewire/internal/ws"
)

// Status is the room state machine position.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusCountdown  Status = "countdown"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// DefaultCountdownSeconds is the number of pre-race ticks before the 0 tick.
const DefaultCountdownSeconds = 3

// Result is the final outcome of a room handed to the OnFinished hook once
// every participant has a recorded finish.
type Result struct {
	RaceID       int64                `json:"raceId"`
	FinishedAt   time.Time            `json:"finishedAt"`
	Participants []models.Participant `json:"participants"`
}

// Summary is the read-only room digest served by the HTTP race listing.
type Summary struct {
	RaceID           int64  `json:"raceId"`
	Status           string `json:"status"`
	ParticipantCount int    `json:"participantCount"`
	SpectatorCount   int    `json:"spectatorCount"`
}

// Room is one live race. Every mutation of a given room is serialized under
// Mu; snapshots are composed and queued onto each connection's outbox while
// the lock is held, so all receivers observe the same state sequence.
//
// Methods suffixed Unsafe assume Mu is held by the caller.
type Room struct {
	ID int64
	Mu sync.Mutex

	Status       Status
	Participants map[int64]*models.Participant

	racers     map[*ws.Client]struct{}
	spectators map[*ws.Client]struct{}

	CountdownDeadline time.Time
	countdownCancel   context.CancelFunc

	// CountdownSeconds and TickInterval are fixed at creation; tests shrink
	// the interval to keep countdown runs fast.
	CountdownSeconds int
	TickInterval     time.Duration

	Logger *logrus.Logger

	// OnLobbyUpdate publishes coarse lifecycle events to lobby subscribers.
	OnLobbyUpdate func(protocol.LobbyUpdate)
	// OnEmpty is called once when the room is destroyed, typically wired to
	// Store.Delete by the code that created the room.
	OnEmpty func(raceID int64)
	// OnFinished receives the final result when all participants finish.
	OnFinished func(Result)

	closed bool
}

// NewRoom creates a room in the waiting state.
func NewRoom(id int64, logger *logrus.Logger) *Room {
	if logger == nil {
		logger = logrus.New()
	}
	return &Room{
		ID:               id,
		Status:           StatusWaiting,
		Participants:     make(map[int64]*models.Participant),
		racers:           make(map[*ws.Client]struct{}),
		spectators:       make(map[*ws.Client]struct{}),
		CountdownSeconds: DefaultCountdownSeconds,
		TickInterval:     time.Second,
		Logger:           logger,
	}
}

// Join adds a racer and its connection to the room. Re-joining with the same
// userID is idempotent. Returns false if the room has already been destroyed,
// in which case the caller should create a fresh one.
func (r *Room) Join(c *ws.Client, userID int64, userName string) bool {
	r.Mu.Lock()
	if r.closed {
		r.Mu.Unlock()
		return false
	}
	if _, ok := r.Participants[userID]; !ok {
		r.Participants[userID] = &models.Participant{UserID: userID, UserName: userName}
	}
	// A connection never holds both roles in the same room.
	delete(r.spectators, c)
	r.racers[c] = struct{}{}
	r.broadcastUnsafe(r.snapshotUnsafe(nil))
	lob := r.lobbyUpdateUnsafe(protocol.LobbyUpdated)
	r.Mu.Unlock()

	r.emitLobby(lob)
	r.Logger.Infof("race %d: user %d (%s) joined", r.ID, userID, userName)
	return true
}

// Leave removes a participant. When the last participant leaves the room is
// destroyed: any countdown is cancelled, OnEmpty fires, and lobby subscribers
// see a removed event.
func (r *Room) Leave(c *ws.Client, userID int64) {
	r.Mu.Lock()
	if r.closed {
		r.Mu.Unlock()
		return
	}
	delete(r.Participants, userID)
	if c != nil {
		delete(r.racers, c)
	}
	if len(r.Participants) == 0 {
		r.closeUnsafe()
		r.Mu.Unlock()
		r.emitLobby(protocol.NewLobbyUpdate(r.ID, protocol.LobbyRemoved, -1, ""))
		r.fireOnEmpty()
		return
	}
	r.broadcastUnsafe(r.snapshotUnsafe(nil))
	lob := r.lobbyUpdateUnsafe(protocol.LobbyUpdated)
	r.Mu.Unlock()
	r.emitLobby(lob)
}

// Start begins the countdown. Only valid from waiting with at least two
// participants; failures go back to the requester alone as error frames.
func (r *Room) Start(requester *ws.Client) {
	r.Mu.Lock()
	if r.closed {
		r.Mu.Unlock()
		return
	}
	if r.Status != StatusWaiting {
		r.Mu.Unlock()
		if requester != nil {
			requester.SendError("Race has already started")
		}
		return
	}
	if len(r.Participants) < 2 {
		r.Mu.Unlock()
		if requester != nil {
			requester.SendError("Need at least 2 players to start")
		}
		return
	}

	r.Status = StatusCountdown
	r.CountdownDeadline = time.Now().UTC().Add(time.Duration(r.CountdownSeconds+1) * r.TickInterval)
	ctx, cancel := context.WithCancel(context.Background())
	r.countdownCancel = cancel
	go r.runCountdown(ctx)
	lob := r.lobbyUpdateUnsafe(protocol.LobbyUpdated)
	r.Mu.Unlock()

	r.emitLobby(lob)
	r.Logger.Infof("race %d: countdown started, deadline %s", r.ID, r.CountdownDeadline.Format(time.RFC3339))
}

// runCountdown broadcasts one snapshot per tick for counts N..0, all carrying
// the same startTime, then flips the room to in_progress. The goroutine exits
// early if the countdown is cancelled or the room is gone.
func (r *Room) runCountdown(ctx context.Context) {
	ticker := time.NewTicker(r.TickInterval)
	defer ticker.Stop()

	count := r.CountdownSeconds
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.Mu.Lock()
		if r.closed || r.Status != StatusCountdown {
			r.Mu.Unlock()
			return
		}
		v := count
		r.broadcastUnsafe(r.snapshotUnsafe(&v))
		if count == 0 {
			r.Status = StatusInProgress
			r.countdownCancel = nil
			r.broadcastUnsafe(r.snapshotUnsafe(nil))
			lob := r.lobbyUpdateUnsafe(protocol.LobbyUpdated)
			r.Mu.Unlock()
			r.emitLobby(lob)
			r.Logger.Infof("race %d: in progress", r.ID)
			return
		}
		count--
		r.Mu.Unlock()
	}
}

// Progress records a participant's per-keystroke update and rebroadcasts.
// Unknown or already-finished participants are dropped silently. Progress is
// clamped to 0-100 and never moves backwards within a challenge.
func (r *Room) Progress(userID int64, progress, currentWpm float64) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.closed {
		return
	}
	p, ok := r.Participants[userID]
	if !ok || p.Finished() {
		return
	}
	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}
	if progress >= p.Progress {
		p.Progress = progress
	}
	if currentWpm < 0 {
		currentWpm = 0
	}
	p.CurrentWpm = currentWpm
	r.broadcastUnsafe(r.snapshotUnsafe(nil))
}

// Finish records a participant's final result and assigns the next free rank.
// Ties break on message arrival order; no wall clocks are compared. When the
// last participant finishes the room flips to finished, lobby subscribers see
// a removed event, and the OnFinished hook receives the full result.
func (r *Room) Finish(userID int64, wpm, accuracy float64) {
	r.Mu.Lock()
	if r.closed {
		r.Mu.Unlock()
		return
	}
	p, ok := r.Participants[userID]
	if !ok || p.Finished() {
		r.Mu.Unlock()
		return
	}

	finishedBefore := 0
	for _, q := range r.Participants {
		if q.Finished() {
			finishedBefore++
		}
	}
	now := time.Now().UTC()
	rank := finishedBefore + 1
	p.Wpm = &wpm
	p.Accuracy = &accuracy
	p.FinishedAt = &now
	p.Progress = 100
	p.Rank = &rank

	var (
		lob    *protocol.LobbyUpdate
		result *Result
	)
	if finishedBefore+1 == len(r.Participants) {
		r.Status = StatusFinished
		u := protocol.NewLobbyUpdate(r.ID, protocol.LobbyRemoved, -1, "")
		lob = &u
		result = &Result{RaceID: r.ID, FinishedAt: now, Participants: r.participantsUnsafe()}
	}
	r.broadcastUnsafe(r.snapshotUnsafe(nil))
	r.Mu.Unlock()

	if lob != nil {
		r.emitLobby(*lob)
	}
	if result != nil && r.OnFinished != nil {
		r.OnFinished(*result)
	}
	r.Logger.Infof("race %d: user %d finished rank %d (%.0f wpm)", r.ID, userID, rank, wpm)
}

// AdvanceChallenge moves a participant to the next challenge, resetting the
// per-challenge counters. Finished participants are left untouched.
func (r *Room) AdvanceChallenge(userID int64) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.closed {
		return
	}
	p, ok := r.Participants[userID]
	if !ok || p.Finished() {
		return
	}
	p.CurrentChallengeIndex++
	p.Progress = 0
	p.CurrentWpm = 0
	r.broadcastUnsafe(r.snapshotUnsafe(nil))
}

// Spectate attaches a connection in the read-only role and rebroadcasts so
// racers see the new spectatorCount. Returns false if the room is gone.
func (r *Room) Spectate(c *ws.Client) bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.closed {
		return false
	}
	delete(r.racers, c)
	r.spectators[c] = struct{}{}
	r.broadcastUnsafe(r.snapshotUnsafe(nil))
	return true
}

// Unspectate detaches a spectator connection and rebroadcasts.
func (r *Room) Unspectate(c *ws.Client) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.closed {
		return
	}
	delete(r.spectators, c)
	r.broadcastUnsafe(r.snapshotUnsafe(nil))
}

// RelayCountdown broadcasts a countdown snapshot on behalf of a client-driven
// countdown. Relay only: no room state changes.
func (r *Room) RelayCountdown(count int) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.closed {
		return
	}
	v := count
	r.broadcastUnsafe(r.snapshotUnsafe(&v))
}

// HandleDisconnect detaches a dropped connection. Participants of a room past
// waiting keep their last known state so final rankings survive mid-race
// drops; the room itself is destroyed once no connection remains.
func (r *Room) HandleDisconnect(c *ws.Client) {
	r.Mu.Lock()
	if r.closed {
		r.Mu.Unlock()
		return
	}

	if _, ok := r.spectators[c]; ok {
		delete(r.spectators, c)
		r.broadcastUnsafe(r.snapshotUnsafe(nil))
		r.Mu.Unlock()
		return
	}
	if _, ok := r.racers[c]; !ok {
		r.Mu.Unlock()
		return
	}
	delete(r.racers, c)

	switch r.Status {
	case StatusWaiting:
		delete(r.Participants, c.UserID)
		if len(r.Participants) == 0 {
			r.closeUnsafe()
			r.Mu.Unlock()
			r.emitLobby(protocol.NewLobbyUpdate(r.ID, protocol.LobbyRemoved, -1, ""))
			r.fireOnEmpty()
			return
		}
		r.broadcastUnsafe(r.snapshotUnsafe(nil))
		lob := r.lobbyUpdateUnsafe(protocol.LobbyUpdated)
		r.Mu.Unlock()
		r.emitLobby(lob)

	case StatusCountdown:
		// Participants stay in place, but with no racer connections left
		// there is nobody to race: cancel before the next tick fires.
		if len(r.racers) == 0 {
			r.closeUnsafe()
			r.Mu.Unlock()
			r.emitLobby(protocol.NewLobbyUpdate(r.ID, protocol.LobbyRemoved, -1, ""))
			r.fireOnEmpty()
			return
		}
		r.Mu.Unlock()

	default: // in_progress, finished
		if len(r.racers) == 0 && len(r.spectators) == 0 {
			wasFinished := r.Status == StatusFinished
			r.closeUnsafe()
			r.Mu.Unlock()
			if !wasFinished {
				// finished rooms already emitted their removed event
				r.emitLobby(protocol.NewLobbyUpdate(r.ID, protocol.LobbyRemoved, -1, ""))
			}
			r.fireOnEmpty()
			return
		}
		r.Mu.Unlock()
	}
}

// Summary returns the digest used by the HTTP race listing.
func (r *Room) Summary() Summary {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return Summary{
		RaceID:           r.ID,
		Status:           string(r.Status),
		ParticipantCount: len(r.Participants),
		SpectatorCount:   len(r.spectators),
	}
}

// closeUnsafe cancels any countdown and marks the room destroyed so stale
// references fail fast.
func (r *Room) closeUnsafe() {
	if r.countdownCancel != nil {
		r.countdownCancel()
		r.countdownCancel = nil
	}
	r.closed = true
}

// snapshotUnsafe composes the full authoritative race:state frame.
func (r *Room) snapshotUnsafe(countdown *int) protocol.RaceState {
	s := protocol.RaceState{
		Type:           protocol.TypeRaceState,
		RaceID:         r.ID,
		Status:         string(r.Status),
		Participants:   r.participantsUnsafe(),
		CountdownValue: countdown,
		SpectatorCount: len(r.spectators),
	}
	if !r.CountdownDeadline.IsZero() && (r.Status == StatusCountdown || r.Status == StatusInProgress) {
		t := r.CountdownDeadline
		s.StartTime = &t
	}
	return s
}

// participantsUnsafe copies the participant map into a stable order.
func (r *Room) participantsUnsafe() []models.Participant {
	out := make([]models.Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// broadcastUnsafe queues the snapshot to every connection in the room. Sends
// are non-blocking, so a stalled peer cannot hold the room lock hostage.
func (r *Room) broadcastUnsafe(s protocol.RaceState) {
	for c := range r.racers {
		c.Send(s)
	}
	for c := range r.spectators {
		c.Send(s)
	}
}

func (r *Room) lobbyUpdateUnsafe(action string) protocol.LobbyUpdate {
	return protocol.NewLobbyUpdate(r.ID, action, len(r.Participants), string(r.Status))
}

func (r *Room) emitLobby(u protocol.LobbyUpdate) {
	if r.OnLobbyUpdate != nil {
		r.OnLobbyUpdate(u)
	}
}

func (r *Room) fireOnEmpty() {
	r.Logger.Infof("race %d: destroyed", r.ID)
	if r.OnEmpty != nil {
		r.OnEmpty(r.ID)
	}
}
