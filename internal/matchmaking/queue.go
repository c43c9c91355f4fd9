// internal/matchmaking/queue.go
package matchmaking

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/racewire/racewire/internal/protocol"
	"github.com/racewire/racewire/internal/ws"
)

// Defaults for the grouping policy. The skill window width is a tuning choice:
// players whose recent average lies within one window of the longest-waiting
// entry are considered comparable.
const (
	DefaultWindowWpm     = 15.0
	DefaultMaxGroupSize  = 4
	MinGroupSize         = 2
	DefaultSweepInterval = 2 * time.Second
)

// DefaultAverageWpm stands in when the persistence port has no history for a
// player or is unavailable.
const DefaultAverageWpm = 40.0

// Player is one member of the matchmaking queue or a formed group.
type Player struct {
	UserID     int64   `json:"userId"`
	UserName   string  `json:"userName"`
	AverageWpm float64 `json:"averageWpm"`
}

// MatchFactory is the persistence port consumed when forming matched races.
// PickMatchCategory may return nil with no error, meaning no category suits
// the skill band; the group stays queued and is retried on the next sweep.
type MatchFactory interface {
	GetPlayerAverageWpm(ctx context.Context, userID int64) (float64, error)
	PickMatchCategory(ctx context.Context, groupAvgWpm float64) (*int64, error)
	CreateMatchedRace(ctx context.Context, players []Player, categoryID *int64) (int64, error)
}

type entry struct {
	Player
	JoinedAt time.Time
	client   *ws.Client
}

// Queue is the skill-based matchmaking waitlist. At most one entry per
// userId. Grouping runs on a single worker (Run), woken by enqueues and a
// periodic sweep, so no two match attempts can claim the same players.
type Queue struct {
	mu      sync.Mutex
	entries []*entry
	byUser  map[int64]*entry

	factory MatchFactory
	logger  *logrus.Logger
	kick    chan struct{}

	WindowWpm     float64
	MaxGroupSize  int
	SweepInterval time.Duration

	// OnMatch fires once per formed match, after the matched connections have
	// been notified; wired to the lobby's created event.
	OnMatch func(raceID int64, players []Player)
}

// NewQueue builds a queue over the given persistence port. A nil factory
// disables match formation (entries still queue and cancel normally).
func NewQueue(factory MatchFactory, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	return &Queue{
		byUser:        make(map[int64]*entry),
		factory:       factory,
		logger:        logger,
		kick:          make(chan struct{}, 1),
		WindowWpm:     DefaultWindowWpm,
		MaxGroupSize:  DefaultMaxGroupSize,
		SweepInterval: DefaultSweepInterval,
	}
}

// Run is the matchmaking worker loop. It blocks until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.kick:
		case <-ticker.C:
		}
		q.tryMatch(ctx)
	}
}

// Join enqueues a player. A duplicate enqueue for an active entry yields a
// single error frame to the requester; otherwise the requester gets a queued
// status carrying its looked-up average and the current queue size.
func (q *Queue) Join(ctx context.Context, c *ws.Client, userID int64, userName string) {
	q.mu.Lock()
	if _, ok := q.byUser[userID]; ok {
		q.mu.Unlock()
		c.SendError("Already in matchmaking queue")
		return
	}
	q.mu.Unlock()

	avg := q.lookupAverageWpm(ctx, userID)

	q.mu.Lock()
	if _, ok := q.byUser[userID]; ok {
		// Raced with another enqueue for the same user while we were at the
		// persistence port.
		q.mu.Unlock()
		c.SendError("Already in matchmaking queue")
		return
	}
	e := &entry{
		Player:   Player{UserID: userID, UserName: userName, AverageWpm: avg},
		JoinedAt: time.Now().UTC(),
		client:   c,
	}
	q.entries = append(q.entries, e)
	q.byUser[userID] = e
	size := len(q.entries)
	// The entry is matchable the moment the lock drops, so the flag and the
	// queued frame must land first or a sweep could deliver matched ahead of
	// queued and strand the flag.
	c.SetInMatchmaking(true)
	c.Send(protocol.MatchmakingStatus{
		Type:       protocol.TypeMatchmakingStatus,
		Status:     protocol.MatchQueued,
		AverageWpm: &avg,
		QueueSize:  &size,
	})
	q.mu.Unlock()

	q.logger.Infof("matchmaking: user %d queued at %.1f wpm (%d waiting)", userID, avg, size)
	q.wake()
}

// Leave removes a player's entry. Explicit leaves get a cancelled status;
// disconnect-driven removal is silent.
func (q *Queue) Leave(userID int64, explicit bool) {
	q.mu.Lock()
	e, ok := q.byUser[userID]
	if ok {
		q.removeUnsafe(e)
	}
	q.mu.Unlock()
	if !ok {
		return
	}

	e.client.SetInMatchmaking(false)
	if explicit {
		e.client.Send(protocol.MatchmakingStatus{
			Type:   protocol.TypeMatchmakingStatus,
			Status: protocol.MatchCancelled,
		})
	}
	q.logger.Infof("matchmaking: user %d left queue", userID)
}

// Len returns the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// tryMatch forms as many groups as the current queue supports. Factory calls
// happen outside the queue lock; entries that leave mid-flight simply miss
// the matched frame.
func (q *Queue) tryMatch(ctx context.Context) {
	if q.factory == nil {
		return
	}
	for {
		group := q.selectGroup()
		if group == nil {
			return
		}

		mean := 0.0
		for _, e := range group {
			mean += e.AverageWpm
		}
		mean /= float64(len(group))

		categoryID, err := q.factory.PickMatchCategory(ctx, mean)
		if err != nil {
			q.logger.Errorf("matchmaking: category lookup failed: %v", err)
			return
		}
		if categoryID == nil {
			q.logger.Debugf("matchmaking: no category for %.1f wpm band, group stays queued", mean)
			return
		}

		players := make([]Player, len(group))
		for i, e := range group {
			players[i] = e.Player
		}
		raceID, err := q.factory.CreateMatchedRace(ctx, players, categoryID)
		if err != nil {
			q.logger.Errorf("matchmaking: race creation failed: %v", err)
			return
		}

		q.commitMatch(raceID, group, players)
	}
}

// selectGroup picks the first FIFO anchor whose skill window covers at least
// MinGroupSize waiting players, oldest first, capped at MaxGroupSize.
func (q *Queue) selectGroup() []*entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) < MinGroupSize {
		return nil
	}
	for _, anchor := range q.entries {
		group := make([]*entry, 0, q.MaxGroupSize)
		for _, e := range q.entries {
			if math.Abs(e.AverageWpm-anchor.AverageWpm) <= q.WindowWpm {
				group = append(group, e)
				if len(group) == q.MaxGroupSize {
					break
				}
			}
		}
		if len(group) >= MinGroupSize {
			return group
		}
	}
	return nil
}

// commitMatch removes the matched entries from the queue and notifies every
// still-present connection exactly once.
func (q *Queue) commitMatch(raceID int64, group []*entry, players []Player) {
	q.mu.Lock()
	notify := make([]*ws.Client, 0, len(group))
	for _, e := range group {
		if cur, ok := q.byUser[e.UserID]; ok && cur == e {
			q.removeUnsafe(e)
			notify = append(notify, e.client)
		}
	}
	q.mu.Unlock()

	for _, c := range notify {
		c.SetInMatchmaking(false)
		rid := raceID
		c.Send(protocol.MatchmakingStatus{
			Type:    protocol.TypeMatchmakingStatus,
			Status:  protocol.MatchMatched,
			RaceID:  &rid,
			Players: matchedPlayers(players),
		})
	}
	q.logger.Infof("matchmaking: matched %d players into race %d", len(players), raceID)
	if q.OnMatch != nil {
		q.OnMatch(raceID, players)
	}
}

// removeUnsafe drops an entry from both indexes. Assumes the lock is held.
func (q *Queue) removeUnsafe(e *entry) {
	delete(q.byUser, e.UserID)
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
}

// lookupAverageWpm consults the persistence port, falling back to a neutral
// default when the port is absent or failing.
func (q *Queue) lookupAverageWpm(ctx context.Context, userID int64) float64 {
	if q.factory == nil {
		return DefaultAverageWpm
	}
	avg, err := q.factory.GetPlayerAverageWpm(ctx, userID)
	if err != nil {
		q.logger.Warnf("matchmaking: average wpm lookup failed for user %d: %v", userID, err)
		return DefaultAverageWpm
	}
	return avg
}

func (q *Queue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func matchedPlayers(players []Player) []protocol.MatchedPlayer {
	out := make([]protocol.MatchedPlayer, len(players))
	for i, p := range players {
		out[i] = protocol.MatchedPlayer{UserID: p.UserID, UserName: p.UserName}
	}
	return out
}
