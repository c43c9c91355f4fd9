// internal/matchmaking/queue_test.go
package matchmaking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racewire/racewire/internal/protocol"
	"github.com/racewire/racewire/internal/ws"
)

// stubFactory is a MatchFactory with pluggable behavior. Zero-value fields
// fall back to a fixed average, a category of 1, and sequential race ids.
type stubFactory struct {
	avg    func(userID int64) (float64, error)
	pick   func(groupAvg float64) (*int64, error)
	create func(players []Player, categoryID *int64) (int64, error)

	nextRaceID int64
}

func (f *stubFactory) GetPlayerAverageWpm(_ context.Context, userID int64) (float64, error) {
	if f.avg != nil {
		return f.avg(userID)
	}
	return 50, nil
}

func (f *stubFactory) PickMatchCategory(_ context.Context, groupAvg float64) (*int64, error) {
	if f.pick != nil {
		return f.pick(groupAvg)
	}
	id := int64(1)
	return &id, nil
}

func (f *stubFactory) CreateMatchedRace(_ context.Context, players []Player, categoryID *int64) (int64, error) {
	if f.create != nil {
		return f.create(players, categoryID)
	}
	f.nextRaceID++
	return f.nextRaceID, nil
}

func recvStatus(t *testing.T, c *ws.Client) protocol.MatchmakingStatus {
	t.Helper()
	select {
	case msg := <-c.Out:
		st, ok := msg.(protocol.MatchmakingStatus)
		require.True(t, ok, "expected matchmaking:status, got %T", msg)
		return st
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matchmaking:status")
		return protocol.MatchmakingStatus{}
	}
}

func recvQueueError(t *testing.T, c *ws.Client) protocol.ErrorMessage {
	t.Helper()
	select {
	case msg := <-c.Out:
		e, ok := msg.(protocol.ErrorMessage)
		require.True(t, ok, "expected error, got %T", msg)
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error frame")
		return protocol.ErrorMessage{}
	}
}

func TestJoinSendsQueuedStatus(t *testing.T) {
	f := &stubFactory{avg: func(int64) (float64, error) { return 62.5, nil }}
	q := NewQueue(f, nil)
	c := ws.NewClient(func() {})

	q.Join(context.Background(), c, 10, "Alice")

	st := recvStatus(t, c)
	assert.Equal(t, protocol.MatchQueued, st.Status)
	require.NotNil(t, st.AverageWpm)
	assert.Equal(t, 62.5, *st.AverageWpm)
	require.NotNil(t, st.QueueSize)
	assert.Equal(t, 1, *st.QueueSize)
	assert.True(t, c.InMatchmaking())
	assert.Equal(t, 1, q.Len())
}

func TestDuplicateJoinRejected(t *testing.T) {
	q := NewQueue(&stubFactory{}, nil)
	c := ws.NewClient(func() {})
	ctx := context.Background()

	q.Join(ctx, c, 10, "Alice")
	recvStatus(t, c)

	q.Join(ctx, c, 10, "Alice")

	e := recvQueueError(t, c)
	assert.Equal(t, "Already in matchmaking queue", e.Message)
	assert.Equal(t, 1, q.Len())
}

func TestAverageLookupFallsBackOnError(t *testing.T) {
	f := &stubFactory{avg: func(int64) (float64, error) { return 0, errors.New("db down") }}
	q := NewQueue(f, nil)
	c := ws.NewClient(func() {})

	q.Join(context.Background(), c, 10, "Alice")

	st := recvStatus(t, c)
	require.NotNil(t, st.AverageWpm)
	assert.Equal(t, DefaultAverageWpm, *st.AverageWpm)
}

func TestExplicitLeaveSendsCancelled(t *testing.T) {
	q := NewQueue(&stubFactory{}, nil)
	c := ws.NewClient(func() {})

	q.Join(context.Background(), c, 10, "Alice")
	recvStatus(t, c)

	q.Leave(10, true)

	st := recvStatus(t, c)
	assert.Equal(t, protocol.MatchCancelled, st.Status)
	assert.Equal(t, 0, q.Len())
	assert.False(t, c.InMatchmaking())
}

func TestDisconnectLeaveIsSilent(t *testing.T) {
	q := NewQueue(&stubFactory{}, nil)
	c := ws.NewClient(func() {})

	q.Join(context.Background(), c, 10, "Alice")
	recvStatus(t, c)

	q.Leave(10, false)

	assert.Equal(t, 0, q.Len())
	select {
	case msg := <-c.Out:
		t.Fatalf("disconnect leave should be silent, got %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}

	// Leaving again is a no-op.
	q.Leave(10, true)
	assert.Equal(t, 0, q.Len())
}

func TestMatchFormsWithinSkillWindow(t *testing.T) {
	avgs := map[int64]float64{10: 60, 20: 68}
	f := &stubFactory{avg: func(id int64) (float64, error) { return avgs[id], nil }}
	q := NewQueue(f, nil)
	ctx := context.Background()

	var matched []Player
	var matchedRace int64
	matchCount := 0
	q.OnMatch = func(raceID int64, players []Player) {
		matchCount++
		matchedRace = raceID
		matched = players
	}

	a, b := ws.NewClient(func() {}), ws.NewClient(func() {})
	q.Join(ctx, a, 10, "Alice")
	q.Join(ctx, b, 20, "Bob")
	recvStatus(t, a)
	recvStatus(t, b)

	q.tryMatch(ctx)

	require.Equal(t, 1, matchCount)
	assert.Equal(t, int64(1), matchedRace)
	require.Len(t, matched, 2)
	assert.Equal(t, 0, q.Len())

	for _, c := range []*ws.Client{a, b} {
		st := recvStatus(t, c)
		assert.Equal(t, protocol.MatchMatched, st.Status)
		require.NotNil(t, st.RaceID)
		assert.Equal(t, matchedRace, *st.RaceID)
		require.Len(t, st.Players, 2)
		assert.False(t, c.InMatchmaking())
	}

	// A second sweep has nothing left to match.
	q.tryMatch(ctx)
	assert.Equal(t, 1, matchCount)
}

func TestSkillWindowSeparatesDistantPlayers(t *testing.T) {
	avgs := map[int64]float64{10: 40, 20: 90}
	f := &stubFactory{avg: func(id int64) (float64, error) { return avgs[id], nil }}
	q := NewQueue(f, nil)
	ctx := context.Background()
	q.OnMatch = func(int64, []Player) { t.Fatal("players outside the window must not match") }

	a, b := ws.NewClient(func() {}), ws.NewClient(func() {})
	q.Join(ctx, a, 10, "Alice")
	q.Join(ctx, b, 20, "Bob")
	recvStatus(t, a)
	recvStatus(t, b)

	q.tryMatch(ctx)

	assert.Equal(t, 2, q.Len())
}

func TestGroupCapsAtMaxSize(t *testing.T) {
	f := &stubFactory{}
	q := NewQueue(f, nil)
	ctx := context.Background()

	var matched []Player
	q.OnMatch = func(_ int64, players []Player) { matched = players }

	clients := make([]*ws.Client, 5)
	for i := range clients {
		clients[i] = ws.NewClient(func() {})
		q.Join(ctx, clients[i], int64(i+1), "Player")
		recvStatus(t, clients[i])
	}

	q.tryMatch(ctx)

	require.Len(t, matched, DefaultMaxGroupSize)
	// The leftover entry needs a partner before it can race.
	assert.Equal(t, 1, q.Len())
}

func TestNilCategoryKeepsGroupQueued(t *testing.T) {
	f := &stubFactory{pick: func(float64) (*int64, error) { return nil, nil }}
	q := NewQueue(f, nil)
	ctx := context.Background()

	a, b := ws.NewClient(func() {}), ws.NewClient(func() {})
	q.Join(ctx, a, 10, "Alice")
	q.Join(ctx, b, 20, "Bob")
	recvStatus(t, a)
	recvStatus(t, b)

	q.tryMatch(ctx)

	assert.Equal(t, 2, q.Len())
	select {
	case msg := <-a.Out:
		t.Fatalf("unmatched player received frame: %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFactoryErrorKeepsGroupQueued(t *testing.T) {
	f := &stubFactory{create: func([]Player, *int64) (int64, error) { return 0, errors.New("tx failed") }}
	q := NewQueue(f, nil)
	ctx := context.Background()

	a, b := ws.NewClient(func() {}), ws.NewClient(func() {})
	q.Join(ctx, a, 10, "Alice")
	q.Join(ctx, b, 20, "Bob")
	recvStatus(t, a)
	recvStatus(t, b)

	q.tryMatch(ctx)

	assert.Equal(t, 2, q.Len())
}

func TestLeaveBeforeMatchSkipsNotification(t *testing.T) {
	f := &stubFactory{}
	q := NewQueue(f, nil)
	ctx := context.Background()

	a, b, c := ws.NewClient(func() {}), ws.NewClient(func() {}), ws.NewClient(func() {})
	q.Join(ctx, a, 10, "Alice")
	q.Join(ctx, b, 20, "Bob")
	q.Join(ctx, c, 30, "Cara")
	recvStatus(t, a)
	recvStatus(t, b)
	recvStatus(t, c)

	q.Leave(30, false)
	q.tryMatch(ctx)

	recvStatus(t, a)
	recvStatus(t, b)
	select {
	case msg := <-c.Out:
		t.Fatalf("departed player received frame: %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestQueuedAlwaysPrecedesMatched(t *testing.T) {
	f := &stubFactory{}
	q := NewQueue(f, nil)
	ctx := context.Background()

	a := ws.NewClient(func() {})
	q.Join(ctx, a, 10, "Alice")
	recvStatus(t, a)

	// Sweep aggressively while the second join is in flight; whatever the
	// interleaving, the joiner's first frame must be its queued status.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			q.tryMatch(ctx)
		}
	}()

	b := ws.NewClient(func() {})
	q.Join(ctx, b, 20, "Bob")
	<-done
	q.tryMatch(ctx)

	st := recvStatus(t, b)
	assert.Equal(t, protocol.MatchQueued, st.Status)
	st = recvStatus(t, b)
	assert.Equal(t, protocol.MatchMatched, st.Status)
	assert.False(t, b.InMatchmaking(), "matched player must not stay flagged as queued")
	assert.Equal(t, 0, q.Len())
}
