// internal/database/match.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/racewire/racewire/internal/matchmaking"
)

// MatchStore implements the matchmaking persistence port on top of the shared
// pgx pool.
type MatchStore struct{}

var _ matchmaking.MatchFactory = MatchStore{}

// GetPlayerAverageWpm averages the player's recent completed race results. A
// player with no history gets a neutral baseline so new accounts can still be
// grouped.
func (MatchStore) GetPlayerAverageWpm(ctx context.Context, userID int64) (float64, error) {
	q := `
		SELECT COALESCE(AVG(wpm), 40)
		FROM race_results
		WHERE user_id = $1
		  AND completed_at > NOW() - INTERVAL '30 days'
	`
	var avg float64
	if err := DB.QueryRow(ctx, q, userID).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average wpm for user %d: %w", userID, err)
	}
	return avg, nil
}

// PickMatchCategory chooses a challenge category whose difficulty band covers
// the group's mean WPM. Returns nil with no error when no category fits.
func (MatchStore) PickMatchCategory(ctx context.Context, groupAvgWpm float64) (*int64, error) {
	q := `
		SELECT id
		FROM challenge_categories
		WHERE min_wpm <= $1 AND max_wpm >= $1
		ORDER BY random()
		LIMIT 1
	`
	var id int64
	err := DB.QueryRow(ctx, q, groupAvgWpm).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick category for %.1f wpm: %w", groupAvgWpm, err)
	}
	return &id, nil
}

// CreateMatchedRace persists the new race row plus one participant row per
// matched player in a single transaction, and returns the race id.
func (MatchStore) CreateMatchedRace(ctx context.Context, players []matchmaking.Player, categoryID *int64) (int64, error) {
	var raceID int64
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		insertRace := `
			INSERT INTO races (status, category_id, is_matched, created_at)
			VALUES ('waiting', $1, TRUE, NOW())
			RETURNING id
		`
		if e := tx.QueryRow(ctx, insertRace, categoryID).Scan(&raceID); e != nil {
			return e
		}
		insertParticipant := `
			INSERT INTO race_participants (race_id, user_id, user_name, seeded_wpm)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (race_id, user_id) DO NOTHING
		`
		for _, p := range players {
			if _, e := tx.Exec(ctx, insertParticipant, raceID, p.UserID, p.UserName, p.AverageWpm); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("create matched race: %w", err)
	}
	return raceID, nil
}
