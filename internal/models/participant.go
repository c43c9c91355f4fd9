// internal/models/participant.go
package models

import "time"

// Participant is one racer's authoritative state inside a race room.
//
// Wpm, Accuracy, FinishedAt and Rank stay null until the racer finishes; they
// are then all set in the same mutation. Rank is the 1-based finish order,
// assigned in the order finish messages reach the server.
type Participant struct {
	UserID                int64      `json:"userId"`
	UserName              string     `json:"userName"`
	CurrentChallengeIndex int        `json:"currentChallengeIndex"`
	Progress              float64    `json:"progress"`
	CurrentWpm            float64    `json:"currentWpm"`
	Wpm                   *float64   `json:"wpm"`
	Accuracy              *float64   `json:"accuracy"`
	FinishedAt            *time.Time `json:"finishedAt"`
	Rank                  *int       `json:"rank"`
}

// Finished reports whether this participant has a recorded finish.
func (p *Participant) Finished() bool {
	return p.FinishedAt != nil
}
