package model

import "time"

type BattleStatus string

const (
	// Waiting players are represented by queue entries, never by a battle row.
	BattleRunning  BattleStatus = "RUNNING"
	BattleFinished BattleStatus = "FINISHED"
)

type DuelQueueEntry struct {
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type DuelBattle struct {
	ID          string       `json:"id"`
	Player1ID   string       `json:"player1_id"`
	Player2ID   string       `json:"player2_id"`
	ProblemID   string       `json:"problem_id"`
	Status      BattleStatus `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	DurationSec int          `json:"duration_sec"`
	EndedAt     *time.Time   `json:"ended_at,omitempty"`
	WinnerID    *string      `json:"winner_id"` // nil while running or on a draw
}

func (b *DuelBattle) Deadline() time.Time {
	return b.StartedAt.Add(time.Duration(b.DurationSec) * time.Second)
}

func (b *DuelBattle) HasPlayer(userID string) bool {
	return b.Player1ID == userID || b.Player2ID == userID
}

// Opponent returns the other player of the battle.
func (b *DuelBattle) Opponent(userID string) string {
	if b.Player1ID == userID {
		return b.Player2ID
	}
	return b.Player1ID
}

type DuelDraft struct {
	BattleID  string    `json:"battle_id"`
	UserID    string    `json:"user_id"`
	Language  string    `json:"language"`
	Code      string    `json:"code"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RatingRecord struct {
	BattleID     string    `json:"battle_id"`
	UserID       string    `json:"user_id"`
	RatingBefore int       `json:"rating_before"`
	RatingAfter  int       `json:"rating_after"`
	RatingChange int       `json:"rating_change"`
	CreatedAt    time.Time `json:"created_at"`
}

// MatchResult is how a finished battle counts for one player.
type MatchResult string

const (
	ResultWin  MatchResult = "win"
	ResultLoss MatchResult = "loss"
	ResultDraw MatchResult = "draw"
)
