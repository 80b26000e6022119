package rating

import (
	"math"

	"tle_judge/internal/domain/model"
)

const DefaultKFactor = 32.0

// ExpectedScore is the Elo win expectancy of a player rated self against opp.
// Formula: 1 / (1 + 10^((opp - self) / 400))
func ExpectedScore(self, opp int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opp-self)/400.0))
}

// ActualScore codes a result as 1, 0 or 0.5.
func ActualScore(r model.MatchResult) float64 {
	switch r {
	case model.ResultWin:
		return 1
	case model.ResultLoss:
		return 0
	}
	return 0.5
}

// Opposite returns the result from the opponent's perspective.
func Opposite(r model.MatchResult) model.MatchResult {
	switch r {
	case model.ResultWin:
		return model.ResultLoss
	case model.ResultLoss:
		return model.ResultWin
	}
	return model.ResultDraw
}

// Change is one player's side of a rating update.
type Change struct {
	UserID string
	Before int
	After  int
	Delta  int
	Result model.MatchResult
}

// Engine applies fixed-K Elo updates.
type Engine struct {
	K float64
}

func NewEngine(k float64) Engine {
	if k <= 0 {
		k = DefaultKFactor
	}
	return Engine{K: k}
}

// Compute returns both players' updates for a battle. winnerID is nil for a draw.
func (e Engine) Compute(p1, p2 *model.User, winnerID *string) (Change, Change) {
	r1 := model.ResultDraw
	if winnerID != nil {
		if *winnerID == p1.ID {
			r1 = model.ResultWin
		} else {
			r1 = model.ResultLoss
		}
	}
	return e.side(p1, p2.Rating, r1), e.side(p2, p1.Rating, Opposite(r1))
}

// side rounds the Elo delta. A decisive result always moves the winner up and
// the loser down by at least one point.
func (e Engine) side(u *model.User, opp int, r model.MatchResult) Change {
	delta := int(math.Round(e.K * (ActualScore(r) - ExpectedScore(u.Rating, opp))))
	switch {
	case r == model.ResultWin && delta < 1:
		delta = 1
	case r == model.ResultLoss && delta > -1:
		delta = -1
	}
	return Change{UserID: u.ID, Before: u.Rating, After: u.Rating + delta, Delta: delta, Result: r}
}
