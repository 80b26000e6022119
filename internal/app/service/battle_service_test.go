package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
	"tle_judge/internal/platform/sandbox"
)

func startBattle(t *testing.T, env *testEnv, p1, p2 string) *model.DuelBattle {
	t.Helper()
	if _, err := env.store.FindProblemByID(context.Background(), nil, "duel-p"); err != nil {
		env.seedProblem("duel-p", model.DivisionBronze)
	}
	return startBattleOn(t, env, p1, p2, "duel-p")
}

func startBattleOn(t *testing.T, env *testEnv, p1, p2, problemID string) *model.DuelBattle {
	t.Helper()
	for _, id := range []string{p1, p2} {
		if _, err := env.store.FindByID(context.Background(), nil, id); err != nil {
			env.store.addUser(model.User{ID: id, Username: id, Email: id + "@school.test"})
		}
	}
	b := &model.DuelBattle{
		ID:          uuid.NewString(),
		Player1ID:   p1,
		Player2ID:   p2,
		ProblemID:   problemID,
		Status:      model.BattleRunning,
		StartedAt:   env.clock.Now(),
		DurationSec: 600,
	}
	require.NoError(t, env.store.CreateBattle(context.Background(), nil, b))
	return b
}

// partialSandbox passes a case when the code mentions its input, so the
// code "12" passes cases "1" and "2".
func partialSandbox() sandboxFunc {
	return func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
		if strings.Contains(req.Code, req.Stdin) {
			return &sandbox.Result{Stdout: req.Stdin}, nil
		}
		return &sandbox.Result{Stdout: "?"}, nil
	}
}

func seedPartialProblem(env *testEnv, id string) {
	env.store.addProblem(model.Problem{ID: id, Checker: model.CheckerExact},
		model.TestCase{ID: id + "-1", Input: "1", ExpectedOutput: "1", IsHidden: true, ScoreWeight: 40, GroupName: "g1"},
		model.TestCase{ID: id + "-2", Input: "2", ExpectedOutput: "2", IsHidden: true, ScoreWeight: 20, GroupName: "g2"},
		model.TestCase{ID: id + "-3", Input: "3", ExpectedOutput: "3", IsHidden: true, ScoreWeight: 40, GroupName: "g3"},
	)
}

func battleSubmit(t *testing.T, env *testEnv, battleID, userID, code string) *model.Submission {
	t.Helper()
	sub, err := env.battles.SubmitInBattle(context.Background(), battleID, userID, BattleSubmitRequest{Language: "python", Code: code})
	require.NoError(t, err)
	return sub
}

func TestFinalizeHigherScoreWinsAtDeadline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, partialSandbox())
	seedPartialProblem(env, "partial")
	b := startBattleOn(t, env, "alice", "bob", "partial")

	battleSubmit(t, env, b.ID, "alice", "12")
	battleSubmit(t, env, b.ID, "bob", "1")
	_, err := env.grading.Drain(ctx, 10)
	require.NoError(t, err)

	got, err := env.battles.FinalizeIfNeeded(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BattleRunning, got.Status, "no acceptance before the deadline")

	env.clock.Advance(600 * time.Second)
	got, err = env.battles.FinalizeIfNeeded(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BattleFinished, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, "alice", *got.WinnerID)

	alice, bob := env.store.user("alice"), env.store.user("bob")
	assert.Equal(t, 1516, alice.Rating)
	assert.Equal(t, 1484, bob.Rating)
	assert.Equal(t, 1, alice.Wins)
	assert.Equal(t, 1, bob.Losses)
}

func TestFinalizeEarliestAcceptanceWins(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	b := startBattle(t, env, "alice", "bob")

	battleSubmit(t, env, b.ID, "bob", "print(a+b)")
	battleSubmit(t, env, b.ID, "alice", "print(a+b)")
	_, err := env.grading.Drain(ctx, 10)
	require.NoError(t, err)

	got, err := env.battles.FinalizeIfNeeded(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BattleFinished, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, "bob", *got.WinnerID)
}

func TestFinalizeWaitsForEarlierPendingSubmission(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	b := startBattle(t, env, "alice", "bob")

	bobSub := battleSubmit(t, env, b.ID, "bob", "print(a+b)")
	battleSubmit(t, env, b.ID, "alice", "print(a+b)")
	// Grade alice only: pop bob's id off the queue first.
	ids, err := env.queue.Pop(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{bobSub.ID}, ids)
	_, err = env.grading.Drain(ctx, 10)
	require.NoError(t, err)

	got, err := env.battles.FinalizeIfNeeded(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BattleRunning, got.Status, "bob's earlier submission may still win")

	require.NoError(t, env.grading.Enqueue(ctx, bobSub.ID))
	_, err = env.grading.Drain(ctx, 10)
	require.NoError(t, err)
	got, err = env.battles.FinalizeIfNeeded(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, "bob", *got.WinnerID)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	b := startBattle(t, env, "alice", "bob")
	env.clock.Advance(601 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := env.battles.FinalizeIfNeeded(ctx, b.ID)
			assert.NoError(t, err)
			assert.Equal(t, model.BattleFinished, got.Status)
		}()
	}
	wg.Wait()
	_, err := env.battles.FinalizeIfNeeded(ctx, b.ID)
	require.NoError(t, err)

	records := env.store.ratingRecords(b.ID)
	assert.Len(t, records, 2)
	alice := env.store.user("alice")
	assert.Equal(t, model.DefaultRating, alice.Rating, "a draw between equals changes nothing")
	assert.Equal(t, 1, alice.Draws)
	assert.Equal(t, 1, env.store.user("bob").Draws)
}

func TestFinalizeUnknownBattle(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.battles.FinalizeIfNeeded(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDecideBattle(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := &model.DuelBattle{Player1ID: "p1", Player2ID: "p2", ProblemID: "x", StartedAt: start, DurationSec: 600}
	deadline := b.Deadline()
	score := func(n int) *int { return &n }
	sub := func(user string, at time.Duration, status model.SubmissionStatus, total int) model.Submission {
		s := model.Submission{UserID: user, ProblemID: "x", Status: status, CreatedAt: start.Add(at)}
		if status.IsTerminal() {
			s.TotalScore = score(total)
		}
		return s
	}
	p1, p2 := "p1", "p2"

	tests := []struct {
		name    string
		subs    []model.Submission
		now     time.Time
		decided bool
		winner  *string
	}{
		{
			name: "running with no acceptance",
			subs: []model.Submission{sub("p1", time.Minute, model.StatusWrongAnswer, 60)},
			now:  start.Add(5 * time.Minute),
		},
		{
			name:    "acceptance decides early",
			subs:    []model.Submission{sub("p2", time.Minute, model.StatusAccepted, 100)},
			now:     start.Add(2 * time.Minute),
			decided: true,
			winner:  &p2,
		},
		{
			name: "earliest of two acceptances",
			subs: []model.Submission{
				sub("p1", 3*time.Minute, model.StatusAccepted, 100),
				sub("p2", 2*time.Minute, model.StatusAccepted, 100),
			},
			now:     start.Add(4 * time.Minute),
			decided: true,
			winner:  &p2,
		},
		{
			name: "score decides at deadline",
			subs: []model.Submission{
				sub("p1", time.Minute, model.StatusWrongAnswer, 60),
				sub("p2", time.Minute, model.StatusWrongAnswer, 40),
			},
			now:     deadline,
			decided: true,
			winner:  &p1,
		},
		{
			name:    "equal scores draw",
			subs:    []model.Submission{sub("p1", time.Minute, model.StatusWrongAnswer, 40), sub("p2", time.Minute, model.StatusWrongAnswer, 40)},
			now:     deadline,
			decided: true,
		},
		{
			name:    "late submission ignored",
			subs:    []model.Submission{sub("p2", 11*time.Minute, model.StatusAccepted, 100)},
			now:     deadline.Add(time.Minute),
			decided: true,
		},
		{
			name: "pending before deadline holds the battle",
			subs: []model.Submission{sub("p1", 9*time.Minute, model.StatusPending, 0), sub("p2", time.Minute, model.StatusWrongAnswer, 40)},
			now:  deadline.Add(10 * time.Second),
		},
		{
			name:    "grace expiry ignores pending",
			subs:    []model.Submission{sub("p1", 9*time.Minute, model.StatusRunning, 0), sub("p2", time.Minute, model.StatusWrongAnswer, 40)},
			now:     deadline.Add(31 * time.Second),
			decided: true,
			winner:  &p2,
		},
		{
			name: "pending after the acceptance does not hold",
			subs: []model.Submission{
				sub("p1", 2*time.Minute, model.StatusAccepted, 100),
				sub("p2", 3*time.Minute, model.StatusPending, 0),
			},
			now:     start.Add(4 * time.Minute),
			decided: true,
			winner:  &p1,
		},
		{
			name: "other problem ignored",
			subs: []model.Submission{{UserID: "p1", ProblemID: "y", Status: model.StatusAccepted, CreatedAt: start, TotalScore: score(100)}},
			now:  start.Add(time.Minute),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decideBattle(b, tt.subs, tt.now, 30*time.Second)
			assert.Equal(t, tt.decided, got.Decided)
			assert.Equal(t, tt.winner, got.WinnerID)
		})
	}
}

func TestSubmitInBattleRules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	b := startBattle(t, env, "alice", "bob")

	sub := battleSubmit(t, env, b.ID, "alice", "print(1)")
	assert.Equal(t, model.OriginDuel, sub.Origin.Kind)
	assert.Equal(t, b.ID, *sub.Origin.BattleID)
	assert.Equal(t, model.VisibilityPrivate, sub.Visibility)
	assert.True(t, sub.Detail.Meta.HiddenFromStatus)
	assert.Equal(t, "duel-p", sub.ProblemID)
	_, err := env.grading.Drain(ctx, 10)
	require.NoError(t, err)

	_, err = env.battles.SubmitInBattle(ctx, b.ID, "eve", BattleSubmitRequest{Language: "python", Code: "print(1)"})
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = env.battles.SubmitInBattle(ctx, b.ID, "alice", BattleSubmitRequest{Language: "cobol", Code: "x"})
	assert.ErrorIs(t, err, common.ErrValidation)

	env.clock.Advance(600 * time.Second)
	_, err = env.battles.SubmitInBattle(ctx, b.ID, "alice", BattleSubmitRequest{Language: "python", Code: "print(1)"})
	require.ErrorIs(t, err, common.ErrConflict)

	_, err = env.battles.FinalizeIfNeeded(ctx, b.ID)
	require.NoError(t, err)
	_, err = env.battles.SubmitInBattle(ctx, b.ID, "alice", BattleSubmitRequest{Language: "python", Code: "print(1)"})
	require.ErrorIs(t, err, common.ErrConflict)
	state, ok := common.ConflictState(err)
	require.True(t, ok)
	assert.Equal(t, string(model.BattleFinished), state)
}

func TestBattleDrafts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	b := startBattle(t, env, "alice", "bob")

	_, err := env.battles.GetDraft(ctx, b.ID, "alice")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = env.battles.SaveDraft(ctx, b.ID, "alice", SaveDraftRequest{Language: "python", Code: "x = 1"})
	require.NoError(t, err)
	_, err = env.battles.SaveDraft(ctx, b.ID, "alice", SaveDraftRequest{Language: "cpp", Code: "int main(){}"})
	require.NoError(t, err)

	d, err := env.battles.GetDraft(ctx, b.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "cpp", d.Language)
	assert.Equal(t, "int main(){}", d.Code)

	_, err = env.battles.GetDraft(ctx, b.ID, "eve")
	assert.ErrorIs(t, err, common.ErrForbidden)
	_, err = env.battles.SaveDraft(ctx, b.ID, "alice", SaveDraftRequest{Language: "cobol", Code: "x"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestGetBattleState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.battles.opts.DrainOnRead = true
	b := startBattle(t, env, "alice", "bob")
	env.clock.Advance(100 * time.Second)

	state, err := env.battles.GetBattleState(ctx, b.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.BattleRunning, state.Battle.Status)
	assert.Equal(t, 500, state.RemainingSec)
	assert.Len(t, state.Players, 2)
	assert.Empty(t, state.Ratings)
	assert.Equal(t, "bob", state.OpponentID)

	_, err = env.battles.GetBattleState(ctx, b.ID, "eve")
	assert.ErrorIs(t, err, common.ErrForbidden)

	battleSubmit(t, env, b.ID, "bob", "print(a+b)")
	state, err = env.battles.GetBattleState(ctx, b.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.BattleFinished, state.Battle.Status)
	require.NotNil(t, state.Battle.WinnerID)
	assert.Equal(t, "bob", *state.Battle.WinnerID)
	assert.Len(t, state.Ratings, 2)

	bobView, err := env.battles.GetBattleState(ctx, b.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", bobView.OpponentID)
	assert.Equal(t, 1, state.Players[1].Submissions)
	assert.Equal(t, 100, state.Players[1].BestScore)
	assert.NotNil(t, state.Players[1].AcceptedAt)
}

func TestSweepDueBattles(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	old := startBattle(t, env, "alice", "bob")
	env.clock.Advance(400 * time.Second)
	fresh := startBattle(t, env, "carol", "dave")
	env.clock.Advance(300 * time.Second)

	n, err := env.battles.SweepDueBattles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.store.GetBattle(ctx, nil, old.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.BattleFinished, got.Status)
	got, err = env.store.GetBattle(ctx, nil, fresh.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.BattleRunning, got.Status)

	n, err = env.battles.SweepDueBattles(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
