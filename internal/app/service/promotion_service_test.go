package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
)

// seedContest creates an open Bronze contest over three A+B problems.
func seedContest(t *testing.T, env *testEnv) *model.Contest {
	t.Helper()
	for _, id := range []string{"c1", "c2", "c3"} {
		env.seedProblem(id, model.DivisionBronze)
	}
	now := env.clock.Now()
	c, err := env.contests.CreateContest(context.Background(), CreateContestRequest{
		Title:      "Bronze Ladder",
		Division:   "bronze",
		StartsAt:   now.Add(-time.Hour),
		EndsAt:     now.Add(2 * time.Hour),
		Publish:    true,
		ProblemIDs: []string{"c1", "c2", "c3"},
	})
	require.NoError(t, err)
	return c
}

func solveContest(t *testing.T, env *testEnv, contestID, userID string, problemIDs ...string) {
	t.Helper()
	for _, pid := range problemIDs {
		_, err := env.submissions.CreateSubmission(context.Background(), userID, CreateSubmissionRequest{
			ProblemID: pid,
			Language:  "python",
			Code:      "print(sum(map(int, input().split())))",
			ContestID: contestID,
		})
		require.NoError(t, err)
	}
	_, err := env.grading.Drain(context.Background(), 10)
	require.NoError(t, err)
}

func TestCheckEligibilityReasonOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("no active contest", func(t *testing.T) {
		env := newTestEnv(t, nil)
		seedPlayers(env, model.DivisionBronze, "alice")
		el, err := env.promotion.CheckEligibility(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, el.Eligible)
		assert.Equal(t, ReasonNoActiveContest, el.Reason)
		assert.Nil(t, el.ContestID)
	})

	t.Run("not a participant", func(t *testing.T) {
		env := newTestEnv(t, nil)
		seedPlayers(env, model.DivisionBronze, "alice")
		c := seedContest(t, env)
		el, err := env.promotion.CheckEligibility(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, ReasonNotParticipant, el.Reason)
		assert.Equal(t, c.ID, *el.ContestID)
	})

	t.Run("contest has no problems", func(t *testing.T) {
		env := newTestEnv(t, nil)
		seedPlayers(env, model.DivisionBronze, "alice")
		now := env.clock.Now()
		require.NoError(t, env.store.CreateContest(ctx, nil, &model.Contest{
			ID: "empty", Division: model.DivisionBronze, IsPublished: true,
			StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour),
		}))
		_, err := env.store.AddParticipant(ctx, "empty", "alice", now)
		require.NoError(t, err)

		el, err := env.promotion.CheckEligibility(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, ReasonNoProblems, el.Reason)
	})

	t.Run("incomplete scores", func(t *testing.T) {
		env := newTestEnv(t, nil)
		seedPlayers(env, model.DivisionBronze, "alice")
		c := seedContest(t, env)
		require.NoError(t, env.contests.RegisterParticipant(ctx, c.ID, "alice"))
		solveContest(t, env, c.ID, "alice", "c1", "c2")

		el, err := env.promotion.CheckEligibility(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, el.Eligible)
		assert.Equal(t, ReasonIncompleteScores, el.Reason)
		require.Len(t, el.Problems, 3)
		assert.True(t, el.Problems[0].Solved)
		assert.True(t, el.Problems[1].Solved)
		assert.False(t, el.Problems[2].Solved)
	})
}

func TestCheckEligibilityLatestSubmissionCounts(t *testing.T) {
	ctx := context.Background()
	wrong := map[string]bool{}
	env := newTestEnv(t, aPlusBSandboxFunc(func(stdin string) bool { return wrong[stdin] }))
	seedPlayers(env, model.DivisionBronze, "alice")
	c := seedContest(t, env)
	require.NoError(t, env.contests.RegisterParticipant(ctx, c.ID, "alice"))
	solveContest(t, env, c.ID, "alice", "c1", "c2", "c3")

	// A later wrong answer on c3 replaces the accepted one.
	wrong["9 8"] = true
	solveContest(t, env, c.ID, "alice", "c3")

	el, err := env.promotion.CheckEligibility(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ReasonIncompleteScores, el.Reason)
	assert.Equal(t, model.StatusWrongAnswer, el.Problems[2].Status)
}

func TestPromoteBronzeToSilverOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	seedPlayers(env, model.DivisionBronze, "alice")
	c := seedContest(t, env)
	require.NoError(t, env.contests.RegisterParticipant(ctx, c.ID, "alice"))
	solveContest(t, env, c.ID, "alice", "c1", "c2", "c3")

	el, err := env.promotion.CheckEligibility(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, el.Eligible)
	assert.True(t, el.CanPromote)
	assert.Empty(t, el.Reason)

	var (
		wg       sync.WaitGroup
		promoted atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.promotion.Promote(ctx, "alice")
			assert.NoError(t, err)
			if res != nil && res.Promoted {
				promoted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), promoted.Load())
	assert.Equal(t, model.DivisionSilver, env.store.user("alice").Division)

	res, err := env.promotion.Promote(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Promoted)
	assert.Equal(t, model.DivisionSilver, res.Division)
	assert.Equal(t, ReasonNoActiveContest, res.Eligibility.Reason)
}

func TestPromoteAfterDeadline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	seedPlayers(env, model.DivisionBronze, "alice")
	c := seedContest(t, env)
	require.NoError(t, env.contests.RegisterParticipant(ctx, c.ID, "alice"))
	solveContest(t, env, c.ID, "alice", "c1", "c2", "c3")

	cutoff := env.clock.Now().Add(-time.Minute)
	env.promotion.deadline = &cutoff

	res, err := env.promotion.Promote(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Promoted)
	assert.True(t, res.Eligibility.Eligible)
	assert.True(t, res.Eligibility.DeadlinePassed)
	assert.Equal(t, ReasonDeadlinePassed, res.Eligibility.Reason)
	assert.Equal(t, cutoff, *res.Eligibility.Deadline)
	assert.Equal(t, model.DivisionBronze, env.store.user("alice").Division)
}

func TestContestSubmissionRules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	seedPlayers(env, model.DivisionBronze, "alice")
	seedPlayers(env, model.DivisionSilver, "sam")
	c := seedContest(t, env)
	env.seedProblem("outside", model.DivisionBronze)

	req := CreateSubmissionRequest{ProblemID: "c1", Language: "python", Code: "print(3)", ContestID: c.ID}
	_, err := env.submissions.CreateSubmission(ctx, "alice", req)
	assert.ErrorIs(t, err, common.ErrForbidden, "not registered yet")

	assert.ErrorIs(t, env.contests.RegisterParticipant(ctx, c.ID, "sam"), common.ErrForbidden)
	require.NoError(t, env.contests.RegisterParticipant(ctx, c.ID, "alice"))
	require.NoError(t, env.contests.RegisterParticipant(ctx, c.ID, "alice"))

	sub, err := env.submissions.CreateSubmission(ctx, "alice", req)
	require.NoError(t, err)
	assert.Equal(t, model.OriginContest, sub.Origin.Kind)
	assert.Equal(t, model.VisibilityPrivate, sub.Visibility)

	outside := req
	outside.ProblemID = "outside"
	_, err = env.submissions.CreateSubmission(ctx, "alice", outside)
	assert.ErrorIs(t, err, common.ErrValidation)

	env.clock.Advance(3 * time.Hour)
	_, err = env.submissions.CreateSubmission(ctx, "alice", req)
	require.ErrorIs(t, err, common.ErrConflict)
	state, _ := common.ConflictState(err)
	assert.Equal(t, "closed", state)
}

func TestCreateContestValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.seedProblem("a", model.DivisionBronze)
	env.seedProblem("b", model.DivisionBronze)
	env.store.addProblem(model.Problem{ID: "hidden", Status: model.StatusDraft})
	now := env.clock.Now()

	base := CreateContestRequest{Title: "Ladder", Division: "Bronze", StartsAt: now, EndsAt: now.Add(time.Hour)}
	tests := []struct {
		name     string
		mutate   func(r *CreateContestRequest)
		problems []string
		want     error
	}{
		{"two problems", nil, []string{"a", "b"}, common.ErrValidation},
		{"duplicate problem", nil, []string{"a", "a", "b"}, common.ErrValidation},
		{"draft problem", nil, []string{"a", "b", "hidden"}, common.ErrValidation},
		{"unknown problem", nil, []string{"a", "b", "zzz"}, common.ErrNotFound},
		{"bad division", func(r *CreateContestRequest) { r.Division = "Diamond" }, []string{"a", "b", "c"}, common.ErrValidation},
		{"inverted window", func(r *CreateContestRequest) { r.EndsAt = now.Add(-time.Hour) }, []string{"a", "b", "c"}, common.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			req.ProblemIDs = tt.problems
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			_, err := env.contests.CreateContest(ctx, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
