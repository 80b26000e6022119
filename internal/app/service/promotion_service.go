package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
	"tle_judge/internal/domain/repository"
	"tle_judge/internal/platform/metrics"
)

// Ineligibility reasons, reported for the first unmet condition in this order.
const (
	ReasonNoActiveContest  = "no active contest"
	ReasonNotParticipant   = "not a participant"
	ReasonNoProblems       = "contest has no problems"
	ReasonIncompleteScores = "incomplete scores"
	ReasonDeadlinePassed   = "promotion deadline passed"
	ReasonTopDivision      = "already in the top division"
)

type ProblemProgress struct {
	ProblemID string                 `json:"problem_id"`
	Status    model.SubmissionStatus `json:"status,omitempty"`
	Solved    bool                   `json:"solved"`
}

type Eligibility struct {
	Division       model.Division    `json:"division"`
	ContestID      *string           `json:"contest_id,omitempty"`
	Eligible       bool              `json:"eligible"`
	CanPromote     bool              `json:"can_promote"`
	DeadlinePassed bool              `json:"deadline_passed"`
	Deadline       *time.Time        `json:"deadline,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Problems       []ProblemProgress `json:"problems,omitempty"`
}

type PromotionResult struct {
	Division    model.Division `json:"division"`
	Promoted    bool           `json:"promoted"`
	Eligibility *Eligibility   `json:"eligibility"`
}

type PromotionService struct {
	users    repository.UserRepository
	contests repository.ContestRepository
	subs     repository.SubmissionRepository
	deadline *time.Time // Optional global cut-off
	log      *zap.Logger
	now      func() time.Time
}

func NewPromotionService(
	users repository.UserRepository,
	contests repository.ContestRepository,
	subs repository.SubmissionRepository,
	globalDeadline *time.Time,
	log *zap.Logger,
) *PromotionService {
	return &PromotionService{
		users:    users,
		contests: contests,
		subs:     subs,
		deadline: globalDeadline,
		log:      log.Named("promotion"),
		now:      time.Now,
	}
}

func (s *PromotionService) CheckEligibility(ctx context.Context, userID string) (*Eligibility, error) {
	user, err := s.users.FindByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	return s.evaluate(ctx, user)
}

func (s *PromotionService) evaluate(ctx context.Context, user *model.User) (*Eligibility, error) {
	now := s.now()
	el := &Eligibility{Division: user.Division}

	contest, err := s.contests.FindActiveContest(ctx, user.Division, now)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			el.Reason = ReasonNoActiveContest
			return el, nil
		}
		return nil, err
	}
	el.ContestID = &contest.ID

	deadline := contest.EndsAt
	if s.deadline != nil && s.deadline.Before(deadline) {
		deadline = *s.deadline
	}
	el.Deadline = &deadline

	ok, err := s.contests.IsParticipant(ctx, contest.ID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		el.Reason = ReasonNotParticipant
		return el, nil
	}
	if len(contest.ProblemIDs) == 0 {
		el.Reason = ReasonNoProblems
		return el, nil
	}

	latest, err := s.subs.LatestContestSubmissions(ctx, contest.ID, user.ID)
	if err != nil {
		return nil, err
	}
	solved := 0
	for _, pid := range contest.ProblemIDs {
		pp := ProblemProgress{ProblemID: pid}
		if sub, ok := latest[pid]; ok {
			pp.Status = sub.Status
			pp.Solved = sub.IsFullScore()
		}
		if pp.Solved {
			solved++
		}
		el.Problems = append(el.Problems, pp)
	}
	if len(contest.ProblemIDs) != model.ContestProblemCount || solved != len(contest.ProblemIDs) {
		el.Reason = ReasonIncompleteScores
		return el, nil
	}

	el.Eligible = true
	if !now.Before(deadline) {
		el.DeadlinePassed = true
		el.Reason = ReasonDeadlinePassed
		return el, nil
	}
	if _, ok := user.Division.Next(); !ok {
		el.Reason = ReasonTopDivision
		return el, nil
	}
	el.CanPromote = true
	return el, nil
}

// Promote advances the user one division when CheckEligibility allows it and
// returns the resulting division.
func (s *PromotionService) Promote(ctx context.Context, userID string) (*PromotionResult, error) {
	user, err := s.users.FindByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	el, err := s.evaluate(ctx, user)
	if err != nil {
		return nil, err
	}
	res := &PromotionResult{Division: user.Division, Eligibility: el}
	if !el.CanPromote {
		return res, nil
	}

	next, _ := user.Division.Next()
	ok, err := s.users.AdvanceDivision(ctx, nil, user.ID, user.Division, next)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else promoted the user first.
		current, err := s.users.FindByID(ctx, nil, userID)
		if err != nil {
			return nil, err
		}
		res.Division = current.Division
		return res, nil
	}

	metrics.Promotions.WithLabelValues(string(next)).Inc()
	s.log.Info("user promoted",
		zap.String("user_id", user.ID),
		zap.String("from", string(user.Division)),
		zap.String("to", string(next)))
	res.Division = next
	res.Promoted = true
	return res, nil
}
