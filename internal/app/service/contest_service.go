package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
	"tle_judge/internal/domain/repository"
)

type ContestService struct {
	tx       repository.Transactor
	contests repository.ContestRepository
	problems repository.ProblemRepository
	users    repository.UserRepository
	log      *zap.Logger
	now      func() time.Time
}

func NewContestService(
	tx repository.Transactor,
	contests repository.ContestRepository,
	problems repository.ProblemRepository,
	users repository.UserRepository,
	log *zap.Logger,
) *ContestService {
	return &ContestService{
		tx:       tx,
		contests: contests,
		problems: problems,
		users:    users,
		log:      log.Named("contests"),
		now:      time.Now,
	}
}

type CreateContestRequest struct {
	Title      string    `json:"title"`
	Division   string    `json:"division"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Publish    bool      `json:"publish"`
	ProblemIDs []string  `json:"problem_ids"`
}

func (s *ContestService) CreateContest(ctx context.Context, req CreateContestRequest) (*model.Contest, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, common.Errorf("title is required: %w", common.ErrValidation)
	}
	division, err := model.ParseDivision(req.Division)
	if err != nil {
		return nil, common.Errorf("%v: %w", err, common.ErrValidation)
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, common.Errorf("ends_at must be after starts_at: %w", common.ErrValidation)
	}
	if len(req.ProblemIDs) != model.ContestProblemCount {
		return nil, common.Errorf("a contest needs exactly %d problems: %w", model.ContestProblemCount, common.ErrValidation)
	}
	seen := map[string]bool{}
	for _, id := range req.ProblemIDs {
		if seen[id] {
			return nil, common.Errorf("problem %s listed twice: %w", id, common.ErrValidation)
		}
		seen[id] = true
	}

	contest := &model.Contest{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(req.Title),
		Slug:        slug.Make(req.Title),
		Division:    division,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		IsPublished: req.Publish,
		ProblemIDs:  req.ProblemIDs,
		CreatedAt:   s.now(),
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, id := range req.ProblemIDs {
			p, err := s.problems.FindProblemByID(ctx, tx, id)
			if err != nil {
				return common.Errorf("problem %s: %w", id, err)
			}
			if p.Status != model.StatusPublished {
				return common.Errorf("problem %s is not published: %w", id, common.ErrValidation)
			}
		}
		return s.contests.CreateContest(ctx, tx, contest)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("contest created", zap.String("contest_id", contest.ID), zap.String("division", string(division)))
	return contest, nil
}

// GetActiveContest returns the active contest for the caller's division.
func (s *ContestService) GetActiveContest(ctx context.Context, userID string) (*model.Contest, error) {
	user, err := s.users.FindByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	return s.contests.FindActiveContest(ctx, user.Division, s.now())
}

// RegisterParticipant opts the user into a contest. Registering twice is a no-op.
func (s *ContestService) RegisterParticipant(ctx context.Context, contestID, userID string) error {
	contest, err := s.contests.FindContestByID(ctx, contestID)
	if err != nil {
		return err
	}
	if !contest.IsPublished {
		return common.ErrNotFound
	}
	if !s.now().Before(contest.EndsAt) {
		return common.StateConflict("contest", "closed", "contest has ended")
	}
	user, err := s.users.FindByID(ctx, nil, userID)
	if err != nil {
		return err
	}
	if user.Division != contest.Division {
		return common.Errorf("contest is for the %s division: %w", contest.Division, common.ErrForbidden)
	}
	added, err := s.contests.AddParticipant(ctx, contestID, userID, s.now())
	if err != nil {
		return err
	}
	if added {
		s.log.Info("contest participant registered", zap.String("contest_id", contestID), zap.String("user_id", userID))
	}
	return nil
}
