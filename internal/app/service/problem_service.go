package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
	"tle_judge/internal/domain/repository"
)

type ProblemService struct {
	tx          repository.Transactor
	problemRepo repository.ProblemRepository
	log         *zap.Logger
}

func NewProblemService(tx repository.Transactor, problemRepo repository.ProblemRepository, log *zap.Logger) *ProblemService {
	return &ProblemService{tx: tx, problemRepo: problemRepo, log: log.Named("problems")}
}

type CreateProblemRequest struct {
	Title          string            `json:"title"`
	Statement      string            `json:"statement"`
	Division       string            `json:"division"`
	TimeLimitMs    int               `json:"time_limit_ms"`
	MemoryLimitKb  int               `json:"memory_limit_kb"`
	Checker        model.CheckerKind `json:"checker"`
	FloatTolerance float64           `json:"float_tolerance"`
	Publish        bool              `json:"publish"`
	TestCases      []model.TestCase  `json:"test_cases"`
}

func (s *ProblemService) CreateProblem(ctx context.Context, userID string, req CreateProblemRequest) (*model.Problem, error) {
	if strings.TrimSpace(req.Title) == "" || len(req.TestCases) == 0 {
		return nil, common.Errorf("title and at least one test case are required: %w", common.ErrValidation)
	}
	division, err := model.ParseDivision(req.Division)
	if err != nil {
		return nil, common.Errorf("%v: %w", err, common.ErrValidation)
	}
	switch req.Checker {
	case "":
		req.Checker = model.CheckerExact
	case model.CheckerExact, model.CheckerFloat:
	default:
		return nil, common.Errorf("unknown checker %q: %w", req.Checker, common.ErrValidation)
	}
	if req.FloatTolerance < 0 {
		return nil, common.Errorf("float_tolerance must not be negative: %w", common.ErrValidation)
	}
	for i, tc := range req.TestCases {
		if tc.ScoreWeight < 0 {
			return nil, common.Errorf("test case %d has a negative weight: %w", i+1, common.ErrValidation)
		}
	}

	problem := &model.Problem{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(req.Title),
		Slug:           slug.Make(req.Title),
		Statement:      req.Statement,
		Division:       division,
		Status:         model.StatusDraft,
		TimeLimitMs:    req.TimeLimitMs,
		MemoryLimitKb:  req.MemoryLimitKb,
		Checker:        req.Checker,
		FloatTolerance: req.FloatTolerance,
		CreatedByID:    &userID,
	}
	if req.Publish {
		problem.Status = model.StatusPublished
	}
	if problem.TimeLimitMs <= 0 {
		problem.TimeLimitMs = 2000
	}
	if problem.MemoryLimitKb <= 0 {
		problem.MemoryLimitKb = 256 * 1024
	}

	cases := make([]model.TestCase, len(req.TestCases))
	for i, tc := range req.TestCases {
		if tc.ID == "" {
			tc.ID = uuid.NewString()
		}
		tc.ProblemID = problem.ID
		tc.SortOrder = i
		cases[i] = tc
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.problemRepo.CreateProblem(ctx, tx, problem); err != nil {
			return err
		}
		return s.problemRepo.AddTestCasesToProblem(ctx, tx, problem.ID, cases)
	})
	if err != nil {
		return nil, common.Errorf("failed to create problem: %w", err)
	}
	s.log.Info("problem created", zap.String("problem_id", problem.ID), zap.String("slug", problem.Slug), zap.Int("test_cases", len(cases)))

	problem.TestCases = cases
	return problem, nil
}

func (s *ProblemService) PublishProblem(ctx context.Context, problemID string) error {
	return s.problemRepo.UpdateProblemStatus(ctx, nil, problemID, model.StatusPublished)
}

// GetProblem looks a problem up by id or slug. Non-admins only see published
// problems and their sample cases.
func (s *ProblemService) GetProblem(ctx context.Context, idOrSlug, userRole string) (*model.Problem, error) {
	problem, err := s.problemRepo.FindProblemByID(ctx, nil, idOrSlug)
	if errors.Is(err, common.ErrNotFound) {
		problem, err = s.problemRepo.FindProblemBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return nil, err
	}
	if problem.Status != model.StatusPublished && userRole != model.RoleAdmin {
		return nil, common.ErrNotFound
	}

	cases, err := s.problemRepo.GetTestCasesByProblemID(ctx, problem.ID)
	if err != nil {
		s.log.Warn("failed to fetch test cases", zap.String("problem_id", problem.ID), zap.Error(err))
	}
	if userRole != model.RoleAdmin {
		samples := cases[:0]
		for _, tc := range cases {
			if !tc.IsHidden {
				samples = append(samples, tc)
			}
		}
		cases = samples
	}
	problem.TestCases = cases
	return problem, nil
}

func (s *ProblemService) ListProblems(ctx context.Context, page, pageSize int, division model.Division, search, userRole string) ([]model.Problem, int, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	status := model.StatusPublished
	if userRole == model.RoleAdmin {
		status = ""
	}
	return s.problemRepo.ListProblems(ctx, pageSize, offset, division, status, search)
}
