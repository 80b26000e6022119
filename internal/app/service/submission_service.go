package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
	"tle_judge/internal/domain/repository"
)

type SubmissionOptions struct {
	Languages         model.LanguageSet
	MaxCodeBytes      int
	RejudgeStaleAfter time.Duration
	DrainOnRead       bool
	DrainBatch        int
}

type SubmissionService struct {
	subs     repository.SubmissionRepository
	problems repository.ProblemRepository
	contests repository.ContestRepository
	grading  *GradingService
	opts     SubmissionOptions
	log      *zap.Logger
	now      func() time.Time
}

func NewSubmissionService(
	subs repository.SubmissionRepository,
	problems repository.ProblemRepository,
	contests repository.ContestRepository,
	grading *GradingService,
	opts SubmissionOptions,
	log *zap.Logger,
) *SubmissionService {
	if opts.MaxCodeBytes <= 0 {
		opts.MaxCodeBytes = 64 * 1024
	}
	return &SubmissionService{
		subs:     subs,
		problems: problems,
		contests: contests,
		grading:  grading,
		opts:     opts,
		log:      log.Named("submissions"),
		now:      time.Now,
	}
}

type CreateSubmissionRequest struct {
	ProblemID string `json:"problem_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
	ContestID string `json:"contest_id,omitempty"` // Set to submit as part of a contest
}

// ValidateSource checks the language allow-list and the code size.
func (s *SubmissionService) ValidateSource(language, code string) error {
	if strings.TrimSpace(code) == "" {
		return common.Errorf("code is required: %w", common.ErrValidation)
	}
	if len(code) > s.opts.MaxCodeBytes {
		return common.Errorf("code exceeds %d bytes: %w", s.opts.MaxCodeBytes, common.ErrValidation)
	}
	if _, ok := s.opts.Languages.Lookup(language); !ok {
		return common.Errorf("language %q is disabled: %w", language, common.ErrValidation)
	}
	return nil
}

func (s *SubmissionService) CreateSubmission(ctx context.Context, userID string, req CreateSubmissionRequest) (*model.Submission, error) {
	if req.ProblemID == "" {
		return nil, common.Errorf("problem_id is required: %w", common.ErrValidation)
	}
	if err := s.ValidateSource(req.Language, req.Code); err != nil {
		return nil, err
	}

	problem, err := s.problems.FindProblemByID(ctx, nil, req.ProblemID)
	if err != nil {
		return nil, err
	}
	if problem.Status != model.StatusPublished {
		return nil, common.ErrNotFound
	}

	origin := model.PracticeOrigin()
	visibility := model.VisibilityPublic
	if req.ContestID != "" {
		if err := s.checkContestEntry(ctx, req.ContestID, problem.ID, userID); err != nil {
			return nil, err
		}
		origin = model.ContestOrigin(req.ContestID)
		visibility = model.VisibilityPrivate
	}

	sub := s.newSubmission(userID, problem.ID, req.Language, req.Code, origin, visibility, false)
	if err := s.Admit(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SubmissionService) checkContestEntry(ctx context.Context, contestID, problemID, userID string) error {
	contest, err := s.contests.FindContestByID(ctx, contestID)
	if err != nil {
		return err
	}
	now := s.now()
	if !contest.AcceptsSubmissionsAt(now) {
		state := "closed"
		if now.Before(contest.StartsAt) || !contest.IsPublished {
			state = "not_started"
		}
		return common.StateConflict("contest", state, "contest is not accepting submissions")
	}
	if !contest.HasProblem(problemID) {
		return common.Errorf("problem is not part of the contest: %w", common.ErrValidation)
	}
	ok, err := s.contests.IsParticipant(ctx, contestID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return common.Errorf("not a contest participant: %w", common.ErrForbidden)
	}
	return nil
}

func (s *SubmissionService) newSubmission(userID, problemID, language, code string, origin model.SubmissionOrigin, visibility model.Visibility, hidden bool) *model.Submission {
	return &model.Submission{
		ID:         uuid.NewString(),
		UserID:     userID,
		ProblemID:  problemID,
		Language:   language,
		Code:       code,
		Visibility: visibility,
		Origin:     origin,
		Status:     model.StatusPending,
		Detail: model.SubmissionDetail{
			Message: "Queued for judging",
			Meta:    &model.DetailMeta{HiddenFromStatus: hidden, Origin: origin.Kind},
		},
		CreatedAt: s.now(),
	}
}

// Admit stores a new PENDING submission and enqueues it. A failed enqueue is
// logged only: the row stays PENDING and is picked up by ReclaimPending.
func (s *SubmissionService) Admit(ctx context.Context, sub *model.Submission) error {
	sub.UpdatedAt = sub.CreatedAt
	if err := s.subs.CreateSubmission(ctx, nil, sub); err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	if err := s.grading.Enqueue(ctx, sub.ID); err != nil {
		s.log.Warn("submission stored but not enqueued", zap.String("submission_id", sub.ID), zap.Error(err))
	}
	s.log.Info("submission created",
		zap.String("submission_id", sub.ID),
		zap.String("user_id", sub.UserID),
		zap.String("origin", string(sub.Origin.Kind)))
	return nil
}

// RejudgeSubmission resets a submission to PENDING and re-enqueues it. Only
// the owner or an admin may rejudge. Rows still queued or being graded are a
// conflict, except RUNNING rows older than RejudgeStaleAfter.
func (s *SubmissionService) RejudgeSubmission(ctx context.Context, id, callerID, callerRole string) (*model.Submission, error) {
	sub, err := s.subs.GetSubmissionByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if sub.UserID != callerID && callerRole != model.RoleAdmin {
		return nil, common.ErrForbidden
	}

	queued := model.SubmissionDetail{
		Message: "Queued for rejudging",
		Meta:    &model.DetailMeta{Origin: sub.Origin.Kind, HiddenFromStatus: hiddenFromStatus(sub)},
	}
	ok, err := s.subs.ResetForRejudge(ctx, id, s.now().Add(-s.opts.RejudgeStaleAfter), queued)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.subs.GetSubmissionByID(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		return nil, common.StateConflict("submission", string(current.Status), "submission is still waiting for a verdict")
	}
	if err := s.grading.Enqueue(ctx, id); err != nil {
		s.log.Warn("rejudged submission not enqueued", zap.String("submission_id", id), zap.Error(err))
	}
	s.log.Info("submission rejudge requested", zap.String("submission_id", id), zap.String("caller_id", callerID))
	return s.subs.GetSubmissionByID(ctx, nil, id)
}

// GetSubmission returns a submission as seen by the caller. Reading a
// non-terminal submission opportunistically drains the queue when enabled.
func (s *SubmissionService) GetSubmission(ctx context.Context, id, callerID, callerRole string) (*model.Submission, error) {
	sub, err := s.subs.GetSubmissionByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !sub.Status.IsTerminal() && s.opts.DrainOnRead {
		if _, err := s.grading.Drain(ctx, s.opts.DrainBatch); err != nil {
			s.log.Warn("drain on read failed", zap.Error(err))
		} else if sub, err = s.subs.GetSubmissionByID(ctx, nil, id); err != nil {
			return nil, err
		}
	}
	if sub.Status == model.StatusPending {
		if sub.QueuePosition, err = s.grading.QueuePosition(ctx, id); err != nil {
			s.log.Warn("queue position unavailable", zap.String("submission_id", id), zap.Error(err))
		}
	}

	if sub.UserID == callerID || callerRole == model.RoleAdmin {
		return sub, nil
	}
	if sub.Visibility != model.VisibilityPublic {
		return nil, common.ErrForbidden
	}
	sub.Code = ""
	return sub, nil
}

// ListMySubmissions returns the caller's submissions, newest first. Entries
// flagged hidden-from-status are left out.
func (s *SubmissionService) ListMySubmissions(ctx context.Context, userID string, page, pageSize int) ([]model.Submission, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	subs, err := s.subs.ListSubmissionsByUser(ctx, userID, pageSize, offset)
	if err != nil {
		return nil, err
	}
	visible := subs[:0]
	for _, sub := range subs {
		if hiddenFromStatus(&sub) {
			continue
		}
		visible = append(visible, sub)
	}
	return visible, nil
}

// hiddenFromStatus reports whether a submission stays out of status lists.
// Duel submissions always do, whatever any stored detail says.
func hiddenFromStatus(sub *model.Submission) bool {
	if sub.Origin.Kind == model.OriginDuel {
		return true
	}
	return sub.Detail.Meta != nil && sub.Detail.Meta.HiddenFromStatus
}

// DrainQueue grades up to maxItems queued submissions.
func (s *SubmissionService) DrainQueue(ctx context.Context, maxItems int) (DrainReport, error) {
	report, err := s.grading.Drain(ctx, maxItems)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return report, common.Errorf("drain cancelled: %w", common.ErrServiceUnavailable)
	}
	return report, err
}
