package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tle_judge/internal/domain/model"
	"tle_judge/internal/domain/repository"
	"tle_judge/internal/domain/scoring"
	"tle_judge/internal/platform/metrics"
	"tle_judge/internal/platform/sandbox"
)

// SubmissionQueue is the FIFO of submission ids waiting to be graded.
type SubmissionQueue interface {
	Enqueue(ctx context.Context, id string) (bool, error)
	Pop(ctx context.Context, n int) ([]string, error)
	Len(ctx context.Context) (int64, error)
	// Position is the 1-based place of id, or 0 when it is not queued.
	Position(ctx context.Context, id string) (int64, error)
}

const (
	msgSandboxUnavailable = "Judge could not execute the program, please resubmit later"
	msgInternalError      = "Internal judge error"
	msgLanguageRemoved    = "Language is no longer supported"

	storeTimeout = 10 * time.Second
)

type GradingOptions struct {
	Languages    model.LanguageSet
	DefaultBatch int
	ReclaimBatch int
	// GradeTimeout bounds grading and storing one claimed submission.
	GradeTimeout time.Duration
}

// GradingService drains the submission queue and writes verdicts.
type GradingService struct {
	subs         repository.SubmissionRepository
	problems     repository.ProblemRepository
	queue        SubmissionQueue
	sandbox      sandbox.Sandbox
	languages    model.LanguageSet
	batch        int
	reclaim      int
	gradeTimeout time.Duration
	log          *zap.Logger
	now          func() time.Time
}

func NewGradingService(
	subs repository.SubmissionRepository,
	problems repository.ProblemRepository,
	queue SubmissionQueue,
	sb sandbox.Sandbox,
	opts GradingOptions,
	log *zap.Logger,
) *GradingService {
	if opts.DefaultBatch <= 0 {
		opts.DefaultBatch = 4
	}
	if opts.ReclaimBatch <= 0 {
		opts.ReclaimBatch = 100
	}
	if opts.GradeTimeout <= 0 {
		opts.GradeTimeout = 5 * time.Minute
	}
	return &GradingService{
		subs:         subs,
		problems:     problems,
		queue:        queue,
		sandbox:      sb,
		languages:    opts.Languages,
		batch:        opts.DefaultBatch,
		reclaim:      opts.ReclaimBatch,
		gradeTimeout: opts.GradeTimeout,
		log:          log.Named("grading"),
		now:          time.Now,
	}
}

// DrainReport summarises one Drain call.
type DrainReport struct {
	Dequeued int `json:"dequeued"`
	Graded   int `json:"graded"`
	Skipped  int `json:"skipped"`
}

func (s *GradingService) Enqueue(ctx context.Context, submissionID string) error {
	if _, err := s.queue.Enqueue(ctx, submissionID); err != nil {
		return fmt.Errorf("failed to enqueue submission %s: %w", submissionID, err)
	}
	return nil
}

// Drain grades up to maxItems queued submissions in FIFO order. It is safe to
// call concurrently: each submission is claimed atomically before grading, and
// ids that lose the claim are skipped.
//
// The submissions usually belong to other users than the caller, so a claimed
// submission is graded to completion even if ctx is cancelled. Ids popped but
// not yet claimed when ctx ends go back to the queue.
func (s *GradingService) Drain(ctx context.Context, maxItems int) (DrainReport, error) {
	if maxItems <= 0 {
		maxItems = s.batch
	}
	var report DrainReport
	if err := ctx.Err(); err != nil {
		return report, err
	}

	ids, err := s.queue.Pop(ctx, maxItems)
	if err != nil {
		return report, fmt.Errorf("failed to pop grading queue: %w", err)
	}
	report.Dequeued = len(ids)
	detached := context.WithoutCancel(ctx)

	for i, id := range ids {
		if ctx.Err() != nil {
			s.requeue(detached, ids[i:])
			report.Skipped += len(ids) - i
			break
		}
		graded, err := s.gradeOne(detached, id)
		if err != nil {
			s.log.Error("claim failed, re-queueing submission", zap.String("submission_id", id), zap.Error(err))
			s.requeue(detached, ids[i:i+1])
			report.Skipped++
			continue
		}
		if graded {
			report.Graded++
		} else {
			report.Skipped++
		}
	}

	if depth, err := s.queue.Len(detached); err == nil {
		metrics.GradingQueueDepth.Set(float64(depth))
	}
	return report, ctx.Err()
}

func (s *GradingService) requeue(ctx context.Context, ids []string) {
	for _, id := range ids {
		if _, err := s.queue.Enqueue(ctx, id); err != nil {
			s.log.Error("re-queue failed", zap.String("submission_id", id), zap.Error(err))
		}
	}
}

// QueuePosition reports where a submission waits in the grading queue.
func (s *GradingService) QueuePosition(ctx context.Context, submissionID string) (int64, error) {
	pos, err := s.queue.Position(ctx, submissionID)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue position of %s: %w", submissionID, err)
	}
	return pos, nil
}

// ReclaimPending re-enqueues submissions left PENDING for longer than
// olderThan, which happens when an id was popped but never claimed.
func (s *GradingService) ReclaimPending(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.subs.ListStalePending(ctx, s.now().Add(-olderThan), s.reclaim)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, id := range ids {
		ok, err := s.queue.Enqueue(ctx, id)
		if err != nil {
			return added, fmt.Errorf("failed to re-enqueue submission %s: %w", id, err)
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		s.log.Info("reclaimed pending submissions", zap.Int("count", added))
	}
	return added, nil
}

// gradeOne claims and grades a single submission within the grade timeout.
// It returns false when the claim was lost. An error means the claim itself
// could not be attempted.
func (s *GradingService) gradeOne(ctx context.Context, id string) (graded bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.gradeTimeout)
	defer cancel()

	attempt, claimed, err := s.subs.ClaimPending(ctx, id)
	if err != nil {
		return false, err
	}
	if !claimed {
		metrics.ClaimsLost.Inc()
		s.log.Debug("submission no longer pending", zap.String("submission_id", id))
		return false, nil
	}

	log := s.log.With(zap.String("submission_id", id), zap.Int("attempt", attempt))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while grading", zap.Any("panic", r), zap.Stack("stack"))
			s.complete(ctx, log, id, attempt, failureVerdict(msgInternalError, nil))
			graded = true
			err = nil
		}
	}()

	verdict := s.judge(ctx, log, id)
	s.complete(ctx, log, id, attempt, verdict)
	return true, nil
}

// complete stores v with its own deadline, so a verdict reached just as the
// grade timeout expires is still written.
func (s *GradingService) complete(ctx context.Context, log *zap.Logger, id string, attempt int, v model.Verdict) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	ok, err := s.subs.CompleteJudging(ctx, id, attempt, v, s.now())
	if err != nil {
		// The row stays RUNNING and can be recovered through a rejudge.
		log.Error("failed to store verdict", zap.Error(err))
		return
	}
	if !ok {
		log.Warn("verdict dropped, submission was rejudged while grading")
		return
	}
	metrics.SubmissionsGraded.WithLabelValues(string(v.Status)).Inc()
	log.Info("submission graded", zap.String("status", string(v.Status)), zap.Int("score", v.TotalScore), zap.Int("max_score", v.MaxScore))
}

func (s *GradingService) judge(ctx context.Context, log *zap.Logger, id string) model.Verdict {
	sub, err := s.subs.GetSubmissionByID(ctx, nil, id)
	if err != nil {
		log.Error("failed to load submission", zap.Error(err))
		return failureVerdict(msgInternalError, nil)
	}
	meta := baseMeta(sub)

	lang, ok := s.languages.Lookup(sub.Language)
	if !ok {
		return failureVerdict(msgLanguageRemoved, meta)
	}
	problem, err := s.problems.FindProblemByID(ctx, nil, sub.ProblemID)
	if err != nil {
		log.Error("failed to load problem", zap.String("problem_id", sub.ProblemID), zap.Error(err))
		return failureVerdict(msgInternalError, meta)
	}
	cases, err := s.problems.GetTestCasesByProblemID(ctx, problem.ID)
	if err != nil {
		log.Error("failed to load test cases", zap.String("problem_id", problem.ID), zap.Error(err))
		return failureVerdict(msgInternalError, meta)
	}

	runs, err := s.runGroups(ctx, sub, problem, lang, scoring.BuildGroups(cases))
	if err != nil {
		log.Error("sandbox unavailable", zap.Error(err))
		return failureVerdict(msgSandboxUnavailable, meta)
	}

	res := scoring.Aggregate(runs)
	meta.Groups = res.Groups
	return model.Verdict{
		Status:          res.Status,
		TotalScore:      res.TotalScore,
		MaxScore:        res.MaxScore,
		FailedCaseIndex: res.FailedCaseIndex,
		ExpectedOutput:  res.ExpectedOutput,
		ActualOutput:    res.ActualOutput,
		Detail:          model.SubmissionDetail{Message: res.Message, Meta: meta},
	}
}

// runGroups executes the cases group by group in stored order. A group stops
// at its first failing case; a compile error stops everything.
func (s *GradingService) runGroups(ctx context.Context, sub *model.Submission, p *model.Problem, lang model.Language, groups []scoring.Group) ([]scoring.GroupRun, error) {
	checker := scoring.NewChecker(p)
	runs := make([]scoring.GroupRun, 0, len(groups))
	stopped := false

	for _, g := range groups {
		run := scoring.GroupRun{Group: g}
		for _, c := range g.Cases {
			if stopped {
				break
			}
			cr, err := s.runCase(ctx, sub, p, lang, checker, c.TestCase)
			if err != nil {
				return nil, err
			}
			run.Results = append(run.Results, cr)
			if cr.Verdict == scoring.VerdictCompileError {
				stopped = true
			}
			if cr.Verdict != scoring.VerdictPass {
				break
			}
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *GradingService) runCase(ctx context.Context, sub *model.Submission, p *model.Problem, lang model.Language, checker scoring.Checker, tc model.TestCase) (scoring.CaseResult, error) {
	started := time.Now()
	res, err := s.sandbox.Run(ctx, sandbox.Request{
		Language:      lang.Runtime,
		Version:       lang.Version,
		FileName:      lang.FileName,
		Code:          sub.Code,
		Stdin:         tc.Input,
		TimeLimit:     time.Duration(p.TimeLimitMs) * time.Millisecond,
		MemoryLimitKb: p.MemoryLimitKb,
	})
	if err != nil {
		metrics.ObserveSandbox("error", started)
		if errors.Is(err, context.Canceled) {
			return scoring.CaseResult{}, err
		}
		return scoring.CaseResult{}, fmt.Errorf("sandbox run: %w", err)
	}
	metrics.ObserveSandbox("ok", started)
	return classify(res, checker, tc), nil
}

func classify(res *sandbox.Result, checker scoring.Checker, tc model.TestCase) scoring.CaseResult {
	switch {
	case res.CompileError:
		return scoring.CaseResult{Verdict: scoring.VerdictCompileError, Message: res.CompileOutput}
	case res.TimedOut:
		return scoring.CaseResult{Verdict: scoring.VerdictTimeLimit, Output: res.Stdout}
	case res.MemoryExceeded:
		return scoring.CaseResult{Verdict: scoring.VerdictRuntimeError, Output: res.Stdout, Message: "Memory limit exceeded"}
	case res.ExitCode != 0 || res.Signal != "":
		return scoring.CaseResult{Verdict: scoring.VerdictRuntimeError, Output: res.Stdout, Message: res.Stderr}
	case checker.Match(tc.ExpectedOutput, res.Stdout):
		return scoring.CaseResult{Verdict: scoring.VerdictPass, Output: res.Stdout}
	default:
		return scoring.CaseResult{Verdict: scoring.VerdictWrongOutput, Output: res.Stdout}
	}
}

// baseMeta carries the creation-time flags over into the graded detail.
func baseMeta(sub *model.Submission) *model.DetailMeta {
	return &model.DetailMeta{Origin: sub.Origin.Kind, HiddenFromStatus: hiddenFromStatus(sub)}
}

func failureVerdict(message string, meta *model.DetailMeta) model.Verdict {
	return model.Verdict{
		Status: model.StatusRuntimeError,
		Detail: model.SubmissionDetail{Message: message, Meta: meta},
	}
}
