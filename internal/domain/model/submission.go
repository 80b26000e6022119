package model

import "time"

type SubmissionStatus string

const (
	StatusPending           SubmissionStatus = "PENDING"
	StatusRunning           SubmissionStatus = "RUNNING"
	StatusAccepted          SubmissionStatus = "ACCEPTED"
	StatusWrongAnswer       SubmissionStatus = "WRONG_ANSWER"
	StatusTimeLimitExceeded SubmissionStatus = "TIME_LIMIT_EXCEEDED"
	StatusRuntimeError      SubmissionStatus = "RUNTIME_ERROR"
	StatusCompilationError  SubmissionStatus = "COMPILATION_ERROR"
)

// IsTerminal reports whether grading has finished for the status.
func (s SubmissionStatus) IsTerminal() bool {
	return s != StatusPending && s != StatusRunning
}

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type OriginKind string

const (
	OriginPractice OriginKind = "practice"
	OriginDuel     OriginKind = "duel"
	OriginContest  OriginKind = "contest"
)

// SubmissionOrigin records which feature created a submission.
type SubmissionOrigin struct {
	Kind      OriginKind `json:"kind"`
	BattleID  *string    `json:"battle_id,omitempty"`
	ContestID *string    `json:"contest_id,omitempty"`
}

func PracticeOrigin() SubmissionOrigin { return SubmissionOrigin{Kind: OriginPractice} }

func DuelOrigin(battleID string) SubmissionOrigin {
	return SubmissionOrigin{Kind: OriginDuel, BattleID: &battleID}
}

func ContestOrigin(contestID string) SubmissionOrigin {
	return SubmissionOrigin{Kind: OriginContest, ContestID: &contestID}
}

type Submission struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	ProblemID       string           `json:"problem_id"`
	Language        string           `json:"language"`
	Code            string           `json:"code,omitempty"` // Stripped for non-owners
	Visibility      Visibility       `json:"visibility"`
	Origin          SubmissionOrigin `json:"origin"`
	Status          SubmissionStatus `json:"status"`
	TotalScore      *int             `json:"total_score"`
	MaxScore        *int             `json:"max_score"`
	FailedCaseIndex *int             `json:"failed_case_index"`
	ExpectedOutput  *string          `json:"expected_output,omitempty"`
	ActualOutput    *string          `json:"actual_output,omitempty"`
	Detail          SubmissionDetail `json:"detail"`
	JudgeAttempt    int              `json:"-"` // Bumped on every claim and rejudge
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	JudgedAt        *time.Time       `json:"judged_at,omitempty"`
	QueuePosition   int64            `json:"queue_position,omitempty"` // Not stored; set on reads of PENDING rows
}

// IsFullScore reports an accepted submission with a positive full score.
func (s *Submission) IsFullScore() bool {
	return s.Status == StatusAccepted && s.TotalScore != nil && s.MaxScore != nil &&
		*s.MaxScore > 0 && *s.TotalScore == *s.MaxScore
}

// Verdict is the judged outcome written back onto a claimed submission.
type Verdict struct {
	Status          SubmissionStatus
	TotalScore      int
	MaxScore        int
	FailedCaseIndex *int
	ExpectedOutput  *string
	ActualOutput    *string
	Detail          SubmissionDetail
}
