package model

import (
	"strings"
	"time"
)

type ProblemStatus string

type CheckerKind string

const (
	StatusDraft     ProblemStatus = "Draft"
	StatusPublished ProblemStatus = "Published"

	CheckerExact CheckerKind = "exact"
	CheckerFloat CheckerKind = "float"
)

type Problem struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Slug           string        `json:"slug"`
	Statement      string        `json:"statement"`
	Division       Division      `json:"division"` // Tag pool used for duels and contests
	Status         ProblemStatus `json:"status"`
	TimeLimitMs    int           `json:"time_limit_ms"`
	MemoryLimitKb  int           `json:"memory_limit_kb"`
	Checker        CheckerKind   `json:"checker"`
	FloatTolerance float64       `json:"float_tolerance,omitempty"`
	CreatedByID    *string       `json:"created_by_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	TestCases      []TestCase    `json:"test_cases,omitempty"` // Only samples for non-admins
}

type TestCase struct {
	ID             string    `json:"id"`
	ProblemID      string    `json:"problem_id"`
	Input          string    `json:"input"`
	ExpectedOutput string    `json:"expected_output"`
	IsHidden       bool      `json:"is_hidden"`
	ScoreWeight    int       `json:"score_weight"`
	GroupName      string    `json:"group_name"` // "key|label"
	SortOrder      int       `json:"sort_order"`
	CreatedAt      time.Time `json:"created_at"`
}

// Group splits GroupName into its key and label. A name without a label uses
// the key for both; an empty name falls back to "sample" or "main".
func (tc TestCase) Group() (key, label string) {
	name := strings.TrimSpace(tc.GroupName)
	if name == "" {
		if tc.IsHidden {
			return "main", "main"
		}
		return "sample", "sample"
	}
	key, label, found := strings.Cut(name, "|")
	key = strings.TrimSpace(key)
	if !found || strings.TrimSpace(label) == "" {
		return key, key
	}
	return key, strings.TrimSpace(label)
}
