// Package scoring turns per-test-case verdicts into a scored, grouped
// submission result. It performs no I/O.
package scoring

import (
	"fmt"

	"tle_judge/internal/domain/model"
)

type Verdict string

const (
	VerdictPass         Verdict = "PASS"
	VerdictWrongOutput  Verdict = "WRONG_OUTPUT"
	VerdictTimeLimit    Verdict = "TIME_LIMIT"
	VerdictRuntimeError Verdict = "RUNTIME_ERROR"
	VerdictCompileError Verdict = "COMPILE_ERROR"
)

// SnippetLimit bounds the expected/actual output kept for diagnostics.
const SnippetLimit = 512

// Case is a test case together with its index in stored order.
type Case struct {
	Index    int
	TestCase model.TestCase
}

type Group struct {
	Key    string
	Label  string
	Sample bool
	Cases  []Case
}

// MaxScore is the sum of the case weights in the group.
func (g Group) MaxScore() int {
	total := 0
	for _, c := range g.Cases {
		total += c.TestCase.ScoreWeight
	}
	return total
}

// BuildGroups buckets cases by group key. Sample groups (no hidden case) come
// first, then hidden groups, each kept in order of first appearance.
func BuildGroups(cases []model.TestCase) []Group {
	var groups []Group
	pos := map[string]int{}
	for i, tc := range cases {
		key, label := tc.Group()
		gi, ok := pos[key]
		if !ok {
			gi = len(groups)
			pos[key] = gi
			groups = append(groups, Group{Key: key, Label: label, Sample: true})
		}
		if tc.IsHidden {
			groups[gi].Sample = false
		}
		groups[gi].Cases = append(groups[gi].Cases, Case{Index: i, TestCase: tc})
	}

	ordered := make([]Group, 0, len(groups))
	for _, g := range groups {
		if g.Sample {
			ordered = append(ordered, g)
		}
	}
	for _, g := range groups {
		if !g.Sample {
			ordered = append(ordered, g)
		}
	}
	return ordered
}

type CaseResult struct {
	Verdict Verdict
	Output  string
	Message string // Compiler or runtime diagnostics, optional
}

// GroupRun pairs a group with the results of the cases actually run. Results
// may be shorter than Group.Cases when the group was cut short.
type GroupRun struct {
	Group   Group
	Results []CaseResult
}

type Result struct {
	Groups          []model.GroupScore
	TotalScore      int
	MaxScore        int
	Status          model.SubmissionStatus
	AllPassed       bool
	FailedCaseIndex *int
	ExpectedOutput  *string
	ActualOutput    *string
	Message         string
}

var verdictRank = map[Verdict]int{
	VerdictWrongOutput:  1,
	VerdictTimeLimit:    2,
	VerdictRuntimeError: 3,
	VerdictCompileError: 4,
}

var verdictStatus = map[Verdict]model.SubmissionStatus{
	VerdictPass:         model.StatusAccepted,
	VerdictWrongOutput:  model.StatusWrongAnswer,
	VerdictTimeLimit:    model.StatusTimeLimitExceeded,
	VerdictRuntimeError: model.StatusRuntimeError,
	VerdictCompileError: model.StatusCompilationError,
}

// Aggregate scores the runs. A group earns its weight only when every one of
// its cases passed; cases that were never run count as failed.
func Aggregate(runs []GroupRun) Result {
	res := Result{AllPassed: true}
	worst := VerdictPass
	var firstFail *Case
	var firstFailResult CaseResult
	totalCases, passedCases := 0, 0

	for _, run := range runs {
		gs := model.GroupScore{
			Key:        run.Group.Key,
			Label:      run.Group.Label,
			TotalCases: len(run.Group.Cases),
			MaxScore:   run.Group.MaxScore(),
		}
		for i := range run.Group.Cases {
			if i >= len(run.Results) {
				res.AllPassed = false
				continue
			}
			r := run.Results[i]
			if r.Verdict == VerdictPass {
				gs.PassedCases++
				continue
			}
			res.AllPassed = false
			if verdictRank[r.Verdict] > verdictRank[worst] {
				worst = r.Verdict
			}
			if firstFail == nil {
				c := run.Group.Cases[i]
				firstFail = &c
				firstFailResult = r
			}
		}
		if gs.PassedCases == gs.TotalCases {
			gs.EarnedScore = gs.MaxScore
		}
		res.TotalScore += gs.EarnedScore
		res.MaxScore += gs.MaxScore
		totalCases += gs.TotalCases
		passedCases += gs.PassedCases
		res.Groups = append(res.Groups, gs)
	}

	if totalCases == 0 {
		res.AllPassed = false
		res.Status = model.StatusRuntimeError
		res.Message = "Problem has no test data"
		return res
	}

	switch {
	case worst != VerdictPass:
		res.Status = verdictStatus[worst]
	case res.AllPassed && res.TotalScore == res.MaxScore:
		res.Status = model.StatusAccepted
	default:
		// Nothing failed outright but some cases were never run.
		res.Status = model.StatusWrongAnswer
	}

	if res.Status == model.StatusAccepted {
		res.Message = fmt.Sprintf("Accepted: %d/%d test cases passed", passedCases, totalCases)
		return res
	}

	if firstFail != nil {
		idx := firstFail.Index
		res.FailedCaseIndex = &idx
		expected := Snippet(firstFail.TestCase.ExpectedOutput)
		actual := Snippet(firstFailResult.Output)
		res.ExpectedOutput = &expected
		res.ActualOutput = &actual
		_, label := firstFail.TestCase.Group()
		res.Message = fmt.Sprintf("%s on test case %d (%s): %d/%d test cases passed",
			statusText(res.Status), idx+1, label, passedCases, totalCases)
		if firstFailResult.Message != "" {
			res.Message += "\n" + Snippet(firstFailResult.Message)
		}
	} else {
		res.Message = fmt.Sprintf("%s: %d/%d test cases passed", statusText(res.Status), passedCases, totalCases)
	}
	return res
}

// Snippet truncates s to SnippetLimit bytes on a rune boundary.
func Snippet(s string) string {
	if len(s) <= SnippetLimit {
		return s
	}
	cut := SnippetLimit
	for cut > 0 && !runeStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func runeStart(b byte) bool { return b&0xC0 != 0x80 }

func statusText(s model.SubmissionStatus) string {
	switch s {
	case model.StatusWrongAnswer:
		return "Wrong answer"
	case model.StatusTimeLimitExceeded:
		return "Time limit exceeded"
	case model.StatusRuntimeError:
		return "Runtime error"
	case model.StatusCompilationError:
		return "Compilation error"
	}
	return string(s)
}
