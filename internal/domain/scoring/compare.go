package scoring

import (
	"math"
	"strconv"
	"strings"

	"tle_judge/internal/domain/model"
)

const DefaultFloatTolerance = 1e-6

// Checker decides whether a program's output matches the expected output.
type Checker struct {
	Kind      model.CheckerKind
	Tolerance float64
}

func NewChecker(p *model.Problem) Checker {
	c := Checker{Kind: p.Checker, Tolerance: p.FloatTolerance}
	if c.Kind == "" {
		c.Kind = model.CheckerExact
	}
	if c.Kind == model.CheckerFloat && c.Tolerance <= 0 {
		c.Tolerance = DefaultFloatTolerance
	}
	return c
}

func (c Checker) Match(expected, actual string) bool {
	if c.Kind == model.CheckerFloat {
		return matchTokens(expected, actual, c.Tolerance)
	}
	return NormalizeOutput(expected) == NormalizeOutput(actual)
}

// NormalizeOutput strips trailing whitespace from every line and drops
// trailing blank lines. CRLF line endings compare equal to LF.
func NormalizeOutput(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\v\f")
	}
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}

func matchTokens(expected, actual string, tol float64) bool {
	want := strings.Fields(expected)
	got := strings.Fields(actual)
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] == got[i] {
			continue
		}
		w, errW := strconv.ParseFloat(want[i], 64)
		g, errG := strconv.ParseFloat(got[i], 64)
		if errW != nil || errG != nil || math.IsNaN(w) || math.IsNaN(g) {
			return false
		}
		if math.Abs(w-g) > tol*math.Max(1, math.Abs(w)) {
			return false
		}
	}
	return true
}
