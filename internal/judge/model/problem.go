package model

import (
	"sort"
	"strings"

	"codejudge/internal/judge/compare"
	"codejudge/internal/judge/sandbox/spec"
)

// Visibility controls whether a test case is shown by run requests.
type Visibility string

const (
	VisibilityVisible Visibility = "visible"
	VisibilityHidden  Visibility = "hidden"
)

// CodePlaceholder marks where a driver template embeds the submitted code.
const CodePlaceholder = "{code}"

// TestCase is one catalog-owned input/answer pair.
type TestCase struct {
	ID             string     `yaml:"id" toml:"id" json:"id"`
	ProblemID      string     `yaml:"-" toml:"-" json:"problem_id"`
	Input          string     `yaml:"input" toml:"input" json:"input"`
	ExpectedOutput string     `yaml:"expected" toml:"expected" json:"expected_output"`
	Visibility     Visibility `yaml:"visibility" toml:"visibility" json:"visibility"`
	Order          int        `yaml:"order" toml:"order" json:"order"`
	TimeLimitMs    int64      `yaml:"timeLimitMs" toml:"time_limit_ms" json:"time_limit_ms,omitempty"`
	MemoryLimitMB  int64      `yaml:"memoryLimitMb" toml:"memory_limit_mb" json:"memory_limit_mb,omitempty"`

	// InputFile and ExpectedFile load large data relative to the problem directory.
	InputFile    string `yaml:"inputFile" toml:"input_file" json:"-"`
	ExpectedFile string `yaml:"expectedFile" toml:"expected_file" json:"-"`
}

// Visible reports whether run requests may show this case. Unset means hidden.
func (tc TestCase) Visible() bool {
	return tc.Visibility == VisibilityVisible
}

// Limits returns the per-test overrides. Zero fields inherit.
func (tc TestCase) Limits() spec.ResourceLimit {
	return spec.ResourceLimit{
		CPUTimeMs:  tc.TimeLimitMs,
		WallTimeMs: tc.TimeLimitMs,
		MemoryMB:   tc.MemoryLimitMB,
	}
}

// Problem is the judge-facing view of a catalog problem.
type Problem struct {
	ID            string            `yaml:"id" toml:"id" json:"id"`
	Title         string            `yaml:"title" toml:"title" json:"title"`
	TimeLimitMs   int64             `yaml:"timeLimitMs" toml:"time_limit_ms" json:"time_limit_ms"`
	MemoryLimitMB int64             `yaml:"memoryLimitMb" toml:"memory_limit_mb" json:"memory_limit_mb"`
	Comparator    compare.Config    `yaml:"comparator" toml:"comparator" json:"comparator"`
	Drivers       map[string]string `yaml:"drivers" toml:"drivers" json:"drivers,omitempty"`
	TestCases     []TestCase        `yaml:"testCases" toml:"test_cases" json:"test_cases"`
}

// Limits returns the problem-wide limits. The time limit bounds CPU and wall time.
func (p Problem) Limits() spec.ResourceLimit {
	return spec.ResourceLimit{
		CPUTimeMs:  p.TimeLimitMs,
		WallTimeMs: p.TimeLimitMs,
		MemoryMB:   p.MemoryLimitMB,
	}
}

// OrderedCases returns every case sorted by Order, ties kept in file order.
func (p Problem) OrderedCases() []TestCase {
	cases := make([]TestCase, len(p.TestCases))
	copy(cases, p.TestCases)
	sort.SliceStable(cases, func(i, j int) bool { return cases[i].Order < cases[j].Order })
	return cases
}

// VisibleCases returns the ordered cases shown by run requests.
func (p Problem) VisibleCases() []TestCase {
	var visible []TestCase
	for _, tc := range p.OrderedCases() {
		if tc.Visible() {
			visible = append(visible, tc)
		}
	}
	return visible
}

// WrapSource embeds code into the problem's driver for languageID.
// Without a driver the code is returned unchanged.
func (p Problem) WrapSource(languageID, code string) string {
	driver, ok := p.Drivers[languageID]
	if !ok || !strings.Contains(driver, CodePlaceholder) {
		return code
	}
	return strings.Replace(driver, CodePlaceholder, code, 1)
}
