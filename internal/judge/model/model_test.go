package model

import (
	"testing"

	"codejudge/internal/judge/verdict"
)

func TestProblemCaseOrdering(t *testing.T) {
	p := Problem{
		TimeLimitMs:   2000,
		MemoryLimitMB: 128,
		TestCases: []TestCase{
			{ID: "c", Order: 3, Visibility: VisibilityHidden},
			{ID: "a", Order: 1, Visibility: VisibilityVisible},
			{ID: "b", Order: 2, Visibility: VisibilityVisible},
		},
	}
	ordered := p.OrderedCases()
	if ordered[0].ID != "a" || ordered[1].ID != "b" || ordered[2].ID != "c" {
		t.Fatalf("unexpected order: %+v", ordered)
	}
	if p.TestCases[0].ID != "c" {
		t.Fatalf("ordering must not mutate the problem")
	}
	visible := p.VisibleCases()
	if len(visible) != 2 || visible[0].ID != "a" {
		t.Fatalf("unexpected visible cases: %+v", visible)
	}
	if lim := p.Limits(); lim.CPUTimeMs != 2000 || lim.WallTimeMs != 2000 || lim.MemoryMB != 128 {
		t.Fatalf("unexpected limits: %+v", lim)
	}
}

func TestWrapSource(t *testing.T) {
	p := Problem{Drivers: map[string]string{"python": "{code}\n\nprint(solve())\n"}}
	if got := p.WrapSource("python", "def solve():\n    return 1"); got != "def solve():\n    return 1\n\nprint(solve())\n" {
		t.Fatalf("unexpected wrapped source: %q", got)
	}
	if got := p.WrapSource("cpp", "int main(){}"); got != "int main(){}" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestApplySummary(t *testing.T) {
	var sub Submission
	sub.ApplySummary(verdict.Summary{Status: verdict.StatusWrongAnswer, Passed: 1, Total: 3, RuntimeMs: 7, Message: "wrong answer"})
	if sub.ErrorCode == 0 || sub.ErrorMessage != "wrong answer" || sub.TotalTestCases != 3 || !sub.Terminal() {
		t.Fatalf("unexpected submission %+v", sub)
	}
}
