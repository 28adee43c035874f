package verdict

import (
	"testing"

	"codejudge/internal/judge/sandbox/result"
	appErr "codejudge/pkg/errors"
)

func TestTrackerLegalPath(t *testing.T) {
	var seen []Status
	tr := NewTracker(func(from, to Status) { seen = append(seen, to) })
	for _, next := range []Status{StatusCompiling, StatusRunning, StatusAccepted} {
		if err := tr.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if tr.Status() != StatusAccepted || len(seen) != 3 {
		t.Fatalf("unexpected tracker state %s, callbacks %v", tr.Status(), seen)
	}
}

func TestTrackerRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		name string
		path []Status
		bad  Status
	}{
		{name: "skip_compiling", path: nil, bad: StatusRunning},
		{name: "compile_error_from_running", path: []Status{StatusCompiling, StatusRunning}, bad: StatusCompileError},
		{name: "terminal_reentry", path: []Status{StatusCompiling, StatusRunning, StatusWrongAnswer}, bad: StatusAccepted},
		{name: "back_to_queued", path: []Status{StatusCompiling}, bad: StatusQueued},
		{name: "accepted_from_compiling", path: []Status{StatusCompiling}, bad: StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTracker(nil)
			for _, s := range tc.path {
				if err := tr.Transition(s); err != nil {
					t.Fatalf("setup transition %s: %v", s, err)
				}
			}
			before := tr.Status()
			err := tr.Transition(tc.bad)
			if !appErr.Is(err, appErr.InvalidStateTransition) {
				t.Fatalf("expected invalid transition, got %v", err)
			}
			if tr.Status() != before {
				t.Fatalf("status changed on rejected transition")
			}
		})
	}
}

func TestFailFromQueued(t *testing.T) {
	tr := NewTracker(nil)
	if err := tr.Fail(); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := tr.Fail(); err == nil {
		t.Fatalf("expected second fail to be rejected")
	}
}

func TestStatusHelpers(t *testing.T) {
	if StatusRunning.Terminal() || !StatusCompileError.Terminal() {
		t.Fatalf("unexpected terminal classification")
	}
	if StatusAccepted.Code() != 0 || StatusTimeLimitExceeded.Code() != appErr.TimeLimitExceeded {
		t.Fatalf("unexpected status codes")
	}
	if FromOutcome(result.Outcome("bogus")) != StatusInternalError {
		t.Fatalf("unknown outcome should map to internal error")
	}
}

func TestAggregate(t *testing.T) {
	t.Run("all_pass", func(t *testing.T) {
		sum := Aggregate([]result.TestcaseResult{
			{TestID: "1", Outcome: result.OutcomeAccepted, TimeMs: 5, MemoryKB: 900},
			{TestID: "2", Outcome: result.OutcomeAccepted, TimeMs: 9, MemoryKB: 700},
		}, 2)
		if sum.Status != StatusAccepted || sum.Passed != 2 || sum.Total != 2 {
			t.Fatalf("unexpected summary %+v", sum)
		}
		if sum.RuntimeMs != 9 || sum.MemoryKB != 900 {
			t.Fatalf("expected maxima, got %+v", sum)
		}
	})

	t.Run("first_failure_decides", func(t *testing.T) {
		sum := Aggregate([]result.TestcaseResult{
			{TestID: "1", Outcome: result.OutcomeAccepted},
			{TestID: "2", Outcome: result.OutcomeTimeLimitExceeded, Message: "time limit exceeded"},
			{TestID: "3", Outcome: result.OutcomeWrongAnswer},
		}, 3)
		if sum.Status != StatusTimeLimitExceeded || sum.FailedTestID != "2" || sum.Passed != 1 {
			t.Fatalf("unexpected summary %+v", sum)
		}
	})

	t.Run("fail_fast_reports_total", func(t *testing.T) {
		sum := Aggregate([]result.TestcaseResult{
			{TestID: "1", Outcome: result.OutcomeWrongAnswer},
		}, 3)
		if sum.Status != StatusWrongAnswer || sum.Total != 3 || sum.Attempted != 1 || sum.Passed != 0 {
			t.Fatalf("unexpected summary %+v", sum)
		}
	})

	t.Run("incomplete_without_failure", func(t *testing.T) {
		sum := Aggregate([]result.TestcaseResult{{TestID: "1", Outcome: result.OutcomeAccepted}}, 2)
		if sum.Status != StatusInternalError {
			t.Fatalf("expected internal error, got %+v", sum)
		}
	})

	t.Run("compile_failed", func(t *testing.T) {
		sum := CompileFailed(3, "expected ';'")
		if sum.Status != StatusCompileError || sum.Total != 3 || sum.Passed != 0 {
			t.Fatalf("unexpected summary %+v", sum)
		}
	})
}
