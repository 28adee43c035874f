package harness

import (
	"context"
	"errors"
	"testing"

	"codejudge/internal/judge/compare"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/runner"
)

type scriptedRunner struct {
	outputs map[string]result.TestcaseResult
	failOn  string
	calls   []runner.RunRequest
}

func (s *scriptedRunner) Compile(ctx context.Context, req runner.CompileRequest) (result.CompileResult, error) {
	return result.CompileResult{OK: true}, nil
}

func (s *scriptedRunner) Run(ctx context.Context, req runner.RunRequest) (result.TestcaseResult, error) {
	s.calls = append(s.calls, req)
	if req.TestID == s.failOn {
		return result.TestcaseResult{TestID: req.TestID, Outcome: result.OutcomeInternalError}, errors.New("sandbox down")
	}
	res := s.outputs[req.TestID]
	res.TestID = req.TestID
	if res.Outcome == "" {
		res.Outcome = result.OutcomeAccepted
	}
	return res, nil
}

func twoSum() model.Problem {
	return model.Problem{
		ID:            "two-sum",
		TimeLimitMs:   2000,
		MemoryLimitMB: 128,
		TestCases: []model.TestCase{
			{ID: "3", Order: 3, Input: "[3,3]\n6", ExpectedOutput: "[0,1]", Visibility: model.VisibilityHidden},
			{ID: "1", Order: 1, Input: "[2,7,11,15]\n9", ExpectedOutput: "[0,1]", Visibility: model.VisibilityVisible},
			{ID: "2", Order: 2, Input: "[3,2,4]\n6", ExpectedOutput: "[1,2]", Visibility: model.VisibilityVisible, TimeLimitMs: 500},
		},
	}
}

func artifact() Artifact {
	return Artifact{SubmissionID: "s1", WorkDir: "/tmp/s1", Language: language.Spec{ID: "python"}}
}

func TestEvaluateSubmitAllPass(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]result.TestcaseResult{
		"1": {Stdout: "[0,1]\n"},
		"2": {Stdout: "[1,2]\n"},
		"3": {Stdout: "[0,1]"},
	}}
	var progress []int
	report, err := New(r).Evaluate(context.Background(), artifact(), twoSum(), Policy{Mode: ModeSubmit, FailFast: true}, func(done, total int) {
		progress = append(progress, done)
		if total != 3 {
			t.Fatalf("unexpected total %d", total)
		}
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Total != 3 || len(report.Results) != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for i, want := range []string{"1", "2", "3"} {
		if r.calls[i].TestID != want {
			t.Fatalf("case %d ran %s, want %s", i, r.calls[i].TestID, want)
		}
		if !report.Results[i].Passed {
			t.Fatalf("case %s should pass: %+v", want, report.Results[i])
		}
	}
	if len(progress) != 3 || progress[2] != 3 {
		t.Fatalf("unexpected progress %v", progress)
	}
	if r.calls[1].Limits.CPUTimeMs != 500 || r.calls[1].Limits.MemoryMB != 128 {
		t.Fatalf("expected test override merged over problem limits, got %+v", r.calls[1].Limits)
	}
	if r.calls[0].Limits.WallTimeMs != 2000 {
		t.Fatalf("expected problem limit, got %+v", r.calls[0].Limits)
	}
}

func TestEvaluateFailFast(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]result.TestcaseResult{
		"1": {Stdout: "[0,1]"},
		"2": {Stdout: "[2,1]"},
	}}
	report, err := New(r).Evaluate(context.Background(), artifact(), twoSum(), Policy{Mode: ModeSubmit, FailFast: true}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(report.Results) != 2 || report.Total != 3 {
		t.Fatalf("expected stop after second case, got %d of %d", len(report.Results), report.Total)
	}
	if report.Results[1].Outcome != result.OutcomeWrongAnswer || report.Results[1].Passed {
		t.Fatalf("expected wrong answer, got %+v", report.Results[1])
	}
}

func TestEvaluateWithoutFailFastRunsAll(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]result.TestcaseResult{
		"1": {Outcome: result.OutcomeTimeLimitExceeded},
	}}
	report, err := New(r).Evaluate(context.Background(), artifact(), twoSum(), Policy{Mode: ModeSubmit}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected all cases, got %d", len(report.Results))
	}
	if report.Results[0].Outcome != result.OutcomeTimeLimitExceeded {
		t.Fatalf("runner outcome must be kept, got %s", report.Results[0].Outcome)
	}
}

func TestEvaluateRunModeVisibleOnly(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]result.TestcaseResult{
		"1": {Stdout: "[0,1]", Stderr: "debug line\n"},
		"2": {Outcome: result.OutcomeTimeLimitExceeded},
	}}
	report, err := New(r).Evaluate(context.Background(), artifact(), twoSum(), Policy{Mode: ModeRun, FailFast: true}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Total != 2 || len(report.Results) != 2 {
		t.Fatalf("expected visible cases only, got %+v", report)
	}
	if report.Results[0].Actual != "[0,1]" || report.Results[0].Expected != "[0,1]" || report.Results[0].Input != "[2,7,11,15]\n9" {
		t.Fatalf("unexpected detail: %+v", report.Results[0])
	}
	if report.ConsoleOutput != "Error: debug line\nTime Limit Exceeded\n" {
		t.Fatalf("unexpected console output %q", report.ConsoleOutput)
	}
}

func TestEvaluateComparatorFromProblem(t *testing.T) {
	p := twoSum()
	p.Comparator = compare.Config{Type: compare.TypeStructural}
	r := &scriptedRunner{outputs: map[string]result.TestcaseResult{
		"1": {Stdout: "[0, 1]"},
		"2": {Stdout: "[1, 2]"},
		"3": {Stdout: "[0, 1]"},
	}}
	report, err := New(r).Evaluate(context.Background(), artifact(), p, Policy{Mode: ModeSubmit}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for _, res := range report.Results {
		if !res.Passed {
			t.Fatalf("structural comparison should accept spacing: %+v", res)
		}
	}
}

func TestEvaluateInfrastructureError(t *testing.T) {
	r := &scriptedRunner{failOn: "2", outputs: map[string]result.TestcaseResult{"1": {Stdout: "[0,1]"}}}
	report, err := New(r).Evaluate(context.Background(), artifact(), twoSum(), Policy{Mode: ModeSubmit}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(report.Results) != 1 {
		t.Fatalf("expected finished cases kept, got %d", len(report.Results))
	}
}

func TestEvaluateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &scriptedRunner{}
	_, err := New(r).Evaluate(ctx, artifact(), twoSum(), Policy{Mode: ModeSubmit}, nil)
	if !errors.Is(err, context.Canceled) || len(r.calls) != 0 {
		t.Fatalf("expected cancellation before any run, got %v (%d calls)", err, len(r.calls))
	}
}
