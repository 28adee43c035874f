// Package harness feeds test cases through the runner and applies comparators.
package harness

import (
	"context"
	"fmt"
	"strings"

	"codejudge/internal/judge/compare"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/runner"
	appErr "codejudge/pkg/errors"
)

// Mode selects which cases are evaluated and how much detail is returned.
type Mode string

const (
	ModeRun    Mode = "run"
	ModeSubmit Mode = "submit"
)

// Policy controls one evaluation.
type Policy struct {
	Mode Mode
	// FailFast stops a submit evaluation at the first non-passing case.
	FailFast bool
}

// Artifact is a compiled submission ready to run.
type Artifact struct {
	SubmissionID string
	WorkDir      string
	Language     language.Spec
}

// ExecutionResult is one evaluated case.
type ExecutionResult struct {
	result.TestcaseResult
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
}

// Report holds the evaluated cases in test order.
type Report struct {
	Results       []ExecutionResult
	Total         int
	ConsoleOutput string
}

// Outcomes returns the per-case results for aggregation.
func (r Report) Outcomes() []result.TestcaseResult {
	out := make([]result.TestcaseResult, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.TestcaseResult
	}
	return out
}

// ProgressFunc is called after each case with the count done so far.
type ProgressFunc func(done, total int)

// Harness runs cases one at a time in catalog order.
type Harness struct {
	runner runner.Runner
}

// New creates a harness on top of r.
func New(r runner.Runner) *Harness {
	return &Harness{runner: r}
}

// Cases returns the cases a policy evaluates, in order.
func Cases(problem model.Problem, mode Mode) []model.TestCase {
	if mode == ModeRun {
		return problem.VisibleCases()
	}
	return problem.OrderedCases()
}

// Evaluate runs the cases selected by policy. An infrastructure failure stops
// the evaluation and is returned along with the cases finished so far.
func (h *Harness) Evaluate(ctx context.Context, art Artifact, problem model.Problem, policy Policy, progress ProgressFunc) (Report, error) {
	cmp, err := compare.New(problem.Comparator)
	if err != nil {
		return Report{}, appErr.Wrapf(err, appErr.JudgeInternalError, "invalid comparator for problem %s", problem.ID)
	}
	cases := Cases(problem, policy.Mode)
	report := Report{Total: len(cases), Results: make([]ExecutionResult, 0, len(cases))}
	var console strings.Builder

	for i, tc := range cases {
		if err := ctx.Err(); err != nil {
			report.ConsoleOutput = console.String()
			return report, err
		}
		res, err := h.runner.Run(ctx, runner.RunRequest{
			SubmissionID: art.SubmissionID,
			TestID:       caseID(tc, i),
			WorkDir:      art.WorkDir,
			Input:        tc.Input,
			Language:     art.Language,
			Limits:       problem.Limits().Merge(tc.Limits()),
		})
		if err != nil {
			report.ConsoleOutput = console.String()
			return report, err
		}

		exec := ExecutionResult{
			TestcaseResult: res,
			Input:          tc.Input,
			Expected:       tc.ExpectedOutput,
			Actual:         strings.TrimRight(res.Stdout, "\r\n"),
		}
		if res.Outcome == result.OutcomeAccepted && !cmp.Equal(tc.ExpectedOutput, res.Stdout) {
			exec.Outcome = result.OutcomeWrongAnswer
			exec.Message = fmt.Sprintf("wrong answer on test %s", exec.TestID)
		}
		exec.Passed = exec.Outcome.Passed()
		report.Results = append(report.Results, exec)
		if policy.Mode == ModeRun {
			writeConsole(&console, exec)
		}
		if progress != nil {
			progress(i+1, len(cases))
		}
		if !exec.Passed && policy.FailFast && policy.Mode == ModeSubmit {
			break
		}
	}
	report.ConsoleOutput = console.String()
	return report, nil
}

func caseID(tc model.TestCase, idx int) string {
	if tc.ID != "" {
		return tc.ID
	}
	return fmt.Sprintf("%d", idx+1)
}

func writeConsole(b *strings.Builder, res ExecutionResult) {
	if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
		fmt.Fprintf(b, "Error: %s\n", stderr)
	}
	switch res.Outcome {
	case result.OutcomeTimeLimitExceeded:
		b.WriteString("Time Limit Exceeded\n")
	case result.OutcomeMemoryLimitExceeded:
		b.WriteString("Memory Limit Exceeded\n")
	case result.OutcomeRuntimeError:
		fmt.Fprintf(b, "Runtime Error: %s\n", res.Message)
	}
}
