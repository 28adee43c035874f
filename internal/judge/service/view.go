package service

import (
	"fmt"
	"time"

	"codejudge/internal/judge/harness"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/verdict"
)

// TestResultView is one visible case of a run response.
type TestResultView struct {
	TestID   string `json:"test_id"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Status   string `json:"status"`
	Runtime  string `json:"runtime"`
}

// RunResponse is returned by synchronous run requests.
type RunResponse struct {
	Success       bool             `json:"success"`
	Status        verdict.Status   `json:"status"`
	TestResults   []TestResultView `json:"test_results"`
	Runtime       string           `json:"runtime"`
	RuntimeMs     int64            `json:"runtime_ms"`
	Memory        string           `json:"memory"`
	MemoryKB      int64            `json:"memory_kb"`
	ConsoleOutput string           `json:"console_output"`
	CompileOutput string           `json:"compile_output,omitempty"`
	Error         string           `json:"error,omitempty"`
}

func newRunResponse(sum verdict.Summary, report harness.Report) RunResponse {
	resp := RunResponse{
		Success:       sum.Status == verdict.StatusAccepted,
		Status:        sum.Status,
		TestResults:   make([]TestResultView, 0, len(report.Results)),
		Runtime:       FormatRuntime(sum.RuntimeMs),
		RuntimeMs:     sum.RuntimeMs,
		Memory:        FormatMemory(sum.MemoryKB),
		MemoryKB:      sum.MemoryKB,
		ConsoleOutput: report.ConsoleOutput,
	}
	if !resp.Success {
		resp.Error = sum.Message
	}
	for _, res := range report.Results {
		resp.TestResults = append(resp.TestResults, TestResultView{
			TestID:   res.TestID,
			Input:    res.Input,
			Expected: res.Expected,
			Actual:   res.Actual,
			Passed:   res.Passed,
			Status:   outcomeStatus(res.Outcome),
			Runtime:  FormatRuntime(res.TimeMs),
		})
	}
	return resp
}

func newCompileErrorResponse(message, log string) RunResponse {
	return RunResponse{
		Status:        verdict.StatusCompileError,
		TestResults:   []TestResultView{},
		Runtime:       FormatRuntime(0),
		Memory:        FormatMemory(0),
		ConsoleOutput: log,
		CompileOutput: log,
		Error:         message,
	}
}

// SubmissionView is the API rendering of a submission.
type SubmissionView struct {
	ID              string         `json:"id"`
	ProblemID       string         `json:"problem_id"`
	UserID          string         `json:"user_id"`
	Language        string         `json:"language"`
	Status          verdict.Status `json:"status"`
	Runtime         string         `json:"runtime"`
	RuntimeMs       int64          `json:"runtime_ms"`
	Memory          string         `json:"memory"`
	MemoryKB        int64          `json:"memory_kb"`
	TestCasesPassed int            `json:"test_cases_passed"`
	TotalTestCases  int            `json:"total_test_cases"`
	ErrorCode       int            `json:"error_code,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CompileOutput   string         `json:"compile_output,omitempty"`
	Abandoned       bool           `json:"abandoned,omitempty"`
	Attempts        int            `json:"attempts"`
	Progress        model.Progress `json:"progress"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// NewSubmissionView renders sub. Source code is never included.
func NewSubmissionView(sub model.Submission) SubmissionView {
	return SubmissionView{
		ID:              sub.ID,
		ProblemID:       sub.ProblemID,
		UserID:          sub.UserID,
		Language:        sub.Language,
		Status:          sub.Status,
		Runtime:         FormatRuntime(sub.RuntimeMs),
		RuntimeMs:       sub.RuntimeMs,
		Memory:          FormatMemory(sub.MemoryKB),
		MemoryKB:        sub.MemoryKB,
		TestCasesPassed: sub.TestCasesPassed,
		TotalTestCases:  sub.TotalTestCases,
		ErrorCode:       sub.ErrorCode,
		ErrorMessage:    sub.ErrorMessage,
		CompileOutput:   sub.CompileOutput,
		Abandoned:       sub.Abandoned,
		Attempts:        sub.Attempts,
		Progress:        sub.Progress,
		SubmittedAt:     sub.SubmittedAt,
		FinishedAt:      sub.FinishedAt,
	}
}

// NewSubmissionViews renders a page of submissions.
func NewSubmissionViews(subs []model.Submission) []SubmissionView {
	views := make([]SubmissionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, NewSubmissionView(sub))
	}
	return views
}

// FormatRuntime renders milliseconds as "<n> ms".
func FormatRuntime(ms int64) string {
	return fmt.Sprintf("%d ms", ms)
}

// FormatMemory renders kilobytes as "<n.n> MB".
func FormatMemory(kb int64) string {
	return fmt.Sprintf("%.1f MB", float64(kb)/1024)
}
