package model

import (
	"time"

	"codejudge/internal/judge/verdict"
)

// Progress counts finished test cases while a submission runs.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Submission is the persisted record of one judge request.
type Submission struct {
	ID              string         `json:"id"`
	ProblemID       string         `json:"problem_id"`
	UserID          string         `json:"user_id"`
	Code            string         `json:"code,omitempty"`
	Language        string         `json:"language"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	Status          verdict.Status `json:"status"`
	TestCasesPassed int            `json:"test_cases_passed"`
	TotalTestCases  int            `json:"total_test_cases"`
	RuntimeMs       int64          `json:"runtime_ms"`
	MemoryKB        int64          `json:"memory_kb"`
	ErrorCode       int            `json:"error_code,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CompileOutput   string         `json:"compile_output,omitempty"`
	Abandoned       bool           `json:"abandoned,omitempty"`
	Attempts        int            `json:"attempts"`
	Progress        Progress       `json:"progress"`
}

// Terminal reports whether the submission has its final verdict.
func (s Submission) Terminal() bool {
	return s.Status.Terminal()
}

// ApplySummary copies an aggregated verdict onto the record.
func (s *Submission) ApplySummary(sum verdict.Summary) {
	s.Status = sum.Status
	s.TestCasesPassed = sum.Passed
	s.TotalTestCases = sum.Total
	s.RuntimeMs = sum.RuntimeMs
	s.MemoryKB = sum.MemoryKB
	s.ErrorCode = int(sum.Status.Code())
	if sum.Status != verdict.StatusAccepted {
		s.ErrorMessage = sum.Message
	}
}

// StatusEventFinal is the only event type published today.
const StatusEventFinal = "final"

// StatusEvent is published when a submission reaches its verdict.
type StatusEvent struct {
	Type       string     `json:"type"`
	Submission Submission `json:"submission"`
	CreatedAt  int64      `json:"created_at"`
}
