// Package result defines sandbox execution results and outcome mapping.
package result

// Outcome classifies a single execution against its test case.
type Outcome string

const (
	OutcomeAccepted            Outcome = "Accepted"
	OutcomeWrongAnswer         Outcome = "WrongAnswer"
	OutcomeRuntimeError        Outcome = "RuntimeError"
	OutcomeTimeLimitExceeded   Outcome = "TimeLimitExceeded"
	OutcomeMemoryLimitExceeded Outcome = "MemoryLimitExceeded"
	OutcomeInternalError       Outcome = "InternalError"
)

// Passed reports whether the outcome counts toward test_cases_passed.
func (o Outcome) Passed() bool {
	return o == OutcomeAccepted
}

// RunResult captures raw sandbox execution data.
type RunResult struct {
	ExitCode   int
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64
	Stdout     string
	Stderr     string
	OomKilled  bool
	TimedOut   bool
}

// CompileResult contains the outcome of the build step.
// Skipped is set for languages that have nothing to build or check.
type CompileResult struct {
	OK       bool
	Skipped  bool
	ExitCode int
	TimeMs   int64
	MemoryKB int64
	Log      string
	Error    string
}

// TestcaseResult contains per-testcase execution outcomes.
type TestcaseResult struct {
	TestID     string
	Outcome    Outcome
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64
	ExitCode   int
	Stdout     string
	Stderr     string
	Message    string
}
