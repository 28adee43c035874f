// Package verdict tracks a submission through its judge states and reduces
// per-test outcomes into one final verdict.
package verdict

import (
	"sync"

	"codejudge/internal/judge/sandbox/result"
	appErr "codejudge/pkg/errors"
)

// Status is a submission state. Terminal statuses are verdicts.
type Status string

const (
	StatusQueued              Status = "Queued"
	StatusCompiling           Status = "Compiling"
	StatusRunning             Status = "Running"
	StatusAccepted            Status = "Accepted"
	StatusWrongAnswer         Status = "WrongAnswer"
	StatusCompileError        Status = "CompileError"
	StatusRuntimeError        Status = "RuntimeError"
	StatusTimeLimitExceeded   Status = "TimeLimitExceeded"
	StatusMemoryLimitExceeded Status = "MemoryLimitExceeded"
	StatusInternalError       Status = "InternalError"
)

var runningExits = []Status{
	StatusAccepted,
	StatusWrongAnswer,
	StatusRuntimeError,
	StatusTimeLimitExceeded,
	StatusMemoryLimitExceeded,
	StatusInternalError,
}

var transitions = map[Status][]Status{
	StatusQueued:    {StatusCompiling, StatusInternalError},
	StatusCompiling: {StatusRunning, StatusCompileError, StatusInternalError},
	StatusRunning:   runningExits,
}

// Terminal reports whether s is a final verdict.
func (s Status) Terminal() bool {
	switch s {
	case StatusQueued, StatusCompiling, StatusRunning:
		return false
	case "":
		return false
	default:
		return true
	}
}

// Code returns the error code that labels a terminal record. Accepted has none.
func (s Status) Code() appErr.ErrorCode {
	switch s {
	case StatusCompileError:
		return appErr.CompileError
	case StatusRuntimeError:
		return appErr.RuntimeError
	case StatusTimeLimitExceeded:
		return appErr.TimeLimitExceeded
	case StatusMemoryLimitExceeded:
		return appErr.MemoryLimitExceeded
	case StatusWrongAnswer:
		return appErr.WrongAnswer
	case StatusInternalError:
		return appErr.JudgeInternalError
	default:
		return 0
	}
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FromOutcome maps a test outcome onto the matching verdict.
func FromOutcome(outcome result.Outcome) Status {
	switch outcome {
	case result.OutcomeAccepted:
		return StatusAccepted
	case result.OutcomeWrongAnswer:
		return StatusWrongAnswer
	case result.OutcomeRuntimeError:
		return StatusRuntimeError
	case result.OutcomeTimeLimitExceeded:
		return StatusTimeLimitExceeded
	case result.OutcomeMemoryLimitExceeded:
		return StatusMemoryLimitExceeded
	default:
		return StatusInternalError
	}
}

// Tracker guards the state of one submission. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	status   Status
	onChange func(from, to Status)
}

// NewTracker starts a tracker in Queued. onChange may be nil; it is called
// after every accepted transition, outside the lock.
func NewTracker(onChange func(from, to Status)) *Tracker {
	return &Tracker{status: StatusQueued, onChange: onChange}
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Transition moves to the next state or returns InvalidStateTransition.
func (t *Tracker) Transition(to Status) error {
	t.mu.Lock()
	from := t.status
	if !CanTransition(from, to) {
		t.mu.Unlock()
		return appErr.Newf(appErr.InvalidStateTransition, "cannot move from %s to %s", from, to).
			WithDetail("from", string(from)).
			WithDetail("to", string(to))
	}
	t.status = to
	t.mu.Unlock()
	if t.onChange != nil {
		t.onChange(from, to)
	}
	return nil
}

// Fail moves any non-terminal state to InternalError.
func (t *Tracker) Fail() error {
	return t.Transition(StatusInternalError)
}
