package verdict

import "codejudge/internal/judge/sandbox/result"

// Summary is the reduced outcome of a judged submission.
type Summary struct {
	Status       Status `json:"status"`
	Passed       int    `json:"test_cases_passed"`
	Total        int    `json:"total_test_cases"`
	Attempted    int    `json:"attempted"`
	RuntimeMs    int64  `json:"runtime_ms"`
	MemoryKB     int64  `json:"memory_kb"`
	FailedTestID string `json:"failed_test_id,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Aggregate reduces results, given in test order, to one verdict. The first
// non-passing result decides the kind. Runtime and memory are maxima over the
// executed cases. total is the number of cases under the active policy.
func Aggregate(results []result.TestcaseResult, total int) Summary {
	sum := Summary{Status: StatusAccepted, Total: total, Attempted: len(results)}
	if total < len(results) {
		sum.Total = len(results)
	}
	decided := false
	for _, res := range results {
		if res.TimeMs > sum.RuntimeMs {
			sum.RuntimeMs = res.TimeMs
		}
		if res.MemoryKB > sum.MemoryKB {
			sum.MemoryKB = res.MemoryKB
		}
		if res.Outcome.Passed() {
			sum.Passed++
			continue
		}
		if !decided {
			decided = true
			sum.Status = FromOutcome(res.Outcome)
			sum.FailedTestID = res.TestID
			sum.Message = res.Message
		}
	}
	if !decided && sum.Attempted < sum.Total {
		// Cases were skipped without a failure, which only happens on abort.
		sum.Status = StatusInternalError
		sum.Message = "not all test cases were executed"
	}
	return sum
}

// CompileFailed is the summary for a submission that never reached Running.
func CompileFailed(total int, message string) Summary {
	return Summary{Status: StatusCompileError, Total: total, Message: message}
}
