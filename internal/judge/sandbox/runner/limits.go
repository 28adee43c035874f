package runner

import (
	"fmt"
	"math"

	"codejudge/internal/judge/language"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
)

// effectiveLimits layers overrides on the language defaults, then scales
// time and memory by the language multipliers.
func effectiveLimits(lang language.Spec, overrides spec.ResourceLimit) spec.ResourceLimit {
	l := lang.DefaultLimits.Merge(overrides)
	l.CPUTimeMs = scale(l.CPUTimeMs, lang.TimeMultiplier)
	l.WallTimeMs = scale(l.WallTimeMs, lang.TimeMultiplier)
	l.MemoryMB = scale(l.MemoryMB, lang.MemoryMultiplier)
	return l
}

// scale rounds up; non-positive factors leave v alone.
func scale(v int64, factor float64) int64 {
	switch {
	case v <= 0:
		return 0
	case factor <= 0:
		return v
	}
	return int64(math.Ceil(float64(v) * factor))
}

// classify maps a finished sandbox run onto a per-case outcome. Accepted
// only means the process stayed within limits; the harness compares output.
func classify(out result.RunResult, limits spec.ResourceLimit) (result.Outcome, string) {
	memoryCapKB := limits.MemoryMB * 1024
	outputCapKB := limits.OutputMB * 1024
	switch {
	case out.TimedOut, out.ExitCode == -1:
		return result.OutcomeTimeLimitExceeded, "time limit exceeded"
	case out.OomKilled, memoryCapKB > 0 && out.MemoryKB > memoryCapKB:
		return result.OutcomeMemoryLimitExceeded, "memory limit exceeded"
	case outputCapKB > 0 && out.OutputKB > outputCapKB:
		return result.OutcomeRuntimeError, "output limit exceeded"
	case out.ExitCode > 128 && out.ExitCode <= 128+64:
		return result.OutcomeRuntimeError, fmt.Sprintf("killed by signal %d", out.ExitCode-128)
	case out.ExitCode != 0:
		return result.OutcomeRuntimeError, fmt.Sprintf("exit code %d", out.ExitCode)
	}
	return result.OutcomeAccepted, ""
}
