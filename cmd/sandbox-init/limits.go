//go:build linux

package main

import (
	"fmt"

	"codejudge/internal/judge/sandbox/spec"

	"golang.org/x/sys/unix"
)

type rlimit struct {
	name     string
	resource int
	value    uint64
}

// rlimitsFor lists the per-process limits for l. Memory is left to the
// cgroup because managed runtimes reserve far more address space than they
// touch, which RLIMIT_AS would punish. RLIMIT_CPU gets one spare second so
// the engine sees the overrun before the kernel sends SIGXCPU.
func rlimitsFor(l spec.ResourceLimit) []rlimit {
	const mib = 1 << 20
	out := []rlimit{{"core", unix.RLIMIT_CORE, 0}}
	if l.CPUTimeMs > 0 {
		out = append(out, rlimit{"cpu", unix.RLIMIT_CPU, uint64((l.CPUTimeMs+999)/1000) + 1})
	}
	if l.OutputMB > 0 {
		out = append(out, rlimit{"fsize", unix.RLIMIT_FSIZE, uint64(l.OutputMB) * mib})
	}
	if l.StackMB > 0 {
		out = append(out, rlimit{"stack", unix.RLIMIT_STACK, uint64(l.StackMB) * mib})
	}
	if l.PIDs > 0 {
		out = append(out, rlimit{"nproc", unix.RLIMIT_NPROC, uint64(l.PIDs)})
	}
	return out
}

func applyRlimits(l spec.ResourceLimit) error {
	for _, rl := range rlimitsFor(l) {
		if err := unix.Setrlimit(rl.resource, &unix.Rlimit{Cur: rl.value, Max: rl.value}); err != nil {
			return fmt.Errorf("%s: %w", rl.name, err)
		}
	}
	return nil
}
