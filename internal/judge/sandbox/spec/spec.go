// Package spec describes one sandboxed process: what to run, where its
// streams go and the limits it runs under.
package spec

import (
	"errors"
	"path/filepath"
	"strings"
)

// ResourceLimit holds hard limits. Zero means unlimited.
type ResourceLimit struct {
	CPUTimeMs  int64 `yaml:"cpuTimeMs"`
	WallTimeMs int64 `yaml:"wallTimeMs"`
	MemoryMB   int64 `yaml:"memoryMB"`
	StackMB    int64 `yaml:"stackMB"`
	OutputMB   int64 `yaml:"outputMB"`
	PIDs       int64 `yaml:"pids"`
}

// Merge returns l with every positive field of override applied.
func (l ResourceLimit) Merge(override ResourceLimit) ResourceLimit {
	pick := func(cur, next int64) int64 {
		if next > 0 {
			return next
		}
		return cur
	}
	return ResourceLimit{
		CPUTimeMs:  pick(l.CPUTimeMs, override.CPUTimeMs),
		WallTimeMs: pick(l.WallTimeMs, override.WallTimeMs),
		MemoryMB:   pick(l.MemoryMB, override.MemoryMB),
		StackMB:    pick(l.StackMB, override.StackMB),
		OutputMB:   pick(l.OutputMB, override.OutputMB),
		PIDs:       pick(l.PIDs, override.PIDs),
	}
}

// WallBudgetMs is the wall clock allowance including grace, or 0 when the
// wall time is unlimited.
func (l ResourceLimit) WallBudgetMs(graceMs int64) int64 {
	if l.WallTimeMs <= 0 {
		return 0
	}
	return l.WallTimeMs + max(graceMs, 0)
}

type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec is one sandboxed process. Paths are as seen inside the sandbox;
// BindMounts map them back to the host.
type RunSpec struct {
	SubmissionID string
	TestID       string
	WorkDir      string
	Cmd          []string
	Env          []string
	StdinPath    string
	StdoutPath   string
	StderrPath   string
	BindMounts   []MountSpec
	Profile      string
	Limits       ResourceLimit
}

// Validate reports the first missing required field.
func (r RunSpec) Validate() error {
	switch {
	case r.SubmissionID == "":
		return errors.New("run spec: submission id is required")
	case r.TestID == "":
		return errors.New("run spec: test id is required")
	case r.WorkDir == "":
		return errors.New("run spec: work dir is required")
	case len(r.Cmd) == 0:
		return errors.New("run spec: command is required")
	case r.Profile == "":
		return errors.New("run spec: profile is required")
	}
	return nil
}

// HostPath maps a sandbox path to the host through the deepest bind mount
// covering it. Paths outside every mount come back unchanged.
func (r RunSpec) HostPath(p string) string {
	if p == "" {
		return ""
	}
	clean := filepath.Clean(p)
	best, depth := "", -1
	for _, m := range r.BindMounts {
		if m.Source == "" || m.Target == "" {
			continue
		}
		target := filepath.Clean(m.Target)
		rel, err := filepath.Rel(target, clean)
		if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
			continue
		}
		if len(target) > depth {
			best, depth = filepath.Join(m.Source, rel), len(target)
		}
	}
	if depth < 0 {
		return p
	}
	return best
}
