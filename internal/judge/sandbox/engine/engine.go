// Package engine executes sandboxed processes under resource limits.
package engine

import (
	"context"
	"fmt"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	KillSubmission(ctx context.Context, submissionID string) error
}

// ProfileResolver resolves a profile name into an isolation profile.
type ProfileResolver interface {
	Resolve(profile string) (security.IsolationProfile, error)
}

// Open builds the engine selected by cfg.Driver.
func Open(cfg Config, resolver ProfileResolver) (Engine, error) {
	switch cfg.Driver {
	case "", DriverNative:
		return NewEngine(cfg, resolver)
	case DriverDocker:
		return NewDockerEngine(cfg, resolver)
	default:
		return nil, fmt.Errorf("unknown sandbox driver %q", cfg.Driver)
	}
}
