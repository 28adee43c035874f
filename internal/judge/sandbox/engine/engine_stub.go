//go:build !linux

package engine

import (
	"runtime"

	appErr "codejudge/pkg/errors"
)

// NewEngine refuses to build the native driver off linux. The docker driver
// still works there.
func NewEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	return nil, appErr.New(appErr.SandboxUnavailable).
		WithMessagef("native sandbox needs linux namespaces and cgroups, not %s; use sandbox.driver=docker", runtime.GOOS)
}
