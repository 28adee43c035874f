// Package security defines sandbox isolation and security profiles.
package security

import (
	"fmt"

	appErr "codejudge/pkg/errors"
)

// TaskType identifies the sandbox task category.
type TaskType string

const (
	TaskCompile TaskType = "compile"
	TaskRun     TaskType = "run"
)

// IsolationProfile describes namespace and seccomp settings.
// Image is only consulted by the container engine.
type IsolationProfile struct {
	RootFS         string
	SeccompProfile string
	DisableNetwork bool
	Image          string
}

// ProfileName builds the profile key for a language task.
func ProfileName(languageID string, task TaskType) string {
	if languageID == "" {
		return string(task)
	}
	return fmt.Sprintf("%s-%s", languageID, task)
}

// StaticResolver maps profile names to isolation settings held in memory.
// Names without an explicit entry fall back to the default profile.
type StaticResolver struct {
	fallback IsolationProfile
	profiles map[string]IsolationProfile
}

// NewStaticResolver creates a resolver. Network is always disabled.
func NewStaticResolver(fallback IsolationProfile, profiles map[string]IsolationProfile) *StaticResolver {
	fallback.DisableNetwork = true
	copied := make(map[string]IsolationProfile, len(profiles))
	for name, prof := range profiles {
		prof.DisableNetwork = true
		if prof.RootFS == "" {
			prof.RootFS = fallback.RootFS
		}
		if prof.SeccompProfile == "" {
			prof.SeccompProfile = fallback.SeccompProfile
		}
		if prof.Image == "" {
			prof.Image = fallback.Image
		}
		copied[name] = prof
	}
	return &StaticResolver{fallback: fallback, profiles: copied}
}

// Resolve maps a profile name to isolation settings.
func (r *StaticResolver) Resolve(name string) (IsolationProfile, error) {
	if name == "" {
		return IsolationProfile{}, appErr.ValidationError("profile", "required")
	}
	if prof, ok := r.profiles[name]; ok {
		return prof, nil
	}
	return r.fallback, nil
}
