package security

import "codejudge/internal/judge/sandbox/spec"

// InitRequest is the JSON document the native engine writes to sandbox-init's stdin.
type InitRequest struct {
	RunSpec       spec.RunSpec
	Isolation     IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
}

// HostPaths reports whether the request mounts anything, which requires namespaces.
func (r InitRequest) HostPaths() bool {
	return r.Isolation.RootFS != "" || len(r.RunSpec.BindMounts) > 0
}
