//go:build linux

// Command sandbox-init is exec'd by the native engine, inside fresh
// namespaces when they are enabled. It reads one security.InitRequest from
// stdin, locks itself down step by step and finally execs the user command.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"

	"golang.org/x/sys/unix"
)

const fallbackPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

type step struct {
	name string
	run  func(*security.InitRequest) error
}

// Order matters: seccomp goes last so the earlier steps may still use the
// syscalls it forbids.
var steps = []step{
	{"validate", validate},
	{"filesystem", prepareFilesystem},
	{"chdir", func(r *security.InitRequest) error { return os.Chdir(r.RunSpec.WorkDir) }},
	{"rlimits", func(r *security.InitRequest) error { return applyRlimits(r.RunSpec.Limits) }},
	{"stdio", func(r *security.InitRequest) error { return redirectStdio(r.RunSpec) }},
	{"seccomp", func(r *security.InitRequest) error {
		if !r.EnableSeccomp || r.Isolation.SeccompProfile == "" {
			return nil
		}
		return applySeccomp(r.Isolation.SeccompProfile)
	}},
}

func main() {
	var req security.InitRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fail("decode request", err)
	}
	for _, s := range steps {
		if err := s.run(&req); err != nil {
			fail(s.name, err)
		}
	}
	fail("exec", execUser(req.RunSpec))
}

func fail(stage string, err error) {
	fmt.Fprintf(os.Stderr, "sandbox-init: %s: %v\n", stage, err)
	os.Exit(1)
}

func validate(r *security.InitRequest) error {
	switch {
	case len(r.RunSpec.Cmd) == 0:
		return errors.New("command is required")
	case r.RunSpec.WorkDir == "":
		return errors.New("work dir is required")
	}
	return nil
}

// prepareFilesystem mounts inside the new namespace. Without one the bind
// targets do not exist, so the command runs against the host paths behind
// them instead.
func prepareFilesystem(r *security.InitRequest) error {
	if r.EnableNs {
		return enterRoot(r.Isolation.RootFS, r.RunSpec.BindMounts)
	}
	if r.HostPaths() {
		r.RunSpec = hostView(r.RunSpec)
	}
	return nil
}

// hostView rewrites the work dir, stream paths and absolute arguments to
// their host paths.
func hostView(rs spec.RunSpec) spec.RunSpec {
	abs := func(p string) string {
		if !filepath.IsAbs(p) {
			return p
		}
		return rs.HostPath(p)
	}
	out := rs
	out.WorkDir = abs(rs.WorkDir)
	out.StdinPath = abs(rs.StdinPath)
	out.StdoutPath = abs(rs.StdoutPath)
	out.StderrPath = abs(rs.StderrPath)
	out.Cmd = make([]string, len(rs.Cmd))
	for i, arg := range rs.Cmd {
		out.Cmd[i] = abs(arg)
	}
	out.BindMounts = nil
	return out
}

// execUser replaces this process with the user command under a clean
// environment built only from the run spec.
func execUser(rs spec.RunSpec) error {
	env := rs.Env
	if len(env) == 0 {
		env = []string{fallbackPath}
	}
	os.Clearenv()
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	bin, err := exec.LookPath(rs.Cmd[0])
	if err != nil {
		return err
	}
	return unix.Exec(bin, rs.Cmd, env)
}
