//go:build linux

package main

import (
	"os"
	"path/filepath"
	"testing"

	"codejudge/internal/judge/sandbox/spec"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func TestRlimitsFor(t *testing.T) {
	got := map[string]uint64{}
	for _, rl := range rlimitsFor(spec.ResourceLimit{CPUTimeMs: 1500, OutputMB: 2, PIDs: 8}) {
		got[rl.name] = rl.value
	}
	if got["cpu"] != 3 {
		t.Fatalf("cpu seconds = %d, want 3", got["cpu"])
	}
	if got["fsize"] != 2<<20 || got["nproc"] != 8 {
		t.Fatalf("unexpected limits: %v", got)
	}
	if v, ok := got["core"]; !ok || v != 0 {
		t.Fatalf("core dumps must be disabled: %v", got)
	}
	if _, ok := got["stack"]; ok {
		t.Fatalf("zero stack limit should be omitted")
	}
}

func TestHostViewRemapsAbsolutePaths(t *testing.T) {
	rs := spec.RunSpec{
		WorkDir:    "/work",
		Cmd:        []string{"/work/main", "-v", "rel/path"},
		StdoutPath: "/work/out.txt",
		BindMounts: []spec.MountSpec{{Source: "/srv/jobs/42", Target: "/work"}},
	}
	got := hostView(rs)
	if got.WorkDir != "/srv/jobs/42" || got.StdoutPath != "/srv/jobs/42/out.txt" {
		t.Fatalf("unexpected paths: %+v", got)
	}
	if got.Cmd[0] != "/srv/jobs/42/main" || got.Cmd[2] != "rel/path" {
		t.Fatalf("unexpected cmd: %v", got.Cmd)
	}
	if got.BindMounts != nil || rs.Cmd[0] != "/work/main" {
		t.Fatalf("hostView must not touch the input")
	}
}

func TestParseAction(t *testing.T) {
	if act, err := parseAction("scmp_act_allow", nil); err != nil || act != seccomp.ActAllow {
		t.Fatalf("allow: %v %v", act, err)
	}
	act, err := parseAction("SCMP_ACT_ERRNO", nil)
	if err != nil || act != seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)) {
		t.Fatalf("errno default: %v %v", act, err)
	}
	if _, err := parseAction("SCMP_ACT_NOTIFY", nil); err == nil {
		t.Fatalf("expected unsupported action error")
	}
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	body := `{"defaultAction":"SCMP_ACT_ERRNO","syscalls":[{"names":["read","write"],"action":"SCMP_ACT_ALLOW"}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := loadProfile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.DefaultAction != "SCMP_ACT_ERRNO" || len(p.Syscalls) != 1 || len(p.Syscalls[0].Names) != 2 {
		t.Fatalf("unexpected profile: %+v", p)
	}
}
