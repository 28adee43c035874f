package spec

import "testing"

func TestMergeKeepsBaseForUnsetFields(t *testing.T) {
	base := ResourceLimit{CPUTimeMs: 1000, WallTimeMs: 3000, MemoryMB: 256, PIDs: 32}
	got := base.Merge(ResourceLimit{CPUTimeMs: 2000, OutputMB: 8})
	want := ResourceLimit{CPUTimeMs: 2000, WallTimeMs: 3000, MemoryMB: 256, OutputMB: 8, PIDs: 32}
	if got != want {
		t.Fatalf("merge: got %+v want %+v", got, want)
	}
}

func TestWallBudget(t *testing.T) {
	if got := (ResourceLimit{WallTimeMs: 2000}).WallBudgetMs(200); got != 2200 {
		t.Fatalf("expected 2200, got %d", got)
	}
	if got := (ResourceLimit{WallTimeMs: 2000}).WallBudgetMs(-5); got != 2000 {
		t.Fatalf("negative grace must be ignored, got %d", got)
	}
	if got := (ResourceLimit{}).WallBudgetMs(200); got != 0 {
		t.Fatalf("expected unlimited, got %d", got)
	}
}

func TestValidateNamesMissingField(t *testing.T) {
	ok := RunSpec{SubmissionID: "s", TestID: "1", WorkDir: "/w", Cmd: []string{"./main"}, Profile: "cpp"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	bad := ok
	bad.Cmd = nil
	if err := bad.Validate(); err == nil || err.Error() != "run spec: command is required" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHostPathPicksDeepestMount(t *testing.T) {
	rs := RunSpec{BindMounts: []MountSpec{
		{Source: "/var/judge/s1", Target: "/work"},
		{Source: "/var/judge/s1/tests", Target: "/work/tests/"},
		{Source: "", Target: "/ignored"},
	}}
	cases := map[string]string{
		"/work/output.txt": "/var/judge/s1/output.txt",
		"/work/tests/1.in": "/var/judge/s1/tests/1.in",
		"/work":            "/var/judge/s1",
		"/workspace/x":     "/workspace/x",
		"/ignored/x":       "/ignored/x",
		"":                 "",
	}
	for in, want := range cases {
		if got := rs.HostPath(in); got != want {
			t.Fatalf("HostPath(%q) = %q, want %q", in, got, want)
		}
	}
}
