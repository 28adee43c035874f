package security

import "testing"

func TestStaticResolver(t *testing.T) {
	resolver := NewStaticResolver(
		IsolationProfile{RootFS: "/srv/rootfs", SeccompProfile: "default.json", Image: "judge/base"},
		map[string]IsolationProfile{
			ProfileName("python", TaskRun):  {Image: "python:3.12-slim"},
			ProfileName("cpp", TaskCompile): {SeccompProfile: ""},
		},
	)

	prof, err := resolver.Resolve("python-run")
	if err != nil {
		t.Fatalf("resolve python-run: %v", err)
	}
	if prof.Image != "python:3.12-slim" || prof.RootFS != "/srv/rootfs" || prof.SeccompProfile != "default.json" {
		t.Fatalf("unexpected profile: %+v", prof)
	}
	if !prof.DisableNetwork {
		t.Fatalf("expected network disabled")
	}

	prof, err = resolver.Resolve("go-run")
	if err != nil {
		t.Fatalf("resolve fallback: %v", err)
	}
	if prof.Image != "judge/base" || !prof.DisableNetwork {
		t.Fatalf("unexpected fallback profile: %+v", prof)
	}

	if _, err := resolver.Resolve(""); err == nil {
		t.Fatalf("expected error for empty profile name")
	}
}

func TestProfileName(t *testing.T) {
	if got := ProfileName("java", TaskCompile); got != "java-compile" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := ProfileName("", TaskRun); got != "run" {
		t.Fatalf("unexpected name %q", got)
	}
}
