package language

import (
	"reflect"
	"testing"

	appErr "codejudge/pkg/errors"
)

func TestRegistryResolve(t *testing.T) {
	reg, err := NewRegistry(DefaultSpecs())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	cases := []struct {
		name string
		want string
	}{
		{name: "python", want: "python"},
		{name: "Py", want: "python"},
		{name: " JS ", want: "javascript"},
		{name: "node", want: "javascript"},
		{name: "C++", want: "cpp"},
		{name: "golang", want: "go"},
		{name: "java", want: "java"},
		{name: "c", want: "c"},
	}
	for _, tc := range cases {
		got, err := reg.Resolve(tc.name)
		if err != nil {
			t.Fatalf("resolve %q: %v", tc.name, err)
		}
		if got.ID != tc.want {
			t.Fatalf("resolve %q: got %s want %s", tc.name, got.ID, tc.want)
		}
	}
}

func TestRegistryUnsupported(t *testing.T) {
	reg, err := NewRegistry(DefaultSpecs())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, err = reg.Resolve("brainfuck")
	if !appErr.Is(err, appErr.UnsupportedLanguage) {
		t.Fatalf("expected UnsupportedLanguage, got %v", err)
	}
	if got := appErr.GetError(err).Details["language"]; got != "brainfuck" {
		t.Fatalf("expected language detail, got %v", got)
	}
	if _, err := reg.Resolve(""); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error for empty language, got %v", err)
	}
}

func TestRegistryRejectsInvalidSpecs(t *testing.T) {
	cases := []struct {
		name  string
		specs []Spec
	}{
		{name: "empty", specs: nil},
		{name: "missing_run", specs: []Spec{{ID: "x", SourceFile: "x.src"}}},
		{name: "compile_without_template", specs: []Spec{{ID: "x", SourceFile: "x.c", CompileEnabled: true, RunCmdTpl: "{bin}"}}},
		{name: "bad_quotes", specs: []Spec{{ID: "x", SourceFile: "x.py", RunCmdTpl: "python3 '{src}"}}},
		{name: "duplicate", specs: []Spec{
			{ID: "x", SourceFile: "a", RunCmdTpl: "a"},
			{ID: "X", SourceFile: "b", RunCmdTpl: "b"},
		}},
		{name: "alias_shadows_id", specs: []Spec{
			{ID: "a", SourceFile: "a", RunCmdTpl: "a"},
			{ID: "b", SourceFile: "b", RunCmdTpl: "b", Aliases: []string{"a"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.specs); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSpecExpand(t *testing.T) {
	reg, err := NewRegistry(DefaultSpecs())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	cpp, _ := reg.Resolve("cpp")
	cmd, err := cpp.Expand(cpp.BuildTemplate(), "/work")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []string{"g++", "-O2", "-std=c++17", "-pipe", "-o", "/work/main", "/work/main.cpp"}
	if !reflect.DeepEqual(cmd, want) {
		t.Fatalf("unexpected command: %v", cmd)
	}

	java, _ := reg.Resolve("java")
	cmd, err = java.Expand(java.RunCmdTpl, "/work")
	if err != nil {
		t.Fatalf("expand java: %v", err)
	}
	if cmd[len(cmd)-1] != "Main" || cmd[len(cmd)-2] != "/work" {
		t.Fatalf("unexpected java command: %v", cmd)
	}

	py, _ := reg.Resolve("python")
	if !py.HasBuildStep() || py.CompileEnabled {
		t.Fatalf("python should run a syntax check without compiling")
	}
	noBuild := Spec{ID: "sh", SourceFile: "main.sh", RunCmdTpl: "/bin/sh {src}"}
	if noBuild.HasBuildStep() {
		t.Fatalf("expected no build step")
	}
}

func TestRegistryListOrder(t *testing.T) {
	reg, err := NewRegistry(DefaultSpecs())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	var ids []string
	for _, s := range reg.List() {
		ids = append(ids, s.ID)
	}
	want := []string{"javascript", "python", "java", "cpp", "c", "go"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("unexpected order: %v", ids)
	}
}
