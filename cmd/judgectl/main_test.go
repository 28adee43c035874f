package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"codejudge/internal/cli/command"
	"codejudge/internal/cli/state"
)

func TestRootCommandRegistersAPICommands(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands {
		names[c.Name] = true
	}
	for _, name := range append(command.Names(command.Registry()), "repl", "pack") {
		if !names[name] {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestStatusCommandSendsUser(t *testing.T) {
	var gotPath, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser = r.Header.Get("X-User-Id")
		_, _ = w.Write([]byte(`{"code":0,"message":"success","data":{"id":"s1","status":"Accepted"}}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	args := []string{"judgectl",
		"--config", filepath.Join(dir, "none.yaml"),
		"--state", filepath.Join(dir, "state.json"),
		"--base", srv.URL,
		"--user", "dana",
		"--no-color",
		"status", "s1",
	}
	if err := newRootCommand().Run(context.Background(), args); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotPath != "/api/v1/submissions/s1" || gotUser != "dana" {
		t.Fatalf("unexpected request: path=%q user=%q", gotPath, gotUser)
	}
}

func TestSubmitCommandSavesState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"code":0,"message":"accepted","data":{"submission_id":"sub-42","status":"Queued"}}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	args := []string{"judgectl",
		"--config", filepath.Join(dir, "none.yaml"),
		"--state", statePath,
		"--base", srv.URL,
		"--no-color",
		"submit", "two-sum", "code=print(1)", "language=python",
	}
	if err := newRootCommand().Run(context.Background(), args); err != nil {
		t.Fatalf("run: %v", err)
	}
	st, err := state.Load(statePath)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.LastSubmissionID != "sub-42" || st.LastProblemID != "two-sum" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestMissingArgumentFails(t *testing.T) {
	dir := t.TempDir()
	args := []string{"judgectl",
		"--config", filepath.Join(dir, "none.yaml"),
		"--state", filepath.Join(dir, "state.json"),
		"cancel",
	}
	if err := newRootCommand().Run(context.Background(), args); err == nil {
		t.Fatalf("expected missing id error")
	}
}

func TestPackCheck(t *testing.T) {
	args := []string{"judgectl", "pack", "check", filepath.Join("..", "..", "problems", "two-sum")}
	if err := newRootCommand().Run(context.Background(), args); err != nil {
		t.Fatalf("pack check: %v", err)
	}
	if err := newRootCommand().Run(context.Background(), []string{"judgectl", "pack", "check"}); err == nil {
		t.Fatalf("expected error without directory")
	}
}
