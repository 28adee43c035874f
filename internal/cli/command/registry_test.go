package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestParseArgsPositionalAndAliases(t *testing.T) {
	cmd := Registry()["submit"]
	params, err := ParseArgs(cmd, []string{"two-sum", "main.py", "lang=python3", "w=true"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params.Get("problem") != "two-sum" || params.Get("code_file") != "main.py" {
		t.Fatalf("unexpected positional params: %v", params)
	}
	if params.Get("language") != "python3" || params.Get("wait") != "true" {
		t.Fatalf("aliases not canonicalized: %v", params)
	}
	if _, err := ParseArgs(Registry()["stats"], []string{"extra"}); err == nil {
		t.Fatalf("expected error for unexpected argument")
	}
}

func TestBuildSubmitRequestReadsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sol.cpp")
	if err := os.WriteFile(file, []byte("int main(){}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cmd := Registry()["submit"]
	req, err := BuildRequest(cmd, Params{"problem": "two sum", "code_file": file, "wait": "true"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Method != "POST" || req.Path != "/api/v1/problems/two%20sum/submit?wait=true" {
		t.Fatalf("unexpected request line: %s %s", req.Method, req.Path)
	}
	var body codePayload
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Language != "cpp" || body.Code != "int main(){}" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestBuildRequestErrors(t *testing.T) {
	reg := Registry()
	cases := []struct {
		name   string
		cmd    Command
		params Params
	}{
		{name: "missing_path_param", cmd: reg["status"], params: Params{}},
		{name: "missing_code", cmd: reg["run"], params: Params{"problem": "p", "language": "python"}},
		{name: "unknown_language", cmd: reg["run"], params: Params{"problem": "p", "code": "x"}},
		{name: "bad_limit", cmd: reg["history"], params: Params{"user": "u", "limit": "ten"}},
		{name: "bad_wait", cmd: reg["submit"], params: Params{"problem": "p", "code": "x", "language": "go", "wait": "maybe"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := BuildRequest(tc.cmd, tc.params); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestBuildHistoryQuery(t *testing.T) {
	req, err := BuildRequest(Registry()["history"], Params{"user": "alice", "limit": "5", "offset": "10"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Path != "/api/v1/users/alice/submissions?limit=5&offset=10" || req.Body != nil {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestApplyDefaultsAndMissing(t *testing.T) {
	cmd := Registry()["cancel"]
	params := Params{}
	if len(Missing(cmd, params)) != 1 {
		t.Fatalf("expected id missing")
	}
	ApplyDefaults(cmd, params, func(key string) string {
		if key == DefaultSubmission {
			return "sub-1"
		}
		return ""
	})
	if params.Get("id") != "sub-1" || len(Missing(cmd, params)) != 0 {
		t.Fatalf("default not applied: %v", params)
	}
	ApplyDefaults(cmd, Params{"id": "explicit"}, func(string) string {
		t.Fatalf("lookup called for explicit value")
		return ""
	})
}

func TestLanguageForFile(t *testing.T) {
	cases := map[string]string{"a.py": "python", "B.CPP": "cpp", "x.mjs": "javascript", "Main.java": "java", "noext": ""}
	for file, want := range cases {
		if got := LanguageForFile(file); got != want {
			t.Fatalf("%s: got %q want %q", file, got, want)
		}
	}
}
