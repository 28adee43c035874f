package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	httpclient "codejudge/internal/cli/http"
)

func TestResponseSummarizesSubmission(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, false, false)
	body := `{"code":0,"message":"success","data":{"id":"s1","status":"WrongAnswer","runtime":"12 ms","memory":"2.0 MB","test_cases_passed":1,"total_test_cases":3}}`
	r.Response(httpclient.ResponseInfo{StatusCode: 200, Body: []byte(body), Duration: time.Millisecond})

	got := out.String()
	if !strings.HasPrefix(got, "HTTP 200 (1ms)\n") {
		t.Fatalf("unexpected status line: %q", got)
	}
	if !strings.Contains(got, "WrongAnswer  s1  1/3 passed  12 ms  2.0 MB\n") {
		t.Fatalf("missing summary: %q", got)
	}
	if !strings.Contains(got, body) {
		t.Fatalf("missing raw body: %q", got)
	}
}

func TestSummaryListsFailedCases(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, false, false)
	data := json.RawMessage(`{"success":false,"status":"WrongAnswer","test_results":[{"test_id":"1","passed":true,"status":"Accepted"},{"test_id":"2","passed":false,"status":"WrongAnswer","expected":"[1,2]","actual":"[2,1]"}]}`)
	r.Summary(data)
	got := out.String()
	if strings.Contains(got, "case 1") {
		t.Fatalf("passed case printed: %q", got)
	}
	if !strings.Contains(got, `case 2: WrongAnswer expected "[1,2]" got "[2,1]"`) {
		t.Fatalf("failed case missing: %q", got)
	}
}

func TestSummaryIgnoresOtherShapes(t *testing.T) {
	var out bytes.Buffer
	New(&out, false, false).Summary(json.RawMessage(`[{"id":"python"}]`))
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}

func TestResponseErrorAndPrettyJSON(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, true, false)
	r.Response(httpclient.ResponseInfo{StatusCode: 404, Body: []byte(`{"code":3001,"message":"submission not found"}`)})
	got := out.String()
	if !strings.Contains(got, "error: submission not found") {
		t.Fatalf("missing error line: %q", got)
	}
	if !strings.Contains(got, "{\n  \"code\": 3001,") {
		t.Fatalf("expected indented body: %q", got)
	}
}

func TestStatusColor(t *testing.T) {
	if StatusColor("Accepted") == StatusColor("WrongAnswer") {
		t.Fatalf("accepted and wrong answer share a color")
	}
	if StatusColor("Running") != StatusColor("Queued") {
		t.Fatalf("in-flight statuses should share a color")
	}
}
