// Package render prints judge API responses for humans.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	httpclient "codejudge/internal/cli/http"

	"github.com/fatih/color"
)

// Renderer writes responses to out.
type Renderer struct {
	out    io.Writer
	pretty bool
	color  bool
}

func New(out io.Writer, pretty, useColor bool) *Renderer {
	return &Renderer{out: out, pretty: pretty, color: useColor}
}

// summary covers the fields shared by submission views and run results.
type summary struct {
	ID              string `json:"id"`
	SubmissionID    string `json:"submission_id"`
	Status          string `json:"status"`
	Runtime         string `json:"runtime"`
	Memory          string `json:"memory"`
	TestCasesPassed int    `json:"test_cases_passed"`
	TotalTestCases  int    `json:"total_test_cases"`
	ErrorMessage    string `json:"error_message"`
	Error           string `json:"error"`
	CompileOutput   string `json:"compile_output"`
	TestResults     []struct {
		TestID   string `json:"test_id"`
		Passed   bool   `json:"passed"`
		Status   string `json:"status"`
		Expected string `json:"expected"`
		Actual   string `json:"actual"`
	} `json:"test_results"`
}

// Response prints the status line, a verdict summary when the body carries
// one, and the body itself.
func (r *Renderer) Response(resp httpclient.ResponseInfo) {
	statusColor := color.FgGreen
	if resp.StatusCode >= 400 {
		statusColor = color.FgRed
	} else if resp.StatusCode == 202 {
		statusColor = color.FgYellow
	}
	r.line("%s (%s)", r.paint(statusColor, fmt.Sprintf("HTTP %d", resp.StatusCode)), resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if env, err := resp.Envelope(); err == nil {
		if resp.StatusCode >= 400 {
			r.line("%s %s", r.paint(color.FgRed, "error:"), env.Message)
		} else {
			r.Summary(env.Data)
		}
	}
	r.JSON(resp.Body)
}

// Summary prints a one-line verdict plus failing cases. Bodies that are not
// submission shaped print nothing.
func (r *Renderer) Summary(data json.RawMessage) {
	var s summary
	if err := json.Unmarshal(data, &s); err != nil || s.Status == "" {
		return
	}
	id := s.ID
	if id == "" {
		id = s.SubmissionID
	}
	parts := []string{r.paint(StatusColor(s.Status), s.Status)}
	if id != "" {
		parts = append(parts, id)
	}
	if s.TotalTestCases > 0 {
		parts = append(parts, fmt.Sprintf("%d/%d passed", s.TestCasesPassed, s.TotalTestCases))
	}
	if s.Runtime != "" {
		parts = append(parts, s.Runtime)
	}
	if s.Memory != "" {
		parts = append(parts, s.Memory)
	}
	r.line("%s", strings.Join(parts, "  "))
	for _, tc := range s.TestResults {
		if tc.Passed {
			continue
		}
		r.line("  case %s: %s expected %q got %q", tc.TestID, r.paint(StatusColor(tc.Status), tc.Status), tc.Expected, tc.Actual)
	}
	if msg := firstNonEmpty(s.ErrorMessage, s.Error); msg != "" {
		r.line("  %s", msg)
	}
	if s.CompileOutput != "" {
		r.line("%s", strings.TrimRight(s.CompileOutput, "\n"))
	}
}

// JSON prints raw, indented when pretty output is on.
func (r *Renderer) JSON(raw []byte) {
	if r.pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err == nil {
			r.line("%s", buf.String())
			return
		}
	}
	r.line("%s", strings.TrimRight(string(raw), "\n"))
}

// Error prints err in the error color.
func (r *Renderer) Error(err error) {
	r.line("%s %v", r.paint(color.FgRed, "error:"), err)
}

// Info prints a plain line.
func (r *Renderer) Info(format string, args ...any) {
	r.line(format, args...)
}

// StatusColor maps a verdict name to its display color.
func StatusColor(status string) color.Attribute {
	switch status {
	case "Accepted":
		return color.FgGreen
	case "Queued", "Compiling", "Running":
		return color.FgCyan
	case "InternalError":
		return color.FgMagenta
	default:
		return color.FgRed
	}
}

func (r *Renderer) paint(attr color.Attribute, text string) string {
	c := color.New(attr, color.Bold)
	if r.color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.Sprint(text)
}

func (r *Renderer) line(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format+"\n", args...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
