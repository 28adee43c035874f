// Package runner turns compile and test-run requests into sandbox jobs and
// classifies what the sandbox reports back.
package runner

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"codejudge/internal/judge/language"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
)

// sandboxRoot is where the submission work dir is mounted inside the sandbox.
const sandboxRoot = "/work"

// Files a job reads and writes inside the work dir.
const (
	stdinFile      = "input.txt"
	stdoutFile     = "output.txt"
	runStderrFile  = "runtime.log"
	buildStdout    = "compile.out"
	buildStderr    = "compile.log"
	compileStageID = "compile"
)

// Runner compiles a submission once and runs it per test case.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error)
	Run(ctx context.Context, req RunRequest) (result.TestcaseResult, error)
}

// CompileRequest writes Source into WorkDir and runs the language build step.
type CompileRequest struct {
	SubmissionID string
	WorkDir      string
	Source       string
	Language     language.Spec
	Limits       spec.ResourceLimit
}

// RunRequest executes a compiled WorkDir against one input. Limits carry
// problem and test overrides; language defaults fill the rest.
type RunRequest struct {
	SubmissionID string
	TestID       string
	WorkDir      string
	Input        string
	Language     language.Spec
	Limits       spec.ResourceLimit
}

type DefaultRunner struct {
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

func NewRunner(eng engine.Engine) *DefaultRunner {
	return NewRunnerWithObserver(eng, nil)
}

// NewRunnerWithObserver reports every compile and run to metrics.
func NewRunnerWithObserver(eng engine.Engine, metrics observer.MetricsRecorder) *DefaultRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &DefaultRunner{eng: eng, metrics: metrics}
}

// job is the part of a RunSpec that differs between compile and run.
type job struct {
	submissionID string
	stage        string
	workDir      string
	lang         language.Spec
	task         security.TaskType
	cmd          []string
	stdin        string
	stdout       string
	stderr       string
	limits       spec.ResourceLimit
}

func (j job) spec() spec.RunSpec {
	inSandbox := func(name string) string {
		if name == "" {
			return ""
		}
		return path.Join(sandboxRoot, name)
	}
	return spec.RunSpec{
		SubmissionID: j.submissionID,
		TestID:       j.stage,
		WorkDir:      sandboxRoot,
		Cmd:          j.cmd,
		Env:          j.lang.Env,
		StdinPath:    inSandbox(j.stdin),
		StdoutPath:   inSandbox(j.stdout),
		StderrPath:   inSandbox(j.stderr),
		BindMounts:   []spec.MountSpec{{Source: j.workDir, Target: sandboxRoot}},
		Profile:      security.ProfileName(j.lang.ID, j.task),
		Limits:       j.limits,
	}
}

func (r *DefaultRunner) Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error) {
	if err := requireFields(
		"submission_id", req.SubmissionID,
		"work_dir", req.WorkDir,
		"language_id", req.Language.ID,
		"source_file_name", req.Language.SourceFile,
	); err != nil {
		return result.CompileResult{}, err
	}
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return result.CompileResult{}, appErr.Wrapf(err, appErr.JudgeInternalError, "create work dir")
	}
	if err := putFile(req.WorkDir, req.Language.SourceFile, req.Source); err != nil {
		return result.CompileResult{}, err
	}
	if !req.Language.HasBuildStep() {
		return result.CompileResult{OK: true, Skipped: true}, nil
	}
	cmd, err := req.Language.Expand(req.Language.BuildTemplate(), sandboxRoot)
	if err != nil {
		return result.CompileResult{}, err
	}

	j := job{
		submissionID: req.SubmissionID,
		stage:        compileStageID,
		workDir:      req.WorkDir,
		lang:         req.Language,
		task:         security.TaskCompile,
		cmd:          cmd,
		stdout:       buildStdout,
		stderr:       buildStderr,
		limits:       req.Language.CompileLimits.Merge(req.Limits),
	}
	out, err := r.eng.Run(ctx, j.spec())
	res := result.CompileResult{
		OK:       err == nil && out.ExitCode == 0 && !out.TimedOut,
		ExitCode: out.ExitCode,
		TimeMs:   out.TimeMs,
		MemoryKB: out.MemoryKB,
		Log:      joinNonBlank(out.Stderr, out.Stdout),
	}
	r.metrics.ObserveCompile(ctx, req.Language.ID, res.OK, res.TimeMs, res.MemoryKB)
	if err != nil {
		res.Error = err.Error()
		return res, appErr.Wrapf(err, appErr.JudgeInternalError, "compile sandbox failed")
	}
	res.Error = compileFailure(out)
	return res, nil
}

func compileFailure(out result.RunResult) string {
	switch {
	case out.TimedOut:
		return "compilation timed out"
	case out.OomKilled:
		return "compiler exceeded memory limit"
	case out.ExitCode != 0:
		return fmt.Sprintf("compiler exited with code %d", out.ExitCode)
	}
	return ""
}

func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (result.TestcaseResult, error) {
	if err := requireFields(
		"submission_id", req.SubmissionID,
		"test_id", req.TestID,
		"work_dir", req.WorkDir,
		"language_id", req.Language.ID,
	); err != nil {
		return result.TestcaseResult{}, err
	}
	if err := putFile(req.WorkDir, stdinFile, req.Input); err != nil {
		return result.TestcaseResult{}, err
	}
	// stale output from the previous case must not leak into this one
	_ = os.Remove(filepath.Join(req.WorkDir, stdoutFile))

	cmd, err := req.Language.Expand(req.Language.RunCmdTpl, sandboxRoot)
	if err != nil {
		return result.TestcaseResult{}, err
	}
	limits := effectiveLimits(req.Language, req.Limits)
	j := job{
		submissionID: req.SubmissionID,
		stage:        req.TestID,
		workDir:      req.WorkDir,
		lang:         req.Language,
		task:         security.TaskRun,
		cmd:          cmd,
		stdin:        stdinFile,
		stdout:       stdoutFile,
		stderr:       runStderrFile,
		limits:       limits,
	}
	out, err := r.eng.Run(ctx, j.spec())
	if err != nil {
		r.metrics.ObserveRun(ctx, req.Language.ID, string(result.OutcomeInternalError), out.TimeMs, out.MemoryKB)
		return result.TestcaseResult{TestID: req.TestID, Outcome: result.OutcomeInternalError, Message: err.Error()},
			appErr.Wrapf(err, appErr.JudgeInternalError, "run sandbox failed")
	}

	outcome, msg := classify(out, limits)
	r.metrics.ObserveRun(ctx, req.Language.ID, string(outcome), out.TimeMs, out.MemoryKB)
	return result.TestcaseResult{
		TestID:     req.TestID,
		Outcome:    outcome,
		TimeMs:     out.TimeMs,
		WallTimeMs: out.WallTimeMs,
		MemoryKB:   out.MemoryKB,
		OutputKB:   out.OutputKB,
		ExitCode:   out.ExitCode,
		Stdout:     out.Stdout,
		Stderr:     out.Stderr,
		Message:    msg,
	}, nil
}

// requireFields takes name, value pairs and rejects the first empty value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return appErr.ValidationError(pairs[i], "required")
		}
	}
	return nil
}

func putFile(dir, name, content string) error {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		return appErr.Wrapf(err, appErr.JudgeInternalError, "write %s", name)
	}
	return nil
}

func joinNonBlank(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimRight(p, "\n"))
		}
	}
	return strings.Join(kept, "\n")
}
