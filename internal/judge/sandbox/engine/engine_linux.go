//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const cpuPollInterval = 10 * time.Millisecond

type linuxEngine struct {
	cfg      Config
	resolver ProfileResolver
	cgroups  *runRegistry
}

// NewEngine creates the native Linux sandbox engine.
func NewEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	if resolver == nil {
		return nil, fmt.Errorf("profile resolver is required")
	}
	cfg.applyDefaults()
	return &linuxEngine{
		cfg:      cfg,
		resolver: resolver,
		cgroups:  newRunRegistry(),
	}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := runSpec.Validate(); err != nil {
		return result.RunResult{}, err
	}

	isoProfile, err := e.resolver.Resolve(runSpec.Profile)
	if err != nil {
		return result.RunResult{}, fmt.Errorf("resolve profile: %w", err)
	}
	if e.cfg.SeccompDir != "" && isoProfile.SeccompProfile != "" && !filepath.IsAbs(isoProfile.SeccompProfile) {
		isoProfile.SeccompProfile = filepath.Join(e.cfg.SeccompDir, isoProfile.SeccompProfile)
	}

	var cg *runCgroup
	if e.cfg.EnableCgroup {
		if cg, err = newRunCgroup(e.cfg.CgroupRoot, runSpec.SubmissionID, runSpec.TestID); err != nil {
			return result.RunResult{}, err
		}
		defer cg.remove()
		if err := cg.limit(runSpec.Limits); err != nil {
			return result.RunResult{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
		e.cgroups.add(runSpec.SubmissionID, cg.path())
		defer e.cgroups.remove(runSpec.SubmissionID, cg.path())
	}

	stdinPipe := jsonToPipe(security.InitRequest{
		RunSpec:       runSpec,
		Isolation:     isoProfile,
		EnableSeccomp: e.cfg.EnableSeccomp,
		EnableNs:      e.cfg.EnableNamespaces,
	})
	defer stdinPipe.Close()

	// The helper is not bound to ctx: cancellation goes through the process group kill below.
	cmd := exec.Command(e.cfg.HelperPath)
	cmd.SysProcAttr = buildSysProcAttr(isoProfile, e.cfg.EnableNamespaces)
	cmd.Stdin = stdinPipe
	var helperOut bytes.Buffer
	cmd.Stdout = &helperOut
	cmd.Stderr = &helperOut

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, fmt.Errorf("start helper: %w", err)
	}
	if cg != nil {
		if err := cg.add(cmd.Process.Pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cg.path()), zap.Error(err))
		}
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go e.watch(ctx, cmd.Process.Pid, cg, runSpec.Limits, &timedOut, done)

	waitErr := cmd.Wait()
	close(done)

	stdout := readCapture(runSpec.HostPath(runSpec.StdoutPath), e.cfg.StdoutStderrMaxBytes)
	stderr := readCapture(runSpec.HostPath(runSpec.StderrPath), e.cfg.StdoutStderrMaxBytes)
	runResult := result.RunResult{
		TimeMs:     max(rusageCPUTimeMs(cmd.ProcessState), cg.cpuTimeMs()),
		WallTimeMs: time.Since(start).Milliseconds(),
		MemoryKB:   cg.peakMemoryKB(cmd.ProcessState),
		OutputKB:   stdout.size / 1024,
		Stdout:     stdout.text,
		Stderr:     stderr.text,
		OomKilled:  cg.oomKilled(),
	}
	code, cpuOut, err := classifyExit(waitErr, cmd.ProcessState, runSpec.Limits, runResult.TimeMs)
	if err != nil {
		return result.RunResult{}, err
	}
	runResult.ExitCode, runResult.TimedOut = code, cpuOut
	if timedOut.Load() || (runSpec.Limits.CPUTimeMs > 0 && runResult.TimeMs > runSpec.Limits.CPUTimeMs) {
		runResult.TimedOut = true
	}
	if runResult.TimedOut {
		runResult.ExitCode = -1
	}

	if waitErr != nil && helperOut.Len() > 0 && !runResult.TimedOut {
		logger.Debug(ctx, "sandbox helper output", zap.String("output", helperOut.String()))
	}
	if ctx.Err() != nil && !runResult.TimedOut {
		return runResult, ctx.Err()
	}
	return runResult, nil
}

// watch kills the process group when ctx ends, the wall budget runs out,
// or the cgroup reports CPU usage past the limit.
func (e *linuxEngine) watch(ctx context.Context, pid int, cg *runCgroup, limits spec.ResourceLimit, timedOut *atomic.Bool, done <-chan struct{}) {
	var wallTimer <-chan time.Time
	if ms := limits.WallBudgetMs(e.cfg.GraceMs); ms > 0 {
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		wallTimer = timer.C
	}
	var cpuTick <-chan time.Time
	if cg != nil && limits.CPUTimeMs > 0 {
		ticker := time.NewTicker(cpuPollInterval)
		defer ticker.Stop()
		cpuTick = ticker.C
	}
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			e.kill(pid, cg)
			return
		case <-wallTimer:
			timedOut.Store(true)
			e.kill(pid, cg)
			return
		case <-cpuTick:
			if cg.cpuTimeMs() > limits.CPUTimeMs {
				timedOut.Store(true)
				e.kill(pid, cg)
				return
			}
		}
	}
}

func (e *linuxEngine) kill(pid int, cg *runCgroup) {
	_ = cg.kill()
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

func (e *linuxEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	for _, dir := range e.cgroups.snapshot(submissionID) {
		if err := killCgroupDir(dir); err != nil {
			logger.Warn(ctx, "kill cgroup failed", zap.String("cgroup", dir), zap.Error(err))
		}
	}
	return nil
}

// classifyExit converts the wait status into an exit code.
// Death by SIGXCPU, or SIGKILL once the CPU budget is spent, counts as a timeout.
// Other signals report 128+signal so they surface as runtime errors.
// A wait failure with no process state is an engine error, not a verdict.
func classifyExit(err error, state *os.ProcessState, limits spec.ResourceLimit, cpuMs int64) (int, bool, error) {
	if state == nil {
		if err == nil {
			return 0, false, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), false, nil
		}
		return 0, false, fmt.Errorf("wait sandbox process: %w", err)
	}
	status, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return state.ExitCode(), false, nil
	}
	sig := status.Signal()
	if sig == syscall.SIGXCPU {
		return -1, true, nil
	}
	if sig == syscall.SIGKILL && limits.CPUTimeMs > 0 && cpuMs >= limits.CPUTimeMs {
		return -1, true, nil
	}
	return 128 + int(sig), false, nil
}

func jsonToPipe(req security.InitRequest) io.ReadCloser {
	reader, writer := io.Pipe()
	go func() {
		err := json.NewEncoder(writer).Encode(req)
		_ = writer.CloseWithError(err)
	}()
	return reader
}

func buildSysProcAttr(profile security.IsolationProfile, enableNamespaces bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUSER)
	if profile.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
	attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
	return attr
}
