package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/pkg/utils/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// containerAPI is the subset of the docker client the engine drives.
type containerAPI interface {
	Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error)
	Attach(ctx context.Context, id string) (stdin io.WriteCloser, output io.Reader, closeFn func(), err error)
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error)
	Kill(ctx context.Context, id string) error
	Inspect(ctx context.Context, id string) (exitState, error)
	Remove(ctx context.Context, id string) error
	EnsureImage(ctx context.Context, ref string) error
}

// exitState is what the engine reads back from a stopped container. Runtime
// spans the container's own start and finish timestamps.
type exitState struct {
	ExitCode  int
	OOMKilled bool
	Runtime   time.Duration
}

// exitSIGXCPU is the status a shell reports for a process killed by the
// RLIMIT_CPU signal (128 + SIGXCPU on Linux).
const exitSIGXCPU = 128 + 24

type dockerEngine struct {
	cfg        Config
	resolver   ProfileResolver
	api        containerAPI
	containers *runRegistry
}

// NewDockerEngine creates the container-backed engine from environment or cfg.Docker.
func NewDockerEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Docker.Host != "" {
		opts = append(opts, client.WithHost(cfg.Docker.Host))
	}
	if cfg.Docker.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.Docker.APIVersion))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerEngine(cfg, resolver, &dockerClient{cli: cli, pull: cfg.Docker.PullImages})
}

func newDockerEngine(cfg Config, resolver ProfileResolver, api containerAPI) (Engine, error) {
	if resolver == nil {
		return nil, fmt.Errorf("profile resolver is required")
	}
	cfg.applyDefaults()
	return &dockerEngine{cfg: cfg, resolver: resolver, api: api, containers: newRunRegistry()}, nil
}

func (e *dockerEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := runSpec.Validate(); err != nil {
		return result.RunResult{}, err
	}
	isoProfile, err := e.resolver.Resolve(runSpec.Profile)
	if err != nil {
		return result.RunResult{}, fmt.Errorf("resolve profile: %w", err)
	}
	if isoProfile.Image == "" {
		return result.RunResult{}, fmt.Errorf("profile %s has no image", runSpec.Profile)
	}
	if err := e.api.EnsureImage(ctx, isoProfile.Image); err != nil {
		return result.RunResult{}, fmt.Errorf("ensure image: %w", err)
	}

	stdin, err := openStdin(runSpec.HostPath(runSpec.StdinPath))
	if err != nil {
		return result.RunResult{}, err
	}
	defer stdin.Close()

	id, err := e.api.Create(ctx, containerConfig(runSpec, isoProfile.Image, e.cfg.Docker.User), hostConfig(runSpec))
	if err != nil {
		return result.RunResult{}, fmt.Errorf("create container: %w", err)
	}
	e.containers.add(runSpec.SubmissionID, id)
	defer func() {
		e.containers.remove(runSpec.SubmissionID, id)
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.api.Remove(rmCtx, id); err != nil {
			logger.Warn(ctx, "remove container failed", zap.String("container", id), zap.Error(err))
		}
	}()

	conn, output, closeConn, err := e.api.Attach(ctx, id)
	if err != nil {
		return result.RunResult{}, fmt.Errorf("attach container: %w", err)
	}
	defer closeConn()

	stdout := newCappedBuffer(e.cfg.StdoutStderrMaxBytes)
	stderr := newCappedBuffer(e.cfg.StdoutStderrMaxBytes)
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, _ = stdcopy.StdCopy(stdout, stderr, output)
	}()

	if err := e.api.Start(ctx, id); err != nil {
		return result.RunResult{}, fmt.Errorf("start container: %w", err)
	}
	start := time.Now()
	go func() {
		_, _ = io.Copy(conn, stdin)
		_ = conn.Close()
	}()

	var timedOut atomic.Bool
	waitCh, errCh := e.api.Wait(context.WithoutCancel(ctx), id)
	var wallTimer <-chan time.Time
	if ms := runSpec.Limits.WallBudgetMs(e.cfg.GraceMs); ms > 0 {
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		wallTimer = timer.C
	}

	var waitErr error
	select {
	case <-waitCh:
	case waitErr = <-errCh:
	case <-wallTimer:
		timedOut.Store(true)
		e.killAndWait(ctx, id, waitCh, errCh)
	case <-ctx.Done():
		e.killAndWait(ctx, id, waitCh, errCh)
	}
	wall := time.Since(start).Milliseconds()
	closeConn()
	<-copied

	if waitErr != nil {
		return result.RunResult{}, fmt.Errorf("wait container: %w", waitErr)
	}
	state, err := e.api.Inspect(context.WithoutCancel(ctx), id)
	if err != nil {
		return result.RunResult{}, fmt.Errorf("inspect container: %w", err)
	}

	// Docker exposes no CPU accounting once a container exits, so TimeMs is
	// the container's own runtime rather than CPU time.
	runtime := wall
	if state.Runtime > 0 {
		runtime = state.Runtime.Milliseconds()
	}
	res := result.RunResult{
		ExitCode:   state.ExitCode,
		TimeMs:     runtime,
		WallTimeMs: wall,
		OutputKB:   stdout.total / 1024,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		OomKilled:  state.OOMKilled,
		TimedOut:   timedOut.Load() || state.ExitCode == exitSIGXCPU,
	}
	if res.TimedOut {
		res.ExitCode = -1
	}
	if err := writeCaptured(runSpec.HostPath(runSpec.StdoutPath), stdout.Bytes()); err != nil {
		logger.Warn(ctx, "persist stdout failed", zap.Error(err))
	}
	if err := writeCaptured(runSpec.HostPath(runSpec.StderrPath), stderr.Bytes()); err != nil {
		logger.Warn(ctx, "persist stderr failed", zap.Error(err))
	}
	if ctx.Err() != nil && !res.TimedOut {
		return res, ctx.Err()
	}
	return res, nil
}

func (e *dockerEngine) killAndWait(ctx context.Context, id string, waitCh <-chan container.WaitResponse, errCh <-chan error) {
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.api.Kill(killCtx, id); err != nil {
		logger.Warn(ctx, "kill container failed", zap.String("container", id), zap.Error(err))
	}
	select {
	case <-waitCh:
	case <-errCh:
	case <-killCtx.Done():
	}
}

func (e *dockerEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	for _, id := range e.containers.snapshot(submissionID) {
		if err := e.api.Kill(ctx, id); err != nil {
			logger.Warn(ctx, "kill container failed", zap.String("container", id), zap.Error(err))
		}
	}
	return nil
}

func containerConfig(runSpec spec.RunSpec, img, user string) *container.Config {
	return &container.Config{
		Image:           img,
		Cmd:             runSpec.Cmd,
		Env:             runSpec.Env,
		WorkingDir:      runSpec.WorkDir,
		User:            user,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		OpenStdin:       true,
		StdinOnce:       true,
		NetworkDisabled: true,
		Labels: map[string]string{
			"codejudge.submission": runSpec.SubmissionID,
			"codejudge.test":       runSpec.TestID,
		},
	}
}

func hostConfig(runSpec spec.RunSpec) *container.HostConfig {
	binds := make([]string, 0, len(runSpec.BindMounts))
	for _, m := range runSpec.BindMounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		binds = append(binds, fmt.Sprintf("%s:%s:%s", m.Source, m.Target, mode))
	}
	var pids *int64
	if runSpec.Limits.PIDs > 0 {
		v := runSpec.Limits.PIDs
		pids = &v
	}
	resources := container.Resources{PidsLimit: pids, CPUQuota: 100000, CPUPeriod: 100000}
	if runSpec.Limits.MemoryMB > 0 {
		resources.Memory = runSpec.Limits.MemoryMB * 1024 * 1024
		resources.MemorySwap = resources.Memory
	}
	if runSpec.Limits.StackMB > 0 {
		stack := runSpec.Limits.StackMB * 1024 * 1024
		resources.Ulimits = append(resources.Ulimits, &container.Ulimit{Name: "stack", Soft: stack, Hard: stack})
	}
	if runSpec.Limits.CPUTimeMs > 0 {
		// One spare second so the wall timer, not SIGXCPU, usually ends a spinning run.
		secs := (runSpec.Limits.CPUTimeMs+999)/1000 + 1
		resources.Ulimits = append(resources.Ulimits, &container.Ulimit{Name: "cpu", Soft: secs, Hard: secs})
	}
	return &container.HostConfig{
		Binds:       binds,
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources:   resources,
		Tmpfs:       map[string]string{"/tmp": "rw,nosuid,size=64m,mode=1777"},
	}
}

func openStdin(path string) (io.ReadCloser, error) {
	if path == "" {
		return io.NopCloser(strings.NewReader("")), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stdin: %w", err)
	}
	return f, nil
}

func writeCaptured(path string, data []byte) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, data, 0644)
}

// cappedBuffer keeps the first max bytes and counts the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	max   int64
	total int64
}

func newCappedBuffer(max int64) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.total += int64(len(p))
	room := b.max - int64(b.buf.Len())
	if room > 0 {
		if int64(len(p)) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }

func (b *cappedBuffer) Bytes() []byte { return b.buf.Bytes() }

// dockerClient adapts *client.Client to containerAPI.
type dockerClient struct {
	cli  *client.Client
	pull bool
}

func (d *dockerClient) Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *dockerClient) Attach(ctx context.Context, id string) (io.WriteCloser, io.Reader, func(), error) {
	resp, err := d.cli.ContainerAttach(ctx, id, container.AttachOptions{Stream: true, Stdin: true, Stdout: true, Stderr: true})
	if err != nil {
		return nil, nil, nil, err
	}
	return hijackedStdin{closeWrite: resp.CloseWrite, w: resp.Conn}, resp.Reader, resp.Close, nil
}

func (d *dockerClient) Start(ctx context.Context, id string) error {
	return d.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (d *dockerClient) Wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error) {
	return d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
}

func (d *dockerClient) Kill(ctx context.Context, id string) error {
	return d.cli.ContainerKill(ctx, id, "SIGKILL")
}

func (d *dockerClient) Inspect(ctx context.Context, id string) (exitState, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return exitState{}, err
	}
	if info.State == nil {
		return exitState{}, fmt.Errorf("container %s has no state", id)
	}
	out := exitState{ExitCode: info.State.ExitCode, OOMKilled: info.State.OOMKilled}
	started, err1 := time.Parse(time.RFC3339Nano, info.State.StartedAt)
	finished, err2 := time.Parse(time.RFC3339Nano, info.State.FinishedAt)
	if err1 == nil && err2 == nil && finished.After(started) {
		out.Runtime = finished.Sub(started)
	}
	return out, nil
}

func (d *dockerClient) Remove(ctx context.Context, id string) error {
	return d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (d *dockerClient) EnsureImage(ctx context.Context, ref string) error {
	if _, err := d.cli.ImageInspect(ctx, ref); err == nil || !d.pull {
		return err
	}
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

type hijackedStdin struct {
	closeWrite func() error
	w          io.Writer
}

func (h hijackedStdin) Write(p []byte) (int, error) { return h.w.Write(p) }

func (h hijackedStdin) Close() error { return h.closeWrite() }
