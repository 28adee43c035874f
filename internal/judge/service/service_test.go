package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/scheduler"
	"codejudge/internal/judge/verdict"
	appErr "codejudge/pkg/errors"
)

type fakeRunner struct {
	mu         sync.Mutex
	compile    result.CompileResult
	compileErr error
	outputs    map[string]string
	runErrs    int
	block      chan struct{}
	started    chan string
	compiles   int
	runs       int
}

func (f *fakeRunner) Compile(ctx context.Context, req runner.CompileRequest) (result.CompileResult, error) {
	f.mu.Lock()
	f.compiles++
	f.mu.Unlock()
	if err := os.MkdirAll(req.WorkDir, 0755); err != nil {
		return result.CompileResult{}, err
	}
	if f.compileErr != nil {
		return result.CompileResult{}, f.compileErr
	}
	return f.compile, nil
}

func (f *fakeRunner) Run(ctx context.Context, req runner.RunRequest) (result.TestcaseResult, error) {
	f.mu.Lock()
	f.runs++
	if f.runErrs > 0 {
		f.runErrs--
		f.mu.Unlock()
		return result.TestcaseResult{TestID: req.TestID, Outcome: result.OutcomeInternalError}, errors.New("sandbox exploded")
	}
	f.mu.Unlock()
	if f.started != nil {
		f.started <- req.SubmissionID
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return result.TestcaseResult{}, ctx.Err()
		}
	}
	return result.TestcaseResult{
		TestID:   req.TestID,
		Outcome:  result.OutcomeAccepted,
		Stdout:   f.outputs[req.Input],
		TimeMs:   5,
		MemoryKB: 2048,
	}, nil
}

func (f *fakeRunner) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compiles, f.runs
}

type fakeCatalog map[string]model.Problem

func (c fakeCatalog) Get(ctx context.Context, id string) (model.Problem, error) {
	p, ok := c[id]
	if !ok {
		return model.Problem{}, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", id)
	}
	return p, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Submission
}

func (p *recordingPublisher) PublishFinal(ctx context.Context, sub model.Submission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sub)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func twoSum() model.Problem {
	return model.Problem{
		ID:            "two-sum",
		Title:         "Two Sum",
		TimeLimitMs:   2000,
		MemoryLimitMB: 256,
		TestCases: []model.TestCase{
			{ID: "1", Input: "[2,7,11,15]\n9", ExpectedOutput: "[0,1]", Visibility: model.VisibilityVisible, Order: 1},
			{ID: "2", Input: "[3,2,4]\n6", ExpectedOutput: "[1,2]", Visibility: model.VisibilityVisible, Order: 2},
			{ID: "3", Input: "[3,3]\n6", ExpectedOutput: "[0,1]", Visibility: model.VisibilityHidden, Order: 3},
		},
	}
}

func correctOutputs() map[string]string {
	return map[string]string{
		"[2,7,11,15]\n9": "[0,1]\n",
		"[3,2,4]\n6":     "[1,2]\n",
		"[3,3]\n6":       "[0,1]\n",
	}
}

type harnessEnv struct {
	svc       *Service
	runner    *fakeRunner
	store     *repository.MemoryStore
	publisher *recordingPublisher
	sched     *scheduler.Scheduler
	workRoot  string
}

func newEnv(t *testing.T, r *fakeRunner, schedCfg scheduler.Config, tweak func(*Config)) *harnessEnv {
	t.Helper()
	reg, err := language.NewRegistry(language.DefaultSpecs())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	sched := scheduler.New(schedCfg, nil)
	sched.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{}
	workRoot := t.TempDir()
	cfg := Config{
		Languages:     reg,
		Catalog:       fakeCatalog{"two-sum": twoSum()},
		Runner:        r,
		Scheduler:     sched,
		Repository:    repository.NewSubmissionRepository(store, nil),
		Publisher:     pub,
		WorkRoot:      workRoot,
		FailFast:      true,
		RetryInternal: true,
		WatchInterval: 10 * time.Millisecond,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &harnessEnv{svc: svc, runner: r, store: store, publisher: pub, sched: sched, workRoot: workRoot}
}

func okCompile() result.CompileResult {
	return result.CompileResult{OK: true}
}

func submitReq(code string) SubmitRequest {
	return SubmitRequest{ProblemID: "two-sum", UserID: "u1", Language: "python", Code: code}
}

func TestSubmitAccepted(t *testing.T) {
	env := newEnv(t, &fakeRunner{compile: okCompile(), outputs: correctOutputs()}, scheduler.Config{Workers: 2}, nil)
	ctx := context.Background()

	sub, err := env.svc.SubmitAndWait(ctx, submitReq("def twoSum(nums, target): ..."))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != verdict.StatusAccepted {
		t.Fatalf("expected Accepted, got %+v", sub)
	}
	if sub.TestCasesPassed != 3 || sub.TotalTestCases != 3 || sub.Attempts != 1 {
		t.Fatalf("unexpected counts: %+v", sub)
	}
	if sub.FinishedAt == nil || sub.RuntimeMs != 5 || sub.MemoryKB != 2048 {
		t.Fatalf("unexpected metrics: %+v", sub)
	}
	if env.publisher.count() != 1 {
		t.Fatalf("expected one final event, got %d", env.publisher.count())
	}
	if _, err := os.Stat(env.svc.workDir(sub.ID)); !os.IsNotExist(err) {
		t.Fatalf("expected work dir removed, stat err=%v", err)
	}
}

func TestSubmitWrongAnswerFailFast(t *testing.T) {
	outputs := correctOutputs()
	outputs["[3,2,4]\n6"] = "[2,1]\n"
	r := &fakeRunner{compile: okCompile(), outputs: outputs}
	env := newEnv(t, r, scheduler.Config{Workers: 1}, nil)

	sub, err := env.svc.SubmitAndWait(context.Background(), submitReq("code"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != verdict.StatusWrongAnswer || sub.TestCasesPassed != 1 || sub.TotalTestCases != 3 {
		t.Fatalf("unexpected verdict: %+v", sub)
	}
	if sub.ErrorCode != int(appErr.WrongAnswer) {
		t.Fatalf("expected wrong answer code, got %d", sub.ErrorCode)
	}
	if _, runs := r.counts(); runs != 2 {
		t.Fatalf("fail-fast should stop after case 2, ran %d", runs)
	}
}

func TestSubmitCompileError(t *testing.T) {
	r := &fakeRunner{compile: result.CompileResult{OK: false, Error: "compiler exited with code 1", Log: "main.py:1: SyntaxError"}}
	env := newEnv(t, r, scheduler.Config{Workers: 1}, nil)

	sub, err := env.svc.SubmitAndWait(context.Background(), submitReq("def broken(:"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != verdict.StatusCompileError || sub.TestCasesPassed != 0 || sub.TotalTestCases != 3 {
		t.Fatalf("unexpected verdict: %+v", sub)
	}
	if sub.CompileOutput == "" {
		t.Fatalf("expected compiler diagnostics")
	}
	if _, runs := r.counts(); runs != 0 {
		t.Fatalf("no test may run after a compile error, ran %d", runs)
	}
}

func TestSubmitRejectsBeforeAllocation(t *testing.T) {
	r := &fakeRunner{compile: okCompile()}
	env := newEnv(t, r, scheduler.Config{Workers: 1}, func(c *Config) { c.MaxCodeBytes = 16 })
	ctx := context.Background()

	req := submitReq("x")
	req.Language = "brainfuck"
	if _, err := env.svc.Submit(ctx, req); !appErr.Is(err, appErr.UnsupportedLanguage) {
		t.Fatalf("expected unsupported language, got %v", err)
	}
	if _, err := env.svc.Submit(ctx, submitReq("this code is far too long")); !appErr.Is(err, appErr.CodeTooLarge) {
		t.Fatalf("expected code too large, got %v", err)
	}
	req = submitReq("x")
	req.ProblemID = "missing"
	if _, err := env.svc.Submit(ctx, req); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("expected problem not found, got %v", err)
	}
	if compiles, _ := r.counts(); compiles != 0 {
		t.Fatalf("rejected requests must not reach the sandbox")
	}
	if n, _ := env.store.CountByUser(ctx, "u1"); n != 0 {
		t.Fatalf("rejected requests must not be persisted, got %d", n)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	r := &fakeRunner{compile: okCompile(), outputs: correctOutputs(), block: make(chan struct{}), started: make(chan string, 8)}
	env := newEnv(t, r, scheduler.Config{Workers: 1, QueueCapacity: 1}, nil)
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, submitReq("a"))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	<-r.started
	second, err := env.svc.Submit(ctx, submitReq("b"))
	if err != nil {
		t.Fatalf("second should queue: %v", err)
	}
	if _, err := env.svc.Submit(ctx, submitReq("c")); !appErr.Is(err, appErr.QueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if n, _ := env.store.CountByUser(ctx, "u1"); n != 2 {
		t.Fatalf("expected only admitted submissions stored, got %d", n)
	}

	go func() {
		for range r.started {
		}
	}()
	close(r.block)
	for _, id := range []string{first.ID, second.ID} {
		sub, err := env.svc.Wait(ctx, id)
		if err != nil || sub.Status != verdict.StatusAccepted {
			t.Fatalf("expected %s accepted, got %+v %v", id, sub, err)
		}
	}
}

func TestSubmitRetriesInternalErrorOnce(t *testing.T) {
	r := &fakeRunner{compile: okCompile(), outputs: correctOutputs(), runErrs: 1}
	env := newEnv(t, r, scheduler.Config{Workers: 1}, nil)

	sub, err := env.svc.SubmitAndWait(context.Background(), submitReq("code"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != verdict.StatusAccepted || sub.Attempts != 2 {
		t.Fatalf("expected accepted on retry, got %+v", sub)
	}
}

func TestSubmitInternalErrorAfterRetry(t *testing.T) {
	r := &fakeRunner{compile: okCompile(), outputs: correctOutputs(), runErrs: 10}
	env := newEnv(t, r, scheduler.Config{Workers: 1}, nil)

	sub, err := env.svc.SubmitAndWait(context.Background(), submitReq("code"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != verdict.StatusInternalError || sub.Attempts != 2 {
		t.Fatalf("expected internal error after two attempts, got %+v", sub)
	}
	if sub.ErrorCode != int(appErr.JudgeInternalError) || sub.TestCasesPassed != 0 {
		t.Fatalf("internal error must not look like a correctness verdict: %+v", sub)
	}
	if env.publisher.count() != 1 {
		t.Fatalf("expected exactly one final event")
	}
}

func TestCancelRunningSubmission(t *testing.T) {
	r := &fakeRunner{compile: okCompile(), outputs: correctOutputs(), block: make(chan struct{}), started: make(chan string, 1)}
	env := newEnv(t, r, scheduler.Config{Workers: 1}, nil)
	ctx := context.Background()

	sub, err := env.svc.Submit(ctx, submitReq("while True: pass"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-r.started
	if _, err := env.svc.Cancel(ctx, sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	final, err := env.svc.Wait(ctx, sub.ID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != verdict.StatusInternalError || !final.Abandoned || final.ErrorMessage != abandonedMessage {
		t.Fatalf("expected abandoned internal error, got %+v", final)
	}
	if final.Attempts != 1 {
		t.Fatalf("abandoned submissions are not retried, attempts=%d", final.Attempts)
	}
	if _, err := env.svc.Cancel(ctx, sub.ID); !appErr.Is(err, appErr.InvalidStateTransition) {
		t.Fatalf("cancel of a final submission should fail, got %v", err)
	}
}

func TestCancelOrphanedSubmission(t *testing.T) {
	env := newEnv(t, &fakeRunner{compile: okCompile()}, scheduler.Config{Workers: 1}, nil)
	ctx := context.Background()
	orphan := model.Submission{ID: "orphan", ProblemID: "two-sum", UserID: "u1", Language: "python", Code: "x", Status: verdict.StatusRunning, SubmittedAt: time.Now()}
	if err := env.store.Create(ctx, orphan); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := env.svc.Cancel(ctx, "orphan")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != verdict.StatusInternalError || !got.Abandoned {
		t.Fatalf("unexpected result: %+v", got)
	}
	if env.publisher.count() != 1 {
		t.Fatalf("expected final event for orphan")
	}
}

// stallingStore returns one snapshot and then holds that caller until
// release closes, so the job can finish while Cancel still holds a stale view.
type stallingStore struct {
	*repository.MemoryStore
	armed   atomic.Bool
	stalled chan struct{}
	release chan struct{}
}

func (s *stallingStore) Get(ctx context.Context, id string) (model.Submission, error) {
	sub, err := s.MemoryStore.Get(ctx, id)
	if s.armed.CompareAndSwap(true, false) {
		close(s.stalled)
		<-s.release
	}
	return sub, err
}

func TestCancelRacingFinishKeepsVerdict(t *testing.T) {
	r := &fakeRunner{compile: okCompile(), outputs: correctOutputs(), block: make(chan struct{}), started: make(chan string, 3)}
	store := &stallingStore{MemoryStore: repository.NewMemoryStore(), stalled: make(chan struct{}), release: make(chan struct{})}
	env := newEnv(t, r, scheduler.Config{Workers: 1}, func(cfg *Config) {
		cfg.Repository = repository.NewSubmissionRepository(store, nil)
	})
	ctx := context.Background()

	sub, err := env.svc.Submit(ctx, submitReq("def twoSum(nums, target): ..."))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-r.started

	type cancelResult struct {
		sub model.Submission
		err error
	}
	done := make(chan cancelResult, 1)
	store.armed.Store(true)
	go func() {
		got, err := env.svc.Cancel(ctx, sub.ID)
		done <- cancelResult{got, err}
	}()
	<-store.stalled

	close(r.block)
	deadline := time.Now().Add(2 * time.Second)
	for env.sched.InFlight(sub.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(store.release)

	res := <-done
	if !appErr.Is(res.err, appErr.InvalidStateTransition) {
		t.Fatalf("expected cancel to see the final verdict, got %+v %v", res.sub, res.err)
	}
	if res.sub.Status != verdict.StatusAccepted || res.sub.Abandoned {
		t.Fatalf("unexpected cancel view: %+v", res.sub)
	}
	final, _ := store.MemoryStore.Get(ctx, sub.ID)
	if final.Status != verdict.StatusAccepted || final.Abandoned {
		t.Fatalf("verdict overwritten: %+v", final)
	}
	if env.publisher.count() != 1 {
		t.Fatalf("expected one final event, got %d", env.publisher.count())
	}
}

func TestWatchStreamsUntilFinal(t *testing.T) {
	r := &fakeRunner{compile: okCompile(), outputs: correctOutputs()}
	env := newEnv(t, r, scheduler.Config{Workers: 1}, nil)
	ctx := context.Background()

	sub, err := env.svc.Submit(ctx, submitReq("code"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var seen []verdict.Status
	err = env.svc.Watch(ctx, sub.ID, func(s model.Submission) error {
		seen = append(seen, s.Status)
		return nil
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(seen) == 0 || seen[len(seen)-1] != verdict.StatusAccepted {
		t.Fatalf("expected stream ending in Accepted, got %v", seen)
	}
}

func TestRunVisibleCasesOnly(t *testing.T) {
	outputs := correctOutputs()
	outputs["[3,2,4]\n6"] = "[0,0]\n"
	env := newEnv(t, &fakeRunner{compile: okCompile(), outputs: outputs}, scheduler.Config{Workers: 1}, nil)

	resp, err := env.svc.Run(context.Background(), RunRequest{ProblemID: "two-sum", Language: "py", Code: "code"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Success || resp.Status != verdict.StatusWrongAnswer {
		t.Fatalf("expected wrong answer, got %+v", resp)
	}
	if len(resp.TestResults) != 2 {
		t.Fatalf("run must evaluate visible cases only, got %d", len(resp.TestResults))
	}
	first, second := resp.TestResults[0], resp.TestResults[1]
	if !first.Passed || first.Actual != "[0,1]" || first.Expected != "[0,1]" {
		t.Fatalf("unexpected first result: %+v", first)
	}
	if second.Passed || second.Status != "WrongAnswer" {
		t.Fatalf("unexpected second result: %+v", second)
	}
	if resp.Runtime != "5 ms" || resp.Memory != "2.0 MB" {
		t.Fatalf("unexpected rendering: %s %s", resp.Runtime, resp.Memory)
	}
	if n, _ := env.store.CountByUser(context.Background(), ""); n != 0 {
		t.Fatalf("run requests are not persisted")
	}
}

func TestRunCompileError(t *testing.T) {
	r := &fakeRunner{compile: result.CompileResult{Error: "compiler exited with code 1", Log: "error: expected ';'"}}
	env := newEnv(t, r, scheduler.Config{Workers: 1}, nil)
	resp, err := env.svc.Run(context.Background(), RunRequest{ProblemID: "two-sum", Language: "cpp", Code: "int main("})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Success || resp.Status != verdict.StatusCompileError || resp.ConsoleOutput != "error: expected ';'" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleMessage(t *testing.T) {
	env := newEnv(t, &fakeRunner{compile: okCompile(), outputs: correctOutputs()}, scheduler.Config{Workers: 1}, nil)
	ctx := context.Background()

	if err := env.svc.HandleMessage(ctx, mq.NewMessage("bad", []byte("{"))); err != nil {
		t.Fatalf("malformed payloads are dropped, got %v", err)
	}
	body, _ := json.Marshal(model.SubmitMessage{SubmissionID: "kafka-1", ProblemID: "two-sum", UserID: "u2", Language: "go", Code: "package main"})
	if err := env.svc.HandleMessage(ctx, mq.NewMessage("m1", body)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	sub, err := env.svc.Wait(ctx, "kafka-1")
	if err != nil || sub.Status != verdict.StatusAccepted {
		t.Fatalf("expected accepted, got %+v %v", sub, err)
	}
	if err := env.svc.HandleMessage(ctx, mq.NewMessage("m1", body)); err != nil {
		t.Fatalf("redelivery should be acknowledged, got %v", err)
	}
	unsupported, _ := json.Marshal(model.SubmitMessage{ProblemID: "two-sum", Language: "cobol", Code: "x"})
	if err := env.svc.HandleMessage(ctx, mq.NewMessage("m2", unsupported)); err != nil {
		t.Fatalf("client errors are acknowledged, got %v", err)
	}
}

func TestFormatting(t *testing.T) {
	if got := FormatRuntime(42); got != "42 ms" {
		t.Fatalf("runtime %q", got)
	}
	if got := FormatMemory(1536); got != "1.5 MB" {
		t.Fatalf("memory %q", got)
	}
	view := NewSubmissionView(model.Submission{ID: "s1", Code: "secret", RuntimeMs: 7, MemoryKB: 10240})
	if view.Runtime != "7 ms" || view.Memory != "10.0 MB" {
		t.Fatalf("unexpected view: %+v", view)
	}
}
