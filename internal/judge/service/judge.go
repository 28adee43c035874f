package service

import (
	"context"
	"errors"
	"os"
	"time"

	"codejudge/internal/judge/harness"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/scheduler"
	"codejudge/internal/judge/verdict"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const abandonedMessage = "submission abandoned"

// attemptResult is the outcome of one pass through compile and evaluate.
type attemptResult struct {
	summary       verdict.Summary
	compileOutput string
	err           error
}

// judge runs on a scheduler worker and always leaves the submission in
// exactly one terminal state.
func (s *Service) judge(ctx context.Context, sub model.Submission, lang language.Spec, problem model.Problem) {
	ctx = logger.WithSubmission(ctx, sub.ID)
	defer s.release(sub.ID)
	defer s.cleanupWorkDir(ctx, sub.ID)

	maxAttempts := 1
	if s.retryInternal {
		maxAttempts = 2
	}
	var res attemptResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sub.Attempts = attempt
		res = s.attempt(ctx, &sub, lang, problem)
		if res.err == nil || scheduler.Abandoned(ctx) || ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			logger.Warn(ctx, "judge internal error, retrying", zap.Int("attempt", attempt), zap.Error(res.err))
		}
	}
	s.finish(ctx, sub, res)
}

func (s *Service) attempt(ctx context.Context, sub *model.Submission, lang language.Spec, problem model.Problem) attemptResult {
	total := len(problem.TestCases)
	sub.Status = verdict.StatusQueued
	sub.Progress = model.Progress{Total: total}
	tracker := verdict.NewTracker(func(from, to verdict.Status) {
		sub.Status = to
		if !to.Terminal() {
			s.saveStatus(ctx, *sub)
		}
	})
	fail := func(err error) attemptResult {
		_ = tracker.Fail()
		return attemptResult{summary: verdict.Summary{Status: verdict.StatusInternalError, Total: total}, err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := tracker.Transition(verdict.StatusCompiling); err != nil {
		return fail(err)
	}
	workDir := s.workDir(sub.ID)
	if err := os.RemoveAll(workDir); err != nil {
		return fail(appErr.Wrapf(err, appErr.JudgeInternalError, "reset work dir failed"))
	}

	compiled, err := s.runner.Compile(ctx, runner.CompileRequest{
		SubmissionID: sub.ID,
		WorkDir:      workDir,
		Source:       problem.WrapSource(lang.ID, sub.Code),
		Language:     lang,
	})
	if err != nil {
		return fail(err)
	}
	if !compiled.OK {
		if err := tracker.Transition(verdict.StatusCompileError); err != nil {
			return fail(err)
		}
		return attemptResult{
			summary:       verdict.CompileFailed(total, compiled.Error),
			compileOutput: compiled.Log,
		}
	}

	if err := tracker.Transition(verdict.StatusRunning); err != nil {
		return fail(err)
	}
	report, err := s.harness.Evaluate(ctx, harness.Artifact{
		SubmissionID: sub.ID,
		WorkDir:      workDir,
		Language:     lang,
	}, problem, harness.Policy{Mode: harness.ModeSubmit, FailFast: s.failFast}, func(done, total int) {
		sub.Progress = model.Progress{Done: done, Total: total}
		s.saveStatus(ctx, *sub)
	})
	if err != nil {
		return fail(err)
	}

	sum := verdict.Aggregate(report.Outcomes(), total)
	if err := tracker.Transition(sum.Status); err != nil {
		return fail(err)
	}
	if sum.Status == verdict.StatusInternalError {
		return attemptResult{summary: sum, err: appErr.New(appErr.JudgeInternalError).WithMessage(sum.Message)}
	}
	return attemptResult{summary: sum}
}

// finish persists the terminal record and announces it.
func (s *Service) finish(ctx context.Context, sub model.Submission, res attemptResult) {
	now := time.Now().UTC()
	sub.FinishedAt = &now
	switch {
	case scheduler.Abandoned(ctx):
		sub.ApplySummary(verdict.Summary{Status: verdict.StatusInternalError, Total: sub.TotalTestCases})
		sub.ErrorCode = int(appErr.SubmissionAbandoned)
		sub.ErrorMessage = abandonedMessage
		sub.Abandoned = true
	case res.err != nil:
		sub.ApplySummary(res.summary)
		sub.Status = verdict.StatusInternalError
		sub.ErrorCode = int(appErr.JudgeInternalError)
		sub.ErrorMessage = internalMessage(res.err)
		logger.Error(ctx, "judge failed", zap.Int("attempts", sub.Attempts), zap.Error(res.err))
	default:
		sub.ApplySummary(res.summary)
		sub.CompileOutput = res.compileOutput
	}
	sub.Progress.Done = res.summary.Attempted
	if sub.Status == verdict.StatusCompileError {
		sub.Progress.Done = 0
	}

	ctxStatus, cancel := s.statusContext(ctx)
	defer cancel()
	if err := s.repo.Finalize(ctxStatus, sub); err != nil {
		if appErr.Is(err, appErr.InvalidStateTransition) {
			// Finalized elsewhere first, so that verdict stands.
			logger.Warn(ctx, "submission already final, verdict dropped", zap.String("status", string(sub.Status)))
			return
		}
		logger.Error(ctx, "persist final status failed", zap.Error(err))
	}
	if err := s.publisher.PublishFinal(ctxStatus, sub); err != nil {
		logger.Warn(ctx, "publish final status failed", zap.Error(err))
	}
	s.recorder.Verdict(sub.Language, string(sub.Status))
	logger.Info(ctx, "submission judged",
		zap.String("status", string(sub.Status)),
		zap.Int("passed", sub.TestCasesPassed),
		zap.Int("total", sub.TotalTestCases),
		zap.Int64("runtime_ms", sub.RuntimeMs),
		zap.Int64("memory_kb", sub.MemoryKB),
	)
}

func (s *Service) saveStatus(ctx context.Context, sub model.Submission) {
	ctxStatus, cancel := s.statusContext(ctx)
	defer cancel()
	if err := s.repo.SaveStatus(ctxStatus, sub); err != nil {
		logger.Warn(ctx, "update intermediate status failed", zap.String("status", string(sub.Status)), zap.Error(err))
	}
}

// release wakes waiters of a finished submission.
func (s *Service) release(id string) {
	if done, ok := s.done.LoadAndDelete(id); ok {
		close(done)
	}
}

func internalMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "judging was interrupted"
	case errors.Is(err, context.DeadlineExceeded):
		return "judging timed out"
	}
	if e := appErr.GetError(err); e != nil && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// outcomeStatus maps a harness outcome to the status shown in run results.
func outcomeStatus(o result.Outcome) string {
	return string(verdict.FromOutcome(o))
}
