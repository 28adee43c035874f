package service

import (
	"context"

	"codejudge/internal/judge/harness"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/scheduler"
	"codejudge/internal/judge/verdict"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunRequest executes code against the visible cases of a problem.
type RunRequest struct {
	ProblemID string `json:"problem_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

type runOutcome struct {
	resp RunResponse
	err  error
}

// Run judges code synchronously against visible cases. It shares the worker
// pool with submissions, so it can be rejected with QueueFull.
func (s *Service) Run(ctx context.Context, req RunRequest) (RunResponse, error) {
	lang, problem, err := s.resolveForRun(ctx, req.ProblemID, req.Language, req.Code)
	if err != nil {
		return RunResponse{}, err
	}
	id := "run-" + uuid.NewString()
	out := make(chan runOutcome, 1)
	job := scheduler.Job{
		ID: id,
		Run: func(jobCtx context.Context) {
			resp, err := s.execute(logger.WithSubmission(jobCtx, id), id, lang, problem, req.Code)
			out <- runOutcome{resp: resp, err: err}
		},
	}
	if err := s.scheduler.Enqueue(ctx, job); err != nil {
		if appErr.Is(err, appErr.QueueFull) {
			s.recorder.Rejected("queue_full")
		}
		return RunResponse{}, err
	}
	s.recorder.SubmissionAccepted(lang.ID, "run")

	select {
	case res := <-out:
		return res.resp, res.err
	case <-ctx.Done():
		s.scheduler.Cancel(id)
		return RunResponse{}, appErr.Wrapf(ctx.Err(), appErr.Timeout, "run request canceled")
	}
}

func (s *Service) execute(ctx context.Context, id string, lang language.Spec, problem model.Problem, code string) (RunResponse, error) {
	defer s.cleanupWorkDir(ctx, id)
	if err := ctx.Err(); err != nil {
		return RunResponse{}, appErr.Wrapf(err, appErr.Timeout, "run request canceled")
	}
	workDir := s.workDir(id)
	compiled, err := s.runner.Compile(ctx, runner.CompileRequest{
		SubmissionID: id,
		WorkDir:      workDir,
		Source:       problem.WrapSource(lang.ID, code),
		Language:     lang,
	})
	if err != nil {
		logger.Error(ctx, "run compile failed", zap.Error(err))
		return RunResponse{}, err
	}
	if !compiled.OK {
		s.recorder.Verdict(lang.ID, string(verdict.StatusCompileError))
		return newCompileErrorResponse(compiled.Error, compiled.Log), nil
	}

	report, err := s.harness.Evaluate(ctx, harness.Artifact{
		SubmissionID: id,
		WorkDir:      workDir,
		Language:     lang,
	}, problem, harness.Policy{Mode: harness.ModeRun}, nil)
	if err != nil {
		logger.Error(ctx, "run evaluation failed", zap.Error(err))
		return RunResponse{}, appErr.Wrapf(err, appErr.JudgeInternalError, "run evaluation failed")
	}
	sum := verdict.Aggregate(report.Outcomes(), report.Total)
	s.recorder.Verdict(lang.ID, string(sum.Status))
	return newRunResponse(sum, report), nil
}
