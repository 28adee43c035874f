package service

import (
	"context"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/verdict"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/repository"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Get returns the current snapshot of a submission.
func (s *Service) Get(ctx context.Context, id string) (model.Submission, error) {
	return s.repo.Get(ctx, id)
}

// ListByUser returns a user's submissions, most recent first.
func (s *Service) ListByUser(ctx context.Context, userID string, opts repository.ListOptions) (*repository.PaginationResult[model.Submission], error) {
	return s.repo.ListByUser(ctx, userID, opts)
}

// Wait blocks until id is final or the submit wait timeout elapses and
// returns the latest snapshot either way.
func (s *Service) Wait(ctx context.Context, id string) (model.Submission, error) {
	if done, ok := s.done.Load(id); ok {
		timer := time.NewTimer(s.submitWaitTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		case <-ctx.Done():
			return model.Submission{}, appErr.Wrapf(ctx.Err(), appErr.Timeout, "wait for submission canceled")
		}
	}
	return s.repo.Get(ctx, id)
}

// Watch calls fn with every distinct snapshot of id until it is final or ctx
// ends. It returns fn's first error.
func (s *Service) Watch(ctx context.Context, id string, fn func(model.Submission) error) error {
	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	var last model.Submission
	sent := false
	for {
		sub, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !sent || changed(last, sub) {
			if err := fn(sub); err != nil {
				return err
			}
			last, sent = sub, true
		}
		if sub.Terminal() {
			return nil
		}
		var done chan struct{}
		if ch, ok := s.done.Load(id); ok {
			done = ch
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-done:
		}
	}
}

func changed(a, b model.Submission) bool {
	return a.Status != b.Status || a.Progress != b.Progress || a.Attempts != b.Attempts
}

// Cancel abandons a queued or running submission. A submission that is not
// in flight but was never finalized, e.g. after a restart, is closed directly.
func (s *Service) Cancel(ctx context.Context, id string) (model.Submission, error) {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Submission{}, err
	}
	if sub.Terminal() {
		return sub, alreadyFinal(sub)
	}
	if s.scheduler.Cancel(id) {
		if s.killer != nil {
			if err := s.killer.KillSubmission(ctx, id); err != nil {
				logger.Warn(ctx, "kill submission processes failed", zap.String("submission_id", id), zap.Error(err))
			}
		}
		// The job may have finalized between the read above and the cancel.
		if cur, err := s.repo.Get(ctx, id); err == nil && cur.Terminal() && !cur.Abandoned {
			return cur, alreadyFinal(cur)
		}
		logger.Info(logger.WithSubmission(ctx, id), "submission abandoned")
		sub.Abandoned = true
		return sub, nil
	}

	// Not in flight: either an orphan or a job that just finished.
	if sub, err = s.repo.Get(ctx, id); err != nil {
		return model.Submission{}, err
	}
	if sub.Terminal() {
		return sub, alreadyFinal(sub)
	}
	now := time.Now().UTC()
	sub.Status = verdict.StatusInternalError
	sub.ErrorCode = int(appErr.SubmissionAbandoned)
	sub.ErrorMessage = abandonedMessage
	sub.Abandoned = true
	sub.FinishedAt = &now
	ctxStatus, cancel := s.statusContext(ctx)
	defer cancel()
	if err := s.repo.Finalize(ctxStatus, sub); err != nil {
		if appErr.Is(err, appErr.InvalidStateTransition) {
			if cur, gerr := s.repo.Get(ctx, id); gerr == nil {
				return cur, alreadyFinal(cur)
			}
		}
		return model.Submission{}, err
	}
	if err := s.publisher.PublishFinal(ctxStatus, sub); err != nil {
		logger.Warn(ctx, "publish final status failed", zap.String("submission_id", id), zap.Error(err))
	}
	return sub, nil
}

func alreadyFinal(sub model.Submission) error {
	return appErr.Newf(appErr.InvalidStateTransition, "submission %s is already %s", sub.ID, sub.Status).
		WithDetail("status", string(sub.Status))
}
