package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/scheduler"
	"codejudge/internal/judge/verdict"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmitRequest asks for a full judgement of code against every test case.
// SubmissionID is optional; Kafka intake uses it to keep ids stable on redelivery.
type SubmitRequest struct {
	SubmissionID string `json:"submission_id,omitempty"`
	ProblemID    string `json:"problem_id"`
	UserID       string `json:"user_id"`
	Language     string `json:"language"`
	Code         string `json:"code"`
}

// gate holds an admitted job until its record has been created.
type gate struct {
	once  sync.Once
	ready chan struct{}
	ok    bool
}

func newGate() *gate {
	return &gate{ready: make(chan struct{})}
}

func (g *gate) open(ok bool) {
	g.once.Do(func() {
		g.ok = ok
		close(g.ready)
	})
}

func (g *gate) wait(ctx context.Context) bool {
	select {
	case <-g.ready:
		return g.ok
	case <-ctx.Done():
		<-g.ready
		return g.ok
	}
}

// Submit admits a submission and returns its Queued record. Judging continues
// on a scheduler worker.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (model.Submission, error) {
	return s.submit(ctx, req, false)
}

// SubmitAndWait admits a submission and blocks until it is final or the
// configured wait elapses, in which case the current snapshot is returned.
func (s *Service) SubmitAndWait(ctx context.Context, req SubmitRequest) (model.Submission, error) {
	sub, err := s.submit(ctx, req, false)
	if err != nil {
		return model.Submission{}, err
	}
	return s.Wait(ctx, sub.ID)
}

func (s *Service) submit(ctx context.Context, req SubmitRequest, blocking bool) (model.Submission, error) {
	lang, err := s.validate(req.Language, req.Code)
	if err != nil {
		return model.Submission{}, err
	}
	problem, err := s.loadProblem(ctx, req.ProblemID)
	if err != nil {
		return model.Submission{}, err
	}
	id := strings.TrimSpace(req.SubmissionID)
	if id == "" {
		id = uuid.NewString()
	}
	sub := model.Submission{
		ID:             id,
		ProblemID:      problem.ID,
		UserID:         req.UserID,
		Code:           req.Code,
		Language:       lang.ID,
		SubmittedAt:    time.Now().UTC(),
		Status:         verdict.StatusQueued,
		TotalTestCases: len(problem.TestCases),
		Progress:       model.Progress{Total: len(problem.TestCases)},
	}

	g := newGate()
	done := make(chan struct{})
	job := scheduler.Job{
		ID: id,
		Run: func(jobCtx context.Context) {
			if !g.wait(jobCtx) {
				return
			}
			s.judge(jobCtx, sub, lang, problem)
		},
	}
	if _, loaded := s.done.LoadOrStore(id, done); loaded {
		return model.Submission{}, appErr.Newf(appErr.SubmissionInFlight, "submission %s is already being judged", id)
	}
	if err := s.enqueue(ctx, job, blocking); err != nil {
		s.done.Delete(id)
		if appErr.Is(err, appErr.QueueFull) {
			s.recorder.Rejected("queue_full")
		}
		return model.Submission{}, err
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		g.open(false)
		s.scheduler.Cancel(id)
		s.done.Delete(id)
		close(done)
		return model.Submission{}, err
	}
	g.open(true)
	s.recorder.SubmissionAccepted(lang.ID, "submit")
	logger.Info(logger.WithSubmission(ctx, id), "submission admitted",
		zap.String("problem_id", problem.ID),
		zap.String("language", lang.ID),
		zap.String("user_id", req.UserID),
	)
	sub.Code = ""
	return sub, nil
}

func (s *Service) enqueue(ctx context.Context, job scheduler.Job, blocking bool) error {
	if !blocking {
		return s.scheduler.Enqueue(ctx, job)
	}
	if s.admissionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.admissionTimeout)
		defer cancel()
	}
	return s.scheduler.EnqueueWait(ctx, job)
}

// admitMessage is the blocking admission path used by Kafka intake.
func (s *Service) admitMessage(ctx context.Context, msg model.SubmitMessage) (model.Submission, error) {
	return s.submit(ctx, SubmitRequest{
		SubmissionID: msg.SubmissionID,
		ProblemID:    msg.ProblemID,
		UserID:       msg.UserID,
		Language:     msg.Language,
		Code:         msg.Code,
	}, true)
}

// resolveForRun validates a run request the same way as a submission.
func (s *Service) resolveForRun(ctx context.Context, problemID, languageName, code string) (language.Spec, model.Problem, error) {
	lang, err := s.validate(languageName, code)
	if err != nil {
		return language.Spec{}, model.Problem{}, err
	}
	problem, err := s.loadProblem(ctx, problemID)
	if err != nil {
		return language.Spec{}, model.Problem{}, err
	}
	return lang, problem, nil
}
