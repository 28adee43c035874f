// Package service orchestrates run and submit pipelines on top of the scheduler,
// sandbox runner, harness and result store.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codejudge/internal/judge/catalog"
	"codejudge/internal/judge/harness"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/scheduler"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const (
	defaultMaxCodeBytes      = 64 * 1024
	defaultSubmitWaitTimeout = 30 * time.Second
	defaultStatusTimeout     = 2 * time.Second
	defaultCatalogTimeout    = 10 * time.Second
	defaultWatchInterval     = 250 * time.Millisecond
)

// Recorder receives service level counters. metrics.Metrics implements it.
type Recorder interface {
	SubmissionAccepted(languageID, mode string)
	Verdict(languageID, status string)
	Rejected(reason string)
}

type noopRecorder struct{}

func (noopRecorder) SubmissionAccepted(string, string) {}
func (noopRecorder) Verdict(string, string)            {}
func (noopRecorder) Rejected(string)                   {}

// Killer terminates every sandboxed process of a submission.
type Killer interface {
	KillSubmission(ctx context.Context, submissionID string) error
}

// Config holds service dependencies and settings.
type Config struct {
	Languages  *language.Registry
	Catalog    catalog.Catalog
	Runner     runner.Runner
	Scheduler  *scheduler.Scheduler
	Repository *repository.SubmissionRepository
	Publisher  repository.StatusEventPublisher
	Killer     Killer
	Recorder   Recorder

	WorkRoot          string
	FailFast          bool
	RetryInternal     bool
	KeepWorkDir       bool
	MaxCodeBytes      int
	SubmitWaitTimeout time.Duration
	StatusTimeout     time.Duration
	CatalogTimeout    time.Duration
	WatchInterval     time.Duration
	AdmissionTimeout  time.Duration

	// Kafka intake requeue. Empty RetryTopic disables it.
	Requeue RequeueConfig
}

// Service handles run and submit requests.
type Service struct {
	languages *language.Registry
	catalog   catalog.Catalog
	runner    runner.Runner
	harness   *harness.Harness
	scheduler *scheduler.Scheduler
	repo      *repository.SubmissionRepository
	publisher repository.StatusEventPublisher
	killer    Killer
	recorder  Recorder

	workRoot          string
	failFast          bool
	retryInternal     bool
	keepWorkDir       bool
	maxCodeBytes      int
	submitWaitTimeout time.Duration
	statusTimeout     time.Duration
	catalogTimeout    time.Duration
	watchInterval     time.Duration
	admissionTimeout  time.Duration
	requeue           RequeueConfig

	// done holds a channel per admitted submission, closed once it is final.
	done *xsync.MapOf[string, chan struct{}]
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("problem catalog is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if cfg.Repository == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if err := os.MkdirAll(cfg.WorkRoot, 0755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = repository.DiscardStatusPublisher{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.SubmitWaitTimeout <= 0 {
		cfg.SubmitWaitTimeout = defaultSubmitWaitTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = defaultStatusTimeout
	}
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = defaultCatalogTimeout
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = defaultWatchInterval
	}
	return &Service{
		languages:         cfg.Languages,
		catalog:           cfg.Catalog,
		runner:            cfg.Runner,
		harness:           harness.New(cfg.Runner),
		scheduler:         cfg.Scheduler,
		repo:              cfg.Repository,
		publisher:         cfg.Publisher,
		killer:            cfg.Killer,
		recorder:          cfg.Recorder,
		workRoot:          cfg.WorkRoot,
		failFast:          cfg.FailFast,
		retryInternal:     cfg.RetryInternal,
		keepWorkDir:       cfg.KeepWorkDir,
		maxCodeBytes:      cfg.MaxCodeBytes,
		submitWaitTimeout: cfg.SubmitWaitTimeout,
		statusTimeout:     cfg.StatusTimeout,
		catalogTimeout:    cfg.CatalogTimeout,
		watchInterval:     cfg.WatchInterval,
		admissionTimeout:  cfg.AdmissionTimeout,
		requeue:           cfg.Requeue,
		done:              xsync.NewMapOf[string, chan struct{}](),
	}, nil
}

// Languages lists the registered adapters.
func (s *Service) Languages() []language.Spec {
	return s.languages.List()
}

// Stats reports the scheduler state.
func (s *Service) Stats() scheduler.Stats {
	return s.scheduler.Stats()
}

// validate resolves the language and checks the code size. It runs before any
// queue slot or sandbox is touched.
func (s *Service) validate(languageName, code string) (language.Spec, error) {
	lang, err := s.languages.Resolve(languageName)
	if err != nil {
		s.recorder.Rejected("unsupported_language")
		return language.Spec{}, err
	}
	if code == "" {
		return language.Spec{}, appErr.ValidationError("code", "required")
	}
	if len(code) > s.maxCodeBytes {
		s.recorder.Rejected("code_too_large")
		return language.Spec{}, appErr.Newf(appErr.CodeTooLarge, "code is %d bytes, limit is %d", len(code), s.maxCodeBytes)
	}
	return lang, nil
}

func (s *Service) loadProblem(ctx context.Context, problemID string) (model.Problem, error) {
	if problemID == "" {
		return model.Problem{}, appErr.ValidationError("problem_id", "required")
	}
	ctxCatalog, cancel := context.WithTimeout(ctx, s.catalogTimeout)
	defer cancel()
	return s.catalog.Get(ctxCatalog, problemID)
}

func (s *Service) workDir(submissionID string) string {
	return filepath.Join(s.workRoot, submissionID)
}

func (s *Service) cleanupWorkDir(ctx context.Context, submissionID string) {
	if s.keepWorkDir {
		return
	}
	if err := os.RemoveAll(s.workDir(submissionID)); err != nil {
		logger.Warn(ctx, "remove work dir failed", zap.String("submission_id", submissionID), zap.Error(err))
	}
}

// statusContext detaches status writes from request or job cancellation.
func (s *Service) statusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.statusTimeout)
}
