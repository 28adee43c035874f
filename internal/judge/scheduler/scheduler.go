// Package scheduler admits submissions into a bounded FIFO queue and runs
// them on a fixed pool of workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const (
	defaultWorkers       = 4
	defaultQueueCapacity = 64
	defaultAdmission     = 2 * time.Second
)

// ErrAbandoned is the cancel cause of a job's context after Cancel.
var ErrAbandoned = errors.New("submission abandoned")

// Config controls pool size and admission behaviour.
type Config struct {
	Workers          int           `yaml:"workers"`
	QueueCapacity    int           `yaml:"queueCapacity"`
	BlockOnFull      bool          `yaml:"blockOnFull"`
	AdmissionTimeout time.Duration `yaml:"admissionTimeout"`
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.AdmissionTimeout <= 0 {
		c.AdmissionTimeout = defaultAdmission
	}
}

// Job is one unit of work. Run receives a context canceled on Cancel or
// forced shutdown.
type Job struct {
	ID  string
	Run func(ctx context.Context)
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	QueueLength   int `json:"queue_length"`
	QueueCapacity int `json:"queue_capacity"`
	ActiveWorkers int `json:"active_workers"`
	Workers       int `json:"workers"`
}

// Gauges receives queue and worker counts as they change.
type Gauges interface {
	SetQueueLength(n int)
	SetActiveWorkers(n int)
}

type noopGauges struct{}

func (noopGauges) SetQueueLength(int)   {}
func (noopGauges) SetActiveWorkers(int) {}

type entry struct {
	job    Job
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Scheduler owns the admission queue and the worker pool.
type Scheduler struct {
	cfg      Config
	gauges   Gauges
	queue    chan *entry
	inflight *xsync.MapOf[string, *entry]
	active   atomic.Int64

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	started   atomic.Bool

	baseCtx context.Context
	abort   context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. gauges may be nil.
func New(cfg Config, gauges Gauges) *Scheduler {
	cfg.applyDefaults()
	if gauges == nil {
		gauges = noopGauges{}
	}
	baseCtx, abort := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		gauges:   gauges,
		queue:    make(chan *entry, cfg.QueueCapacity),
		inflight: xsync.NewMapOf[string, *entry](),
		baseCtx:  baseCtx,
		abort:    abort,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(s.cfg.Workers)
		s.started.Store(true)
		for i := 0; i < s.cfg.Workers; i++ {
			go s.worker(i)
		}
	})
}

// Enqueue admits job using the configured admission mode. A full queue yields
// QueueFull, immediately or after AdmissionTimeout when BlockOnFull is set.
func (s *Scheduler) Enqueue(ctx context.Context, job Job) error {
	var wait time.Duration
	if s.cfg.BlockOnFull {
		wait = s.cfg.AdmissionTimeout
	}
	return s.admit(ctx, job, wait, s.cfg.BlockOnFull)
}

// EnqueueWait blocks until the job is admitted or ctx ends. Used for intake
// from a message queue where backpressure is preferred to rejection.
func (s *Scheduler) EnqueueWait(ctx context.Context, job Job) error {
	return s.admit(ctx, job, 0, true)
}

func (s *Scheduler) admit(ctx context.Context, job Job, wait time.Duration, block bool) error {
	if job.ID == "" || job.Run == nil {
		return appErr.ValidationError("job", "id and run are required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("scheduler is shutting down")
	}

	jobCtx, cancel := context.WithCancelCause(s.baseCtx)
	e := &entry{job: job, ctx: jobCtx, cancel: cancel}
	if _, loaded := s.inflight.LoadOrStore(job.ID, e); loaded {
		cancel(nil)
		return appErr.Newf(appErr.SubmissionInFlight, "submission %s is already queued or running", job.ID)
	}

	select {
	case s.queue <- e:
		s.gauges.SetQueueLength(len(s.queue))
		return nil
	default:
	}
	if !block {
		s.reject(e)
		return appErr.QueueFullError(s.cfg.QueueCapacity)
	}

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case s.queue <- e:
		s.gauges.SetQueueLength(len(s.queue))
		return nil
	case <-timeout:
		s.reject(e)
		return appErr.QueueFullError(s.cfg.QueueCapacity)
	case <-ctx.Done():
		s.reject(e)
		return appErr.QueueFullError(s.cfg.QueueCapacity).WithDetail("cause", ctx.Err().Error())
	}
}

func (s *Scheduler) reject(e *entry) {
	s.inflight.Delete(e.job.ID)
	e.cancel(nil)
}

// Cancel marks a queued or running job abandoned. A queued job still reaches a
// worker, which sees a canceled context. It reports whether the id was known.
func (s *Scheduler) Cancel(id string) bool {
	e, ok := s.inflight.Load(id)
	if !ok {
		return false
	}
	e.cancel(ErrAbandoned)
	return true
}

// InFlight reports whether id is queued or running.
func (s *Scheduler) InFlight(id string) bool {
	_, ok := s.inflight.Load(id)
	return ok
}

// Abandoned reports whether ctx belongs to a job that was canceled via Cancel.
func Abandoned(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrAbandoned)
}

// Stats returns a snapshot of queue depth and worker usage.
func (s *Scheduler) Stats() Stats {
	return Stats{
		QueueLength:   len(s.queue),
		QueueCapacity: s.cfg.QueueCapacity,
		ActiveWorkers: int(s.active.Load()),
		Workers:       s.cfg.Workers,
	}
}

// Shutdown stops admission and lets workers drain the queue. If ctx ends
// first, running jobs are canceled and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	if !s.started.Load() {
		s.abort()
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.abort()
		return nil
	case <-ctx.Done():
		s.abort()
		return ctx.Err()
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for e := range s.queue {
		s.gauges.SetQueueLength(len(s.queue))
		s.gauges.SetActiveWorkers(int(s.active.Add(1)))
		s.run(id, e)
		s.gauges.SetActiveWorkers(int(s.active.Add(-1)))
	}
}

func (s *Scheduler) run(workerID int, e *entry) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(e.ctx, "judge job panicked",
				zap.Int("worker_id", workerID),
				zap.String("submission_id", e.job.ID),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
		s.inflight.Delete(e.job.ID)
		e.cancel(nil)
	}()
	e.job.Run(e.ctx)
}
