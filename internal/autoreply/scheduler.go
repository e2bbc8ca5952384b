package autoreply

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/logger"
	"github.com/spigell/hh-autoreply/internal/quota"
	"github.com/spigell/hh-autoreply/internal/telemetry"
)

const (
	DefaultInterval      = 10 * time.Second
	DefaultShutdownGrace = 45 * time.Second
)

// Executor runs one auto-reply run. *Runner implements it.
type Executor interface {
	Run(ctx context.Context, resume Resume) (Report, error)
}

// Lister lists résumés with automation enabled.
type Lister interface {
	ListAutoReplyEnabled(ctx context.Context) ([]Resume, error)
}

// RunState is an active run.
type RunState struct {
	ResumeID  uuid.UUID `json:"resume_id"`
	UserID    uuid.UUID `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}

type SchedulerConfig struct {
	Interval      time.Duration
	ShutdownGrace time.Duration
}

// Scheduler starts a run for every enabled résumé on each tick, never more
// than one per résumé at a time.
type Scheduler struct {
	resumes  Lister
	executor Executor
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	active  map[uuid.UUID]RunState
	closed  bool
	runs    sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	cron    *cron.Cron
}

func NewScheduler(resumes Lister, executor Executor, cfg SchedulerConfig, log *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		resumes:  resumes,
		executor: executor,
		interval: cfg.Interval,
		grace:    cfg.ShutdownGrace,
		logger:   logger.OrNop(log).Named("scheduler"),
		now:      time.Now,
		active:   make(map[uuid.UUID]RunState),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

var (
	errSchedulerClosed  = errors.New("scheduler is shut down")
	errSchedulerStarted = errors.New("scheduler is already started")
)

// Start ticks every interval until Shutdown. It can be called once.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return errSchedulerClosed
	case s.cron != nil:
		return errSchedulerStarted
	}

	cronLog := logger.Cron(s.logger)
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		if err := s.Tick(s.baseCtx); err != nil && s.baseCtx.Err() == nil {
			s.logger.Error("scheduler tick failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}

	s.cron = c
	c.Start()
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Tick lists enabled résumés and starts a run for each one without an
// active run. A panic is recovered and reported as an error.
func (s *Scheduler) Tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler tick panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("tick panicked: %v", r)
		}
		if err != nil {
			telemetry.SchedulerTickErrors.Inc()
		}
	}()

	resumes, err := s.resumes.ListAutoReplyEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list resumes: %w", err)
	}

	started := 0
	for _, resume := range resumes {
		if s.spawn(resume) {
			started++
		}
	}

	if started > 0 {
		s.logger.Debug("scheduler tick", zap.Int("resumes", len(resumes)), zap.Int("started", started), zap.Int("active", len(s.Active())))
	}
	return nil
}

func (s *Scheduler) spawn(resume Resume) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.active[resume.ID]; ok {
		return false
	}

	s.active[resume.ID] = RunState{ResumeID: resume.ID, UserID: resume.UserID, StartedAt: s.now()}
	s.runs.Add(1)
	telemetry.ActiveRuns.Inc()
	telemetry.RunsStarted.Inc()

	go s.run(resume)
	return true
}

func (s *Scheduler) run(resume Resume) {
	log := logger.WithFields(s.logger, logger.ResumeFields(resume.UserID, resume.ID)...)
	started := s.now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("auto-reply run panicked", zap.Any("panic", r), zap.Stack("stack"))
		}

		s.mu.Lock()
		delete(s.active, resume.ID)
		s.mu.Unlock()

		telemetry.ActiveRuns.Dec()
		s.runs.Done()
	}()

	report, err := s.executor.Run(s.baseCtx, resume)

	fields := []zap.Field{
		zap.String("stop_reason", string(report.StopReason)),
		zap.Int("fetched", report.Fetched),
		zap.Int("matched", report.Matched),
		zap.Int("candidates", report.Candidates),
		zap.Int("submitted", report.Submitted),
		zap.Int("failed", report.Failed),
		zap.Duration("took", s.now().Sub(started)),
	}

	var exceeded *quota.ExceededError
	switch {
	case err == nil:
		log.Info("auto-reply run finished", fields...)
	case errors.Is(err, context.Canceled):
		log.Info("auto-reply run cancelled", fields...)
	case errors.As(err, &exceeded):
		log.Info("auto-reply run stopped by quota", append(fields, zap.Error(err))...)
	default:
		log.Error("auto-reply run failed", append(fields, zap.Error(err))...)
	}
}

// Active returns a snapshot of active runs ordered by start time.
func (s *Scheduler) Active() []RunState {
	s.mu.Lock()
	states := make([]RunState, 0, len(s.active))
	for _, st := range s.active {
		states = append(states, st)
	}
	s.mu.Unlock()

	sort.Slice(states, func(i, j int) bool {
		return states[i].StartedAt.Before(states[j].StartedAt)
	})
	return states
}

// Shutdown stops ticking, cancels all runs and waits for them up to the
// grace period or until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	c := s.cron
	s.mu.Unlock()

	s.cancel()
	if c != nil {
		<-c.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	pending := s.Active()
	s.logger.Warn("scheduler stopped with runs still active", zap.Int("active", len(pending)))
	return fmt.Errorf("%d runs did not stop within the grace period", len(pending))
}
