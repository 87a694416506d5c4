// Package session runs crawl sessions and serializes them behind a
// coordinator.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/aggregate"
	"github.com/JakeFAU/matchday-crawler/internal/clock/system"
	"github.com/JakeFAU/matchday-crawler/internal/crawler"
	idgen "github.com/JakeFAU/matchday-crawler/internal/id/uuid"
	"github.com/JakeFAU/matchday-crawler/internal/metrics"
	"github.com/JakeFAU/matchday-crawler/internal/progress"
	"github.com/JakeFAU/matchday-crawler/internal/runner"
)

const defaultShutdownGrace = 5 * time.Second

// Pool is the execution context pool a session owns for its lifetime.
type Pool interface {
	runner.ContextPool
	Shutdown(ctx context.Context) error
}

// PoolFactory opens a fresh pool. Pools are never shared across sessions.
type PoolFactory func(ctx context.Context) (Pool, error)

// AggregateFunc folds outcomes into reports.
type AggregateFunc func(specs []crawler.TaskSpec, outcomes []crawler.TaskOutcome) ([]crawler.EntityReport, error)

// IDGenerator issues session ids.
type IDGenerator interface {
	NewSessionID() (uuid.UUID, error)
}

// Config bounds a session.
type Config struct {
	// Capacity is the pool capacity the factory will build; concurrency is
	// checked against it before any browser launches.
	Capacity       int
	SessionTimeout time.Duration
	ShutdownGrace  time.Duration
}

// Deps are the session collaborators. NewPool and Executor are required.
type Deps struct {
	NewPool   PoolFactory
	Executor  runner.Executor
	Aggregate AggregateFunc
	Progress  progress.Emitter
	Clock     crawler.Clock
	IDs       IDGenerator
	Logger    *zap.Logger
}

// Result is what one session hands back.
type Result struct {
	SessionID uuid.UUID              `json:"session_id"`
	Reports   []crawler.EntityReport `json:"reports"`
	Warnings  []string               `json:"warnings,omitempty"`
	Totals    aggregate.Totals       `json:"totals"`
	Started   time.Time              `json:"started_at"`
	Finished  time.Time              `json:"finished_at"`
}

// Session runs one crawl at a time per call to Run. It holds no state
// between runs.
type Session struct {
	cfg  Config
	deps Deps
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.NewPool == nil || deps.Executor == nil {
		return nil, errors.New("session requires a pool factory and an executor")
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("pool capacity must be > 0")
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if deps.Aggregate == nil {
		deps.Aggregate = aggregate.Aggregate
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = idgen.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Session{cfg: cfg, deps: deps}, nil
}

// Run crawls every valid entity over windows with at most concurrency pages
// in flight. Task failures are reported in the returned reports. Errors are
// returned only for rejected input, pool initialization, aggregation
// inconsistencies and panics; the pool is shut down exactly once on every
// path after it was created.
func (s *Session) Run(ctx context.Context, entities []crawler.EntityConfig, windows []string, concurrency int) (res Result, err error) {
	if concurrency <= 0 {
		return Result{}, fmt.Errorf("concurrency must be > 0")
	}
	if concurrency > s.cfg.Capacity {
		return Result{}, fmt.Errorf("%w: concurrency %d, capacity %d",
			crawler.ErrConcurrencyExceedsCapacity, concurrency, s.cfg.Capacity)
	}
	if len(windows) == 0 {
		return Result{}, errors.New("at least one window is required")
	}
	plan, err := BuildPlan(entities, windows)
	if err != nil {
		return Result{}, err
	}

	id, err := s.deps.IDs.NewSessionID()
	if err != nil {
		return Result{}, err
	}
	logger := s.deps.Logger.With(zap.String("session_id", id.String()))
	res = Result{SessionID: id, Warnings: plan.Warnings, Reports: []crawler.EntityReport{}, Started: s.deps.Clock.Now()}
	for _, w := range plan.Warnings {
		logger.Warn("skipping entity", zap.String("reason", w))
	}
	if len(plan.Specs) == 0 {
		res.Finished = s.deps.Clock.Now()
		logger.Warn("no valid entities; nothing to crawl")
		return res, nil
	}

	s.emit(progress.Event{SessionID: id, Stage: progress.StageSessionStart, Records: len(plan.Specs)})
	defer func() {
		res.Finished = s.deps.Clock.Now()
		if err != nil {
			metrics.ObserveSession("error")
			s.emit(progress.Event{SessionID: id, Stage: progress.StageSessionError, Note: err.Error(), Dur: res.Finished.Sub(res.Started)})
			return
		}
		metrics.ObserveSession("success")
	}()

	if s.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SessionTimeout)
		defer cancel()
	}

	pool, err := s.deps.NewPool(ctx)
	if err != nil {
		return res, fmt.Errorf("open pool: %w", err)
	}
	defer s.shutdown(ctx, pool, logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session panicked", zap.Any("panic", r))
			err = fmt.Errorf("session panic: %v", r)
		}
	}()

	reports, err := s.crawl(ctx, id, pool, plan, concurrency, logger)
	if err != nil {
		return res, err
	}
	res.Reports = reports
	res.Totals = aggregate.Summarize(reports)
	for _, r := range reports {
		s.emit(progress.EntityDoneEvent(id, r))
	}
	s.emit(progress.Event{
		SessionID: id,
		Stage:     progress.StageSessionDone,
		Success:   res.Totals.FailedWindows == 0,
		Records:   res.Totals.Records,
		Completed: res.Totals.Completed,
		Scheduled: res.Totals.Scheduled,
		Failed:    res.Totals.FailedWindows,
		Dur:       s.deps.Clock.Now().Sub(res.Started),
	})
	logger.Info("session finished",
		zap.Int("entities", res.Totals.Entities),
		zap.Int("records", res.Totals.Records),
		zap.Int("failed_windows", res.Totals.FailedWindows),
	)
	return res, nil
}

func (s *Session) crawl(ctx context.Context, id uuid.UUID, pool Pool, plan Plan, concurrency int, logger *zap.Logger) ([]crawler.EntityReport, error) {
	r, err := runner.New(pool, s.deps.Executor, concurrency, logger.Named("runner"), runner.Hooks{
		OnOutcome: func(out crawler.TaskOutcome) {
			s.emit(progress.WindowEvent(id, out))
		},
	})
	if err != nil {
		return nil, err
	}
	for _, e := range plan.Entities {
		s.emit(progress.Event{SessionID: id, Stage: progress.StageEntityStart, EntityID: e.ID, EntityLabel: e.Label})
	}
	outcomes := r.Run(ctx, plan.Specs)
	reports, err := s.deps.Aggregate(plan.Specs, outcomes)
	if err != nil {
		return nil, fmt.Errorf("aggregate outcomes: %w", err)
	}
	return reports, nil
}

// shutdown closes the pool with a bounded grace period that survives parent
// cancellation. Shutdown is best effort; its error does not fail the session.
func (s *Session) shutdown(ctx context.Context, pool Pool, logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownGrace)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pool shutdown incomplete", zap.Error(err))
	}
}

func (s *Session) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = s.deps.Clock.Now()
	}
	s.deps.Progress.Emit(evt)
}
