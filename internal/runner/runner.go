// Package runner drives fetch tasks against the execution context pool with
// a fixed number of workers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
	"github.com/JakeFAU/matchday-crawler/internal/fetchtask"
	"github.com/JakeFAU/matchday-crawler/internal/metrics"
	"github.com/JakeFAU/matchday-crawler/internal/pool"
)

// ContextPool is the slice of *pool.Pool the runner depends on.
type ContextPool interface {
	Acquire(ctx context.Context) (*pool.Context, error)
	Release(c *pool.Context)
	Capacity() int
}

// Executor performs one task through a leased context.
type Executor interface {
	Execute(ctx context.Context, lease fetchtask.Lease, spec crawler.TaskSpec) crawler.TaskOutcome
}

// Hooks observe the run. They are called from worker goroutines and must be
// safe for concurrent use.
type Hooks struct {
	OnOutcome func(crawler.TaskOutcome)
}

// Runner executes task lists with at most Concurrency contexts in flight.
type Runner struct {
	pool        ContextPool
	task        Executor
	concurrency int
	logger      *zap.Logger
	hooks       Hooks
}

// New rejects a concurrency the pool cannot serve, so a misconfigured runner
// fails at construction instead of silently serializing on Acquire.
func New(p ContextPool, task Executor, concurrency int, logger *zap.Logger, hooks Hooks) (*Runner, error) {
	if p == nil || task == nil {
		return nil, errors.New("runner requires a pool and an executor")
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}
	if concurrency > p.Capacity() {
		return nil, fmt.Errorf("%w: concurrency %d, capacity %d",
			crawler.ErrConcurrencyExceedsCapacity, concurrency, p.Capacity())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{pool: p, task: task, concurrency: concurrency, logger: logger, hooks: hooks}, nil
}

// Concurrency returns the configured worker count.
func (r *Runner) Concurrency() int {
	return r.concurrency
}

// Run executes every spec and returns one outcome per spec, in input order.
// Once ctx ends no new task is dispatched; the remaining specs are reported
// as canceled.
func (r *Runner) Run(ctx context.Context, specs []crawler.TaskSpec) []crawler.TaskOutcome {
	outcomes := make([]crawler.TaskOutcome, len(specs))
	workers := min(r.concurrency, len(specs))

	var (
		cursor atomic.Int64
		g      errgroup.Group
	)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(specs) {
					return nil
				}
				out := r.runOne(ctx, specs[i])
				outcomes[i] = out
				if r.hooks.OnOutcome != nil {
					r.hooks.OnOutcome(out)
				}
			}
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r *Runner) runOne(ctx context.Context, spec crawler.TaskSpec) (out crawler.TaskOutcome) {
	if err := ctx.Err(); err != nil {
		return canceled(spec, err)
	}
	c, err := r.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return canceled(spec, ctx.Err())
		}
		if errors.Is(err, crawler.ErrContextAcquireTimeout) {
			r.logger.Error("no execution context available for task",
				zap.String("task", spec.Key()),
				zap.Error(err),
			)
		} else {
			r.logger.Warn("acquire failed", zap.String("task", spec.Key()), zap.Error(err))
		}
		metrics.ObserveTask(string(crawler.TaskFailure), string(crawler.Classify(err)), 0)
		return crawler.TaskOutcome{Spec: spec, Status: crawler.TaskFailure, Err: err}
	}
	defer r.pool.Release(c)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("executor panicked", zap.String("task", spec.Key()), zap.Any("panic", rec))
			out = crawler.TaskOutcome{Spec: spec, Status: crawler.TaskFailure, Err: fmt.Errorf("executor panic: %v", rec)}
		}
	}()

	out = r.task.Execute(ctx, c, spec)
	out.Spec = spec
	if !out.Succeeded() {
		r.logger.Warn("task failed",
			zap.String("task", spec.Key()),
			zap.String("kind", string(crawler.Classify(out.Err))),
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err),
		)
	}
	return out
}

func canceled(spec crawler.TaskSpec, cause error) crawler.TaskOutcome {
	metrics.ObserveTask(string(crawler.TaskFailure), string(crawler.FailureCanceled), 0)
	return crawler.TaskOutcome{
		Spec:   spec,
		Status: crawler.TaskFailure,
		Err:    fmt.Errorf("%w (%v)", crawler.ErrCanceled, cause),
	}
}
