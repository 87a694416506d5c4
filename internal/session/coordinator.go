package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/aggregate"
	"github.com/JakeFAU/matchday-crawler/internal/crawler"
	"github.com/JakeFAU/matchday-crawler/internal/queue/memory"
)

// State is the coordinator lifecycle: Idle → Running → Draining → Idle.
type State string

// Coordinator states.
const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
)

var (
	// ErrBusy is returned by Submit when the request queue is full.
	ErrBusy = errors.New("crawl queue is full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("coordinator stopped")
	// ErrInvalidRequest wraps Submit validation failures.
	ErrInvalidRequest = errors.New("invalid crawl request")
)

// Runner is the part of *Session the coordinator drives.
type Runner interface {
	Run(ctx context.Context, entities []crawler.EntityConfig, windows []string, concurrency int) (Result, error)
}

// Deliverer persists a finished session.
type Deliverer interface {
	Deliver(ctx context.Context, requestID string, res Result) (Delivery, error)
}

// RequestIDs issues queue request ids.
type RequestIDs interface {
	NewRequestID() (string, error)
}

// Defaults fill in fields a CrawlRequest leaves empty.
type Defaults struct {
	Entities    []crawler.EntityConfig
	Windows     []string
	Concurrency int
}

// RunSummary describes the last finished request.
type RunSummary struct {
	RequestID string           `json:"request_id"`
	SessionID uuid.UUID        `json:"session_id"`
	Started   time.Time        `json:"started_at"`
	Finished  time.Time        `json:"finished_at"`
	Totals    aggregate.Totals `json:"totals"`
	Warnings  []string         `json:"warnings,omitempty"`
	Delivery  *Delivery        `json:"delivery,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State   State                 `json:"state"`
	Pending int                   `json:"pending"`
	Current *crawler.CrawlRequest `json:"current,omitempty"`
	Last    *RunSummary           `json:"last,omitempty"`
}

// Coordinator serializes crawl requests through one queue and runs them one
// at a time.
type Coordinator struct {
	runner   Runner
	deliver  Deliverer
	queue    *memory.Queue
	defaults Defaults
	ids      RequestIDs
	clock    crawler.Clock
	logger   *zap.Logger

	mu      sync.RWMutex
	state   State
	current *crawler.CrawlRequest
	last    *RunSummary

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	finished  chan RunSummary
}

// CoordinatorDeps wires the coordinator. Deliverer may be nil.
type CoordinatorDeps struct {
	Runner    Runner
	Deliverer Deliverer
	Queue     *memory.Queue
	IDs       RequestIDs
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// NewCoordinator creates an idle coordinator. Call Start to begin consuming.
func NewCoordinator(deps CoordinatorDeps, defaults Defaults) (*Coordinator, error) {
	if deps.Runner == nil || deps.Queue == nil || deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("coordinator requires a runner, queue, id generator and clock")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Coordinator{
		runner:   deps.Runner,
		deliver:  deps.Deliverer,
		queue:    deps.Queue,
		defaults: defaults,
		ids:      deps.IDs,
		clock:    deps.Clock,
		logger:   deps.Logger,
		state:    StateIdle,
		done:     make(chan struct{}),
		finished: make(chan RunSummary, 16),
	}, nil
}

// Submit fills defaults, assigns an id and queues req without blocking.
func (c *Coordinator) Submit(req crawler.CrawlRequest) (crawler.CrawlRequest, error) {
	if len(req.Entities) == 0 {
		req.Entities = c.defaults.Entities
	}
	if len(req.Windows) == 0 {
		req.Windows = c.defaults.Windows
	}
	if req.Concurrency == 0 {
		req.Concurrency = c.defaults.Concurrency
	}
	if len(req.Entities) == 0 {
		return req, fmt.Errorf("%w: no entities to crawl", ErrInvalidRequest)
	}
	if len(req.Windows) == 0 {
		return req, fmt.Errorf("%w: no windows to crawl", ErrInvalidRequest)
	}
	for _, w := range req.Windows {
		if _, err := crawler.ParseWindowKey(w); err != nil {
			return req, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	if req.Concurrency < 0 {
		return req, fmt.Errorf("%w: concurrency must be > 0", ErrInvalidRequest)
	}
	id, err := c.ids.NewRequestID()
	if err != nil {
		return req, err
	}
	req.ID = id
	req.Submitted = c.clock.Now()
	switch err := c.queue.TryEnqueue(req); {
	case errors.Is(err, memory.ErrQueueFull):
		return req, ErrBusy
	case errors.Is(err, memory.ErrQueueClosed):
		return req, ErrStopped
	case err != nil:
		return req, err
	}
	c.logger.Info("crawl request queued", zap.String("request_id", req.ID),
		zap.Int("entities", len(req.Entities)), zap.Int("windows", len(req.Windows)))
	return req, nil
}

// Start launches the consume loop. Later calls are no-ops.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		go c.loop(loopCtx)
	})
}

// Stop refuses new requests and waits for queued ones to finish. When ctx
// ends first the running session is canceled and Stop returns ctx's error.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.queue.Close()
		c.startOnce.Do(func() { close(c.done) })
	})
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
	}
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	return fmt.Errorf("stop coordinator: %w", ctx.Err())
}

// Finished delivers a summary after each request. Summaries are dropped when
// nobody reads them.
func (c *Coordinator) Finished() <-chan RunSummary {
	return c.finished
}

// Status reports the current state.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{State: c.state, Pending: c.queue.Len()}
	if c.current != nil {
		cur := *c.current
		st.Current = &cur
	}
	if c.last != nil {
		last := *c.last
		st.Last = &last
	}
	return st
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)
	for {
		req, err := c.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrQueueClosed) && ctx.Err() == nil {
				c.logger.Error("dequeue failed", zap.Error(err))
			}
			return
		}
		c.process(ctx, req)
	}
}

func (c *Coordinator) process(ctx context.Context, req crawler.CrawlRequest) {
	c.setState(StateRunning, &req)
	logger := c.logger.With(zap.String("request_id", req.ID))

	summary := RunSummary{RequestID: req.ID, Started: c.clock.Now()}
	res, err := c.runner.Run(ctx, req.Entities, req.Windows, req.Concurrency)
	summary.SessionID = res.SessionID
	summary.Totals = res.Totals
	summary.Warnings = res.Warnings
	if err != nil {
		logger.Error("crawl session failed", zap.Error(err))
		summary.Error = err.Error()
	}

	c.setState(StateDraining, &req)
	if err == nil && c.deliver != nil {
		d, derr := c.deliver.Deliver(context.WithoutCancel(ctx), req.ID, res)
		if derr != nil {
			logger.Error("hand-off failed", zap.Error(derr))
			summary.Error = derr.Error()
		} else {
			summary.Delivery = &d
		}
	}
	summary.Finished = c.clock.Now()

	c.mu.Lock()
	c.state = StateIdle
	c.current = nil
	c.last = &summary
	c.mu.Unlock()

	select {
	case c.finished <- summary:
	default:
	}
}

func (c *Coordinator) setState(s State, req *crawler.CrawlRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.current = req
}
