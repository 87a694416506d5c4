// Package pool manages the bounded set of browser pages that fetch tasks run
// through. Contexts are created eagerly, handed out through a buffered
// channel, optionally rotated after a number of uses, and drained best-effort
// on shutdown.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
	"github.com/JakeFAU/matchday-crawler/internal/metrics"
)

// State is the lifecycle position of one execution context.
type State int

// Context states. Closed is terminal.
const (
	StateFree State = iota
	StateBusy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateBusy:
		return "busy"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Context is one reusable page. The pool owns it; holders only borrow it
// between Acquire and Release.
type Context struct {
	id      int
	pool    *Pool
	browser int
	page    crawler.Page

	// guarded by pool.mu
	state State
	uses  int

	warm   atomic.Bool
	rotate atomic.Bool
}

// ID returns the pool-unique identifier.
func (c *Context) ID() int { return c.id }

// Page returns the underlying browser tab.
func (c *Context) Page() crawler.Page { return c.page }

// Warm reports whether the page has already navigated to the remote origin.
func (c *Context) Warm() bool { return c.warm.Load() }

// MarkWarm records a successful landing navigation.
func (c *Context) MarkWarm() { c.warm.Store(true) }

// RequestRotation asks the pool to replace this page on release, typically
// after the remote side starts throttling it.
func (c *Context) RequestRotation() { c.rotate.Store(true) }

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.state
}

// Pool bounds the number of concurrent browser contexts. All free/busy
// bookkeeping happens under mu; waiting happens on the free channel.
type Pool struct {
	policy Policy
	driver crawler.Driver
	logger *zap.Logger

	free      chan *Context
	closed    chan struct{}
	exhausted chan struct{}
	released  chan struct{}

	mu         sync.Mutex
	browsers   []crawler.Browser
	contexts   []*Context
	isClosed   bool
	effective  int
	inUse      int
	highWater  int
	nextID     int
	uaCursor   int
	rotations  int
	closeOnce  sync.Once
	closeError error
}

// New launches the browsers and eagerly opens Capacity pages. Any driver
// failure is returned as *crawler.PoolInitError after closing whatever was
// already created.
func New(ctx context.Context, driver crawler.Driver, policy Policy, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if driver == nil {
		return nil, &crawler.PoolInitError{Stage: "config", Err: errors.New("browser driver is required")}
	}
	if err := policy.Validate(); err != nil {
		return nil, &crawler.PoolInitError{Stage: "config", Err: err}
	}
	policy = policy.withDefaults()
	p := &Pool{
		policy:    policy,
		driver:    driver,
		logger:    logger,
		free:      make(chan *Context, policy.Capacity),
		closed:    make(chan struct{}),
		exhausted: make(chan struct{}),
		released:  make(chan struct{}, 1),
	}
	if err := p.initialize(ctx); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), policy.ShutdownGrace)
		defer cancel()
		if cerr := p.Shutdown(cleanupCtx); cerr != nil {
			logger.Warn("partial pool cleanup failed", zap.Error(cerr))
		}
		return nil, err
	}
	metrics.SetPoolCapacity(policy.Capacity)
	metrics.SetPoolInUse(0)
	logger.Info("execution context pool ready",
		zap.Int("capacity", policy.Capacity),
		zap.Int("browsers", policy.Browsers),
		zap.Int("rotate_every", policy.RotateEvery),
	)
	return p, nil
}

func (p *Pool) initialize(ctx context.Context) error {
	for i := 0; i < p.policy.Browsers; i++ {
		browser, err := p.driver.Launch(ctx, crawler.LaunchOptions{
			Headless:  p.policy.Headless,
			ExecPath:  p.policy.ExecPath,
			UserAgent: p.nextUserAgent(),
		})
		if err != nil {
			return &crawler.PoolInitError{Stage: "launch", Err: err}
		}
		p.mu.Lock()
		p.browsers = append(p.browsers, browser)
		p.mu.Unlock()
	}
	for i := 0; i < p.policy.Capacity; i++ {
		browserIdx := i % len(p.browsers)
		page, err := p.browsers[browserIdx].NewPage(ctx, p.pageOptions())
		if err != nil {
			return &crawler.PoolInitError{Stage: "page", Err: err}
		}
		c := p.track(browserIdx, page)
		p.free <- c
	}
	p.mu.Lock()
	p.effective = p.policy.Capacity
	p.mu.Unlock()
	return nil
}

func (p *Pool) track(browserIdx int, page crawler.Page) *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	c := &Context{id: p.nextID, pool: p, browser: browserIdx, page: page, state: StateFree}
	p.contexts = append(p.contexts, c)
	return c
}

func (p *Pool) pageOptions() crawler.PageOptions {
	return crawler.PageOptions{
		UserAgent:            p.nextUserAgent(),
		BlockedResourceTypes: append([]string(nil), p.policy.BlockedResourceTypes...),
	}
}

func (p *Pool) nextUserAgent() string {
	if len(p.policy.UserAgents) == 0 {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ua := p.policy.UserAgents[p.uaCursor%len(p.policy.UserAgents)]
	p.uaCursor++
	return ua
}

// Acquire returns a free context, blocking until one is released, the
// acquire timeout elapses, the pool closes, or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (*Context, error) {
	start := time.Now()
	var timeout <-chan time.Time
	if p.policy.AcquireTimeout > 0 {
		timer := time.NewTimer(p.policy.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	for {
		select {
		case <-p.closed:
			return nil, crawler.ErrPoolClosed
		case <-p.exhausted:
			return nil, crawler.ErrPoolExhausted
		default:
		}
		select {
		case c := <-p.free:
			if p.claim(c) {
				metrics.ObserveAcquireWait(time.Since(start))
				return c, nil
			}
		case <-p.closed:
			return nil, crawler.ErrPoolClosed
		case <-p.exhausted:
			return nil, crawler.ErrPoolExhausted
		case <-timeout:
			p.logger.Error("timed out waiting for execution context; pool undersized or a holder leaked",
				zap.Duration("waited", time.Since(start)),
				zap.Int("in_use", p.InUse()),
				zap.Int("effective_capacity", p.EffectiveCapacity()),
			)
			return nil, fmt.Errorf("%w after %s", crawler.ErrContextAcquireTimeout, p.policy.AcquireTimeout)
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire execution context: %w", ctx.Err())
		}
	}
}

func (p *Pool) claim(c *Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.state != StateFree {
		return false
	}
	c.state = StateBusy
	c.uses++
	p.inUse++
	if p.inUse > p.highWater {
		p.highWater = p.inUse
	}
	metrics.SetPoolInUse(p.inUse)
	return true
}

// Release hands a context back. Releasing a context that is not busy is a
// no-op.
func (p *Pool) Release(c *Context) {
	if c == nil || c.pool != p {
		return
	}
	p.mu.Lock()
	if c.state != StateBusy {
		p.mu.Unlock()
		return
	}
	p.inUse--
	metrics.SetPoolInUse(p.inUse)
	rotate := !p.isClosed && (c.rotate.Load() || (p.policy.RotateEvery > 0 && c.uses >= p.policy.RotateEvery))
	if rotate {
		c.state = StateClosed
		p.rotations++
		p.mu.Unlock()
		p.signalReleased()
		p.replace(c)
		return
	}
	c.state = StateFree
	p.mu.Unlock()
	p.free <- c
	p.signalReleased()
}

// Rotate closes a busy context and opens a replacement page on the same
// browser. It is equivalent to RequestRotation followed by Release.
func (p *Pool) Rotate(c *Context) {
	if c == nil {
		return
	}
	c.RequestRotation()
	p.Release(c)
}

func (p *Pool) replace(old *Context) {
	ctx, cancel := context.WithTimeout(context.Background(), p.policy.ShutdownGrace)
	defer cancel()
	if err := closeWithGrace(ctx, old.page.Close); err != nil {
		p.logger.Warn("closing rotated page failed", zap.Int("context_id", old.id), zap.Error(err))
	}

	p.mu.Lock()
	browser := p.browsers[old.browser]
	p.mu.Unlock()
	page, err := browser.NewPage(ctx, p.pageOptions())

	p.mu.Lock()
	if p.isClosed {
		p.mu.Unlock()
		if err == nil {
			if cerr := closeWithGrace(ctx, page.Close); cerr != nil {
				p.logger.Warn("closing late replacement page failed", zap.Error(cerr))
			}
		}
		return
	}
	if err != nil {
		p.effective--
		remaining := p.effective
		if remaining == 0 {
			close(p.exhausted)
		}
		p.mu.Unlock()
		metrics.ObserveRotation(false)
		metrics.SetPoolCapacity(remaining)
		p.logger.Warn("context rotation failed; pool capacity degraded",
			zap.Int("context_id", old.id),
			zap.Int("effective_capacity", remaining),
			zap.Error(err),
		)
		return
	}
	p.nextID++
	fresh := &Context{id: p.nextID, pool: p, browser: old.browser, page: page, state: StateFree}
	p.contexts = append(p.contexts, fresh)
	p.mu.Unlock()
	metrics.ObserveRotation(true)
	p.logger.Debug("context rotated", zap.Int("old_id", old.id), zap.Int("new_id", fresh.id))
	p.free <- fresh
}

func (p *Pool) signalReleased() {
	select {
	case p.released <- struct{}{}:
	default:
	}
}

// Shutdown stops new acquisitions, waits up to the grace period for holders
// to release, then closes every page and browser. Close failures are logged
// and joined; draining never stops early. Only the first call does work.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closeError = p.shutdown(ctx)
	})
	return p.closeError
}

func (p *Pool) shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.isClosed = true
	close(p.closed)
	p.mu.Unlock()

	p.awaitHolders(ctx)

	p.mu.Lock()
	var pages []*Context
	for _, c := range p.contexts {
		if c.state == StateClosed {
			continue
		}
		if c.state == StateBusy {
			p.logger.Warn("force-closing busy context", zap.Int("context_id", c.id))
		}
		c.state = StateClosed
		pages = append(pages, c)
	}
	p.inUse = 0
	browsers := append([]crawler.Browser(nil), p.browsers...)
	p.mu.Unlock()

	var errs []error
	for _, c := range pages {
		cctx, cancel := context.WithTimeout(ctx, p.policy.ShutdownGrace)
		if err := closeWithGrace(cctx, c.page.Close); err != nil {
			p.logger.Warn("close page failed", zap.Int("context_id", c.id), zap.Error(err))
			errs = append(errs, fmt.Errorf("close page %d: %w", c.id, err))
		}
		cancel()
	}
	for i, b := range browsers {
		cctx, cancel := context.WithTimeout(ctx, p.policy.ShutdownGrace)
		if err := closeWithGrace(cctx, b.Close); err != nil {
			p.logger.Warn("close browser failed", zap.Int("browser", i), zap.Error(err))
			errs = append(errs, fmt.Errorf("close browser %d: %w", i, err))
		}
		cancel()
	}
	metrics.SetPoolInUse(0)
	metrics.SetPoolCapacity(0)
	p.logger.Info("execution context pool shut down",
		zap.Int("pages_closed", len(pages)),
		zap.Int("browsers_closed", len(browsers)),
		zap.Int("close_errors", len(errs)),
	)
	return errors.Join(errs...)
}

func (p *Pool) awaitHolders(ctx context.Context) {
	if p.InUse() == 0 {
		return
	}
	timer := time.NewTimer(p.policy.ShutdownGrace)
	defer timer.Stop()
	for p.InUse() > 0 {
		select {
		case <-p.released:
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func closeWithGrace(ctx context.Context, closeFn func(context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		done <- closeFn(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("close did not finish: %w", ctx.Err())
	}
}

// Capacity is the configured number of contexts.
func (p *Pool) Capacity() int {
	return p.policy.Capacity
}

// EffectiveCapacity is the capacity minus contexts lost to failed rotations.
func (p *Pool) EffectiveCapacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.effective
}

// InUse is the number of busy contexts.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// HighWater is the largest number of simultaneously busy contexts observed.
func (p *Pool) HighWater() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highWater
}

// Rotations counts rotations attempted so far.
func (p *Pool) Rotations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}
