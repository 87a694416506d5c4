// Package headless drives headless Chrome through chromedp. Each Browser owns
// one allocator; each Page is a long-lived tab that the pool lends to fetch
// tasks.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

// Driver launches Chrome processes via chromedp.
type Driver struct {
	logger *zap.Logger
}

// NewDriver returns a chromedp-backed crawler.Driver.
func NewDriver(logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{logger: logger}
}

// Launch starts a browser and waits for it to accept commands.
func (d *Driver) Launch(ctx context.Context, opts crawler.LaunchOptions) (crawler.Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stop := forwardCancel(ctx, browserCancel)
	defer stop()
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	d.logger.Debug("browser launched", zap.Bool("headless", opts.Headless), zap.String("exec_path", opts.ExecPath))
	return &browser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		logger:      d.logger,
	}, nil
}

func allocatorOptions(opts crawler.LaunchOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.Headless {
		out = append(out, chromedp.Flag("headless", "new"))
	} else {
		out = append(out, chromedp.Flag("headless", false))
	}
	out = append(out,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	return out
}

type browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewPage opens a tab and applies the user agent and resource blocking.
func (b *browser) NewPage(ctx context.Context, opts crawler.PageOptions) (crawler.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	p := &page{ctx: tabCtx, cancel: tabCancel}
	if len(opts.BlockedResourceTypes) > 0 {
		p.listenBlocked()
	}
	// The first Run creates the target and binds its event loop to the
	// context it is given, so it must be the tab context itself.
	stop := forwardCancel(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if err := p.run(ctx, setupAction(opts)); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

// Close shuts the browser down gracefully, then releases the allocator.
func (b *browser) Close(ctx context.Context) error {
	defer b.allocCancel()
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Cancel(b.ctx)
	}()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("close browser: %w", err)
		}
		return nil
	case <-ctx.Done():
		b.cancel()
		return fmt.Errorf("close browser: %w", ctx.Err())
	}
}

func setupAction(opts crawler.PageOptions) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if opts.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(opts.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if patterns := blockPatterns(opts.BlockedResourceTypes); len(patterns) > 0 {
			if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
				return fmt.Errorf("enable request interception: %w", err)
			}
		}
		return nil
	})
}

func blockPatterns(types []string) []*fetch.RequestPattern {
	patterns := make([]*fetch.RequestPattern, 0, len(types))
	for _, t := range types {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   "*",
			ResourceType: network.ResourceType(t),
			RequestStage: fetch.RequestStageRequest,
		})
	}
	return patterns
}

type page struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Only blocked resource types are intercepted, so every paused request fails.
func (p *page) listenBlocked() {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(p.ctx)
			if c == nil || c.Target == nil {
				return
			}
			execCtx := cdp.WithExecutor(p.ctx, c.Target)
			_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
		}()
	})
}

// run executes actions on the tab, bounded by the caller's deadline and
// cancellation without tying the tab's lifetime to the caller.
func (p *page) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.ctx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// Navigate loads the origin so subsequent in-page fetches carry its cookies.
func (p *page) Navigate(ctx context.Context, url string) error {
	err := p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return classifyRunError(ctx, fmt.Errorf("navigate %s: %w", url, err))
	}
	return nil
}

type fetchResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// EvaluateRemoteFetch issues the request from inside the page with fetch().
func (p *page) EvaluateRemoteFetch(ctx context.Context, req crawler.RemoteRequest) (crawler.RemoteResponse, error) {
	script, err := fetchScript(req)
	if err != nil {
		return crawler.RemoteResponse{}, err
	}
	var res fetchResult
	err = p.run(ctx, chromedp.Evaluate(script, &res, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}))
	if err != nil {
		return crawler.RemoteResponse{}, classifyRunError(ctx, fmt.Errorf("evaluate fetch: %w", err))
	}
	return crawler.RemoteResponse{StatusCode: res.Status, Body: []byte(res.Body)}, nil
}

// Close closes the tab.
func (p *page) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Cancel(p.ctx)
	}()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("close tab: %w", err)
		}
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("close tab: %w", ctx.Err())
	}
}

func classifyRunError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %w", crawler.ErrTaskNetwork, err)
}

const fetchTemplate = `(async (req) => {
  const res = await fetch(req.url, {
    method: req.method,
    headers: req.headers,
    body: req.body === "" ? undefined : req.body,
    credentials: "include",
  });
  return { status: res.status, body: await res.text() };
})(%s)`

type scriptArgs struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func fetchScript(req crawler.RemoteRequest) (string, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	args, err := json.Marshal(scriptArgs{
		URL:     req.URL,
		Method:  method,
		Headers: flattenHeaders(req.Headers),
		Body:    req.Body,
	})
	if err != nil {
		return "", fmt.Errorf("encode fetch args: %w", err)
	}
	return fmt.Sprintf(fetchTemplate, args), nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
