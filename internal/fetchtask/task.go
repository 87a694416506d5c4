// Package fetchtask performs one (league, month) round trip through a pooled
// browser page and normalizes the response into match records.
package fetchtask

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
	"github.com/JakeFAU/matchday-crawler/internal/metrics"
)

const defaultTimeout = 12 * time.Second

// Lease is the part of a pooled execution context a task needs.
type Lease interface {
	Page() crawler.Page
	Warm() bool
	MarkWarm()
	RequestRotation()
}

// Config describes the remote endpoint and per-attempt limits.
type Config struct {
	BaseURL      string
	LandingPath  string
	EndpointPath string
	Headers      http.Header
	Timeout      time.Duration
	Backoff      crawler.BackoffPolicy
	// Challenge flags anti-bot pages served with a 2xx status. Optional.
	Challenge ChallengeDetector
}

// ChallengeDetector recognizes responses that are not data.
type ChallengeDetector interface {
	IsChallenge(resp crawler.RemoteResponse) bool
}

// Pacer spaces out requests to a host. *ratelimit.Limiter implements it.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Task executes fetches. It is safe for concurrent use; the pacer is shared
// across every worker in a session.
type Task struct {
	cfg         Config
	landingURL  string
	endpointURL string
	pacer       Pacer
	logger      *zap.Logger
}

// New validates cfg and resolves the landing and endpoint URLs. A nil pacer
// disables pacing.
func New(cfg Config, pacer Pacer, logger *zap.Logger) (*Task, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("remote.base_url must be an absolute URL")
	}
	if cfg.EndpointPath == "" {
		return nil, fmt.Errorf("remote.endpoint_path must be set")
	}
	if cfg.LandingPath == "" {
		cfg.LandingPath = "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	landing, err := url.JoinPath(cfg.BaseURL, cfg.LandingPath)
	if err != nil {
		return nil, fmt.Errorf("resolve landing url: %w", err)
	}
	endpoint, err := url.JoinPath(cfg.BaseURL, cfg.EndpointPath)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint url: %w", err)
	}
	return &Task{
		cfg:         cfg,
		landingURL:  landing,
		endpointURL: endpoint,
		pacer:       pacer,
		logger:      logger,
	}, nil
}

// Execute runs spec through lease and always returns an outcome. Failures
// are recorded on the outcome, including panics from the page.
func (t *Task) Execute(ctx context.Context, lease Lease, spec crawler.TaskSpec) (out crawler.TaskOutcome) {
	start := time.Now()
	out = crawler.TaskOutcome{Spec: spec, Status: crawler.TaskFailure}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("fetch task panicked", zap.String("task", spec.Key()), zap.Any("panic", r))
			out.Status = crawler.TaskFailure
			out.Records = nil
			out.Err = fmt.Errorf("fetch task panic: %v", r)
		}
		out.Duration = time.Since(start)
		metrics.ObserveTask(string(out.Status), string(crawler.Classify(out.Err)), out.Duration)
	}()

	backoff := t.cfg.Backoff
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		records, rotate, err := t.attempt(ctx, lease, spec)
		if err == nil {
			out.Status = crawler.TaskSuccess
			out.Records = records
			out.Err = nil
			return out
		}
		out.Err = err
		if !backoff.ShouldRetry(err, attempt) || ctx.Err() != nil {
			return out
		}
		// A page flagged for rotation is only replaced on release, so the
		// next task retries on a fresh one.
		if rotate {
			t.logger.Debug("page flagged for rotation; not retrying in place",
				zap.String("task", spec.Key()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return out
		}
		t.logger.Debug("retrying fetch",
			zap.String("task", spec.Key()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if werr := backoff.Wait(ctx, attempt); werr != nil {
			return out
		}
	}
}

func (t *Task) attempt(ctx context.Context, lease Lease, spec crawler.TaskSpec) (records []crawler.NormalizedRecord, rotate bool, err error) {
	if t.pacer != nil {
		if err := t.pacer.Wait(ctx, t.endpointURL); err != nil {
			return nil, false, fmt.Errorf("pace request: %w", err)
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	page := lease.Page()
	if !lease.Warm() {
		if err := page.Navigate(attemptCtx, t.landingURL); err != nil {
			return nil, false, t.roundTripError(ctx, attemptCtx, "navigate", err)
		}
		lease.MarkWarm()
	}
	resp, err := page.EvaluateRemoteFetch(attemptCtx, t.request(spec))
	if err != nil {
		return nil, false, t.roundTripError(ctx, attemptCtx, "fetch", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
			lease.RequestRotation()
			rotate = true
		}
		return nil, rotate, &crawler.HTTPStatusError{StatusCode: resp.StatusCode}
	}
	if t.cfg.Challenge != nil && t.cfg.Challenge.IsChallenge(resp) {
		lease.RequestRotation()
		return nil, true, fmt.Errorf("%w: challenge page served", crawler.ErrTaskNetwork)
	}
	records, err = Normalize(spec, resp.Body)
	return records, false, err
}

func (t *Task) roundTripError(parent, attemptCtx context.Context, op string, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("%s: %w", op, parent.Err())
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s: %s: %v", crawler.ErrTaskTimeout, t.cfg.Timeout, op, err)
	case errors.Is(err, crawler.ErrTaskNetwork):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %w", crawler.ErrTaskNetwork, op, err)
	}
}

func (t *Task) request(spec crawler.TaskSpec) crawler.RemoteRequest {
	form := url.Values{}
	form.Set("tag", spec.Params.Tag)
	form.Set("region_tag", spec.Params.RegionTag)
	form.Set("year", strconv.Itoa(spec.Params.Year))
	form.Set("month", fmt.Sprintf("%02d", spec.Params.Month))

	headers := t.cfg.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	if headers.Get("X-Requested-With") == "" {
		headers.Set("X-Requested-With", "XMLHttpRequest")
	}
	return crawler.RemoteRequest{
		URL:     t.endpointURL,
		Method:  http.MethodPost,
		Body:    form.Encode(),
		Headers: headers,
	}
}
