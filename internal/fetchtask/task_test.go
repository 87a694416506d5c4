package fetchtask

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

type scriptedPage struct {
	navigations atomic.Int32
	calls       atomic.Int32
	lastReq     crawler.RemoteRequest
	respond     func(call int) (crawler.RemoteResponse, error)
	block       bool
}

func (p *scriptedPage) Navigate(context.Context, string) error {
	p.navigations.Add(1)
	return nil
}

func (p *scriptedPage) EvaluateRemoteFetch(ctx context.Context, req crawler.RemoteRequest) (crawler.RemoteResponse, error) {
	n := int(p.calls.Add(1))
	p.lastReq = req
	if p.block {
		<-ctx.Done()
		return crawler.RemoteResponse{}, ctx.Err()
	}
	return p.respond(n)
}

func (p *scriptedPage) Close(context.Context) error { return nil }

type fakeLease struct {
	page    crawler.Page
	warm    bool
	rotated bool
}

func (l *fakeLease) Page() crawler.Page { return l.page }
func (l *fakeLease) Warm() bool         { return l.warm }
func (l *fakeLease) MarkWarm()          { l.warm = true }
func (l *fakeLease) RequestRotation()   { l.rotated = true }

func ok(body string) func(int) (crawler.RemoteResponse, error) {
	return func(int) (crawler.RemoteResponse, error) {
		return crawler.RemoteResponse{StatusCode: 200, Body: []byte(body)}, nil
	}
}

func newTask(t *testing.T, cfg Config) *Task {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://results.example.com"
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/api/schedule"
	}
	if cfg.Backoff == (crawler.BackoffPolicy{}) {
		cfg.Backoff = crawler.NoBackoff()
	}
	task, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	return task
}

var spec = crawler.TaskSpec{
	EntityID:    "E1",
	EntityLabel: "K4 LEAGUE",
	WindowKey:   "2025-03",
	Params:      crawler.RequestParams{Tag: "K4", RegionTag: "KR", Year: 2025, Month: 3},
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "not a url", EndpointPath: "/x"}, nil, nil)
	require.Error(t, err)
	_, err = New(Config{BaseURL: "https://x.example"}, nil, nil)
	require.Error(t, err)
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	page := &scriptedPage{respond: ok(`{"data":[
		{"home":"A","away":"B","home_score":2,"away_score":1},
		{"home":"C","away":"D","home_score":"0","away_score":"0"},
		{"home":"E","away":"F","home_score":null,"away_score":""}
	]}`)}
	lease := &fakeLease{page: page}
	task := newTask(t, Config{})

	out := task.Execute(context.Background(), lease, spec)

	require.True(t, out.Succeeded(), "err: %v", out.Err)
	require.Len(t, out.Records, 3)
	assert.Equal(t, "E1-2025-03-1", out.Records[0].ID)
	assert.Equal(t, "E1-2025-03-3", out.Records[2].ID)
	assert.Equal(t, crawler.RecordCompleted, out.Records[1].Status)
	assert.Equal(t, crawler.RecordScheduled, out.Records[2].Status)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, lease.warm)
	assert.EqualValues(t, 1, page.navigations.Load())

	form, err := url.ParseQuery(page.lastReq.Body)
	require.NoError(t, err)
	assert.Equal(t, "03", form.Get("month"))
	assert.Equal(t, "K4", form.Get("tag"))
	assert.Equal(t, "https://results.example.com/api/schedule", page.lastReq.URL)
}

func TestExecuteSkipsLandingWhenWarm(t *testing.T) {
	t.Parallel()

	page := &scriptedPage{respond: ok(`{"data":[]}`)}
	out := newTask(t, Config{}).Execute(context.Background(), &fakeLease{page: page, warm: true}, spec)

	require.True(t, out.Succeeded())
	assert.Empty(t, out.Records)
	assert.EqualValues(t, 0, page.navigations.Load())
}

func TestExecuteFailureKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		respond func(int) (crawler.RemoteResponse, error)
		kind    crawler.FailureKind
		rotated bool
	}{
		{
			name: "server error",
			respond: func(int) (crawler.RemoteResponse, error) {
				return crawler.RemoteResponse{StatusCode: 502}, nil
			},
			kind: crawler.FailureNetwork,
		},
		{
			name: "throttled",
			respond: func(int) (crawler.RemoteResponse, error) {
				return crawler.RemoteResponse{StatusCode: 429}, nil
			},
			kind:    crawler.FailureNetwork,
			rotated: true,
		},
		{
			name: "transport",
			respond: func(int) (crawler.RemoteResponse, error) {
				return crawler.RemoteResponse{}, errors.New("TypeError: Failed to fetch")
			},
			kind: crawler.FailureNetwork,
		},
		{name: "empty body", respond: ok("  "), kind: crawler.FailureMalformed},
		{name: "not json", respond: ok("<html>"), kind: crawler.FailureMalformed},
		{name: "missing data", respond: ok(`{"rows":[]}`), kind: crawler.FailureMalformed},
		{name: "bad score", respond: ok(`{"data":[{"home_score":"two"}]}`), kind: crawler.FailureMalformed},
		{
			name: "panic",
			respond: func(int) (crawler.RemoteResponse, error) {
				panic("page crashed")
			},
			kind: crawler.FailureInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			lease := &fakeLease{page: &scriptedPage{respond: tt.respond}}
			out := newTask(t, Config{}).Execute(context.Background(), lease, spec)

			assert.Equal(t, crawler.TaskFailure, out.Status)
			assert.Empty(t, out.Records)
			assert.Equal(t, tt.kind, crawler.Classify(out.Err), "err: %v", out.Err)
			assert.Equal(t, tt.rotated, lease.rotated)
		})
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()

	page := &scriptedPage{block: true}
	task := newTask(t, Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	out := task.Execute(context.Background(), &fakeLease{page: page, warm: true}, spec)

	assert.Less(t, time.Since(start), time.Second)
	require.ErrorIs(t, out.Err, crawler.ErrTaskTimeout)
	assert.Equal(t, crawler.FailureTimeout, crawler.Classify(out.Err))
}

func TestExecuteRetriesNetworkErrors(t *testing.T) {
	t.Parallel()

	page := &scriptedPage{respond: func(call int) (crawler.RemoteResponse, error) {
		if call < 3 {
			return crawler.RemoteResponse{StatusCode: 503}, nil
		}
		return crawler.RemoteResponse{StatusCode: 200, Body: []byte(`{"data":[{"home":"A","away":"B"}]}`)}, nil
	}}
	task := newTask(t, Config{Backoff: crawler.BackoffPolicy{MaxAttempts: 3}})

	out := task.Execute(context.Background(), &fakeLease{page: page, warm: true}, spec)

	require.True(t, out.Succeeded(), "err: %v", out.Err)
	assert.Equal(t, 3, out.Attempts)
	assert.Len(t, out.Records, 1)
}

func TestExecuteDoesNotRetryMalformed(t *testing.T) {
	t.Parallel()

	page := &scriptedPage{respond: ok("garbage")}
	task := newTask(t, Config{Backoff: crawler.BackoffPolicy{MaxAttempts: 3}})

	out := task.Execute(context.Background(), &fakeLease{page: page, warm: true}, spec)

	assert.Equal(t, 1, out.Attempts)
	assert.EqualValues(t, 1, page.calls.Load())
}

func TestExecuteCanceledParent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page := &scriptedPage{block: true}

	out := newTask(t, Config{Backoff: crawler.BackoffPolicy{MaxAttempts: 3}}).
		Execute(ctx, &fakeLease{page: page, warm: true}, spec)

	assert.Equal(t, crawler.FailureCanceled, crawler.Classify(out.Err))
	assert.Equal(t, 1, out.Attempts)
}

type recordingPacer struct {
	urls []string
	err  error
}

func (p *recordingPacer) Wait(_ context.Context, rawURL string) error {
	p.urls = append(p.urls, rawURL)
	return p.err
}

func TestExecuteWaitsOnPacer(t *testing.T) {
	t.Parallel()

	pacer := &recordingPacer{}
	task, err := New(Config{
		BaseURL:      "https://results.example.com",
		EndpointPath: "/api/schedule",
		Backoff:      crawler.NoBackoff(),
	}, pacer, zap.NewNop())
	require.NoError(t, err)

	page := &scriptedPage{respond: ok(`{"data":[]}`)}
	out := task.Execute(context.Background(), &fakeLease{page: page, warm: true}, spec)
	require.True(t, out.Succeeded())
	assert.Equal(t, []string{"https://results.example.com/api/schedule"}, pacer.urls)

	pacer.err = errors.New("limiter closed")
	page = &scriptedPage{respond: ok(`{"data":[]}`)}
	out = task.Execute(context.Background(), &fakeLease{page: page, warm: true}, spec)
	require.False(t, out.Succeeded())
	require.ErrorContains(t, out.Err, "pace request")
	assert.EqualValues(t, 0, page.calls.Load())
}

type markerDetector struct{}

func (markerDetector) IsChallenge(resp crawler.RemoteResponse) bool {
	return len(resp.Body) > 0 && resp.Body[0] == '<'
}

func TestExecuteRotatesOnChallengePage(t *testing.T) {
	t.Parallel()

	page := &scriptedPage{respond: ok(`<html>verify you are human</html>`)}
	lease := &fakeLease{page: page, warm: true}
	out := newTask(t, Config{Challenge: markerDetector{}}).Execute(context.Background(), lease, spec)

	require.False(t, out.Succeeded())
	assert.Equal(t, crawler.FailureNetwork, crawler.Classify(out.Err))
	assert.ErrorContains(t, out.Err, "challenge page")
	assert.True(t, lease.rotated)
}

func TestExecuteDoesNotRetryOnPageFlaggedForRotation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp crawler.RemoteResponse
	}{
		{name: "forbidden", resp: crawler.RemoteResponse{StatusCode: 403}},
		{name: "too many requests", resp: crawler.RemoteResponse{StatusCode: 429}},
		{name: "challenge page", resp: crawler.RemoteResponse{StatusCode: 200, Body: []byte(`<html>checking</html>`)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			page := &scriptedPage{respond: func(int) (crawler.RemoteResponse, error) { return tt.resp, nil }}
			lease := &fakeLease{page: page, warm: true}
			task := newTask(t, Config{
				Backoff:   crawler.BackoffPolicy{MaxAttempts: 3},
				Challenge: markerDetector{},
			})

			out := task.Execute(context.Background(), lease, spec)

			require.False(t, out.Succeeded())
			assert.Equal(t, crawler.FailureNetwork, crawler.Classify(out.Err))
			assert.True(t, lease.rotated)
			assert.Equal(t, 1, out.Attempts)
			assert.EqualValues(t, 1, page.calls.Load())
		})
	}
}
