package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	rediscache "github.com/JakeFAU/matchday-crawler/internal/cache/redis"
	"github.com/JakeFAU/matchday-crawler/internal/config"
	"github.com/JakeFAU/matchday-crawler/internal/crawler"
	"github.com/JakeFAU/matchday-crawler/internal/progress"
	"github.com/JakeFAU/matchday-crawler/internal/progress/sinks"
	"github.com/JakeFAU/matchday-crawler/internal/session"
	"github.com/JakeFAU/matchday-crawler/internal/storage/memory"
)

type fakeCoordinator struct {
	mu     sync.Mutex
	got    []crawler.CrawlRequest
	err    error
	status session.Status
}

func (f *fakeCoordinator) Submit(req crawler.CrawlRequest) (crawler.CrawlRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
	if f.err != nil {
		return req, f.err
	}
	req.ID = "req-1"
	req.Submitted = time.Unix(100, 0).UTC()
	return req, nil
}

func (f *fakeCoordinator) Status() session.Status {
	return f.status
}

func (f *fakeCoordinator) submitted() []crawler.CrawlRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.CrawlRequest(nil), f.got...)
}

func intPtr(v int) *int { return &v }

func seededStore(t *testing.T) *memory.ReportStore {
	t.Helper()
	store := memory.NewReportStore()
	require.NoError(t, store.UpsertReports(context.Background(), []crawler.EntityReport{{
		EntityID:         "K5",
		EntityLabel:      "K5 LEAGUE",
		Completed:        2,
		Scheduled:        1,
		WindowsAttempted: 2,
		WindowsFailed:    1,
		FailedWindows:    []string{"2025-04"},
		Records: []crawler.NormalizedRecord{
			{ID: "K5-2025-03-1", EntityID: "K5", WindowKey: "2025-03", Sequence: 1, Status: crawler.RecordCompleted,
				Date: "2025-03-01", Time: "15:00", HomeTeam: "Alpha", AwayTeam: "Beta", HomeScore: intPtr(2), AwayScore: intPtr(1)},
			{ID: "K5-2025-03-2", EntityID: "K5", WindowKey: "2025-03", Sequence: 2, Status: crawler.RecordCompleted,
				Date: "2025-03-08", Time: "15:00", HomeTeam: "Gamma", AwayTeam: "Delta", HomeScore: intPtr(0), AwayScore: intPtr(0)},
			{ID: "K5-2025-03-3", EntityID: "K5", WindowKey: "2025-03", Sequence: 3, Status: crawler.RecordScheduled,
				Date: "2025-03-15", HomeTeam: "Alpha", AwayTeam: "Gamma"},
		},
	}}))
	return store
}

func newTestServer(t *testing.T, mutate func(*Options)) (*Server, *fakeCoordinator) {
	t.Helper()
	coord := &fakeCoordinator{status: session.Status{State: session.StateIdle}}
	opts := Options{
		Coordinator: coord,
		Store:       seededStore(t),
		CacheTTL:    time.Minute,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewServer(opts), coord
}

func serve(s *Server, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	rec := serve(server, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(server, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	failing, _ := newTestServer(t, func(o *Options) {
		o.Ready = func(context.Context) error { return errors.New("postgres down") }
	})
	rec = serve(failing, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(server, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_RequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	rec := serve(server, http.MethodGet, "/healthz", nil, http.Header{"X-Request-Id": {"abc-123"}})
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_SubmitCrawl(t *testing.T) {
	t.Parallel()

	server, coord := newTestServer(t, nil)
	body := []byte(`{"windows":["2025-03","2025-04"],"concurrency":2}`)
	rec := serve(server, http.MethodPost, "/v1/crawls", body, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "req-1", payload["request_id"])
	require.EqualValues(t, 2, payload["windows"])

	got := coord.submitted()
	require.Len(t, got, 1)
	require.Equal(t, []string{"2025-03", "2025-04"}, got[0].Windows)
	require.Equal(t, 2, got[0].Concurrency)
}

func TestServer_SubmitCrawlEmptyBodyUsesDefaults(t *testing.T) {
	t.Parallel()

	server, coord := newTestServer(t, nil)
	rec := serve(server, http.MethodPost, "/v1/crawls", nil, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	got := coord.submitted()
	require.Len(t, got, 1)
	require.Empty(t, got[0].Windows)
	require.Empty(t, got[0].Entities)
}

func TestServer_SubmitCrawlInvalidJSON(t *testing.T) {
	t.Parallel()

	server, coord := newTestServer(t, nil)
	rec := serve(server, http.MethodPost, "/v1/crawls", []byte("{invalid"), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, coord.submitted())
}

func TestServer_SubmitCrawlErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid", err: fmt.Errorf("%w: no windows to crawl", session.ErrInvalidRequest), want: http.StatusBadRequest},
		{name: "busy", err: session.ErrBusy, want: http.StatusConflict},
		{name: "stopped", err: session.ErrStopped, want: http.StatusServiceUnavailable},
		{name: "unexpected", err: errors.New("entropy exhausted"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server, coord := newTestServer(t, nil)
			coord.err = tt.err
			rec := serve(server, http.MethodPost, "/v1/crawls", []byte(`{}`), nil)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_CrawlStatus(t *testing.T) {
	t.Parallel()

	server, coord := newTestServer(t, nil)
	coord.status = session.Status{
		State:   session.StateRunning,
		Pending: 1,
		Current: &crawler.CrawlRequest{ID: "req-9", Windows: []string{"2025-03"}},
	}
	rec := serve(server, http.MethodGet, "/v1/crawls/status", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got session.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, session.StateRunning, got.State)
	require.Equal(t, 1, got.Pending)
	require.Equal(t, "req-9", got.Current.ID)
}

func TestServer_CoordinatorUnavailable(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{Store: memory.NewReportStore()})
	require.Equal(t, http.StatusServiceUnavailable, serve(server, http.MethodPost, "/v1/crawls", nil, nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(server, http.MethodGet, "/v1/crawls/status", nil, nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(server, http.MethodGet, "/v1/crawls/events", nil, nil).Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, func(o *Options) {
		o.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	})

	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/healthz", nil, nil).Code)
	require.Equal(t, http.StatusForbidden, serve(server, http.MethodGet, "/v1/leagues", nil, nil).Code)
	require.Equal(t, http.StatusForbidden,
		serve(server, http.MethodGet, "/v1/leagues", nil, http.Header{"X-Api-Key": {"wrong"}}).Code)
	require.Equal(t, http.StatusOK,
		serve(server, http.MethodGet, "/v1/leagues", nil, http.Header{"X-Api-Key": {"secret"}}).Code)
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/v1/leagues?api_key=secret", nil, nil).Code)
}

func TestServer_ListLeagues(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	rec := serve(server, http.MethodGet, "/v1/leagues", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "miss", rec.Header().Get("X-Cache"))
	var payload struct {
		Leagues []leagueDTO `json:"leagues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Leagues, 1)
	require.Equal(t, "K5", payload.Leagues[0].EntityID)
	require.Equal(t, 2, payload.Leagues[0].Completed)
	require.Equal(t, []string{"2025-04"}, payload.Leagues[0].FailedWindows)
	require.NotContains(t, rec.Body.String(), "records")
}

func TestServer_ListMatches(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	tests := []struct {
		name   string
		target string
		code   int
		want   int
	}{
		{name: "all", target: "/v1/leagues/K5/matches", code: http.StatusOK, want: 3},
		{name: "completed", target: "/v1/leagues/K5/matches?status=completed", code: http.StatusOK, want: 2},
		{name: "fixtures alias", target: "/v1/leagues/K5/matches?status=fixtures", code: http.StatusOK, want: 1},
		{name: "unknown league", target: "/v1/leagues/K7/matches", code: http.StatusOK, want: 0},
		{name: "bad status", target: "/v1/leagues/K5/matches?status=postponed", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(server, http.MethodGet, tt.target, nil, nil)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}
			var payload struct {
				LeagueID string                     `json:"league_id"`
				Matches  []crawler.NormalizedRecord `json:"matches"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			require.Len(t, payload.Matches, tt.want)
			require.NotNil(t, payload.Matches)
		})
	}
}

func TestServer_Newsfeed(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	rec := serve(server, http.MethodGet, "/v1/newsfeed?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Results []crawler.NormalizedRecord `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Results, 1)
	require.Equal(t, "K5-2025-03-2", payload.Results[0].ID)

	for _, bad := range []string{"0", "-3", "ten"} {
		rec = serve(server, http.MethodGet, "/v1/newsfeed?limit="+bad, nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}
}

func TestServer_ReadsAreCached(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	c := rediscache.New(client, "matchday")
	t.Cleanup(func() { _ = c.Close() })

	store := seededStore(t)
	server := NewServer(Options{Store: store, Cache: c, CacheTTL: time.Minute})

	first := serve(server, http.MethodGet, "/v1/leagues", nil, nil)
	require.Equal(t, "miss", first.Header().Get("X-Cache"))
	require.True(t, srv.Exists("matchday:leagues"))
	require.Equal(t, time.Minute, srv.TTL("matchday:leagues"))

	// A newer store write stays hidden until the key is invalidated.
	require.NoError(t, store.UpsertReports(context.Background(), []crawler.EntityReport{{EntityID: "K6", EntityLabel: "K6"}}))
	second := serve(server, http.MethodGet, "/v1/leagues", nil, nil)
	require.Equal(t, "hit", second.Header().Get("X-Cache"))
	require.JSONEq(t, first.Body.String(), second.Body.String())

	n, err := c.Invalidate(context.Background(), "leagues")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	third := serve(server, http.MethodGet, "/v1/leagues", nil, nil)
	require.Equal(t, "miss", third.Header().Get("X-Cache"))
	require.Contains(t, third.Body.String(), "K6")

	matches := serve(server, http.MethodGet, "/v1/leagues/K5/matches?status=completed", nil, nil)
	require.Equal(t, http.StatusOK, matches.Code)
	require.True(t, srv.Exists("matchday:matches:K5:completed"))
	news := serve(server, http.MethodGet, "/v1/newsfeed", nil, nil)
	require.Equal(t, http.StatusOK, news.Code)
	require.True(t, srv.Exists("matchday:newsfeed:20"))
}

func TestServer_CacheFailureFallsBackToStore(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr(), MaxRetries: -1})
	c := rediscache.New(client, "matchday")
	t.Cleanup(func() { _ = c.Close() })
	srv.Close()

	server := NewServer(Options{Store: seededStore(t), Cache: c, CacheTTL: time.Minute})
	rec := serve(server, http.MethodGet, "/v1/leagues", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "miss", rec.Header().Get("X-Cache"))
	require.Contains(t, rec.Body.String(), "K5")
}

func TestServer_StreamEvents(t *testing.T) {
	t.Parallel()

	stream := sinks.NewStream(8)
	server, _ := newTestServer(t, func(o *Options) { o.Events = stream })
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/crawls/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return stream.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	evt := progress.Event{
		TS:        time.Unix(200, 0).UTC(),
		Stage:     progress.StageWindowDone,
		EntityID:  "K5",
		WindowKey: "2025-03",
		Success:   true,
		Records:   3,
	}
	require.NoError(t, stream.Consume(context.Background(), []progress.Event{evt}))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: WINDOW_DONE\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))
	var got progress.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &got))
	require.Equal(t, "2025-03", got.WindowKey)
	require.Equal(t, 3, got.Records)

	cancel()
	require.Eventually(t, func() bool { return stream.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
