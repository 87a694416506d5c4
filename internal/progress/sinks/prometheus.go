package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/matchday-crawler/internal/progress"
)

// PrometheusSink turns progress events into session, window and record
// counters.
type PrometheusSink struct {
	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionsRunning  prometheus.Gauge
	sessionRuntime   *prometheus.HistogramVec

	windows       *prometheus.CounterVec
	records       *prometheus.CounterVec
	windowLatency *prometheus.HistogramVec

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewPrometheusSink registers its collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchday_progress_sessions_started_total",
			Help: "Crawl sessions that have started.",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchday_progress_sessions_finished_total",
			Help: "Crawl sessions finished, by result.",
		}, []string{"result"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchday_progress_sessions_running",
			Help: "Crawl sessions currently running.",
		}),
		sessionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchday_progress_session_seconds",
			Help:    "Wall time per crawl session.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"result"}),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchday_progress_windows_total",
			Help: "Finished (league, month) windows by league and outcome kind.",
		}, []string{"league", "kind"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchday_progress_records_total",
			Help: "Normalized match records by league and status.",
		}, []string{"league", "status"}),
		windowLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchday_progress_window_seconds",
			Help:    "Window fetch latency by outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"result"}),
		running: make(map[uuid.UUID]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.sessionsStarted, s.sessionsFinished, s.sessionsRunning, s.sessionRuntime,
		s.windows, s.records, s.windowLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates collectors for the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSessionStart:
			s.sessionsStarted.Inc()
			if s.track(evt.SessionID, true) {
				s.sessionsRunning.Inc()
			}
		case progress.StageSessionDone, progress.StageSessionError:
			result := "success"
			if evt.Stage == progress.StageSessionError {
				result = "error"
			}
			s.sessionsFinished.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.sessionRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.SessionID, false) {
				s.sessionsRunning.Dec()
			}
		case progress.StageWindowDone:
			s.observeWindow(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) observeWindow(evt progress.Event) {
	kind := string(evt.Kind)
	result := "failure"
	if evt.Success {
		kind = "none"
		result = "success"
	}
	s.windows.WithLabelValues(evt.EntityID, kind).Inc()
	if evt.Completed > 0 {
		s.records.WithLabelValues(evt.EntityID, "completed").Add(float64(evt.Completed))
	}
	if evt.Scheduled > 0 {
		s.records.WithLabelValues(evt.EntityID, "scheduled").Add(float64(evt.Scheduled))
	}
	if evt.Dur > 0 {
		s.windowLatency.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// track records start (true) or finish (false) and reports whether the
// running set changed.
func (s *PrometheusSink) track(id uuid.UUID, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
