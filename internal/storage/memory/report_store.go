// Package memory keeps reports and artifacts in-process for development and
// tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

// ReportStore implements crawler.ReportStore with maps keyed the same way as
// the Postgres tables: summaries by entity id, records by record id.
type ReportStore struct {
	mu        sync.RWMutex
	summaries map[string]crawler.EntityReport
	records   map[string]crawler.NormalizedRecord
}

// NewReportStore constructs an empty store.
func NewReportStore() *ReportStore {
	return &ReportStore{
		summaries: make(map[string]crawler.EntityReport),
		records:   make(map[string]crawler.NormalizedRecord),
	}
}

// UpsertReports replaces each league summary and upserts its records by id.
// Records from earlier sessions that are not in the new report are kept.
func (s *ReportStore) UpsertReports(_ context.Context, reports []crawler.EntityReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range reports {
		cp := r.Clone()
		for _, rec := range cp.Records {
			s.records[rec.ID] = rec
		}
		cp.Records = []crawler.NormalizedRecord{}
		s.summaries[r.EntityID] = cp
	}
	return nil
}

// ListReports returns league summaries ordered by entity id, without records.
func (s *ReportStore) ListReports(context.Context) ([]crawler.EntityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.EntityReport, 0, len(s.summaries))
	for _, r := range s.summaries {
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b crawler.EntityReport) int { return cmp.Compare(a.EntityID, b.EntityID) })
	return out, nil
}

// ListMatches returns records for one league ordered by window then
// sequence. An empty status matches every record.
func (s *ReportStore) ListMatches(_ context.Context, entityID string, status crawler.RecordStatus) ([]crawler.NormalizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []crawler.NormalizedRecord{}
	for _, rec := range s.records {
		if rec.EntityID != entityID || (status != "" && rec.Status != status) {
			continue
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b crawler.NormalizedRecord) int {
		if c := crawler.CompareWindowKeys(a.WindowKey, b.WindowKey); c != 0 {
			return c
		}
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return out, nil
}

// RecentResults returns up to limit completed matches, newest first.
func (s *ReportStore) RecentResults(_ context.Context, limit int) ([]crawler.NormalizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []crawler.NormalizedRecord{}
	for _, rec := range s.records {
		if rec.Status == crawler.RecordCompleted {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b crawler.NormalizedRecord) int {
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Time, a.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
