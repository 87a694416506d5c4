// Package aggregate folds task outcomes into per-league reports.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

// Aggregate groups outcomes by entity. Entities keep the order in which they
// first appear in specs and windows are ordered chronologically, so the
// result does not depend on which worker finished first. Outcomes must match
// specs one to one.
func Aggregate(specs []crawler.TaskSpec, outcomes []crawler.TaskOutcome) ([]crawler.EntityReport, error) {
	if err := checkConsistency(specs, outcomes); err != nil {
		return nil, err
	}

	var order []string
	groups := make(map[string][]crawler.TaskOutcome)
	labels := make(map[string]string)
	for _, s := range specs {
		if _, ok := groups[s.EntityID]; !ok {
			order = append(order, s.EntityID)
			groups[s.EntityID] = nil
			labels[s.EntityID] = s.EntityLabel
		}
	}
	for _, o := range outcomes {
		groups[o.Spec.EntityID] = append(groups[o.Spec.EntityID], o)
	}

	reports := make([]crawler.EntityReport, 0, len(order))
	for _, id := range order {
		reports = append(reports, buildReport(id, labels[id], groups[id]))
	}
	return reports, nil
}

func buildReport(entityID, label string, outcomes []crawler.TaskOutcome) crawler.EntityReport {
	sort.SliceStable(outcomes, func(i, j int) bool {
		return crawler.CompareWindowKeys(outcomes[i].Spec.WindowKey, outcomes[j].Spec.WindowKey) < 0
	})
	report := crawler.EntityReport{
		EntityID:         entityID,
		EntityLabel:      label,
		Records:          []crawler.NormalizedRecord{},
		WindowsAttempted: len(outcomes),
	}
	for _, o := range outcomes {
		if !o.Succeeded() {
			report.WindowsFailed++
			report.FailedWindows = append(report.FailedWindows, o.Spec.WindowKey)
			continue
		}
		report.Records = append(report.Records, o.Records...)
	}
	for _, r := range report.Records {
		switch r.Status {
		case crawler.RecordCompleted:
			report.Completed++
		case crawler.RecordScheduled:
			report.Scheduled++
		}
	}
	return report.Clone()
}

func checkConsistency(specs []crawler.TaskSpec, outcomes []crawler.TaskOutcome) error {
	if len(specs) != len(outcomes) {
		return fmt.Errorf("%w: %d tasks submitted, %d outcomes received",
			crawler.ErrAggregationInconsistency, len(specs), len(outcomes))
	}
	pending := make(map[string]int, len(specs))
	for _, s := range specs {
		pending[s.Key()]++
	}
	for _, o := range outcomes {
		key := o.Spec.Key()
		if pending[key] == 0 {
			return fmt.Errorf("%w: unexpected or duplicate outcome for %s",
				crawler.ErrAggregationInconsistency, key)
		}
		pending[key]--
	}
	return nil
}

// Flatten concatenates report records in report order.
func Flatten(reports []crawler.EntityReport) []crawler.NormalizedRecord {
	n := 0
	for _, r := range reports {
		n += len(r.Records)
	}
	out := make([]crawler.NormalizedRecord, 0, n)
	for _, r := range reports {
		out = append(out, r.Records...)
	}
	return out
}

// Totals sums the counters across reports.
type Totals struct {
	Entities      int `json:"entities"`
	Records       int `json:"records"`
	Completed     int `json:"completed"`
	Scheduled     int `json:"scheduled"`
	Windows       int `json:"windows"`
	FailedWindows int `json:"failed_windows"`
}

// Summarize computes Totals for reports.
func Summarize(reports []crawler.EntityReport) Totals {
	t := Totals{Entities: len(reports)}
	for _, r := range reports {
		t.Records += len(r.Records)
		t.Completed += r.Completed
		t.Scheduled += r.Scheduled
		t.Windows += r.WindowsAttempted
		t.FailedWindows += r.WindowsFailed
	}
	return t
}
