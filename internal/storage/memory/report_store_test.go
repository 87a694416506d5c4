package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

func intPtr(v int) *int { return &v }

func record(entity, window string, seq int, date string, played bool) crawler.NormalizedRecord {
	rec := crawler.NormalizedRecord{
		ID:        crawler.RecordID(entity, window, seq),
		EntityID:  entity,
		WindowKey: window,
		Sequence:  seq,
		Date:      date,
		Status:    crawler.RecordScheduled,
		HomeTeam:  "Home",
		AwayTeam:  "Away",
	}
	if played {
		rec.Status = crawler.RecordCompleted
		rec.HomeScore, rec.AwayScore = intPtr(1), intPtr(0)
	}
	return rec
}

func TestReportStoreUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewReportStore()
	ctx := context.Background()
	report := crawler.EntityReport{
		EntityID:         "K5",
		EntityLabel:      "K5 LEAGUE",
		Records:          []crawler.NormalizedRecord{record("K5", "2025-03", 1, "2025-03-02", true), record("K5", "2025-03", 2, "2025-03-09", false)},
		Completed:        1,
		Scheduled:        1,
		WindowsAttempted: 1,
	}
	require.NoError(t, store.UpsertReports(ctx, []crawler.EntityReport{report}))
	require.NoError(t, store.UpsertReports(ctx, []crawler.EntityReport{report}))

	summaries, err := store.ListReports(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, 1, summaries[0].Completed)
	require.Empty(t, summaries[0].Records)

	matches, err := store.ListMatches(ctx, "K5", "")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	report.Records[1] = record("K5", "2025-03", 2, "2025-03-09", true)
	require.NoError(t, store.UpsertReports(ctx, []crawler.EntityReport{report}))
	completed, err := store.ListMatches(ctx, "K5", crawler.RecordCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 2)
}

func TestReportStoreOrdering(t *testing.T) {
	t.Parallel()

	store := NewReportStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertReports(ctx, []crawler.EntityReport{
		{EntityID: "K5", Records: []crawler.NormalizedRecord{
			record("K5", "2025-04", 1, "2025-04-05", true),
			record("K5", "2025-03", 2, "2025-03-09", true),
			record("K5", "2025-03", 1, "2025-03-02", true),
		}},
		{EntityID: "E1", Records: []crawler.NormalizedRecord{
			record("E1", "2025-03", 1, "2025-03-30", true),
			record("E1", "2025-05", 1, "2025-05-01", false),
		}},
	}))

	summaries, err := store.ListReports(ctx)
	require.NoError(t, err)
	require.Equal(t, "E1", summaries[0].EntityID)
	require.Equal(t, "K5", summaries[1].EntityID)

	matches, err := store.ListMatches(ctx, "K5", "")
	require.NoError(t, err)
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	require.Equal(t, []string{"K5-2025-03-1", "K5-2025-03-2", "K5-2025-04-1"}, ids)

	recent, err := store.RecentResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "K5-2025-04-1", recent[0].ID)
	require.Equal(t, "E1-2025-03-1", recent[1].ID)

	none, err := store.ListMatches(ctx, "ZZ", "")
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}
