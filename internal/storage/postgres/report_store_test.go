package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*ReportStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithDB(mock, "matches")
	require.NoError(t, err)
	fixed := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, mock
}

func TestNewWithDBValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithDB(mock, "matches; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")
	_, err = NewWithDB(nil, "")
	require.Error(t, err)

	store, err := NewWithDB(mock, "")
	require.NoError(t, err)
	require.Equal(t, "matches", store.records)
	require.Equal(t, "matches_leagues", store.leagues)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS matches").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS matches_entity_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS matches_leagues").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReportsCommits(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := store.now()
	home, away := 2, 1
	report := crawler.EntityReport{
		EntityID:         "K5",
		EntityLabel:      "K5 LEAGUE",
		Completed:        1,
		WindowsAttempted: 2,
		WindowsFailed:    1,
		FailedWindows:    []string{"2025-04"},
		Records: []crawler.NormalizedRecord{{
			ID: "K5-2025-03-1", EntityID: "K5", WindowKey: "2025-03", Sequence: 1,
			Status: crawler.RecordCompleted, Date: "2025-03-02", Time: "15:00",
			HomeTeam: "A", AwayTeam: "B", HomeScore: &home, AwayScore: &away,
		}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO matches_leagues").
		WithArgs("K5", "K5 LEAGUE", 1, 0, 2, 1, []byte(`["2025-04"]`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO matches ").
		WithArgs("K5-2025-03-1", "K5", "2025-03", 1, "completed", "2025-03-02", "15:00", pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertReports(context.Background(), []crawler.EntityReport{report}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReportsRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO matches_leagues").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), []byte(`[]`), pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.UpsertReports(context.Background(), []crawler.EntityReport{{EntityID: "E1", EntityLabel: "E1"}})
	require.ErrorContains(t, err, "upsert league E1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListReports(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{"entity_id", "entity_label", "completed", "scheduled", "windows_attempted", "windows_failed", "failed_windows"}).
		AddRow("E1", "E1 LEAGUE", 3, 1, 2, 1, []byte(`["2025-04"]`)).
		AddRow("K5", "K5 LEAGUE", 0, 4, 1, 0, []byte(`[]`))
	mock.ExpectQuery("SELECT entity_id, entity_label").WillReturnRows(rows)

	reports, err := store.ListReports(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	require.Equal(t, []string{"2025-04"}, reports[0].FailedWindows)
	require.Nil(t, reports[1].FailedWindows)
	require.NotNil(t, reports[1].Records)
	require.Equal(t, 4, reports[1].Scheduled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMatchesAndRecent(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	doc := []byte(`{"id":"K5-2025-03-1","entity_id":"K5","window_key":"2025-03","sequence":1,"status":"completed","home_team":"A","away_team":"B","home_score":2,"away_score":1}`)

	mock.ExpectQuery("SELECT doc FROM matches").
		WithArgs("K5", "completed").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))
	matches, err := store.ListMatches(context.Background(), "K5", crawler.RecordCompleted)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, 2, *matches[0].HomeScore)

	mock.ExpectQuery("SELECT doc FROM matches").
		WithArgs("completed", 20).
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))
	recent, err := store.RecentResults(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	mock.ExpectQuery("SELECT doc FROM matches").
		WithArgs("K5", "").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow([]byte(`{broken`)))
	_, err = store.ListMatches(context.Background(), "K5", "")
	require.ErrorContains(t, err, "decode match")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWithDB(mock, "matches")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
