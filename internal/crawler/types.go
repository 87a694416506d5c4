// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// EntityConfig describes one league/competition to crawl for a given season.
type EntityConfig struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Tag       string `json:"tag"`
	RegionTag string `json:"region_tag"`
	Year      int    `json:"year"`
}

// Validate reports why the config cannot produce tasks, or nil when it can.
func (c EntityConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(c.Label) == "" {
		missing = append(missing, "label")
	}
	if c.Year <= 0 {
		missing = append(missing, "year")
	}
	if len(missing) > 0 {
		return fmt.Errorf("entity %q missing %s", c.ID, strings.Join(missing, ", "))
	}
	return nil
}

// RequestParams carries the remote query knobs for one task.
type RequestParams struct {
	Tag       string `json:"tag"`
	RegionTag string `json:"region_tag"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
}

// TaskSpec is an immutable (entity, window) unit of work.
type TaskSpec struct {
	EntityID    string        `json:"entity_id"`
	EntityLabel string        `json:"entity_label"`
	WindowKey   string        `json:"window_key"`
	Params      RequestParams `json:"params"`
}

// Key uniquely identifies the task inside one session.
func (s TaskSpec) Key() string {
	return s.EntityID + "|" + s.WindowKey
}

// TaskStatus is the terminal state of one task.
type TaskStatus string

// Task status values.
const (
	TaskSuccess TaskStatus = "success"
	TaskFailure TaskStatus = "failure"
)

// TaskOutcome is produced exactly once per TaskSpec.
type TaskOutcome struct {
	Spec     TaskSpec
	Status   TaskStatus
	Records  []NormalizedRecord
	Err      error
	Attempts int
	Duration time.Duration
}

// Succeeded reports whether the outcome carries usable records.
func (o TaskOutcome) Succeeded() bool {
	return o.Status == TaskSuccess
}

// RecordStatus classifies a match as played or pending.
type RecordStatus string

// Record status values.
const (
	RecordScheduled RecordStatus = "scheduled"
	RecordCompleted RecordStatus = "completed"
)

// NormalizedRecord is a single match with a deterministic id.
type NormalizedRecord struct {
	ID          string       `json:"id"`
	EntityID    string       `json:"entity_id"`
	EntityLabel string       `json:"entity_label"`
	WindowKey   string       `json:"window_key"`
	Sequence    int          `json:"sequence"`
	Status      RecordStatus `json:"status"`
	Date        string       `json:"date,omitempty"`
	Time        string       `json:"time,omitempty"`
	Round       string       `json:"round,omitempty"`
	HomeTeam    string       `json:"home_team"`
	AwayTeam    string       `json:"away_team"`
	HomeScore   *int         `json:"home_score,omitempty"`
	AwayScore   *int         `json:"away_score,omitempty"`
	Venue       string       `json:"venue,omitempty"`
}

// RecordID synthesizes the stable id used as the upsert key downstream.
func RecordID(entityID, windowKey string, sequence int) string {
	return fmt.Sprintf("%s-%s-%d", entityID, windowKey, sequence)
}

// EntityReport aggregates every window attempted for one entity.
type EntityReport struct {
	EntityID         string             `json:"entity_id"`
	EntityLabel      string             `json:"entity_label"`
	Records          []NormalizedRecord `json:"records"`
	Completed        int                `json:"completed"`
	Scheduled        int                `json:"scheduled"`
	WindowsAttempted int                `json:"total_windows_attempted"`
	WindowsFailed    int                `json:"total_windows_failed"`
	FailedWindows    []string           `json:"failed_windows,omitempty"`
}

// Clone returns a deep copy suitable for handing to another owner.
func (r EntityReport) Clone() EntityReport {
	cp := r
	cp.Records = make([]NormalizedRecord, len(r.Records))
	for i, rec := range r.Records {
		cp.Records[i] = rec.clone()
	}
	if r.FailedWindows != nil {
		cp.FailedWindows = append([]string(nil), r.FailedWindows...)
	}
	return cp
}

func (r NormalizedRecord) clone() NormalizedRecord {
	cp := r
	if r.HomeScore != nil {
		v := *r.HomeScore
		cp.HomeScore = &v
	}
	if r.AwayScore != nil {
		v := *r.AwayScore
		cp.AwayScore = &v
	}
	return cp
}

// CrawlRequest asks the coordinator to run one session.
type CrawlRequest struct {
	ID          string         `json:"id"`
	Entities    []EntityConfig `json:"entities"`
	Windows     []string       `json:"windows"`
	Concurrency int            `json:"concurrency"`
	Submitted   time.Time      `json:"submitted_at"`
}

// RemoteRequest is the in-page round trip issued through an execution context.
type RemoteRequest struct {
	URL     string
	Method  string
	Body    string
	Headers http.Header
}

// RemoteResponse is the raw result of a RemoteRequest.
type RemoteResponse struct {
	StatusCode int
	Body       []byte
}
