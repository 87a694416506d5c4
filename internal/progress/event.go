package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

// Stage names a milestone in a crawl session.
type Stage string

// Session stages, in the order a healthy session emits them.
const (
	StageSessionStart Stage = "SESSION_START"
	StageEntityStart  Stage = "ENTITY_START"
	StageWindowDone   Stage = "WINDOW_DONE"
	StageEntityDone   Stage = "ENTITY_DONE"
	StageSessionDone  Stage = "SESSION_DONE"
	StageSessionError Stage = "SESSION_ERROR"
)

// Event is one progress milestone. Counters are absolute for the scope named
// by the stage, not deltas.
type Event struct {
	SessionID   uuid.UUID           `json:"session_id"`
	TS          time.Time           `json:"ts"`
	Stage       Stage               `json:"stage"`
	EntityID    string              `json:"entity_id,omitempty"`
	EntityLabel string              `json:"entity_label,omitempty"`
	WindowKey   string              `json:"window_key,omitempty"`
	Success     bool                `json:"success"`
	Kind        crawler.FailureKind `json:"kind,omitempty"`
	Records     int                 `json:"records"`
	Completed   int                 `json:"completed"`
	Scheduled   int                 `json:"scheduled"`
	Failed      int                 `json:"failed"`
	Dur         time.Duration       `json:"dur"`
	Note        string              `json:"note,omitempty"`
}

// Validate rejects events a sink could not attribute.
func (e Event) Validate() error {
	if e.SessionID == uuid.Nil {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionDone, StageSessionError:
	case StageEntityStart, StageEntityDone:
		if e.EntityID == "" {
			return fmt.Errorf("%s requires entity id", e.Stage)
		}
	case StageWindowDone:
		if e.EntityID == "" || e.WindowKey == "" {
			return errors.New("window done requires entity id and window key")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// WindowEvent describes a finished task.
func WindowEvent(sessionID uuid.UUID, out crawler.TaskOutcome) Event {
	evt := Event{
		SessionID:   sessionID,
		TS:          time.Now().UTC(),
		Stage:       StageWindowDone,
		EntityID:    out.Spec.EntityID,
		EntityLabel: out.Spec.EntityLabel,
		WindowKey:   out.Spec.WindowKey,
		Success:     out.Succeeded(),
		Kind:        crawler.Classify(out.Err),
		Records:     len(out.Records),
		Dur:         out.Duration,
	}
	for _, r := range out.Records {
		switch r.Status {
		case crawler.RecordCompleted:
			evt.Completed++
		case crawler.RecordScheduled:
			evt.Scheduled++
		}
	}
	if out.Err != nil {
		evt.Note = out.Err.Error()
	}
	return evt
}

// EntityDoneEvent summarizes a report.
func EntityDoneEvent(sessionID uuid.UUID, r crawler.EntityReport) Event {
	return Event{
		SessionID:   sessionID,
		TS:          time.Now().UTC(),
		Stage:       StageEntityDone,
		EntityID:    r.EntityID,
		EntityLabel: r.EntityLabel,
		Success:     r.WindowsFailed == 0,
		Records:     len(r.Records),
		Completed:   r.Completed,
		Scheduled:   r.Scheduled,
		Failed:      r.WindowsFailed,
	}
}
