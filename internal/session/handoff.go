package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/aggregate"
	"github.com/JakeFAU/matchday-crawler/internal/cache"
	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

// CompletedEvent is the Publish event name for a delivered session.
const CompletedEvent = "crawl.completed"

// Artifact describes one uploaded per-league record array.
type Artifact struct {
	EntityID string `json:"entity_id"`
	URI      string `json:"uri"`
	Digest   string `json:"digest"`
	Records  int    `json:"records"`
}

// Notice is the payload published after a session is persisted.
type Notice struct {
	SessionID uuid.UUID        `json:"session_id"`
	RequestID string           `json:"request_id,omitempty"`
	Finished  time.Time        `json:"finished_at"`
	Totals    aggregate.Totals `json:"totals"`
	Artifacts []Artifact       `json:"artifacts,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
}

// Delivery reports what the hand-off managed to do. Problems after the store
// write are collected in Errors rather than failing the hand-off.
type Delivery struct {
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	MessageID   string     `json:"message_id,omitempty"`
	Invalidated int        `json:"invalidated"`
	Errors      []string   `json:"errors,omitempty"`
}

// Handoff passes finished reports to the persistence collaborators. Only
// Store and Hasher are required.
type Handoff struct {
	Store     crawler.ReportStore
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Cache     crawler.Cache
	Hasher    crawler.Hasher
	Prefix    string
	Logger    *zap.Logger
}

// Deliver upserts reports, writes artifacts, publishes a notice and clears
// cached reads, in that order.
func (h *Handoff) Deliver(ctx context.Context, requestID string, res Result) (Delivery, error) {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if h.Store == nil || h.Hasher == nil {
		return Delivery{}, errors.New("hand-off requires a report store and a hasher")
	}
	var d Delivery
	if err := h.Store.UpsertReports(ctx, res.Reports); err != nil {
		return d, fmt.Errorf("persist reports: %w", err)
	}

	if h.Blobs != nil {
		for _, r := range res.Reports {
			art, err := h.writeArtifact(ctx, res, r)
			if err != nil {
				logger.Warn("artifact upload failed", zap.String("league", r.EntityID), zap.Error(err))
				d.Errors = append(d.Errors, err.Error())
				continue
			}
			d.Artifacts = append(d.Artifacts, art)
		}
	}

	if h.Publisher != nil {
		notice := Notice{
			SessionID: res.SessionID,
			RequestID: requestID,
			Finished:  res.Finished,
			Totals:    res.Totals,
			Artifacts: d.Artifacts,
			Warnings:  res.Warnings,
		}
		id, err := h.Publisher.Publish(ctx, CompletedEvent, notice)
		if err != nil {
			logger.Warn("publish notice failed", zap.Error(err))
			d.Errors = append(d.Errors, fmt.Sprintf("publish notice: %v", err))
		}
		d.MessageID = id
	}

	if h.Cache != nil {
		for _, pattern := range cache.ReadPatterns() {
			n, err := h.Cache.Invalidate(ctx, pattern)
			if err != nil {
				logger.Warn("cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
				d.Errors = append(d.Errors, fmt.Sprintf("invalidate %s: %v", pattern, err))
				continue
			}
			d.Invalidated += n
		}
	}
	return d, nil
}

func (h *Handoff) writeArtifact(ctx context.Context, res Result, r crawler.EntityReport) (Artifact, error) {
	records := r.Records
	if records == nil {
		records = []crawler.NormalizedRecord{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return Artifact{}, fmt.Errorf("marshal %s artifact: %w", r.EntityID, err)
	}
	digest, err := h.Hasher.Hash(body)
	if err != nil {
		return Artifact{}, fmt.Errorf("hash %s artifact: %w", r.EntityID, err)
	}
	key := ArtifactPath(h.Prefix, res.Started, res.SessionID, r.EntityID)
	uri, err := h.Blobs.PutObject(ctx, key, "application/json", bytes.NewReader(body))
	if err != nil {
		return Artifact{}, fmt.Errorf("upload %s artifact: %w", r.EntityID, err)
	}
	return Artifact{EntityID: r.EntityID, URI: uri, Digest: digest, Records: len(records)}, nil
}

// ArtifactPath is prefix/YYYY/MM/DD/<session>/<entity>.json.
func ArtifactPath(prefix string, started time.Time, sessionID uuid.UUID, entityID string) string {
	return path.Join(prefix, started.UTC().Format("2006/01/02"), sessionID.String(), entityID+".json")
}
