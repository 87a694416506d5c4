package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/cache"
	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

const (
	defaultNewsfeedLimit = 20
	maxNewsfeedLimit     = 200
	readTimeout          = 3 * time.Second
)

type leagueDTO struct {
	EntityID         string   `json:"entity_id"`
	EntityLabel      string   `json:"entity_label"`
	Completed        int      `json:"completed"`
	Scheduled        int      `json:"scheduled"`
	WindowsAttempted int      `json:"total_windows_attempted"`
	WindowsFailed    int      `json:"total_windows_failed"`
	FailedWindows    []string `json:"failed_windows,omitempty"`
}

// listLeagues handles GET /v1/leagues and returns {"leagues": [...]}.
func (s *Server) listLeagues(w http.ResponseWriter, r *http.Request) {
	s.serveCached(w, r, cache.LeaguesKey(), func(ctx context.Context) (any, error) {
		reports, err := s.store.ListReports(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"leagues": toLeagueDTOs(reports)}, nil
	})
}

// listMatches handles GET /v1/leagues/{league_id}/matches?status=. An empty
// status returns both played and pending matches.
func (s *Server) listMatches(w http.ResponseWriter, r *http.Request) {
	leagueID := strings.TrimSpace(chi.URLParam(r, "league_id"))
	if leagueID == "" {
		writeError(w, http.StatusBadRequest, "league_id is required")
		return
	}
	status, err := parseRecordStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serveCached(w, r, cache.MatchesKey(leagueID, status), func(ctx context.Context) (any, error) {
		matches, err := s.store.ListMatches(ctx, leagueID, status)
		if err != nil {
			return nil, err
		}
		return map[string]any{"league_id": leagueID, "matches": matches}, nil
	})
}

// newsfeed handles GET /v1/newsfeed?limit= with the most recent results.
func (s *Server) newsfeed(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultNewsfeedLimit, maxNewsfeedLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serveCached(w, r, cache.NewsfeedKey(limit), func(ctx context.Context) (any, error) {
		results, err := s.store.RecentResults(ctx, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": results}, nil
	})
}

// serveCached answers from the cache when possible and fills it on a miss.
// Cache failures degrade to a store read.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, key string, load func(context.Context) (any, error)) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "report store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	if s.cache != nil {
		body, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		case ok:
			writeRaw(w, "hit", body)
			return
		}
	}

	payload, err := load(ctx)
	if err != nil {
		s.logger.Error("dashboard read failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load data")
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode response failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, body, s.cacheTTL); err != nil {
			s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	writeRaw(w, "miss", body)
}

func writeRaw(w http.ResponseWriter, cacheState string, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", cacheState)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(body, '\n')); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}

func parseRecordStatus(input string) (crawler.RecordStatus, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "all":
		return "", nil
	case "completed", "results":
		return crawler.RecordCompleted, nil
	case "scheduled", "fixtures":
		return crawler.RecordScheduled, nil
	default:
		return "", errors.New("invalid status")
	}
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

func toLeagueDTOs(in []crawler.EntityReport) []leagueDTO {
	out := make([]leagueDTO, 0, len(in))
	for _, r := range in {
		out = append(out, leagueDTO{
			EntityID:         r.EntityID,
			EntityLabel:      r.EntityLabel,
			Completed:        r.Completed,
			Scheduled:        r.Scheduled,
			WindowsAttempted: r.WindowsAttempted,
			WindowsFailed:    r.WindowsFailed,
			FailedWindows:    r.FailedWindows,
		})
	}
	return out
}
