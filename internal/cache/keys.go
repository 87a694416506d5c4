// Package cache names the dashboard read keys shared by the API, which fills
// them, and the session hand-off, which invalidates them.
package cache

import (
	"fmt"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

// LeaguesKey caches the league summary list.
func LeaguesKey() string { return "leagues" }

// MatchesKey caches one league's matches filtered by status.
func MatchesKey(entityID string, status crawler.RecordStatus) string {
	return fmt.Sprintf("matches:%s:%s", entityID, status)
}

// NewsfeedKey caches the most recent results for a page size.
func NewsfeedKey(limit int) string {
	return fmt.Sprintf("newsfeed:%d", limit)
}

// ReadPatterns match every key above. A finished session invalidates them.
func ReadPatterns() []string {
	return []string{"leagues", "matches:*", "newsfeed:*"}
}
