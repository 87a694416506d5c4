package cache

import (
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

func TestReadPatternsCoverKeys(t *testing.T) {
	t.Parallel()

	keys := []string{LeaguesKey(), MatchesKey("K5", crawler.RecordCompleted), MatchesKey("K5", ""), NewsfeedKey(20)}
	for _, k := range keys {
		matched := false
		for _, p := range ReadPatterns() {
			if ok, _ := path.Match(p, k); ok {
				matched = true
			}
		}
		require.True(t, matched, "key %q not covered", k)
	}
	require.Equal(t, "matches:K5:completed", MatchesKey("K5", crawler.RecordCompleted))
}
