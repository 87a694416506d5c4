package fetchtask

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

type payload struct {
	Data *[]rawEntry `json:"data"`
}

type rawEntry struct {
	Ordinal   flexInt `json:"ordinal"`
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	Round     string  `json:"round"`
	HomeTeam  string  `json:"home"`
	AwayTeam  string  `json:"away"`
	HomeScore flexInt `json:"home_score"`
	AwayScore flexInt `json:"away_score"`
	Venue     string  `json:"venue"`
}

// flexInt accepts numbers, numeric strings, empty strings and null. The
// remote source is not consistent about which one it sends.
type flexInt struct {
	value *int
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		f.value = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" || s == "-" {
			f.value = nil
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		f.value = &n
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	i, err := n.Int64()
	if err != nil {
		return fmt.Errorf("not an integer: %s", n)
	}
	v := int(i)
	f.value = &v
	return nil
}

// Normalize decodes a response body into records for spec. An explicit empty
// data array is a valid, empty result; a missing data field is not.
func Normalize(spec crawler.TaskSpec, body []byte) ([]crawler.NormalizedRecord, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", crawler.ErrTaskMalformed)
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", crawler.ErrTaskMalformed, err)
	}
	if p.Data == nil {
		return nil, fmt.Errorf("%w: missing data field", crawler.ErrTaskMalformed)
	}
	entries := *p.Data
	ordinals := useOrdinals(entries)
	records := make([]crawler.NormalizedRecord, 0, len(entries))
	for i, e := range entries {
		seq := i + 1
		if ordinals {
			seq = *e.Ordinal.value
		}
		status := crawler.RecordCompleted
		if e.HomeScore.value == nil && e.AwayScore.value == nil {
			status = crawler.RecordScheduled
		}
		records = append(records, crawler.NormalizedRecord{
			ID:          crawler.RecordID(spec.EntityID, spec.WindowKey, seq),
			EntityID:    spec.EntityID,
			EntityLabel: spec.EntityLabel,
			WindowKey:   spec.WindowKey,
			Sequence:    seq,
			Status:      status,
			Date:        strings.TrimSpace(e.Date),
			Time:        strings.TrimSpace(e.Time),
			Round:       strings.TrimSpace(e.Round),
			HomeTeam:    strings.TrimSpace(e.HomeTeam),
			AwayTeam:    strings.TrimSpace(e.AwayTeam),
			HomeScore:   e.HomeScore.value,
			AwayScore:   e.AwayScore.value,
			Venue:       strings.TrimSpace(e.Venue),
		})
	}
	return records, nil
}

// useOrdinals is true only when every entry has a distinct positive ordinal;
// otherwise ids could collide and positions are used instead.
func useOrdinals(entries []rawEntry) bool {
	if len(entries) == 0 {
		return false
	}
	seen := make(map[int]struct{}, len(entries))
	for _, e := range entries {
		if e.Ordinal.value == nil || *e.Ordinal.value <= 0 {
			return false
		}
		if _, dup := seen[*e.Ordinal.value]; dup {
			return false
		}
		seen[*e.Ordinal.value] = struct{}{}
	}
	return true
}
