package crawler

import (
	"fmt"
	"strings"
	"time"
)

const windowLayout = "2006-01"

// ParseWindowKey parses a year-month window key such as "2025-03".
func ParseWindowKey(key string) (time.Time, error) {
	t, err := time.Parse(windowLayout, strings.TrimSpace(key))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse window %q: %w", key, err)
	}
	return t, nil
}

// WindowKey formats year and month as a window key.
func WindowKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// MonthRange returns every window from..to inclusive.
func MonthRange(from, to string) ([]string, error) {
	start, err := ParseWindowKey(from)
	if err != nil {
		return nil, err
	}
	end, err := ParseWindowKey(to)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("window range %s..%s is reversed", from, to)
	}
	var out []string
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 1, 0) {
		out = append(out, cur.Format(windowLayout))
	}
	return out, nil
}

// CompareWindowKeys orders window keys chronologically. Keys that do not parse
// sort after parseable ones and fall back to lexical order.
func CompareWindowKeys(a, b string) int {
	ta, errA := ParseWindowKey(a)
	tb, errB := ParseWindowKey(b)
	switch {
	case errA == nil && errB == nil:
		return ta.Compare(tb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
