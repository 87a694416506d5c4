package session

import (
	"fmt"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

// Plan is the validated input of one session.
type Plan struct {
	Entities []crawler.EntityConfig
	Specs    []crawler.TaskSpec
	Warnings []string
}

// BuildPlan validates entities and expands them over windows, entity-major.
// An entity is one season, so it only gets the windows of its own year.
// Invalid or duplicate entities, and entities with no window in their season,
// become warnings; an unparseable window is an error because it would fail
// every entity the same way.
func BuildPlan(entities []crawler.EntityConfig, windows []string) (Plan, error) {
	type month struct {
		key         string
		year, month int
	}
	months := make([]month, 0, len(windows))
	seenWindow := make(map[string]struct{}, len(windows))
	for _, w := range windows {
		t, err := crawler.ParseWindowKey(w)
		if err != nil {
			return Plan{}, err
		}
		key := crawler.WindowKey(t.Year(), int(t.Month()))
		if _, dup := seenWindow[key]; dup {
			continue
		}
		seenWindow[key] = struct{}{}
		months = append(months, month{key: key, year: t.Year(), month: int(t.Month())})
	}

	var plan Plan
	seenEntity := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			plan.Warnings = append(plan.Warnings, err.Error())
			continue
		}
		if _, dup := seenEntity[e.ID]; dup {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("entity %q listed more than once; keeping the first", e.ID))
			continue
		}
		var inSeason []month
		for _, m := range months {
			if m.year == e.Year {
				inSeason = append(inSeason, m)
			}
		}
		if len(inSeason) == 0 {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("entity %q: season %d has no requested windows", e.ID, e.Year))
			continue
		}
		seenEntity[e.ID] = struct{}{}
		plan.Entities = append(plan.Entities, e)
		for _, m := range inSeason {
			plan.Specs = append(plan.Specs, crawler.TaskSpec{
				EntityID:    e.ID,
				EntityLabel: e.Label,
				WindowKey:   m.key,
				Params: crawler.RequestParams{
					Tag:       e.Tag,
					RegionTag: e.RegionTag,
					Year:      m.year,
					Month:     m.month,
				},
			})
		}
	}
	return plan, nil
}
