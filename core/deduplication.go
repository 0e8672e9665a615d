package core

import (
	"fmt"
	"sort"
)

// Deduplicator merges candidate alerts that describe the same condition.
// Alerts sharing (event_type, source_ip or "unknown", severity) form a group;
// each group is reduced to its most recent member, which absorbs the related
// events of the others.
type Deduplicator struct{}

// DedupResult summarizes one deduplication pass
type DedupResult struct {
	Alerts       []Alert
	Input        int
	MergedGroups int
}

// NewDeduplicator creates a deduplicator
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{}
}

// Deduplicate returns the reduced alert list. Groups appear in the order their
// first member appeared in alerts. The input slice and its alerts are not modified.
func (d *Deduplicator) Deduplicate(alerts []Alert) []Alert {
	return d.Process(alerts).Alerts
}

// Process is Deduplicate plus counters for metrics
func (d *Deduplicator) Process(alerts []Alert) DedupResult {
	result := DedupResult{Input: len(alerts), Alerts: make([]Alert, 0, len(alerts))}

	order := make([]string, 0, len(alerts))
	groups := make(map[string][]int, len(alerts))
	for i := range alerts {
		key := alerts[i].DedupKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	for _, key := range order {
		idx := groups[key]
		if len(idx) == 1 {
			result.Alerts = append(result.Alerts, alerts[idx[0]].Clone())
			continue
		}
		result.Alerts = append(result.Alerts, mergeGroup(alerts, idx))
		result.MergedGroups++
	}
	return result
}

// mergeGroup reduces a group deterministically: the latest created_at survives,
// ties keep the earliest input position.
func mergeGroup(alerts []Alert, idx []int) Alert {
	sorted := append([]int(nil), idx...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return alerts[sorted[i]].CreatedAt.After(alerts[sorted[j]].CreatedAt)
	})

	survivor := alerts[sorted[0]].Clone()

	seen := make(map[string]struct{})
	related := make([]string, 0, len(survivor.RelatedEvents))
	for _, i := range sorted {
		for _, id := range alerts[i].RelatedEvents {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			related = append(related, id)
		}
	}
	survivor.RelatedEvents = related
	survivor.Description = fmt.Sprintf("%s (%d similar alerts merged)", survivor.Description, len(idx))
	return survivor
}
