// Package matchhistory contains the core domain model for fetching, merging
// and caching a player's ranked match history: the per-match record, the job
// state machine, the fan-in aggregation state, and the error taxonomy shared
// by the queue pipeline and the workflow orchestrator.
package matchhistory

import "sort"

// MatchRecord is one fetched match outcome for a single player, keyed by the
// upstream match id and ordered by the match creation timestamp.
type MatchRecord struct {
	MatchID   string `json:"match_id"`
	Timestamp int64  `json:"timestamp"`
	Outcome   string `json:"outcome"`
	Champion  string `json:"champion"`
	Role      string `json:"role"`
}

// SortNewestFirst orders records descending by timestamp in place.
func SortNewestFirst(records []MatchRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})
}

// Merge combines freshly fetched records with previously cached ones, keeping
// exactly one record per match id. Fresh records win over cached duplicates.
// The result is ordered newest first.
func Merge(fresh, cached []MatchRecord) []MatchRecord {
	merged := make([]MatchRecord, 0, len(fresh)+len(cached))
	seen := make(map[string]struct{}, len(fresh)+len(cached))

	for _, r := range fresh {
		if _, dup := seen[r.MatchID]; dup {
			continue
		}
		seen[r.MatchID] = struct{}{}
		merged = append(merged, r)
	}
	for _, r := range cached {
		if _, dup := seen[r.MatchID]; dup {
			continue
		}
		seen[r.MatchID] = struct{}{}
		merged = append(merged, r)
	}

	SortNewestFirst(merged)
	return merged
}
