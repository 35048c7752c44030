package matcher

// DefaultThreshold is the minimum similarity for a purchase to count as
// fulfilling a list entry. Callers may override it per run.
const DefaultThreshold = 0.8

// Resolve decides, for each recent purchase, which unchecked list entry (if
// any) it fulfilled. It is a pure function: no I/O, one decision per purchase,
// in input order.
//
// Candidates are the unchecked entries across every store's list. The winner
// is the highest-scoring candidate at or above the threshold; on a tie the
// first-encountered candidate wins, so with entries enumerated by store then
// ascending id the tie-break is deterministic. A best score below the
// threshold is not surfaced: the decision carries ActionNone, a nil entry and
// score 0.
//
// A winner on the purchase's own store yields ActionMarkChecked; a winner on
// any other store's list yields ActionRemoveFromLists (the shopper bought the
// item elsewhere, so the stale wants get purged).
func Resolve(purchases []PurchaseRecord, entries []ListEntry, threshold float64) []MatchDecision {
	decisions := make([]MatchDecision, 0, len(purchases))

	for _, p := range purchases {
		var best *ListEntry
		bestScore := 0.0

		for i := range entries {
			e := &entries[i]
			if e.IsChecked {
				// Already fulfilled; never a candidate again.
				continue
			}
			score := Similarity(p.ItemName, e.ItemName)
			if score >= threshold && score > bestScore {
				bestScore = score
				best = e
			}
		}

		d := MatchDecision{Purchase: p, Action: ActionNone}
		if best != nil {
			entry := *best
			d.Entry = &entry
			d.Score = bestScore
			if best.Store == p.Store {
				d.Action = ActionMarkChecked
			} else {
				d.Action = ActionRemoveFromLists
			}
		}
		decisions = append(decisions, d)
	}
	return decisions
}
