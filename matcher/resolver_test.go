package matcher

import (
	"testing"
	"time"
)

func purchase(name string, store Store) PurchaseRecord {
	return PurchaseRecord{
		ItemName:    name,
		Store:       store,
		PurchasedAt: time.Now(),
		Quantity:    1,
		SourceTable: string(store) + "_purchases",
	}
}

func entry(id int, name string, store Store) ListEntry {
	return ListEntry{
		ID:          id,
		ItemName:    name,
		Store:       store,
		SourceTable: string(store) + "_list",
	}
}

func checkedEntry(id int, name string, store Store) ListEntry {
	e := entry(id, name, store)
	e.IsChecked = true
	return e
}

func TestResolveSameStoreExactMatch(t *testing.T) {
	decisions := Resolve(
		[]PurchaseRecord{purchase("Milk", StoreCostco)},
		[]ListEntry{entry(1, "milk", StoreCostco)},
		DefaultThreshold,
	)

	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.Action != ActionMarkChecked {
		t.Fatalf("expected mark_checked, got %s", d.Action)
	}
	if d.Entry == nil || d.Entry.ID != 1 {
		t.Fatalf("expected winning entry id 1, got %+v", d.Entry)
	}
	if d.Score != 1.0 {
		t.Fatalf("expected score 1.0, got %v", d.Score)
	}
}

func TestResolveCrossStoreMatch(t *testing.T) {
	decisions := Resolve(
		[]PurchaseRecord{purchase("bananas", StoreCostco)},
		[]ListEntry{entry(7, "bananas", StoreWalmart)},
		DefaultThreshold,
	)

	d := decisions[0]
	if d.Action != ActionRemoveFromLists {
		t.Fatalf("expected remove_from_other_lists, got %s", d.Action)
	}
	if d.Entry == nil || d.Entry.Store != StoreWalmart {
		t.Fatalf("expected walmart entry to win, got %+v", d.Entry)
	}
}

func TestResolveOtherStorePurchaseAlwaysPurges(t *testing.T) {
	// There is no list for "other" purchases, so a match is never same-store.
	decisions := Resolve(
		[]PurchaseRecord{purchase("bananas", StoreOther)},
		[]ListEntry{entry(3, "bananas", StoreCostco)},
		DefaultThreshold,
	)
	if decisions[0].Action != ActionRemoveFromLists {
		t.Fatalf("expected remove_from_other_lists, got %s", decisions[0].Action)
	}
}

func TestResolveBelowThresholdIsNoAction(t *testing.T) {
	decisions := Resolve(
		[]PurchaseRecord{purchase("charcoal", StoreCostco)},
		[]ListEntry{entry(1, "milk", StoreCostco)},
		DefaultThreshold,
	)

	d := decisions[0]
	if d.Action != ActionNone {
		t.Fatalf("expected no_action, got %s", d.Action)
	}
	if d.Entry != nil {
		t.Fatalf("expected nil entry, got %+v", d.Entry)
	}
	if d.Score != 0 {
		t.Fatalf("sub-threshold score must not be surfaced, got %v", d.Score)
	}
}

func TestResolveBestScoreWins(t *testing.T) {
	decisions := Resolve(
		[]PurchaseRecord{purchase("organic milk", StoreCostco)},
		[]ListEntry{
			entry(1, "milk", StoreCostco),
			entry(2, "organic milk", StoreCostco),
		},
		0.4,
	)

	d := decisions[0]
	if d.Entry == nil || d.Entry.ID != 2 {
		t.Fatalf("expected exact-name entry 2 to win, got %+v", d.Entry)
	}
	if d.Score != 1.0 {
		t.Fatalf("expected score 1.0, got %v", d.Score)
	}
}

func TestResolveTieKeepsFirstEncountered(t *testing.T) {
	decisions := Resolve(
		[]PurchaseRecord{purchase("milk", StoreCostco)},
		[]ListEntry{
			entry(5, "milk", StoreWalmart),
			entry(2, "milk", StoreCostco),
		},
		DefaultThreshold,
	)

	d := decisions[0]
	if d.Entry == nil || d.Entry.ID != 5 {
		t.Fatalf("expected first-encountered entry 5 to win the tie, got %+v", d.Entry)
	}
	if d.Action != ActionRemoveFromLists {
		t.Fatalf("expected remove_from_other_lists for the walmart winner, got %s", d.Action)
	}
}

func TestResolveCheckedEntriesAreNeverCandidates(t *testing.T) {
	decisions := Resolve(
		[]PurchaseRecord{purchase("milk", StoreCostco)},
		[]ListEntry{checkedEntry(1, "milk", StoreCostco)},
		DefaultThreshold,
	)

	if decisions[0].Action != ActionNone {
		t.Fatalf("checked entry must not match, got %s", decisions[0].Action)
	}
}

func TestResolveCheckedEntryDoesNotShadowUnchecked(t *testing.T) {
	decisions := Resolve(
		[]PurchaseRecord{purchase("milk", StoreCostco)},
		[]ListEntry{
			checkedEntry(1, "milk", StoreCostco),
			entry(2, "milk", StoreCostco),
		},
		DefaultThreshold,
	)

	d := decisions[0]
	if d.Entry == nil || d.Entry.ID != 2 {
		t.Fatalf("expected unchecked entry 2 to win, got %+v", d.Entry)
	}
}

func TestResolveThresholdIsConfigurable(t *testing.T) {
	purchases := []PurchaseRecord{purchase("abcd", StoreCostco)}
	entries := []ListEntry{entry(1, "bcde", StoreCostco)} // ratio 0.75

	strict := Resolve(purchases, entries, DefaultThreshold)
	if strict[0].Action != ActionNone {
		t.Fatalf("0.75 must not pass the 0.8 threshold, got %s", strict[0].Action)
	}

	loose := Resolve(purchases, entries, 0.7)
	if loose[0].Action != ActionMarkChecked {
		t.Fatalf("0.75 should pass a 0.7 threshold, got %s", loose[0].Action)
	}
}

func TestResolveOneDecisionPerPurchase(t *testing.T) {
	purchases := []PurchaseRecord{
		purchase("milk", StoreCostco),
		purchase("charcoal", StoreCostco),
		purchase("bananas", StoreWalmart),
	}
	entries := []ListEntry{
		entry(1, "milk", StoreCostco),
		entry(2, "bananas", StoreCostco),
	}

	decisions := Resolve(purchases, entries, DefaultThreshold)
	if len(decisions) != len(purchases) {
		t.Fatalf("expected %d decisions, got %d", len(purchases), len(decisions))
	}
	if decisions[0].Action != ActionMarkChecked {
		t.Fatalf("decision 0: expected mark_checked, got %s", decisions[0].Action)
	}
	if decisions[1].Action != ActionNone {
		t.Fatalf("decision 1: expected no_action, got %s", decisions[1].Action)
	}
	if decisions[2].Action != ActionRemoveFromLists {
		t.Fatalf("decision 2: expected remove_from_other_lists, got %s", decisions[2].Action)
	}
}

func TestResolveEmptyInputs(t *testing.T) {
	if got := Resolve(nil, []ListEntry{entry(1, "milk", StoreCostco)}, DefaultThreshold); len(got) != 0 {
		t.Fatalf("expected no decisions without purchases, got %d", len(got))
	}
	decisions := Resolve([]PurchaseRecord{purchase("milk", StoreCostco)}, nil, DefaultThreshold)
	if len(decisions) != 1 || decisions[0].Action != ActionNone {
		t.Fatalf("expected a single no_action decision, got %+v", decisions)
	}
}

func TestResolveWinningEntryIsACopy(t *testing.T) {
	entries := []ListEntry{entry(1, "milk", StoreCostco)}
	decisions := Resolve([]PurchaseRecord{purchase("milk", StoreCostco)}, entries, DefaultThreshold)

	entries[0].ItemName = "mutated"
	if decisions[0].Entry.ItemName != "milk" {
		t.Fatalf("decision must hold a copy of the entry, got %q", decisions[0].Entry.ItemName)
	}
}
