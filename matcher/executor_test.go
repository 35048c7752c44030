package matcher

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// NOTE: These tests are intentionally DB-free. The fake below behaves like the
// real tables: MarkEntryChecked flips exactly one unchecked row, the purge
// deletes by bidirectional substring match across every list, and inventory
// is append-only. Full MySQL integration tests belong in an environment that
// can run the database.

type fakeStorage struct {
	purchases []PurchaseRecord
	entries   []ListEntry
	inventory []InventoryEntry

	ensureErr    error
	purchasesErr error
	entriesErr   error
	markErrFor   map[int]error
	inventoryErr error

	markCalls   int
	deleteCalls int

	gotCtx context.Context
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{markErrFor: map[int]error{}}
}

func (f *fakeStorage) EnsureTables(ctx context.Context) error { return f.ensureErr }

func (f *fakeStorage) RecentPurchases(ctx context.Context, since time.Time) ([]PurchaseRecord, error) {
	f.gotCtx = ctx
	return f.purchases, f.purchasesErr
}

func (f *fakeStorage) AllListEntries(ctx context.Context) ([]ListEntry, error) {
	if f.entriesErr != nil {
		return nil, f.entriesErr
	}
	out := make([]ListEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeStorage) MarkEntryChecked(ctx context.Context, table string, id int) (bool, error) {
	f.markCalls++
	if err := f.markErrFor[id]; err != nil {
		return false, err
	}
	for i := range f.entries {
		e := &f.entries[i]
		if e.SourceTable == table && e.ID == id && !e.IsChecked {
			e.IsChecked = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStorage) DeleteMatchingEntries(ctx context.Context, itemName string) (int64, error) {
	f.deleteCalls++
	name := strings.ToLower(strings.TrimSpace(itemName))
	var kept []ListEntry
	var removed int64
	for _, e := range f.entries {
		entryName := strings.ToLower(e.ItemName)
		if strings.Contains(entryName, name) || strings.Contains(name, entryName) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return removed, nil
}

func (f *fakeStorage) AddInventory(ctx context.Context, entry InventoryEntry) error {
	if f.inventoryErr != nil {
		return f.inventoryErr
	}
	f.inventory = append(f.inventory, entry)
	return nil
}

func (f *fakeStorage) Transact(ctx context.Context, fn func(Mutator) error) error {
	return fn(f)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fulfilDecision(p PurchaseRecord, e ListEntry) MatchDecision {
	return MatchDecision{Purchase: p, Entry: &e, Score: 1.0, Action: ActionMarkChecked}
}

func TestExecutorFulfilMarksEntryAndAddsInventory(t *testing.T) {
	store := newFakeStorage()
	store.entries = []ListEntry{entry(1, "milk", StoreCostco)}

	p := purchase("milk", StoreCostco)
	stats := NewExecutor(store, testLogger()).Execute(context.Background(), []MatchDecision{
		fulfilDecision(p, store.entries[0]),
	})

	if stats.MarkedChecked != 1 || stats.InventoryAdded != 1 || stats.Errors != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !store.entries[0].IsChecked {
		t.Fatal("entry was not checked")
	}
	if store.deleteCalls != 0 {
		t.Fatal("a same-store fulfil must never purge")
	}
	if len(store.inventory) != 1 || store.inventory[0].ItemName != "milk" {
		t.Fatalf("unexpected inventory: %+v", store.inventory)
	}
}

func TestExecutorPurgeRemovesAcrossListsAndAddsInventory(t *testing.T) {
	store := newFakeStorage()
	store.entries = []ListEntry{
		entry(1, "bananas", StoreWalmart),
		entry(2, "organic bananas", StoreCvs),
		entry(3, "milk", StoreCostco),
	}

	p := purchase("bananas", StoreCostco)
	winner := store.entries[0]
	stats := NewExecutor(store, testLogger()).Execute(context.Background(), []MatchDecision{
		{Purchase: p, Entry: &winner, Score: 1.0, Action: ActionRemoveFromLists},
	})

	if stats.RemovedFromLists != 1 || stats.InventoryAdded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	// Both banana entries go, across stores; milk stays.
	if len(store.entries) != 1 || store.entries[0].ItemName != "milk" {
		t.Fatalf("unexpected surviving entries: %+v", store.entries)
	}
	if len(store.inventory) != 1 {
		t.Fatalf("expected 1 inventory row, got %d", len(store.inventory))
	}
}

func TestExecutorNoActionTouchesNothing(t *testing.T) {
	store := newFakeStorage()
	stats := NewExecutor(store, testLogger()).Execute(context.Background(), []MatchDecision{
		{Purchase: purchase("charcoal", StoreCostco), Action: ActionNone},
	})

	if stats.NoAction != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if store.markCalls != 0 || store.deleteCalls != 0 || len(store.inventory) != 0 {
		t.Fatal("no_action must not touch storage")
	}
}

func TestExecutorErrorIsolation(t *testing.T) {
	store := newFakeStorage()
	store.entries = []ListEntry{
		entry(1, "milk", StoreCostco),
		entry(2, "eggs", StoreCostco),
	}
	store.markErrFor[1] = errors.New("deadlock")

	decisions := []MatchDecision{
		fulfilDecision(purchase("milk", StoreCostco), store.entries[0]),
		fulfilDecision(purchase("eggs", StoreCostco), store.entries[1]),
	}
	stats := NewExecutor(store, testLogger()).Execute(context.Background(), decisions)

	if stats.Errors != 1 || stats.MarkedChecked != 1 {
		t.Fatalf("expected the failure isolated to one decision, got %+v", stats)
	}
	if len(store.inventory) != 1 || store.inventory[0].ItemName != "eggs" {
		t.Fatalf("unexpected inventory after failure: %+v", store.inventory)
	}
}

func TestExecutorInventoryFailureCountsAsError(t *testing.T) {
	store := newFakeStorage()
	store.entries = []ListEntry{entry(1, "milk", StoreCostco)}
	store.inventoryErr = errors.New("table full")

	stats := NewExecutor(store, testLogger()).Execute(context.Background(), []MatchDecision{
		fulfilDecision(purchase("milk", StoreCostco), store.entries[0]),
	})

	if stats.Errors != 1 || stats.MarkedChecked != 0 || stats.InventoryAdded != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestExecutorAlreadyCheckedRowIsBenign(t *testing.T) {
	store := newFakeStorage()
	store.entries = []ListEntry{checkedEntry(1, "milk", StoreCostco)}

	stats := NewExecutor(store, testLogger()).Execute(context.Background(), []MatchDecision{
		fulfilDecision(purchase("milk", StoreCostco), store.entries[0]),
	})

	// The row was checked out from under us; not an error, and the purchase
	// still lands in inventory.
	if stats.Errors != 0 || stats.MarkedChecked != 1 || stats.InventoryAdded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(store.inventory) != 1 {
		t.Fatalf("expected inventory row, got %d", len(store.inventory))
	}
}

func TestExecutorInventoryIsAppendOnly(t *testing.T) {
	store := newFakeStorage()
	store.entries = []ListEntry{
		entry(1, "milk", StoreCostco),
		entry(2, "milk", StoreCostco),
	}

	decisions := []MatchDecision{
		fulfilDecision(purchase("milk", StoreCostco), store.entries[0]),
		fulfilDecision(purchase("milk", StoreCostco), store.entries[1]),
	}
	stats := NewExecutor(store, testLogger()).Execute(context.Background(), decisions)

	// Buying the same item twice is two inventory rows, never a merge.
	if stats.InventoryAdded != 2 || len(store.inventory) != 2 {
		t.Fatalf("expected 2 inventory rows, got stats %+v inventory %d", stats, len(store.inventory))
	}
}

func TestExecutorDryRunCountsWithoutWriting(t *testing.T) {
	store := newFakeStorage()
	store.entries = []ListEntry{entry(1, "milk", StoreCostco)}

	executor := NewExecutor(store, testLogger())
	executor.DryRun = true
	stats := executor.Execute(context.Background(), []MatchDecision{
		fulfilDecision(purchase("milk", StoreCostco), store.entries[0]),
		{Purchase: purchase("charcoal", StoreCostco), Action: ActionNone},
	})

	if stats.MarkedChecked != 1 || stats.InventoryAdded != 1 || stats.NoAction != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if store.markCalls != 0 || len(store.inventory) != 0 {
		t.Fatal("dry run must not write")
	}
	if store.entries[0].IsChecked {
		t.Fatal("dry run must not flip entries")
	}
}

func TestExecutorStopsBetweenDecisionsOnCancel(t *testing.T) {
	store := newFakeStorage()
	store.entries = []ListEntry{entry(1, "milk", StoreCostco)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := NewExecutor(store, testLogger()).Execute(ctx, []MatchDecision{
		fulfilDecision(purchase("milk", StoreCostco), store.entries[0]),
	})

	if stats.MarkedChecked != 0 || store.markCalls != 0 {
		t.Fatalf("cancelled run must not apply decisions, got %+v", stats)
	}
}
