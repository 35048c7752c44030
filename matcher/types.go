package matcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Store identifies the retailer a purchase or list entry belongs to.
type Store string

const (
	StoreCostco  Store = "costco"
	StoreWalmart Store = "walmart"
	StoreCvs     Store = "cvs"
	StorePublix  Store = "publix"
	// StoreOther covers manually recorded purchases from retailers without
	// their own list table. A match from an "other" purchase is therefore
	// always a cross-store match.
	StoreOther Store = "other"
)

// PurchaseRecord is one normalized line item from a scraped receipt. Records
// are read fresh at the start of a run and never persisted themselves; only
// their effects (check flips, purge deletes, inventory rows) are.
type PurchaseRecord struct {
	ItemName    string
	Store       Store
	PurchasedAt time.Time
	Quantity    int
	Price       *decimal.Decimal
	SourceTable string
	RawPayload  json.RawMessage
}

// ListEntry is one row of a per-store shopping list. Entries are created by
// the user-facing surface; the engine only flips IsChecked or deletes rows.
type ListEntry struct {
	ID          int
	ItemName    string
	Store       Store
	IsChecked   bool
	SourceTable string
}

// Action is what the executor should do for a resolved purchase.
// The values mirror the stats they produce.
type Action string

const (
	// ActionMarkChecked marks the matched same-store list entry as purchased.
	ActionMarkChecked Action = "mark_checked"
	// ActionRemoveFromLists purges the item from every store's list; the
	// shopper bought it at a different retailer than it was listed under.
	ActionRemoveFromLists Action = "remove_from_other_lists"
	// ActionNone means no list entry scored at or above the threshold.
	ActionNone Action = "no_action"
)

// MatchDecision pairs a purchase with the best-scoring unchecked list entry,
// if any. Entry is nil exactly when Action is ActionNone, and Score is 0 in
// that case (a best score below the threshold is not surfaced).
type MatchDecision struct {
	Purchase PurchaseRecord
	Entry    *ListEntry
	Score    float64
	Action   Action
}

// InventoryEntry is one append-only ledger row derived from a matched
// purchase. The engine only ever inserts these.
type InventoryEntry struct {
	ItemName    string
	Store       Store
	Quantity    int
	PurchasedAt time.Time
	Price       *decimal.Decimal
	SourceTable string
	RawPayload  json.RawMessage
}

// Stats summarizes one reconciliation run.
type Stats struct {
	Purchases        int `json:"purchases"`
	ListEntries      int `json:"list_entries"`
	MarkedChecked    int `json:"marked_checked"`
	RemovedFromLists int `json:"removed_from_lists"`
	InventoryAdded   int `json:"inventory_added"`
	NoAction         int `json:"no_action"`
	Errors           int `json:"errors"`
	// NoPurchases / NoListItems distinguish "nothing to run" from "ran and
	// did nothing": when either is set the matcher never executed.
	NoPurchases bool `json:"no_purchases,omitempty"`
	NoListItems bool `json:"no_list_items,omitempty"`
}

// Mutator is the storage write surface the executor drives. Implementations
// must treat "row already checked" and "row already gone" as benign no-ops:
// MarkEntryChecked reports false without error when nothing was updated.
type Mutator interface {
	MarkEntryChecked(ctx context.Context, table string, id int) (bool, error)
	DeleteMatchingEntries(ctx context.Context, itemName string) (int64, error)
	AddInventory(ctx context.Context, entry InventoryEntry) error
}

// Storage is everything the orchestrator needs from the persistence layer.
// Transact runs fn with a Mutator scoped to one transaction; the executor
// applies each decision in its own transaction so a failed decision never
// rolls back unrelated ones.
type Storage interface {
	Mutator
	EnsureTables(ctx context.Context) error
	RecentPurchases(ctx context.Context, since time.Time) ([]PurchaseRecord, error)
	AllListEntries(ctx context.Context) ([]ListEntry, error)
	Transact(ctx context.Context, fn func(Mutator) error) error
}
