package matcher

import (
	"context"

	"github.com/grocerygenie/grocery_backend/utils"
	"github.com/sirupsen/logrus"
)

// Executor applies resolved decisions to storage. Each decision runs in its
// own transaction: a failure is counted under Errors and logged, and the
// remaining decisions are still processed. Between decisions the run context
// is checked, so an external cancel leaves already-applied decisions
// committed and simply stops early.
type Executor struct {
	Store  Storage
	Logger *logrus.Logger
	// DryRun resolves the counts without touching storage.
	DryRun bool
}

func NewExecutor(store Storage, logger *logrus.Logger) *Executor {
	return &Executor{Store: store, Logger: logger}
}

// Execute applies every decision and reports accurate counts. Both fulfill
// and purge append one inventory row; ActionNone touches nothing.
func (e *Executor) Execute(ctx context.Context, decisions []MatchDecision) Stats {
	var stats Stats
	log := e.log(ctx)

	for _, d := range decisions {
		if ctx.Err() != nil {
			log.WithFields(logrus.Fields{
				"module":   "executor",
				"funcName": "Execute",
				"applied":  stats.MarkedChecked + stats.RemovedFromLists,
				"pending":  len(decisions) - stats.MarkedChecked - stats.RemovedFromLists - stats.NoAction - stats.Errors,
			}).Warn("run cancelled; stopping between decisions")
			break
		}

		if d.Action == ActionNone {
			stats.NoAction++
			continue
		}

		if e.DryRun {
			e.countApplied(d, &stats)
			continue
		}

		err := e.Store.Transact(ctx, func(m Mutator) error {
			return e.apply(ctx, m, d)
		})
		if err != nil {
			stats.Errors++
			log.WithFields(logrus.Fields{
				"module":    "executor",
				"funcName":  "Execute",
				"item_name": d.Purchase.ItemName,
				"store":     d.Purchase.Store,
				"action":    d.Action,
			}).Error("failed to apply decision: " + err.Error())
			continue
		}
		e.countApplied(d, &stats)
	}
	return stats
}

// log returns an entry tagged with the reconciliation run id when the
// orchestrator put one in the context.
func (e *Executor) log(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(e.Logger)
	if runID, ok := utils.GetRunIdFromContext(ctx); ok {
		entry = entry.WithField("run_id", runID)
	}
	return entry
}

func (e *Executor) apply(ctx context.Context, m Mutator, d MatchDecision) error {
	switch d.Action {
	case ActionMarkChecked:
		updated, err := m.MarkEntryChecked(ctx, d.Entry.SourceTable, d.Entry.ID)
		if err != nil {
			return err
		}
		if !updated {
			// The user-facing surface checked or removed the row between
			// fetch and apply. Benign; the purchase still goes to inventory.
			e.log(ctx).WithFields(logrus.Fields{
				"module":    "executor",
				"funcName":  "apply",
				"item_name": d.Entry.ItemName,
				"table":     d.Entry.SourceTable,
				"id":        d.Entry.ID,
			}).Warn("list entry already checked or gone; skipping update")
		}
	case ActionRemoveFromLists:
		removed, err := m.DeleteMatchingEntries(ctx, d.Purchase.ItemName)
		if err != nil {
			return err
		}
		e.log(ctx).WithFields(logrus.Fields{
			"module":    "executor",
			"funcName":  "apply",
			"item_name": d.Purchase.ItemName,
			"removed":   removed,
		}).Info("purged cross-listed item from all store lists")
	}

	return m.AddInventory(ctx, inventoryFromPurchase(d.Purchase))
}

func (e *Executor) countApplied(d MatchDecision, stats *Stats) {
	switch d.Action {
	case ActionMarkChecked:
		stats.MarkedChecked++
	case ActionRemoveFromLists:
		stats.RemovedFromLists++
	}
	stats.InventoryAdded++
}

func inventoryFromPurchase(p PurchaseRecord) InventoryEntry {
	return InventoryEntry{
		ItemName:    p.ItemName,
		Store:       p.Store,
		Quantity:    p.Quantity,
		PurchasedAt: p.PurchasedAt,
		Price:       p.Price,
		SourceTable: p.SourceTable,
		RawPayload:  p.RawPayload,
	}
}
