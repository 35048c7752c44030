package matcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grocerygenie/grocery_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator runs one full reconciliation: ensure tables, fetch recent
// purchases and all list entries, resolve, execute, report.
type Orchestrator struct {
	Storage   Storage
	Logger    *logrus.Logger
	Threshold float64
	DryRun    bool
	// Tracer is optional; when set each run becomes one span.
	Tracer trace.Tracer
}

func NewOrchestrator(storage Storage, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		Storage:   storage,
		Logger:    logger,
		Threshold: DefaultThreshold,
	}
}

// Run executes one reconciliation over purchases newer than now-lookback.
//
// Fetch failures (storage unreachable while loading purchases or entries) are
// fatal: the error is returned and no stats are produced, so the caller can
// tell "could not run" apart from "ran and found nothing". Per-decision
// failures are isolated inside the executor and only surface in Stats.Errors.
// Empty inputs short-circuit with NoPurchases / NoListItems set.
func (o *Orchestrator) Run(ctx context.Context, lookback time.Duration) (Stats, error) {
	if o.Tracer != nil {
		var span trace.Span
		ctx, span = o.Tracer.Start(ctx, "matcher.run")
		defer span.End()
	}

	runID := uuid.NewString()
	// Every storage call and executor log line downstream carries the run id.
	ctx = utils.SetRunIdInContext(ctx, runID)
	log := o.Logger.WithFields(logrus.Fields{
		"module": "orchestrator",
		"run_id": runID,
	})

	log.WithFields(logrus.Fields{
		"lookback":  lookback.String(),
		"threshold": o.Threshold,
		"dry_run":   o.DryRun,
	}).Info("starting receipt matching run")

	if err := o.Storage.EnsureTables(ctx); err != nil {
		return Stats{}, fmt.Errorf("ensure tables: %w", err)
	}

	since := time.Now().Add(-lookback)
	purchases, err := o.Storage.RecentPurchases(ctx, since)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch recent purchases: %w", err)
	}
	if len(purchases) == 0 {
		log.Info("no recent purchases found, nothing to process")
		return Stats{NoPurchases: true}, nil
	}

	entries, err := o.Storage.AllListEntries(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch list entries: %w", err)
	}
	if len(entries) == 0 {
		log.Info("no list items found, nothing to match against")
		return Stats{Purchases: len(purchases), NoListItems: true}, nil
	}

	threshold := o.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	decisions := Resolve(purchases, entries, threshold)

	executor := &Executor{Store: o.Storage, Logger: o.Logger, DryRun: o.DryRun}
	stats := executor.Execute(ctx, decisions)
	stats.Purchases = len(purchases)
	stats.ListEntries = len(entries)

	log.WithFields(logrus.Fields{
		"purchases":          stats.Purchases,
		"list_entries":       stats.ListEntries,
		"marked_checked":     stats.MarkedChecked,
		"removed_from_lists": stats.RemovedFromLists,
		"inventory_added":    stats.InventoryAdded,
		"no_action":          stats.NoAction,
		"errors":             stats.Errors,
	}).Info("receipt matching run complete")

	return stats, nil
}
