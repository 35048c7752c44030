package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grocerygenie/grocery_backend/config"
	"github.com/grocerygenie/grocery_backend/matcher"
	"github.com/grocerygenie/grocery_backend/models"
	"github.com/grocerygenie/grocery_backend/utils"
	"github.com/sirupsen/logrus"
)

// One-shot reconciliation runner, for cron jobs and manual operation.
// Exits 0 on a completed run (individual decision errors are reported in the
// stats, not the exit code) and 1 when the run itself could not execute.
func main() {
	lookbackHours := flag.Int("lookback-hours", 1, "How far back to scan purchase tables, in hours")
	threshold := flag.Float64("threshold", matcher.DefaultThreshold, "Minimum similarity ratio for a match (0..1]")
	dryRun := flag.Bool("dry-run", false, "Resolve and count decisions without writing to the database")
	verbose := flag.Bool("verbose", false, "Log at debug level")
	flag.Parse()

	logger := config.GetLogger()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if *lookbackHours <= 0 {
		fmt.Fprintln(os.Stderr, "lookback-hours must be positive")
		os.Exit(1)
	}
	if *threshold <= 0 || *threshold > 1 {
		fmt.Fprintln(os.Stderr, "threshold must be in (0, 1]")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Explicit DB connect (config no longer connects DB in init()).
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	orchestrator := matcher.NewOrchestrator(models.NewGroceryStore(db), logger)
	orchestrator.Threshold = *threshold
	orchestrator.DryRun = *dryRun

	stats, err := orchestrator.Run(ctx, time.Duration(*lookbackHours)*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation failed: %v\n", err)
		os.Exit(1)
	}

	out, err := utils.MarshalToJSON(stats)
	utils.ErrorPanic(err)
	fmt.Println(out)
}
