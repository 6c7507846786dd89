// Command regroup-encounters rebuilds the stored encounters from the stored
// proximity events under a different gap threshold, without re-running the
// full analysis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/proximity.report/internal/db"
	"github.com/banshee-data/proximity.report/internal/proximity"
)

func main() {
	var dbPath string
	var modelVer string
	var gapMinutes float64
	var dryRun bool

	flag.StringVar(&dbPath, "db", "proximity.db", "path to sqlite db")
	flag.StringVar(&modelVer, "model", "v1", "model version to regroup")
	flag.Float64Var(&gapMinutes, "gap", 60, "encounter gap threshold in minutes")
	flag.BoolVar(&dryRun, "dry-run", false, "only report the regrouping, don't store it")
	flag.Parse()

	if gapMinutes <= 0 {
		log.Fatal("-gap must be positive")
	}

	dbConn, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	ctx := context.Background()

	runs, err := dbConn.ListAnalysisRuns(ctx, 1)
	if err != nil {
		log.Fatalf("list runs: %v", err)
	}
	if len(runs) == 0 {
		log.Fatal("no analysis runs stored; run an analysis first")
	}
	run := runs[0]
	if run.ModelVersion != modelVer {
		log.Fatalf("latest run is model %s, not %s", run.ModelVersion, modelVer)
	}

	events, err := dbConn.EventsBetween(ctx, modelVer, run.RangeStartUnix, run.RangeEndUnix)
	if err != nil {
		log.Fatalf("load events: %v", err)
	}
	if len(events) == 0 {
		log.Fatal("no stored events for this model version")
	}

	before, err := dbConn.EncountersBetween(ctx, modelVer, run.RangeStartUnix, run.RangeEndUnix)
	if err != nil {
		log.Fatalf("load encounters: %v", err)
	}

	gap := time.Duration(gapMinutes * float64(time.Minute))
	regrouped := proximity.GroupEncounters(events, gap)

	fmt.Printf("Regrouping %d events for model %s under a %.0f-minute gap:\n", len(events), modelVer, gapMinutes)
	fmt.Printf("  before: %d encounters (gap %.0f minutes)\n", len(before), run.GapThresholdMinutes)
	fmt.Printf("  after:  %d encounters\n", len(regrouped))
	for _, enc := range regrouped {
		fmt.Printf("    %s - %s: %d events, %d entities\n",
			enc.StartTime.Format("2006-01-02 15:04"),
			enc.EndTime.Format("2006-01-02 15:04"),
			enc.EventCount, len(enc.Entities))
	}

	if dryRun {
		fmt.Println("\nDry run mode - stored encounters unchanged")
		return
	}

	if err := dbConn.ReplaceEncounters(ctx, run.RunID, modelVer, regrouped); err != nil {
		log.Fatalf("replace encounters: %v", err)
	}
	fmt.Printf("\nStored %d encounters on run %s\n", len(regrouped), run.RunID)
}
