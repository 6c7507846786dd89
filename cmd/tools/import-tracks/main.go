// Command import-tracks loads GPS track CSVs into the database, reporting
// per-entity counts and any rows the parser skipped.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/banshee-data/proximity.report/internal/db"
	"github.com/banshee-data/proximity.report/internal/track"
)

func main() {
	var dbPath string
	var dir string
	var file string
	var verbose bool

	flag.StringVar(&dbPath, "db", "proximity.db", "path to sqlite db")
	flag.StringVar(&dir, "dir", "", "directory of track CSVs to import")
	flag.StringVar(&file, "file", "", "single track CSV to import")
	flag.BoolVar(&verbose, "verbose", false, "print every skipped row")
	flag.Parse()

	if (dir == "") == (file == "") {
		log.Fatal("exactly one of -dir or -file is required")
	}

	dbConn, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	store := track.NewStore()
	var reports []track.QualityReport
	source := dir
	if file != "" {
		source = file
		reports, err = track.LoadFile(store, file)
	} else {
		reports, err = track.LoadDir(store, dir)
	}
	if err != nil {
		log.Fatalf("load tracks: %v", err)
	}

	var skipped int
	for _, report := range reports {
		skipped += report.Skipped
		if verbose {
			for _, issue := range report.Issues {
				fmt.Printf("  %s row %d skipped: %s\n", report.EntityID, issue.Index, issue.Reason)
			}
		}
	}

	ctx := context.Background()
	var stored int64
	for _, entity := range store.Entities() {
		points := store.Track(entity).Points()
		inserted, err := dbConn.InsertGPSPoints(ctx, entity, source, points)
		if err != nil {
			log.Fatalf("store points for %s: %v", entity, err)
		}
		fmt.Printf("%s: %d points stored (%d parsed)\n", entity, inserted, len(points))
		stored += inserted
	}

	fmt.Printf("\nImported %d points across %d entities", stored, store.Len())
	if skipped > 0 {
		fmt.Printf(", skipped %d malformed rows (-verbose for details)", skipped)
	}
	fmt.Println()
}
