// Command analyze-tracks runs the proximity analysis over a directory of
// track CSVs and writes the full result (events, encounters, statistics)
// as JSON, without touching a database.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/proximity.report/internal/proximity"
	"github.com/banshee-data/proximity.report/internal/track"
)

func main() {
	var dir string
	var configPath string
	var outPath string
	var threshold float64
	var minDuration float64

	flag.StringVar(&dir, "dir", "", "directory of track CSVs to analyze")
	flag.StringVar(&configPath, "config", "", "analysis config JSON (overrides the flag defaults)")
	flag.StringVar(&outPath, "out", "", "write the JSON report here instead of stdout")
	flag.Float64Var(&threshold, "threshold", 2.0, "proximity threshold in km")
	flag.Float64Var(&minDuration, "min-duration", 0, "minimum event run duration in minutes (0 disables)")
	flag.Parse()

	if dir == "" {
		log.Fatal("-dir is required")
	}

	cfg := &proximity.Config{}
	if configPath != "" {
		var err error
		cfg, err = proximity.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	} else {
		cfg.ProximityThresholdKm = &threshold
		if minDuration > 0 {
			cfg.MinDurationMinutes = &minDuration
		}
	}

	analyzer, err := proximity.NewAnalyzer(cfg)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	store := track.NewStore()
	reports, err := track.LoadDir(store, dir)
	if err != nil {
		log.Fatalf("load tracks: %v", err)
	}
	for _, report := range reports {
		if report.Skipped > 0 {
			log.Printf("%s: skipped %d malformed rows", report.EntityID, report.Skipped)
		}
	}
	log.Printf("loaded %d entities, %d points", store.Len(), store.TotalPoints())

	result := analyzer.Run(store)
	for _, warning := range result.Warnings {
		log.Printf("warning: %s", warning)
	}

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			log.Fatalf("create %s: %v", outPath, err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("write report: %v", err)
	}

	if outPath != "" {
		fmt.Printf("%d events, %d encounters written to %s\n", len(result.Events), len(result.Encounters), outPath)
	}
}
