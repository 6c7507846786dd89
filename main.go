package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/proximity.report/internal/api"
	"github.com/banshee-data/proximity.report/internal/db"
	"github.com/banshee-data/proximity.report/internal/proximity"
	"github.com/banshee-data/proximity.report/internal/track"
	"github.com/banshee-data/proximity.report/internal/units"
	"github.com/banshee-data/proximity.report/internal/version"
)

var (
	devMode      = flag.Bool("dev", false, "Run in dev mode (migrations read from local files)")
	listen       = flag.String("listen", ":8080", "Listen address")
	dbPath       = flag.String("db", "proximity.db", "Path to sqlite database file")
	configPath   = flag.String("config", "", "Path to analysis config JSON (defaults apply when omitted)")
	importDir    = flag.String("import", "", "Import GPS track CSVs from this directory on startup")
	modelVersion = flag.String("model", "v1", "Model version tag for analysis runs")
	serverUnits  = flag.String("units", units.KM, "Default distance units for API responses")
	noWorker     = flag.Bool("no-worker", false, "Disable the periodic analysis worker")
)

func main() {
	flag.Parse()

	db.DevMode = *devMode

	// Subcommands run and exit before the server comes up.
	if flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], *dbPath)
		return
	}

	log.Printf("proximity-report %s", version.String())

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*serverUnits) {
		log.Fatalf("Invalid units %q (valid: %s)", *serverUnits, units.GetValidUnitsString())
	}

	cfg := &proximity.Config{}
	if *configPath != "" {
		var err error
		cfg, err = proximity.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load analysis config: %v", err)
		}
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	worker := db.NewAnalysisWorker(database, cfg, *modelVersion)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *importDir != "" {
		if err := importTracks(ctx, database, *importDir); err != nil {
			log.Fatalf("Failed to import tracks: %v", err)
		}
		// Imported data should be queryable right away, not an hour from now.
		if _, err := worker.RunFullHistory(ctx); err != nil {
			log.Printf("initial analysis run failed: %v", err)
		}
	}

	if !*noWorker {
		worker.Start()
		defer worker.Stop()
	}

	// Create a wait group for the HTTP server routine
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		database.AttachAdminRoutes(mux)

		// mount the API handlers
		apiServer := api.NewServer(database, worker, *serverUnits)
		mux.Handle("/api/", apiServer.ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// importTracks loads every CSV in dir and stores the points, logging a
// summary per entity plus any rows the parser had to skip.
func importTracks(ctx context.Context, database *db.DB, dir string) error {
	store := track.NewStore()
	reports, err := track.LoadDir(store, dir)
	if err != nil {
		return err
	}

	for _, report := range reports {
		for _, issue := range report.Issues {
			log.Printf("import: %s row %d skipped: %s", report.EntityID, issue.Index, issue.Reason)
		}
	}

	for _, entity := range store.Entities() {
		points := store.Track(entity).Points()
		inserted, err := database.InsertGPSPoints(ctx, entity, dir, points)
		if err != nil {
			return err
		}
		log.Printf("import: %s: %d points stored (%d parsed)", entity, inserted, len(points))
	}
	return nil
}
