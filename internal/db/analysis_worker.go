package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/proximity.report/internal/proximity"
)

// AnalysisWorker periodically re-analyzes recent gps_points and replaces the
// stored proximity events, encounters, and run records for its model version.
// Designed to run hourly over the last day of samples (with an hour of
// overlap so late-arriving imports get picked up).
type AnalysisWorker struct {
	DB           *DB
	Config       *proximity.Config
	ModelVersion string
	Interval     time.Duration // how often to run (e.g., 1h)
	Window       time.Duration // lookback window (e.g., 25h)
	StopChan     chan struct{}
}

func NewAnalysisWorker(database *DB, cfg *proximity.Config, modelVersion string) *AnalysisWorker {
	if cfg == nil {
		cfg = &proximity.Config{}
	}
	return &AnalysisWorker{
		DB:           database,
		Config:       cfg,
		ModelVersion: modelVersion,
		Interval:     time.Hour,
		Window:       25 * time.Hour,
		StopChan:     make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *AnalysisWorker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := w.RunOnce(context.Background()); err != nil {
					log.Printf("analysis worker run error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *AnalysisWorker) Stop() {
	close(w.StopChan)
}

// RunOnce analyzes the last w.Window of samples.
func (w *AnalysisWorker) RunOnce(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	end := timeToUnix(now)
	start := timeToUnix(now.Add(-w.Window))

	return w.RunRange(ctx, start, end)
}

// RunFullHistory analyzes the full available gps_points range.
func (w *AnalysisWorker) RunFullHistory(ctx context.Context) (string, error) {
	start, end, ok, err := w.DB.GPSPointRange(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		log.Printf("Analysis worker full-history run skipped (no GPS points)")
		return "", nil
	}
	if start > end {
		log.Printf("Analysis worker full-history run skipped (invalid range): start=%v end=%v", start, end)
		return "", nil
	}
	return w.RunRange(ctx, start, end)
}

// RunRange analyzes the provided [start, end] (unix seconds) and replaces
// overlapping runs of the same model version with the new results. Returns
// the run ID of the persisted run, or "" when nothing was analyzed.
func (w *AnalysisWorker) RunRange(ctx context.Context, start, end float64) (string, error) {
	analyzer, err := proximity.NewAnalyzer(w.Config)
	if err != nil {
		return "", fmt.Errorf("invalid analysis config: %w", err)
	}

	store, err := w.DB.LoadTracks(ctx, start, end)
	if err != nil {
		return "", fmt.Errorf("failed to load tracks: %w", err)
	}

	result := analyzer.Run(store)
	for _, warning := range result.Warnings {
		log.Printf("Analysis worker: %s", warning)
	}

	tx, err := w.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means transaction was already committed/rolled back
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	// Delete overlapping runs with the same model_version before inserting.
	// This handles hourly re-runs and window overlaps, preventing duplicate
	// events. Events and encounters cascade with their run. We delete runs
	// that:
	// 1. Start within the processing range, OR
	// 2. End within the processing range, OR
	// 3. Span the entire processing range
	deleteQuery := `
		DELETE FROM analysis_runs
		WHERE model_version = ?
		  AND (
			  (range_start_unix BETWEEN ? AND ?)
			  OR (range_end_unix BETWEEN ? AND ?)
			  OR (range_start_unix <= ? AND range_end_unix >= ?)
		  )
	`
	deleteResult, err := tx.ExecContext(ctx, deleteQuery,
		w.ModelVersion,
		start, end, // run starts in range
		start, end, // run ends in range
		start, end, // run spans entire range
	)
	if err != nil {
		return "", fmt.Errorf("failed to delete overlapping runs: %w", err)
	}

	deleted, _ := deleteResult.RowsAffected()
	if deleted > 0 {
		log.Printf("Analysis worker: deleted %d overlapping %s runs in range [%v, %v]",
			deleted, w.ModelVersion, start, end)
	}

	runID := uuid.New().String()
	var warnings sql.NullString
	if len(result.Warnings) > 0 {
		warnings = sql.NullString{String: strings.Join(result.Warnings, "; "), Valid: true}
	}

	cfg := analyzer.Config()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO analysis_runs (run_id, model_version, range_start_unix, range_end_unix,
			threshold_km, time_window_minutes, min_duration_minutes, gap_threshold_minutes,
			event_count, encounter_count, warnings, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, UNIXEPOCH('subsec'), UNIXEPOCH('subsec'))
	`, runID, w.ModelVersion, start, end,
		cfg.GetProximityThresholdKm(), cfg.GetTimeWindow().Minutes(),
		cfg.GetMinDurationMinutes(), cfg.GetGapThreshold().Minutes(),
		len(result.Events), len(result.Encounters), warnings,
	); err != nil {
		return "", fmt.Errorf("failed to insert analysis run: %w", err)
	}

	eventStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO proximity_events (run_id, model_version, entity_a, entity_b, ts_unix,
			distance_km, lat_a, lon_a, alt_a, lat_b, lon_b, alt_b, duration_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", err
	}
	defer eventStmt.Close()

	for _, e := range result.Events {
		var altA, altB sql.NullFloat64
		if e.PointA.Altitude != nil {
			altA = sql.NullFloat64{Float64: *e.PointA.Altitude, Valid: true}
		}
		if e.PointB.Altitude != nil {
			altB = sql.NullFloat64{Float64: *e.PointB.Altitude, Valid: true}
		}
		if _, err := eventStmt.ExecContext(ctx, runID, w.ModelVersion,
			e.EntityA, e.EntityB, timeToUnix(e.Timestamp), e.DistanceKm,
			e.PointA.Latitude, e.PointA.Longitude, altA,
			e.PointB.Latitude, e.PointB.Longitude, altB,
			e.DurationMinutes,
		); err != nil {
			return "", fmt.Errorf("failed to insert proximity event: %w", err)
		}
	}

	if err := insertEncountersTx(ctx, tx, runID, w.ModelVersion, result.Encounters); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	log.Printf("Analysis worker: run %s stored %d events, %d encounters for range [%v, %v]",
		runID, len(result.Events), len(result.Encounters), start, end)
	return runID, nil
}

// MigrateModelVersion replaces all runs from oldVersion with the worker's
// current ModelVersion by deleting old runs and re-running over full history.
func (w *AnalysisWorker) MigrateModelVersion(ctx context.Context, oldVersion string) error {
	if oldVersion == w.ModelVersion {
		return fmt.Errorf("old and new model versions must differ (both are %q)", oldVersion)
	}

	log.Printf("Analysis worker: migrating from %s to %s", oldVersion, w.ModelVersion)

	result, err := w.DB.ExecContext(ctx,
		`DELETE FROM analysis_runs WHERE model_version = ?`,
		oldVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to delete old version runs: %w", err)
	}

	deleted, _ := result.RowsAffected()
	log.Printf("Analysis worker: deleted %d %s runs", deleted, oldVersion)

	_, err = w.RunFullHistory(ctx)
	return err
}
