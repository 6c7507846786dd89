package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/proximity.report/internal/proximity"
	"github.com/banshee-data/proximity.report/internal/track"
)

// EntitySummary describes one tracked entity's stored samples.
type EntitySummary struct {
	EntityID   string  `json:"entity_id"`
	PointCount int64   `json:"point_count"`
	FirstUnix  float64 `json:"first_unix"`
	LastUnix   float64 `json:"last_unix"`
}

// AnalysisRun is one persisted execution of the proximity analyzer,
// keyed by UUID, with a snapshot of the parameters it ran under.
type AnalysisRun struct {
	RunID               string   `json:"run_id"`
	ModelVersion        string   `json:"model_version"`
	RangeStartUnix      float64  `json:"range_start_unix"`
	RangeEndUnix        float64  `json:"range_end_unix"`
	ThresholdKm         float64  `json:"threshold_km"`
	TimeWindowMinutes   float64  `json:"time_window_minutes"`
	MinDurationMinutes  float64  `json:"min_duration_minutes"`
	GapThresholdMinutes float64  `json:"gap_threshold_minutes"`
	EventCount          int64    `json:"event_count"`
	EncounterCount      int64    `json:"encounter_count"`
	Warnings            *string  `json:"warnings,omitempty"`
	StartedAt           float64  `json:"started_at"`
	FinishedAt          *float64 `json:"finished_at,omitempty"`
}

func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func unixToTime(u float64) time.Time {
	sec, frac := math.Modf(u)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// InsertGPSPoints stores the points for one entity, skipping duplicates of
// already-imported samples. Returns the number of newly inserted rows.
func (db *DB) InsertGPSPoints(ctx context.Context, entityID, sourceFile string, points []track.GPSPoint) (int64, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			return
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO gps_points (entity_id, ts_unix, latitude, longitude, altitude, source_file)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, p := range points {
		var alt sql.NullFloat64
		if p.HasAltitude() {
			alt = sql.NullFloat64{Float64: p.Altitude, Valid: true}
		}
		result, err := stmt.ExecContext(ctx, entityID, timeToUnix(p.Timestamp), p.Latitude, p.Longitude, alt, sourceFile)
		if err != nil {
			return 0, fmt.Errorf("failed to insert point for %s: %w", entityID, err)
		}
		n, _ := result.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Entities returns a per-entity summary of stored GPS samples.
func (db *DB) Entities(ctx context.Context) ([]EntitySummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT entity_id, COUNT(*), MIN(ts_unix), MAX(ts_unix)
		FROM gps_points
		GROUP BY entity_id
		ORDER BY entity_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []EntitySummary
	for rows.Next() {
		var s EntitySummary
		if err := rows.Scan(&s.EntityID, &s.PointCount, &s.FirstUnix, &s.LastUnix); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// GPSPointRange returns the earliest and latest sample timestamps across all
// entities. ok is false when no points are stored.
func (db *DB) GPSPointRange(ctx context.Context) (start, end float64, ok bool, err error) {
	var s, e sql.NullFloat64
	if err := db.QueryRowContext(ctx, `SELECT MIN(ts_unix), MAX(ts_unix) FROM gps_points`).Scan(&s, &e); err != nil {
		return 0, 0, false, err
	}
	if !s.Valid || !e.Valid {
		return 0, 0, false, nil
	}
	return s.Float64, e.Float64, true, nil
}

// LoadTracks builds an in-memory track store from the stored points in
// [start, end] (unix seconds). Points are already validated at import time.
func (db *DB) LoadTracks(ctx context.Context, start, end float64) (*track.Store, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT entity_id, ts_unix, latitude, longitude, altitude
		FROM gps_points
		WHERE ts_unix BETWEEN ? AND ?
		ORDER BY entity_id, ts_unix
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	store := track.NewStore()
	var (
		current string
		points  []track.GPSPoint
	)
	flush := func() {
		if len(points) > 0 {
			store.AddTrack(track.NewTrack(current, points))
			points = nil
		}
	}

	for rows.Next() {
		var (
			entity   string
			ts       float64
			lat, lon float64
			alt      sql.NullFloat64
		)
		if err := rows.Scan(&entity, &ts, &lat, &lon, &alt); err != nil {
			return nil, err
		}
		if entity != current {
			flush()
			current = entity
		}
		altitude := math.NaN()
		if alt.Valid {
			altitude = alt.Float64
		}
		points = append(points, track.GPSPoint{
			Timestamp: unixToTime(ts),
			Latitude:  lat,
			Longitude: lon,
			Altitude:  altitude,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	flush()

	return store, nil
}

// ListAnalysisRuns returns the most recent analysis runs, newest first.
func (db *DB) ListAnalysisRuns(ctx context.Context, limit int) ([]AnalysisRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, model_version, range_start_unix, range_end_unix,
			threshold_km, time_window_minutes, min_duration_minutes, gap_threshold_minutes,
			event_count, encounter_count, warnings, started_at, finished_at
		FROM analysis_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []AnalysisRun
	for rows.Next() {
		var (
			r        AnalysisRun
			warnings sql.NullString
			finished sql.NullFloat64
		)
		if err := rows.Scan(
			&r.RunID, &r.ModelVersion, &r.RangeStartUnix, &r.RangeEndUnix,
			&r.ThresholdKm, &r.TimeWindowMinutes, &r.MinDurationMinutes, &r.GapThresholdMinutes,
			&r.EventCount, &r.EncounterCount, &warnings, &r.StartedAt, &finished,
		); err != nil {
			return nil, err
		}
		if warnings.Valid {
			r.Warnings = &warnings.String
		}
		if finished.Valid {
			r.FinishedAt = &finished.Float64
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// EventsBetween returns stored proximity events for a model version within
// [start, end] (unix seconds), ordered by pair then time.
func (db *DB) EventsBetween(ctx context.Context, modelVersion string, start, end float64) ([]proximity.ProximityEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT entity_a, entity_b, ts_unix, distance_km,
			lat_a, lon_a, alt_a, lat_b, lon_b, alt_b, duration_minutes
		FROM proximity_events
		WHERE model_version = ? AND ts_unix BETWEEN ? AND ?
		ORDER BY entity_a, entity_b, ts_unix
	`, modelVersion, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []proximity.ProximityEvent
	for rows.Next() {
		var (
			e          proximity.ProximityEvent
			ts         float64
			altA, altB sql.NullFloat64
		)
		if err := rows.Scan(
			&e.EntityA, &e.EntityB, &ts, &e.DistanceKm,
			&e.PointA.Latitude, &e.PointA.Longitude, &altA,
			&e.PointB.Latitude, &e.PointB.Longitude, &altB,
			&e.DurationMinutes,
		); err != nil {
			return nil, err
		}
		e.Timestamp = unixToTime(ts)
		if altA.Valid {
			v := altA.Float64
			e.PointA.Altitude = &v
		}
		if altB.Valid {
			v := altB.Float64
			e.PointB.Altitude = &v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// EncountersBetween returns stored encounters for a model version whose span
// overlaps [start, end], with their member entities, ordered by start time.
func (db *DB) EncountersBetween(ctx context.Context, modelVersion string, start, end float64) ([]proximity.Encounter, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT encounter_id, start_unix, end_unix, event_count,
			center_lat, center_lon, duration_minutes
		FROM encounters
		WHERE model_version = ?
		  AND start_unix <= ? AND end_unix >= ?
		ORDER BY start_unix
	`, modelVersion, end, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		encounters []proximity.Encounter
		ids        []int64
	)
	for rows.Next() {
		var (
			id         int64
			enc        proximity.Encounter
			startUnix  float64
			endUnix    float64
			eventCount int64
		)
		if err := rows.Scan(&id, &startUnix, &endUnix, &eventCount,
			&enc.CenterLat, &enc.CenterLon, &enc.DurationMinutes); err != nil {
			return nil, err
		}
		enc.StartTime = unixToTime(startUnix)
		enc.EndTime = unixToTime(endUnix)
		enc.EventCount = int(eventCount)
		encounters = append(encounters, enc)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		members, err := db.encounterMembers(ctx, id)
		if err != nil {
			return nil, err
		}
		encounters[i].Entities = members
	}
	return encounters, nil
}

func (db *DB) encounterMembers(ctx context.Context, encounterID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT entity_id FROM encounter_members
		WHERE encounter_id = ?
		ORDER BY entity_id
	`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ReplaceEncounters deletes all encounters for a model version and stores the
// given set in their place, attributing them to runID. Used when events are
// regrouped under a different gap threshold.
func (db *DB) ReplaceEncounters(ctx context.Context, runID, modelVersion string, encounters []proximity.Encounter) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			return
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM encounters WHERE model_version = ?`, modelVersion); err != nil {
		return fmt.Errorf("failed to delete encounters: %w", err)
	}
	if err := insertEncountersTx(ctx, tx, runID, modelVersion, encounters); err != nil {
		return err
	}

	return tx.Commit()
}

func insertEncountersTx(ctx context.Context, tx *sql.Tx, runID, modelVersion string, encounters []proximity.Encounter) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO encounters (run_id, model_version, start_unix, end_unix,
			event_count, center_lat, center_lon, duration_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	memberStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO encounter_members (encounter_id, entity_id) VALUES (?, ?)
	`)
	if err != nil {
		return err
	}
	defer memberStmt.Close()

	for _, enc := range encounters {
		result, err := stmt.ExecContext(ctx, runID, modelVersion,
			timeToUnix(enc.StartTime), timeToUnix(enc.EndTime),
			enc.EventCount, enc.CenterLat, enc.CenterLon, enc.DurationMinutes)
		if err != nil {
			return fmt.Errorf("failed to insert encounter: %w", err)
		}
		encounterID, err := result.LastInsertId()
		if err != nil {
			return err
		}
		for _, entity := range enc.Entities {
			if _, err := memberStmt.ExecContext(ctx, encounterID, entity); err != nil {
				return fmt.Errorf("failed to insert encounter member: %w", err)
			}
		}
	}
	return nil
}
