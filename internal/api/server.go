package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/proximity.report/internal/db"
	"github.com/banshee-data/proximity.report/internal/proximity"
	"github.com/banshee-data/proximity.report/internal/track"
	"github.com/banshee-data/proximity.report/internal/units"
	"github.com/banshee-data/proximity.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db     *db.DB
	worker *db.AnalysisWorker
	units  string
}

func NewServer(database *db.DB, worker *db.AnalysisWorker, distanceUnits string) *Server {
	return &Server{
		db:     database,
		worker: worker,
		units:  distanceUnits,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/encounters", s.listEncounters)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/entities", s.listEntities)
	mux.HandleFunc("/api/analyze", s.runAnalysis)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// requestRange resolves the time range for a query: explicit start/end
// (RFC3339 or "2006-01-02 15:04:05") win over the days parameter, which
// selects the last N days and defaults to 1.
func (s *Server) requestRange(r *http.Request) (start, end float64, err error) {
	q := r.URL.Query()

	if startStr, endStr := q.Get("start"), q.Get("end"); startStr != "" || endStr != "" {
		if startStr == "" || endStr == "" {
			return 0, 0, fmt.Errorf("'start' and 'end' must be given together")
		}
		startTime, err := track.ParseTimestamp(startStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid 'start' parameter: %v", err)
		}
		endTime, err := track.ParseTimestamp(endStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid 'end' parameter: %v", err)
		}
		if !endTime.After(startTime) {
			return 0, 0, fmt.Errorf("'end' must be after 'start'")
		}
		return timeToUnix(startTime), timeToUnix(endTime), nil
	}

	days := 1 // default value
	if d := q.Get("days"); d != "" {
		parsedDays, err := strconv.Atoi(d)
		if err != nil || parsedDays < 1 {
			return 0, 0, fmt.Errorf("invalid 'days' parameter")
		}
		days = parsedDays
	}
	now := time.Now().UTC()
	return timeToUnix(now.AddDate(0, 0, -days)), timeToUnix(now), nil
}

// requestUnits resolves the distance units for a response: the query
// parameter overrides the server default.
func (s *Server) requestUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid 'units' parameter (valid: %s)", units.GetValidUnitsString())
	}
	return u, nil
}

// requestTimezone resolves the display timezone; times are stored in UTC.
func (s *Server) requestTimezone(r *http.Request) (string, error) {
	tz := r.URL.Query().Get("tz")
	if tz == "" {
		return "UTC", nil
	}
	if !units.IsTimezoneValid(tz) {
		return "", fmt.Errorf("invalid 'tz' parameter: %s", tz)
	}
	return tz, nil
}

func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// EventAPI is the wire shape of a proximity event: distance converted to
// the requested units, timestamp rendered in the requested timezone.
type EventAPI struct {
	EntityA         string             `json:"entity_a"`
	EntityB         string             `json:"entity_b"`
	Timestamp       time.Time          `json:"timestamp"`
	Distance        float64            `json:"distance"`
	Units           string             `json:"units"`
	PointA          proximity.Endpoint `json:"point_a"`
	PointB          proximity.Endpoint `json:"point_b"`
	DurationMinutes float64            `json:"duration_minutes"`
}

func eventToAPI(e proximity.ProximityEvent, distanceUnits, tz string) EventAPI {
	ts, err := units.ConvertTime(e.Timestamp, tz)
	if err != nil {
		ts = e.Timestamp
	}
	return EventAPI{
		EntityA:         e.EntityA,
		EntityB:         e.EntityB,
		Timestamp:       ts,
		Distance:        units.ConvertDistance(e.DistanceKm, distanceUnits),
		Units:           distanceUnits,
		PointA:          e.PointA,
		PointB:          e.PointB,
		DurationMinutes: e.DurationMinutes,
	}
}

// EncounterAPI is the wire shape of an encounter with timestamps rendered
// in the requested timezone.
type EncounterAPI struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Entities        []string  `json:"entities"`
	EventCount      int       `json:"event_count"`
	CenterLat       float64   `json:"center_lat"`
	CenterLon       float64   `json:"center_lon"`
	DurationMinutes float64   `json:"duration_minutes"`
}

func encounterToAPI(e proximity.Encounter, tz string) EncounterAPI {
	start, err := units.ConvertTime(e.StartTime, tz)
	if err != nil {
		start = e.StartTime
	}
	end, err := units.ConvertTime(e.EndTime, tz)
	if err != nil {
		end = e.EndTime
	}
	return EncounterAPI{
		StartTime:       start,
		EndTime:         end,
		Entities:        e.Entities,
		EventCount:      e.EventCount,
		CenterLat:       e.CenterLat,
		CenterLon:       e.CenterLon,
		DurationMinutes: e.DurationMinutes,
	}
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	start, end, err := s.requestRange(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	distanceUnits, err := s.requestUnits(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	tz, err := s.requestTimezone(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.db.EventsBetween(r.Context(), s.worker.ModelVersion, start, end)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}

	apiEvents := make([]EventAPI, len(events))
	for i, e := range events {
		apiEvents[i] = eventToAPI(e, distanceUnits, tz)
	}

	if err := json.NewEncoder(w).Encode(apiEvents); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write events")
		return
	}
}

func (s *Server) listEncounters(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	start, end, err := s.requestRange(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	tz, err := s.requestTimezone(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	encounters, err := s.db.EncountersBetween(r.Context(), s.worker.ModelVersion, start, end)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve encounters: %v", err))
		return
	}

	apiEncounters := make([]EncounterAPI, len(encounters))
	for i, e := range encounters {
		apiEncounters[i] = encounterToAPI(e, tz)
	}

	if err := json.NewEncoder(w).Encode(apiEncounters); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write encounters")
		return
	}
}

// StatsAPI wraps the statistics summary with the units its distances are in.
type StatsAPI struct {
	proximity.Statistics
	Units string `json:"units"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	start, end, err := s.requestRange(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	distanceUnits, err := s.requestUnits(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.db.EventsBetween(r.Context(), s.worker.ModelVersion, start, end)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}

	minDuration := s.worker.Config.GetMinDurationMinutes()
	stats := proximity.ComputeStatistics(events, minDuration, minDuration > 0)

	// Apply unit conversion to all distance values
	stats.AverageDistanceKm = units.ConvertDistance(stats.AverageDistanceKm, distanceUnits)
	stats.ClosestDistanceKm = units.ConvertDistance(stats.ClosestDistanceKm, distanceUnits)
	stats.P50DistanceKm = units.ConvertDistance(stats.P50DistanceKm, distanceUnits)
	stats.P85DistanceKm = units.ConvertDistance(stats.P85DistanceKm, distanceUnits)
	stats.P95DistanceKm = units.ConvertDistance(stats.P95DistanceKm, distanceUnits)

	if err := json.NewEncoder(w).Encode(StatsAPI{Statistics: stats, Units: distanceUnits}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListAnalysisRuns(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.AnalysisRun{}
	}

	if err := json.NewEncoder(w).Encode(runs); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write runs")
		return
	}
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	entities, err := s.db.Entities(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve entities: %v", err))
		return
	}
	if entities == nil {
		entities = []db.EntitySummary{}
	}

	if err := json.NewEncoder(w).Encode(entities); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write entities")
		return
	}
}

// analyzeRequest is the optional POST body for /api/analyze. Without a
// body (or with an empty one) the full stored history is analyzed.
type analyzeRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) runAnalysis(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req analyzeRequest
	// An empty body is fine; a malformed one is not.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	var (
		runID string
		err   error
	)
	if req.Start != "" || req.End != "" {
		if req.Start == "" || req.End == "" {
			s.writeJSONError(w, http.StatusBadRequest, "'start' and 'end' must be given together")
			return
		}
		startTime, perr := track.ParseTimestamp(req.Start)
		if perr != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid 'start': %v", perr))
			return
		}
		endTime, perr := track.ParseTimestamp(req.End)
		if perr != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid 'end': %v", perr))
			return
		}
		if !endTime.After(startTime) {
			s.writeJSONError(w, http.StatusBadRequest, "'end' must be after 'start'")
			return
		}
		runID, err = s.worker.RunRange(r.Context(), timeToUnix(startTime), timeToUnix(endTime))
	} else {
		runID, err = s.worker.RunFullHistory(r.Context())
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Analysis failed: %v", err))
		return
	}
	if runID == "" {
		s.writeJSONError(w, http.StatusConflict, "No GPS points stored; nothing to analyze")
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"run_id": runID})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cfg := s.worker.Config
	config := map[string]interface{}{
		"version":                version.Version,
		"units":                  s.units,
		"model_version":          s.worker.ModelVersion,
		"proximity_threshold_km": cfg.GetProximityThresholdKm(),
		"time_window_minutes":    cfg.GetTimeWindow().Minutes(),
		"min_duration_minutes":   cfg.GetMinDurationMinutes(),
		"gap_threshold_minutes":  cfg.GetGapThreshold().Minutes(),
	}

	if err := json.NewEncoder(w).Encode(config); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
