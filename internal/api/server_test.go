package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/proximity.report/internal/db"
	"github.com/banshee-data/proximity.report/internal/proximity"
	"github.com/banshee-data/proximity.report/internal/track"
)

var testBase = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

const testRange = "start=2024-06-01T00:00:00Z&end=2024-06-02T00:00:00Z"

func testPoints(lat, lon float64, minutes ...float64) []track.GPSPoint {
	points := make([]track.GPSPoint, len(minutes))
	for i, m := range minutes {
		points[i] = track.GPSPoint{
			Timestamp: testBase.Add(time.Duration(m * float64(time.Minute))),
			Latitude:  lat,
			Longitude: lon,
			Altitude:  math.NaN(),
		}
	}
	return points
}

func ptrFloat64(v float64) *float64 { return &v }

// newTestServer seeds two close entities, runs one analysis, and returns a
// server over the resulting database.
func newTestServer(t *testing.T, seed bool) *Server {
	t.Helper()
	database, err := db.NewDB(t.TempDir() + "/api_test.db")
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := &proximity.Config{ProximityThresholdKm: ptrFloat64(1.0)}
	worker := db.NewAnalysisWorker(database, cfg, "v1")

	if seed {
		ctx := context.Background()
		if _, err := database.InsertGPSPoints(ctx, "A", "", testPoints(48.0, 11.0, 0, 5, 10)); err != nil {
			t.Fatalf("seed A: %v", err)
		}
		if _, err := database.InsertGPSPoints(ctx, "B", "", testPoints(48.001, 11.0, 0, 5, 10)); err != nil {
			t.Fatalf("seed B: %v", err)
		}
		if _, err := worker.RunFullHistory(ctx); err != nil {
			t.Fatalf("analysis run: %v", err)
		}
	}

	return NewServer(database, worker, "km")
}

func doRequest(t *testing.T, s *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestListEvents(t *testing.T) {
	s := newTestServer(t, true)

	rec := doRequest(t, s, http.MethodGet, "/api/events?"+testRange, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var events []EventAPI
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for _, e := range events {
		if e.EntityA != "A" || e.EntityB != "B" {
			t.Errorf("event pair = %s/%s, want A/B", e.EntityA, e.EntityB)
		}
		if e.Units != "km" {
			t.Errorf("units = %s, want km", e.Units)
		}
	}
}

func TestListEventsUnitConversion(t *testing.T) {
	s := newTestServer(t, true)

	var kmEvents, miEvents []EventAPI
	rec := doRequest(t, s, http.MethodGet, "/api/events?"+testRange, "")
	if err := json.Unmarshal(rec.Body.Bytes(), &kmEvents); err != nil {
		t.Fatalf("decode km: %v", err)
	}
	rec = doRequest(t, s, http.MethodGet, "/api/events?"+testRange+"&units=mi", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &miEvents); err != nil {
		t.Fatalf("decode mi: %v", err)
	}

	want := kmEvents[0].Distance * 0.621371
	if math.Abs(miEvents[0].Distance-want) > 1e-9 {
		t.Errorf("mi distance = %v, want %v", miEvents[0].Distance, want)
	}
	if miEvents[0].Units != "mi" {
		t.Errorf("units = %s, want mi", miEvents[0].Units)
	}
}

func TestListEventsRejectsBadParams(t *testing.T) {
	s := newTestServer(t, true)

	for _, target := range []string{
		"/api/events?units=furlongs",
		"/api/events?days=0",
		"/api/events?days=abc",
		"/api/events?start=2024-06-01T00:00:00Z",
		"/api/events?start=notatime&end=2024-06-02T00:00:00Z",
		"/api/events?tz=Invalid/Zone",
	} {
		if rec := doRequest(t, s, http.MethodGet, target, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}

	if rec := doRequest(t, s, http.MethodPost, "/api/events", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/events: status = %d, want 405", rec.Code)
	}
}

func TestListEncounters(t *testing.T) {
	s := newTestServer(t, true)

	rec := doRequest(t, s, http.MethodGet, "/api/encounters?"+testRange+"&tz=Europe/Berlin", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var encounters []EncounterAPI
	if err := json.Unmarshal(rec.Body.Bytes(), &encounters); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(encounters) != 1 {
		t.Fatalf("got %d encounters, want 1", len(encounters))
	}
	if got := encounters[0].Entities; len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("entities = %v, want [A B]", got)
	}
	// Same instant, displayed in the requested zone (+02:00 in June).
	if !encounters[0].StartTime.Equal(testBase) {
		t.Errorf("start = %v, want the %v instant", encounters[0].StartTime, testBase)
	}
}

func TestShowStats(t *testing.T) {
	s := newTestServer(t, true)

	rec := doRequest(t, s, http.MethodGet, "/api/stats?"+testRange, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var stats StatsAPI
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalEvents != 3 || stats.UniquePairs != 1 {
		t.Errorf("stats = %+v, want 3 events and 1 pair", stats.Statistics)
	}
	if stats.MostActivePair != "A & B" {
		t.Errorf("most active pair = %s, want A & B", stats.MostActivePair)
	}
	if stats.Units != "km" {
		t.Errorf("units = %s, want km", stats.Units)
	}
	if stats.EventsByEntity["A"] != 3 || stats.EventsByEntity["B"] != 3 {
		t.Errorf("events by entity = %v, want 3 each", stats.EventsByEntity)
	}
}

func TestListRuns(t *testing.T) {
	s := newTestServer(t, true)

	rec := doRequest(t, s, http.MethodGet, "/api/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var runs []db.AnalysisRun
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].EventCount != 3 || runs[0].ModelVersion != "v1" {
		t.Errorf("run = %+v, want 3 events on v1", runs[0])
	}

	if rec := doRequest(t, s, http.MethodGet, "/api/runs?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0: status = %d, want 400", rec.Code)
	}
}

func TestListEntities(t *testing.T) {
	s := newTestServer(t, true)

	rec := doRequest(t, s, http.MethodGet, "/api/entities", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var entities []db.EntitySummary
	if err := json.Unmarshal(rec.Body.Bytes(), &entities); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(entities))
	}
	if entities[0].EntityID != "A" || entities[0].PointCount != 3 {
		t.Errorf("first entity = %+v, want A with 3 points", entities[0])
	}
}

func TestRunAnalysis(t *testing.T) {
	s := newTestServer(t, true)

	rec := doRequest(t, s, http.MethodPost, "/api/analyze", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["run_id"] == "" {
		t.Error("analyze response missing run_id")
	}

	// Explicit range in the body.
	rec = doRequest(t, s, http.MethodPost, "/api/analyze",
		`{"start": "2024-06-01T00:00:00Z", "end": "2024-06-02T00:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ranged analyze: status = %d, body %s", rec.Code, rec.Body)
	}

	if rec := doRequest(t, s, http.MethodGet, "/api/analyze", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/analyze: status = %d, want 405", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodPost, "/api/analyze", `{"start": "2024-06-01T00:00:00Z"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("start without end: status = %d, want 400", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodPost, "/api/analyze", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
}

func TestRunAnalysisEmptyStore(t *testing.T) {
	s := newTestServer(t, false)

	rec := doRequest(t, s, http.MethodPost, "/api/analyze", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("analyze on empty store: status = %d, want 409", rec.Code)
	}
}

func TestShowConfig(t *testing.T) {
	s := newTestServer(t, false)

	rec := doRequest(t, s, http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var config map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &config); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if config["units"] != "km" {
		t.Errorf("units = %v, want km", config["units"])
	}
	if config["proximity_threshold_km"] != 1.0 {
		t.Errorf("threshold = %v, want 1.0", config["proximity_threshold_km"])
	}
	if config["model_version"] != "v1" {
		t.Errorf("model_version = %v, want v1", config["model_version"])
	}
}
