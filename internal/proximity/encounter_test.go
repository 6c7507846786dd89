package proximity

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func event(a, b string, minutes float64, lat, lon float64) ProximityEvent {
	return ProximityEvent{
		EntityA:    a,
		EntityB:    b,
		Timestamp:  at(minutes),
		DistanceKm: 0.5,
		PointA:     Endpoint{Latitude: lat, Longitude: lon},
		PointB:     Endpoint{Latitude: lat, Longitude: lon},
	}
}

func TestGroupEncountersEmpty(t *testing.T) {
	if got := GroupEncounters(nil, time.Hour); got != nil {
		t.Errorf("GroupEncounters(nil) = %v, want nil", got)
	}
}

func TestGroupEncountersGapBoundary(t *testing.T) {
	gap := 60 * time.Minute

	// Exactly the gap apart: one encounter.
	events := []ProximityEvent{
		event("A", "B", 0, 48, 11),
		event("A", "B", 60, 48, 11),
	}
	if got := GroupEncounters(events, gap); len(got) != 1 {
		t.Errorf("events exactly gap apart: %d encounters, want 1", len(got))
	}

	// A second past the gap: two encounters.
	events[1].Timestamp = at(60).Add(time.Second)
	if got := GroupEncounters(events, gap); len(got) != 2 {
		t.Errorf("events just past gap: %d encounters, want 2", len(got))
	}
}

// Scenario C: X-Y close at minute 0 and Y-Z close at minute 50 chain into a
// single three-party encounter even though X and Z never matched directly.
func TestGroupEncountersMultiPartyChain(t *testing.T) {
	events := []ProximityEvent{
		event("X", "Y", 0, 48, 11),
		event("Y", "Z", 50, 48.1, 11.1),
	}

	encounters := GroupEncounters(events, 60*time.Minute)
	if len(encounters) != 1 {
		t.Fatalf("got %d encounters, want 1", len(encounters))
	}
	if diff := cmp.Diff([]string{"X", "Y", "Z"}, encounters[0].Entities); diff != "" {
		t.Errorf("entity set mismatch (-want +got):\n%s", diff)
	}
	if encounters[0].EventCount != 2 {
		t.Errorf("event count = %d, want 2", encounters[0].EventCount)
	}
	if encounters[0].DurationMinutes != 50 {
		t.Errorf("duration = %v minutes, want 50", encounters[0].DurationMinutes)
	}
}

func TestGroupEncountersCentroid(t *testing.T) {
	// Two events with endpoints at known coordinates; the centre is the
	// mean over all four points.
	events := []ProximityEvent{
		{EntityA: "A", EntityB: "B", Timestamp: at(0),
			PointA: Endpoint{Latitude: 48.0, Longitude: 11.0},
			PointB: Endpoint{Latitude: 48.2, Longitude: 11.2}},
		{EntityA: "A", EntityB: "B", Timestamp: at(10),
			PointA: Endpoint{Latitude: 48.4, Longitude: 11.4},
			PointB: Endpoint{Latitude: 48.6, Longitude: 11.6}},
	}

	encounters := GroupEncounters(events, time.Hour)
	if len(encounters) != 1 {
		t.Fatalf("got %d encounters, want 1", len(encounters))
	}
	if got := encounters[0].CenterLat; !floatNear(got, 48.3) {
		t.Errorf("center_lat = %v, want 48.3", got)
	}
	if got := encounters[0].CenterLon; !floatNear(got, 11.3) {
		t.Errorf("center_lon = %v, want 11.3", got)
	}
}

func TestGroupEncountersSortsUnorderedInput(t *testing.T) {
	events := []ProximityEvent{
		event("A", "B", 90, 48, 11),
		event("A", "B", 0, 48, 11),
		event("A", "B", 10, 48, 11),
	}

	encounters := GroupEncounters(events, 60*time.Minute)
	if len(encounters) != 1 {
		t.Fatalf("got %d encounters, want 1 (0 -> 10 -> 90 chains within the gap)", len(encounters))
	}
	if !encounters[0].StartTime.Equal(at(0)) || !encounters[0].EndTime.Equal(at(90)) {
		t.Errorf("encounter span %v - %v, want %v - %v",
			encounters[0].StartTime, encounters[0].EndTime, at(0), at(90))
	}
}

func TestGroupEncountersIdempotent(t *testing.T) {
	events := []ProximityEvent{
		event("A", "B", 0, 48, 11),
		event("A", "B", 30, 48, 11),
		event("B", "C", 200, 49, 12),
		event("B", "C", 210, 49, 12),
	}

	first := GroupEncounters(events, 60*time.Minute)
	second := GroupEncounters(events, 60*time.Minute)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-grouping the same events diverged (-first +second):\n%s", diff)
	}
	if len(first) != 2 {
		t.Errorf("got %d encounters, want 2", len(first))
	}
}

func floatNear(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
