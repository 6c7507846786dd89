// Package proximity implements the close-approach analysis core: matching
// samples across tracks, detecting proximity events, grouping them into
// encounters and reducing them to summary statistics.
package proximity

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/proximity.report/internal/track"
)

// Endpoint is one side of a proximity event. Altitude is nil when the
// source sample carried none.
type Endpoint struct {
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lon"`
	Altitude  *float64 `json:"alt,omitempty"`
}

func endpointFrom(p track.GPSPoint) Endpoint {
	e := Endpoint{Latitude: p.Latitude, Longitude: p.Longitude}
	if p.HasAltitude() {
		alt := p.Altitude
		e.Altitude = &alt
	}
	return e
}

// ProximityEvent records a single instant at which two entities were within
// the distance threshold. EntityA sorts lexicographically before EntityB so
// symmetric duplicates cannot occur; Timestamp is EntityA's sample time.
// DurationMinutes is zero until the duration filter assigns the span of the
// run the event belongs to. Events are immutable once emitted.
type ProximityEvent struct {
	EntityA         string    `json:"entity_a"`
	EntityB         string    `json:"entity_b"`
	Timestamp       time.Time `json:"timestamp"`
	DistanceKm      float64   `json:"distance_km"`
	PointA          Endpoint  `json:"point_a"`
	PointB          Endpoint  `json:"point_b"`
	DurationMinutes float64   `json:"duration_minutes,omitempty"`
}

// PairKey returns the canonical "A & B" label for the event's entity pair.
func (e ProximityEvent) PairKey() string {
	return fmt.Sprintf("%s & %s", e.EntityA, e.EntityB)
}

// Encounter is a temporally-contiguous cluster of proximity events. Any
// pair may contribute events to an encounter, so a single encounter can
// span more than two entities (a multi-party gathering). Never mutated
// after creation.
type Encounter struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Entities        []string  `json:"entities"`
	EventCount      int       `json:"event_count"`
	CenterLat       float64   `json:"center_lat"`
	CenterLon       float64   `json:"center_lon"`
	DurationMinutes float64   `json:"duration_minutes"`
}

// Statistics is a wholesale reduction of an event list. It carries no
// incremental state and is recomputed from scratch on every call.
type Statistics struct {
	TotalEvents        int            `json:"total_events"`
	UniquePairs        int            `json:"unique_pairs"`
	AverageDistanceKm  float64        `json:"average_distance_km"`
	ClosestDistanceKm  float64        `json:"closest_distance_km"`
	P50DistanceKm      float64        `json:"p50_distance_km"`
	P85DistanceKm      float64        `json:"p85_distance_km"`
	P95DistanceKm      float64        `json:"p95_distance_km"`
	TotalDurationHours float64        `json:"total_duration_hours"`
	MostActivePair     string         `json:"most_active_pair"`
	PeakActivityHour   int            `json:"peak_activity_hour"`
	EventsByEntity     map[string]int `json:"events_by_entity"`
	EventsByHour       map[int]int    `json:"events_by_hour"`
}

// Result bundles the outputs of one analysis run. Warnings carry non-fatal
// conditions (insufficient data, skipped points); an empty result with
// warnings is still a successful run.
type Result struct {
	Events     []ProximityEvent `json:"events"`
	Encounters []Encounter      `json:"encounters"`
	Stats      Statistics       `json:"stats"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// AltitudeOrNaN returns the endpoint altitude, or NaN when absent. Useful
// for storage layers that persist altitude as a nullable column.
func (e Endpoint) AltitudeOrNaN() float64 {
	if e.Altitude == nil {
		return math.NaN()
	}
	return *e.Altitude
}
