// Package track holds the in-memory representation of per-entity GPS time
// series handed to the proximity engine. Tracks are immutable once built;
// the store owns them for the duration of one analysis run.
package track

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// GPSPoint is a single timestamped GPS sample. Altitude is optional: NaN
// means the source carried no altitude for this sample, and analysis must
// not treat that as an error.
type GPSPoint struct {
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// HasAltitude reports whether the point carries an altitude value.
func (p GPSPoint) HasAltitude() bool {
	return !math.IsNaN(p.Altitude)
}

// Validate checks the point against the coordinate and timestamp contract.
func (p GPSPoint) Validate() error {
	if p.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", p.Latitude)
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", p.Longitude)
	}
	return nil
}

// Track is one entity's ordered GPS samples. Points are sorted ascending by
// timestamp at construction and never mutated afterwards.
type Track struct {
	entityID string
	points   []GPSPoint
}

// NewTrack builds a track from the given points. The input slice is copied
// and sorted by timestamp; the caller keeps ownership of its slice.
func NewTrack(entityID string, points []GPSPoint) *Track {
	sorted := make([]GPSPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &Track{entityID: entityID, points: sorted}
}

// EntityID returns the tracked subject's identifier.
func (t *Track) EntityID() string { return t.entityID }

// Len returns the number of samples in the track.
func (t *Track) Len() int { return len(t.points) }

// Point returns the i-th sample in timestamp order.
func (t *Track) Point(i int) GPSPoint { return t.points[i] }

// Points returns the underlying sorted sample slice. Callers must treat it
// as read-only.
func (t *Track) Points() []GPSPoint { return t.points }

// QualityIssue describes one skipped sample.
type QualityIssue struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// QualityReport summarises validation results for one entity's load. Skipped
// points degrade the track but never abort the load.
type QualityReport struct {
	EntityID string         `json:"entity_id"`
	Accepted int            `json:"accepted"`
	Skipped  int            `json:"skipped"`
	Issues   []QualityIssue `json:"issues,omitempty"`
}

// Store holds the tracks for one analysis run, keyed by entity ID.
type Store struct {
	tracks map[string]*Track
}

// NewStore returns an empty track store.
func NewStore() *Store {
	return &Store{tracks: make(map[string]*Track)}
}

// AddPoints validates and adds samples for an entity, merging with any
// samples already present for it. Invalid points are skipped and reported.
func (s *Store) AddPoints(entityID string, points []GPSPoint) QualityReport {
	report := QualityReport{EntityID: entityID}

	valid := make([]GPSPoint, 0, len(points))
	for i, p := range points {
		if err := p.Validate(); err != nil {
			report.Skipped++
			report.Issues = append(report.Issues, QualityIssue{Index: i, Reason: err.Error()})
			continue
		}
		valid = append(valid, p)
	}
	report.Accepted = len(valid)

	if existing, ok := s.tracks[entityID]; ok {
		valid = append(valid, existing.points...)
	}
	s.tracks[entityID] = NewTrack(entityID, valid)
	return report
}

// AddTrack inserts a pre-built track, replacing any track for the same
// entity.
func (s *Store) AddTrack(t *Track) {
	s.tracks[t.entityID] = t
}

// Track returns the track for an entity, or nil if absent.
func (s *Store) Track(entityID string) *Track {
	return s.tracks[entityID]
}

// Entities returns all entity IDs in lexicographic order.
func (s *Store) Entities() []string {
	ids := make([]string, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of entities in the store.
func (s *Store) Len() int { return len(s.tracks) }

// TotalPoints returns the number of samples across all tracks.
func (s *Store) TotalPoints() int {
	n := 0
	for _, t := range s.tracks {
		n += len(t.points)
	}
	return n
}
