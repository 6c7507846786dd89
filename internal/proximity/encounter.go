package proximity

import (
	"sort"
	"time"
)

// GroupEncounters merges the global event stream into encounters: maximal
// runs of events whose consecutive gaps stay within gapThreshold (the
// boundary itself merges). Events from any pair join the current encounter,
// which is what lets an encounter capture a gathering of more than two
// entities. Encounters come out in timestamp order, and every event lands
// in exactly one encounter.
//
// The input slice is not modified; events are sorted into a scratch copy,
// so grouping an already-grouped, re-flattened list yields identical
// encounters.
func GroupEncounters(events []ProximityEvent, gapThreshold time.Duration) []Encounter {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]ProximityEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var encounters []Encounter
	var current []ProximityEvent

	for _, event := range sorted {
		if len(current) > 0 && event.Timestamp.Sub(current[len(current)-1].Timestamp) > gapThreshold {
			encounters = append(encounters, finalizeEncounter(current))
			current = current[:0:0]
		}
		current = append(current, event)
	}
	encounters = append(encounters, finalizeEncounter(current))
	return encounters
}

// finalizeEncounter reduces a non-empty run of events to one Encounter:
// entity set, span, and the centroid over both endpoints of every event.
func finalizeEncounter(run []ProximityEvent) Encounter {
	start := run[0].Timestamp
	end := run[len(run)-1].Timestamp

	entitySet := make(map[string]struct{})
	var latSum, lonSum float64
	for _, e := range run {
		entitySet[e.EntityA] = struct{}{}
		entitySet[e.EntityB] = struct{}{}
		latSum += e.PointA.Latitude + e.PointB.Latitude
		lonSum += e.PointA.Longitude + e.PointB.Longitude
	}

	entities := make([]string, 0, len(entitySet))
	for id := range entitySet {
		entities = append(entities, id)
	}
	sort.Strings(entities)

	n := float64(2 * len(run))
	return Encounter{
		StartTime:       start,
		EndTime:         end,
		Entities:        entities,
		EventCount:      len(run),
		CenterLat:       latSum / n,
		CenterLon:       lonSum / n,
		DurationMinutes: end.Sub(start).Minutes(),
	}
}
