package proximity

import (
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/proximity.report/internal/geo"
	"github.com/banshee-data/proximity.report/internal/track"
)

// Analyzer runs the full proximity pipeline over a track store: pairwise
// matching, threshold detection, duration filtering, encounter grouping and
// statistics. The store must not be mutated while a run is in progress.
type Analyzer struct {
	cfg *Config
}

// NewAnalyzer validates cfg and returns an analyzer. Configuration errors
// surface here, before any analysis starts.
func NewAnalyzer(cfg *Config) (*Analyzer, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{cfg: cfg}, nil
}

// Config returns the analyzer's configuration.
func (an *Analyzer) Config() *Config { return an.cfg }

// Run analyses every unordered entity pair in the store and returns the
// flat event list, the encounters grouped from it, and statistics. Fewer
// than two entities is not an error: the result is empty and carries an
// insufficient-data warning.
func (an *Analyzer) Run(store *track.Store) *Result {
	result := &Result{Stats: emptyStatistics()}

	entities := store.Entities()
	if len(entities) < 2 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("insufficient data: proximity analysis needs at least 2 entities, got %d", len(entities)))
		return result
	}

	type pair struct{ a, b string }
	var pairs []pair
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			pairs = append(pairs, pair{entities[i], entities[j]})
		}
	}

	// Each pair is independent, so fan detection out over a worker pool and
	// collect into a per-pair slot. Indexed results keep the merge
	// deterministic regardless of completion order.
	perPair := make([][]ProximityEvent, len(pairs))
	jobs := make(chan int)

	workers := an.cfg.GetPairWorkers()
	if workers > len(pairs) {
		workers = len(pairs)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				p := pairs[idx]
				perPair[idx] = an.detectPair(p.a, p.b, store.Track(p.a), store.Track(p.b))
			}
		}()
	}
	for idx := range pairs {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	minDuration := an.cfg.GetMinDurationMinutes()
	for idx := range perPair {
		if minDuration > 0 {
			perPair[idx] = an.filterByDuration(perPair[idx])
		}
		result.Events = append(result.Events, perPair[idx]...)
	}

	result.Stats = ComputeStatistics(result.Events, minDuration, minDuration > 0)
	result.Encounters = GroupEncounters(result.Events, an.cfg.GetGapThreshold())
	return result
}

// detectPair matches one entity pair and applies the distance threshold.
// The smaller track drives the match loop; the emitted event always keeps
// the lexicographically-smaller entity on the A side with its sample time
// as the event timestamp.
func (an *Analyzer) detectPair(idA, idB string, ta, tb *track.Track) []ProximityEvent {
	if ta == nil || tb == nil || ta.Len() == 0 || tb.Len() == 0 {
		return nil
	}

	window := an.cfg.GetTimeWindow()
	threshold := an.cfg.GetProximityThresholdKm()

	swapped := tb.Len() < ta.Len()
	var matches []pointMatch
	if swapped {
		matches = matchNearest(tb, ta, window)
	} else {
		matches = matchNearest(ta, tb, window)
	}

	var events []ProximityEvent
	for _, m := range matches {
		pa, pb := m.A, m.B
		if swapped {
			pa, pb = m.B, m.A
		}
		d := geo.HaversineKm(pa.Latitude, pa.Longitude, pb.Latitude, pb.Longitude)
		if d <= threshold {
			events = append(events, ProximityEvent{
				EntityA:    idA,
				EntityB:    idB,
				Timestamp:  pa.Timestamp,
				DistanceKm: d,
				PointA:     endpointFrom(pa),
				PointB:     endpointFrom(pb),
			})
		}
	}
	return events
}

// filterByDuration groups one pair's time-ordered events into maximal runs
// whose consecutive gaps stay within duration_gap_factor * min_duration,
// then keeps only runs of at least two events spanning min_duration or
// more. Surviving events get the run's span as their duration.
func (an *Analyzer) filterByDuration(events []ProximityEvent) []ProximityEvent {
	if len(events) == 0 {
		return events
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	minDuration := an.cfg.GetMinDurationMinutes()
	maxGapMinutes := an.cfg.GetDurationGapFactor() * minDuration

	var filtered []ProximityEvent
	flush := func(run []ProximityEvent) {
		if len(run) < 2 {
			return
		}
		span := run[len(run)-1].Timestamp.Sub(run[0].Timestamp).Minutes()
		if span < minDuration {
			return
		}
		for i := range run {
			run[i].DurationMinutes = span
		}
		filtered = append(filtered, run...)
	}

	start := 0
	for i := 1; i < len(events); i++ {
		gap := events[i].Timestamp.Sub(events[i-1].Timestamp).Minutes()
		if gap > maxGapMinutes {
			flush(events[start:i])
			start = i
		}
	}
	flush(events[start:])
	return filtered
}
