package proximity

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

func emptyStatistics() Statistics {
	return Statistics{
		MostActivePair: "None",
		EventsByEntity: make(map[string]int),
		EventsByHour:   make(map[int]int),
	}
}

// ComputeStatistics reduces an event list to a Statistics summary in one
// pass. Tie-breaks are deterministic: the most active pair is the first in
// sorted-pair order among those with the top count, and the peak hour is
// the smallest hour among those with the top count. An empty input yields a
// zeroed struct, not an error.
func ComputeStatistics(events []ProximityEvent, minDurationMinutes float64, durationFiltered bool) Statistics {
	s := emptyStatistics()
	if len(events) == 0 {
		return s
	}

	s.TotalEvents = len(events)

	distances := make([]float64, len(events))
	pairCounts := make(map[string]int)
	var durationSumMinutes float64

	for i, e := range events {
		distances[i] = e.DistanceKm
		pairCounts[e.PairKey()]++
		s.EventsByEntity[e.EntityA]++
		s.EventsByEntity[e.EntityB]++
		s.EventsByHour[e.Timestamp.UTC().Hour()]++
		durationSumMinutes += e.DurationMinutes
	}
	s.UniquePairs = len(pairCounts)

	sort.Float64s(distances)
	s.ClosestDistanceKm = distances[0]
	s.AverageDistanceKm = stat.Mean(distances, nil)
	s.P50DistanceKm = stat.Quantile(0.50, stat.Empirical, distances, nil)
	s.P85DistanceKm = stat.Quantile(0.85, stat.Empirical, distances, nil)
	s.P95DistanceKm = stat.Quantile(0.95, stat.Empirical, distances, nil)

	// Most active pair; ties resolve to the first pair in sorted order.
	pairKeys := make([]string, 0, len(pairCounts))
	for k := range pairCounts {
		pairKeys = append(pairKeys, k)
	}
	sort.Strings(pairKeys)
	best := -1
	for _, k := range pairKeys {
		if pairCounts[k] > best {
			best = pairCounts[k]
			s.MostActivePair = k
		}
	}

	// Peak hour; ties resolve to the smallest hour.
	bestHour := -1
	for hour := 0; hour < 24; hour++ {
		if count, ok := s.EventsByHour[hour]; ok && count > bestHour {
			bestHour = count
			s.PeakActivityHour = hour
		}
	}

	if durationFiltered {
		s.TotalDurationHours = durationSumMinutes / 60
	} else {
		// No per-event durations exist without the filter; fall back to the
		// historical estimate of one minimum duration per event.
		s.TotalDurationHours = float64(len(events)) * minDurationMinutes / 60
	}
	return s
}
