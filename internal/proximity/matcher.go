package proximity

import (
	"time"

	"github.com/banshee-data/proximity.report/internal/track"
)

// pointMatch pairs one sample of track A with its temporally-nearest
// sample of track B.
type pointMatch struct {
	A, B    track.GPSPoint
	TimeGap time.Duration
}

func absGap(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

// matchNearest finds, for every point of a, the point of b whose timestamp
// is closest, rejecting candidates whose gap exceeds window (the boundary
// itself is included). When two points of b are equidistant in time the
// earlier one wins, which keeps the output deterministic and identical to
// the naive reference scan.
//
// Both tracks are sorted by time, so the best b index never moves backwards
// as we walk a; one merge-style sweep is O(|a|+|b|).
func matchNearest(a, b *track.Track, window time.Duration) []pointMatch {
	if a.Len() == 0 || b.Len() == 0 {
		return nil
	}

	matches := make([]pointMatch, 0, a.Len())
	j := 0
	for i := 0; i < a.Len(); i++ {
		pa := a.Point(i)
		// Advance only while the next candidate is strictly closer: on a
		// tie the earlier point of b must win.
		for j+1 < b.Len() && absGap(b.Point(j+1).Timestamp, pa.Timestamp) < absGap(b.Point(j).Timestamp, pa.Timestamp) {
			j++
		}
		gap := absGap(b.Point(j).Timestamp, pa.Timestamp)
		if gap <= window {
			matches = append(matches, pointMatch{A: pa, B: b.Point(j), TimeGap: gap})
		}
	}
	return matches
}

// matchNearestNaive is the O(|a|·|b|) reference implementation kept as a
// test oracle for matchNearest. Same tie-break: earlier point of b wins.
func matchNearestNaive(a, b *track.Track, window time.Duration) []pointMatch {
	if a.Len() == 0 || b.Len() == 0 {
		return nil
	}

	matches := make([]pointMatch, 0, a.Len())
	for i := 0; i < a.Len(); i++ {
		pa := a.Point(i)
		best := 0
		bestGap := absGap(b.Point(0).Timestamp, pa.Timestamp)
		for j := 1; j < b.Len(); j++ {
			if gap := absGap(b.Point(j).Timestamp, pa.Timestamp); gap < bestGap {
				best = j
				bestGap = gap
			}
		}
		if bestGap <= window {
			matches = append(matches, pointMatch{A: pa, B: b.Point(best), TimeGap: bestGap})
		}
	}
	return matches
}
