package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestHaversineSymmetry(t *testing.T) {
	cases := [][4]float64{
		{51.5074, -0.1278, 48.8566, 2.3522}, // London-Paris
		{-33.8688, 151.2093, 35.6762, 139.6503},
		{0, 0, 0, 180},
		{89.9, 10, -89.9, -170},
	}
	for _, c := range cases {
		ab := HaversineKm(c[0], c[1], c[2], c[3])
		ba := HaversineKm(c[2], c[3], c[0], c[1])
		if ab != ba {
			t.Errorf("HaversineKm not symmetric: d(A,B)=%v d(B,A)=%v for %v", ab, ba, c)
		}
		if ab < 0 {
			t.Errorf("negative distance %v for %v", ab, c)
		}
	}
}

func TestHaversineIdenticalPoints(t *testing.T) {
	d := HaversineKm(45.0, 9.0, 45.0, 9.0)
	if math.Abs(d) > 1e-9 {
		t.Errorf("d(A,A) = %v, want 0 within 1e-9 km", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// London to Paris is ~343 km over the mean-radius sphere.
	d := HaversineKm(51.5074, -0.1278, 48.8566, 2.3522)
	if d < 330 || d > 355 {
		t.Errorf("London-Paris distance %v km, want ~343 km", d)
	}
}
