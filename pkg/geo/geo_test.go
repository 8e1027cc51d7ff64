package geo

import (
	"math"
	"testing"
)

func approx(t *testing.T, got, want, tol float64, what string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.3f, want %.3f (tol %.3f)", what, got, want, tol)
	}
}

func TestDistNM_KnownRoute(t *testing.T) {
	// JFK -> LHR is roughly 3000 NM.
	d := DistNM(40.6413, -73.7781, 51.4700, -0.4543)
	approx(t, d, 2990, 60, "JFK-LHR distance")
}

func TestDistNM_ZeroForSamePoint(t *testing.T) {
	if d := DistNM(45, 45, 45, 45); d != 0 {
		t.Errorf("same point: got %v, want 0", d)
	}
}

func TestDistNM_DatelineCrossing(t *testing.T) {
	// 2 degrees of longitude at the equator, straddling the antimeridian.
	d := DistNM(0, 179, 0, -179)
	approx(t, d, 120, 1, "antimeridian distance")
}

func TestInitialBearing_Cardinal(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"due north", 0, 0, 10, 0, 0},
		{"due east", 0, 0, 0, 10, 90},
		{"due south", 10, 0, 0, 0, 180},
		{"due west", 0, 10, 0, 0, 270},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			approx(t, InitialBearing(tc.lat1, tc.lon1, tc.lat2, tc.lon2), tc.want, 0.01, "bearing")
		})
	}
}

func TestIntermediate_Endpoints(t *testing.T) {
	lat, lon := Intermediate(61.1744, -149.9963, 39.0488, -84.6678, 0)
	approx(t, lat, 61.1744, 1e-6, "f=0 lat")
	approx(t, lon, -149.9963, 1e-6, "f=0 lon")

	lat, lon = Intermediate(61.1744, -149.9963, 39.0488, -84.6678, 1)
	approx(t, lat, 39.0488, 1e-6, "f=1 lat")
	approx(t, lon, -84.6678, 1e-6, "f=1 lon")
}

func TestIntermediate_TracksGreatCircle(t *testing.T) {
	// ANC -> CVG, a route whose rhumb line diverges well off the great
	// circle.
	o := [2]float64{61.1744, -149.9963}
	d := [2]float64{39.0488, -84.6678}
	total := DistNM(o[0], o[1], d[0], d[1])

	for _, f := range []float64{0.25, 0.5, 0.75, 0.99} {
		lat, lon := Intermediate(o[0], o[1], d[0], d[1], f)
		flown := DistNM(o[0], o[1], lat, lon)
		remaining := DistNM(lat, lon, d[0], d[1])
		approx(t, flown, total*f, total*0.001, "distance flown")
		approx(t, flown+remaining, total, total*0.001, "on-path check")
	}
}

func TestIntermediate_SamePoint(t *testing.T) {
	lat, lon := Intermediate(45, 45, 45, 45, 0.5)
	if lat != 45 || lon != 45 {
		t.Errorf("coincident endpoints: got %v,%v", lat, lon)
	}
}

func TestNormalizeHeading(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-90, 270},
		{0, 0},
		{359.5, 359.5},
		{360, 0},
		{725, 5},
	}
	for _, tc := range cases {
		if got := NormalizeHeading(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("NormalizeHeading(%v): got %v, want %v", tc.in, got, tc.want)
		}
	}
}
