// Package geo provides the spherical-earth helpers used by the flight
// simulator: great-circle distance, initial bearing, intermediate points
// along a route, and heading normalization. All angles are degrees,
// distances nautical miles.
package geo

import "math"

const earthRadiusNM = 3440.06

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(rad float64) float64 { return rad * 180 / math.Pi }

// DistNM returns the great-circle distance between two points in nautical
// miles using the haversine formula.
func DistNM(lat1, lon1, lat2, lon2 float64) float64 {
	r1, r2 := rad(lat1), rad(lat2)

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	// Handle dateline crossing.
	for dLon > math.Pi {
		dLon -= 2 * math.Pi
	}
	for dLon < -math.Pi {
		dLon += 2 * math.Pi
	}

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(r1)*math.Cos(r2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadiusNM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// InitialBearing returns the great-circle initial bearing from point 1 to
// point 2, normalized to [0, 360).
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	r1, r2 := rad(lat1), rad(lat2)
	dLon := rad(lon2 - lon1)

	y := math.Sin(dLon) * math.Cos(r2)
	x := math.Cos(r1)*math.Sin(r2) - math.Sin(r1)*math.Cos(r2)*math.Cos(dLon)

	return NormalizeHeading(deg(math.Atan2(y, x)))
}

// Intermediate returns the point at fraction f along the great circle from
// point 1 to point 2. f is clamped to [0, 1]; coincident endpoints return
// point 1.
func Intermediate(lat1, lon1, lat2, lon2, f float64) (lat, lon float64) {
	f = math.Max(0, math.Min(f, 1))

	delta := DistNM(lat1, lon1, lat2, lon2) / earthRadiusNM
	if delta < 1e-9 {
		return lat1, lon1
	}

	a := math.Sin((1-f)*delta) / math.Sin(delta)
	b := math.Sin(f*delta) / math.Sin(delta)

	r1, o1 := rad(lat1), rad(lon1)
	r2, o2 := rad(lat2), rad(lon2)
	x := a*math.Cos(r1)*math.Cos(o1) + b*math.Cos(r2)*math.Cos(o2)
	y := a*math.Cos(r1)*math.Sin(o1) + b*math.Cos(r2)*math.Sin(o2)
	z := a*math.Sin(r1) + b*math.Sin(r2)

	return deg(math.Atan2(z, math.Sqrt(x*x+y*y))), deg(math.Atan2(y, x))
}

// NormalizeHeading wraps a heading in degrees into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}
