package sim

import (
	"math"
	"time"

	"github.com/xpressfeeder/opshub/internal/flight"
	"github.com/xpressfeeder/opshub/pkg/geo"
)

const (
	climbEnd     = 0.15
	descentStart = 0.85
	arrivalAt    = 0.99

	initialAltFt   = 1000
	cruiseJitterFt = 200 // bounded altitude wander at cruise
	windJitterKts  = 15  // bounded wind component on ground speed

	// True airspeed gain per 1000 ft of altitude.
	tasPerThousandFt = 0.02
)

// advance moves one airborne flight along its route for the current tick.
// Caller holds s.mu.
func (s *Simulator) advance(f *flight.State, origin, dest flight.Airport, now time.Time) {
	elapsed := now.Sub(f.SchedDep).Seconds()
	total := math.Max(1, f.SchedArr.Sub(f.SchedDep).Seconds())
	raw := elapsed / total

	if raw >= arrivalAt {
		f.Status = flight.StatusArrived
		f.Lat = dest.Lat
		f.Lon = dest.Lon
		f.AltitudeFt = 0
		f.GroundSpeedKts = 0
		f.HeadingDeg = 0
		f.UpdatedAt = now
		return
	}

	p := math.Max(0, math.Min(raw, arrivalAt))

	f.Lat, f.Lon = geo.Intermediate(origin.Lat, origin.Lon, dest.Lat, dest.Lon, p)
	profile := s.profileFor(f.AircraftReg)
	f.AltitudeFt = s.altitudeAt(p, profile)

	tas := float64(profile.CruiseSpeedKts) * (1 + tasPerThousandFt*float64(f.AltitudeFt)/1000)
	f.GroundSpeedKts = int(tas) + s.rng.Intn(2*windJitterKts+1) - windJitterKts
	f.HeadingDeg = int(math.Round(geo.InitialBearing(f.Lat, f.Lon, dest.Lat, dest.Lon)))
	f.UpdatedAt = now
}

// altitudeAt returns the altitude for progress p: linear climb from the
// initial altitude, cruise with bounded jitter, linear descent to zero.
// Caller holds s.mu (the rng is not goroutine-safe).
func (s *Simulator) altitudeAt(p float64, profile flight.Profile) int {
	cruise := float64(profile.CruiseAltFt)
	switch {
	case p < climbEnd:
		return initialAltFt + int((cruise-initialAltFt)*(p/climbEnd))
	case p > descentStart:
		alt := cruise * (1 - p) / (1 - descentStart)
		return int(math.Max(0, alt))
	default:
		return profile.CruiseAltFt + s.rng.Intn(2*cruiseJitterFt+1) - cruiseJitterFt
	}
}

// profileFor returns the stored performance profile for a registration, or
// the default for unknown tails.
func (s *Simulator) profileFor(reg string) flight.Profile {
	if p, ok := s.profiles[reg]; ok {
		return p
	}
	return flight.DefaultProfile
}
