// Package flight holds the canonical in-memory representations of flight
// state and the static reference data the simulator needs: airports and
// aircraft performance profiles. These types are shared by the simulator,
// the backing store, and the router.
package flight

import "time"

// Status is the lifecycle state of a flight.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusDeparted  Status = "departed"
	StatusAirborne  Status = "airborne"
	StatusArrived   Status = "arrived"
	StatusCancelled Status = "cancelled"
)

// Writer tags stored with each flight row. The change-feed poller uses them
// to tell the simulator's own persists apart from rows modified by outside
// systems, so the hub never re-broadcasts its own tick output.
const (
	WriterSim      = "sim"
	WriterExternal = "external"
)

// ValidStatus reports whether s is one of the fixed status values.
func ValidStatus(s Status) bool {
	switch s {
	case StatusScheduled, StatusDeparted, StatusAirborne, StatusArrived, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a state the simulator never advances out of.
func (s Status) Terminal() bool {
	return s == StatusArrived || s == StatusCancelled
}

// State is one scheduled flight currently cached for simulation or broadcast.
// Callsign is the unique key.
type State struct {
	Callsign    string    `json:"callsign"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	SchedDep    time.Time `json:"schedule_std"`
	SchedArr    time.Time `json:"schedule_sta"`

	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	AltitudeFt     int     `json:"altitude"`
	GroundSpeedKts int     `json:"groundspeed"`
	HeadingDeg     int     `json:"heading"`

	Status      Status    `json:"status"`
	AircraftReg string    `json:"aircraftreg"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Airport is static reference data, loaded once at startup.
type Airport struct {
	Code string  `json:"code"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name"`
}

// Profile captures the performance assumptions for one airframe, keyed by
// registration. Registrations without a stored profile fall back to
// DefaultProfile.
type Profile struct {
	Registration   string `json:"registration"`
	CruiseSpeedKts int    `json:"cruise_speed_kts"`
	CruiseAltFt    int    `json:"cruise_alt_ft"`
	ClimbRateFpm   int    `json:"climb_rate_fpm"`
	DescentRateFpm int    `json:"descent_rate_fpm"`
}

// DefaultProfile is used for unknown registrations: a generic regional
// turboprop.
var DefaultProfile = Profile{
	CruiseSpeedKts: 280,
	CruiseAltFt:    24000,
	ClimbRateFpm:   1500,
	DescentRateFpm: 1200,
}

// PushUpdate is a sanitized privileged push, produced by the authentication
// gate's validator and merged into flight state by the simulator.
type PushUpdate struct {
	Callsign       string
	Lat            float64
	Lon            float64
	Status         Status
	AltitudeFt     int
	GroundSpeedKts int
	HeadingDeg     int
	Origin         string
	Destination    string
	AircraftReg    string
}
