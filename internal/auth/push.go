package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xpressfeeder/opshub/internal/flight"
)

// maxCallsignLen bounds the callsign field of a privileged push.
const maxCallsignLen = 16

// ErrInvalidPush marks a privileged push payload that failed validation.
// The payload is rejected outright; nothing is partially applied.
var ErrInvalidPush = errors.New("invalid flight push")

// SanitizePush validates the data object of a flight_push message and
// returns the cleaned update.
//
// Rules: callsign is required and truncated to a bounded length; lat/lon are
// required and range-checked (rejected, not clamped); status must be one of
// the fixed enum values; the optional numeric fields are coerced to integers
// with default 0.
func SanitizePush(data map[string]any) (flight.PushUpdate, error) {
	var p flight.PushUpdate

	callsign := strings.TrimSpace(asString(data["callsign"]))
	if callsign == "" {
		return p, fmt.Errorf("%w: callsign required", ErrInvalidPush)
	}
	if len(callsign) > maxCallsignLen {
		callsign = callsign[:maxCallsignLen]
	}

	lat, ok := asFloat(data["lat"])
	if !ok {
		return p, fmt.Errorf("%w: lat required", ErrInvalidPush)
	}
	if lat < -90 || lat > 90 {
		return p, fmt.Errorf("%w: lat %v out of range [-90, 90]", ErrInvalidPush, lat)
	}

	lon, ok := asFloat(data["lon"])
	if !ok {
		return p, fmt.Errorf("%w: lon required", ErrInvalidPush)
	}
	if lon < -180 || lon > 180 {
		return p, fmt.Errorf("%w: lon %v out of range [-180, 180]", ErrInvalidPush, lon)
	}

	status := flight.Status(strings.ToLower(strings.TrimSpace(asString(data["status"]))))
	if !flight.ValidStatus(status) {
		return p, fmt.Errorf("%w: unknown status %q", ErrInvalidPush, status)
	}

	p = flight.PushUpdate{
		Callsign:       callsign,
		Lat:            lat,
		Lon:            lon,
		Status:         status,
		AltitudeFt:     asInt(data["altitude"]),
		GroundSpeedKts: asInt(data["groundspeed"]),
		HeadingDeg:     asInt(data["heading"]),
		Origin:         strings.TrimSpace(asString(data["origin"])),
		Destination:    strings.TrimSpace(asString(data["destination"])),
		AircraftReg:    strings.TrimSpace(asString(data["aircraftreg"])),
	}
	return p, nil
}

// --- JSON value coercion ----------------------------------------------------

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asFloat accepts JSON numbers and numeric strings.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asInt coerces a JSON value to an integer, defaulting to 0.
func asInt(v any) int {
	f, ok := asFloat(v)
	if !ok {
		return 0
	}
	return int(f)
}
