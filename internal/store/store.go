// Package store is the SQLite backing store: scheduled flights, airport
// reference data, aircraft performance profiles and cargo shipments. The
// simulator loads its working set from here at startup and writes position
// updates back; the change-feed poller watches the flights and cargo tables
// for rows modified by outside systems.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xpressfeeder/opshub/internal/flight"
)

// Store wraps the SQLite handle. Safe for concurrent use; the driver
// serializes writers and WAL mode keeps readers unblocked.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and enables WAL mode.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	return &Store{db: db}, nil
}

// Init creates the schema tables.
func (s *Store) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS flights (
		callsign        TEXT PRIMARY KEY,
		origin          TEXT NOT NULL,
		destination     TEXT NOT NULL,
		schedule_std    DATETIME NOT NULL,
		schedule_sta    DATETIME NOT NULL,
		lat             REAL NOT NULL DEFAULT 0,
		lon             REAL NOT NULL DEFAULT 0,
		altitude_ft     INTEGER NOT NULL DEFAULT 0,
		groundspeed_kts INTEGER NOT NULL DEFAULT 0,
		heading_deg     INTEGER NOT NULL DEFAULT 0,
		status          TEXT NOT NULL DEFAULT 'scheduled',
		aircraft_reg    TEXT NOT NULL DEFAULT '',
		source          TEXT NOT NULL DEFAULT 'external',
		updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS airports (
		code TEXT PRIMARY KEY,
		lat  REAL NOT NULL,
		lon  REAL NOT NULL,
		name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS aircraft_profiles (
		registration     TEXT PRIMARY KEY,
		cruise_speed_kts INTEGER NOT NULL,
		cruise_alt_ft    INTEGER NOT NULL,
		climb_rate_fpm   INTEGER NOT NULL,
		descent_rate_fpm INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cargo_shipments (
		cargo_id   TEXT PRIMARY KEY,
		flight     TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'pending',
		weight_kg  REAL NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_flights_updated ON flights(updated_at);
	CREATE INDEX IF NOT EXISTS idx_flights_status ON flights(status);
	CREATE INDEX IF NOT EXISTS idx_cargo_updated ON cargo_shipments(updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- reference data ---------------------------------------------------------

// LoadAirports returns all airports keyed by code.
func (s *Store) LoadAirports() (map[string]flight.Airport, error) {
	rows, err := s.db.Query(`SELECT code, lat, lon, name FROM airports`)
	if err != nil {
		return nil, fmt.Errorf("load airports: %w", err)
	}
	defer rows.Close()

	out := make(map[string]flight.Airport)
	for rows.Next() {
		var a flight.Airport
		if err := rows.Scan(&a.Code, &a.Lat, &a.Lon, &a.Name); err != nil {
			return nil, err
		}
		out[a.Code] = a
	}
	return out, rows.Err()
}

// LoadProfiles returns all aircraft performance profiles keyed by
// registration.
func (s *Store) LoadProfiles() (map[string]flight.Profile, error) {
	rows, err := s.db.Query(
		`SELECT registration, cruise_speed_kts, cruise_alt_ft, climb_rate_fpm, descent_rate_fpm
		 FROM aircraft_profiles`,
	)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]flight.Profile)
	for rows.Next() {
		var p flight.Profile
		if err := rows.Scan(&p.Registration, &p.CruiseSpeedKts, &p.CruiseAltFt, &p.ClimbRateFpm, &p.DescentRateFpm); err != nil {
			return nil, err
		}
		out[p.Registration] = p
	}
	return out, rows.Err()
}

// --- flights ----------------------------------------------------------------

// LoadActiveFlights returns every flight not in a terminal state, for
// seeding the simulator cache.
func (s *Store) LoadActiveFlights() ([]flight.State, error) {
	rows, err := s.db.Query(
		flightColumns+` WHERE status NOT IN ('arrived', 'cancelled') ORDER BY callsign`,
	)
	if err != nil {
		return nil, fmt.Errorf("load active flights: %w", err)
	}
	return scanFlights(rows)
}

// UpsertFlight writes the full flight row, inserting or replacing by
// callsign. source records who wrote the row (flight.WriterSim or
// flight.WriterExternal) so the change feed can filter the hub's own writes.
func (s *Store) UpsertFlight(f flight.State, source string) error {
	_, err := s.db.Exec(
		`INSERT INTO flights
		 (callsign, origin, destination, schedule_std, schedule_sta,
		  lat, lon, altitude_ft, groundspeed_kts, heading_deg, status, aircraft_reg, source, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(callsign) DO UPDATE SET
		   origin = excluded.origin,
		   destination = excluded.destination,
		   schedule_std = excluded.schedule_std,
		   schedule_sta = excluded.schedule_sta,
		   lat = excluded.lat,
		   lon = excluded.lon,
		   altitude_ft = excluded.altitude_ft,
		   groundspeed_kts = excluded.groundspeed_kts,
		   heading_deg = excluded.heading_deg,
		   status = excluded.status,
		   aircraft_reg = excluded.aircraft_reg,
		   source = excluded.source,
		   updated_at = excluded.updated_at`,
		f.Callsign, f.Origin, f.Destination, f.SchedDep, f.SchedArr,
		f.Lat, f.Lon, f.AltitudeFt, f.GroundSpeedKts, f.HeadingDeg,
		string(f.Status), f.AircraftReg, source, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert flight %s: %w", f.Callsign, err)
	}
	return nil
}

// FlightsChangedSince returns flights whose updated_at is strictly after
// since, oldest change first. Rows the simulator wrote itself are excluded;
// the hub already broadcast those when it advanced the flight.
func (s *Store) FlightsChangedSince(since time.Time) ([]flight.State, error) {
	rows, err := s.db.Query(
		flightColumns+` WHERE updated_at > ? AND source <> ? ORDER BY updated_at`,
		since, flight.WriterSim,
	)
	if err != nil {
		return nil, fmt.Errorf("flights changed since: %w", err)
	}
	return scanFlights(rows)
}

const flightColumns = `SELECT callsign, origin, destination, schedule_std, schedule_sta,
	 lat, lon, altitude_ft, groundspeed_kts, heading_deg, status, aircraft_reg, updated_at
	 FROM flights`

func scanFlights(rows *sql.Rows) ([]flight.State, error) {
	defer rows.Close()
	var out []flight.State
	for rows.Next() {
		var f flight.State
		var status string
		if err := rows.Scan(
			&f.Callsign, &f.Origin, &f.Destination, &f.SchedDep, &f.SchedArr,
			&f.Lat, &f.Lon, &f.AltitudeFt, &f.GroundSpeedKts, &f.HeadingDeg,
			&status, &f.AircraftReg, &f.UpdatedAt,
		); err != nil {
			return nil, err
		}
		f.Status = flight.Status(status)
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- cargo ------------------------------------------------------------------

// Cargo is one shipment row from the change feed.
type Cargo struct {
	CargoID   string    `json:"cargo_id"`
	Flight    string    `json:"flight"`
	Status    string    `json:"status"`
	WeightKg  float64   `json:"weight_kg"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertCargo writes a shipment row, inserting or replacing by cargo ID.
func (s *Store) UpsertCargo(c Cargo) error {
	_, err := s.db.Exec(
		`INSERT INTO cargo_shipments (cargo_id, flight, status, weight_kg, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(cargo_id) DO UPDATE SET
		   flight = excluded.flight,
		   status = excluded.status,
		   weight_kg = excluded.weight_kg,
		   updated_at = excluded.updated_at`,
		c.CargoID, c.Flight, c.Status, c.WeightKg, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert cargo %s: %w", c.CargoID, err)
	}
	return nil
}

// CargoChangedSince returns shipments whose updated_at is strictly after
// since, oldest change first.
func (s *Store) CargoChangedSince(since time.Time) ([]Cargo, error) {
	rows, err := s.db.Query(
		`SELECT cargo_id, flight, status, weight_kg, updated_at
		 FROM cargo_shipments WHERE updated_at > ? ORDER BY updated_at`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("cargo changed since: %w", err)
	}
	defer rows.Close()

	var out []Cargo
	for rows.Next() {
		var c Cargo
		if err := rows.Scan(&c.CargoID, &c.Flight, &c.Status, &c.WeightKg, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
