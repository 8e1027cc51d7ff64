package store

import "github.com/xpressfeeder/opshub/internal/flight"

// defaultAirports is the freighter network used until an external system
// populates the airports table.
var defaultAirports = []flight.Airport{
	{Code: "ANC", Lat: 61.1744, Lon: -149.9963, Name: "Ted Stevens Anchorage Intl"},
	{Code: "CVG", Lat: 39.0488, Lon: -84.6678, Name: "Cincinnati/Northern Kentucky Intl"},
	{Code: "MEM", Lat: 35.0424, Lon: -89.9767, Name: "Memphis Intl"},
	{Code: "SDF", Lat: 38.1744, Lon: -85.7360, Name: "Louisville Muhammad Ali Intl"},
	{Code: "JFK", Lat: 40.6413, Lon: -73.7781, Name: "John F. Kennedy Intl"},
	{Code: "LAX", Lat: 33.9416, Lon: -118.4085, Name: "Los Angeles Intl"},
	{Code: "ORD", Lat: 41.9742, Lon: -87.9073, Name: "Chicago O'Hare Intl"},
	{Code: "MIA", Lat: 25.7959, Lon: -80.2870, Name: "Miami Intl"},
	{Code: "CGN", Lat: 50.8659, Lon: 7.1427, Name: "Cologne Bonn"},
	{Code: "LEJ", Lat: 51.4324, Lon: 12.2416, Name: "Leipzig/Halle"},
	{Code: "HKG", Lat: 22.3080, Lon: 113.9185, Name: "Hong Kong Intl"},
	{Code: "NRT", Lat: 35.7720, Lon: 140.3929, Name: "Narita Intl"},
	{Code: "PVG", Lat: 31.1443, Lon: 121.8083, Name: "Shanghai Pudong Intl"},
	{Code: "DXB", Lat: 25.2532, Lon: 55.3657, Name: "Dubai Intl"},
	{Code: "SIN", Lat: 1.3644, Lon: 103.9915, Name: "Singapore Changi"},
}

// SeedReference inserts the default airport set without overwriting rows an
// operator has already loaded.
func (s *Store) SeedReference() error {
	for _, a := range defaultAirports {
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO airports (code, lat, lon, name) VALUES (?, ?, ?, ?)`,
			a.Code, a.Lat, a.Lon, a.Name,
		); err != nil {
			return err
		}
	}
	return nil
}
