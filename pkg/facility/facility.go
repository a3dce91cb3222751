// Package facility holds the domain record produced by data providers.
package facility

import "time"

// Coordinates is a WGS84 point resolved by the geocoder.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Facility is one parking facility snapshot as reported by a provider.
// Coordinates are filled in by enrichment; Geocoded marks whether the
// lookup succeeded.
type Facility struct {
	ID              string
	Provider        string
	Name            string
	Address         string
	TotalSpaces     int
	AvailableSpaces int
	Coordinates     Coordinates
	Geocoded        bool
	CapturedAt      time.Time
}
