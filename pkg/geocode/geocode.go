// Package geocode resolves facility addresses to coordinates.
//
// Lookups go to an external coordinate API and are cached in Redis: facility
// addresses are stable, so a warm cache removes most geocoding traffic from
// scheduled runs. A lookup failure affects only the record that needed it.
package geocode

import (
	"context"
	"errors"

	"github.com/metrapark/facility-sync/pkg/facility"
)

// ErrNoResult indicates the coordinate API had no match for the address.
var ErrNoResult = errors.New("no geocoding result")

// Geocoder resolves a raw address to coordinates.
type Geocoder interface {
	Lookup(ctx context.Context, address string) (facility.Coordinates, error)
}
