// Package routing holds the clients for the external routing and geocoding
// capabilities the dispatch core consumes.
package routing

import (
	"context"
	"errors"

	"dispatch/internal/domain"
)

var (
	// ErrRouteNotFound is returned when the routing service cannot produce a
	// route between two reachable-looking coordinates.
	ErrRouteNotFound = errors.New("route not found")

	// ErrUnavailable is returned on transport-level routing/geocoding
	// failures. Retryable by the caller; never converted into a zero-valued
	// result.
	ErrUnavailable = errors.New("routing service unavailable")

	// ErrAddressNotFound is returned when geocoding yields no candidates.
	ErrAddressNotFound = errors.New("address not found")
)

// Route is the distance/duration answer from the routing service.
type Route struct {
	DistanceKm  float64
	DurationMin float64
}

// Router computes driving distance and duration between two coordinates.
type Router interface {
	Route(ctx context.Context, from, to domain.Coordinate) (Route, error)
}

// Place is a resolved geocoding candidate.
type Place struct {
	Description string
	Coordinate  domain.Coordinate
}

// Geocoder resolves free-text addresses to coordinates.
type Geocoder interface {
	// Resolve returns the best match for the address.
	Resolve(ctx context.Context, address string) (Place, error)

	// Suggest returns up to limit autocomplete candidates for partial input.
	Suggest(ctx context.Context, input string, limit int) ([]Place, error)
}
