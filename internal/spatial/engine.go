// Package spatial answers radius queries over live driver presence.
package spatial

import (
	"context"
	"sort"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/presence"
)

// Candidate is a driver eligible for a ride offer, with its distance from the
// query center.
type Candidate struct {
	DriverID   string
	Coordinate domain.Coordinate
	DistanceKm float64
}

// Engine finds available, non-busy drivers within a radius of a point.
// Results are ordered ascending by distance with driver ID as a stable
// tie-break; the radius boundary is inclusive. A non-positive radius yields
// an empty result. Implementations never mutate the registry.
type Engine interface {
	FindWithinRadius(ctx context.Context, center domain.Coordinate, radiusKm float64, excluding map[string]bool) ([]Candidate, error)
}

// RegistryEngine is the baseline scan implementation: filter the registry's
// available set, compute the great-circle distance to each, keep those inside
// the radius. It defines the correctness contract any indexed implementation
// must match.
type RegistryEngine struct {
	registry *presence.Registry
}

// NewRegistryEngine creates an Engine backed by a presence registry scan.
func NewRegistryEngine(r *presence.Registry) *RegistryEngine {
	return &RegistryEngine{registry: r}
}

// FindWithinRadius implements Engine.
func (e *RegistryEngine) FindWithinRadius(ctx context.Context, center domain.Coordinate, radiusKm float64, excluding map[string]bool) ([]Candidate, error) {
	if radiusKm <= 0 {
		return nil, nil
	}

	out := []Candidate{}
	for _, p := range e.registry.AllAvailable() {
		if !p.HasLocation || excluding[p.DriverID] {
			continue
		}
		d := geo.DistanceKm(center, p.Coordinate)
		if d <= radiusKm {
			out = append(out, Candidate{DriverID: p.DriverID, Coordinate: p.Coordinate, DistanceKm: d})
		}
	}
	sortCandidates(out)
	return out, nil
}

// sortCandidates orders by distance ascending, then driver ID, so that
// nearest-first is deterministic for equal distances.
func sortCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].DistanceKm != cands[j].DistanceKm {
			return cands[i].DistanceKm < cands[j].DistanceKm
		}
		return cands[i].DriverID < cands[j].DriverID
	})
}

var _ Engine = (*RegistryEngine)(nil)
