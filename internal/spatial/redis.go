package spatial

import (
	"context"

	"dispatch/internal/domain"
	"dispatch/internal/presence"
)

// GeoSearcher is the subset of the Redis location store used by RedisEngine.
type GeoSearcher interface {
	SearchWithinRadius(ctx context.Context, lat, lng, radiusKm float64) ([]GeoMember, error)
}

// GeoMember is one indexed driver position returned by a geo search.
type GeoMember struct {
	DriverID   string
	Lat        float64
	Lng        float64
	DistanceKm float64
}

// RedisEngine answers radius queries from a Redis GEO index instead of a full
// registry scan. The index only narrows the candidate set; eligibility
// (available, not busy, not excluded) is still decided against the registry,
// so results are functionally identical to RegistryEngine.
type RedisEngine struct {
	searcher GeoSearcher
	registry *presence.Registry
}

// NewRedisEngine creates an Engine backed by a Redis GEO index.
func NewRedisEngine(searcher GeoSearcher, registry *presence.Registry) *RedisEngine {
	return &RedisEngine{searcher: searcher, registry: registry}
}

// FindWithinRadius implements Engine.
func (e *RedisEngine) FindWithinRadius(ctx context.Context, center domain.Coordinate, radiusKm float64, excluding map[string]bool) ([]Candidate, error) {
	if radiusKm <= 0 {
		return nil, nil
	}

	members, err := e.searcher.SearchWithinRadius(ctx, center.Lat, center.Lng, radiusKm)
	if err != nil {
		return nil, err
	}

	out := []Candidate{}
	for _, m := range members {
		if excluding[m.DriverID] {
			continue
		}
		p, err := e.registry.Snapshot(m.DriverID)
		if err != nil || !p.Available || p.Busy || !p.HasLocation {
			continue
		}
		out = append(out, Candidate{
			DriverID:   m.DriverID,
			Coordinate: domain.Coordinate{Lat: m.Lat, Lng: m.Lng},
			DistanceKm: m.DistanceKm,
		})
	}
	sortCandidates(out)
	return out, nil
}

var _ Engine = (*RedisEngine)(nil)
