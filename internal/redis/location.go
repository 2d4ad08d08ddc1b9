package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/spatial"
)

const driverLocationKey = "drivers:locations"

// LocationStore mirrors driver positions into a Redis GEO set. It serves two
// purposes: last known positions survive a process restart, and the sorted
// geo index can back radius queries as an alternative to the registry scan.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdateLocation stores a driver's location using GEOADD.
func (s *LocationStore) UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error {
	return s.client.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// RemoveLocation drops a driver from the GEO set.
func (s *LocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	return s.client.ZRem(ctx, driverLocationKey, driverID).Err()
}

// SearchWithinRadius returns indexed drivers within radiusKm of the point,
// nearest first.
func (s *LocationStore) SearchWithinRadius(ctx context.Context, lat, lng, radiusKm float64) ([]spatial.GeoMember, error) {
	results, err := s.client.GeoRadius(ctx, driverLocationKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	members := make([]spatial.GeoMember, 0, len(results))
	for _, r := range results {
		members = append(members, spatial.GeoMember{
			DriverID:   r.Name,
			Lat:        r.Latitude,
			Lng:        r.Longitude,
			DistanceKm: r.Dist,
		})
	}

	return members, nil
}
