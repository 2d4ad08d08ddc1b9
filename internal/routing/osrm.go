package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dispatch/internal/domain"
)

// OSRMRouter performs route lookups against an OSRM HTTP server.
type OSRMRouter struct {
	baseURL string
	client  *http.Client
}

// NewOSRMRouter creates a router against the given OSRM base URL
// (e.g. https://router.project-osrm.org).
func NewOSRMRouter(baseURL string, timeout time.Duration) *OSRMRouter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OSRMRouter{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// Route implements Router. OSRM reports distance in meters and duration in
// seconds; they are converted to kilometers and minutes here.
func (o *OSRMRouter) Route(ctx context.Context, from, to domain.Coordinate) (Route, error) {
	// OSRM expects lon,lat ordering.
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=false",
		o.baseURL, from.Lng, from.Lat, to.Lng, to.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Route{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, ErrRouteNotFound
	}

	return Route{
		DistanceKm:  out.Routes[0].Distance / 1000.0,
		DurationMin: out.Routes[0].Duration / 60.0,
	}, nil
}

var _ Router = (*OSRMRouter)(nil)
