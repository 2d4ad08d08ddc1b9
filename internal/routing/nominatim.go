package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"dispatch/internal/domain"
)

// NominatimGeocoder resolves addresses via a Nominatim-compatible search API.
type NominatimGeocoder struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewNominatimGeocoder creates a geocoder against the given base URL
// (e.g. https://nominatim.openstreetmap.org). Nominatim's usage policy
// requires an identifying User-Agent.
func NewNominatimGeocoder(baseURL, userAgent string, timeout time.Duration) *NominatimGeocoder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NominatimGeocoder{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

type nominatimResult struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Resolve implements Geocoder.
func (g *NominatimGeocoder) Resolve(ctx context.Context, address string) (Place, error) {
	results, err := g.search(ctx, address, 1)
	if err != nil {
		return Place{}, err
	}
	if len(results) == 0 {
		return Place{}, ErrAddressNotFound
	}
	return results[0], nil
}

// Suggest implements Geocoder. An empty result is not an error here; the
// caller is presenting autocomplete candidates, not resolving a commitment.
func (g *NominatimGeocoder) Suggest(ctx context.Context, input string, limit int) ([]Place, error) {
	if limit <= 0 {
		limit = 5
	}
	return g.search(ctx, input, limit)
}

func (g *NominatimGeocoder) search(ctx context.Context, query string, limit int) ([]Place, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var raw []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	places := make([]Place, 0, len(raw))
	for _, r := range raw {
		lat, errLat := strconv.ParseFloat(r.Lat, 64)
		lng, errLng := strconv.ParseFloat(r.Lon, 64)
		if errLat != nil || errLng != nil {
			continue
		}
		places = append(places, Place{
			Description: r.DisplayName,
			Coordinate:  domain.Coordinate{Lat: lat, Lng: lng},
		})
	}
	return places, nil
}

var _ Geocoder = (*NominatimGeocoder)(nil)
