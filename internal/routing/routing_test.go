package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dispatch/internal/domain"
)

func TestOSRMRouter_ParsesRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// 12.5 km, 18 minutes.
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":12500,"duration":1080}]}`))
	}))
	defer srv.Close()

	r := NewOSRMRouter(srv.URL, time.Second)
	route, err := r.Route(context.Background(), domain.Coordinate{Lat: 10, Lng: 20}, domain.Coordinate{Lat: 10.5, Lng: 20.5})
	if err != nil {
		t.Fatal(err)
	}
	if route.DistanceKm != 12.5 {
		t.Errorf("distance: got %f, want 12.5", route.DistanceKm)
	}
	if route.DurationMin != 18 {
		t.Errorf("duration: got %f, want 18", route.DurationMin)
	}
}

func TestOSRMRouter_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	r := NewOSRMRouter(srv.URL, time.Second)
	_, err := r.Route(context.Background(), domain.Coordinate{}, domain.Coordinate{Lat: 1, Lng: 1})
	if !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("expected ErrRouteNotFound, got %v", err)
	}
}

func TestOSRMRouter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewOSRMRouter(srv.URL, time.Second)
	_, err := r.Route(context.Background(), domain.Coordinate{}, domain.Coordinate{Lat: 1, Lng: 1})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNominatimGeocoder_ResolveFirstMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			t.Error("missing q parameter")
		}
		w.Write([]byte(`[{"display_name":"MG Road, Bengaluru","lat":"12.9757","lon":"77.6050"}]`))
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL, "dispatch-test/1.0", time.Second)
	place, err := g.Resolve(context.Background(), "MG Road")
	if err != nil {
		t.Fatal(err)
	}
	if place.Coordinate.Lat != 12.9757 || place.Coordinate.Lng != 77.6050 {
		t.Errorf("unexpected coordinate: %+v", place.Coordinate)
	}
}

func TestNominatimGeocoder_AddressNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL, "dispatch-test/1.0", time.Second)
	_, err := g.Resolve(context.Background(), "nowhere at all")
	if !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound, got %v", err)
	}
}

func TestNominatimGeocoder_SuggestEmptyIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL, "dispatch-test/1.0", time.Second)
	places, err := g.Suggest(context.Background(), "mg", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(places) != 0 {
		t.Fatalf("expected empty suggestions, got %d", len(places))
	}
}
