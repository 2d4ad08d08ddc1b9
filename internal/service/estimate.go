package service

import (
	"context"
	"strings"

	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/routing"
)

// PlaceInput identifies a location either by coordinate or by free-text
// address. When Address is set it takes precedence and is geocoded.
type PlaceInput struct {
	Address    string
	Coordinate domain.Coordinate
	HasCoord   bool
}

// EstimateService produces fare quotes and place suggestions.
type EstimateService struct {
	router   routing.Router
	geocoder routing.Geocoder
	pricing  config.PricingConfig
}

// NewEstimateService creates an EstimateService.
func NewEstimateService(router routing.Router, geocoder routing.Geocoder, pricing config.PricingConfig) *EstimateService {
	return &EstimateService{router: router, geocoder: geocoder, pricing: pricing}
}

// ResolvePlace turns a PlaceInput into a coordinate, geocoding when needed.
func (s *EstimateService) ResolvePlace(ctx context.Context, in PlaceInput) (domain.Coordinate, error) {
	if addr := strings.TrimSpace(in.Address); addr != "" {
		place, err := s.geocoder.Resolve(ctx, addr)
		if err != nil {
			return domain.Coordinate{}, err
		}
		return place.Coordinate, nil
	}
	if !in.HasCoord || !in.Coordinate.Valid() {
		return domain.Coordinate{}, ErrInvalidLocation
	}
	return in.Coordinate, nil
}

// Quote computes a fare quote for a trip between two places. Any routing
// or geocoding failure propagates as an error; a quote is never fabricated
// from partial data.
func (s *EstimateService) Quote(ctx context.Context, origin, destination PlaceInput, vehicleType domain.VehicleType) (domain.FareQuote, error) {
	from, err := s.ResolvePlace(ctx, origin)
	if err != nil {
		return domain.FareQuote{}, err
	}
	to, err := s.ResolvePlace(ctx, destination)
	if err != nil {
		return domain.FareQuote{}, err
	}
	return s.QuoteCoordinates(ctx, from, to, vehicleType)
}

// QuoteCoordinates computes a fare quote between two already-resolved
// coordinates.
func (s *EstimateService) QuoteCoordinates(ctx context.Context, from, to domain.Coordinate, vehicleType domain.VehicleType) (domain.FareQuote, error) {
	rate, err := s.rateFor(vehicleType)
	if err != nil {
		return domain.FareQuote{}, err
	}

	route, err := s.router.Route(ctx, from, to)
	if err != nil {
		return domain.FareQuote{}, err
	}

	price := rate.Base + rate.PerKm*route.DistanceKm + rate.PerMin*route.DurationMin
	if price < rate.Minimum {
		price = rate.Minimum
	}

	return domain.FareQuote{
		DistanceKm:  route.DistanceKm,
		DurationMin: route.DurationMin,
		VehicleType: vehicleType,
		Price:       price,
	}, nil
}

// Suggest returns autocomplete candidates for partial address input.
func (s *EstimateService) Suggest(ctx context.Context, input string, limit int) ([]routing.Place, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	return s.geocoder.Suggest(ctx, input, limit)
}

func (s *EstimateService) rateFor(vt domain.VehicleType) (config.VehicleRate, error) {
	switch vt {
	case domain.VehicleTypeCar:
		return s.pricing.Car, nil
	case domain.VehicleTypeMoto:
		return s.pricing.Moto, nil
	case domain.VehicleTypeAuto:
		return s.pricing.Auto, nil
	default:
		return config.VehicleRate{}, ErrInvalidVehicleType
	}
}
