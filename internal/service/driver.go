package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/presence"
	"dispatch/internal/repository"
)

// DriverService handles driver account operations and presence onboarding.
type DriverService struct {
	registry   *presence.Registry
	driverRepo repository.DriverRepository
}

// NewDriverService creates a new DriverService.
func NewDriverService(registry *presence.Registry, driverRepo repository.DriverRepository) *DriverService {
	return &DriverService{registry: registry, driverRepo: driverRepo}
}

// RegisterDriverRequest contains the parameters for registering a driver.
type RegisterDriverRequest struct {
	Name    string
	Phone   string
	Vehicle domain.VehicleType
}

// Register creates a driver account and a presence record for it. The
// driver starts OFFLINE; they join the candidate pool once they connect
// and report a location.
func (s *DriverService) Register(ctx context.Context, req RegisterDriverRequest) (*domain.Driver, error) {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Phone) == "" {
		return nil, ErrInvalidDriverID
	}
	switch req.Vehicle {
	case domain.VehicleTypeCar, domain.VehicleTypeMoto, domain.VehicleTypeAuto:
	default:
		return nil, ErrInvalidVehicleType
	}

	if existing, err := s.driverRepo.GetByPhone(ctx, req.Phone); err == nil && existing != nil {
		return nil, ErrDriverAlreadyExists
	}

	driver := &domain.Driver{
		ID:      uuid.New().String(),
		Name:    req.Name,
		Phone:   req.Phone,
		Vehicle: req.Vehicle,
		Status:  domain.DriverStatusOffline,
	}
	if err := s.driverRepo.Create(ctx, driver); err != nil {
		return nil, err
	}

	s.registry.Register(driver.ID)
	return driver, nil
}

// Get retrieves a driver account by ID.
func (s *DriverService) Get(ctx context.Context, driverID string) (*domain.Driver, error) {
	if strings.TrimSpace(driverID) == "" {
		return nil, ErrInvalidDriverID
	}
	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrDriverNotFound
		}
		return nil, err
	}
	return driver, nil
}

// UpdateLocationRequest contains the parameters for a driver location report.
type UpdateLocationRequest struct {
	DriverID   string
	Lat        float64
	Lng        float64
	ReportedAt time.Time
}

// UpdateLocation records a driver location report in the presence registry
// and marks the driver ONLINE in storage.
func (s *DriverService) UpdateLocation(ctx context.Context, req UpdateLocationRequest) error {
	if req.DriverID == "" {
		return ErrInvalidDriverID
	}
	coord := domain.Coordinate{Lat: req.Lat, Lng: req.Lng}
	if !coord.Valid() {
		return ErrInvalidLocation
	}
	ts := req.ReportedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	if _, err := s.registry.UpdateLocation(ctx, req.DriverID, coord, ts); err != nil {
		if err == presence.ErrUnknownDriver {
			return ErrDriverNotFound
		}
		return err
	}

	err := s.driverRepo.UpdateStatus(ctx, req.DriverID, domain.DriverStatusOnline)
	if err != nil && err != repository.ErrNotFound {
		return err
	}
	return nil
}

// SetDriverOffline removes a driver from the candidate pool and marks them
// OFFLINE in storage.
func (s *DriverService) SetDriverOffline(ctx context.Context, driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}

	if err := s.registry.ClearConnection(ctx, driverID); err != nil {
		if err == presence.ErrUnknownDriver {
			return ErrDriverNotFound
		}
		return err
	}

	return s.driverRepo.UpdateStatus(ctx, driverID, domain.DriverStatusOffline)
}

// EnsurePresence creates a presence record for an already stored driver.
// Used at startup to rehydrate the registry from the driver table.
func (s *DriverService) EnsurePresence(ctx context.Context) error {
	drivers, err := s.driverRepo.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, d := range drivers {
		s.registry.Register(d.ID)
	}
	return nil
}
