package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/gateway"
	"dispatch/internal/geo"
	"dispatch/internal/presence"
	"dispatch/internal/repository"
	"dispatch/internal/spatial"
)

// RideRequest is the input for creating a new ride.
type RideRequest struct {
	RiderID     string
	Pickup      PlaceInput
	Destination PlaceInput
	VehicleType domain.VehicleType
}

// RideOfferPayload is pushed to a driver when a ride is offered to them.
type RideOfferPayload struct {
	RideID           string            `json:"ride_id"`
	Pickup           domain.Coordinate `json:"pickup"`
	Destination      domain.Coordinate `json:"destination"`
	PickupDistanceKm float64           `json:"pickup_distance_km"`
	Price            float64           `json:"price"`
}

// RideStatusPayload announces a ride status change.
type RideStatusPayload struct {
	RideID string            `json:"ride_id"`
	Status domain.RideStatus `json:"status"`
	Reason string            `json:"reason,omitempty"`
}

// MatchedPayload announces a successful driver assignment.
type MatchedPayload struct {
	RideID   string            `json:"ride_id"`
	DriverID string            `json:"driver_id"`
	Pickup   domain.Coordinate `json:"pickup"`
	Price    float64           `json:"price"`
}

// DriverLocationPayload relays the assigned driver's position to the rider.
type DriverLocationPayload struct {
	RideID   string  `json:"ride_id"`
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Bearing  float64 `json:"bearing"`
}

// pendingOffer is one outstanding ride offer. The response channel is
// buffered so the responder never blocks on the search loop.
type pendingOffer struct {
	driverID string
	resp     chan bool
}

// rideEntry is the in-memory authoritative state for one active ride. All
// reads and transitions go through its mutex; done closes exactly once, when
// the ride reaches a terminal status.
type rideEntry struct {
	mu    sync.Mutex
	ride  domain.Ride
	offer *pendingOffer
	done  chan struct{}
}

// DispatchService owns the ride lifecycle: request, driver search, offers,
// trip progress and terminal states. In-memory state is authoritative;
// persistence is write-through and failures there are logged, not surfaced.
type DispatchService struct {
	registry  *presence.Registry
	engine    spatial.Engine
	notifier  gateway.Notifier
	rides     repository.RideRepository
	drivers   repository.DriverRepository
	estimates *EstimateService
	cfg       config.DispatchConfig

	mu            sync.Mutex
	entries       map[string]*rideEntry
	driverRides   map[string]string
	pendingOffers map[string]string
}

// NewDispatchService creates a DispatchService.
func NewDispatchService(
	registry *presence.Registry,
	engine spatial.Engine,
	notifier gateway.Notifier,
	rides repository.RideRepository,
	drivers repository.DriverRepository,
	estimates *EstimateService,
	cfg config.DispatchConfig,
) *DispatchService {
	return &DispatchService{
		registry:      registry,
		engine:        engine,
		notifier:      notifier,
		rides:         rides,
		drivers:       drivers,
		estimates:     estimates,
		cfg:           cfg,
		entries:       make(map[string]*rideEntry),
		driverRides:   make(map[string]string),
		pendingOffers: make(map[string]string),
	}
}

// RequestRide creates a ride in REQUESTED state with a fare quote attached.
// Any geocoding or routing failure aborts the request; no ride is created
// without a real quote.
func (s *DispatchService) RequestRide(ctx context.Context, req RideRequest) (*domain.Ride, error) {
	if strings.TrimSpace(req.RiderID) == "" {
		return nil, ErrInvalidRiderID
	}

	pickup, err := s.estimates.ResolvePlace(ctx, req.Pickup)
	if err != nil {
		if errors.Is(err, ErrInvalidLocation) {
			return nil, ErrInvalidPickupLocation
		}
		return nil, err
	}
	destination, err := s.estimates.ResolvePlace(ctx, req.Destination)
	if err != nil {
		if errors.Is(err, ErrInvalidLocation) {
			return nil, ErrInvalidDestinationLocation
		}
		return nil, err
	}

	quote, err := s.estimates.QuoteCoordinates(ctx, pickup, destination, req.VehicleType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ride := domain.Ride{
		ID:             uuid.New().String(),
		RiderID:        req.RiderID,
		Pickup:         pickup,
		Destination:    destination,
		Status:         domain.RideStatusRequested,
		Quote:          quote,
		CreatedAt:      now,
		StateChangedAt: now,
	}

	entry := &rideEntry{ride: ride, done: make(chan struct{})}
	s.mu.Lock()
	s.entries[ride.ID] = entry
	s.mu.Unlock()

	if err := s.rides.Create(ctx, &ride); err != nil {
		log.Printf("dispatch: persisting ride %s failed: %v", ride.ID, err)
	}
	return &ride, nil
}

// ConfirmRide moves the ride to SEARCHING and starts the driver search in
// the background.
func (s *DispatchService) ConfirmRide(ctx context.Context, rideID, riderID string) (*domain.Ride, error) {
	entry, ok := s.entry(rideID)
	if !ok {
		return nil, s.missingRideError(ctx, rideID)
	}

	entry.mu.Lock()
	if entry.ride.RiderID != riderID {
		entry.mu.Unlock()
		return nil, ErrRideNotFound
	}
	if !domain.CanTransition(entry.ride.Status, domain.RideStatusSearching) {
		entry.mu.Unlock()
		return nil, ErrStateConflict
	}
	entry.ride.Status = domain.RideStatusSearching
	entry.ride.StateChangedAt = time.Now()
	ride := entry.ride
	entry.mu.Unlock()

	s.persist(ctx, &ride)
	go s.runSearch(entry)
	return &ride, nil
}

// HandleOfferResponse applies a driver's accept or decline of the pending
// offer. Accept transitions the ride to MATCHED atomically with consuming
// the offer, so a concurrent cancel sees either SEARCHING or MATCHED, never
// an in-between state.
func (s *DispatchService) HandleOfferResponse(ctx context.Context, rideID, driverID string, accept bool) error {
	if strings.TrimSpace(driverID) == "" {
		return ErrInvalidDriverID
	}
	entry, ok := s.entry(rideID)
	if !ok {
		return s.missingRideError(ctx, rideID)
	}

	entry.mu.Lock()
	if entry.ride.Status != domain.RideStatusSearching {
		entry.mu.Unlock()
		return ErrStateConflict
	}
	off := entry.offer
	if off == nil || off.driverID != driverID {
		entry.mu.Unlock()
		return ErrNoPendingOffer
	}
	entry.offer = nil
	if accept {
		entry.ride.Status = domain.RideStatusMatched
		entry.ride.AssignedDriverID = driverID
		entry.ride.StateChangedAt = time.Now()
		entry.ride.AssertInvariants()
	}
	off.resp <- accept
	ride := entry.ride
	// Map updates happen under the entry lock so a concurrent cancel
	// cannot archive the ride before the driver mapping exists.
	s.mu.Lock()
	delete(s.pendingOffers, driverID)
	if accept {
		s.driverRides[driverID] = rideID
	}
	s.mu.Unlock()
	entry.mu.Unlock()

	if accept {
		s.persist(ctx, &ride)
		if err := s.drivers.UpdateStatus(ctx, driverID, domain.DriverStatusOnTrip); err != nil {
			log.Printf("dispatch: updating driver %s status failed: %v", driverID, err)
		}
		payload := MatchedPayload{RideID: ride.ID, DriverID: driverID, Pickup: ride.Pickup, Price: ride.Quote.Price}
		s.notifier.Send(ride.RiderID, gateway.EventRideMatched, payload)
		s.notifier.Send(driverID, gateway.EventRideMatched, payload)
	}
	return nil
}

// StartRide marks the trip as begun. Only the assigned driver may start it.
func (s *DispatchService) StartRide(ctx context.Context, rideID, driverID string) (*domain.Ride, error) {
	entry, ok := s.entry(rideID)
	if !ok {
		return nil, s.missingRideError(ctx, rideID)
	}

	entry.mu.Lock()
	if entry.ride.AssignedDriverID != driverID {
		entry.mu.Unlock()
		return nil, ErrDriverNotAssigned
	}
	if !domain.CanTransition(entry.ride.Status, domain.RideStatusStarted) {
		entry.mu.Unlock()
		return nil, ErrStateConflict
	}
	entry.ride.Status = domain.RideStatusStarted
	entry.ride.StateChangedAt = time.Now()
	entry.ride.AssertInvariants()
	ride := entry.ride
	entry.mu.Unlock()

	s.persist(ctx, &ride)
	s.notifier.Send(ride.RiderID, gateway.EventRideStarted, RideStatusPayload{RideID: ride.ID, Status: ride.Status})
	return &ride, nil
}

// CompleteRide ends the trip and frees the driver for new offers.
func (s *DispatchService) CompleteRide(ctx context.Context, rideID, driverID string) (*domain.Ride, error) {
	entry, ok := s.entry(rideID)
	if !ok {
		return nil, s.missingRideError(ctx, rideID)
	}

	entry.mu.Lock()
	if entry.ride.AssignedDriverID != driverID {
		entry.mu.Unlock()
		return nil, ErrDriverNotAssigned
	}
	if !domain.CanTransition(entry.ride.Status, domain.RideStatusCompleted) {
		entry.mu.Unlock()
		return nil, ErrStateConflict
	}
	entry.ride.Status = domain.RideStatusCompleted
	entry.ride.StateChangedAt = time.Now()
	entry.ride.AssertInvariants()
	close(entry.done)
	ride := entry.ride
	entry.mu.Unlock()

	s.registry.Release(driverID)
	if err := s.drivers.UpdateStatus(ctx, driverID, domain.DriverStatusOnline); err != nil {
		log.Printf("dispatch: updating driver %s status failed: %v", driverID, err)
	}
	s.archive(&ride)
	s.persist(ctx, &ride)
	s.notifier.Send(ride.RiderID, gateway.EventRideCompleted, RideStatusPayload{RideID: ride.ID, Status: ride.Status})
	s.notifier.Send(driverID, gateway.EventRideCompleted, RideStatusPayload{RideID: ride.ID, Status: ride.Status})
	return &ride, nil
}

// CancelRide cancels a ride on behalf of a party. Only the rider or the
// assigned driver may cancel, and only before the trip starts; a ride
// already in a terminal state yields ErrStateConflict.
func (s *DispatchService) CancelRide(ctx context.Context, rideID, partyID, reason string) (*domain.Ride, error) {
	if strings.TrimSpace(partyID) == "" {
		return nil, ErrNotRideParticipant
	}
	return s.cancel(ctx, rideID, partyID, reason, false)
}

// cancel applies the cancellation. Cancelling a STARTED ride is reserved
// for the driver-disconnect flow via allowStarted.
func (s *DispatchService) cancel(ctx context.Context, rideID, partyID, reason string, allowStarted bool) (*domain.Ride, error) {
	entry, ok := s.entry(rideID)
	if !ok {
		return nil, s.missingRideError(ctx, rideID)
	}

	entry.mu.Lock()
	if partyID != entry.ride.RiderID && partyID != entry.ride.AssignedDriverID {
		entry.mu.Unlock()
		return nil, ErrNotRideParticipant
	}
	if entry.ride.Status == domain.RideStatusStarted && !allowStarted {
		entry.mu.Unlock()
		return nil, ErrStateConflict
	}
	if !domain.CanTransition(entry.ride.Status, domain.RideStatusCancelled) {
		entry.mu.Unlock()
		return nil, ErrStateConflict
	}
	entry.ride.Status = domain.RideStatusCancelled
	entry.ride.StateChangedAt = time.Now()
	entry.ride.CancelledAt = entry.ride.StateChangedAt
	entry.ride.CancelReason = reason
	close(entry.done)
	ride := entry.ride
	entry.mu.Unlock()

	if ride.AssignedDriverID != "" {
		s.registry.Release(ride.AssignedDriverID)
		if err := s.drivers.UpdateStatus(ctx, ride.AssignedDriverID, domain.DriverStatusOnline); err != nil {
			log.Printf("dispatch: updating driver %s status failed: %v", ride.AssignedDriverID, err)
		}
		s.notifier.Send(ride.AssignedDriverID, gateway.EventRideCancelled, RideStatusPayload{RideID: ride.ID, Status: ride.Status, Reason: reason})
	}
	s.archive(&ride)
	s.persist(ctx, &ride)
	s.notifier.Send(ride.RiderID, gateway.EventRideCancelled, RideStatusPayload{RideID: ride.ID, Status: ride.Status, Reason: reason})
	return &ride, nil
}

// GetRide returns the current ride state, falling back to storage for rides
// that have already left memory.
func (s *DispatchService) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if strings.TrimSpace(rideID) == "" {
		return nil, ErrInvalidRideID
	}
	if entry, ok := s.entry(rideID); ok {
		entry.mu.Lock()
		ride := entry.ride
		entry.mu.Unlock()
		return &ride, nil
	}
	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRideNotFound
		}
		return nil, err
	}
	return ride, nil
}

// ListRiderRides returns the rider's ride history from storage, newest
// first.
func (s *DispatchService) ListRiderRides(ctx context.Context, riderID string) ([]*domain.Ride, error) {
	if strings.TrimSpace(riderID) == "" {
		return nil, ErrInvalidRiderID
	}
	return s.rides.GetByRider(ctx, riderID)
}

// RelayDriverLocation records a driver location report and, when the driver
// is on an active ride, relays the position to the rider.
func (s *DispatchService) RelayDriverLocation(ctx context.Context, driverID string, coord domain.Coordinate, ts time.Time) error {
	if strings.TrimSpace(driverID) == "" {
		return ErrInvalidDriverID
	}
	if !coord.Valid() {
		return ErrInvalidLocation
	}

	prev, _ := s.registry.Snapshot(driverID)
	applied, err := s.registry.UpdateLocation(ctx, driverID, coord, ts)
	if err != nil {
		if errors.Is(err, presence.ErrUnknownDriver) {
			return ErrDriverNotFound
		}
		return err
	}
	// A report older than the stored one changed nothing; relaying it
	// would move the rider's marker backwards.
	if !applied {
		return nil
	}

	s.mu.Lock()
	rideID := s.driverRides[driverID]
	s.mu.Unlock()
	if rideID == "" {
		return nil
	}

	entry, ok := s.entry(rideID)
	if !ok {
		return nil
	}
	entry.mu.Lock()
	status := entry.ride.Status
	riderID := entry.ride.RiderID
	entry.mu.Unlock()
	if status != domain.RideStatusMatched && status != domain.RideStatusStarted {
		return nil
	}

	bearing := 0.0
	if prev.HasLocation {
		bearing = geo.Bearing(prev.Coordinate, coord)
	}
	s.notifier.Send(riderID, gateway.EventDriverLocation, DriverLocationPayload{
		RideID:   rideID,
		DriverID: driverID,
		Lat:      coord.Lat,
		Lng:      coord.Lng,
		Bearing:  bearing,
	})
	return nil
}

// HandleDriverConnect marks the driver's push connection live.
func (s *DispatchService) HandleDriverConnect(driverID string) error {
	if err := s.registry.SetConnection(driverID); err != nil {
		if errors.Is(err, presence.ErrUnknownDriver) {
			return ErrDriverNotFound
		}
		return err
	}
	return nil
}

// HandleDriverDisconnect processes a dropped driver connection: the driver
// leaves the candidate pool, any outstanding offer to them counts as a
// decline, and an assigned ride follows the configured disconnect policy.
func (s *DispatchService) HandleDriverDisconnect(ctx context.Context, driverID string) {
	if err := s.registry.ClearConnection(ctx, driverID); err != nil {
		return
	}

	s.mu.Lock()
	offerRide := s.pendingOffers[driverID]
	activeRide := s.driverRides[driverID]
	s.mu.Unlock()

	if offerRide != "" {
		_ = s.HandleOfferResponse(ctx, offerRide, driverID, false)
	}
	if activeRide == "" {
		return
	}
	if s.cfg.DisconnectPolicy == config.DisconnectCancel {
		if _, err := s.cancel(ctx, activeRide, driverID, "driver disconnected", true); err != nil {
			log.Printf("dispatch: cancelling ride %s after driver %s disconnect: %v", activeRide, driverID, err)
		}
		return
	}
	log.Printf("dispatch: driver %s disconnected with active ride %s, holding", driverID, activeRide)
}

// offerOutcome classifies one offer attempt within the search loop.
type offerOutcome int

const (
	offerAccepted offerOutcome = iota
	offerDeclined
	searchExpired
	searchAborted
)

// runSearch walks candidates nearest-first, widening the radius between
// rounds, until a driver accepts, the search window closes, or the ride is
// cancelled. Runs in its own goroutine per ride.
func (s *DispatchService) runSearch(entry *rideEntry) {
	ctx := context.Background()

	entry.mu.Lock()
	pickup := entry.ride.Pickup
	entry.mu.Unlock()

	deadline := time.NewTimer(s.cfg.SearchTimeout)
	defer deadline.Stop()

	attempted := make(map[string]bool)
	radius := s.cfg.SearchRadiusKm

	for round := 0; round <= s.cfg.WidenRetries; round++ {
		if round > 0 {
			radius *= s.cfg.WidenFactor
		}
		candidates, err := s.engine.FindWithinRadius(ctx, pickup, radius, attempted)
		if err != nil {
			log.Printf("dispatch: candidate search for ride %s failed: %v", s.rideID(entry), err)
			continue
		}
		for _, cand := range candidates {
			attempted[cand.DriverID] = true
			switch s.offerTo(ctx, entry, cand, deadline.C) {
			case offerAccepted, searchAborted:
				return
			case searchExpired:
				s.expire(ctx, entry)
				return
			case offerDeclined:
			}
		}
	}
	s.expire(ctx, entry)
}

// offerTo claims one candidate, pushes the offer, and waits for an answer,
// the offer timeout, the search deadline, or ride termination. The claim is
// released on every path that does not end in a match.
func (s *DispatchService) offerTo(ctx context.Context, entry *rideEntry, cand spatial.Candidate, deadline <-chan time.Time) offerOutcome {
	if !s.registry.Claim(cand.DriverID) {
		return offerDeclined
	}

	off := &pendingOffer{driverID: cand.DriverID, resp: make(chan bool, 1)}

	entry.mu.Lock()
	if entry.ride.Status != domain.RideStatusSearching {
		entry.mu.Unlock()
		s.registry.Release(cand.DriverID)
		return searchAborted
	}
	entry.offer = off
	ride := entry.ride
	entry.mu.Unlock()

	s.mu.Lock()
	s.pendingOffers[cand.DriverID] = ride.ID
	s.mu.Unlock()

	s.notifier.Send(cand.DriverID, gateway.EventRideOffer, RideOfferPayload{
		RideID:           ride.ID,
		Pickup:           ride.Pickup,
		Destination:      ride.Destination,
		PickupDistanceKm: cand.DistanceKm,
		Price:            ride.Quote.Price,
	})

	timer := time.NewTimer(s.cfg.OfferTimeout)
	defer timer.Stop()

	select {
	case accepted := <-off.resp:
		if accepted {
			return offerAccepted
		}
		s.registry.Release(cand.DriverID)
		return offerDeclined

	case <-timer.C:
		if s.revokeOffer(entry, off) {
			s.registry.Release(cand.DriverID)
			return offerDeclined
		}
		// A response won the race; its buffered answer is already there.
		if <-off.resp {
			return offerAccepted
		}
		s.registry.Release(cand.DriverID)
		return offerDeclined

	case <-deadline:
		if s.revokeOffer(entry, off) {
			s.registry.Release(cand.DriverID)
			return searchExpired
		}
		if <-off.resp {
			return offerAccepted
		}
		s.registry.Release(cand.DriverID)
		return searchExpired

	case <-entry.done:
		if s.revokeOffer(entry, off) {
			s.registry.Release(cand.DriverID)
			return searchAborted
		}
		if <-off.resp {
			return offerAccepted
		}
		s.registry.Release(cand.DriverID)
		return searchAborted
	}
}

// revokeOffer withdraws off if it is still pending. Returns false when a
// driver response already consumed it.
func (s *DispatchService) revokeOffer(entry *rideEntry, off *pendingOffer) bool {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.offer != off {
		return false
	}
	entry.offer = nil
	s.mu.Lock()
	delete(s.pendingOffers, off.driverID)
	s.mu.Unlock()
	return true
}

// expire moves a ride that never found a driver to EXPIRED. No-op if the
// ride already left SEARCHING.
func (s *DispatchService) expire(ctx context.Context, entry *rideEntry) {
	entry.mu.Lock()
	if !domain.CanTransition(entry.ride.Status, domain.RideStatusExpired) {
		entry.mu.Unlock()
		return
	}
	entry.ride.Status = domain.RideStatusExpired
	entry.ride.StateChangedAt = time.Now()
	close(entry.done)
	ride := entry.ride
	entry.mu.Unlock()

	s.archive(&ride)
	s.persist(ctx, &ride)
	s.notifier.Send(ride.RiderID, gateway.EventRideExpired, RideStatusPayload{RideID: ride.ID, Status: ride.Status})
}

func (s *DispatchService) entry(rideID string) (*rideEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[rideID]
	return e, ok
}

func (s *DispatchService) rideID(entry *rideEntry) string {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.ride.ID
}

// archive drops a terminal ride from the in-memory maps; storage keeps it.
func (s *DispatchService) archive(ride *domain.Ride) {
	s.mu.Lock()
	delete(s.entries, ride.ID)
	if ride.AssignedDriverID != "" && s.driverRides[ride.AssignedDriverID] == ride.ID {
		delete(s.driverRides, ride.AssignedDriverID)
	}
	s.mu.Unlock()
}

// persist writes the ride through to storage. Memory stays authoritative;
// a storage failure is logged and the in-flight operation proceeds.
func (s *DispatchService) persist(ctx context.Context, ride *domain.Ride) {
	if err := s.rides.Update(ctx, ride); err != nil {
		log.Printf("dispatch: persisting ride %s failed: %v", ride.ID, err)
	}
}

// missingRideError distinguishes an unknown ride from one that already
// reached a terminal state and was archived.
func (s *DispatchService) missingRideError(ctx context.Context, rideID string) error {
	if strings.TrimSpace(rideID) == "" {
		return ErrInvalidRideID
	}
	if _, err := s.rides.GetByID(ctx, rideID); err == nil {
		return ErrStateConflict
	}
	return ErrRideNotFound
}
