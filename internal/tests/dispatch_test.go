package tests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/gateway"
	"dispatch/internal/presence"
	"dispatch/internal/routing"
	"dispatch/internal/service"
	"dispatch/internal/spatial"
)

// testEnv bundles a dispatch service with its collaborators.
type testEnv struct {
	dispatch   *service.DispatchService
	registry   *presence.Registry
	notifier   *MockNotifier
	rideRepo   *MockRideRepository
	driverRepo *MockDriverRepository
}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		SearchRadiusKm:   5,
		WidenFactor:      2.0,
		WidenRetries:     1,
		OfferTimeout:     200 * time.Millisecond,
		SearchTimeout:    2 * time.Second,
		DisconnectPolicy: config.DisconnectHold,
	}
}

func newTestEnv(t *testing.T, cfg config.DispatchConfig) *testEnv {
	t.Helper()

	registry := presence.NewRegistry()
	notifier := NewMockNotifier()
	rideRepo := NewMockRideRepository()
	driverRepo := NewMockDriverRepository()

	estimates := service.NewEstimateService(
		&FakeRouter{Result: routing.Route{DistanceKm: 12.5, DurationMin: 18}},
		&FakeGeocoder{Places: map[string]routing.Place{}},
		testPricing(),
	)

	dispatch := service.NewDispatchService(
		registry,
		spatial.NewRegistryEngine(registry),
		notifier,
		rideRepo,
		driverRepo,
		estimates,
		cfg,
	)

	return &testEnv{
		dispatch:   dispatch,
		registry:   registry,
		notifier:   notifier,
		rideRepo:   rideRepo,
		driverRepo: driverRepo,
	}
}

func testPricing() config.PricingConfig {
	rate := config.VehicleRate{Base: 50, PerKm: 15, PerMin: 2, Minimum: 80}
	return config.PricingConfig{Car: rate, Moto: rate, Auto: rate}
}

// addDriver registers a driver account and puts them online at a location.
func (e *testEnv) addDriver(t *testing.T, id string, lat, lng float64) {
	t.Helper()
	e.driverRepo.AddDriver(&domain.Driver{
		ID:      id,
		Name:    "Driver " + id,
		Phone:   "+91" + id,
		Vehicle: domain.VehicleTypeCar,
		Status:  domain.DriverStatusOnline,
	})
	e.registry.Register(id)
	coord := domain.Coordinate{Lat: lat, Lng: lng}
	if _, err := e.registry.UpdateLocation(context.Background(), id, coord, time.Now()); err != nil {
		t.Fatalf("failed to place driver %s: %v", id, err)
	}
}

// requestAndConfirm creates a ride from coordinates and starts the search.
func (e *testEnv) requestAndConfirm(t *testing.T, riderID string, pickup, dest domain.Coordinate) *domain.Ride {
	t.Helper()
	ctx := context.Background()

	ride, err := e.dispatch.RequestRide(ctx, service.RideRequest{
		RiderID:     riderID,
		Pickup:      service.PlaceInput{Coordinate: pickup, HasCoord: true},
		Destination: service.PlaceInput{Coordinate: dest, HasCoord: true},
		VehicleType: domain.VehicleTypeCar,
	})
	if err != nil {
		t.Fatalf("failed to request ride: %v", err)
	}
	if ride.Status != domain.RideStatusRequested {
		t.Fatalf("expected REQUESTED, got %s", ride.Status)
	}

	if _, err := e.dispatch.ConfirmRide(ctx, ride.ID, riderID); err != nil {
		t.Fatalf("failed to confirm ride: %v", err)
	}
	return ride
}

// waitForOffer polls until the driver receives a ride offer.
func (e *testEnv) waitForOffer(t *testing.T, driverID string) service.RideOfferPayload {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if p := e.notifier.LastPayloadFor(driverID, gateway.EventRideOffer); p != nil {
			return p.(service.RideOfferPayload)
		}
		select {
		case <-deadline:
			t.Fatalf("driver %s never received an offer", driverID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// waitForOfferForRide polls until the driver holds an offer for the given
// ride, ignoring earlier offers from other rides.
func (e *testEnv) waitForOfferForRide(t *testing.T, driverID, rideID string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if p := e.notifier.LastPayloadFor(driverID, gateway.EventRideOffer); p != nil {
			if p.(service.RideOfferPayload).RideID == rideID {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("driver %s never received an offer for ride %s", driverID, rideID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// waitForStatus polls until the ride reaches the wanted status.
func (e *testEnv) waitForStatus(t *testing.T, rideID string, want domain.RideStatus) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		ride, err := e.dispatch.GetRide(context.Background(), rideID)
		if err == nil && ride.Status == want {
			return
		}
		select {
		case <-deadline:
			status := domain.RideStatus("missing")
			if err == nil {
				status = ride.Status
			}
			t.Fatalf("ride %s never reached %s, last status %s", rideID, want, status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// waitForCandidate polls until the driver is back in the candidate pool.
// Release happens on the search goroutine, slightly after the terminal
// transition is visible.
func (e *testEnv) waitForCandidate(t *testing.T, driverID string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if availableIDs(e.registry)[driverID] {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("driver %s never returned to the candidate pool", driverID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func availableIDs(reg *presence.Registry) map[string]bool {
	out := make(map[string]bool)
	for _, p := range reg.AllAvailable() {
		out[p.DriverID] = true
	}
	return out
}

func TestDispatch_NearestDriverAcceptsAndMatches(t *testing.T) {
	env := newTestEnv(t, testDispatchConfig())
	ctx := context.Background()

	// Driver near the pickup and one much further away.
	env.addDriver(t, "d1", 10.01, 20.01)
	env.addDriver(t, "d2", 10.04, 20.04)

	ride := env.requestAndConfirm(t, "rider-1",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)

	offer := env.waitForOffer(t, "d1")
	if offer.RideID != ride.ID {
		t.Fatalf("offer carries wrong ride: %s", offer.RideID)
	}
	if offer.PickupDistanceKm <= 0 || offer.PickupDistanceKm > 5 {
		t.Errorf("implausible pickup distance %.2f km", offer.PickupDistanceKm)
	}

	if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", true); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	got, err := env.dispatch.GetRide(ctx, ride.ID)
	if err != nil {
		t.Fatalf("failed to fetch ride: %v", err)
	}
	if got.Status != domain.RideStatusMatched {
		t.Errorf("expected MATCHED, got %s", got.Status)
	}
	if got.AssignedDriverID != "d1" {
		t.Errorf("expected driver d1, got %q", got.AssignedDriverID)
	}

	// The farther driver never saw an offer.
	if p := env.notifier.LastPayloadFor("d2", gateway.EventRideOffer); p != nil {
		t.Error("d2 should not have been offered the ride")
	}

	// Rider learned about the match.
	if p := env.notifier.LastPayloadFor("rider-1", gateway.EventRideMatched); p == nil {
		t.Error("rider never received the match event")
	}

	// The matched driver left the candidate pool.
	if availableIDs(env.registry)["d1"] {
		t.Error("matched driver should not be a candidate")
	}
}

func TestDispatch_DeclineAdvancesToNextNearest(t *testing.T) {
	env := newTestEnv(t, testDispatchConfig())
	ctx := context.Background()

	env.addDriver(t, "d1", 10.005, 20.005)
	env.addDriver(t, "d2", 10.02, 20.02)

	ride := env.requestAndConfirm(t, "rider-1",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)

	env.waitForOffer(t, "d1")
	if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", false); err != nil {
		t.Fatalf("decline failed: %v", err)
	}

	env.waitForOffer(t, "d2")
	if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d2", true); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	env.waitForStatus(t, ride.ID, domain.RideStatusMatched)
	got, _ := env.dispatch.GetRide(ctx, ride.ID)
	if got.AssignedDriverID != "d2" {
		t.Errorf("expected driver d2, got %q", got.AssignedDriverID)
	}

	// The declining driver returned to the candidate pool.
	if !availableIDs(env.registry)["d1"] {
		t.Error("declining driver should be a candidate again")
	}
}

func TestDispatch_NoCandidatesExpires(t *testing.T) {
	env := newTestEnv(t, testDispatchConfig())

	// Drivers exist, but on another continent.
	env.addDriver(t, "d1", 10, 20)
	env.addDriver(t, "d2", 10.01, 20.01)

	ride := env.requestAndConfirm(t, "rider-1",
		domain.Coordinate{Lat: 40.4, Lng: -3.7},
		domain.Coordinate{Lat: 40.5, Lng: -3.6},
	)

	env.waitForStatus(t, ride.ID, domain.RideStatusExpired)

	if p := env.notifier.LastPayloadFor("rider-1", gateway.EventRideExpired); p == nil {
		t.Error("rider never received the expiry event")
	}

	// Far drivers were never claimed.
	avail := availableIDs(env.registry)
	if !avail["d1"] || !avail["d2"] {
		t.Error("distant drivers should remain candidates")
	}
}

func TestDispatch_OfferTimeoutMovesOn(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.OfferTimeout = 60 * time.Millisecond
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	env.addDriver(t, "d1", 10.005, 20.005)
	env.addDriver(t, "d2", 10.02, 20.02)

	ride := env.requestAndConfirm(t, "rider-1",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)

	env.waitForOffer(t, "d1")
	// d1 never answers; the offer times out and moves to d2.
	env.waitForOffer(t, "d2")

	// The stale answer from d1 is rejected.
	err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", true)
	if !errors.Is(err, service.ErrNoPendingOffer) {
		t.Errorf("expected ErrNoPendingOffer for stale answer, got %v", err)
	}

	if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d2", true); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	env.waitForStatus(t, ride.ID, domain.RideStatusMatched)

	if !availableIDs(env.registry)["d1"] {
		t.Error("timed-out driver should be a candidate again")
	}
}

func TestDispatch_CancelBeforeAcceptWinsRace(t *testing.T) {
	env := newTestEnv(t, testDispatchConfig())
	ctx := context.Background()

	env.addDriver(t, "d1", 10.005, 20.005)

	ride := env.requestAndConfirm(t, "rider-1",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)
	env.waitForOffer(t, "d1")

	if _, err := env.dispatch.CancelRide(ctx, ride.ID, "rider-1", "changed my mind"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", true)
	if !errors.Is(err, service.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict after cancel, got %v", err)
	}

	got, _ := env.dispatch.GetRide(ctx, ride.ID)
	if got.Status != domain.RideStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", got.Status)
	}
	if got.AssignedDriverID != "" {
		t.Errorf("cancelled ride must not carry a driver, got %q", got.AssignedDriverID)
	}
}

func TestDispatch_ConcurrentAcceptAndCancel(t *testing.T) {
	for i := 0; i < 20; i++ {
		cfg := testDispatchConfig()
		cfg.DisconnectPolicy = config.DisconnectCancel
		env := newTestEnv(t, cfg)
		ctx := context.Background()

		env.addDriver(t, "d1", 10.005, 20.005)
		ride := env.requestAndConfirm(t, "rider-1",
			domain.Coordinate{Lat: 10, Lng: 20},
			domain.Coordinate{Lat: 10.2, Lng: 20.2},
		)
		env.waitForOffer(t, "d1")

		var wg sync.WaitGroup
		var acceptErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			acceptErr = env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", true)
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = env.dispatch.CancelRide(ctx, ride.ID, "rider-1", "race")
		}()
		wg.Wait()

		// Cancel always lands: either the ride was still SEARCHING, or the
		// accept won and a matched ride is still cancellable.
		if cancelErr != nil {
			t.Fatalf("cancel must not fail, got %v", cancelErr)
		}
		// Accept either won the race or observed the cancelled state.
		if acceptErr != nil && !errors.Is(acceptErr, service.ErrStateConflict) {
			t.Fatalf("unexpected accept error %v", acceptErr)
		}

		got, _ := env.dispatch.GetRide(ctx, ride.ID)
		if got.Status != domain.RideStatusCancelled {
			t.Fatalf("expected CANCELLED, got %s", got.Status)
		}
		// The driver must be free again either way.
		env.waitForCandidate(t, "d1")

		// No stale active-ride mapping may survive the race: after d1
		// matches a fresh ride, a disconnect cancels that ride and only
		// that ride.
		ride2 := env.requestAndConfirm(t, "rider-2",
			domain.Coordinate{Lat: 10, Lng: 20},
			domain.Coordinate{Lat: 10.2, Lng: 20.2},
		)
		env.waitForOfferForRide(t, "d1", ride2.ID)
		if err := env.dispatch.HandleOfferResponse(ctx, ride2.ID, "d1", true); err != nil {
			t.Fatalf("accept of fresh ride failed: %v", err)
		}
		env.waitForStatus(t, ride2.ID, domain.RideStatusMatched)

		env.dispatch.HandleDriverDisconnect(ctx, "d1")
		got2, _ := env.dispatch.GetRide(ctx, ride2.ID)
		if got2.Status != domain.RideStatusCancelled {
			t.Fatalf("disconnect should cancel the active ride, got %s", got2.Status)
		}
	}
}

func TestDispatch_NoDoubleBooking(t *testing.T) {
	env := newTestEnv(t, testDispatchConfig())
	ctx := context.Background()

	env.addDriver(t, "d1", 10.005, 20.005)

	rideA := env.requestAndConfirm(t, "rider-a",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)
	rideB := env.requestAndConfirm(t, "rider-b",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)

	// Exactly one search claims the driver; accept whichever offer arrived.
	offer := env.waitForOffer(t, "d1")
	if err := env.dispatch.HandleOfferResponse(ctx, offer.RideID, "d1", true); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	var winner, loser string
	if offer.RideID == rideA.ID {
		winner, loser = rideA.ID, rideB.ID
	} else {
		winner, loser = rideB.ID, rideA.ID
	}

	env.waitForStatus(t, winner, domain.RideStatusMatched)
	env.waitForStatus(t, loser, domain.RideStatusExpired)

	got, _ := env.dispatch.GetRide(ctx, winner)
	if got.AssignedDriverID != "d1" {
		t.Errorf("winner should hold the driver, got %q", got.AssignedDriverID)
	}
}

func TestDispatch_StartAndCompleteFlow(t *testing.T) {
	env := newTestEnv(t, testDispatchConfig())
	ctx := context.Background()

	env.addDriver(t, "d1", 10.005, 20.005)
	ride := env.requestAndConfirm(t, "rider-1",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)
	env.waitForOffer(t, "d1")
	if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", true); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	// Only the assigned driver can start the trip.
	if _, err := env.dispatch.StartRide(ctx, ride.ID, "intruder"); !errors.Is(err, service.ErrDriverNotAssigned) {
		t.Errorf("expected ErrDriverNotAssigned, got %v", err)
	}

	if _, err := env.dispatch.StartRide(ctx, ride.ID, "d1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Completing twice must not work.
	if _, err := env.dispatch.CompleteRide(ctx, ride.ID, "d1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if _, err := env.dispatch.CompleteRide(ctx, ride.ID, "d1"); !errors.Is(err, service.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict on double complete, got %v", err)
	}

	got, err := env.dispatch.GetRide(ctx, ride.ID)
	if err != nil {
		t.Fatalf("failed to fetch completed ride: %v", err)
	}
	if got.Status != domain.RideStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}

	// The driver is free and back ONLINE.
	if !availableIDs(env.registry)["d1"] {
		t.Error("driver should be a candidate after completion")
	}
	if d := env.driverRepo.GetDriver("d1"); d.Status != domain.DriverStatusOnline {
		t.Errorf("expected driver ONLINE, got %s", d.Status)
	}
}

func TestDispatch_RadiusWidensOnce(t *testing.T) {
	env := newTestEnv(t, testDispatchConfig())
	ctx := context.Background()

	// ~7.8 km out: beyond the 5 km base radius, inside the widened 10 km.
	env.addDriver(t, "far", 10.05, 20.05)

	ride := env.requestAndConfirm(t, "rider-1",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)

	env.waitForOffer(t, "far")
	if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "far", true); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	env.waitForStatus(t, ride.ID, domain.RideStatusMatched)
}

func TestDispatch_DisconnectPolicies(t *testing.T) {
	t.Run("cancel policy cancels the active ride", func(t *testing.T) {
		cfg := testDispatchConfig()
		cfg.DisconnectPolicy = config.DisconnectCancel
		env := newTestEnv(t, cfg)
		ctx := context.Background()

		env.addDriver(t, "d1", 10.005, 20.005)
		ride := env.requestAndConfirm(t, "rider-1",
			domain.Coordinate{Lat: 10, Lng: 20},
			domain.Coordinate{Lat: 10.2, Lng: 20.2},
		)
		env.waitForOffer(t, "d1")
		if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", true); err != nil {
			t.Fatalf("accept failed: %v", err)
		}

		env.dispatch.HandleDriverDisconnect(ctx, "d1")

		got, _ := env.dispatch.GetRide(ctx, ride.ID)
		if got.Status != domain.RideStatusCancelled {
			t.Errorf("expected CANCELLED, got %s", got.Status)
		}
		if got.CancelReason != "driver disconnected" {
			t.Errorf("unexpected cancel reason %q", got.CancelReason)
		}
	})

	t.Run("hold policy keeps the ride", func(t *testing.T) {
		env := newTestEnv(t, testDispatchConfig())
		ctx := context.Background()

		env.addDriver(t, "d1", 10.005, 20.005)
		ride := env.requestAndConfirm(t, "rider-1",
			domain.Coordinate{Lat: 10, Lng: 20},
			domain.Coordinate{Lat: 10.2, Lng: 20.2},
		)
		env.waitForOffer(t, "d1")
		if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", true); err != nil {
			t.Fatalf("accept failed: %v", err)
		}

		env.dispatch.HandleDriverDisconnect(ctx, "d1")

		got, _ := env.dispatch.GetRide(ctx, ride.ID)
		if got.Status != domain.RideStatusMatched {
			t.Errorf("expected MATCHED to survive disconnect, got %s", got.Status)
		}
	})

	t.Run("disconnect during offer counts as decline", func(t *testing.T) {
		env := newTestEnv(t, testDispatchConfig())
		ctx := context.Background()

		env.addDriver(t, "d1", 10.005, 20.005)
		env.addDriver(t, "d2", 10.02, 20.02)
		ride := env.requestAndConfirm(t, "rider-1",
			domain.Coordinate{Lat: 10, Lng: 20},
			domain.Coordinate{Lat: 10.2, Lng: 20.2},
		)
		env.waitForOffer(t, "d1")

		env.dispatch.HandleDriverDisconnect(ctx, "d1")

		env.waitForOffer(t, "d2")
		if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d2", true); err != nil {
			t.Fatalf("accept failed: %v", err)
		}
		env.waitForStatus(t, ride.ID, domain.RideStatusMatched)
	})
}

func TestDispatch_LocationRelayToRider(t *testing.T) {
	env := newTestEnv(t, testDispatchConfig())
	ctx := context.Background()

	env.addDriver(t, "d1", 10.005, 20.005)
	ride := env.requestAndConfirm(t, "rider-1",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)
	env.waitForOffer(t, "d1")
	if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", true); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	coord := domain.Coordinate{Lat: 10.006, Lng: 20.006}
	if err := env.dispatch.RelayDriverLocation(ctx, "d1", coord, time.Now()); err != nil {
		t.Fatalf("relay failed: %v", err)
	}

	p := env.notifier.LastPayloadFor("rider-1", gateway.EventDriverLocation)
	if p == nil {
		t.Fatal("rider never received the driver location")
	}
	loc := p.(service.DriverLocationPayload)
	if loc.RideID != ride.ID || loc.DriverID != "d1" {
		t.Errorf("relay payload mismatch: %+v", loc)
	}
	if loc.Lat != coord.Lat || loc.Lng != coord.Lng {
		t.Errorf("relay coordinates mismatch: %+v", loc)
	}
}

func TestDispatch_CancelRequiresParticipant(t *testing.T) {
	env := newTestEnv(t, testDispatchConfig())
	ctx := context.Background()

	env.addDriver(t, "d1", 10.005, 20.005)
	ride := env.requestAndConfirm(t, "rider-1",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)
	env.waitForOffer(t, "d1")
	if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", true); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	// Neither a stranger nor an anonymous caller may cancel.
	if _, err := env.dispatch.CancelRide(ctx, ride.ID, "mallory", "not my ride"); !errors.Is(err, service.ErrNotRideParticipant) {
		t.Errorf("expected ErrNotRideParticipant for stranger, got %v", err)
	}
	if _, err := env.dispatch.CancelRide(ctx, ride.ID, "", "anonymous"); !errors.Is(err, service.ErrNotRideParticipant) {
		t.Errorf("expected ErrNotRideParticipant for empty party, got %v", err)
	}

	got, _ := env.dispatch.GetRide(ctx, ride.ID)
	if got.Status != domain.RideStatusMatched {
		t.Fatalf("rejected cancels must not change state, got %s", got.Status)
	}

	// The assigned driver is a participant and may cancel.
	if _, err := env.dispatch.CancelRide(ctx, ride.ID, "d1", "vehicle broke down"); err != nil {
		t.Fatalf("driver cancel failed: %v", err)
	}
	got, _ = env.dispatch.GetRide(ctx, ride.ID)
	if got.Status != domain.RideStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", got.Status)
	}
}

func TestDispatch_CancelAfterStart(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.DisconnectPolicy = config.DisconnectCancel
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	env.addDriver(t, "d1", 10.005, 20.005)
	ride := env.requestAndConfirm(t, "rider-1",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)
	env.waitForOffer(t, "d1")
	if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", true); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if _, err := env.dispatch.StartRide(ctx, ride.ID, "d1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Once the trip is underway the regular cancel path is closed, for
	// the rider and the driver alike.
	if _, err := env.dispatch.CancelRide(ctx, ride.ID, "rider-1", "too late"); !errors.Is(err, service.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict for rider cancel after start, got %v", err)
	}
	if _, err := env.dispatch.CancelRide(ctx, ride.ID, "d1", "too late"); !errors.Is(err, service.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict for driver cancel after start, got %v", err)
	}

	// A driver dropping off the network is the one event that still
	// cancels a started trip.
	env.dispatch.HandleDriverDisconnect(ctx, "d1")
	got, _ := env.dispatch.GetRide(ctx, ride.ID)
	if got.Status != domain.RideStatusCancelled {
		t.Errorf("expected CANCELLED after disconnect, got %s", got.Status)
	}
	if got.CancelReason != "driver disconnected" {
		t.Errorf("unexpected cancel reason %q", got.CancelReason)
	}
}

func TestDispatch_StaleLocationNotRelayed(t *testing.T) {
	env := newTestEnv(t, testDispatchConfig())
	ctx := context.Background()

	env.addDriver(t, "d1", 10.005, 20.005)
	ride := env.requestAndConfirm(t, "rider-1",
		domain.Coordinate{Lat: 10, Lng: 20},
		domain.Coordinate{Lat: 10.2, Lng: 20.2},
	)
	env.waitForOffer(t, "d1")
	if err := env.dispatch.HandleOfferResponse(ctx, ride.ID, "d1", true); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	countLocations := func() int {
		n := 0
		for _, ev := range env.notifier.EventsFor("rider-1") {
			if ev == gateway.EventDriverLocation {
				n++
			}
		}
		return n
	}

	now := time.Now()
	fresh := domain.Coordinate{Lat: 10.006, Lng: 20.006}
	if err := env.dispatch.RelayDriverLocation(ctx, "d1", fresh, now); err != nil {
		t.Fatalf("relay failed: %v", err)
	}
	if countLocations() != 1 {
		t.Fatalf("expected one location event, got %d", countLocations())
	}

	// A report older than the last applied one is dropped, not relayed.
	stale := domain.Coordinate{Lat: 10.001, Lng: 20.001}
	if err := env.dispatch.RelayDriverLocation(ctx, "d1", stale, now.Add(-2*time.Second)); err != nil {
		t.Fatalf("stale relay returned error: %v", err)
	}
	if countLocations() != 1 {
		t.Fatalf("stale report must not reach the rider, got %d events", countLocations())
	}

	p := env.notifier.LastPayloadFor("rider-1", gateway.EventDriverLocation)
	loc := p.(service.DriverLocationPayload)
	if loc.Lat != fresh.Lat || loc.Lng != fresh.Lng {
		t.Errorf("rider marker moved backwards: %+v", loc)
	}
}

func TestDispatch_RequestValidation(t *testing.T) {
	env := newTestEnv(t, testDispatchConfig())
	ctx := context.Background()

	_, err := env.dispatch.RequestRide(ctx, service.RideRequest{
		RiderID:     "",
		Pickup:      service.PlaceInput{Coordinate: domain.Coordinate{Lat: 10, Lng: 20}, HasCoord: true},
		Destination: service.PlaceInput{Coordinate: domain.Coordinate{Lat: 11, Lng: 21}, HasCoord: true},
		VehicleType: domain.VehicleTypeCar,
	})
	if !errors.Is(err, service.ErrInvalidRiderID) {
		t.Errorf("expected ErrInvalidRiderID, got %v", err)
	}

	_, err = env.dispatch.RequestRide(ctx, service.RideRequest{
		RiderID:     "rider-1",
		Pickup:      service.PlaceInput{Coordinate: domain.Coordinate{Lat: 91, Lng: 20}, HasCoord: true},
		Destination: service.PlaceInput{Coordinate: domain.Coordinate{Lat: 11, Lng: 21}, HasCoord: true},
		VehicleType: domain.VehicleTypeCar,
	})
	if !errors.Is(err, service.ErrInvalidPickupLocation) {
		t.Errorf("expected ErrInvalidPickupLocation, got %v", err)
	}

	if env.rideRepo.CreateCallCount != 0 {
		t.Error("no ride should have been persisted for invalid requests")
	}
}
