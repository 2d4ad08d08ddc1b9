package service

import "errors"

var (
	// ErrInvalidRiderID is returned when the rider ID is empty.
	ErrInvalidRiderID = errors.New("invalid rider ID")

	// ErrInvalidRideID is returned when the ride ID is empty or unknown.
	ErrInvalidRideID = errors.New("invalid ride ID")

	// ErrInvalidDriverID is returned when the driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver ID")

	// ErrInvalidPickupLocation is returned when the pickup coordinate is
	// out of bounds or missing.
	ErrInvalidPickupLocation = errors.New("invalid pickup location")

	// ErrInvalidDestinationLocation is returned when the destination
	// coordinate is out of bounds or missing.
	ErrInvalidDestinationLocation = errors.New("invalid destination location")

	// ErrInvalidLocation is returned when a driver location update
	// carries an out-of-bounds coordinate.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidVehicleType is returned when the vehicle type is not one
	// of the supported values.
	ErrInvalidVehicleType = errors.New("invalid vehicle type")

	// ErrRideNotFound is returned when no ride exists for the given ID.
	ErrRideNotFound = errors.New("ride not found")

	// ErrDriverNotFound is returned when no driver exists for the given ID.
	ErrDriverNotFound = errors.New("driver not found")

	// ErrStateConflict is returned when an operation arrives for a ride
	// whose current status does not permit it.
	ErrStateConflict = errors.New("ride state conflict")

	// ErrNoPendingOffer is returned when an offer response arrives for a
	// driver who has no outstanding offer on the ride.
	ErrNoPendingOffer = errors.New("no pending offer for driver")

	// ErrDriverNotAssigned is returned when a driver acts on a ride that
	// is assigned to someone else.
	ErrDriverNotAssigned = errors.New("driver not assigned to ride")

	// ErrNotRideParticipant is returned when a party that is neither the
	// rider nor the assigned driver tries to act on a ride.
	ErrNotRideParticipant = errors.New("party is not part of this ride")

	// ErrDriverAlreadyExists is returned when registering a driver whose
	// ID or phone is already taken.
	ErrDriverAlreadyExists = errors.New("driver already exists")
)
