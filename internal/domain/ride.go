package domain

import "time"

// RideStatus represents the current status of a ride.
type RideStatus string

const (
	RideStatusRequested RideStatus = "REQUESTED"
	RideStatusSearching RideStatus = "SEARCHING"
	RideStatusMatched   RideStatus = "MATCHED"
	RideStatusStarted   RideStatus = "STARTED"
	RideStatusCompleted RideStatus = "COMPLETED"
	RideStatusCancelled RideStatus = "CANCELLED"
	RideStatusExpired   RideStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are permitted from s.
func (s RideStatus) Terminal() bool {
	switch s {
	case RideStatusCompleted, RideStatusCancelled, RideStatusExpired:
		return true
	}
	return false
}

// rideTransitions encodes the legal state machine edges. Transitions are
// monotonic: a ride never moves backward through this graph.
//
// Started -> Cancelled is reserved for the driver-disconnect cancel flow;
// regular cancellation stops being available once the trip has started.
var rideTransitions = map[RideStatus][]RideStatus{
	RideStatusRequested: {RideStatusSearching, RideStatusCancelled},
	RideStatusSearching: {RideStatusMatched, RideStatusCancelled, RideStatusExpired},
	RideStatusMatched:   {RideStatusStarted, RideStatusCancelled},
	RideStatusStarted:   {RideStatusCompleted, RideStatusCancelled},
}

// CanTransition reports whether from -> to is a legal ride transition.
func CanTransition(from, to RideStatus) bool {
	for _, next := range rideTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AssertInvariants panics when the ride violates the driver-assignment
// invariant: MATCHED, STARTED and COMPLETED rides always carry a driver.
// Callers invoke it at every transition commit; a violation is a
// programming error, not a recoverable condition.
func (r *Ride) AssertInvariants() {
	switch r.Status {
	case RideStatusMatched, RideStatusStarted, RideStatusCompleted:
		if r.AssignedDriverID == "" {
			panic("ride " + r.ID + " is " + string(r.Status) + " without an assigned driver")
		}
	}
}

// Ride represents a ride request moving through the dispatch lifecycle.
// AssignedDriverID is set if and only if the ride is MATCHED, STARTED or
// COMPLETED.
type Ride struct {
	ID               string
	RiderID          string
	Pickup           Coordinate
	Destination      Coordinate
	Status           RideStatus
	AssignedDriverID string
	Quote            FareQuote
	CreatedAt        time.Time
	StateChangedAt   time.Time
	CancelledAt      time.Time
	CancelReason     string
}
