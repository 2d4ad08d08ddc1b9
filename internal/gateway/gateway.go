// Package gateway delivers push events to connected riders and drivers.
package gateway

// Event names pushed by the dispatch core.
const (
	EventRideOffer      = "ride-offer"
	EventRideMatched    = "ride-matched"
	EventRideStarted    = "ride-started"
	EventRideCompleted  = "ride-completed"
	EventRideCancelled  = "ride-cancelled"
	EventRideExpired    = "ride-expired"
	EventDriverLocation = "driver-location"
)

// Notifier is the push channel consumed by the dispatch state machine.
// Delivery is best-effort and at-most-once, ordered per connection; Send
// silently drops the event when the party has no live connection. Callers
// must treat it as fire-and-forget: ride state stays authoritative in the
// Ride entity whether or not a push arrives.
type Notifier interface {
	Send(partyID, event string, payload any)
}
