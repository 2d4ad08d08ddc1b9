package domain

import "time"

// DriverStatus represents the durable account-level status of a driver.
type DriverStatus string

const (
	DriverStatusOnline  DriverStatus = "ONLINE"
	DriverStatusOffline DriverStatus = "OFFLINE"
	DriverStatusOnTrip  DriverStatus = "ON_TRIP"
)

// Driver represents a driver account in the system. Live position and
// availability are not stored here; they belong to the presence registry.
type Driver struct {
	ID      string
	Name    string
	Phone   string
	Vehicle VehicleType
	Status  DriverStatus
}

// DriverPresence is the live, ephemeral connectivity and location state of a
// driver. Available tracks connection-level liveness; Busy tracks ride
// assignment. The two are independent: a driver is a dispatch candidate only
// when Available && !Busy.
type DriverPresence struct {
	DriverID      string
	Coordinate    Coordinate
	HasLocation   bool
	Available     bool
	Busy          bool
	Connected     bool
	LastUpdatedAt time.Time
}
