package domain

// VehicleType selects the pricing tier for a ride.
type VehicleType string

const (
	VehicleTypeCar  VehicleType = "CAR"
	VehicleTypeMoto VehicleType = "MOTO"
	VehicleTypeAuto VehicleType = "AUTO"
)

// FareQuote is an estimated distance/duration/price for a prospective trip.
// It is immutable once produced and lives only for the duration of a single
// ride-request flow. Distance and duration retain full precision; rounding
// for display happens at the transport layer.
type FareQuote struct {
	DistanceKm  float64
	DurationMin float64
	VehicleType VehicleType
	Price       float64
}
