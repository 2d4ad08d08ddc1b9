package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
type RideRepository struct {
	q Querier
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{q: db}
}

// NewRideRepositoryWithTx creates a ride repository using a transaction.
func NewRideRepositoryWithTx(tx *sql.Tx) *RideRepository {
	return &RideRepository{q: tx}
}

const rideColumns = `id, rider_id, pickup_lat, pickup_lng, destination_lat, destination_lng, status, assigned_driver_id, quote_distance_km, quote_duration_min, quote_vehicle_type, quote_price, cancelled_at, cancel_reason, created_at, state_changed_at`

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	query := `
		INSERT INTO rides (` + rideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.q.ExecContext(ctx, query,
		ride.ID,
		ride.RiderID,
		ride.Pickup.Lat,
		ride.Pickup.Lng,
		ride.Destination.Lat,
		ride.Destination.Lng,
		ride.Status,
		nullString(ride.AssignedDriverID),
		ride.Quote.DistanceKm,
		ride.Quote.DurationMin,
		ride.Quote.VehicleType,
		ride.Quote.Price,
		nullTime(ride.CancelledAt),
		nullString(ride.CancelReason),
		ride.CreatedAt,
		ride.StateChangedAt,
	)

	return err
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// GetByRider retrieves all rides requested by the rider, newest first.
func (r *RideRepository) GetByRider(ctx context.Context, riderID string) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE rider_id = $1 ORDER BY created_at DESC LIMIT 100`

	rows, err := r.q.QueryContext(ctx, query, riderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// Update updates an existing ride.
func (r *RideRepository) Update(ctx context.Context, ride *domain.Ride) error {
	query := `
		UPDATE rides
		SET status = $1, assigned_driver_id = $2, cancelled_at = $3, cancel_reason = $4, state_changed_at = $5
		WHERE id = $6
	`

	result, err := r.q.ExecContext(ctx, query,
		ride.Status,
		nullString(ride.AssignedDriverID),
		nullTime(ride.CancelledAt),
		nullString(ride.CancelReason),
		ride.StateChangedAt,
		ride.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (*domain.Ride, error) {
	var ride domain.Ride
	var assignedDriverID sql.NullString
	var cancelledAt sql.NullTime
	var cancelReason sql.NullString

	err := s.Scan(
		&ride.ID,
		&ride.RiderID,
		&ride.Pickup.Lat,
		&ride.Pickup.Lng,
		&ride.Destination.Lat,
		&ride.Destination.Lng,
		&ride.Status,
		&assignedDriverID,
		&ride.Quote.DistanceKm,
		&ride.Quote.DurationMin,
		&ride.Quote.VehicleType,
		&ride.Quote.Price,
		&cancelledAt,
		&cancelReason,
		&ride.CreatedAt,
		&ride.StateChangedAt,
	)
	if err != nil {
		return nil, err
	}

	if assignedDriverID.Valid {
		ride.AssignedDriverID = assignedDriverID.String
	}
	if cancelledAt.Valid {
		ride.CancelledAt = cancelledAt.Time
	}
	if cancelReason.Valid {
		ride.CancelReason = cancelReason.String
	}
	return &ride, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
