package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rides(id, rider_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
		                   vehicle_class, estimated_fare, status, requested_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.RiderID, r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng,
		r.VehicleClass, r.EstimatedFare, r.Status, r.RequestedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, rider_id, COALESCE(driver_id,''), pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
		        vehicle_class, estimated_fare, status, COALESCE(cancel_reason,''),
		        requested_at, accepted_at, started_at, completed_at, cancelled_at
		 FROM rides WHERE id=$1`, id)
	return scanRide(row)
}

// UpdateRideStatus performs the compare-and-set in a single UPDATE guarded
// by the expected status, which is what makes concurrent claims race-safe:
// the row-level lock serializes writers and the WHERE clause rejects losers.
func (p *PostgresStore) UpdateRideStatus(ctx context.Context, id string, expected models.RideStatus, upd StatusUpdate) (*models.Ride, error) {
	at := upd.At
	if at.IsZero() {
		at = time.Now()
	}
	row := p.db.QueryRowContext(ctx,
		`UPDATE rides SET
		   status=$2,
		   driver_id=CASE WHEN $3<>'' THEN $3 ELSE driver_id END,
		   cancel_reason=CASE WHEN $4<>'' THEN $4 ELSE cancel_reason END,
		   accepted_at=CASE WHEN $2='accepted' THEN $5 ELSE accepted_at END,
		   started_at=CASE WHEN $2='in_progress' THEN $5 ELSE started_at END,
		   completed_at=CASE WHEN $2='completed' THEN $5 ELSE completed_at END,
		   cancelled_at=CASE WHEN $2='cancelled' THEN $5 ELSE cancelled_at END
		 WHERE id=$1 AND status=$6
		 RETURNING id, rider_id, COALESCE(driver_id,''), pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
		           vehicle_class, estimated_fare, status, COALESCE(cancel_reason,''),
		           requested_at, accepted_at, started_at, completed_at, cancelled_at`,
		id, upd.NewStatus, upd.DriverID, upd.CancelReason, at, expected)
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		// distinguish a missing ride from a lost race
		if _, getErr := p.GetRide(ctx, id); getErr == nil {
			return nil, ErrStatusConflict
		}
		return nil, ErrNotFound
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var accepted, started, completed, cancelled sql.NullTime
	err := row.Scan(&r.ID, &r.RiderID, &r.DriverID, &r.Pickup.Lat, &r.Pickup.Lng,
		&r.Dropoff.Lat, &r.Dropoff.Lng, &r.VehicleClass, &r.EstimatedFare,
		&r.Status, &r.CancelReason, &r.RequestedAt, &accepted, &started, &completed, &cancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if accepted.Valid {
		r.AcceptedAt = &accepted.Time
	}
	if started.Valid {
		r.StartedAt = &started.Time
	}
	if completed.Valid {
		r.CompletedAt = &completed.Time
	}
	if cancelled.Valid {
		r.CancelledAt = &cancelled.Time
	}
	return &r, nil
}
