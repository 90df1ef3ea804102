package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RideRepo persists ride requests using pgx and plain SQL.
type RideRepo struct{}

// NewRideRepo constructs a new RideRepo.
func NewRideRepo() ports.RideRepository {
	return &RideRepo{}
}

const rideColumns = `
	id, created_at, updated_at, rider_id, driver_id,
	specific_driver_id, prefer_kin, scheduled_at, status,
	requested_at, offered_at, accepted_at, arrived_at,
	started_at, completed_at, canceled_at, cancellation_reason`

// Create inserts a new ride row and writes the initial RIDE_REQUESTED event.
func (repo *RideRepo) Create(ctx context.Context, r *ride.Ride) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO rides (rider_id, specific_driver_id, prefer_kin, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at, requested_at
	`,
		r.RiderID,
		r.SpecificDriverID,
		r.PreferKin,
		r.ScheduledAt,
		r.Status.String(),
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.RequestedAt)
	if err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}

	return insertDispatchEvent(ctx, tx, r.ID, "RIDE_REQUESTED", map[string]any{
		"new_status":   r.Status.String(),
		"scheduled_at": r.ScheduledAt,
	})
}

// GetByID fetches a ride by primary key.
func (repo *RideRepo) GetByID(ctx context.Context, id string) (*ride.Ride, error) {
	return repo.get(ctx, id, false)
}

// GetByIDForUpdate fetches a ride and row-locks it for the rest of the transaction.
func (repo *RideRepo) GetByIDForUpdate(ctx context.Context, id string) (*ride.Ride, error) {
	return repo.get(ctx, id, true)
}

func (repo *RideRepo) get(ctx context.Context, id string, lock bool) (*ride.Ride, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT` + rideColumns + ` FROM rides WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var out ride.Ride
	var status string
	err = tx.QueryRow(ctx, query, id).Scan(
		&out.ID, &out.CreatedAt, &out.UpdatedAt, &out.RiderID, &out.DriverID,
		&out.SpecificDriverID, &out.PreferKin, &out.ScheduledAt, &status,
		&out.RequestedAt, &out.OfferedAt, &out.AcceptedAt, &out.ArrivedAt,
		&out.StartedAt, &out.CompletedAt, &out.CanceledAt, &out.CancellationReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("select ride: %w", err)
	}
	out.Status = ride.Status(status)

	return &out, nil
}

// MarkOffered moves REQUESTED -> OFFERED. The status predicate makes the
// write a no-op (ErrNotFound) when a concurrent writer got there first.
func (repo *RideRepo) MarkOffered(ctx context.Context, id string, at time.Time) error {
	return repo.transition(ctx, id, ride.StatusRequested, ride.StatusOffered, `offered_at = $2,`, at, nil)
}

// MarkRequested moves OFFERED -> REQUESTED for the re-offer cycle.
func (repo *RideRepo) MarkRequested(ctx context.Context, id string, at time.Time) error {
	return repo.transition(ctx, id, ride.StatusOffered, ride.StatusRequested, ``, at, map[string]any{
		"reason": "all offers terminated without acceptance",
	})
}

// Accept assigns the winning driver and moves OFFERED -> ACCEPTED.
func (repo *RideRepo) Accept(ctx context.Context, id, driverID string, at time.Time) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE rides
		SET status = 'ACCEPTED',
		    driver_id = $1,
		    accepted_at = $2,
		    updated_at = now()
		WHERE id = $3
		  AND status = 'OFFERED'
		  AND driver_id IS NULL
	`, driverID, at, id)
	if err != nil {
		return fmt.Errorf("accept ride: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}

	return insertDispatchEvent(ctx, tx, id, "RIDE_ACCEPTED", map[string]any{
		"old_status":  ride.StatusOffered.String(),
		"new_status":  ride.StatusAccepted.String(),
		"driver_id":   driverID,
		"accepted_at": at.UTC().Format(time.RFC3339),
	})
}

// UpdateStatus performs a guarded pass-through transition conditioned on the
// previously read status.
func (repo *RideRepo) UpdateStatus(ctx context.Context, id string, from, to ride.Status, at time.Time) error {
	if !from.CanTransitionTo(to) {
		return ride.ErrInvalidStatusTransition
	}
	extra := ""
	switch to {
	case ride.StatusArriving:
		extra = `arrived_at = $2,`
	case ride.StatusInProgress:
		extra = `started_at = $2,`
	case ride.StatusCompleted:
		extra = `completed_at = $2,`
	}
	return repo.transition(ctx, id, from, to, extra, at, nil)
}

// Cancel moves any cancelable status to CANCELED and records the reason.
func (repo *RideRepo) Cancel(ctx context.Context, id, reason string, at time.Time) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM rides WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrNotFound
		}
		return fmt.Errorf("lock ride: %w", err)
	}

	// idempotent success
	if current == ride.StatusCanceled.String() {
		return nil
	}
	if !ride.Status(current).CanTransitionTo(ride.StatusCanceled) {
		return ride.ErrInvalidStatusTransition
	}

	_, err = tx.Exec(ctx, `
		UPDATE rides
		SET status = 'CANCELED',
		    cancellation_reason = $1,
		    canceled_at = $2,
		    updated_at = now()
		WHERE id = $3
	`, reason, at, id)
	if err != nil {
		return fmt.Errorf("cancel ride: %w", err)
	}

	return insertDispatchEvent(ctx, tx, id, "RIDE_CANCELED", map[string]any{
		"old_status":  current,
		"new_status":  ride.StatusCanceled.String(),
		"reason":      reason,
		"canceled_at": at.UTC().Format(time.RFC3339),
	})
}

// FindScheduledDue returns REQUESTED rides whose scheduled pickup time falls
// inside [from, to].
func (repo *RideRepo) FindScheduledDue(ctx context.Context, from, to time.Time) ([]*ride.Ride, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT`+rideColumns+`
		FROM rides
		WHERE status = 'REQUESTED'
		  AND scheduled_at IS NOT NULL
		  AND scheduled_at >= $1
		  AND scheduled_at <= $2
		ORDER BY scheduled_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query scheduled rides: %w", err)
	}
	defer rows.Close()

	var rides []*ride.Ride
	for rows.Next() {
		var out ride.Ride
		var status string
		err := rows.Scan(
			&out.ID, &out.CreatedAt, &out.UpdatedAt, &out.RiderID, &out.DriverID,
			&out.SpecificDriverID, &out.PreferKin, &out.ScheduledAt, &status,
			&out.RequestedAt, &out.OfferedAt, &out.AcceptedAt, &out.ArrivedAt,
			&out.StartedAt, &out.CompletedAt, &out.CanceledAt, &out.CancellationReason,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		out.Status = ride.Status(status)
		rides = append(rides, &out)
	}

	return rides, rows.Err()
}

// FindOverdueRequested returns ids of REQUESTED rides whose dispatch window
// opened before cutoff and that have no pending offers left. These are rides
// the matcher could never place (e.g. a direct request to a driver who never
// came online).
func (repo *RideRepo) FindOverdueRequested(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT r.id
		FROM rides r
		WHERE r.status = 'REQUESTED'
		  AND COALESCE(r.scheduled_at, r.created_at) < $1
		  AND NOT EXISTS (
			SELECT 1 FROM ride_offers o
			WHERE o.ride_id = r.id AND o.status = 'PENDING'
		  )
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query overdue rides: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ride id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// transition is the shared guarded status update. extraSet, when non-empty,
// must be a "column = $2," fragment stamping the matching timeline column.
func (repo *RideRepo) transition(ctx context.Context, id string, from, to ride.Status, extraSet string, at time.Time, eventData map[string]any) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	var tag pgconn.CommandTag
	if extraSet != "" {
		query := `
			UPDATE rides
			SET status = $1, ` + extraSet + `
			    updated_at = now()
			WHERE id = $3 AND status = $4`
		tag, err = tx.Exec(ctx, query, to.String(), at, id, from.String())
	} else {
		query := `
			UPDATE rides
			SET status = $1,
			    updated_at = now()
			WHERE id = $2 AND status = $3`
		tag, err = tx.Exec(ctx, query, to.String(), id, from.String())
	}
	if err != nil {
		return fmt.Errorf("update ride status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}

	data := map[string]any{
		"old_status": from.String(),
		"new_status": to.String(),
		"timestamp":  at.UTC().Format(time.RFC3339),
	}
	for k, v := range eventData {
		data[k] = v
	}
	return insertDispatchEvent(ctx, tx, id, eventTypeFor(to), data)
}

// eventTypeFor returns the audit event name for a status transition.
func eventTypeFor(status ride.Status) string {
	switch status {
	case ride.StatusOffered:
		return "OFFERS_CREATED"
	case ride.StatusRequested:
		return "RIDE_REOFFERED"
	case ride.StatusAccepted:
		return "RIDE_ACCEPTED"
	case ride.StatusArriving:
		return "DRIVER_ARRIVING"
	case ride.StatusInProgress:
		return "RIDE_STARTED"
	case ride.StatusCompleted:
		return "RIDE_COMPLETED"
	case ride.StatusCanceled:
		return "RIDE_CANCELED"
	default:
		return "STATUS_CHANGED"
	}
}
