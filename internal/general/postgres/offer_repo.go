package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ride-dispatch/internal/domain/offer"
	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5"
)

// OfferRepo persists ride offers using pgx and plain SQL.
type OfferRepo struct{}

// NewOfferRepo constructs a new OfferRepo.
func NewOfferRepo() ports.OfferRepository {
	return &OfferRepo{}
}

const offerColumns = `id, ride_id, driver_id, status, created_at, responded_at, expires_at`

// CreateBatch inserts one PENDING offer row per candidate.
func (repo *OfferRepo) CreateBatch(ctx context.Context, offers []*offer.Offer) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	for _, of := range offers {
		err := tx.QueryRow(ctx, `
			INSERT INTO ride_offers (ride_id, driver_id, status, expires_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`,
			of.RideID,
			of.DriverID,
			of.Status.String(),
			of.ExpiresAt,
		).Scan(&of.ID, &of.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert offer for driver %s: %w", of.DriverID, err)
		}
	}

	return nil
}

// GetByID fetches an offer by primary key.
func (repo *OfferRepo) GetByID(ctx context.Context, id string) (*offer.Offer, error) {
	return repo.get(ctx, id, false)
}

// GetByIDForUpdate fetches an offer and row-locks it for the rest of the transaction.
func (repo *OfferRepo) GetByIDForUpdate(ctx context.Context, id string) (*offer.Offer, error) {
	return repo.get(ctx, id, true)
}

func (repo *OfferRepo) get(ctx context.Context, id string, lock bool) (*offer.Offer, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + offerColumns + ` FROM ride_offers WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var out offer.Offer
	var status string
	err = tx.QueryRow(ctx, query, id).Scan(
		&out.ID, &out.RideID, &out.DriverID, &status,
		&out.CreatedAt, &out.RespondedAt, &out.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("select offer: %w", err)
	}
	out.Status = offer.Status(status)

	return &out, nil
}

// ListByRide returns every offer ever created for a ride, oldest first.
func (repo *OfferRepo) ListByRide(ctx context.Context, rideID string) ([]*offer.Offer, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+offerColumns+`
		FROM ride_offers
		WHERE ride_id = $1
		ORDER BY created_at
	`, rideID)
	if err != nil {
		return nil, fmt.Errorf("query offers by ride: %w", err)
	}
	defer rows.Close()

	var offers []*offer.Offer
	for rows.Next() {
		var out offer.Offer
		var status string
		err := rows.Scan(
			&out.ID, &out.RideID, &out.DriverID, &status,
			&out.CreatedAt, &out.RespondedAt, &out.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		out.Status = offer.Status(status)
		offers = append(offers, &out)
	}

	return offers, rows.Err()
}

// ExpireStale bulk-moves overdue PENDING offers to EXPIRED. The predicate
// alone is the guard: PENDING -> EXPIRED by deadline is monotonic, so a
// repeated sweep of the same instant changes nothing.
func (repo *OfferRepo) ExpireStale(ctx context.Context, now time.Time) (int, []string, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return 0, nil, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE ride_offers
		SET status = 'EXPIRED'
		WHERE status = 'PENDING' AND expires_at < $1
		RETURNING ride_id
	`, now)
	if err != nil {
		return 0, nil, fmt.Errorf("expire stale offers: %w", err)
	}
	defer rows.Close()

	expired := 0
	seen := map[string]struct{}{}
	var rideIDs []string
	for rows.Next() {
		var rideID string
		if err := rows.Scan(&rideID); err != nil {
			return 0, nil, fmt.Errorf("scan expired ride id: %w", err)
		}
		expired++
		if _, ok := seen[rideID]; !ok {
			seen[rideID] = struct{}{}
			rideIDs = append(rideIDs, rideID)
		}
	}

	return expired, rideIDs, rows.Err()
}

// HasLive reports whether the ride still has a PENDING or ACCEPTED offer.
func (repo *OfferRepo) HasLive(ctx context.Context, rideID string) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	var live bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ride_offers
			WHERE ride_id = $1 AND status IN ('PENDING', 'ACCEPTED')
		)
	`, rideID).Scan(&live)
	if err != nil {
		return false, fmt.Errorf("query live offers: %w", err)
	}

	return live, nil
}

// Accept moves one offer PENDING -> ACCEPTED. ErrNotFound means the offer is
// no longer pending (raced by expiry, decline or another state change).
func (repo *OfferRepo) Accept(ctx context.Context, id string, at time.Time) error {
	return repo.respond(ctx, id, offer.StatusAccepted, at)
}

// Decline moves one offer PENDING -> DECLINED.
func (repo *OfferRepo) Decline(ctx context.Context, id string, at time.Time) error {
	return repo.respond(ctx, id, offer.StatusDeclined, at)
}

func (repo *OfferRepo) respond(ctx context.Context, id string, to offer.Status, at time.Time) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ride_offers
		SET status = $1, responded_at = $2
		WHERE id = $3 AND status = 'PENDING'
	`, to.String(), at, id)
	if err != nil {
		return fmt.Errorf("update offer status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}

	return nil
}

// DeclineSiblings moves every other PENDING offer of the ride to DECLINED in
// the same unit of work as the winning accept.
func (repo *OfferRepo) DeclineSiblings(ctx context.Context, rideID, winningOfferID string, at time.Time) (int, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ride_offers
		SET status = 'DECLINED', responded_at = $1
		WHERE ride_id = $2 AND id <> $3 AND status = 'PENDING'
	`, at, rideID, winningOfferID)
	if err != nil {
		return 0, fmt.Errorf("decline sibling offers: %w", err)
	}

	return int(tag.RowsAffected()), nil
}
