package postgres

import (
	"context"
	"errors"
	"fmt"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5"
)

// DriverRepo reads the driver eligibility view using pgx and plain SQL.
type DriverRepo struct{}

// NewDriverRepo constructs a new DriverRepo.
func NewDriverRepo() ports.DriverRepository {
	return &DriverRepo{}
}

// GetByID returns one driver by id.
func (repo *DriverRepo) GetByID(ctx context.Context, id string) (*driver.Driver, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var out driver.Driver
	err = tx.QueryRow(ctx, `
		SELECT id, is_verified, created_at, updated_at
		FROM drivers
		WHERE id = $1
	`, id).Scan(&out.ID, &out.IsVerified, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("select driver: %w", err)
	}

	return &out, nil
}

// FilterVerified returns the subset of ids that belong to verified drivers.
// Order follows the input slice so callers can apply a stable cap.
func (repo *DriverRepo) FilterVerified(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id FROM drivers
		WHERE id = ANY($1) AND is_verified
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("filter verified drivers: %w", err)
	}
	defer rows.Close()

	verified := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan driver id: %w", err)
		}
		verified[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []string
	for _, id := range ids {
		if _, ok := verified[id]; ok {
			out = append(out, id)
		}
	}

	return out, nil
}

// KinOf returns the rider's trusted driver ids, oldest entry first.
func (repo *DriverRepo) KinOf(ctx context.Context, riderID string) ([]string, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT driver_id FROM rider_kin
		WHERE rider_id = $1
		ORDER BY created_at
	`, riderID)
	if err != nil {
		return nil, fmt.Errorf("query rider kin: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan kin driver id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
