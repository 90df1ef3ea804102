package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5"
)

// EventRepo writes the dispatch_events audit trail.
type EventRepo struct{}

// NewEventRepo constructs a new EventRepo.
func NewEventRepo() ports.EventRepository {
	return &EventRepo{}
}

// Append records one audit event for a ride.
func (repo *EventRepo) Append(ctx context.Context, rideID, eventType string, data map[string]any) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}
	return insertDispatchEvent(ctx, tx, rideID, eventType, data)
}

// PruneOlderThan deletes audit rows created before cutoff and returns the
// number of rows removed.
func (repo *EventRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM dispatch_events
		WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune dispatch events: %w", err)
	}

	return tag.RowsAffected(), nil
}

// insertDispatchEvent writes one jsonb audit row inside the caller's
// transaction. A nil data map stores an empty object.
func insertDispatchEvent(ctx context.Context, tx pgx.Tx, rideID, eventType string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO dispatch_events (ride_id, event_type, data)
		VALUES ($1, $2, $3)
	`, rideID, eventType, payload)
	if err != nil {
		return fmt.Errorf("insert dispatch event %s: %w", eventType, err)
	}

	return nil
}
