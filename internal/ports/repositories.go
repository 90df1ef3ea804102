package ports

import (
	"context"
	"errors"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/domain/offer"
	"ride-dispatch/internal/domain/ride"
)

// ErrNotFound is returned by repositories when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// UnitOfWork interface is used to manage transactions across multiple repository operations.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RideRepository defines the methods for managing ride request data.
//
// Every mutation that changes ride status carries a `WHERE status = <expected>`
// predicate, so a concurrent writer that already moved the ride causes the
// update to fail with ErrNotFound instead of silently losing a transition.
type RideRepository interface {
	Create(ctx context.Context, r *ride.Ride) error
	GetByID(ctx context.Context, id string) (*ride.Ride, error)
	// GetByIDForUpdate row-locks the ride for the remainder of the transaction.
	GetByIDForUpdate(ctx context.Context, id string) (*ride.Ride, error)

	// MarkOffered moves REQUESTED -> OFFERED.
	MarkOffered(ctx context.Context, id string, at time.Time) error
	// MarkRequested moves OFFERED -> REQUESTED (the re-offer cycle).
	MarkRequested(ctx context.Context, id string, at time.Time) error
	// Accept assigns the winning driver and moves OFFERED -> ACCEPTED.
	Accept(ctx context.Context, id, driverID string, at time.Time) error
	// UpdateStatus performs a guarded pass-through transition (ARRIVING,
	// IN_PROGRESS, COMPLETED) conditioned on the previously read status.
	UpdateStatus(ctx context.Context, id string, from, to ride.Status, at time.Time) error
	Cancel(ctx context.Context, id, reason string, at time.Time) error

	// FindScheduledDue returns REQUESTED rides whose scheduled pickup time
	// falls inside [from, to].
	FindScheduledDue(ctx context.Context, from, to time.Time) ([]*ride.Ride, error)
	// FindOverdueRequested returns ids of REQUESTED rides whose dispatch
	// window opened before cutoff and that have no pending offers.
	FindOverdueRequested(ctx context.Context, cutoff time.Time) ([]string, error)
}

// OfferRepository defines the methods for managing ride offer data.
type OfferRepository interface {
	CreateBatch(ctx context.Context, offers []*offer.Offer) error
	GetByID(ctx context.Context, id string) (*offer.Offer, error)
	GetByIDForUpdate(ctx context.Context, id string) (*offer.Offer, error)
	ListByRide(ctx context.Context, rideID string) ([]*offer.Offer, error)

	// ExpireStale bulk-moves every PENDING offer whose deadline passed to
	// EXPIRED and returns how many rows changed plus the distinct rides they
	// belonged to. Moving PENDING -> EXPIRED by deadline is monotonic and
	// idempotent, so no per-row condition beyond the predicate is needed.
	ExpireStale(ctx context.Context, now time.Time) (expired int, rideIDs []string, err error)

	// HasLive reports whether the ride still has a PENDING or ACCEPTED offer.
	HasLive(ctx context.Context, rideID string) (bool, error)

	// Accept moves one offer PENDING -> ACCEPTED; ErrNotFound when the offer
	// is no longer pending.
	Accept(ctx context.Context, id string, at time.Time) error
	// Decline moves one offer PENDING -> DECLINED; ErrNotFound when the offer
	// is no longer pending.
	Decline(ctx context.Context, id string, at time.Time) error
	// DeclineSiblings moves every other PENDING offer of the ride to DECLINED
	// and returns how many rows changed.
	DeclineSiblings(ctx context.Context, rideID, winningOfferID string, at time.Time) (int, error)
}

// DriverRepository is the driver eligibility query surface. The dispatch core
// never mutates drivers; it only reads identity, verification and Kin rows.
type DriverRepository interface {
	GetByID(ctx context.Context, id string) (*driver.Driver, error)
	// FilterVerified returns the subset of ids that belong to verified drivers.
	FilterVerified(ctx context.Context, ids []string) ([]string, error)
	// KinOf returns the rider's trusted driver ids.
	KinOf(ctx context.Context, riderID string) ([]string, error)
}

// PresenceStore tracks which drivers are currently online. Entries carry a
// TTL refreshed by driver heartbeats, so a vanished driver falls out of the
// online set without any cleanup pass.
type PresenceStore interface {
	Heartbeat(ctx context.Context, driverID string) error
	MarkOffline(ctx context.Context, driverID string) error
	IsOnline(ctx context.Context, driverID string) (bool, error)
	OnlineIDs(ctx context.Context) ([]string, error)
	FilterOnline(ctx context.Context, ids []string) ([]string, error)
}

// EventRepository appends dispatch audit events and prunes old ones.
type EventRepository interface {
	Append(ctx context.Context, rideID, eventType string, data map[string]any) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
