package ports

import (
	"context"
	"errors"
	"time"

	"ride-dispatch/internal/domain/ride"
)

// ----- DTOs for the Dispatch Service -----

// CreateRideInput is the validated input required to create a ride request.
type CreateRideInput struct {
	RiderID          string
	SpecificDriverID string     // optional direct request to one driver
	PreferKin        bool       // bias matching toward the rider's trusted drivers
	ScheduledAt      *time.Time // optional future pickup time
}

// CreateRideResult is returned by DispatchService.CreateRide.
type CreateRideResult struct {
	RideID      string     `json:"ride_id"`
	Status      string     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// SweepResult reports the effect of one expiry sweep.
type SweepResult struct {
	Expired   int `json:"expired"`
	Reoffered int `json:"reoffered"`
	Canceled  int `json:"canceled"`
}

// Effect is the total number of rows the sweep touched; the job runner logs
// a sweep only when this is non-zero.
func (r SweepResult) Effect() int {
	return r.Expired + r.Reoffered + r.Canceled
}

// TriggerResult reports the effect of one scheduled-ride trigger pass.
type TriggerResult struct {
	Triggered int `json:"triggered"`
}

// AcceptOfferInput identifies the offer a driver is accepting.
type AcceptOfferInput struct {
	OfferID  string
	DriverID string // from auth; must own the offer
}

// AcceptOfferResult is returned to the winning driver.
type AcceptOfferResult struct {
	RideID     string    `json:"ride_id"`
	Status     string    `json:"status"` // ride status, "ACCEPTED"
	AcceptedAt time.Time `json:"accepted_at"`
}

// CancelRideResult is returned when a rider cancels a ride.
type CancelRideResult struct {
	RideID     string    `json:"ride_id"`
	Status     string    `json:"status"`
	CanceledAt time.Time `json:"canceled_at"`
}

// ----- Service errors surfaced at the boundary -----

var (
	// ErrOfferUnavailable means the offer can no longer be accepted: another
	// driver already won, the offer expired, or the ride left OFFERED.
	ErrOfferUnavailable = errors.New("offer no longer available")
	// ErrOfferNotOwned means the caller is not the driver the offer targets.
	ErrOfferNotOwned = errors.New("offer belongs to another driver")
)

// ----- Dispatch Service Interface -----

// DispatchService is the ride dispatch and offer lifecycle engine.
type DispatchService interface {
	// CreateRide persists a new REQUESTED ride and, for immediate rides,
	// speculatively invokes the matcher.
	CreateRide(ctx context.Context, in CreateRideInput) (CreateRideResult, error)

	// CreateOffersForRide runs candidate selection and writes one PENDING
	// offer per candidate, moving the ride to OFFERED. A ride that is missing
	// or not in REQUESTED state is a silent no-op, so callers may invoke it
	// speculatively.
	CreateOffersForRide(ctx context.Context, rideID string) error

	// ExpireStaleOffers is one sweep: bulk-expire overdue PENDING offers,
	// then re-offer or cancel each affected ride.
	ExpireStaleOffers(ctx context.Context) (SweepResult, error)

	// TriggerScheduledRides promotes rides whose scheduled pickup time has
	// arrived into the matching pipeline.
	TriggerScheduledRides(ctx context.Context) (TriggerResult, error)

	// AcceptOffer atomically accepts one offer, declines its siblings and
	// moves the ride to ACCEPTED. Exactly one concurrent caller can win.
	AcceptOffer(ctx context.Context, in AcceptOfferInput) (AcceptOfferResult, error)

	// DeclineOffer marks one offer DECLINED; when that was the last live
	// offer the ride is resolved (re-offered or canceled) immediately.
	DeclineOffer(ctx context.Context, offerID, driverID string) error

	// UpdateRideStatus applies a guarded pass-through transition driven by
	// driver/rider clients (ARRIVING, IN_PROGRESS, COMPLETED).
	UpdateRideStatus(ctx context.Context, rideID string, next ride.Status) error

	// CancelRide cancels on behalf of the rider.
	CancelRide(ctx context.Context, rideID, reason string) (CancelRideResult, error)

	// PruneDispatchEvents deletes audit events past the retention window.
	PruneDispatchEvents(ctx context.Context) (int64, error)
}

// Notifier delivers dispatch events to connected clients. Delivery is
// fire-and-forget: implementations log failures and never propagate them,
// so a dead socket cannot fail a dispatch operation.
type Notifier interface {
	// NotifyDriver pushes an event to one driver.
	NotifyDriver(ctx context.Context, driverID, event string, payload any)
	// NotifyRide pushes an event to everyone following a ride (its rider,
	// and the assigned driver once there is one).
	NotifyRide(ctx context.Context, rideID, riderID, event string, payload any)
}

// Clock abstracts the time source so expiry and ceiling logic is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
