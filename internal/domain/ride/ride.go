package ride

import (
	"errors"
	"strings"
	"time"
)

// Ride is the domain entity corresponding to the `rides` table.
type Ride struct {
	// Identity & audit
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Actors
	RiderID  string
	DriverID *string // nil until a driver accepted an offer

	// Matching preferences
	SpecificDriverID *string    // direct request to one driver
	PreferKin        bool       // bias matching toward the rider's trusted drivers
	ScheduledAt      *time.Time // future pickup time; nil for immediate rides

	// Core state
	Status Status

	// Lifecycle timestamps
	RequestedAt time.Time
	OfferedAt   *time.Time
	AcceptedAt  *time.Time
	ArrivedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CanceledAt  *time.Time

	CancellationReason *string
}

var (
	ErrRiderRequired           = errors.New("rider id is required")
	ErrDriverRequired          = errors.New("driver id is required")
	ErrScheduleInPast          = errors.New("scheduled pickup time must be in the future")
	ErrInvalidStatusTransition = errors.New("invalid ride status transition")
	ErrAlreadyAssigned         = errors.New("driver already assigned")
)

// NewRide creates a new ride in REQUESTED state.
func NewRide(riderID string, specificDriverID string, preferKin bool, scheduledAt *time.Time) (*Ride, error) {
	if riderID = strings.TrimSpace(riderID); riderID == "" {
		return nil, ErrRiderRequired
	}

	now := time.Now().UTC()
	if scheduledAt != nil && !scheduledAt.After(now) {
		return nil, ErrScheduleInPast
	}

	ride := &Ride{
		CreatedAt:   now,
		UpdatedAt:   now,
		RiderID:     riderID,
		PreferKin:   preferKin,
		Status:      StatusRequested,
		RequestedAt: now,
	}
	if sd := strings.TrimSpace(specificDriverID); sd != "" {
		ride.SpecificDriverID = &sd
	}
	if scheduledAt != nil {
		at := scheduledAt.UTC()
		ride.ScheduledAt = &at
	}

	return ride, nil
}

// DispatchStart is the moment the dispatch window opens for this ride.
// For pre-booked rides that is the scheduled pickup time, not the creation
// time: the pending-age ceiling counts from here.
func (ride *Ride) DispatchStart() time.Time {
	if ride.ScheduledAt != nil {
		return *ride.ScheduledAt
	}
	return ride.CreatedAt
}

// PendingAge returns how long the ride has been waiting for dispatch as of now.
func (ride *Ride) PendingAge(now time.Time) time.Duration {
	return now.Sub(ride.DispatchStart())
}

// MarkOffered transitions REQUESTED -> OFFERED after offers were written.
func (ride *Ride) MarkOffered() error {
	if !ride.Status.CanTransitionTo(StatusOffered) {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	ride.OfferedAt = &now
	ride.setStatus(StatusOffered)
	return nil
}

// Reoffer transitions OFFERED -> REQUESTED so the matcher can run again.
func (ride *Ride) Reoffer() error {
	if ride.Status != StatusOffered {
		return ErrInvalidStatusTransition
	}
	ride.setStatus(StatusRequested)
	return nil
}

// Accept sets the winning driver and moves OFFERED -> ACCEPTED.
func (ride *Ride) Accept(driverID string) error {
	if driverID == "" {
		return ErrDriverRequired
	}
	if ride.DriverID != nil && *ride.DriverID != "" {
		return ErrAlreadyAssigned
	}
	if ride.Status != StatusOffered {
		return ErrInvalidStatusTransition
	}

	ride.DriverID = &driverID
	now := time.Now().UTC()
	ride.AcceptedAt = &now
	ride.setStatus(StatusAccepted)
	return nil
}

// MarkArriving transitions ACCEPTED -> ARRIVING.
func (ride *Ride) MarkArriving() error {
	if ride.Status != StatusAccepted {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	ride.ArrivedAt = &now
	ride.setStatus(StatusArriving)
	return nil
}

// Start transitions ARRIVING -> IN_PROGRESS.
func (ride *Ride) Start() error {
	if ride.Status != StatusArriving {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	ride.StartedAt = &now
	ride.setStatus(StatusInProgress)
	return nil
}

// Complete transitions IN_PROGRESS -> COMPLETED.
func (ride *Ride) Complete() error {
	if ride.Status != StatusInProgress {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	ride.CompletedAt = &now
	ride.setStatus(StatusCompleted)
	return nil
}

// Cancel transitions to CANCELED from any non-terminal state except IN_PROGRESS.
func (ride *Ride) Cancel(reason string) error {
	if !ride.Status.CanTransitionTo(StatusCanceled) {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	ride.CanceledAt = &now
	if rs := strings.TrimSpace(reason); rs != "" {
		ride.CancellationReason = &rs
	}
	ride.setStatus(StatusCanceled)
	return nil
}

// ----- internal helpers -----

func (ride *Ride) setStatus(status Status) {
	ride.Status = status
	ride.UpdatedAt = time.Now().UTC()
}
