package service

import (
	"context"
	"fmt"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/ports"
)

// CreateRide persists a new REQUESTED ride. Immediate rides go straight into
// matching; scheduled rides wait for the trigger job.
func (s *Service) CreateRide(ctx context.Context, in ports.CreateRideInput) (ports.CreateRideResult, error) {
	r, err := ride.NewRide(in.RiderID, in.SpecificDriverID, in.PreferKin, in.ScheduledAt)
	if err != nil {
		return ports.CreateRideResult{}, err
	}

	err = s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return s.rides.Create(txCtx, r)
	})
	if err != nil {
		return ports.CreateRideResult{}, fmt.Errorf("create ride: %w", err)
	}

	ctx = s.logger.WithRideID(ctx, r.ID)
	s.metrics.RidesRequested.Inc()
	s.logger.Info(ctx, "ride_requested", "Ride request created", map[string]any{
		"rider_id":     r.RiderID,
		"scheduled_at": r.ScheduledAt,
		"prefer_kin":   r.PreferKin,
	})

	// speculative: a failed match leaves the ride REQUESTED for the next pass
	if r.ScheduledAt == nil {
		if err := s.CreateOffersForRide(ctx, r.ID); err != nil {
			s.logger.Error(ctx, "initial_match_failed", "Initial matching attempt failed", err, nil)
		}
	}

	return ports.CreateRideResult{
		RideID:      r.ID,
		Status:      r.Status.String(),
		ScheduledAt: r.ScheduledAt,
	}, nil
}
