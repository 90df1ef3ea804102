package service

import (
	"context"
	"fmt"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/ports"
)

// TriggerScheduledRides promotes scheduled rides whose pickup time has
// arrived into the matching pipeline. The window trails behind now so a
// trigger pass missed during downtime is caught by the next one; anything
// older than the trailing window is left for the sweeper's ceiling check.
func (s *Service) TriggerScheduledRides(ctx context.Context) (ports.TriggerResult, error) {
	now := s.clock.Now()
	from := now.Add(-s.cfg.TriggerWindow())

	var due []*ride.Ride
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		due, err = s.rides.FindScheduledDue(txCtx, from, now)
		return err
	})
	if err != nil {
		return ports.TriggerResult{}, fmt.Errorf("find scheduled rides: %w", err)
	}

	var result ports.TriggerResult
	for _, r := range due {
		rideCtx := s.logger.WithRideID(ctx, r.ID)

		// CreateOffersForRide re-checks status under lock, so a ride another
		// trigger pass already moved is a silent no-op here
		if err := s.CreateOffersForRide(rideCtx, r.ID); err != nil {
			s.logger.Error(rideCtx, "trigger_match_failed", "Matching failed for scheduled ride", err, nil)
			continue
		}
		result.Triggered++
		s.metrics.RidesTriggered.Inc()
	}

	return result, nil
}
