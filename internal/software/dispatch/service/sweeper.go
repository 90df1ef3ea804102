package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/ports"
)

// reasonDispatchTimeout is the cancellation reason stamped on rides that
// stayed undispatched past the pending ceiling.
const reasonDispatchTimeout = "no driver accepted in time"

// ExpireStaleOffers is one sweep pass: bulk-expire overdue PENDING offers,
// resolve every ride they belonged to, then cancel REQUESTED rides that sat
// past the pending ceiling with nothing to wait for.
func (s *Service) ExpireStaleOffers(ctx context.Context) (ports.SweepResult, error) {
	now := s.clock.Now()
	var result ports.SweepResult

	timer := s.metrics.SweepDuration
	defer func(start func() float64) {
		timer.Observe(start())
	}(elapsedSince(s.clock))

	// phase 1: one bulk update flips every overdue PENDING offer
	var rideIDs []string
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		result.Expired, rideIDs, err = s.offers.ExpireStale(txCtx, now)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("expire offers: %w", err)
	}
	if result.Expired > 0 {
		s.metrics.OffersExpired.Add(float64(result.Expired))
	}

	// phase 2: each affected ride gets its own transaction so one bad ride
	// cannot poison the rest of the sweep
	for _, rideID := range rideIDs {
		reoffered, canceled, err := s.resolveRide(ctx, rideID, now)
		if err != nil {
			s.logger.Error(s.logger.WithRideID(ctx, rideID), "sweep_resolve_failed", "Failed to resolve ride after offer expiry", err, nil)
			continue
		}
		if reoffered {
			result.Reoffered++
		}
		if canceled {
			result.Canceled++
		}
	}

	// phase 3: REQUESTED rides past the ceiling with no pending offers (a
	// direct request to a driver who never came online, say) are canceled too
	cutoff := now.Add(-s.cfg.PendingCeiling())
	var overdue []string
	err = s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		overdue, err = s.rides.FindOverdueRequested(txCtx, cutoff)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("find overdue rides: %w", err)
	}
	for _, rideID := range overdue {
		canceled, err := s.cancelOverdue(ctx, rideID, ride.StatusRequested, now)
		if err != nil {
			s.logger.Error(s.logger.WithRideID(ctx, rideID), "sweep_cancel_failed", "Failed to cancel overdue ride", err, nil)
			continue
		}
		if canceled {
			result.Canceled++
		}
	}

	return result, nil
}

// resolveRide decides the fate of one OFFERED ride after its offers expired:
// back to REQUESTED for another matching round, or CANCELED once the pending
// ceiling is reached. A ride that moved on, or that still has a live offer,
// is left alone.
func (s *Service) resolveRide(ctx context.Context, rideID string, now time.Time) (reoffered, canceled bool, err error) {
	ctx = s.logger.WithRideID(ctx, rideID)

	var riderID string
	err = s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		r, err := s.rides.GetByIDForUpdate(txCtx, rideID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return nil
			}
			return err
		}
		if r.Status != ride.StatusOffered {
			return nil
		}

		live, err := s.offers.HasLive(txCtx, rideID)
		if err != nil {
			return err
		}
		if live {
			return nil
		}
		riderID = r.RiderID

		if r.PendingAge(now) >= s.cfg.PendingCeiling() {
			if err := s.rides.Cancel(txCtx, rideID, reasonDispatchTimeout, now); err != nil {
				return err
			}
			canceled = true
			return nil
		}

		if err := s.rides.MarkRequested(txCtx, rideID, now); err != nil {
			return err
		}
		reoffered = true
		return nil
	})
	if err != nil {
		return false, false, err
	}

	switch {
	case canceled:
		s.metrics.RidesCanceled.Inc()
		s.logger.Info(ctx, "ride_canceled", "Ride canceled after pending ceiling", map[string]any{
			"reason": reasonDispatchTimeout,
		})
		s.notifier.NotifyRide(ctx, rideID, riderID, "canceled", &contracts.RideStatusMessage{
			RideID:    rideID,
			RiderID:   riderID,
			OldStatus: ride.StatusOffered.String(),
			NewStatus: ride.StatusCanceled.String(),
			Reason:    reasonDispatchTimeout,
		})
	case reoffered:
		s.metrics.RidesReoffered.Inc()
		s.logger.Info(ctx, "ride_reoffered", "Ride returned to matching after offers terminated", nil)
		// immediate re-match; the next sweep retries if this attempt fails
		if err := s.CreateOffersForRide(ctx, rideID); err != nil {
			s.logger.Error(ctx, "rematch_failed", "Re-matching attempt failed", err, nil)
		}
	}

	return reoffered, canceled, nil
}

// cancelOverdue cancels one ride stuck in fromStatus past the ceiling.
func (s *Service) cancelOverdue(ctx context.Context, rideID string, fromStatus ride.Status, now time.Time) (bool, error) {
	ctx = s.logger.WithRideID(ctx, rideID)

	var riderID string
	canceled := false
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		r, err := s.rides.GetByIDForUpdate(txCtx, rideID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return nil
			}
			return err
		}
		if r.Status != fromStatus {
			return nil
		}
		riderID = r.RiderID

		if err := s.rides.Cancel(txCtx, rideID, reasonDispatchTimeout, now); err != nil {
			return err
		}
		canceled = true
		return nil
	})
	if err != nil || !canceled {
		return false, err
	}

	s.metrics.RidesCanceled.Inc()
	s.logger.Info(ctx, "ride_canceled", "Overdue ride canceled", map[string]any{
		"reason": reasonDispatchTimeout,
	})
	s.notifier.NotifyRide(ctx, rideID, riderID, "canceled", &contracts.RideStatusMessage{
		RideID:    rideID,
		RiderID:   riderID,
		OldStatus: fromStatus.String(),
		NewStatus: ride.StatusCanceled.String(),
		Reason:    reasonDispatchTimeout,
	})

	return true, nil
}

// elapsedSince returns a closure measuring seconds elapsed on the service clock.
func elapsedSince(clock ports.Clock) func() float64 {
	start := clock.Now()
	return func() float64 {
		return clock.Now().Sub(start).Seconds()
	}
}
