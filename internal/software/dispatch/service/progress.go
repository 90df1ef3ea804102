package service

import (
	"context"
	"errors"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/ports"
)

// UpdateRideStatus applies a pass-through transition (ARRIVING, IN_PROGRESS,
// COMPLETED) driven by the assigned driver. The update is conditioned on the
// status read under lock, so a stale client sees ErrInvalidStatusTransition
// instead of clobbering a newer state.
func (s *Service) UpdateRideStatus(ctx context.Context, rideID string, next ride.Status) error {
	ctx = s.logger.WithRideID(ctx, rideID)
	now := s.clock.Now()

	var (
		from     ride.Status
		riderID  string
		driverID string
	)
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		r, err := s.rides.GetByIDForUpdate(txCtx, rideID)
		if err != nil {
			return err
		}
		from = r.Status
		riderID = r.RiderID
		if r.DriverID != nil {
			driverID = *r.DriverID
		}

		return s.rides.UpdateStatus(txCtx, rideID, from, next, now)
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "ride_status_updated", "Ride status updated", map[string]any{
		"old_status": from.String(),
		"new_status": next.String(),
	})
	s.notifier.NotifyRide(ctx, rideID, riderID, statusEvent(next), &contracts.RideStatusMessage{
		RideID:    rideID,
		RiderID:   riderID,
		DriverID:  driverID,
		OldStatus: from.String(),
		NewStatus: next.String(),
	})

	return nil
}

// CancelRide cancels on behalf of the rider. Already-canceled rides succeed
// idempotently; rides past the point of no return (IN_PROGRESS and beyond)
// return ErrInvalidStatusTransition.
func (s *Service) CancelRide(ctx context.Context, rideID, reason string) (ports.CancelRideResult, error) {
	ctx = s.logger.WithRideID(ctx, rideID)
	now := s.clock.Now()

	var (
		from     ride.Status
		riderID  string
		declined int
	)
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		r, err := s.rides.GetByIDForUpdate(txCtx, rideID)
		if err != nil {
			return err
		}
		from = r.Status
		riderID = r.RiderID

		if err := s.rides.Cancel(txCtx, rideID, reason, now); err != nil {
			return err
		}

		// retract anything drivers could still act on
		if from == ride.StatusOffered {
			declined, err = s.offers.DeclineSiblings(txCtx, rideID, "", now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ride.ErrInvalidStatusTransition) {
			return ports.CancelRideResult{}, ride.ErrInvalidStatusTransition
		}
		return ports.CancelRideResult{}, err
	}

	// repeat cancel of an already-canceled ride: succeed without re-announcing
	if from == ride.StatusCanceled {
		return ports.CancelRideResult{
			RideID:     rideID,
			Status:     ride.StatusCanceled.String(),
			CanceledAt: now,
		}, nil
	}

	s.metrics.RidesCanceled.Inc()
	if declined > 0 {
		s.metrics.OffersDeclined.Add(float64(declined))
	}
	s.logger.Info(ctx, "ride_canceled", "Ride canceled by rider", map[string]any{
		"old_status": from.String(),
		"reason":     reason,
	})
	s.notifier.NotifyRide(ctx, rideID, riderID, "canceled", &contracts.RideStatusMessage{
		RideID:    rideID,
		RiderID:   riderID,
		OldStatus: from.String(),
		NewStatus: ride.StatusCanceled.String(),
		Reason:    reason,
	})

	return ports.CancelRideResult{
		RideID:     rideID,
		Status:     ride.StatusCanceled.String(),
		CanceledAt: now,
	}, nil
}

// statusEvent maps a ride status to the event name used in routing keys.
func statusEvent(status ride.Status) string {
	switch status {
	case ride.StatusArriving:
		return "arriving"
	case ride.StatusInProgress:
		return "in_progress"
	case ride.StatusCompleted:
		return "completed"
	case ride.StatusCanceled:
		return "canceled"
	default:
		return "updated"
	}
}
