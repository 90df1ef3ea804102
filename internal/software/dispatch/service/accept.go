package service

import (
	"context"
	"errors"

	"ride-dispatch/internal/domain/offer"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/ports"
)

// AcceptOffer atomically accepts one offer: the offer moves to ACCEPTED, its
// pending siblings to DECLINED, and the ride to ACCEPTED with the driver
// assigned, all in one transaction. The ride row lock plus status-guarded
// updates make exactly one concurrent caller win; every loser gets
// ErrOfferUnavailable.
//
// Lock order is always ride before offer, matching the sweep path, so the
// two cannot deadlock.
func (s *Service) AcceptOffer(ctx context.Context, in ports.AcceptOfferInput) (ports.AcceptOfferResult, error) {
	now := s.clock.Now()

	var (
		r        *ride.Ride
		siblings []string
		declined int
	)
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		// unlocked read to learn the ride id and check ownership cheaply
		of, err := s.offers.GetByID(txCtx, in.OfferID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return ports.ErrOfferUnavailable
			}
			return err
		}
		if of.DriverID != in.DriverID {
			return ports.ErrOfferNotOwned
		}

		r, err = s.rides.GetByIDForUpdate(txCtx, of.RideID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return ports.ErrOfferUnavailable
			}
			return err
		}
		if r.Status != ride.StatusOffered {
			return ports.ErrOfferUnavailable
		}

		// re-read under the ride lock: the sweep or a rival accept may have
		// moved the offer between the unlocked read and here
		of, err = s.offers.GetByIDForUpdate(txCtx, in.OfferID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return ports.ErrOfferUnavailable
			}
			return err
		}
		if of.Status != offer.StatusPending || of.ExpiredAt(now) {
			return ports.ErrOfferUnavailable
		}

		// collect sibling drivers before flipping their offers
		all, err := s.offers.ListByRide(txCtx, r.ID)
		if err != nil {
			return err
		}
		for _, sib := range all {
			if sib.ID != of.ID && sib.Status == offer.StatusPending {
				siblings = append(siblings, sib.DriverID)
			}
		}

		if err := s.offers.Accept(txCtx, of.ID, now); err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return ports.ErrOfferUnavailable
			}
			return err
		}
		if err := s.rides.Accept(txCtx, r.ID, in.DriverID, now); err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return ports.ErrOfferUnavailable
			}
			return err
		}
		declined, err = s.offers.DeclineSiblings(txCtx, r.ID, of.ID, now)
		return err
	})
	if err != nil {
		return ports.AcceptOfferResult{}, err
	}

	ctx = s.logger.WithRideID(ctx, r.ID)
	s.metrics.OffersAccepted.Inc()
	if declined > 0 {
		s.metrics.OffersDeclined.Add(float64(declined))
	}
	s.logger.Info(ctx, "offer_accepted", "Offer accepted, ride assigned", map[string]any{
		"offer_id":          in.OfferID,
		"driver_id":         in.DriverID,
		"siblings_declined": declined,
	})

	s.notifier.NotifyRide(ctx, r.ID, r.RiderID, "accepted", &contracts.RideStatusMessage{
		RideID:    r.ID,
		RiderID:   r.RiderID,
		DriverID:  in.DriverID,
		OldStatus: ride.StatusOffered.String(),
		NewStatus: ride.StatusAccepted.String(),
	})
	for _, driverID := range siblings {
		s.notifier.NotifyDriver(ctx, driverID, contracts.EventOfferDeclined, &contracts.OfferEventMessage{
			Event:    contracts.EventOfferDeclined,
			RideID:   r.ID,
			DriverID: driverID,
		})
	}

	return ports.AcceptOfferResult{
		RideID:     r.ID,
		Status:     ride.StatusAccepted.String(),
		AcceptedAt: now,
	}, nil
}

// DeclineOffer marks one offer DECLINED. When that was the last live offer of
// an OFFERED ride, the ride is resolved on the spot instead of waiting for
// the next sweep.
func (s *Service) DeclineOffer(ctx context.Context, offerID, driverID string) error {
	now := s.clock.Now()

	var (
		rideID    string
		riderID   string
		reoffered bool
		canceled  bool
	)
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		of, err := s.offers.GetByID(txCtx, offerID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return ports.ErrOfferUnavailable
			}
			return err
		}
		if of.DriverID != driverID {
			return ports.ErrOfferNotOwned
		}

		r, err := s.rides.GetByIDForUpdate(txCtx, of.RideID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return ports.ErrOfferUnavailable
			}
			return err
		}
		rideID, riderID = r.ID, r.RiderID

		if err := s.offers.Decline(txCtx, offerID, now); err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return ports.ErrOfferUnavailable
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
		return err
	}

	ctx = s.logger.WithRideID(ctx, rideID)
	s.metrics.OffersDeclined.Inc()
	s.logger.Info(ctx, "offer_declined", "Offer declined by driver", map[string]any{
		"offer_id":  offerID,
		"driver_id": driverID,
	})

	switch {
	case canceled:
		s.metrics.RidesCanceled.Inc()
		s.notifier.NotifyRide(ctx, rideID, riderID, "canceled", &contracts.RideStatusMessage{
			RideID:    rideID,
			RiderID:   riderID,
			OldStatus: ride.StatusOffered.String(),
			NewStatus: ride.StatusCanceled.String(),
			Reason:    reasonDispatchTimeout,
		})
	case reoffered:
		s.metrics.RidesReoffered.Inc()
		if err := s.CreateOffersForRide(ctx, rideID); err != nil {
			s.logger.Error(ctx, "rematch_failed", "Re-matching attempt failed", err, nil)
		}
	}

	return nil
}
