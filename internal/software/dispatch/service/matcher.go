package service

import (
	"context"
	"errors"
	"fmt"

	"ride-dispatch/internal/domain/offer"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/ports"
)

// CreateOffersForRide runs candidate selection for one ride and writes one
// PENDING offer per candidate, moving the ride REQUESTED -> OFFERED.
//
// The ride is row-locked first, and the status transition carries its own
// REQUESTED predicate, so concurrent invocations (intake plus trigger job,
// say) collapse into one winner and silent no-ops.
func (s *Service) CreateOffersForRide(ctx context.Context, rideID string) error {
	ctx = s.logger.WithRideID(ctx, rideID)
	now := s.clock.Now()

	var created []*offer.Offer
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		r, err := s.rides.GetByIDForUpdate(txCtx, rideID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return nil
			}
			return err
		}

		// only REQUESTED rides are matchable; anything else already moved on
		if r.Status != ride.StatusRequested {
			return nil
		}
		// scheduled rides wait for their trigger
		if r.ScheduledAt != nil && r.ScheduledAt.After(now) {
			return nil
		}

		candidates, err := s.selectCandidates(txCtx, r)
		if err != nil {
			return fmt.Errorf("select candidates: %w", err)
		}
		if len(candidates) == 0 {
			s.logger.Debug(txCtx, "no_candidates", "No eligible drivers for ride", map[string]any{
				"rider_id": r.RiderID,
			})
			return nil
		}

		expiresAt := now.Add(s.cfg.OfferTTL())
		offers := make([]*offer.Offer, 0, len(candidates))
		for _, driverID := range candidates {
			of, err := offer.New(r.ID, driverID, expiresAt)
			if err != nil {
				return err
			}
			offers = append(offers, of)
		}

		if err := s.offers.CreateBatch(txCtx, offers); err != nil {
			return fmt.Errorf("create offers: %w", err)
		}
		if err := s.rides.MarkOffered(txCtx, r.ID, now); err != nil {
			return fmt.Errorf("mark ride offered: %w", err)
		}

		created = offers
		return nil
	})
	if err != nil {
		return err
	}
	if len(created) == 0 {
		return nil
	}

	s.metrics.OffersCreated.Add(float64(len(created)))
	s.logger.Info(ctx, "offers_created", "Offers created for ride", map[string]any{
		"count":      len(created),
		"expires_at": created[0].ExpiresAt,
	})

	for _, of := range created {
		expires := of.ExpiresAt
		s.notifier.NotifyDriver(ctx, of.DriverID, contracts.EventOfferCreated, &contracts.OfferEventMessage{
			Event:     contracts.EventOfferCreated,
			OfferID:   of.ID,
			RideID:    of.RideID,
			DriverID:  of.DriverID,
			ExpiresAt: &expires,
		})
	}

	return nil
}

// selectCandidates applies the three-tier policy: a direct driver request
// binds the ride to that single driver; otherwise Kin drivers are preferred;
// otherwise the open pool, capped.
func (s *Service) selectCandidates(ctx context.Context, r *ride.Ride) ([]string, error) {
	if r.SpecificDriverID != nil {
		ok, err := s.eligible(ctx, *r.SpecificDriverID)
		if err != nil {
			return nil, err
		}
		if !ok {
			// a direct request never falls back to other drivers
			return nil, nil
		}
		return []string{*r.SpecificDriverID}, nil
	}

	if r.PreferKin {
		kin, err := s.drivers.KinOf(ctx, r.RiderID)
		if err != nil {
			return nil, err
		}
		eligible, err := s.eligibleSubset(ctx, kin)
		if err != nil {
			return nil, err
		}
		if len(eligible) > 0 {
			return eligible, nil
		}
		// no Kin available: fall through to the open pool
	}

	online, err := s.presence.OnlineIDs(ctx)
	if err != nil {
		return nil, err
	}
	verified, err := s.drivers.FilterVerified(ctx, online)
	if err != nil {
		return nil, err
	}
	if len(verified) > s.cfg.PoolCap {
		verified = verified[:s.cfg.PoolCap]
	}
	return verified, nil
}

// eligible reports whether one driver is verified and online.
func (s *Service) eligible(ctx context.Context, driverID string) (bool, error) {
	d, err := s.drivers.GetByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !d.Eligible() {
		return false, nil
	}
	return s.presence.IsOnline(ctx, driverID)
}

// eligibleSubset filters ids down to verified, online drivers.
func (s *Service) eligibleSubset(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	verified, err := s.drivers.FilterVerified(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.presence.FilterOnline(ctx, verified)
}
