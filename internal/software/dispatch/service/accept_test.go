package service

import (
	"context"
	"testing"
	"time"

	"ride-dispatch/internal/domain/offer"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptOffer_WinnerTakesAll(t *testing.T) {
	env := newTestEnv()
	expiry := env.clock.Now().Add(30 * time.Second)
	r, offers := env.offeredRide("rider-1", []string{"driver-1", "driver-2", "driver-3"}, expiry)

	res, err := env.svc.AcceptOffer(context.Background(), ports.AcceptOfferInput{
		OfferID:  offers[1].ID,
		DriverID: "driver-2",
	})
	require.NoError(t, err)
	assert.Equal(t, r.ID, res.RideID)
	assert.Equal(t, "ACCEPTED", res.Status)

	got := env.store.ride(r.ID)
	assert.Equal(t, ride.StatusAccepted, got.Status)
	require.NotNil(t, got.DriverID)
	assert.Equal(t, "driver-2", *got.DriverID)

	for _, of := range env.store.offersOf(r.ID) {
		if of.ID == offers[1].ID {
			assert.Equal(t, offer.StatusAccepted, of.Status)
		} else {
			assert.Equal(t, offer.StatusDeclined, of.Status)
		}
	}

	assert.Contains(t, env.notifier.rideEvents(), "accepted")
	assert.Equal(t, []string{"offer_declined"}, env.notifier.driverEvents("driver-1"))
	assert.Equal(t, []string{"offer_declined"}, env.notifier.driverEvents("driver-3"))
	assert.Empty(t, env.notifier.driverEvents("driver-2"))
}

func TestAcceptOffer_SecondAcceptLoses(t *testing.T) {
	env := newTestEnv()
	expiry := env.clock.Now().Add(30 * time.Second)
	r, offers := env.offeredRide("rider-1", []string{"driver-1", "driver-2"}, expiry)

	_, err := env.svc.AcceptOffer(context.Background(), ports.AcceptOfferInput{
		OfferID:  offers[0].ID,
		DriverID: "driver-1",
	})
	require.NoError(t, err)

	_, err = env.svc.AcceptOffer(context.Background(), ports.AcceptOfferInput{
		OfferID:  offers[1].ID,
		DriverID: "driver-2",
	})
	assert.ErrorIs(t, err, ports.ErrOfferUnavailable)

	got := env.store.ride(r.ID)
	require.NotNil(t, got.DriverID)
	assert.Equal(t, "driver-1", *got.DriverID)
}

func TestAcceptOffer_ExpiredOfferRejected(t *testing.T) {
	env := newTestEnv()
	expiry := env.clock.Now().Add(30 * time.Second)
	_, offers := env.offeredRide("rider-1", []string{"driver-1"}, expiry)

	env.clock.Advance(31 * time.Second)

	_, err := env.svc.AcceptOffer(context.Background(), ports.AcceptOfferInput{
		OfferID:  offers[0].ID,
		DriverID: "driver-1",
	})
	assert.ErrorIs(t, err, ports.ErrOfferUnavailable)
}

func TestAcceptOffer_WrongDriverRejected(t *testing.T) {
	env := newTestEnv()
	expiry := env.clock.Now().Add(30 * time.Second)
	_, offers := env.offeredRide("rider-1", []string{"driver-1"}, expiry)

	_, err := env.svc.AcceptOffer(context.Background(), ports.AcceptOfferInput{
		OfferID:  offers[0].ID,
		DriverID: "driver-2",
	})
	assert.ErrorIs(t, err, ports.ErrOfferNotOwned)

	// offer untouched
	assert.Equal(t, offer.StatusPending, env.store.offersOf(offers[0].RideID)[0].Status)
}

func TestAcceptOffer_UnknownOffer(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.AcceptOffer(context.Background(), ports.AcceptOfferInput{
		OfferID:  "no-such-offer",
		DriverID: "driver-1",
	})
	assert.ErrorIs(t, err, ports.ErrOfferUnavailable)
}

func TestDeclineOffer_OthersStillPending(t *testing.T) {
	env := newTestEnv()
	expiry := env.clock.Now().Add(30 * time.Second)
	r, offers := env.offeredRide("rider-1", []string{"driver-1", "driver-2"}, expiry)

	require.NoError(t, env.svc.DeclineOffer(context.Background(), offers[0].ID, "driver-1"))

	// ride stays OFFERED while driver-2's offer is live
	assert.Equal(t, ride.StatusOffered, env.store.ride(r.ID).Status)
	for _, of := range env.store.offersOf(r.ID) {
		switch of.ID {
		case offers[0].ID:
			assert.Equal(t, offer.StatusDeclined, of.Status)
		default:
			assert.Equal(t, offer.StatusPending, of.Status)
		}
	}
}

func TestDeclineOffer_LastDeclineRematches(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)
	env.store.addDriver("driver-2", true, true)

	expiry := env.clock.Now().Add(30 * time.Second)
	r, offers := env.offeredRide("rider-1", []string{"driver-1"}, expiry)

	require.NoError(t, env.svc.DeclineOffer(context.Background(), offers[0].ID, "driver-1"))

	// resolved immediately: back through REQUESTED and re-offered to the pool
	got := env.store.ride(r.ID)
	assert.Equal(t, ride.StatusOffered, got.Status)

	var pending int
	for _, of := range env.store.offersOf(r.ID) {
		if of.Status == offer.StatusPending {
			pending++
		}
	}
	assert.Equal(t, 2, pending)
}

func TestDeclineOffer_LastDeclinePastCeilingCancels(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)

	expiry := env.clock.Now().Add(30 * time.Minute)
	r, offers := env.offeredRide("rider-1", []string{"driver-1"}, expiry)

	env.clock.Advance(11 * time.Minute)

	require.NoError(t, env.svc.DeclineOffer(context.Background(), offers[0].ID, "driver-1"))

	got := env.store.ride(r.ID)
	assert.Equal(t, ride.StatusCanceled, got.Status)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, reasonDispatchTimeout, *got.CancellationReason)
	assert.Contains(t, env.notifier.rideEvents(), "canceled")
}

func TestDeclineOffer_WrongDriverRejected(t *testing.T) {
	env := newTestEnv()
	expiry := env.clock.Now().Add(30 * time.Second)
	_, offers := env.offeredRide("rider-1", []string{"driver-1"}, expiry)

	err := env.svc.DeclineOffer(context.Background(), offers[0].ID, "driver-2")
	assert.ErrorIs(t, err, ports.ErrOfferNotOwned)
}
