package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ride-dispatch/internal/domain/offer"
	"ride-dispatch/internal/domain/ride"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOffersForRide_OpenPoolCapped(t *testing.T) {
	env := newTestEnv()
	for i := 1; i <= 7; i++ {
		env.store.addDriver(fmt.Sprintf("driver-%d", i), true, true)
	}
	r := env.requestedRide("rider-1")

	err := env.svc.CreateOffersForRide(context.Background(), r.ID)
	require.NoError(t, err)

	offers := env.store.offersOf(r.ID)
	assert.Len(t, offers, 5, "pool must be capped")

	got := env.store.ride(r.ID)
	assert.Equal(t, ride.StatusOffered, got.Status)
	require.NotNil(t, got.OfferedAt)

	wantExpiry := env.clock.Now().Add(30 * time.Second)
	for _, of := range offers {
		assert.Equal(t, offer.StatusPending, of.Status)
		assert.True(t, of.ExpiresAt.Equal(wantExpiry))
	}
}

func TestCreateOffersForRide_SkipsUnverifiedAndOffline(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)
	env.store.addDriver("driver-2", false, true) // unverified
	env.store.addDriver("driver-3", true, false) // offline
	r := env.requestedRide("rider-1")

	require.NoError(t, env.svc.CreateOffersForRide(context.Background(), r.ID))

	offers := env.store.offersOf(r.ID)
	require.Len(t, offers, 1)
	assert.Equal(t, "driver-1", offers[0].DriverID)
}

func TestCreateOffersForRide_DirectRequest(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)
	env.store.addDriver("driver-2", true, true)

	target := "driver-2"
	r := env.requestedRide("rider-1")
	env.store.mu.Lock()
	env.store.rides[r.ID].SpecificDriverID = &target
	env.store.mu.Unlock()

	require.NoError(t, env.svc.CreateOffersForRide(context.Background(), r.ID))

	offers := env.store.offersOf(r.ID)
	require.Len(t, offers, 1, "direct request targets exactly one driver")
	assert.Equal(t, target, offers[0].DriverID)
}

func TestCreateOffersForRide_DirectRequestOfflineDriverNoOffers(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)
	env.store.addDriver("driver-2", true, false)

	target := "driver-2"
	r := env.requestedRide("rider-1")
	env.store.mu.Lock()
	env.store.rides[r.ID].SpecificDriverID = &target
	env.store.mu.Unlock()

	require.NoError(t, env.svc.CreateOffersForRide(context.Background(), r.ID))

	// never falls back to the pool
	assert.Empty(t, env.store.offersOf(r.ID))
	assert.Equal(t, ride.StatusRequested, env.store.ride(r.ID).Status)
}

func TestCreateOffersForRide_KinPreferred(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)
	env.store.addDriver("driver-2", true, true)
	env.store.addDriver("driver-3", true, true)
	env.store.addKin("rider-1", "driver-3")

	r := env.requestedRide("rider-1")
	env.store.mu.Lock()
	env.store.rides[r.ID].PreferKin = true
	env.store.mu.Unlock()

	require.NoError(t, env.svc.CreateOffersForRide(context.Background(), r.ID))

	offers := env.store.offersOf(r.ID)
	require.Len(t, offers, 1)
	assert.Equal(t, "driver-3", offers[0].DriverID)
}

func TestCreateOffersForRide_KinFallsBackToPool(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)
	env.store.addDriver("driver-2", true, false) // the only kin, offline
	env.store.addKin("rider-1", "driver-2")

	r := env.requestedRide("rider-1")
	env.store.mu.Lock()
	env.store.rides[r.ID].PreferKin = true
	env.store.mu.Unlock()

	require.NoError(t, env.svc.CreateOffersForRide(context.Background(), r.ID))

	offers := env.store.offersOf(r.ID)
	require.Len(t, offers, 1)
	assert.Equal(t, "driver-1", offers[0].DriverID)
}

func TestCreateOffersForRide_NoCandidatesLeavesRideRequested(t *testing.T) {
	env := newTestEnv()
	r := env.requestedRide("rider-1")

	require.NoError(t, env.svc.CreateOffersForRide(context.Background(), r.ID))

	assert.Empty(t, env.store.offersOf(r.ID))
	assert.Equal(t, ride.StatusRequested, env.store.ride(r.ID).Status)
}

func TestCreateOffersForRide_NoopOnNonRequestedRide(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)
	r, _ := env.offeredRide("rider-1", []string{"driver-1"}, env.clock.Now().Add(30*time.Second))

	require.NoError(t, env.svc.CreateOffersForRide(context.Background(), r.ID))

	// no second batch was written
	assert.Len(t, env.store.offersOf(r.ID), 1)
}

func TestCreateOffersForRide_NoopOnMissingRide(t *testing.T) {
	env := newTestEnv()
	require.NoError(t, env.svc.CreateOffersForRide(context.Background(), "no-such-ride"))
}

func TestCreateOffersForRide_FutureScheduledRideWaits(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)

	r := env.requestedRide("rider-1")
	at := env.clock.Now().Add(2 * time.Hour)
	env.store.mu.Lock()
	env.store.rides[r.ID].ScheduledAt = &at
	env.store.mu.Unlock()

	require.NoError(t, env.svc.CreateOffersForRide(context.Background(), r.ID))

	assert.Empty(t, env.store.offersOf(r.ID))
	assert.Equal(t, ride.StatusRequested, env.store.ride(r.ID).Status)
}

func TestCreateOffersForRide_NotifiesEveryCandidate(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)
	env.store.addDriver("driver-2", true, true)
	r := env.requestedRide("rider-1")

	require.NoError(t, env.svc.CreateOffersForRide(context.Background(), r.ID))

	assert.Equal(t, []string{"offer_created"}, env.notifier.driverEvents("driver-1"))
	assert.Equal(t, []string{"offer_created"}, env.notifier.driverEvents("driver-2"))
}
