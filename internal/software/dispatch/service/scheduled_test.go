package service

import (
	"context"
	"testing"
	"time"

	"ride-dispatch/internal/domain/ride"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) scheduledRide(riderID string, pickupAt time.Time) *ride.Ride {
	r := e.requestedRide(riderID)
	e.store.mu.Lock()
	e.store.rides[r.ID].ScheduledAt = &pickupAt
	e.store.mu.Unlock()
	return e.store.ride(r.ID)
}

func TestTriggerScheduledRides_PromotesDueRide(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)

	r := env.scheduledRide("rider-1", env.clock.Now().Add(-time.Minute))

	res, err := env.svc.TriggerScheduledRides(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)

	assert.Equal(t, ride.StatusOffered, env.store.ride(r.ID).Status)
	assert.Len(t, env.store.offersOf(r.ID), 1)
}

func TestTriggerScheduledRides_FutureRideUntouched(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)

	r := env.scheduledRide("rider-1", env.clock.Now().Add(time.Hour))

	res, err := env.svc.TriggerScheduledRides(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Triggered)
	assert.Equal(t, ride.StatusRequested, env.store.ride(r.ID).Status)
	assert.Empty(t, env.store.offersOf(r.ID))
}

func TestTriggerScheduledRides_OutsideTrailingWindowSkipped(t *testing.T) {
	env := newTestEnv()
	env.store.addDriver("driver-1", true, true)

	// 10 minutes past pickup, beyond the 5 minute trailing window; the
	// sweeper's ceiling check owns this ride now
	r := env.scheduledRide("rider-1", env.clock.Now().Add(-10*time.Minute))

	res, err := env.svc.TriggerScheduledRides(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Triggered)
	assert.Equal(t, ride.StatusRequested, env.store.ride(r.ID).Status)
}

func TestTriggerScheduledRides_NoCandidatesStillCounts(t *testing.T) {
	env := newTestEnv()

	r := env.scheduledRide("rider-1", env.clock.Now().Add(-time.Minute))

	res, err := env.svc.TriggerScheduledRides(context.Background())
	require.NoError(t, err)

	// processed without error even though no driver was available
	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, ride.StatusRequested, env.store.ride(r.ID).Status)
}
