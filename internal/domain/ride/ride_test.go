package ride

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRide(t *testing.T) {
	r, err := NewRide("rider-1", "", false, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, r.Status)
	assert.Equal(t, "rider-1", r.RiderID)
	assert.Nil(t, r.SpecificDriverID)
	assert.Nil(t, r.ScheduledAt)
	assert.False(t, r.RequestedAt.IsZero())
}

func TestNewRide_TrimsAndValidates(t *testing.T) {
	_, err := NewRide("   ", "", false, nil)
	assert.ErrorIs(t, err, ErrRiderRequired)

	r, err := NewRide(" rider-1 ", " driver-9 ", true, nil)
	require.NoError(t, err)
	assert.Equal(t, "rider-1", r.RiderID)
	require.NotNil(t, r.SpecificDriverID)
	assert.Equal(t, "driver-9", *r.SpecificDriverID)
	assert.True(t, r.PreferKin)
}

func TestNewRide_ScheduleMustBeFuture(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	_, err := NewRide("rider-1", "", false, &past)
	assert.ErrorIs(t, err, ErrScheduleInPast)

	future := time.Now().UTC().Add(time.Hour)
	r, err := NewRide("rider-1", "", false, &future)
	require.NoError(t, err)
	require.NotNil(t, r.ScheduledAt)
	assert.True(t, r.ScheduledAt.Equal(future))
}

func TestDispatchStart(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := &Ride{CreatedAt: created}
	assert.True(t, r.DispatchStart().Equal(created))

	pickup := created.Add(3 * time.Hour)
	r.ScheduledAt = &pickup
	assert.True(t, r.DispatchStart().Equal(pickup))
	assert.Equal(t, 10*time.Minute, r.PendingAge(pickup.Add(10*time.Minute)))
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusRequested, StatusOffered, true},
		{StatusRequested, StatusCanceled, true},
		{StatusRequested, StatusAccepted, false},
		{StatusOffered, StatusAccepted, true},
		{StatusOffered, StatusRequested, true},
		{StatusOffered, StatusCanceled, true},
		{StatusAccepted, StatusArriving, true},
		{StatusAccepted, StatusInProgress, false},
		{StatusAccepted, StatusCanceled, true},
		{StatusArriving, StatusInProgress, true},
		{StatusArriving, StatusCanceled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCanceled, false},
		{StatusCompleted, StatusCanceled, false},
		{StatusCanceled, StatusRequested, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("  in_progress ")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, status)

	_, err = ParseStatus("TELEPORTING")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestLifecycleMethods(t *testing.T) {
	r, err := NewRide("rider-1", "", false, nil)
	require.NoError(t, err)

	require.NoError(t, r.MarkOffered())
	assert.Equal(t, StatusOffered, r.Status)
	require.NotNil(t, r.OfferedAt)

	require.NoError(t, r.Reoffer())
	assert.Equal(t, StatusRequested, r.Status)
	require.NoError(t, r.MarkOffered())

	require.NoError(t, r.Accept("driver-1"))
	require.NotNil(t, r.DriverID)
	assert.Equal(t, "driver-1", *r.DriverID)
	assert.ErrorIs(t, r.Accept("driver-2"), ErrAlreadyAssigned)

	require.NoError(t, r.MarkArriving())
	require.NoError(t, r.Start())
	assert.ErrorIs(t, r.Cancel("too late"), ErrInvalidStatusTransition)
	require.NoError(t, r.Complete())
	assert.True(t, r.Status.Terminal())
}

func TestCancelStoresReason(t *testing.T) {
	r, err := NewRide("rider-1", "", false, nil)
	require.NoError(t, err)

	require.NoError(t, r.Cancel("  no driver accepted in time  "))
	assert.Equal(t, StatusCanceled, r.Status)
	require.NotNil(t, r.CancellationReason)
	assert.Equal(t, "no driver accepted in time", *r.CancellationReason)
	require.NotNil(t, r.CanceledAt)
}

func TestDispatchable(t *testing.T) {
	assert.True(t, StatusRequested.Dispatchable())
	assert.True(t, StatusOffered.Dispatchable())
	assert.False(t, StatusAccepted.Dispatchable())
	assert.False(t, StatusCanceled.Dispatchable())
}
