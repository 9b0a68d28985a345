package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	states := []DeliveryState{StatePending, StateSent, StateFailed}
	allowed := map[[2]DeliveryState]bool{
		{StatePending, StateSent}:   true,
		{StatePending, StateFailed}: true,
	}
	for _, from := range states {
		for _, to := range states {
			assert.Equal(t, allowed[[2]DeliveryState{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestMarkSentStampsTimestamp(t *testing.T) {
	rec := Recommendation{State: StatePending}
	at := time.Date(2026, 10, 17, 7, 0, 0, 0, time.UTC)
	require.NoError(t, rec.MarkSent(at))
	assert.Equal(t, StateSent, rec.State)
	require.NotNil(t, rec.SentAt)
	assert.True(t, rec.SentAt.Equal(at))

	err := rec.MarkFailed("late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateSent, rec.State)
}

func TestMarkFailedLeavesSentAtEmpty(t *testing.T) {
	rec := Recommendation{State: StatePending}
	require.NoError(t, rec.MarkFailed("no recipients"))
	assert.Equal(t, StateFailed, rec.State)
	assert.Nil(t, rec.SentAt)
	assert.Equal(t, "no recipients", rec.FailureReason)

	assert.ErrorIs(t, rec.MarkSent(time.Now()), ErrInvalidTransition)
}

func TestParseDeliveryState(t *testing.T) {
	state, err := ParseDeliveryState(" SENT ")
	require.NoError(t, err)
	assert.Equal(t, StateSent, state)

	_, err = ParseDeliveryState("queued")
	assert.Error(t, err)
}
