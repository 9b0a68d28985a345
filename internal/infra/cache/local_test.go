package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerOnce(t *testing.T) {
	locker := NewLocal()
	now := time.Date(2026, 10, 17, 7, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	calls := 0
	ran, err := locker.Once(ctx, "k", time.Minute, func() error { calls++; return nil })
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = locker.Once(ctx, "k", time.Minute, func() error { calls++; return nil })
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Minute)
	ran, _ = locker.Once(ctx, "k", time.Minute, func() error { calls++; return nil })
	assert.True(t, ran)
	assert.Equal(t, 2, calls)
}

func TestLocalLockerReleasesOnError(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()
	boom := errors.New("boom")

	ran, err := locker.Once(ctx, "k", time.Hour, func() error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	ran, err = locker.Once(ctx, "k", time.Hour, func() error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}
