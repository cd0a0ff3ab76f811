package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "stopped", StatusStopped.String())
	assert.Equal(t, "starting", StatusStarting.String())
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "stopping", StatusStopping.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestBaseServiceLifecycle(t *testing.T) {
	svc := NewBaseService("test-service")
	assert.Equal(t, StatusStopped, svc.Status())
	assert.False(t, svc.IsHealthy())

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StatusRunning, svc.Status())
	assert.True(t, svc.IsHealthy())

	// Starting twice is a no-op
	require.NoError(t, svc.Start(context.Background()))

	require.NoError(t, svc.Stop(time.Second))
	assert.Equal(t, StatusStopped, svc.Status())
	assert.False(t, svc.IsHealthy())

	// Stopping twice is a no-op
	require.NoError(t, svc.Stop(time.Second))
}

func TestBaseServiceHealthCheckFailure(t *testing.T) {
	svc := NewBaseService("failing",
		WithHealthCheck(func() error { return errors.New("backend down") }))

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	assert.False(t, svc.IsHealthy())
	status := svc.Health()
	assert.True(t, status.IsUnhealthy())
	assert.Contains(t, status.Message, "failed checks")
}

func TestBaseServiceHealthStates(t *testing.T) {
	svc := NewBaseService("states", WithHealthInterval(0))
	svc.healthy.Store(true)

	svc.status.Store(StatusRunning)
	assert.True(t, svc.Health().IsHealthy())

	svc.status.Store(StatusStarting)
	assert.True(t, svc.Health().IsDegraded())

	svc.status.Store(StatusStopping)
	assert.True(t, svc.Health().IsDegraded())

	svc.status.Store(StatusStopped)
	assert.True(t, svc.Health().IsUnhealthy())
}

func TestBaseServiceContextCancellation(t *testing.T) {
	svc := NewBaseService("ctx-test", WithHealthInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, StatusRunning, svc.Status())

	cancel()
	assert.Eventually(t, func() bool {
		return svc.Status() == StatusStopped
	}, time.Second, 10*time.Millisecond)
}
