package schedule_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal/memory"
	"github.com/Roma7-7-7/spaced-review-bot/internal/delivery"
	"github.com/Roma7-7-7/spaced-review-bot/internal/schedule"
)

type countingCleaner struct {
	calls atomic.Int32
}

func (c *countingCleaner) CleanupTokens(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestNewMaintenanceRejectsInvalidSpec(t *testing.T) {
	t.Parallel()
	repo := memory.NewRepository()
	log := discardLogger()

	_, err := schedule.NewMaintenance(schedule.MaintenanceConfig{
		TimeoutSpec:         "every now and then",
		StaleClaimSpec:      "@every 1m",
		CallbackCleanupSpec: "@every 1m",
	}, delivery.NewReaper(repo, log), delivery.NewClaimCoordinator(repo, log), &countingCleaner{}, log)
	require.Error(t, err)
}

func TestMaintenanceRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	repo := memory.NewRepository()
	log := discardLogger()

	m, err := schedule.NewMaintenance(schedule.MaintenanceConfig{
		TimeoutSpec:         "@every 1m",
		TimeoutMinutes:      1440,
		StaleClaimSpec:      "@every 5m",
		StaleClaimAfter:     10 * time.Minute,
		CallbackCleanupSpec: "@every 1h",
	}, delivery.NewReaper(repo, log), delivery.NewClaimCoordinator(repo, log), &countingCleaner{}, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		assert.Fail(t, "maintenance did not stop")
	}
}

func TestMaintenanceRunsCallbackCleanup(t *testing.T) {
	t.Parallel()
	repo := memory.NewRepository()
	log := discardLogger()
	cleaner := &countingCleaner{}

	m, err := schedule.NewMaintenance(schedule.MaintenanceConfig{
		TimeoutSpec:         "@every 1h",
		TimeoutMinutes:      1440,
		StaleClaimSpec:      "@every 1h",
		StaleClaimAfter:     10 * time.Minute,
		CallbackCleanupSpec: "@every 1s",
	}, delivery.NewReaper(repo, log), delivery.NewClaimCoordinator(repo, log), cleaner, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	assert.Eventually(t, func() bool { return cleaner.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
