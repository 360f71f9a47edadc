package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"evolution-relay/internal/core/ports"
)

func createTestWatchdog(probe ports.SystemProbe) (*Watchdog, *MockOutboxRepository, *PauseSwitch) {
	outbox := new(MockOutboxRepository)
	pause := NewPauseSwitch()
	w := NewWatchdog(outbox, probe, pause, WatchdogConfig{
		ProcessingTimeout: 5 * time.Minute,
		MemoryThreshold:   90,
		DiskThreshold:     85,
	})
	w.now = func() time.Time { return testNow }
	return w, outbox, pause
}

func TestWatchdog_ReclaimsStaleEntries(t *testing.T) {
	w, outbox, _ := createTestWatchdog(nil)
	outbox.On("ReclaimStale", mock.Anything, testNow.Add(-5*time.Minute)).Return(3, nil)

	require.NoError(t, w.RunOnce(context.Background()))
	outbox.AssertExpectations(t)
}

func TestWatchdog_PausesUnderPressure(t *testing.T) {
	probe := new(MockProbe)
	w, outbox, pause := createTestWatchdog(probe)
	outbox.On("ReclaimStale", mock.Anything, mock.Anything).Return(0, nil)

	probe.On("Usage", mock.Anything).Return(ports.ResourceUsage{MemoryPercent: 95}, nil).Once()
	require.NoError(t, w.RunOnce(context.Background()))
	assert.True(t, pause.IsActive())
	assert.Contains(t, pause.Status()["reason"], "memory")

	probe.On("Usage", mock.Anything).Return(ports.ResourceUsage{MemoryPercent: 40, DiskPercent: 50}, nil).Once()
	require.NoError(t, w.RunOnce(context.Background()))
	assert.False(t, pause.IsActive())

	probe.On("Usage", mock.Anything).Return(ports.ResourceUsage{DiskPercent: 99}, nil).Once()
	require.NoError(t, w.RunOnce(context.Background()))
	assert.True(t, pause.IsActive())
}

func TestWatchdog_ReclaimError(t *testing.T) {
	w, outbox, _ := createTestWatchdog(nil)
	outbox.On("ReclaimStale", mock.Anything, mock.Anything).Return(0, errors.New("db down"))

	assert.ErrorContains(t, w.RunOnce(context.Background()), "db down")
}

func TestWatchdog_KeepsOperatorPause(t *testing.T) {
	probe := new(MockProbe)
	w, outbox, pause := createTestWatchdog(probe)
	outbox.On("ReclaimStale", mock.Anything, mock.Anything).Return(0, nil)
	probe.On("Usage", mock.Anything).Return(ports.ResourceUsage{MemoryPercent: 10, DiskPercent: 10}, nil)

	pause.Enable("maintenance", "operator")
	require.NoError(t, w.RunOnce(context.Background()))

	assert.True(t, pause.IsActive())
	assert.Equal(t, "operator", pause.ActivatedBy())
}
