package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"evolution-relay/internal/core/ports"
)

const watchdogActor = "watchdog"

// WatchdogConfig holds the self-healing thresholds
type WatchdogConfig struct {
	Interval          time.Duration
	ProcessingTimeout time.Duration // outbox entries stuck in processing longer than this are reclaimed
	MemoryThreshold   float64       // percent; 0 disables the check
	DiskThreshold     float64       // percent; 0 disables the check
}

// Watchdog reclaims stale outbox entries and pauses delivery under host pressure
type Watchdog struct {
	outbox ports.OutboxRepository
	probe  ports.SystemProbe // optional
	pause  *PauseSwitch
	cfg    WatchdogConfig
	now    func() time.Time
}

// NewWatchdog creates a new watchdog
func NewWatchdog(outbox ports.OutboxRepository, probe ports.SystemProbe, pause *PauseSwitch, cfg WatchdogConfig) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 5 * time.Minute
	}
	return &Watchdog{
		outbox: outbox,
		probe:  probe,
		pause:  pause,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Run checks on every interval until ctx is cancelled
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	slog.Info("[WATCHDOG] Service started",
		"interval", w.cfg.Interval,
		"processing_timeout", w.cfg.ProcessingTimeout,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("[WATCHDOG] Service stopped")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				slog.Error("[WATCHDOG] Check failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single reclaim and pressure check
func (w *Watchdog) RunOnce(ctx context.Context) error {
	// Attempts are left unchanged: a crashed worker is not a failed delivery
	reclaimed, err := w.outbox.ReclaimStale(ctx, w.now().Add(-w.cfg.ProcessingTimeout))
	if err != nil {
		return fmt.Errorf("reclaim stale outbox entries: %w", err)
	}
	if reclaimed > 0 {
		slog.Warn("[WATCHDOG] Reclaimed stale outbox entries", "count", reclaimed)
	}

	if w.probe == nil || w.pause == nil {
		return nil
	}

	usage, err := w.probe.Usage(ctx)
	if err != nil {
		return fmt.Errorf("read resource usage: %w", err)
	}

	if reason := w.pressure(usage); reason != "" {
		w.pause.Enable(reason, watchdogActor)
		return nil
	}
	// an operator pause outlives pressure recovery
	if w.pause.ActivatedBy() == watchdogActor {
		w.pause.Disable(watchdogActor)
	}
	return nil
}

// pressure returns a reason when usage is above a threshold
func (w *Watchdog) pressure(usage ports.ResourceUsage) string {
	if w.cfg.MemoryThreshold > 0 && usage.MemoryPercent >= w.cfg.MemoryThreshold {
		return fmt.Sprintf("memory usage %.1f%% >= %.1f%%", usage.MemoryPercent, w.cfg.MemoryThreshold)
	}
	if w.cfg.DiskThreshold > 0 && usage.DiskPercent >= w.cfg.DiskThreshold {
		return fmt.Sprintf("disk usage %.1f%% >= %.1f%%", usage.DiskPercent, w.cfg.DiskThreshold)
	}
	return ""
}
