package services

import (
	"log/slog"
	"sync"
	"time"
)

// PauseSwitch halts outbound delivery while the host is under pressure.
// One instance is shared by the watchdog and the outbox worker.
type PauseSwitch struct {
	mu          sync.RWMutex
	active      bool
	activatedBy string
	activatedAt time.Time
	reason      string
}

// NewPauseSwitch creates an inactive switch
func NewPauseSwitch() *PauseSwitch {
	return &PauseSwitch{}
}

// IsActive returns whether delivery is paused
func (p *PauseSwitch) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// ActivatedBy returns who paused delivery, or "" when active is false
func (p *PauseSwitch) ActivatedBy() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.active {
		return ""
	}
	return p.activatedBy
}

// Enable pauses delivery. Repeated calls keep the first activation time.
func (p *PauseSwitch) Enable(reason, activatedBy string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		p.reason = reason
		return
	}
	p.active = true
	p.reason = reason
	p.activatedBy = activatedBy
	p.activatedAt = time.Now()

	slog.Warn("🚨 OUTBOX PAUSED",
		"reason", reason,
		"activated_by", activatedBy,
	)
}

// Disable resumes delivery
func (p *PauseSwitch) Disable(deactivatedBy string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	p.active = false

	slog.Info("✅ OUTBOX RESUMED",
		"deactivated_by", deactivatedBy,
		"duration", time.Since(p.activatedAt),
	)
}

// Status returns the current switch state
func (p *PauseSwitch) Status() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return map[string]interface{}{
		"active":       p.active,
		"reason":       p.reason,
		"activated_by": p.activatedBy,
		"activated_at": p.activatedAt,
	}
}
