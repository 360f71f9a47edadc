package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

// OutboxStats reports outbox queue depth
type OutboxStats interface {
	CountByStatus(ctx context.Context) (map[domain.OutboxStatus]int, error)
}

// PauseControl is the operator view of the delivery pause switch
type PauseControl interface {
	IsActive() bool
	Enable(reason, activatedBy string)
	Disable(deactivatedBy string)
	Status() map[string]interface{}
}

// DashboardThresholds mirrors the watchdog limits for display
type DashboardThresholds struct {
	Memory float64
	Disk   float64
}

// DashboardHandler handles health and operator endpoints
type DashboardHandler struct {
	probe      ports.SystemProbe
	pause      PauseControl
	outbox     OutboxStats // optional
	thresholds DashboardThresholds
	adminToken string
	startedAt  time.Time
}

// NewDashboardHandler creates a new dashboard handler instance.
// adminToken guards the pause endpoints; empty disables them.
func NewDashboardHandler(probe ports.SystemProbe, pause PauseControl, outbox OutboxStats, thresholds DashboardThresholds, adminToken string) *DashboardHandler {
	return &DashboardHandler{
		probe:      probe,
		pause:      pause,
		outbox:     outbox,
		thresholds: thresholds,
		adminToken: adminToken,
		startedAt:  time.Now(),
	}
}

// Health answers liveness probes
// GET /
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, NewSuccessResponse(map[string]interface{}{
		"service": "evolution-relay",
		"uptime":  formatDuration(time.Since(h.startedAt)),
	}))
}

// ============================================================================
// System Health & Metrics
// ============================================================================

// SystemMetricsResponse represents system health data
type SystemMetricsResponse struct {
	Usage            ports.ResourceUsage    `json:"usage"`
	MemoryThreshold  float64                `json:"memory_threshold"`
	DiskThreshold    float64                `json:"disk_threshold"`
	DiskWarningLevel string                 `json:"disk_warning_level"` // "safe" | "warning" | "critical"
	Pause            map[string]interface{} `json:"pause"`
	Outbox           map[string]int         `json:"outbox,omitempty"`
	Uptime           string                 `json:"uptime"`
}

// GetSystemMetrics returns current system health metrics
// GET /api/system/metrics
func (h *DashboardHandler) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	usage, err := h.probe.Usage(ctx)
	if err != nil {
		// partial readings are still useful
		slog.Warn("System probe incomplete", "error", err)
	}

	response := SystemMetricsResponse{
		Usage:            usage,
		MemoryThreshold:  h.thresholds.Memory,
		DiskThreshold:    h.thresholds.Disk,
		DiskWarningLevel: diskWarningLevel(usage.DiskPercent, h.thresholds.Disk),
		Pause:            h.pause.Status(),
		Uptime:           formatDuration(time.Since(h.startedAt)),
	}

	if h.outbox != nil {
		counts, err := h.outbox.CountByStatus(ctx)
		if err != nil {
			slog.Error("Failed to count outbox entries", "error", err)
		} else {
			response.Outbox = make(map[string]int, len(counts))
			for status, n := range counts {
				response.Outbox[string(status)] = n
			}
		}
	}

	slog.Debug("System metrics retrieved",
		"cpu", usage.CPUPercent,
		"disk_percent", usage.DiskPercent,
		"paused", h.pause.IsActive(),
	)
	writeResponse(w, NewSuccessResponse(response))
}

// ============================================================================
// Pause Switch
// ============================================================================

// Pause stops outbox delivery until resumed
// POST /api/system/pause
func (h *DashboardHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeResponse(w, UnauthorizedResponse("unauthorized"))
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual"
	}
	h.pause.Enable(reason, "operator")
	writeResponse(w, NewSuccessResponse(h.pause.Status()))
}

// Resume re-enables outbox delivery
// DELETE /api/system/pause
func (h *DashboardHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeResponse(w, UnauthorizedResponse("unauthorized"))
		return
	}
	h.pause.Disable("operator")
	writeResponse(w, NewSuccessResponse(h.pause.Status()))
}

func (h *DashboardHandler) authorized(r *http.Request) bool {
	got := r.Header.Get(HeaderOutboxToken)
	return h.adminToken != "" && subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) == 1
}

// ============================================================================
// Helpers
// ============================================================================

func diskWarningLevel(percent, threshold float64) string {
	switch {
	case threshold <= 0 || percent < threshold-10:
		return "safe"
	case percent < threshold:
		return "warning"
	default:
		return "critical"
	}
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours >= 24 {
		return fmt.Sprintf("%dd %dh", hours/24, hours%24)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
