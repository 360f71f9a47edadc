package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
	"evolution-relay/internal/core/services"
)

func batchResult(processed, sent, retried, failed int) services.BatchResult {
	return services.BatchResult{Processed: processed, Sent: sent, Retried: retried, Failed: failed}
}

func newDashboard(outbox OutboxStats, pause *services.PauseSwitch) *DashboardHandler {
	probe := fakeProbe{usage: ports.ResourceUsage{MemoryPercent: 42.5, DiskPercent: 85, Goroutines: 12}}
	return NewDashboardHandler(probe, pause, outbox, DashboardThresholds{Memory: 90, Disk: 90}, "admin-token")
}

func TestDashboard_Health(t *testing.T) {
	router := NewRouter(Handlers{Dashboard: newDashboard(nil, services.NewPauseSwitch())})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "evolution-relay", data["service"])
}

func TestDashboard_Metrics(t *testing.T) {
	stats := new(MockOutboxStats)
	stats.On("CountByStatus", mock.Anything).Return(map[domain.OutboxStatus]int{
		domain.OutboxStatusPending: 4,
		domain.OutboxStatusFailed:  1,
	}, nil)
	router := NewRouter(Handlers{Dashboard: newDashboard(stats, services.NewPauseSwitch())})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "warning", data["disk_warning_level"])
	assert.Equal(t, float64(90), data["memory_threshold"])
	usage := data["usage"].(map[string]interface{})
	assert.Equal(t, 42.5, usage["memory_percent"])
	outbox := data["outbox"].(map[string]interface{})
	assert.Equal(t, float64(4), outbox["pending"])
	pause := data["pause"].(map[string]interface{})
	assert.Equal(t, false, pause["active"])
}

func TestDashboard_MetricsSurvivesCountError(t *testing.T) {
	stats := new(MockOutboxStats)
	stats.On("CountByStatus", mock.Anything).Return(nil, errors.New("db down"))
	router := NewRouter(Handlers{Dashboard: newDashboard(stats, services.NewPauseSwitch())})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Nil(t, data["outbox"])
}

func TestDashboard_PauseAndResume(t *testing.T) {
	pause := services.NewPauseSwitch()
	router := NewRouter(Handlers{Dashboard: newDashboard(nil, pause)})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/system/pause", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, pause.IsActive())

	req := httptest.NewRequest(http.MethodPost, "/api/system/pause?reason=maintenance", nil)
	req.Header.Set(HeaderOutboxToken, "admin-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, pause.IsActive())
	assert.Equal(t, "maintenance", pause.Status()["reason"])

	req = httptest.NewRequest(http.MethodDelete, "/api/system/pause", nil)
	req.Header.Set(HeaderOutboxToken, "admin-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, pause.IsActive())
}

func TestDiskWarningLevel(t *testing.T) {
	assert.Equal(t, "safe", diskWarningLevel(50, 90))
	assert.Equal(t, "warning", diskWarningLevel(85, 90))
	assert.Equal(t, "critical", diskWarningLevel(95, 90))
	assert.Equal(t, "safe", diskWarningLevel(99, 0))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1h 30m", formatDuration(90*time.Minute))
	assert.Equal(t, "2d 3h", formatDuration(51*time.Hour))
}

func TestRouter_RecoversPanics(t *testing.T) {
	ingestor := new(MockIngestor)
	ingestor.On("Ingest", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
	router := NewRouter(Handlers{Webhook: NewWebhookHandler(ingestor, testSecret)})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/whatsapp/"+testSecret, nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
