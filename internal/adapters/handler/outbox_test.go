package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func serveOutbox(worker *MockBatchProcessor, token, target, body string) *httptest.ResponseRecorder {
	router := NewRouter(Handlers{Outbox: NewOutboxHandler(worker, "worker-token")})
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set(HeaderOutboxToken, token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestOutboxTrigger_Unauthorized(t *testing.T) {
	worker := new(MockBatchProcessor)

	assert.Equal(t, http.StatusUnauthorized, serveOutbox(worker, "", "/api/internal/outbox/process", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serveOutbox(worker, "nope", "/api/internal/outbox/process", "").Code)

	worker.AssertNotCalled(t, "ProcessBatch", mock.Anything, mock.Anything)
}

func TestOutboxTrigger_Limit(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"default", "/api/internal/outbox/process", "", DefaultTriggerLimit},
		{"query", "/api/internal/outbox/process?limit=25", "", 25},
		{"body", "/api/internal/outbox/process", `{"limit":7}`, 7},
		{"clamped", "/api/internal/outbox/process?limit=500", "", MaxTriggerLimit},
		{"garbage ignored", "/api/internal/outbox/process?limit=-3", "not json", DefaultTriggerLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worker := new(MockBatchProcessor)
			worker.On("ProcessBatch", mock.Anything, tt.want).Return(batchResult(3, 2, 1, 0), nil)

			rec := serveOutbox(worker, "worker-token", tt.target, tt.body)

			assert.Equal(t, http.StatusOK, rec.Code)
			data := decodeBody(t, rec)["data"].(map[string]interface{})
			assert.Equal(t, float64(3), data["processed"])
			assert.Equal(t, float64(2), data["sent"])
			worker.AssertExpectations(t)
		})
	}
}

func TestOutboxTrigger_Failure(t *testing.T) {
	worker := new(MockBatchProcessor)
	worker.On("ProcessBatch", mock.Anything, DefaultTriggerLimit).Return(batchResult(0, 0, 0, 0), errors.New("claim outbox batch: db down"))

	rec := serveOutbox(worker, "worker-token", "/api/internal/outbox/process", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
