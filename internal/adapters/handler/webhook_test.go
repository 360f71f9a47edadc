package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/services"
)

const testSecret = "hook-secret"

func serveWebhook(t *testing.T, ingestor *MockIngestor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(Handlers{Webhook: NewWebhookHandler(ingestor, testSecret)})
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWebhook_Verify(t *testing.T) {
	rec := serveWebhook(t, new(MockIngestor), http.MethodGet, "/api/webhooks/whatsapp/anything", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestWebhook_TokenChecks(t *testing.T) {
	ingestor := new(MockIngestor)

	rec := serveWebhook(t, ingestor, http.MethodPost, "/api/webhooks/whatsapp/wrong", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serveWebhook(t, ingestor, http.MethodPost, "/api/webhooks/whatsapp", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ingestor.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestWebhook_EmptySecretRejectsEverything(t *testing.T) {
	ingestor := new(MockIngestor)
	router := NewRouter(Handlers{Webhook: NewWebhookHandler(ingestor, "")})

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/whatsapp/x", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhook_OutcomeMapping(t *testing.T) {
	tests := []struct {
		name     string
		result   services.IngestResult
		err      error
		wantCode int
		check    func(t *testing.T, body map[string]interface{})
	}{
		{
			name:     "processed",
			result:   services.IngestResult{Outcome: services.OutcomeOK, Status: domain.WebhookEventProcessed},
			wantCode: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, true, body["ok"])
				assert.Nil(t, body["duplicate"])
			},
		},
		{
			name:     "duplicate",
			result:   services.IngestResult{Outcome: services.OutcomeOK, Duplicate: true},
			wantCode: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, true, body["duplicate"])
			},
		},
		{
			name:     "failed but accepted",
			result:   services.IngestResult{Outcome: services.OutcomeAccepted, EventID: "evt-1"},
			wantCode: http.StatusAccepted,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "evt-1", body["eventId"])
			},
		},
		{
			name:     "invalid payload",
			result:   services.IngestResult{Outcome: services.OutcomeInvalid, Reason: services.ReasonInvalidJSON},
			wantCode: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, services.ReasonInvalidJSON, body["error"])
			},
		},
		{
			name:     "unknown instance",
			result:   services.IngestResult{Outcome: services.OutcomeForbidden, Reason: services.ReasonUnknownInstance},
			wantCode: http.StatusForbidden,
		},
		{
			name:     "infrastructure error",
			err:      errors.New("db down"),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingestor := new(MockIngestor)
			ingestor.On("Ingest", mock.Anything, []byte(`{"event":"messages.upsert"}`)).Return(tt.result, tt.err)

			rec := serveWebhook(t, ingestor, http.MethodPost, "/api/webhooks/whatsapp/"+testSecret, `{"event":"messages.upsert"}`)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.check != nil {
				tt.check(t, decodeBody(t, rec))
			}
			ingestor.AssertExpectations(t)
		})
	}
}

func TestWebhook_IngestSurvivesClientDisconnect(t *testing.T) {
	ingestor := new(MockIngestor)
	ingestor.On("Ingest", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(services.IngestResult{Outcome: services.OutcomeOK}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	router := NewRouter(Handlers{Webhook: NewWebhookHandler(ingestor, testSecret)})
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/whatsapp/"+testSecret, strings.NewReader(`{"event":"messages.upsert"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	ingestor.AssertExpectations(t)
}
