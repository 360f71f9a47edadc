package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_NilHandlersAreNotMounted(t *testing.T) {
	router := NewRouter(Handlers{})

	for _, path := range []string{"/", "/api/chat/conversations", "/api/system/events"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestRouter_EventFeedCanHijack(t *testing.T) {
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Hijacker); !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(NewRouter(Handlers{Events: events}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/system/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := NewRouter(Handlers{Outbox: NewOutboxHandler(new(MockBatchProcessor), "secret")})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/internal/outbox/process", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
