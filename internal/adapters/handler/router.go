package handler

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Handlers groups the HTTP adapters mounted by NewRouter.
// A nil handler leaves its routes unregistered.
type Handlers struct {
	Webhook   *WebhookHandler
	Chat      *ChatHandler
	Outbox    *OutboxHandler
	Dashboard *DashboardHandler
	Events    http.Handler // live domain event feed
}

// NewRouter mounts every route of the relay
func NewRouter(h Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(recoverMiddleware, logMiddleware)

	if h.Dashboard != nil {
		r.HandleFunc("/", h.Dashboard.Health).Methods(http.MethodGet)
		r.HandleFunc("/api/system/metrics", h.Dashboard.GetSystemMetrics).Methods(http.MethodGet)
		r.HandleFunc("/api/system/pause", h.Dashboard.Pause).Methods(http.MethodPost)
		r.HandleFunc("/api/system/pause", h.Dashboard.Resume).Methods(http.MethodDelete)
	}
	if h.Events != nil {
		r.Handle("/api/system/events", h.Events).Methods(http.MethodGet)
	}

	// ====================================================================
	// Evolution webhook
	// ====================================================================
	if h.Webhook != nil {
		r.HandleFunc("/api/webhooks/whatsapp/{token}", h.Webhook.HandleVerify).Methods(http.MethodGet)
		r.HandleFunc("/api/webhooks/whatsapp/{token}", h.Webhook.HandleEvent).Methods(http.MethodPost)
		r.HandleFunc("/api/webhooks/whatsapp", h.Webhook.HandleEvent).Methods(http.MethodPost)
	}

	// ====================================================================
	// Chat API
	// ====================================================================
	if h.Chat != nil {
		chat := r.PathPrefix("/api/chat").Subrouter()
		chat.HandleFunc("/conversations", h.Chat.ListConversations).Methods(http.MethodGet)
		chat.HandleFunc("/messages", h.Chat.ListMessages).Methods(http.MethodGet)
		chat.HandleFunc("/messages", h.Chat.SendMessage).Methods(http.MethodPost)
		chat.HandleFunc("/messages/{id}/context", h.Chat.MessageContext).Methods(http.MethodGet)
		chat.HandleFunc("/media", h.Chat.Media).Methods(http.MethodGet)
	}

	if h.Outbox != nil {
		r.HandleFunc("/api/internal/outbox/process", h.Outbox.Process).Methods(http.MethodPost)
	}

	return r
}

// recoverMiddleware turns a handler panic into a 500
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("PANIC in HTTP handler",
					"panic", rec,
					"method", r.Method,
				)
				writeResponse(w, InternalErrorResponse("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the event feed upgrade through the logging wrapper
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		// templates keep the webhook token out of the logs
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
