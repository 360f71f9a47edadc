// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

// Custom errors for specific Evolution API failures.
// The outbox treats all of them as retryable.
var (
	// ErrUnauthorized indicates a missing or wrong apikey (401, 403)
	ErrUnauthorized = errors.New("evolution api key rejected")

	// ErrRateLimited indicates Evolution throttled the request (429)
	ErrRateLimited = errors.New("evolution rate limit exceeded")

	// ErrInstanceNotFound indicates the instance does not exist (404)
	ErrInstanceNotFound = errors.New("evolution instance not found")
)

// Ensure EvolutionClient implements the provider ports
var (
	_ ports.MessageProvider = (*EvolutionClient)(nil)
	_ ports.MediaFetcher    = (*EvolutionClient)(nil)
)

// EvolutionClient talks to an Evolution API server
type EvolutionClient struct {
	http     *resty.Client
	media    *resty.Client
	baseURL  string
	apiKey   string
	instance string
	now      func() time.Time
}

// EvolutionConfig holds the server address and the default line
type EvolutionConfig struct {
	BaseURL  string
	APIKey   string
	Instance string
	Timeout  time.Duration
}

// NewEvolutionClient creates a new Evolution API client
func NewEvolutionClient(cfg EvolutionConfig) (*EvolutionClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("evolution base url cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	client := resty.New().
		SetBaseURL(base).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	// Media downloads stream and may take longer than a send
	media := resty.New().
		SetTimeout(0).
		SetDoNotParseResponse(true)

	slog.Info("Evolution client configured",
		"base_url", base,
		"default_instance", cfg.Instance,
	)

	return &EvolutionClient{
		http:     client,
		media:    media,
		baseURL:  base,
		apiKey:   cfg.APIKey,
		instance: cfg.Instance,
		now:      time.Now,
	}, nil
}

// sendTextRequest is the body of POST /message/sendText/{instance}
type sendTextRequest struct {
	Number          string `json:"number"`
	Text            string `json:"text"`
	QuotedMessageID string `json:"quotedMessageId,omitempty"`
}

// sendMediaRequest is the body of POST /message/sendMedia/{instance}
type sendMediaRequest struct {
	Number          string `json:"number"`
	MediaType       string `json:"mediatype"`
	Media           string `json:"media"`
	Caption         string `json:"caption,omitempty"`
	QuotedMessageID string `json:"quotedMessageId,omitempty"`
}

// sendResponse covers the id fields Evolution versions have used
type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
}

// SendText sends a text message
func (c *EvolutionClient) SendText(ctx context.Context, to, text string, opts ports.SendOptions) (ports.SendResult, error) {
	body := sendTextRequest{
		Number:          to,
		Text:            text,
		QuotedMessageID: opts.ReplyMessageID,
	}
	return c.send(ctx, "sendText", body, opts)
}

// SendMedia sends an image, video, audio or document by URL
func (c *EvolutionClient) SendMedia(ctx context.Context, to, mediaURL string, kind domain.MessageType, caption string, opts ports.SendOptions) (ports.SendResult, error) {
	body := sendMediaRequest{
		Number:          to,
		MediaType:       evolutionMediaType(kind),
		Media:           mediaURL,
		Caption:         caption,
		QuotedMessageID: opts.ReplyMessageID,
	}
	return c.send(ctx, "sendMedia", body, opts)
}

func (c *EvolutionClient) send(ctx context.Context, action string, body any, opts ports.SendOptions) (ports.SendResult, error) {
	instance := opts.Instance
	if instance == "" {
		instance = c.instance
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = c.apiKey
	}
	if instance == "" {
		return ports.SendResult{}, fmt.Errorf("%s: no instance configured", action)
	}

	path := fmt.Sprintf("/message/%s/%s", action, url.PathEscape(instance))

	var result sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", apiKey).
		SetBody(body).
		SetResult(&result).
		Post(path)
	if err != nil {
		slog.Error("Evolution request failed",
			"error", err,
			"action", action,
			"instance", instance,
		)
		return ports.SendResult{}, fmt.Errorf("%s request: %w", action, err)
	}

	if resp.IsError() {
		slog.Warn("Evolution returned an error",
			"action", action,
			"instance", instance,
			"status", resp.StatusCode(),
			"body", truncate(resp.String(), 512),
		)
		return ports.SendResult{}, statusError(action, resp.StatusCode(), resp.String())
	}

	providerID := firstNonEmpty(result.Key.ID, result.ID, result.MessageID)
	if providerID == "" {
		providerID = fmt.Sprintf("evo-%d", c.now().UnixMilli())
	}

	slog.Info("Message sent via Evolution",
		"action", action,
		"instance", instance,
		"provider_message_id", providerID,
	)
	return ports.SendResult{ProviderMessageID: providerID}, nil
}

// FetchMedia opens an upstream media download. The caller must close Body.
func (c *EvolutionClient) FetchMedia(ctx context.Context, mediaURL, apiKey, rangeHeader string) (*ports.MediaStream, error) {
	if apiKey == "" {
		apiKey = c.apiKey
	}

	req := c.media.R().
		SetContext(ctx).
		SetHeader("apikey", apiKey)
	if rangeHeader != "" {
		req.SetHeader("Range", rangeHeader)
	}

	resp, err := req.Get(mediaURL)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}

	raw := resp.RawResponse
	if raw.StatusCode != http.StatusOK && raw.StatusCode != http.StatusPartialContent {
		_ = raw.Body.Close()
		return nil, statusError("fetch media", raw.StatusCode, "")
	}

	return &ports.MediaStream{
		StatusCode:    raw.StatusCode,
		Body:          raw.Body,
		ContentType:   raw.Header.Get("Content-Type"),
		ContentRange:  raw.Header.Get("Content-Range"),
		ContentLength: raw.Header.Get("Content-Length"),
		AcceptRanges:  raw.Header.Get("Accept-Ranges"),
	}, nil
}

// statusError maps an HTTP failure to the gateway sentinel errors
func statusError(action string, status int, body string) error {
	var sentinel error
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = ErrUnauthorized
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case http.StatusNotFound:
		sentinel = ErrInstanceNotFound
	}

	if sentinel != nil {
		return fmt.Errorf("%s: status %d: %w", action, status, sentinel)
	}
	if body != "" {
		return fmt.Errorf("%s: status %d: %s", action, status, truncate(body, 512))
	}
	return fmt.Errorf("%s: status %d", action, status)
}

// evolutionMediaType maps our message kinds to Evolution's mediatype
func evolutionMediaType(kind domain.MessageType) string {
	if kind == domain.MessageTypeFile {
		return "document"
	}
	return string(kind)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
