package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"streamcast/internal/models"
)

// Config stores connectivity information for the platform API.
type Config struct {
	BaseURL       string
	Token         string
	HTTPClient    *http.Client
	MaxAttempts   int
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// LoadConfigFromEnv initialises a Config from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:       strings.TrimSpace(os.Getenv("STREAMCAST_PLATFORM_API")),
		Token:         strings.TrimSpace(os.Getenv("STREAMCAST_PLATFORM_TOKEN")),
		MaxAttempts:   3,
		RetryInterval: 500 * time.Millisecond,
	}
	if attempts := strings.TrimSpace(os.Getenv("STREAMCAST_PLATFORM_MAX_ATTEMPTS")); attempts != "" {
		parsed, err := strconv.Atoi(attempts)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMCAST_PLATFORM_MAX_ATTEMPTS: %w", err)
		}
		if parsed > 0 {
			cfg.MaxAttempts = parsed
		}
	}
	if interval := strings.TrimSpace(os.Getenv("STREAMCAST_PLATFORM_RETRY_INTERVAL")); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMCAST_PLATFORM_RETRY_INTERVAL: %w", err)
		}
		if parsed >= 0 {
			cfg.RetryInterval = parsed
		}
	}
	return cfg, nil
}

// Enabled reports whether the config points at a platform endpoint.
func (c Config) Enabled() bool {
	return c.BaseURL != ""
}

// HTTPClient implements Client against a JSON/REST platform API.
type HTTPClient struct {
	baseURL       string
	token         string
	client        *http.Client
	logger        *slog.Logger
	maxAttempts   int
	retryInterval time.Duration
}

// NewHTTPClient validates cfg and constructs a client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		token:         cfg.Token,
		client:        client,
		logger:        logger,
		maxAttempts:   attempts,
		retryInterval: cfg.RetryInterval,
	}, nil
}

// SetLogger installs a logger after construction.
func (c *HTTPClient) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

type broadcastRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Privacy     string     `json:"privacy,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

type broadcastResponse struct {
	ID     string `json:"id"`
	ChatID string `json:"chatId,omitempty"`
}

type bindRequest struct {
	Resolution string `json:"resolution,omitempty"`
	Bitrate    string `json:"bitrate,omitempty"`
}

type bindResponse struct {
	StreamID     string `json:"streamId"`
	IngestionURL string `json:"ingestionUrl"`
	StreamKey    string `json:"streamKey"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

type chatMessageRequest struct {
	Text string `json:"text"`
}

type analyticsResponse struct {
	ConcurrentViewers int    `json:"concurrentViewers"`
	HealthStatus      string `json:"healthStatus"`
	LifecycleStatus   string `json:"lifecycleStatus"`
}

func (c *HTTPClient) CreateBroadcast(ctx context.Context, req BroadcastRequest) (Broadcast, error) {
	payload := broadcastRequest{
		Title:       req.Title,
		Description: req.Description,
		Privacy:     req.Privacy,
		ScheduledAt: req.ScheduledAt,
	}
	var response broadcastResponse
	if err := c.do(ctx, "create_broadcast", http.MethodPost, "/v1/broadcasts", payload, &response); err != nil {
		return Broadcast{}, err
	}
	if response.ID == "" {
		return Broadcast{}, &APIError{Operation: "create_broadcast", Message: "platform returned empty broadcast id"}
	}
	return Broadcast{ID: response.ID, ChatID: response.ChatID}, nil
}

func (c *HTTPClient) BindStream(ctx context.Context, broadcastID, resolution, bitrate string) (StreamBinding, error) {
	payload := bindRequest{Resolution: resolution, Bitrate: bitrate}
	var response bindResponse
	path := fmt.Sprintf("/v1/broadcasts/%s/bind", broadcastID)
	if err := c.do(ctx, "bind_stream", http.MethodPost, path, payload, &response); err != nil {
		return StreamBinding{}, err
	}
	if response.IngestionURL == "" {
		return StreamBinding{}, &APIError{Operation: "bind_stream", Message: "platform returned empty ingestion URL"}
	}
	return StreamBinding{
		StreamID:     response.StreamID,
		IngestionURL: response.IngestionURL,
		StreamKey:    response.StreamKey,
	}, nil
}

func (c *HTTPClient) Transition(ctx context.Context, broadcastID, status string) error {
	path := fmt.Sprintf("/v1/broadcasts/%s/transition", broadcastID)
	return c.do(ctx, "transition", http.MethodPost, path, transitionRequest{Status: status}, nil)
}

func (c *HTTPClient) SendChatMessage(ctx context.Context, broadcastID, text string) error {
	path := fmt.Sprintf("/v1/broadcasts/%s/chat", broadcastID)
	return c.do(ctx, "send_chat", http.MethodPost, path, chatMessageRequest{Text: text}, nil)
}

func (c *HTTPClient) DisableChat(ctx context.Context, broadcastID string) error {
	path := fmt.Sprintf("/v1/broadcasts/%s/chat", broadcastID)
	return c.do(ctx, "disable_chat", http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) Analytics(ctx context.Context, broadcastID string) (models.AnalyticsSnapshot, error) {
	path := fmt.Sprintf("/v1/broadcasts/%s/analytics", broadcastID)
	var response analyticsResponse
	if err := c.do(ctx, "analytics", http.MethodGet, path, nil, &response); err != nil {
		return models.AnalyticsSnapshot{}, err
	}
	return models.AnalyticsSnapshot{
		ConcurrentViewers: response.ConcurrentViewers,
		HealthStatus:      response.HealthStatus,
		LifecycleStatus:   response.LifecycleStatus,
	}, nil
}

// do issues one API call, retrying transient failures up to maxAttempts with
// retryInterval between attempts. Permanent failures return immediately.
func (c *HTTPClient) do(ctx context.Context, operation, method, path string, payload, dest interface{}) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", operation, err)
		}
		body = encoded
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.once(ctx, operation, method, path, body, dest)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || attempt == c.maxAttempts {
			return lastErr
		}
		c.logger.Warn("platform request failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"error", lastErr,
		)
		if c.retryInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryInterval):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}
	return lastErr
}

func (c *HTTPClient) once(ctx context.Context, operation, method, path string, body []byte, dest interface{}) error {
	reader := io.Reader(nil)
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &APIError{Operation: operation, Message: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Operation: operation, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if dest == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return &APIError{Operation: operation, Message: fmt.Sprintf("decode response: %v", err)}
		}
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		Operation: operation,
		Status:    resp.StatusCode,
		Message:   strings.TrimSpace(string(data)),
		Transient: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}
}
