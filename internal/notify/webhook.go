package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"streamcast/internal/orchestrator"
)

// WebhookSink POSTs each event as JSON to a configured endpoint.
type WebhookSink struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookSink builds a sink for the given endpoint. token, when set, is
// sent as a bearer Authorization header.
func NewWebhookSink(url, token string, client *http.Client) (*WebhookSink, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(url), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{url: trimmed, token: token, client: client}, nil
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, event orchestrator.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
