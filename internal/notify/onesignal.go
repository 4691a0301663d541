package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultOneSignalBaseURL = "https://onesignal.com"

// OneSignalPush sends push notifications through the OneSignal REST API.
type OneSignalPush struct {
	appID   string
	apiKey  string
	baseURL string
	client  *http.Client
}

// OneSignalOption configures a OneSignalPush.
type OneSignalOption func(*OneSignalPush)

// WithOneSignalBaseURL overrides the API base URL.
func WithOneSignalBaseURL(url string) OneSignalOption {
	return func(p *OneSignalPush) {
		p.baseURL = url
	}
}

// WithOneSignalHTTPClient sets a custom HTTP client.
func WithOneSignalHTTPClient(client *http.Client) OneSignalOption {
	return func(p *OneSignalPush) {
		p.client = client
	}
}

// NewOneSignalPush creates a push channel for the given app.
func NewOneSignalPush(appID, apiKey string, opts ...OneSignalOption) *OneSignalPush {
	p := &OneSignalPush{
		appID:   appID,
		apiKey:  apiKey,
		baseURL: defaultOneSignalBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type osRequest struct {
	AppID            string              `json:"app_id"`
	IncludedSegments []string            `json:"included_segments,omitempty"`
	IncludeAliases   map[string][]string `json:"include_aliases,omitempty"`
	TargetChannel    string              `json:"target_channel,omitempty"`
	Headings         map[string]string   `json:"headings,omitempty"`
	Contents         map[string]string   `json:"contents"`
}

// Send pushes msg.Text to the user's devices, identified by external id. A
// message without a user goes to every subscriber.
func (p *OneSignalPush) Send(ctx context.Context, msg Message) error {
	req := osRequest{
		AppID:    p.appID,
		Contents: map[string]string{"en": msg.Text},
	}
	if msg.Subject != "" {
		req.Headings = map[string]string{"en": msg.Subject}
	}
	if msg.UserID != "" {
		req.IncludeAliases = map[string][]string{"external_id": {msg.UserID}}
		req.TargetChannel = "push"
	} else {
		req.IncludedSegments = []string{"All"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("onesignal API error %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
