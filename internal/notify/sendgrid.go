package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultSendGridBaseURL = "https://api.sendgrid.com"

// ErrNoRecipient is returned by email delivery when the message has no address.
var ErrNoRecipient = errors.New("message has no email recipient")

// SendGridEmail sends HTML email through the SendGrid v3 mail API.
type SendGridEmail struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
}

// SendGridOption configures a SendGridEmail.
type SendGridOption func(*SendGridEmail)

// WithSendGridBaseURL overrides the API base URL.
func WithSendGridBaseURL(url string) SendGridOption {
	return func(s *SendGridEmail) {
		s.baseURL = url
	}
}

// WithSendGridHTTPClient sets a custom HTTP client.
func WithSendGridHTTPClient(client *http.Client) SendGridOption {
	return func(s *SendGridEmail) {
		s.client = client
	}
}

// NewSendGridEmail creates an email channel sending from the given address.
func NewSendGridEmail(apiKey, from string, opts ...SendGridOption) *SendGridEmail {
	s := &SendGridEmail{
		apiKey:  apiKey,
		from:    from,
		baseURL: defaultSendGridBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type sgAddress struct {
	Email string `json:"email"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgRequest struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

// Send delivers msg.HTML to msg.Email.
func (s *SendGridEmail) Send(ctx context.Context, msg Message) error {
	if msg.Email == "" {
		return ErrNoRecipient
	}

	body, err := json.Marshal(sgRequest{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: msg.Email}}}},
		From:             sgAddress{Email: s.from},
		Subject:          msg.Subject,
		Content:          []sgContent{{Type: "text/html", Value: msg.HTML}},
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sendgrid API error %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
