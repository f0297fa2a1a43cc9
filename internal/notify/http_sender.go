package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ProviderError is a non-2xx answer from a delivery provider.
type ProviderError struct {
	Provider   string
	StatusCode int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider returned error status: %d", e.Provider, e.StatusCode)
}

// Retryable is true for throttling and server-side failures.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPSender posts messages to a push or WhatsApp provider REST API.
type HTTPSender struct {
	provider   string
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

type pushPayload struct {
	ExternalUserIDs []string          `json:"external_user_ids"`
	Title           string            `json:"title"`
	Body            string            `json:"body"`
	Data            map[string]string `json:"data,omitempty"`
}

type directPayload struct {
	To   string `json:"to"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

// NewPushSender posts to {baseURL}/v1/notifications.
func NewPushSender(baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger) *HTTPSender {
	return newHTTPSender("push", baseURL+"/v1/notifications", apiKey, timeout, logger)
}

// NewWhatsAppSender posts to {baseURL}/v1/messages.
func NewWhatsAppSender(baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger) *HTTPSender {
	return newHTTPSender("whatsapp", baseURL+"/v1/messages", apiKey, timeout, logger)
}

func newHTTPSender(provider, url, apiKey string, timeout time.Duration, logger *logrus.Logger) *HTTPSender {
	return &HTTPSender{
		provider: provider,
		url:      url,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	var payload interface{}
	switch msg.Channel {
	case ChannelPush:
		ids := make([]string, len(msg.CustomerIDs))
		for i, id := range msg.CustomerIDs {
			ids[i] = fmt.Sprintf("%d", id)
		}
		payload = pushPayload{ExternalUserIDs: ids, Title: msg.Title, Body: msg.Body, Data: msg.Data}
	case ChannelDirect:
		p := directPayload{To: msg.Phone, Type: "text"}
		p.Text.Body = msg.Body
		payload = p
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidMessage, msg.Channel)
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", s.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s provider: %w", s.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{Provider: s.provider, StatusCode: resp.StatusCode}
	}

	s.logger.WithFields(logrus.Fields{
		"provider": s.provider,
		"status":   resp.StatusCode,
	}).Debug("Received response from provider")
	return nil
}
