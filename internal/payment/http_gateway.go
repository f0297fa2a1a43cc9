package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jogardn/food-delivery/internal/circuitbreaker"
	"github.com/jogardn/food-delivery/internal/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// HTTPGateway is a REST client for a Stripe-style payment-intent API.
type HTTPGateway struct {
	cfg        config.PaymentConfig
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

func NewHTTPGateway(cfg config.PaymentConfig, breakers *circuitbreaker.Manager, logger *logrus.Logger) *HTTPGateway {
	return &HTTPGateway{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: breakers.GetOrCreate("payment-gateway", circuitbreaker.Config{
			MaxFailures: 5,
			Timeout:     cfg.BreakerTimeout,
			MaxRequests: 1,
			IsFailure:   isGatewayFailure,
		}),
		logger: logger,
	}
}

// isGatewayFailure keeps declined or malformed requests from tripping the breaker.
func isGatewayFailure(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return !statusErr.Rejected()
	}
	return err != nil && !errors.Is(err, context.Canceled)
}

type createIntentRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

func (g *HTTPGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, description string) (*Intent, error) {
	body, err := json.Marshal(createIntentRequest{
		Amount:      g.cfg.MinorUnits(amount),
		Currency:    g.cfg.Currency,
		Description: description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent request: %w", err)
	}

	var intent Intent
	err = g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.do(ctx, http.MethodPost, "/v1/payment_intents", body, &intent)
	})
	if err != nil {
		return nil, err
	}

	g.logger.WithFields(logrus.Fields{
		"intent_id": intent.ID,
		"status":    intent.Status,
		"amount":    amount.StringFixed(2),
	}).Info("Payment intent created")
	return &intent, nil
}

func (g *HTTPGateway) RetrieveStatus(ctx context.Context, intentID string) (IntentStatus, error) {
	var intent Intent
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), nil, &intent)
	})
	if err != nil {
		return "", err
	}

	g.logger.WithFields(logrus.Fields{
		"intent_id": intentID,
		"status":    intent.Status,
	}).Debug("Payment intent status retrieved")
	return intent.Status, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.GatewayURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to payment gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var problem struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&problem)
		return &StatusError{StatusCode: resp.StatusCode, Message: problem.Error.Message}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode payment gateway response: %w", err)
	}
	return nil
}
