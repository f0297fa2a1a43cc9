package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MockGateway is an in-process gateway for development and tests. Intents
// start in requires_confirmation; with autoConfirm they report succeeded on
// the first status lookup.
type MockGateway struct {
	mu          sync.Mutex
	intents     map[string]IntentStatus
	autoConfirm bool
	logger      *logrus.Logger
}

func NewMockGateway(autoConfirm bool, logger *logrus.Logger) *MockGateway {
	return &MockGateway{
		intents:     make(map[string]IntentStatus),
		autoConfirm: autoConfirm,
		logger:      logger,
	}
}

func (m *MockGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, description string) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, &StatusError{StatusCode: 400, Message: "amount must be positive"}
	}

	id := "pi_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	intent := &Intent{
		ID:           id,
		ClientSecret: fmt.Sprintf("%s_secret_%s", id, uuid.NewString()[:8]),
		Status:       StatusRequiresConfirmation,
	}

	m.mu.Lock()
	m.intents[id] = intent.Status
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"intent_id":   id,
		"amount":      amount.StringFixed(2),
		"description": description,
	}).Info("Mock payment intent created")
	return intent, nil
}

func (m *MockGateway) RetrieveStatus(ctx context.Context, intentID string) (IntentStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.intents[intentID]
	if !ok {
		return "", &StatusError{StatusCode: 404, Message: "no such payment intent"}
	}
	if m.autoConfirm && status == StatusRequiresConfirmation {
		status = StatusSucceeded
		m.intents[intentID] = status
	}
	return status, nil
}

// SetStatus forces the status reported for an intent.
func (m *MockGateway) SetStatus(intentID string, status IntentStatus) {
	m.mu.Lock()
	m.intents[intentID] = status
	m.mu.Unlock()
}
