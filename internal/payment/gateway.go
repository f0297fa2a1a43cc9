// Package payment keeps payment records and talks to the card payment
// gateway. Manual methods (cash, wallet) never reach the gateway.
package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

type IntentStatus string

// The order core reacts to succeeded, requires_payment_method and canceled.
// Every other status leaves the payment pending.
const (
	StatusSucceeded             IntentStatus = "succeeded"
	StatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	StatusCanceled              IntentStatus = "canceled"
	StatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	StatusProcessing            IntentStatus = "processing"
)

type Intent struct {
	ID           string       `json:"id"`
	ClientSecret string       `json:"client_secret"`
	Status       IntentStatus `json:"status"`
}

type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, description string) (*Intent, error)
	RetrieveStatus(ctx context.Context, intentID string) (IntentStatus, error)
}

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment gateway returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("payment gateway returned status %d", e.StatusCode)
}

// Rejected reports whether the gateway refused the request itself, as opposed
// to failing to process it.
func (e *StatusError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
