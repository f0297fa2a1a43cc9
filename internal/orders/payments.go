package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/auth"
	"github.com/jogardn/food-delivery/internal/events"
	"github.com/jogardn/food-delivery/internal/payment"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/sirupsen/logrus"
)

type PaymentIntent struct {
	OrderID      int64                `json:"order_id"`
	IntentID     string               `json:"intent_id"`
	ClientSecret string               `json:"client_secret"`
	Status       payment.IntentStatus `json:"status"`
}

func payableByCard(order *models.Order) error {
	switch {
	case order.PaymentMethod != models.PaymentMethodCard:
		return apperrors.Validation("order %d is not paid by card", order.ID)
	case order.PaymentState == models.PaymentStatePaid:
		return apperrors.Conflict("order %d is already paid", order.ID)
	case order.State == models.OrderStateCancelled:
		return apperrors.Conflict("order %d is cancelled", order.ID)
	}
	return nil
}

func gatewayError(err error, action string) error {
	var statusErr *payment.StatusError
	if errors.As(err, &statusErr) && statusErr.Rejected() {
		return apperrors.Validation("payment gateway rejected the request: %s", statusErr.Message).WithCause(err)
	}
	return apperrors.Internal(err, "payment gateway failed to %s", action)
}

// CreatePaymentIntent opens a gateway intent for a card order and ties it to
// the order's payment record. The gateway is called outside any unit of work.
func (m *Manager) CreatePaymentIntent(ctx context.Context, orderID, customerID int64) (*PaymentIntent, error) {
	var order *models.Order
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = ownedOrder(ctx, tx, orderID, customerID)
		if err != nil {
			return err
		}
		return payableByCard(order)
	})
	if err != nil {
		return nil, err
	}

	intent, err := m.gateway.CreateIntent(ctx, order.Total, fmt.Sprintf("Order #%d", order.ID))
	if err != nil {
		m.logger.WithError(err).WithField("order_id", orderID).Error("Failed to create payment intent")
		return nil, gatewayError(err, "create intent")
	}

	err = m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := payableByCard(order); err != nil {
			return err
		}
		if _, err := m.payments.RecordIntent(ctx, tx, order, intent.ID); err != nil {
			return err
		}
		if order.PaymentState != models.PaymentStatePending {
			order.PaymentState = models.PaymentStatePending
			return saveOrder(ctx, tx, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &PaymentIntent{
		OrderID:      order.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
	}, nil
}

// ConfirmCardPayment asks the gateway how the order's current intent ended
// and settles the order's payment state accordingly. The owner or an
// administrator may trigger it.
func (m *Manager) ConfirmCardPayment(ctx context.Context, orderID int64, by auth.Identity) (*models.Order, error) {
	var order *models.Order
	var intentID string
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !by.Is(models.RoleAdmin) && order.CustomerID != by.UserID {
			return apperrors.Forbidden("order %d does not belong to customer %d", orderID, by.UserID)
		}
		record, err := m.payments.Pending(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if record.State != models.TransactionSuccessful {
			intentID = record.ExternalRef
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if intentID == "" {
		return order, nil
	}

	status, err := m.gateway.RetrieveStatus(ctx, intentID)
	if err != nil {
		m.logger.WithError(err).WithField("order_id", orderID).Error("Failed to retrieve payment intent")
		return nil, gatewayError(err, "retrieve intent")
	}

	changed := false
	err = m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		state, err := m.payments.ApplyGatewayStatus(ctx, tx, orderID, intentID, status)
		if err != nil {
			return err
		}
		next := payment.OrderPaymentState(state)
		if next == order.PaymentState {
			return nil
		}
		order.PaymentState = next
		changed = true
		return saveOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"order_id":      order.ID,
		"intent_id":     intentID,
		"status":        status,
		"payment_state": order.PaymentState,
	}).Info("Card payment checked")

	if changed && order.State == models.OrderStateCancelled && order.PaymentState == models.PaymentStatePaid {
		m.logger.WithFields(logrus.Fields{
			"order_id":  order.ID,
			"intent_id": intentID,
			"amount":    order.Total.StringFixed(2),
		}).Warn("Payment captured for a cancelled order")
		m.publish(ctx, events.PaymentAfterCancel, order, "")
		return order, nil
	}
	if changed {
		m.publish(ctx, events.PaymentUpdated, order, "")
		switch order.PaymentState {
		case models.PaymentStatePaid:
			m.notifyCustomer(ctx, order, "payment_succeeded", "Payment received",
				fmt.Sprintf("Your payment of %s for order #%d went through", order.Total.StringFixed(2), order.ID))
		case models.PaymentStateFailed:
			m.notifyCustomer(ctx, order, "payment_failed", "Payment failed",
				fmt.Sprintf("Your payment for order #%d did not go through", order.ID))
		}
	}
	return order, nil
}
