package payment

import (
	"context"
	"errors"
	"time"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/sirupsen/logrus"
)

// Keeper owns the payment record of each order. There is at most one record
// per order; a failed card attempt is retried by rewriting that record.
type Keeper struct {
	logger *logrus.Logger
	now    func() time.Time
}

func NewKeeper(logger *logrus.Logger) *Keeper {
	return &Keeper{logger: logger, now: time.Now}
}

// WithClock returns a copy of k reading time from now.
func (k *Keeper) WithClock(now func() time.Time) *Keeper {
	c := *k
	c.now = now
	return &c
}

// RecordManual stores a successful record for a cash or wallet order.
func (k *Keeper) RecordManual(ctx context.Context, repo store.PaymentRepository, order *models.Order) (*models.PaymentRecord, error) {
	if !order.PaymentMethod.Manual() {
		return nil, apperrors.Validation("payment method %s is not settled manually", order.PaymentMethod)
	}

	record := &models.PaymentRecord{
		OrderID:     order.ID,
		Amount:      order.Total,
		Method:      order.PaymentMethod,
		State:       models.TransactionSuccessful,
		ExternalRef: models.ManualReference(order.ID),
		CreatedAt:   k.now().UTC(),
	}
	if err := repo.CreatePayment(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperrors.Conflict("order %d already has a payment record", order.ID)
		}
		return nil, apperrors.Internal(err, "failed to record payment")
	}

	k.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"method":   order.PaymentMethod,
		"amount":   order.Total.StringFixed(2),
	}).Info("Manual payment recorded")
	return record, nil
}

// RecordIntent ties a gateway intent to the order. A previous failed or
// pending attempt is replaced; a successful one is never overwritten.
func (k *Keeper) RecordIntent(ctx context.Context, repo store.PaymentRepository, order *models.Order, intentID string) (*models.PaymentRecord, error) {
	existing, err := repo.GetPaymentByOrder(ctx, order.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		record := &models.PaymentRecord{
			OrderID:     order.ID,
			Amount:      order.Total,
			Method:      order.PaymentMethod,
			State:       models.TransactionPending,
			ExternalRef: intentID,
			CreatedAt:   k.now().UTC(),
		}
		if err := repo.CreatePayment(ctx, record); err != nil {
			return nil, apperrors.Internal(err, "failed to record payment intent")
		}
		k.logIntent(record)
		return record, nil
	case err != nil:
		return nil, apperrors.Internal(err, "failed to load payment record")
	}

	if existing.State == models.TransactionSuccessful {
		return nil, apperrors.Conflict("order %d is already paid", order.ID)
	}
	existing.Amount = order.Total
	existing.State = models.TransactionPending
	existing.ExternalRef = intentID
	if err := repo.UpdatePayment(ctx, existing); err != nil {
		return nil, apperrors.Internal(err, "failed to record payment intent")
	}
	k.logIntent(existing)
	return existing, nil
}

func (k *Keeper) logIntent(record *models.PaymentRecord) {
	k.logger.WithFields(logrus.Fields{
		"order_id":  record.OrderID,
		"intent_id": record.ExternalRef,
		"amount":    record.Amount.StringFixed(2),
	}).Info("Payment intent recorded")
}

// Pending returns the order's record when it still awaits the gateway.
func (k *Keeper) Pending(ctx context.Context, repo store.PaymentRepository, orderID int64) (*models.PaymentRecord, error) {
	record, err := repo.GetPaymentByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("no payment intent for order %d", orderID)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load payment record")
	}
	if record.Method != models.PaymentMethodCard {
		return nil, apperrors.Validation("order %d is not paid by card", orderID)
	}
	return record, nil
}

// TransactionStateFor maps a gateway status onto a record state. The second
// result is false for statuses that settle nothing.
func TransactionStateFor(status IntentStatus) (models.TransactionState, bool) {
	switch status {
	case StatusSucceeded:
		return models.TransactionSuccessful, true
	case StatusRequiresPaymentMethod, StatusCanceled:
		return models.TransactionFailed, true
	default:
		return models.TransactionPending, false
	}
}

// ApplyGatewayStatus moves the record for intentID according to status and
// returns the record's resulting state. A stale intent id is ignored.
func (k *Keeper) ApplyGatewayStatus(ctx context.Context, repo store.PaymentRepository, orderID int64, intentID string, status IntentStatus) (models.TransactionState, error) {
	record, err := k.Pending(ctx, repo, orderID)
	if err != nil {
		return "", err
	}
	if record.ExternalRef != intentID || record.State == models.TransactionSuccessful {
		return record.State, nil
	}

	next, settled := TransactionStateFor(status)
	if !settled || next == record.State {
		return record.State, nil
	}

	record.State = next
	if err := repo.UpdatePayment(ctx, record); err != nil {
		return "", apperrors.Internal(err, "failed to update payment record")
	}

	k.logger.WithFields(logrus.Fields{
		"order_id":  orderID,
		"intent_id": intentID,
		"status":    status,
		"state":     next,
	}).Info("Payment record settled")
	return next, nil
}

// OrderPaymentState is the order-level view of a record state.
func OrderPaymentState(state models.TransactionState) models.PaymentState {
	switch state {
	case models.TransactionSuccessful:
		return models.PaymentStatePaid
	case models.TransactionFailed:
		return models.PaymentStateFailed
	default:
		return models.PaymentStatePending
	}
}
