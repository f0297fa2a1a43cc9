// Package riskguard suspends a payment method for a customer who keeps
// cancelling orders paid with it. The count restarts each time an
// administrator lifts a suspension.
package riskguard

import (
	"context"
	"errors"
	"time"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/config"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/sirupsen/logrus"
)

// Repository is what the guard reads and writes inside a unit of work.
type Repository interface {
	store.CustomerRepository
	store.OrderRepository
	store.SuspensionRepository
}

type Guard struct {
	threshold int
	reason    string
	logger    *logrus.Logger
	now       func() time.Time
}

func New(cfg config.RiskConfig, logger *logrus.Logger) *Guard {
	return &Guard{
		threshold: cfg.CancellationThreshold,
		reason:    cfg.SuspensionReason,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock returns a copy of g reading time from now.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	c := *g
	c.now = now
	return &c
}

// Evaluate runs after a customer cancels an order paid with method. It returns
// the suspension it created, or nil when none was needed or one is already
// active.
func (g *Guard) Evaluate(ctx context.Context, repo Repository, customerID int64, method models.PaymentMethod) (*models.PaymentSuspension, error) {
	if _, err := repo.GetCustomerForUpdate(ctx, customerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("customer %d not found", customerID)
		}
		return nil, apperrors.Internal(err, "failed to lock customer")
	}

	since, err := repo.LatestReactivation(ctx, customerID, method)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load latest reactivation")
	}
	count, err := repo.CountCancelledOrders(ctx, customerID, method, since)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to count cancelled orders")
	}

	entry := g.logger.WithFields(logrus.Fields{
		"customer_id":    customerID,
		"payment_method": method,
		"cancellations":  count,
		"threshold":      g.threshold,
	})
	if count < g.threshold {
		entry.Debug("Cancellation count below threshold")
		return nil, nil
	}

	suspension := &models.PaymentSuspension{
		CustomerID:  customerID,
		Method:      method,
		ActivatedAt: g.now().UTC(),
		Reason:      g.reason,
		Active:      true,
	}
	if err := repo.CreateSuspension(ctx, suspension); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			entry.Debug("Payment method already suspended")
			return nil, nil
		}
		return nil, apperrors.Internal(err, "failed to create suspension")
	}

	entry.WithField("suspension_id", suspension.ID).Warn("Payment method suspended")
	return suspension, nil
}

// CheckAllowed fails with a validation error naming method when it is
// suspended for the customer.
func (g *Guard) CheckAllowed(ctx context.Context, repo store.SuspensionRepository, customerID int64, method models.PaymentMethod) error {
	_, err := repo.GetActiveSuspension(ctx, customerID, method)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return apperrors.Internal(err, "failed to load suspension")
	}
	return apperrors.Validation("payment method %s is suspended for this customer", method)
}

// Reactivate lifts the active suspension for the pair.
func (g *Guard) Reactivate(ctx context.Context, repo store.SuspensionRepository, customerID int64, method models.PaymentMethod, adminID int64) (*models.PaymentSuspension, error) {
	suspension, err := repo.GetActiveSuspension(ctx, customerID, method)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("no active %s suspension for customer %d", method, customerID)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load suspension")
	}

	at := g.now().UTC()
	suspension.Active = false
	suspension.ReactivatedBy = &adminID
	suspension.ReactivatedAt = &at
	if err := repo.UpdateSuspension(ctx, suspension); err != nil {
		return nil, apperrors.Internal(err, "failed to reactivate payment method")
	}

	g.logger.WithFields(logrus.Fields{
		"customer_id":    customerID,
		"payment_method": method,
		"admin_id":       adminID,
	}).Info("Payment method reactivated")
	return suspension, nil
}

func (g *Guard) List(ctx context.Context, repo store.SuspensionRepository, customerID int64) ([]models.PaymentSuspension, error) {
	suspensions, err := repo.ListSuspensions(ctx, customerID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list suspensions")
	}
	if suspensions == nil {
		suspensions = []models.PaymentSuspension{}
	}
	return suspensions, nil
}
