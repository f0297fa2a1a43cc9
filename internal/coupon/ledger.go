// Package coupon validates and redeems discount codes and owns the shared
// remaining-uses counter.
package coupon

import (
	"context"
	"errors"
	"time"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Rejection says why a code cannot be used. The empty value means usable.
type Rejection string

const (
	RejectUnknown      Rejection = "coupon does not exist"
	RejectInactive     Rejection = "coupon is not active"
	RejectNotStarted   Rejection = "coupon is not valid yet"
	RejectExpired      Rejection = "coupon has expired"
	RejectMinPurchase  Rejection = "purchase amount is below the coupon minimum"
	RejectExhausted    Rejection = "coupon has no remaining uses"
	RejectPerUserLimit Rejection = "coupon usage limit reached for this customer"
)

var oneHundred = decimal.NewFromInt(100)

type Ledger struct {
	logger *logrus.Logger
	now    func() time.Time
}

func NewLedger(logger *logrus.Logger) *Ledger {
	return &Ledger{logger: logger, now: time.Now}
}

// WithClock returns a copy of l that reads validity windows against now.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	c := *l
	c.now = now
	return &c
}

// Validate reports whether code is usable by customerID for purchase.
// Ordinary invalidity yields false; an error means the store failed.
func (l *Ledger) Validate(ctx context.Context, repo store.CouponRepository, code string, customerID int64, purchase decimal.Decimal) (bool, error) {
	c, err := repo.GetCouponByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Internal(err, "load coupon")
	}

	rejection, err := l.check(ctx, repo, c, customerID, purchase)
	if err != nil {
		return false, err
	}
	return rejection == "", nil
}

func (l *Ledger) check(ctx context.Context, repo store.CouponRepository, c *models.Coupon, customerID int64, purchase decimal.Decimal) (Rejection, error) {
	if !c.Active {
		return RejectInactive, nil
	}

	today := dateOf(l.now())
	if today.Before(dateOf(c.StartDate)) {
		return RejectNotStarted, nil
	}
	if today.After(dateOf(c.EndDate)) {
		return RejectExpired, nil
	}

	if c.MinPurchase != nil && purchase.LessThan(*c.MinPurchase) {
		return RejectMinPurchase, nil
	}
	if c.RemainingUses != nil && *c.RemainingUses <= 0 {
		return RejectExhausted, nil
	}

	if c.PerUserCap != nil {
		used, err := repo.CountCustomerCouponUses(ctx, customerID, c.Code)
		if err != nil {
			return "", apperrors.Internal(err, "count coupon uses")
		}
		if used >= *c.PerUserCap {
			return RejectPerUserLimit, nil
		}
	}
	return "", nil
}

// dateOf truncates t to its UTC calendar day.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ComputeDiscount never exceeds purchase. Percentages are rounded half-up to
// two decimal places.
func ComputeDiscount(c *models.Coupon, purchase decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.Kind {
	case models.DiscountPercentage:
		discount = purchase.Mul(c.Value).Div(oneHundred).Round(2)
	case models.DiscountFixedAmount:
		discount = c.Value
	}
	if discount.GreaterThan(purchase) {
		discount = purchase
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount
}

// Redemption is the outcome of redeeming a code for one order.
type Redemption struct {
	Code     string
	Discount decimal.Decimal
}

// Redeem locks the coupon, validates it and takes one use from its counter.
// A blank code is not an error: it returns nil and touches nothing.
func (l *Ledger) Redeem(ctx context.Context, repo store.CouponRepository, code string, customerID int64, purchase decimal.Decimal) (*Redemption, error) {
	code = models.NormalizeCouponCode(code)
	if code == "" {
		return nil, nil
	}

	c, err := repo.GetCouponByCodeForUpdate(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Validation("coupon %s is not valid: %s", code, RejectUnknown)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "lock coupon")
	}

	rejection, err := l.check(ctx, repo, c, customerID, purchase)
	if err != nil {
		return nil, err
	}
	if rejection != "" {
		return nil, apperrors.Validation("coupon %s is not valid: %s", code, rejection)
	}

	if c.RemainingUses != nil {
		remaining := *c.RemainingUses - 1
		c.RemainingUses = &remaining
		if err := repo.UpdateCoupon(ctx, c); err != nil {
			return nil, apperrors.Internal(err, "decrement coupon uses")
		}
	}

	discount := ComputeDiscount(c, purchase)
	l.logger.WithFields(logrus.Fields{
		"coupon":      c.Code,
		"customer_id": customerID,
		"discount":    discount.StringFixed(2),
	}).Info("Coupon redeemed")

	return &Redemption{Code: c.Code, Discount: discount}, nil
}

// Return gives one use back to the coupon after the order that redeemed it
// was cancelled. A coupon deleted since then is logged and skipped.
func (l *Ledger) Return(ctx context.Context, repo store.CouponRepository, code string) error {
	c, err := repo.GetCouponByCodeForUpdate(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		l.logger.WithField("coupon", code).Warn("Coupon to return no longer exists")
		return nil
	}
	if err != nil {
		return apperrors.Internal(err, "lock coupon")
	}

	if c.RemainingUses == nil {
		return nil
	}
	remaining := *c.RemainingUses + 1
	c.RemainingUses = &remaining
	if err := repo.UpdateCoupon(ctx, c); err != nil {
		return apperrors.Internal(err, "return coupon use")
	}

	l.logger.WithFields(logrus.Fields{
		"coupon":         c.Code,
		"remaining_uses": remaining,
	}).Info("Coupon use returned")
	return nil
}
