package coupon

import (
	"context"
	"errors"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// NewCoupon is an administrator's request to create a code. Dates are
// calendar days; both ends are usable.
type NewCoupon struct {
	Code          string
	Kind          models.DiscountKind
	Value         decimal.Decimal
	StartDate     models.Date
	EndDate       models.Date
	RemainingUses *int
	PerUserCap    *int
	MinPurchase   *decimal.Decimal
}

func (n NewCoupon) validate() error {
	switch {
	case models.NormalizeCouponCode(n.Code) == "":
		return apperrors.Validation("coupon code is required")
	case !n.Kind.Valid():
		return apperrors.Validation("unknown discount kind %q", n.Kind)
	case !n.Value.IsPositive():
		return apperrors.Validation("discount value must be positive")
	case n.Kind == models.DiscountPercentage && n.Value.GreaterThan(oneHundred):
		return apperrors.Validation("percentage discount cannot exceed 100")
	case n.StartDate.IsZero() || n.EndDate.IsZero():
		return apperrors.Validation("start and end dates are required")
	case n.EndDate.Before(n.StartDate.Time):
		return apperrors.Validation("end date must not be before start date")
	case n.RemainingUses != nil && *n.RemainingUses < 0:
		return apperrors.Validation("remaining uses must not be negative")
	case n.PerUserCap != nil && *n.PerUserCap < 1:
		return apperrors.Validation("per-user cap must be at least 1")
	case n.MinPurchase != nil && n.MinPurchase.IsNegative():
		return apperrors.Validation("minimum purchase must not be negative")
	}
	return nil
}

func (l *Ledger) Create(ctx context.Context, repo store.CouponRepository, createdBy int64, in NewCoupon) (*models.Coupon, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	c := &models.Coupon{
		Code:          models.NormalizeCouponCode(in.Code),
		Kind:          in.Kind,
		Value:         in.Value,
		StartDate:     in.StartDate.Time,
		EndDate:       in.EndDate.Time,
		RemainingUses: in.RemainingUses,
		PerUserCap:    in.PerUserCap,
		MinPurchase:   in.MinPurchase,
		Active:        true,
		CreatedBy:     createdBy,
		CreatedAt:     l.now().UTC(),
	}

	err := repo.CreateCoupon(ctx, c)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperrors.Conflict("coupon %s already exists", c.Code)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "create coupon")
	}

	l.logger.WithFields(logrus.Fields{
		"coupon":     c.Code,
		"kind":       c.Kind,
		"created_by": createdBy,
	}).Info("Coupon created")
	return c, nil
}

// SetActive soft-enables or soft-disables a code.
func (l *Ledger) SetActive(ctx context.Context, repo store.CouponRepository, code string, active bool) (*models.Coupon, error) {
	c, err := repo.GetCouponByCodeForUpdate(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("coupon %s not found", models.NormalizeCouponCode(code))
	}
	if err != nil {
		return nil, apperrors.Internal(err, "lock coupon")
	}

	if c.Active == active {
		return c, nil
	}
	c.Active = active
	if err := repo.UpdateCoupon(ctx, c); err != nil {
		return nil, apperrors.Internal(err, "update coupon")
	}

	l.logger.WithFields(logrus.Fields{
		"coupon": c.Code,
		"active": active,
	}).Info("Coupon active flag changed")
	return c, nil
}

func (l *Ledger) Get(ctx context.Context, repo store.CouponRepository, code string) (*models.Coupon, error) {
	c, err := repo.GetCouponByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("coupon %s not found", models.NormalizeCouponCode(code))
	}
	if err != nil {
		return nil, apperrors.Internal(err, "load coupon")
	}
	return c, nil
}

func (l *Ledger) List(ctx context.Context, repo store.CouponRepository) ([]models.Coupon, error) {
	coupons, err := repo.ListCoupons(ctx)
	if err != nil {
		return nil, apperrors.Internal(err, "list coupons")
	}
	return coupons, nil
}
