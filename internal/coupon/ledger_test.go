package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/internal/store/memory"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2024, 6, 15, 18, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intp(v int) *int { return &v }

func newLedger() *Ledger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewLedger(logger).WithClock(func() time.Time { return today })
}

type fixture struct {
	store      *memory.Store
	ledger     *Ledger
	customerID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), ledger: newLedger()}
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		c := &models.Customer{Name: "Lucia", Role: models.RoleCustomer, Active: true}
		if err := tx.CreateCustomer(ctx, c); err != nil {
			return err
		}
		f.customerID = c.ID
		return nil
	}))
	return f
}

func (f *fixture) tx(t *testing.T, fn func(ctx context.Context, tx store.Tx) error) error {
	t.Helper()
	return f.store.WithTx(context.Background(), fn)
}

func (f *fixture) create(t *testing.T, c *models.Coupon) {
	t.Helper()
	if c.StartDate.IsZero() {
		c.StartDate = today.AddDate(0, 0, -10)
	}
	if c.EndDate.IsZero() {
		c.EndDate = today.AddDate(0, 0, 10)
	}
	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateCoupon(ctx, c)
	}))
}

func (f *fixture) remaining(t *testing.T, code string) *int {
	t.Helper()
	var remaining *int
	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetCouponByCode(ctx, code)
		if err != nil {
			return err
		}
		remaining = c.RemainingUses
		return nil
	}))
	return remaining
}

func TestComputeDiscount(t *testing.T) {
	tests := []struct {
		name     string
		kind     models.DiscountKind
		value    string
		purchase string
		want     string
	}{
		{name: "ten_percent_of_fifty", kind: models.DiscountPercentage, value: "10", purchase: "50.00", want: "5.00"},
		{name: "percentage_rounds_half_up", kind: models.DiscountPercentage, value: "15", purchase: "10.10", want: "1.52"},
		{name: "full_percentage", kind: models.DiscountPercentage, value: "100", purchase: "42.37", want: "42.37"},
		{name: "fixed_below_purchase", kind: models.DiscountFixedAmount, value: "7.50", purchase: "20.00", want: "7.50"},
		{name: "fixed_capped_at_purchase", kind: models.DiscountFixedAmount, value: "30.00", purchase: "20.00", want: "20.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &models.Coupon{Kind: tt.kind, Value: dec(tt.value)}
			got := ComputeDiscount(c, dec(tt.purchase))
			assert.True(t, got.Equal(dec(tt.want)), "expected %s, got %s", tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		coupon   models.Coupon
		purchase string
		priorUse bool
		want     bool
	}{
		{
			name:     "usable",
			coupon:   models.Coupon{Code: "OK", Kind: models.DiscountPercentage, Value: dec("10"), Active: true},
			purchase: "20",
			want:     true,
		},
		{
			name:     "inactive",
			coupon:   models.Coupon{Code: "OFF", Kind: models.DiscountPercentage, Value: dec("10")},
			purchase: "20",
		},
		{
			name: "starts_today_is_usable",
			coupon: models.Coupon{Code: "START", Kind: models.DiscountPercentage, Value: dec("10"), Active: true,
				StartDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)},
			purchase: "20",
			want:     true,
		},
		{
			name: "ends_today_is_usable",
			coupon: models.Coupon{Code: "END", Kind: models.DiscountPercentage, Value: dec("10"), Active: true,
				StartDate: today.AddDate(0, -1, 0), EndDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)},
			purchase: "20",
			want:     true,
		},
		{
			name: "not_started",
			coupon: models.Coupon{Code: "SOON", Kind: models.DiscountPercentage, Value: dec("10"), Active: true,
				StartDate: today.AddDate(0, 0, 1)},
			purchase: "20",
		},
		{
			name: "expired",
			coupon: models.Coupon{Code: "OLD", Kind: models.DiscountPercentage, Value: dec("10"), Active: true,
				StartDate: today.AddDate(0, -2, 0), EndDate: today.AddDate(0, 0, -1)},
			purchase: "20",
		},
		{
			name:     "below_minimum",
			coupon:   models.Coupon{Code: "MIN", Kind: models.DiscountFixedAmount, Value: dec("5"), Active: true, MinPurchase: decp("25")},
			purchase: "24.99",
		},
		{
			name:     "minimum_is_inclusive",
			coupon:   models.Coupon{Code: "MIN25", Kind: models.DiscountFixedAmount, Value: dec("5"), Active: true, MinPurchase: decp("25")},
			purchase: "25.00",
			want:     true,
		},
		{
			name:     "exhausted",
			coupon:   models.Coupon{Code: "GONE", Kind: models.DiscountFixedAmount, Value: dec("5"), Active: true, RemainingUses: intp(0)},
			purchase: "20",
		},
		{
			name:     "per_user_cap_reached",
			coupon:   models.Coupon{Code: "ONCE", Kind: models.DiscountFixedAmount, Value: dec("5"), Active: true, PerUserCap: intp(1)},
			purchase: "20",
			priorUse: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := tt.coupon
			f.create(t, &c)
			if tt.priorUse {
				f.placeOrderWithCoupon(t, c.Code, models.OrderStateDelivered)
			}

			var ok bool
			require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
				var err error
				ok, err = f.ledger.Validate(ctx, tx, c.Code, f.customerID, dec(tt.purchase))
				return err
			}))
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestWithClockLeavesOriginalAlone(t *testing.T) {
	f := newFixture(t)
	f.create(t, &models.Coupon{Code: "JUNE", Kind: models.DiscountFixedAmount, Value: dec("1"), Active: true})

	later := f.ledger.WithClock(func() time.Time { return today.AddDate(0, 1, 0) })
	require.NotSame(t, f.ledger, later)

	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		ok, err := f.ledger.Validate(ctx, tx, "JUNE", f.customerID, dec("20"))
		require.NoError(t, err)
		assert.True(t, ok, "original ledger still reads today")

		ok, err = later.Validate(ctx, tx, "JUNE", f.customerID, dec("20"))
		require.NoError(t, err)
		assert.False(t, ok, "copy reads a date after the coupon expired")
		return nil
	}))
}

func TestValidateUnknownCodeIsFalseNotError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		ok, err := f.ledger.Validate(ctx, tx, "NOPE", f.customerID, dec("10"))
		assert.False(t, ok)
		return err
	}))
}

func TestPerUserCapIgnoresCancelledOrders(t *testing.T) {
	f := newFixture(t)
	c := &models.Coupon{Code: "ONCE", Kind: models.DiscountFixedAmount, Value: dec("5"), Active: true, PerUserCap: intp(1)}
	f.create(t, c)
	f.placeOrderWithCoupon(t, c.Code, models.OrderStateCancelled)

	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		ok, err := f.ledger.Validate(ctx, tx, "once", f.customerID, dec("10"))
		assert.True(t, ok)
		return err
	}))
}

func (f *fixture) placeOrderWithCoupon(t *testing.T, code string, state models.OrderState) {
	t.Helper()
	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateOrder(ctx, &models.Order{
			CustomerID: f.customerID,
			CreatedAt:  today,
			State:      state,
			CouponCode: &code,
		})
	}))
}

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestRedeemAndReturn(t *testing.T) {
	f := newFixture(t)
	f.create(t, &models.Coupon{Code: "SAVE10", Kind: models.DiscountPercentage, Value: dec("10"), Active: true, RemainingUses: intp(2)})

	var redemption *Redemption
	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		redemption, err = f.ledger.Redeem(ctx, tx, " save10 ", f.customerID, dec("50.00"))
		return err
	}))
	assert.Equal(t, "SAVE10", redemption.Code)
	assert.True(t, redemption.Discount.Equal(dec("5.00")))
	assert.Equal(t, 1, *f.remaining(t, "SAVE10"))

	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		return f.ledger.Return(ctx, tx, "SAVE10")
	}))
	assert.Equal(t, 2, *f.remaining(t, "SAVE10"))
}

func TestRedeemExhaustsCounter(t *testing.T) {
	f := newFixture(t)
	f.create(t, &models.Coupon{Code: "LAST", Kind: models.DiscountFixedAmount, Value: dec("3"), Active: true, RemainingUses: intp(1)})

	redeem := func() error {
		return f.tx(t, func(ctx context.Context, tx store.Tx) error {
			_, err := f.ledger.Redeem(ctx, tx, "LAST", f.customerID, dec("10"))
			return err
		})
	}

	require.NoError(t, redeem())
	err := redeem()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	assert.Contains(t, err.Error(), string(RejectExhausted))
	assert.Equal(t, 0, *f.remaining(t, "LAST"))
}

func TestRedeemBlankCodeTouchesNothing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		r, err := f.ledger.Redeem(ctx, tx, "   ", f.customerID, dec("10"))
		assert.Nil(t, r)
		return err
	}))
}

func TestRedeemUnknownCode(t *testing.T) {
	f := newFixture(t)
	err := f.tx(t, func(ctx context.Context, tx store.Tx) error {
		_, err := f.ledger.Redeem(ctx, tx, "MISSING", f.customerID, dec("10"))
		return err
	})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestReturnOfUnlimitedOrDeletedCoupon(t *testing.T) {
	f := newFixture(t)
	f.create(t, &models.Coupon{Code: "FOREVER", Kind: models.DiscountFixedAmount, Value: dec("2"), Active: true})

	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, f.ledger.Return(ctx, tx, "FOREVER"))
		return f.ledger.Return(ctx, tx, "DELETED")
	}))
	assert.Nil(t, f.remaining(t, "FOREVER"))
}
