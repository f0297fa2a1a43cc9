package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validNewCoupon() NewCoupon {
	return NewCoupon{
		Code:      " summer24 ",
		Kind:      models.DiscountPercentage,
		Value:     dec("15"),
		StartDate: models.NewDate(2024, time.June, 1),
		EndDate:   models.NewDate(2024, time.August, 31),
	}
}

func TestCreateCoupon(t *testing.T) {
	f := newFixture(t)

	var c *models.Coupon
	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		c, err = f.ledger.Create(ctx, tx, 99, validNewCoupon())
		return err
	}))
	assert.Equal(t, "SUMMER24", c.Code)
	assert.True(t, c.Active)
	assert.Equal(t, int64(99), c.CreatedBy)
	assert.Equal(t, today, c.CreatedAt)

	err := f.tx(t, func(ctx context.Context, tx store.Tx) error {
		_, err := f.ledger.Create(ctx, tx, 99, validNewCoupon())
		return err
	})
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))
}

func TestCreateCouponValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NewCoupon)
	}{
		{name: "blank_code", mutate: func(n *NewCoupon) { n.Code = "  " }},
		{name: "unknown_kind", mutate: func(n *NewCoupon) { n.Kind = "bogo" }},
		{name: "zero_value", mutate: func(n *NewCoupon) { n.Value = dec("0") }},
		{name: "percentage_over_100", mutate: func(n *NewCoupon) { n.Value = dec("100.01") }},
		{name: "end_before_start", mutate: func(n *NewCoupon) { n.EndDate = models.NewDate(2024, time.May, 31) }},
		{name: "missing_dates", mutate: func(n *NewCoupon) { n.StartDate = models.Date{} }},
		{name: "negative_remaining", mutate: func(n *NewCoupon) { n.RemainingUses = intp(-1) }},
		{name: "zero_per_user_cap", mutate: func(n *NewCoupon) { n.PerUserCap = intp(0) }},
		{name: "negative_minimum", mutate: func(n *NewCoupon) { n.MinPurchase = decp("-1") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := validNewCoupon()
			tt.mutate(&in)

			err := f.tx(t, func(ctx context.Context, tx store.Tx) error {
				_, err := f.ledger.Create(ctx, tx, 1, in)
				return err
			})
			assert.True(t, apperrors.Is(err, apperrors.KindValidation), "got %v", err)
		})
	}
}

func TestSetActiveGetAndList(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		_, err := f.ledger.Create(ctx, tx, 1, validNewCoupon())
		return err
	}))

	require.NoError(t, f.tx(t, func(ctx context.Context, tx store.Tx) error {
		c, err := f.ledger.SetActive(ctx, tx, "summer24", false)
		require.NoError(t, err)
		assert.False(t, c.Active)

		got, err := f.ledger.Get(ctx, tx, "SUMMER24")
		require.NoError(t, err)
		assert.False(t, got.Active)

		all, err := f.ledger.List(ctx, tx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = f.ledger.Get(ctx, tx, "missing")
		assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
		_, err = f.ledger.SetActive(ctx, tx, "missing", true)
		assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
		return nil
	}))
}
