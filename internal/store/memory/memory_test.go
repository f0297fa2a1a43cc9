package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func seedCustomer(t *testing.T, s *Store, role models.Role) int64 {
	t.Helper()
	c := &models.Customer{Name: "Ana", Role: role, Active: true, PushToken: "tok"}
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateCustomer(ctx, c)
	}))
	return c.ID
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	var productID int64
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p := &models.Product{Name: "Tacos", Price: decimal.NewFromInt(8), Stock: 5, Active: true}
		err := tx.CreateProduct(ctx, p)
		productID = p.ID
		return err
	}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.DecrementStock(ctx, productID, 3)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, 5, p.Stock)
		return nil
	}))
}

func TestDecrementStockNeverGoesNegative(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p := &models.Product{Name: "Soup", Price: decimal.NewFromInt(4), Stock: 2, Active: true}
		require.NoError(t, tx.CreateProduct(ctx, p))

		ok, err := tx.DecrementStock(ctx, p.ID, 3)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = tx.DecrementStock(ctx, p.ID, 2)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := tx.GetProductForUpdate(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Stock)

		_, err = tx.DecrementStock(ctx, 999, 1)
		assert.ErrorIs(t, err, store.ErrNotFound)

		for _, quantity := range []int{0, -2} {
			ok, err = tx.DecrementStock(ctx, p.ID, quantity)
			assert.ErrorIs(t, err, store.ErrInvalidQuantity)
			assert.False(t, ok)
		}
		got, err = tx.GetProductForUpdate(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Stock)
		return nil
	}))
}

func TestCountCancelledOrdersIsStrictlyAfter(t *testing.T) {
	s := New()
	ctx := context.Background()
	customerID := seedCustomer(t, s, models.RoleCustomer)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for i, state := range []models.OrderState{
			models.OrderStateCancelled,
			models.OrderStateCancelled,
			models.OrderStateDelivered,
			models.OrderStateCancelled,
		} {
			o := &models.Order{
				CustomerID:    customerID,
				CreatedAt:     base.Add(time.Duration(i) * time.Hour),
				PaymentMethod: models.PaymentMethodCash,
				State:         state,
			}
			require.NoError(t, tx.CreateOrder(ctx, o))
		}
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.CountCancelledOrders(ctx, customerID, models.PaymentMethodCash, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, all)

		since := base.Add(time.Hour)
		after, err := tx.CountCancelledOrders(ctx, customerID, models.PaymentMethodCash, &since)
		require.NoError(t, err)
		assert.Equal(t, 1, after, "order created exactly at the boundary must not count")

		card, err := tx.CountCancelledOrders(ctx, customerID, models.PaymentMethodCard, nil)
		require.NoError(t, err)
		assert.Zero(t, card)
		return nil
	}))
}

func TestSingleActiveSuspensionPerMethod(t *testing.T) {
	s := New()
	ctx := context.Background()
	customerID := seedCustomer(t, s, models.RoleCustomer)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		first := &models.PaymentSuspension{CustomerID: customerID, Method: models.PaymentMethodCash, ActivatedAt: base, Active: true}
		require.NoError(t, tx.CreateSuspension(ctx, first))

		dup := &models.PaymentSuspension{CustomerID: customerID, Method: models.PaymentMethodCash, ActivatedAt: base, Active: true}
		assert.ErrorIs(t, tx.CreateSuspension(ctx, dup), store.ErrDuplicate)

		other := &models.PaymentSuspension{CustomerID: customerID, Method: models.PaymentMethodCard, ActivatedAt: base, Active: true}
		require.NoError(t, tx.CreateSuspension(ctx, other))

		latest, err := tx.LatestReactivation(ctx, customerID, models.PaymentMethodCash)
		require.NoError(t, err)
		assert.Nil(t, latest)

		reactivatedAt := base.Add(2 * time.Hour)
		first.Active = false
		first.ReactivatedAt = &reactivatedAt
		require.NoError(t, tx.UpdateSuspension(ctx, first))

		latest, err = tx.LatestReactivation(ctx, customerID, models.PaymentMethodCash)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, latest.Equal(reactivatedAt))

		_, err = tx.GetActiveSuspension(ctx, customerID, models.PaymentMethodCash)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestDeleteCustomerCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	customerID := seedCustomer(t, s, models.RoleCustomer)
	courierID := seedCustomer(t, s, models.RoleCourier)

	var ownOrder, deliveredByErased int64
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o := &models.Order{CustomerID: customerID, CreatedAt: base, PaymentMethod: models.PaymentMethodCash, State: models.OrderStatePending,
			Items: []models.LineItem{{ProductID: 1, Quantity: 1}}}
		require.NoError(t, tx.CreateOrder(ctx, o))
		ownOrder = o.ID
		require.NoError(t, tx.CreatePayment(ctx, &models.PaymentRecord{OrderID: o.ID, Method: models.PaymentMethodCash, State: models.TransactionSuccessful}))
		require.NoError(t, tx.CreateSuspension(ctx, &models.PaymentSuspension{CustomerID: customerID, Method: models.PaymentMethodCard, Active: true}))

		other := &models.Order{CustomerID: courierID, CourierID: &customerID, CreatedAt: base, State: models.OrderStateEnRoute}
		require.NoError(t, tx.CreateOrder(ctx, other))
		deliveredByErased = other.ID
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteCustomer(ctx, customerID)
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetCustomer(ctx, customerID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = tx.GetOrder(ctx, ownOrder)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = tx.GetPaymentByOrder(ctx, ownOrder)
		assert.ErrorIs(t, err, store.ErrNotFound)

		suspensions, err := tx.ListSuspensions(ctx, customerID)
		require.NoError(t, err)
		assert.Empty(t, suspensions)

		other, err := tx.GetOrder(ctx, deliveredByErased)
		require.NoError(t, err)
		assert.False(t, other.HasCourier())
		return nil
	}))
}

func TestReadsAreIsolatedCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	customerID := seedCustomer(t, s, models.RoleCustomer)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o := &models.Order{CustomerID: customerID, CreatedAt: base, State: models.OrderStatePending}
		require.NoError(t, tx.CreateOrder(ctx, o))

		got, err := tx.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		got.State = models.OrderStateDelivered

		again, err := tx.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatePending, again.State)

		available, err := tx.ListAvailableOrders(ctx)
		require.NoError(t, err)
		assert.Len(t, available, 1)
		return nil
	}))
}

func TestCouponCodesAreCaseInsensitive(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c := &models.Coupon{Code: " welcome10 ", Kind: models.DiscountPercentage, Value: decimal.NewFromInt(10), Active: true}
		require.NoError(t, tx.CreateCoupon(ctx, c))
		assert.Equal(t, "WELCOME10", c.Code)

		got, err := tx.GetCouponByCode(ctx, "Welcome10")
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)

		assert.ErrorIs(t, tx.CreateCoupon(ctx, &models.Coupon{Code: "WELCOME10"}), store.ErrDuplicate)
		return nil
	}))
}
