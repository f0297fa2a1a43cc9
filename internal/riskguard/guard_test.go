package riskguard

import (
	"context"
	"testing"
	"time"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/config"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/internal/store/memory"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store      *memory.Store
	guard      *Guard
	clock      time.Time
	customerID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	f := &fixture{store: memory.New(), clock: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.guard = New(config.RiskConfig{CancellationThreshold: 3, SuspensionReason: "too many cancellations"}, logger).
		WithClock(func() time.Time { return f.clock })

	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		c := &models.Customer{Name: "Marta", Role: models.RoleCustomer, Active: true}
		if err := tx.CreateCustomer(ctx, c); err != nil {
			return err
		}
		f.customerID = c.ID
		return nil
	}))
	return f
}

// cancel records a cancelled order for the customer and runs the guard.
func (f *fixture) cancel(t *testing.T, method models.PaymentMethod) *models.PaymentSuspension {
	t.Helper()
	f.clock = f.clock.Add(time.Minute)

	var created *models.PaymentSuspension
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		err := tx.CreateOrder(ctx, &models.Order{
			CustomerID:    f.customerID,
			CreatedAt:     f.clock,
			PaymentMethod: method,
			State:         models.OrderStateCancelled,
		})
		if err != nil {
			return err
		}
		created, err = f.guard.Evaluate(ctx, tx, f.customerID, method)
		return err
	}))
	return created
}

func (f *fixture) checkAllowed(t *testing.T, method models.PaymentMethod) error {
	t.Helper()
	return f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return f.guard.CheckAllowed(ctx, tx, f.customerID, method)
	})
}

func TestThirdCancellationSuspends(t *testing.T) {
	f := newFixture(t)

	assert.Nil(t, f.cancel(t, models.PaymentMethodCash))
	assert.Nil(t, f.cancel(t, models.PaymentMethodCash))
	require.NoError(t, f.checkAllowed(t, models.PaymentMethodCash))

	s := f.cancel(t, models.PaymentMethodCash)
	require.NotNil(t, s)
	assert.True(t, s.Active)
	assert.Equal(t, "too many cancellations", s.Reason)
	assert.Equal(t, f.clock, s.ActivatedAt)

	err := f.checkAllowed(t, models.PaymentMethodCash)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	assert.Contains(t, err.Error(), "cash")

	assert.NoError(t, f.checkAllowed(t, models.PaymentMethodCard), "other methods stay usable")
}

func TestFourthCancellationDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.cancel(t, models.PaymentMethodCard)
	}

	assert.Nil(t, f.cancel(t, models.PaymentMethodCard))

	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		all, err := f.guard.List(ctx, tx, f.customerID)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		return nil
	}))
}

func TestMethodsCountedSeparately(t *testing.T) {
	f := newFixture(t)
	f.cancel(t, models.PaymentMethodCash)
	f.cancel(t, models.PaymentMethodWallet)
	assert.Nil(t, f.cancel(t, models.PaymentMethodCard))
}

func TestReactivationResetsWindow(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.cancel(t, models.PaymentMethodWallet)
	}

	f.clock = f.clock.Add(time.Hour)
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		s, err := f.guard.Reactivate(ctx, tx, f.customerID, models.PaymentMethodWallet, 77)
		require.NoError(t, err)
		assert.False(t, s.Active)
		assert.Equal(t, int64(77), *s.ReactivatedBy)
		assert.Equal(t, f.clock, *s.ReactivatedAt)
		return nil
	}))
	require.NoError(t, f.checkAllowed(t, models.PaymentMethodWallet))

	assert.Nil(t, f.cancel(t, models.PaymentMethodWallet))
	assert.Nil(t, f.cancel(t, models.PaymentMethodWallet))
	s := f.cancel(t, models.PaymentMethodWallet)
	require.NotNil(t, s, "three cancellations after reactivation suspend again")
	assert.True(t, s.Active)
}

func TestReactivateWithoutActiveSuspension(t *testing.T) {
	f := newFixture(t)
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := f.guard.Reactivate(ctx, tx, f.customerID, models.PaymentMethodCash, 1)
		return err
	})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestEvaluateUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := f.guard.Evaluate(ctx, tx, 999, models.PaymentMethodCash)
		return err
	})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestListEmpty(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		all, err := f.guard.List(ctx, tx, f.customerID)
		require.NoError(t, err)
		assert.NotNil(t, all)
		assert.Empty(t, all)
		return nil
	}))
}
