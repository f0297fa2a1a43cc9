package inventory

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/internal/store/memory"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger() *Ledger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewLedger(logger)
}

func seedProducts(t *testing.T, s *memory.Store, products ...*models.Product) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, p := range products {
			if err := tx.CreateProduct(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))
}

func stockOf(t *testing.T, s *memory.Store, id int64) int {
	t.Helper()
	var stock int
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return err
		}
		stock = p.Stock
		return nil
	}))
	return stock
}

func TestReservePricesLinesAndTakesStock(t *testing.T) {
	s := memory.New()
	burger := &models.Product{Name: "Burger", Price: decimal.RequireFromString("12.50"), Stock: 10, Active: true}
	fries := &models.Product{Name: "Fries", Price: decimal.RequireFromString("3.25"), Stock: 4, Active: true}
	seedProducts(t, s, burger, fries)

	var res *Reservation
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = newLedger().Reserve(ctx, tx, []Line{
			{ProductID: burger.ID, Quantity: 2, Personalization: " no onions "},
			{ProductID: fries.ID, Quantity: 1},
			{ProductID: burger.ID, Quantity: 1},
		})
		return err
	}))

	require.Len(t, res.Items, 3)
	assert.Equal(t, "no onions", res.Items[0].Personalize)
	assert.True(t, res.Items[0].Subtotal.Equal(decimal.RequireFromString("25.00")))
	assert.True(t, res.Items[1].UnitPrice.Equal(decimal.RequireFromString("3.25")))
	assert.True(t, res.Subtotal.Equal(decimal.RequireFromString("40.75")), "got %s", res.Subtotal)

	assert.Equal(t, 7, stockOf(t, s, burger.ID))
	assert.Equal(t, 3, stockOf(t, s, fries.ID))
}

func TestReserveFailsWithoutPartialDecrement(t *testing.T) {
	tests := []struct {
		name  string
		lines func(a, b int64) []Line
		kind  apperrors.Kind
		stock bool
	}{
		{
			name:  "second_line_short",
			lines: func(a, b int64) []Line { return []Line{{ProductID: a, Quantity: 1}, {ProductID: b, Quantity: 3}} },
			kind:  apperrors.KindConflict,
			stock: true,
		},
		{
			name:  "duplicates_exceed_stock_together",
			lines: func(a, b int64) []Line { return []Line{{ProductID: b, Quantity: 1}, {ProductID: b, Quantity: 2}} },
			kind:  apperrors.KindConflict,
			stock: true,
		},
		{
			name:  "unknown_product",
			lines: func(a, b int64) []Line { return []Line{{ProductID: a, Quantity: 1}, {ProductID: 999, Quantity: 1}} },
			kind:  apperrors.KindNotFound,
		},
		{
			name:  "zero_quantity",
			lines: func(a, b int64) []Line { return []Line{{ProductID: a, Quantity: 0}} },
			kind:  apperrors.KindValidation,
		},
		{
			name:  "no_lines",
			lines: func(a, b int64) []Line { return nil },
			kind:  apperrors.KindValidation,
		},
		{
			name:  "line_above_maximum",
			lines: func(a, b int64) []Line { return []Line{{ProductID: a, Quantity: MaxLineQuantity + 1}} },
			kind:  apperrors.KindValidation,
		},
		{
			name: "quantities_that_would_wrap",
			lines: func(a, b int64) []Line {
				return []Line{{ProductID: a, Quantity: math.MaxInt}, {ProductID: a, Quantity: math.MaxInt}}
			},
			kind: apperrors.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			a := &models.Product{Name: "Pizza", Price: decimal.NewFromInt(9), Stock: 5, Active: true}
			b := &models.Product{Name: "Salad", Price: decimal.NewFromInt(6), Stock: 2, Active: true}
			seedProducts(t, s, a, b)

			err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				_, err := newLedger().Reserve(ctx, tx, tt.lines(a.ID, b.ID))
				return err
			})
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
			assert.Equal(t, tt.stock, errors.Is(err, ErrInsufficientStock))

			assert.Equal(t, 5, stockOf(t, s, a.ID))
			assert.Equal(t, 2, stockOf(t, s, b.ID))
		})
	}
}

func TestReserveAcceptsLineAtMaximum(t *testing.T) {
	s := memory.New()
	p := &models.Product{Name: "Napkins", Price: decimal.NewFromInt(0), Stock: MaxLineQuantity, Active: true}
	seedProducts(t, s, p)

	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := newLedger().Reserve(ctx, tx, []Line{{ProductID: p.ID, Quantity: MaxLineQuantity}})
		return err
	}))
	assert.Equal(t, 0, stockOf(t, s, p.ID))
}

func TestReserveRejectsInactiveProduct(t *testing.T) {
	s := memory.New()
	p := &models.Product{Name: "Seasonal soup", Price: decimal.NewFromInt(5), Stock: 5, Active: false}
	seedProducts(t, s, p)

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := newLedger().Reserve(ctx, tx, []Line{{ProductID: p.ID, Quantity: 1}})
		return err
	})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	assert.Contains(t, err.Error(), "Seasonal soup")
}

func TestCreateProduct(t *testing.T) {
	s := memory.New()
	ledger := newLedger()
	inactive := false

	tests := []struct {
		name    string
		in      NewProduct
		wantErr bool
		active  bool
	}{
		{name: "valid", in: NewProduct{Name: " Ramen ", Price: decimal.RequireFromString("11.999"), Stock: 3}, active: true},
		{name: "explicitly_inactive", in: NewProduct{Name: "Mochi", Price: decimal.NewFromInt(4), Active: &inactive}},
		{name: "blank_name", in: NewProduct{Name: " ", Price: decimal.NewFromInt(1)}, wantErr: true},
		{name: "negative_price", in: NewProduct{Name: "Bad", Price: decimal.NewFromInt(-1)}, wantErr: true},
		{name: "negative_stock", in: NewProduct{Name: "Bad", Price: decimal.NewFromInt(1), Stock: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p *models.Product
			err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				var err error
				p, err = ledger.CreateProduct(ctx, tx, tt.in)
				return err
			})
			if tt.wantErr {
				assert.True(t, apperrors.Is(err, apperrors.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, p.ID)
			assert.Equal(t, tt.active, p.Active)
		})
	}
}
