// Package inventory keeps per-product stock. Stock only ever moves down
// through Reserve; restocking is an administrative concern outside the order
// flow.
package inventory

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrInsufficientStock = errors.New("insufficient stock")

const (
	// MaxLineQuantity bounds a single order line.
	MaxLineQuantity = 1000

	// maxProductQuantity bounds the combined quantity of one product across
	// an order; stock columns are 32-bit.
	maxProductQuantity = math.MaxInt32
)

// Line is one requested line of an order.
type Line struct {
	ProductID       int64  `json:"product_id"`
	Quantity        int    `json:"quantity"`
	Personalization string `json:"personalization,omitempty"`
}

// Reservation is the priced result of a successful Reserve.
type Reservation struct {
	Items    []models.LineItem
	Subtotal decimal.Decimal
}

type Ledger struct {
	logger *logrus.Logger
}

func NewLedger(logger *logrus.Logger) *Ledger {
	return &Ledger{logger: logger}
}

// Reserve prices lines and takes their stock. Every product is locked and
// checked before any stock is decremented, so a failing line leaves all
// counters untouched. Lines naming the same product are checked against
// their combined quantity.
func (l *Ledger) Reserve(ctx context.Context, repo store.ProductRepository, lines []Line) (*Reservation, error) {
	if len(lines) == 0 {
		return nil, apperrors.Validation("order must contain at least one item")
	}

	requested := make(map[int64]int)
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, apperrors.Validation("quantity for product %d must be positive", line.ProductID)
		}
		if line.Quantity > MaxLineQuantity {
			return nil, apperrors.Validation("quantity for product %d exceeds %d", line.ProductID, MaxLineQuantity)
		}
		if requested[line.ProductID] > maxProductQuantity-line.Quantity {
			return nil, apperrors.Validation("combined quantity for product %d is too large", line.ProductID)
		}
		requested[line.ProductID] += line.Quantity
	}

	// Lock in id order so concurrent reservations cannot deadlock.
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	products := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		p, err := repo.GetProductForUpdate(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("product %d not found", id)
		}
		if err != nil {
			return nil, apperrors.Internal(err, "load product %d", id)
		}
		if !p.Active {
			return nil, apperrors.Validation("product %q is not available", p.Name)
		}
		if p.Stock < requested[id] {
			return nil, insufficient(p, requested[id])
		}
		products[id] = p
	}

	for _, id := range ids {
		ok, err := repo.DecrementStock(ctx, id, requested[id])
		if err != nil {
			return nil, apperrors.Internal(err, "decrement stock of product %d", id)
		}
		if !ok {
			return nil, insufficient(products[id], requested[id])
		}
	}

	res := &Reservation{Items: make([]models.LineItem, 0, len(lines)), Subtotal: decimal.Zero}
	for _, line := range lines {
		p := products[line.ProductID]
		lineTotal := p.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		res.Items = append(res.Items, models.LineItem{
			ProductID:   p.ID,
			Quantity:    line.Quantity,
			UnitPrice:   p.Price,
			Subtotal:    lineTotal,
			Personalize: strings.TrimSpace(line.Personalization),
		})
		res.Subtotal = res.Subtotal.Add(lineTotal)
	}

	l.logger.WithFields(logrus.Fields{
		"products": len(ids),
		"subtotal": res.Subtotal.StringFixed(2),
	}).Debug("Stock reserved")

	return res, nil
}

func insufficient(p *models.Product, requested int) error {
	return apperrors.Conflict("insufficient stock for %q: requested %d, available %d",
		p.Name, requested, p.Stock).WithCause(ErrInsufficientStock)
}

type NewProduct struct {
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
	Active *bool           `json:"active,omitempty"`
}

func (l *Ledger) CreateProduct(ctx context.Context, repo store.ProductRepository, in NewProduct) (*models.Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.Validation("product name is required")
	}
	if in.Price.IsNegative() {
		return nil, apperrors.Validation("product price must not be negative")
	}
	if in.Stock < 0 {
		return nil, apperrors.Validation("product stock must not be negative")
	}

	p := &models.Product{
		Name:   name,
		Price:  in.Price.Round(2),
		Stock:  in.Stock,
		Active: in.Active == nil || *in.Active,
	}
	if err := repo.CreateProduct(ctx, p); err != nil {
		return nil, apperrors.Internal(err, "create product")
	}

	l.logger.WithFields(logrus.Fields{
		"product_id": p.ID,
		"stock":      p.Stock,
	}).Info("Product created")
	return p, nil
}
