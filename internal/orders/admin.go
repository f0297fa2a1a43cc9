package orders

import (
	"context"
	"errors"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/auth"
	"github.com/jogardn/food-delivery/internal/coupon"
	"github.com/jogardn/food-delivery/internal/inventory"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func ownedOrder(ctx context.Context, repo store.OrderRepository, orderID, customerID int64) (*models.Order, error) {
	order, err := lockOrder(ctx, repo, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, apperrors.Forbidden("order %d does not belong to customer %d", orderID, customerID)
	}
	return order, nil
}

// GetOrder returns an order to its owner, its courier or an administrator.
// Couriers may also look at orders they could still accept.
func (m *Manager) GetOrder(ctx context.Context, orderID int64, viewer auth.Identity) (*models.Order, error) {
	var order *models.Order
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("order %d not found", orderID)
		}
		if err != nil {
			return apperrors.Internal(err, "failed to load order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	available := !order.HasCourier() && order.State.In(store.AvailableStates...)
	switch {
	case viewer.Is(models.RoleAdmin):
	case order.CustomerID == viewer.UserID:
	case viewer.Is(models.RoleCourier) && (order.AssignedTo(viewer.UserID) || available):
	default:
		return nil, apperrors.Forbidden("user %d cannot view order %d", viewer.UserID, orderID)
	}
	return order, nil
}

func (m *Manager) ListCustomerOrders(ctx context.Context, customerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		orders, err = tx.ListOrdersByCustomer(ctx, customerID)
		if err != nil {
			return apperrors.Internal(err, "failed to list orders")
		}
		return nil
	})
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, err
}

// ListAvailable returns the orders couriers can pick up.
func (m *Manager) ListAvailable(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		orders, err = tx.ListAvailableOrders(ctx)
		if err != nil {
			return apperrors.Internal(err, "failed to list available orders")
		}
		return nil
	})
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, err
}

func (m *Manager) ReactivatePaymentMethod(ctx context.Context, customerID int64, method models.PaymentMethod, adminID int64) (*models.PaymentSuspension, error) {
	if !method.Valid() {
		return nil, apperrors.Validation("unknown payment method %q", method)
	}
	var suspension *models.PaymentSuspension
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		suspension, err = m.risk.Reactivate(ctx, tx, customerID, method, adminID)
		return err
	})
	return suspension, err
}

func (m *Manager) ListSuspensions(ctx context.Context, customerID int64) ([]models.PaymentSuspension, error) {
	var suspensions []models.PaymentSuspension
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		suspensions, err = m.risk.List(ctx, tx, customerID)
		return err
	})
	return suspensions, err
}

// EraseCustomer deletes the customer with every order, payment record and
// suspension they own.
func (m *Manager) EraseCustomer(ctx context.Context, customerID, adminID int64) error {
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetCustomerForUpdate(ctx, customerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperrors.NotFound("customer %d not found", customerID)
			}
			return apperrors.Internal(err, "failed to load customer")
		}
		if err := tx.DeleteCustomer(ctx, customerID); err != nil {
			return apperrors.Internal(err, "failed to erase customer")
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"customer_id": customerID,
		"admin_id":    adminID,
	}).Warn("Customer erased")
	return nil
}

func (m *Manager) CreateCoupon(ctx context.Context, adminID int64, in coupon.NewCoupon) (*models.Coupon, error) {
	var c *models.Coupon
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		c, err = m.coupons.Create(ctx, tx, adminID, in)
		return err
	})
	return c, err
}

func (m *Manager) SetCouponActive(ctx context.Context, code string, active bool) (*models.Coupon, error) {
	var c *models.Coupon
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		c, err = m.coupons.SetActive(ctx, tx, code, active)
		return err
	})
	return c, err
}

func (m *Manager) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	var coupons []models.Coupon
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		coupons, err = m.coupons.List(ctx, tx)
		return err
	})
	return coupons, err
}

type CouponCheck struct {
	Code     string          `json:"code"`
	Valid    bool            `json:"valid"`
	Discount decimal.Decimal `json:"discount"`
}

// CheckCoupon previews what code would take off purchase for the customer.
// Nothing is redeemed.
func (m *Manager) CheckCoupon(ctx context.Context, code string, customerID int64, purchase decimal.Decimal) (*CouponCheck, error) {
	check := &CouponCheck{Code: models.NormalizeCouponCode(code), Discount: decimal.Zero}
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		valid, err := m.coupons.Validate(ctx, tx, check.Code, customerID, purchase)
		if err != nil || !valid {
			return err
		}
		c, err := m.coupons.Get(ctx, tx, check.Code)
		if err != nil {
			return err
		}
		check.Valid = true
		check.Discount = coupon.ComputeDiscount(c, purchase)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return check, nil
}

func (m *Manager) CreateProduct(ctx context.Context, in inventory.NewProduct) (*models.Product, error) {
	var p *models.Product
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = m.inventory.CreateProduct(ctx, tx, in)
		return err
	})
	return p, err
}
