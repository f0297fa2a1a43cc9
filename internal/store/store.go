// Package store defines the persistence contract of the order core. Every
// business operation runs inside one unit of work obtained from Store.WithTx;
// when the callback returns an error nothing it wrote survives.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jogardn/food-delivery/pkg/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")

	// ErrInvalidQuantity is returned for stock changes that are not positive.
	ErrInvalidQuantity = errors.New("store: quantity must be positive")
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of repositories visible inside one unit of work.
type Tx interface {
	CustomerRepository
	ProductRepository
	CouponRepository
	OrderRepository
	PaymentRepository
	SuspensionRepository
}

type CustomerRepository interface {
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	// GetCustomerForUpdate serializes units of work that act on the same customer.
	GetCustomerForUpdate(ctx context.Context, id int64) (*models.Customer, error)
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	// ListActiveCouriers returns active couriers with a push registration.
	ListActiveCouriers(ctx context.Context) ([]models.Customer, error)
	// DeleteCustomer removes the customer with their orders, line items,
	// payment records and suspensions.
	DeleteCustomer(ctx context.Context, id int64) error
}

type ProductRepository interface {
	// GetProductForUpdate reads a product and holds it until the unit of work ends.
	GetProductForUpdate(ctx context.Context, id int64) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	// DecrementStock subtracts quantity only if enough stock remains. It
	// reports false, leaving the row untouched, when it does not. A
	// quantity that is not positive fails with ErrInvalidQuantity.
	DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error)
}

type CouponRepository interface {
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	GetCouponByCodeForUpdate(ctx context.Context, code string) (*models.Coupon, error)
	CreateCoupon(ctx context.Context, coupon *models.Coupon) error
	UpdateCoupon(ctx context.Context, coupon *models.Coupon) error
	ListCoupons(ctx context.Context) ([]models.Coupon, error)
	// CountCustomerCouponUses counts the customer's non-cancelled orders that
	// reference code.
	CountCustomerCouponUses(ctx context.Context, customerID int64, code string) (int, error)
}

type OrderRepository interface {
	// CreateOrder assigns ids to the order and its line items.
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	// UpdateOrder persists every mutable field; line items are never rewritten.
	UpdateOrder(ctx context.Context, order *models.Order) error
	ListOrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error)
	// ListAvailableOrders returns unassigned orders a courier may still accept.
	ListAvailableOrders(ctx context.Context) ([]models.Order, error)
	// CountCancelledOrders counts the customer's cancelled orders paid with
	// method and created strictly after since. A nil since counts all of them.
	CountCancelledOrders(ctx context.Context, customerID int64, method models.PaymentMethod, since *time.Time) (int, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.PaymentRecord) error
	GetPaymentByOrder(ctx context.Context, orderID int64) (*models.PaymentRecord, error)
	UpdatePayment(ctx context.Context, payment *models.PaymentRecord) error
}

type SuspensionRepository interface {
	GetActiveSuspension(ctx context.Context, customerID int64, method models.PaymentMethod) (*models.PaymentSuspension, error)
	// CreateSuspension fails with ErrDuplicate when an active suspension
	// already exists for the pair.
	CreateSuspension(ctx context.Context, suspension *models.PaymentSuspension) error
	UpdateSuspension(ctx context.Context, suspension *models.PaymentSuspension) error
	// LatestReactivation returns the most recent reactivation time for the
	// pair, or nil when no suspension was ever lifted.
	LatestReactivation(ctx context.Context, customerID int64, method models.PaymentMethod) (*time.Time, error)
	ListSuspensions(ctx context.Context, customerID int64) ([]models.PaymentSuspension, error)
}

// AvailableStates are the order states a courier may pick an order up from.
var AvailableStates = []models.OrderState{
	models.OrderStatePending,
	models.OrderStateAccepted,
	models.OrderStateInPreparation,
}
