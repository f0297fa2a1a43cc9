// Package orders owns the order state machine. Manager is the only entry
// point request handlers use; it composes the inventory, coupon, payment and
// risk components inside one unit of work per operation and dispatches
// notifications and events after the unit commits.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/config"
	"github.com/jogardn/food-delivery/internal/coupon"
	"github.com/jogardn/food-delivery/internal/events"
	"github.com/jogardn/food-delivery/internal/inventory"
	"github.com/jogardn/food-delivery/internal/payment"
	"github.com/jogardn/food-delivery/internal/riskguard"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Notifier delivers best-effort notifications. Implementations report
// failure through the result and never return an error.
type Notifier interface {
	SendPush(ctx context.Context, customerIDs []int64, title, body string, data map[string]string) bool
	SendDirectMessage(ctx context.Context, phone, body string) bool
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event events.OrderEvent) error
}

type Manager struct {
	store     store.Store
	inventory *inventory.Ledger
	coupons   *coupon.Ledger
	payments  *payment.Keeper
	gateway   payment.Gateway
	risk      *riskguard.Guard
	notifier  Notifier
	events    EventPublisher
	logger    *logrus.Logger
	now       func() time.Time
}

func NewManager(st store.Store, gateway payment.Gateway, notifier Notifier, risk config.RiskConfig, logger *logrus.Logger) *Manager {
	return &Manager{
		store:     st,
		inventory: inventory.NewLedger(logger),
		coupons:   coupon.NewLedger(logger),
		payments:  payment.NewKeeper(logger),
		gateway:   gateway,
		risk:      riskguard.New(risk, logger),
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// SetEventPublisher enables domain events. Without one, events are skipped.
func (m *Manager) SetEventPublisher(publisher EventPublisher) {
	m.events = publisher
}

// WithClock returns a copy of m whose components all read time from now.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	c := *m
	c.now = now
	c.coupons = m.coupons.WithClock(now)
	c.payments = m.payments.WithClock(now)
	c.risk = m.risk.WithClock(now)
	return &c
}

type CreateOrderRequest struct {
	Address       string               `json:"address"`
	Notes         string               `json:"notes,omitempty"`
	Items         []inventory.Line     `json:"items"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	CouponCode    string               `json:"coupon_code,omitempty"`
	CashTendered  *decimal.Decimal     `json:"cash_tendered,omitempty"`
}

func (r CreateOrderRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Address) == "":
		return apperrors.Validation("delivery address is required")
	case len(r.Items) == 0:
		return apperrors.Validation("order must contain at least one item")
	case !r.PaymentMethod.Valid():
		return apperrors.Validation("unknown payment method %q", r.PaymentMethod)
	case r.CashTendered != nil && r.PaymentMethod != models.PaymentMethodCash:
		return apperrors.Validation("cash tendered only applies to cash orders")
	case r.CashTendered != nil && r.CashTendered.IsNegative():
		return apperrors.Validation("cash tendered must not be negative")
	}
	return nil
}

// Create places an order for customerID. Stock, coupon counter, order and
// payment record move together or not at all. Couriers and the customer are
// notified after the order is stored; those failures are only logged.
func (m *Manager) Create(ctx context.Context, customerID int64, req CreateOrderRequest) (*models.OrderSummary, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var (
		order    *models.Order
		customer *models.Customer
	)
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		customer, err = tx.GetCustomerForUpdate(ctx, customerID)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("customer %d not found", customerID)
		}
		if err != nil {
			return apperrors.Internal(err, "failed to load customer")
		}

		if err := m.risk.CheckAllowed(ctx, tx, customerID, req.PaymentMethod); err != nil {
			return err
		}

		// The discount depends on the subtotal, so lines are priced first.
		// Both run in this unit of work, so neither survives the other failing.
		reservation, err := m.inventory.Reserve(ctx, tx, req.Items)
		if err != nil {
			return err
		}
		redemption, err := m.coupons.Redeem(ctx, tx, req.CouponCode, customerID, reservation.Subtotal)
		if err != nil {
			return err
		}

		order = &models.Order{
			CustomerID:    customerID,
			CreatedAt:     m.now().UTC(),
			Address:       strings.TrimSpace(req.Address),
			Notes:         strings.TrimSpace(req.Notes),
			Items:         reservation.Items,
			PaymentMethod: req.PaymentMethod,
			PaymentState:  models.PaymentStatePending,
			State:         models.OrderStatePending,
			CashTendered:  req.CashTendered,
		}
		discount := decimal.Zero
		if redemption != nil {
			discount = redemption.Discount
			code := redemption.Code
			order.CouponCode = &code
		}
		if err := order.SetAmounts(reservation.Subtotal, discount); err != nil {
			return apperrors.Internal(err, "failed to price order")
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return apperrors.Internal(err, "failed to store order")
		}

		if order.PaymentMethod.Manual() {
			if _, err := m.payments.RecordManual(ctx, tx, order); err != nil {
				return err
			}
			order.PaymentState = models.PaymentStatePaid
			if err := tx.UpdateOrder(ctx, order); err != nil {
				return apperrors.Internal(err, "failed to mark order paid")
			}
		}
		return nil
	})
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"customer_id":    customerID,
			"payment_method": req.PaymentMethod,
		}).Warn("Order creation failed")
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"order_id":       order.ID,
		"customer_id":    customerID,
		"payment_method": order.PaymentMethod,
		"total":          order.Total.StringFixed(2),
		"items_count":    len(order.Items),
	}).Info("Order created")

	m.publish(ctx, events.OrderCreated, order, "")
	m.announceToCouriers(ctx, order)
	if order.PaymentMethod.Manual() {
		m.confirmToCustomer(ctx, order, customer)
	}

	summary := order.Summary()
	return &summary, nil
}

// announceToCouriers pushes order to every active courier with a push
// registration.
func (m *Manager) announceToCouriers(ctx context.Context, order *models.Order) {
	var couriers []models.Customer
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		couriers, err = tx.ListActiveCouriers(ctx)
		return err
	})
	if err != nil {
		m.logger.WithError(err).WithField("order_id", order.ID).Warn("Failed to list couriers to notify")
		return
	}
	if len(couriers) == 0 {
		return
	}
	ids := make([]int64, 0, len(couriers))
	for _, c := range couriers {
		ids = append(ids, c.ID)
	}
	m.notifier.SendPush(ctx, ids,
		"New order available",
		fmt.Sprintf("Order #%d is waiting for a courier", order.ID),
		orderData(order, "new_order"))
}

func (m *Manager) confirmToCustomer(ctx context.Context, order *models.Order, customer *models.Customer) {
	body := fmt.Sprintf("We received your order #%d. Total: %s", order.ID, order.Total.StringFixed(2))
	m.notifier.SendPush(ctx, []int64{order.CustomerID}, "Order confirmed", body, orderData(order, "order_confirmed"))
	if customer != nil && customer.Phone != "" {
		m.notifier.SendDirectMessage(ctx, customer.Phone, body)
	}
}

func (m *Manager) notifyCustomer(ctx context.Context, order *models.Order, kind, title, body string) {
	m.notifier.SendPush(ctx, []int64{order.CustomerID}, title, body, orderData(order, kind))
}

func orderData(order *models.Order, kind string) map[string]string {
	return map[string]string{
		"type":     kind,
		"order_id": strconv.FormatInt(order.ID, 10),
		"state":    string(order.State),
	}
}

// publish sends a domain event. Failures are logged and dropped.
func (m *Manager) publish(ctx context.Context, eventType events.OrderEventType, order *models.Order, previous models.OrderState) {
	if m.events == nil {
		return
	}
	event := events.OrderEvent{
		Type:          eventType,
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		CourierID:     order.CourierID,
		State:         order.State,
		PreviousState: previous,
		PaymentMethod: order.PaymentMethod,
		PaymentState:  order.PaymentState,
		Total:         order.Total.StringFixed(2),
	}
	if err := m.events.PublishOrderEvent(ctx, event); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":   order.ID,
			"event_type": eventType,
		}).Warn("Failed to publish order event")
	}
}

func (m *Manager) publishSuspension(ctx context.Context, s *models.PaymentSuspension) {
	if m.events == nil {
		return
	}
	event := events.OrderEvent{
		Type:          events.PaymentMethodSuspended,
		CustomerID:    s.CustomerID,
		PaymentMethod: s.Method,
	}
	if err := m.events.PublishOrderEvent(ctx, event); err != nil {
		m.logger.WithError(err).WithField("customer_id", s.CustomerID).Warn("Failed to publish suspension event")
	}
}

func lockOrder(ctx context.Context, repo store.OrderRepository, id int64) (*models.Order, error) {
	order, err := repo.GetOrderForUpdate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("order %d not found", id)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load order")
	}
	return order, nil
}

func saveOrder(ctx context.Context, repo store.OrderRepository, order *models.Order) error {
	if err := repo.UpdateOrder(ctx, order); err != nil {
		return apperrors.Internal(err, "failed to update order %d", order.ID)
	}
	return nil
}
