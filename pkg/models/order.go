package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type OrderState string

const (
	OrderStatePending       OrderState = "pending"
	OrderStateAccepted      OrderState = "accepted"
	OrderStateInPreparation OrderState = "en_preparation"
	OrderStateEnRoute       OrderState = "en_route"
	OrderStateDelivered     OrderState = "delivered"
	OrderStateCancelled     OrderState = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderState) Terminal() bool {
	return s == OrderStateDelivered || s == OrderStateCancelled
}

// In reports whether s is one of states.
func (s OrderState) In(states ...OrderState) bool {
	for _, candidate := range states {
		if s == candidate {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodCash   PaymentMethod = "cash"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodWallet, PaymentMethodCash:
		return true
	}
	return false
}

// Manual reports whether m settles without a gateway round-trip.
func (m PaymentMethod) Manual() bool {
	return m == PaymentMethodCash || m == PaymentMethodWallet
}

type PaymentState string

const (
	PaymentStatePending  PaymentState = "pending"
	PaymentStatePaid     PaymentState = "paid"
	PaymentStateFailed   PaymentState = "failed"
	PaymentStateRefunded PaymentState = "refunded"
)

var ErrTotalLocked = errors.New("order total is locked once payment is marked paid")

type Order struct {
	ID            int64           `json:"id"`
	CustomerID    int64           `json:"customer_id"`
	CourierID     *int64          `json:"courier_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Address       string          `json:"address"`
	Notes         string          `json:"notes,omitempty"`
	Items         []LineItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentState  PaymentState    `json:"payment_state"`
	State         OrderState      `json:"state"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	CouponCode    *string         `json:"coupon_code,omitempty"`

	ProblemReported   bool       `json:"problem_reported"`
	ProblemDetail     string     `json:"problem_detail,omitempty"`
	ProblemReportedAt *time.Time `json:"problem_reported_at,omitempty"`

	CustomerConfirmedCash   bool             `json:"customer_confirmed_cash"`
	CustomerConfirmedCashAt *time.Time       `json:"customer_confirmed_cash_at,omitempty"`
	CourierConfirmedCash    bool             `json:"courier_confirmed_cash"`
	CourierConfirmedCashAt  *time.Time       `json:"courier_confirmed_cash_at,omitempty"`
	CashTendered            *decimal.Decimal `json:"cash_tendered,omitempty"`
}

// SetAmounts records subtotal and discount and derives total = max(0, subtotal - discount).
func (o *Order) SetAmounts(subtotal, discount decimal.Decimal) error {
	if o.PaymentState == PaymentStatePaid {
		return ErrTotalLocked
	}
	o.Subtotal = subtotal
	o.Discount = discount
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Total = total
	return nil
}

// HasCourier reports whether a courier is assigned.
func (o *Order) HasCourier() bool {
	return o.CourierID != nil
}

// AssignedTo reports whether courierID is the assigned courier.
func (o *Order) AssignedTo(courierID int64) bool {
	return o.CourierID != nil && *o.CourierID == courierID
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	c.CourierID = cloneInt64(o.CourierID)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.ProblemReportedAt = cloneTime(o.ProblemReportedAt)
	c.CustomerConfirmedCashAt = cloneTime(o.CustomerConfirmedCashAt)
	c.CourierConfirmedCashAt = cloneTime(o.CourierConfirmedCashAt)
	if o.CouponCode != nil {
		code := *o.CouponCode
		c.CouponCode = &code
	}
	if o.CashTendered != nil {
		amount := *o.CashTendered
		c.CashTendered = &amount
	}
	return &c
}

// LineItem references its product by id; the unit price is a snapshot taken
// when the order was placed.
type LineItem struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Personalize string          `json:"personalization,omitempty"`
}

type Product struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
	Active bool            `json:"active"`
}

type OrderSummary struct {
	ID            int64           `json:"id"`
	State         OrderState      `json:"state"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentState  PaymentState    `json:"payment_state"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	CouponCode    *string         `json:"coupon_code,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Summary returns the view handed back to callers after creation.
func (o *Order) Summary() OrderSummary {
	return OrderSummary{
		ID:            o.ID,
		State:         o.State,
		PaymentMethod: o.PaymentMethod,
		PaymentState:  o.PaymentState,
		Subtotal:      o.Subtotal,
		Discount:      o.Discount,
		Total:         o.Total,
		CouponCode:    o.CouponCode,
		CreatedAt:     o.CreatedAt,
	}
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
