package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountKind string

const (
	DiscountPercentage  DiscountKind = "percentage"
	DiscountFixedAmount DiscountKind = "fixed_amount"
)

func (k DiscountKind) Valid() bool {
	return k == DiscountPercentage || k == DiscountFixedAmount
}

type Coupon struct {
	ID            int64            `json:"id"`
	Code          string           `json:"code"`
	Kind          DiscountKind     `json:"kind"`
	Value         decimal.Decimal  `json:"value"`
	StartDate     time.Time        `json:"start_date"`
	EndDate       time.Time        `json:"end_date"`
	RemainingUses *int             `json:"remaining_uses,omitempty"`
	PerUserCap    *int             `json:"per_user_cap,omitempty"`
	MinPurchase   *decimal.Decimal `json:"min_purchase,omitempty"`
	Active        bool             `json:"active"`
	CreatedBy     int64            `json:"created_by"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NormalizeCouponCode returns the stored form of a customer supplied code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Clone returns a deep copy of c.
func (c *Coupon) Clone() *Coupon {
	out := *c
	if c.RemainingUses != nil {
		v := *c.RemainingUses
		out.RemainingUses = &v
	}
	if c.PerUserCap != nil {
		v := *c.PerUserCap
		out.PerUserCap = &v
	}
	if c.MinPurchase != nil {
		v := *c.MinPurchase
		out.MinPurchase = &v
	}
	return &out
}
