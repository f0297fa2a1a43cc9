package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionState string

const (
	TransactionPending    TransactionState = "pending"
	TransactionSuccessful TransactionState = "successful"
	TransactionFailed     TransactionState = "failed"
)

type PaymentRecord struct {
	ID          int64            `json:"id"`
	OrderID     int64            `json:"order_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Method      PaymentMethod    `json:"method"`
	State       TransactionState `json:"state"`
	ExternalRef string           `json:"external_ref"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ManualReference is the external reference stored for non-gateway payments.
func ManualReference(orderID int64) string {
	return fmt.Sprintf("MANUAL_%d", orderID)
}

type PaymentSuspension struct {
	ID            int64         `json:"id"`
	CustomerID    int64         `json:"customer_id"`
	Method        PaymentMethod `json:"payment_method"`
	ActivatedAt   time.Time     `json:"activated_at"`
	Reason        string        `json:"reason"`
	ReactivatedBy *int64        `json:"reactivated_by,omitempty"`
	ReactivatedAt *time.Time    `json:"reactivated_at,omitempty"`
	Active        bool          `json:"active"`
}

// Clone returns a deep copy of s.
func (s *PaymentSuspension) Clone() *PaymentSuspension {
	c := *s
	c.ReactivatedBy = cloneInt64(s.ReactivatedBy)
	c.ReactivatedAt = cloneTime(s.ReactivatedAt)
	return &c
}
