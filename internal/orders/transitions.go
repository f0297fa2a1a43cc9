package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/auth"
	"github.com/jogardn/food-delivery/internal/events"
	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	courierCancellableStates  = []models.OrderState{models.OrderStateEnRoute, models.OrderStateAccepted}
	customerCancellableStates = []models.OrderState{models.OrderStatePending, models.OrderStateAccepted, models.OrderStateInPreparation}
	onTheRoadStates           = []models.OrderState{models.OrderStateEnRoute, models.OrderStateDelivered}
)

func illegalTransition(order *models.Order, action string) error {
	return apperrors.Conflict("order %d cannot be %s while %s", order.ID, action, order.State)
}

// Accept assigns courierID to an unassigned order and sends it on its way.
func (m *Manager) Accept(ctx context.Context, orderID, courierID int64) (*models.Order, error) {
	var order *models.Order
	var previous models.OrderState
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		courier, err := tx.GetCustomer(ctx, courierID)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("courier %d not found", courierID)
		}
		if err != nil {
			return apperrors.Internal(err, "failed to load courier")
		}
		if courier.Role != models.RoleCourier || !courier.Active {
			return apperrors.Validation("user %d is not an active courier", courierID)
		}

		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.HasCourier() {
			return apperrors.Conflict("order %d already has a courier", orderID)
		}
		if !order.State.In(store.AvailableStates...) {
			return illegalTransition(order, "accepted")
		}

		previous = order.State
		order.CourierID = &courierID
		order.State = models.OrderStateEnRoute
		return saveOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	m.logTransition(order, previous, courierID)
	m.publish(ctx, events.OrderStatusChanged, order, previous)
	m.notifyCustomer(ctx, order, "order_en_route", "Your order is on its way",
		fmt.Sprintf("A courier picked up order #%d", order.ID))
	return order, nil
}

// CourierCancel returns an order to the available pool.
func (m *Manager) CourierCancel(ctx context.Context, orderID, courierID int64) (*models.Order, error) {
	var order *models.Order
	var previous models.OrderState
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !order.AssignedTo(courierID) {
			return apperrors.Forbidden("order %d is not assigned to courier %d", orderID, courierID)
		}
		if !order.State.In(courierCancellableStates...) {
			return illegalTransition(order, "released by the courier")
		}

		previous = order.State
		order.CourierID = nil
		order.State = models.OrderStatePending
		return saveOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	m.logTransition(order, previous, courierID)
	m.publish(ctx, events.OrderStatusChanged, order, previous)
	m.announceToCouriers(ctx, order)
	return order, nil
}

// CustomerCancel cancels the customer's own order, returns its coupon use
// and lets the risk guard weigh the cancellation.
func (m *Manager) CustomerCancel(ctx context.Context, orderID, customerID int64) (*models.Order, error) {
	var order *models.Order
	var previous models.OrderState
	var suspension *models.PaymentSuspension
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.CustomerID != customerID {
			return apperrors.Forbidden("order %d does not belong to customer %d", orderID, customerID)
		}
		if !order.State.In(customerCancellableStates...) {
			return illegalTransition(order, "cancelled")
		}

		previous = order.State
		order.State = models.OrderStateCancelled
		if err := saveOrder(ctx, tx, order); err != nil {
			return err
		}

		if order.CouponCode != nil {
			if err := m.coupons.Return(ctx, tx, *order.CouponCode); err != nil {
				return err
			}
		}

		suspension, err = m.risk.Evaluate(ctx, tx, customerID, order.PaymentMethod)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logTransition(order, previous, customerID)
	m.publish(ctx, events.OrderCancelled, order, previous)
	if suspension != nil {
		m.publishSuspension(ctx, suspension)
		m.notifier.SendPush(ctx, []int64{customerID},
			"Payment method blocked",
			fmt.Sprintf("Your %s payment method was suspended after repeated cancellations", suspension.Method),
			map[string]string{"type": "payment_method_suspended", "payment_method": string(suspension.Method)})
	}
	return order, nil
}

// MarkDelivered completes an order on the road. Only the assigned courier or
// an administrator may do so.
func (m *Manager) MarkDelivered(ctx context.Context, orderID int64, by auth.Identity) (*models.Order, error) {
	var order *models.Order
	var previous models.OrderState
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !by.Is(models.RoleAdmin) && !order.AssignedTo(by.UserID) {
			return apperrors.Forbidden("order %d is not assigned to courier %d", orderID, by.UserID)
		}
		if order.State != models.OrderStateEnRoute {
			return illegalTransition(order, "delivered")
		}

		previous = order.State
		at := m.now().UTC()
		order.State = models.OrderStateDelivered
		order.DeliveredAt = &at
		return saveOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	m.logTransition(order, previous, by.UserID)
	m.publish(ctx, events.OrderStatusChanged, order, previous)
	m.notifyCustomer(ctx, order, "order_delivered", "Order delivered",
		fmt.Sprintf("Order #%d has been delivered. Enjoy your meal!", order.ID))
	return order, nil
}

// ReportProblem flags a delivery issue. The order state is left alone.
func (m *Manager) ReportProblem(ctx context.Context, orderID, courierID int64, detail string) (*models.Order, error) {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return nil, apperrors.Validation("problem detail is required")
	}

	var order *models.Order
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !order.AssignedTo(courierID) {
			return apperrors.Forbidden("order %d is not assigned to courier %d", orderID, courierID)
		}
		if !order.State.In(onTheRoadStates...) {
			return apperrors.Conflict("problems cannot be reported on order %d while %s", orderID, order.State)
		}

		at := m.now().UTC()
		order.ProblemReported = true
		order.ProblemDetail = detail
		order.ProblemReportedAt = &at
		return saveOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"courier_id": courierID,
	}).Warn("Delivery problem reported")
	return order, nil
}

// ConfirmCash records that the customer or the assigned courier saw the cash
// change hands. The two confirmations are independent and gate nothing.
func (m *Manager) ConfirmCash(ctx context.Context, orderID int64, by auth.Identity) (*models.Order, error) {
	var order *models.Order
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentMethod != models.PaymentMethodCash {
			return apperrors.Validation("order %d is not paid in cash", orderID)
		}
		if !order.State.In(onTheRoadStates...) {
			return apperrors.Conflict("cash cannot be confirmed on order %d while %s", orderID, order.State)
		}

		at := m.now().UTC()
		switch {
		case by.Is(models.RoleCustomer) && order.CustomerID == by.UserID:
			if !order.CustomerConfirmedCash {
				order.CustomerConfirmedCash = true
				order.CustomerConfirmedCashAt = &at
			}
		case by.Is(models.RoleCourier) && order.AssignedTo(by.UserID):
			if !order.CourierConfirmedCash {
				order.CourierConfirmedCash = true
				order.CourierConfirmedCashAt = &at
			}
		default:
			return apperrors.Forbidden("user %d cannot confirm cash for order %d", by.UserID, orderID)
		}
		return saveOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"order_id":           order.ID,
		"role":               by.Role,
		"customer_confirmed": order.CustomerConfirmedCash,
		"courier_confirmed":  order.CourierConfirmedCash,
	}).Info("Cash payment confirmed")
	return order, nil
}

// SetPreparationState lets an administrator move an unassigned order into
// the kitchen states: pending to accepted, or pending/accepted to
// en_preparation.
func (m *Manager) SetPreparationState(ctx context.Context, orderID int64, target models.OrderState) (*models.Order, error) {
	var from []models.OrderState
	switch target {
	case models.OrderStateAccepted:
		from = []models.OrderState{models.OrderStatePending}
	case models.OrderStateInPreparation:
		from = []models.OrderState{models.OrderStatePending, models.OrderStateAccepted}
	default:
		return nil, apperrors.Validation("preparation state must be %s or %s",
			models.OrderStateAccepted, models.OrderStateInPreparation)
	}

	var order *models.Order
	var previous models.OrderState
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.HasCourier() {
			return apperrors.Conflict("order %d already has a courier", orderID)
		}
		if !order.State.In(from...) {
			return illegalTransition(order, "moved to "+string(target))
		}

		previous = order.State
		order.State = target
		return saveOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	m.logTransition(order, previous, 0)
	m.publish(ctx, events.OrderStatusChanged, order, previous)
	return order, nil
}

func (m *Manager) logTransition(order *models.Order, previous models.OrderState, actorID int64) {
	m.logger.WithFields(logrus.Fields{
		"order_id":       order.ID,
		"previous_state": previous,
		"state":          order.State,
		"actor_id":       actorID,
	}).Info("Order state changed")
}
