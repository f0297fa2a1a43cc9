package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, customer_id, courier_id, created_at, address, notes,
	subtotal, discount, total, payment_method, payment_state, state, delivered_at,
	coupon_code, problem_reported, problem_detail, problem_reported_at,
	customer_confirmed_cash, customer_confirmed_cash_at,
	courier_confirmed_cash, courier_confirmed_cash_at, cash_tendered`

func scanOrder(row scanner) (*models.Order, error) {
	o := &models.Order{}
	var (
		courierID                     sql.NullInt64
		deliveredAt, problemAt        sql.NullTime
		customerCashAt, courierCashAt sql.NullTime
		couponCode                    sql.NullString
		cashTendered                  decimal.NullDecimal
	)
	err := row.Scan(&o.ID, &o.CustomerID, &courierID, &o.CreatedAt, &o.Address, &o.Notes,
		&o.Subtotal, &o.Discount, &o.Total, &o.PaymentMethod, &o.PaymentState, &o.State, &deliveredAt,
		&couponCode, &o.ProblemReported, &o.ProblemDetail, &problemAt,
		&o.CustomerConfirmedCash, &customerCashAt,
		&o.CourierConfirmedCash, &courierCashAt, &cashTendered)
	if err != nil {
		return nil, notFound(err)
	}

	o.CourierID = int64Ptr(courierID)
	o.DeliveredAt = timePtr(deliveredAt)
	o.ProblemReportedAt = timePtr(problemAt)
	o.CustomerConfirmedCashAt = timePtr(customerCashAt)
	o.CourierConfirmedCashAt = timePtr(courierCashAt)
	o.CouponCode = stringPtr(couponCode)
	if cashTendered.Valid {
		o.CashTendered = &cashTendered.Decimal
	}
	return o, nil
}

func (t *tx) CreateOrder(ctx context.Context, o *models.Order) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO orders (customer_id, courier_id, created_at, address, notes,
			subtotal, discount, total, payment_method, payment_state, state,
			coupon_code, cash_tendered)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		o.CustomerID, nullInt64(o.CourierID), o.CreatedAt, o.Address, o.Notes,
		o.Subtotal, o.Discount, o.Total, o.PaymentMethod, o.PaymentState, o.State,
		nullString(o.CouponCode), nullDecimal(o.CashTendered),
	).Scan(&o.ID)
	if err != nil {
		return err
	}

	for i := range o.Items {
		item := &o.Items[i]
		err := t.tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, personalization)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			o.ID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal, item.Personalize,
		).Scan(&item.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return t.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (t *tx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return t.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *tx) getOrder(ctx context.Context, query string, id int64) (*models.Order, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	orders := []models.Order{*o}
	if err := t.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// loadItems fills in the line items of every order with a single query.
func (t *tx) loadItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
		orders[i].Items = []models.LineItem{}
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, subtotal, personalization
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY id`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.LineItem
		var orderID int64
		if err := rows.Scan(&item.ID, &orderID, &item.ProductID, &item.Quantity,
			&item.UnitPrice, &item.Subtotal, &item.Personalize); err != nil {
			return err
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return rows.Err()
}

func (t *tx) UpdateOrder(ctx context.Context, o *models.Order) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET
			courier_id = $2, subtotal = $3, discount = $4, total = $5,
			payment_state = $6, state = $7, delivered_at = $8, coupon_code = $9,
			problem_reported = $10, problem_detail = $11, problem_reported_at = $12,
			customer_confirmed_cash = $13, customer_confirmed_cash_at = $14,
			courier_confirmed_cash = $15, courier_confirmed_cash_at = $16,
			cash_tendered = $17
		WHERE id = $1`,
		o.ID, nullInt64(o.CourierID), o.Subtotal, o.Discount, o.Total,
		o.PaymentState, o.State, nullTime(o.DeliveredAt), nullString(o.CouponCode),
		o.ProblemReported, o.ProblemDetail, nullTime(o.ProblemReportedAt),
		o.CustomerConfirmedCash, nullTime(o.CustomerConfirmedCashAt),
		o.CourierConfirmedCash, nullTime(o.CourierConfirmedCashAt),
		nullDecimal(o.CashTendered))
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *tx) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	return t.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE customer_id = $1
		ORDER BY created_at, id`, customerID)
}

func (t *tx) ListAvailableOrders(ctx context.Context) ([]models.Order, error) {
	states := make([]string, len(store.AvailableStates))
	for i, s := range store.AvailableStates {
		states[i] = string(s)
	}
	return t.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE courier_id IS NULL AND state = ANY($1)
		ORDER BY created_at, id`, pq.Array(states))
}

func (t *tx) listOrders(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := t.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (t *tx) CountCancelledOrders(ctx context.Context, customerID int64, method models.PaymentMethod, since *time.Time) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE customer_id = $1 AND payment_method = $2 AND state = $3
			AND ($4::timestamptz IS NULL OR created_at > $4)`,
		customerID, method, models.OrderStateCancelled, nullTime(since),
	).Scan(&count)
	return count, err
}
