package postgres

import (
	"context"
	"database/sql"
	"math"

	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/shopspring/decimal"
)

const customerColumns = `id, name, phone, role, active, push_token`

func scanCustomer(row scanner) (*models.Customer, error) {
	c := &models.Customer{}
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Role, &c.Active, &c.PushToken); err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (t *tx) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	return scanCustomer(t.tx.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

func (t *tx) GetCustomerForUpdate(ctx context.Context, id int64) (*models.Customer, error) {
	return scanCustomer(t.tx.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id))
}

func (t *tx) CreateCustomer(ctx context.Context, c *models.Customer) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO customers (name, phone, role, active, push_token)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		c.Name, c.Phone, c.Role, c.Active, c.PushToken,
	).Scan(&c.ID)
}

func (t *tx) ListActiveCouriers(ctx context.Context) ([]models.Customer, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE role = $1 AND active AND push_token <> ''
		ORDER BY id`, models.RoleCourier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var couriers []models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		couriers = append(couriers, *c)
	}
	return couriers, rows.Err()
}

// DeleteCustomer relies on the foreign keys: orders, their items and
// payments, and suspensions cascade; orders the customer delivered as a
// courier lose their courier reference.
func (t *tx) DeleteCustomer(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *tx) GetProductForUpdate(ctx context.Context, id int64) (*models.Product, error) {
	p := &models.Product{}
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, price, stock, active FROM products
		WHERE id = $1 FOR UPDATE`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Active)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (t *tx) CreateProduct(ctx context.Context, p *models.Product) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO products (name, price, stock, active)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		p.Name, p.Price, p.Stock, p.Active,
	).Scan(&p.ID)
}

func (t *tx) DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	if quantity <= 0 || quantity > math.MaxInt32 {
		return false, store.ErrInvalidQuantity
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET stock = stock - $1
		WHERE id = $2 AND stock >= $1`, quantity, productID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// Tell a missing product apart from an insufficient one.
	var exists bool
	if err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

const couponColumns = `id, code, kind, value, start_date, end_date, remaining_uses,
	per_user_cap, min_purchase, active, created_by, created_at`

func scanCoupon(row scanner) (*models.Coupon, error) {
	c := &models.Coupon{}
	var remaining, perUser sql.NullInt64
	var minPurchase decimal.NullDecimal
	err := row.Scan(&c.ID, &c.Code, &c.Kind, &c.Value, &c.StartDate, &c.EndDate,
		&remaining, &perUser, &minPurchase, &c.Active, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	c.RemainingUses = intPtr(remaining)
	c.PerUserCap = intPtr(perUser)
	if minPurchase.Valid {
		c.MinPurchase = &minPurchase.Decimal
	}
	return c, nil
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}

func (t *tx) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return scanCoupon(t.tx.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`, models.NormalizeCouponCode(code)))
}

func (t *tx) GetCouponByCodeForUpdate(ctx context.Context, code string) (*models.Coupon, error) {
	return scanCoupon(t.tx.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1 FOR UPDATE`, models.NormalizeCouponCode(code)))
}

func (t *tx) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	c.Code = models.NormalizeCouponCode(c.Code)
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO coupons (code, kind, value, start_date, end_date, remaining_uses,
			per_user_cap, min_purchase, active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		c.Code, c.Kind, c.Value, c.StartDate, c.EndDate, nullInt(c.RemainingUses),
		nullInt(c.PerUserCap), nullDecimal(c.MinPurchase), c.Active, c.CreatedBy, c.CreatedAt,
	).Scan(&c.ID)
	return duplicate(err)
}

func (t *tx) UpdateCoupon(ctx context.Context, c *models.Coupon) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE coupons SET kind = $2, value = $3, start_date = $4, end_date = $5,
			remaining_uses = $6, per_user_cap = $7, min_purchase = $8, active = $9
		WHERE id = $1`,
		c.ID, c.Kind, c.Value, c.StartDate, c.EndDate, nullInt(c.RemainingUses),
		nullInt(c.PerUserCap), nullDecimal(c.MinPurchase), c.Active)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *tx) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coupons []models.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}

func (t *tx) CountCustomerCouponUses(ctx context.Context, customerID int64, code string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE customer_id = $1 AND coupon_code = $2 AND state <> $3`,
		customerID, models.NormalizeCouponCode(code), models.OrderStateCancelled,
	).Scan(&count)
	return count, err
}
