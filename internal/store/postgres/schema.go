package postgres

import (
	"context"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(50) NOT NULL DEFAULT '',
		role VARCHAR(20) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		push_token TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price DECIMAL(12,2) NOT NULL CHECK (price >= 0),
		stock INTEGER NOT NULL CHECK (stock >= 0),
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS coupons (
		id BIGSERIAL PRIMARY KEY,
		code VARCHAR(64) NOT NULL UNIQUE,
		kind VARCHAR(20) NOT NULL,
		value DECIMAL(12,2) NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		remaining_uses INTEGER CHECK (remaining_uses >= 0),
		per_user_cap INTEGER,
		min_purchase DECIMAL(12,2),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_by BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	// coupon_code is deliberately not a foreign key: deleting a coupon must
	// not rewrite historical orders.
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
		courier_id BIGINT REFERENCES customers(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL,
		address TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		subtotal DECIMAL(12,2) NOT NULL,
		discount DECIMAL(12,2) NOT NULL,
		total DECIMAL(12,2) NOT NULL CHECK (total >= 0),
		payment_method VARCHAR(20) NOT NULL,
		payment_state VARCHAR(20) NOT NULL,
		state VARCHAR(20) NOT NULL,
		delivered_at TIMESTAMPTZ,
		coupon_code VARCHAR(64),
		problem_reported BOOLEAN NOT NULL DEFAULT FALSE,
		problem_detail TEXT NOT NULL DEFAULT '',
		problem_reported_at TIMESTAMPTZ,
		customer_confirmed_cash BOOLEAN NOT NULL DEFAULT FALSE,
		customer_confirmed_cash_at TIMESTAMPTZ,
		courier_confirmed_cash BOOLEAN NOT NULL DEFAULT FALSE,
		courier_confirmed_cash_at TIMESTAMPTZ,
		cash_tendered DECIMAL(12,2)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price DECIMAL(12,2) NOT NULL,
		subtotal DECIMAL(12,2) NOT NULL,
		personalization TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
		amount DECIMAL(12,2) NOT NULL,
		method VARCHAR(20) NOT NULL,
		state VARCHAR(20) NOT NULL,
		external_ref VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_suspensions (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
		method VARCHAR(20) NOT NULL,
		activated_at TIMESTAMPTZ NOT NULL,
		reason TEXT NOT NULL,
		reactivated_by BIGINT,
		reactivated_at TIMESTAMPTZ,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_suspensions_active
		ON payment_suspensions(customer_id, method) WHERE active`,
	`CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders(customer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_available ON orders(state) WHERE courier_id IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
}

// Migrate creates every table and index the store needs.
func (s *Store) Migrate(ctx context.Context) error {
	for _, query := range schema {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}
