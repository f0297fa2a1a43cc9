package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
)

func (t *tx) CreatePayment(ctx context.Context, p *models.PaymentRecord) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO payments (order_id, amount, method, state, external_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		p.OrderID, p.Amount, p.Method, p.State, p.ExternalRef, p.CreatedAt,
	).Scan(&p.ID)
	return duplicate(err)
}

func (t *tx) GetPaymentByOrder(ctx context.Context, orderID int64) (*models.PaymentRecord, error) {
	p := &models.PaymentRecord{}
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, order_id, amount, method, state, external_ref, created_at
		FROM payments WHERE order_id = $1`, orderID,
	).Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.State, &p.ExternalRef, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (t *tx) UpdatePayment(ctx context.Context, p *models.PaymentRecord) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE payments SET amount = $2, state = $3, external_ref = $4, created_at = $5
		WHERE id = $1`,
		p.ID, p.Amount, p.State, p.ExternalRef, p.CreatedAt)
	if err != nil {
		return err
	}
	return expectOne(res)
}

const suspensionColumns = `id, customer_id, method, activated_at, reason,
	reactivated_by, reactivated_at, active`

func scanSuspension(row scanner) (*models.PaymentSuspension, error) {
	s := &models.PaymentSuspension{}
	var reactivatedBy sql.NullInt64
	var reactivatedAt sql.NullTime
	err := row.Scan(&s.ID, &s.CustomerID, &s.Method, &s.ActivatedAt, &s.Reason,
		&reactivatedBy, &reactivatedAt, &s.Active)
	if err != nil {
		return nil, notFound(err)
	}
	s.ReactivatedBy = int64Ptr(reactivatedBy)
	s.ReactivatedAt = timePtr(reactivatedAt)
	return s, nil
}

func (t *tx) GetActiveSuspension(ctx context.Context, customerID int64, method models.PaymentMethod) (*models.PaymentSuspension, error) {
	return scanSuspension(t.tx.QueryRowContext(ctx, `
		SELECT `+suspensionColumns+` FROM payment_suspensions
		WHERE customer_id = $1 AND method = $2 AND active`, customerID, method))
}

// CreateSuspension uses ON CONFLICT against the partial unique index so a
// lost race reports ErrDuplicate without aborting the surrounding transaction.
func (t *tx) CreateSuspension(ctx context.Context, s *models.PaymentSuspension) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO payment_suspensions (customer_id, method, activated_at, reason,
			reactivated_by, reactivated_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (customer_id, method) WHERE active DO NOTHING
		RETURNING id`,
		s.CustomerID, s.Method, s.ActivatedAt, s.Reason,
		nullInt64(s.ReactivatedBy), nullTime(s.ReactivatedAt), s.Active,
	).Scan(&s.ID)
	if err == sql.ErrNoRows {
		return store.ErrDuplicate
	}
	return err
}

func (t *tx) UpdateSuspension(ctx context.Context, s *models.PaymentSuspension) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE payment_suspensions SET reason = $2, reactivated_by = $3,
			reactivated_at = $4, active = $5
		WHERE id = $1`,
		s.ID, s.Reason, nullInt64(s.ReactivatedBy), nullTime(s.ReactivatedAt), s.Active)
	if err != nil {
		return duplicate(err)
	}
	return expectOne(res)
}

func (t *tx) LatestReactivation(ctx context.Context, customerID int64, method models.PaymentMethod) (*time.Time, error) {
	var latest sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		SELECT MAX(reactivated_at) FROM payment_suspensions
		WHERE customer_id = $1 AND method = $2`, customerID, method,
	).Scan(&latest)
	if err != nil {
		return nil, err
	}
	return timePtr(latest), nil
}

func (t *tx) ListSuspensions(ctx context.Context, customerID int64) ([]models.PaymentSuspension, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+suspensionColumns+` FROM payment_suspensions
		WHERE customer_id = $1 ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PaymentSuspension
	for rows.Next() {
		s, err := scanSuspension(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
