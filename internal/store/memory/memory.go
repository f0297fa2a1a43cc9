// Package memory is a process-local store used for development and tests.
// Units of work are serialized and run against a private copy of the data
// that replaces the shared copy only when the unit succeeds.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jogardn/food-delivery/internal/store"
	"github.com/jogardn/food-delivery/pkg/models"
)

type sequences struct {
	customer   int64
	product    int64
	coupon     int64
	order      int64
	item       int64
	payment    int64
	suspension int64
}

type data struct {
	ids         sequences
	customers   map[int64]*models.Customer
	products    map[int64]*models.Product
	coupons     map[string]*models.Coupon
	orders      map[int64]*models.Order
	payments    map[int64]*models.PaymentRecord
	suspensions map[int64]*models.PaymentSuspension
}

func newData() *data {
	return &data{
		customers:   make(map[int64]*models.Customer),
		products:    make(map[int64]*models.Product),
		coupons:     make(map[string]*models.Coupon),
		orders:      make(map[int64]*models.Order),
		payments:    make(map[int64]*models.PaymentRecord),
		suspensions: make(map[int64]*models.PaymentSuspension),
	}
}

func (d *data) clone() *data {
	c := newData()
	c.ids = d.ids
	for id, v := range d.customers {
		cust := *v
		c.customers[id] = &cust
	}
	for id, v := range d.products {
		p := *v
		c.products[id] = &p
	}
	for code, v := range d.coupons {
		c.coupons[code] = v.Clone()
	}
	for id, v := range d.orders {
		c.orders[id] = v.Clone()
	}
	for id, v := range d.payments {
		p := *v
		c.payments[id] = &p
	}
	for id, v := range d.suspensions {
		c.suspensions[id] = v.Clone()
	}
	return c
}

type Store struct {
	mu   sync.Mutex
	data *data
}

func New() *Store {
	return &Store{data: newData()}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, &tx{d: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

type tx struct {
	d *data
}

// Customers

func (t *tx) GetCustomer(_ context.Context, id int64) (*models.Customer, error) {
	c, ok := t.d.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (t *tx) GetCustomerForUpdate(ctx context.Context, id int64) (*models.Customer, error) {
	return t.GetCustomer(ctx, id)
}

func (t *tx) CreateCustomer(_ context.Context, customer *models.Customer) error {
	t.d.ids.customer++
	customer.ID = t.d.ids.customer
	c := *customer
	t.d.customers[c.ID] = &c
	return nil
}

func (t *tx) ListActiveCouriers(_ context.Context) ([]models.Customer, error) {
	var out []models.Customer
	for _, c := range t.d.customers {
		if c.Role == models.RoleCourier && c.Active && c.PushToken != "" {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) DeleteCustomer(_ context.Context, id int64) error {
	if _, ok := t.d.customers[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.d.customers, id)

	for orderID, o := range t.d.orders {
		if o.CustomerID == id {
			delete(t.d.orders, orderID)
			delete(t.d.payments, orderID)
			continue
		}
		if o.AssignedTo(id) {
			o.CourierID = nil
		}
	}
	for sid, s := range t.d.suspensions {
		if s.CustomerID == id {
			delete(t.d.suspensions, sid)
		}
	}
	return nil
}

// Products

func (t *tx) GetProductForUpdate(_ context.Context, id int64) (*models.Product, error) {
	p, ok := t.d.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (t *tx) CreateProduct(_ context.Context, product *models.Product) error {
	t.d.ids.product++
	product.ID = t.d.ids.product
	p := *product
	t.d.products[p.ID] = &p
	return nil
}

func (t *tx) DecrementStock(_ context.Context, productID int64, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, store.ErrInvalidQuantity
	}
	p, ok := t.d.products[productID]
	if !ok {
		return false, store.ErrNotFound
	}
	if p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	return true, nil
}

// Coupons

func (t *tx) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	c, ok := t.d.coupons[models.NormalizeCouponCode(code)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c.Clone(), nil
}

func (t *tx) GetCouponByCodeForUpdate(ctx context.Context, code string) (*models.Coupon, error) {
	return t.GetCouponByCode(ctx, code)
}

func (t *tx) CreateCoupon(_ context.Context, coupon *models.Coupon) error {
	code := models.NormalizeCouponCode(coupon.Code)
	if _, exists := t.d.coupons[code]; exists {
		return store.ErrDuplicate
	}
	t.d.ids.coupon++
	coupon.ID = t.d.ids.coupon
	coupon.Code = code
	t.d.coupons[code] = coupon.Clone()
	return nil
}

func (t *tx) UpdateCoupon(_ context.Context, coupon *models.Coupon) error {
	existing, ok := t.d.coupons[coupon.Code]
	if !ok || existing.ID != coupon.ID {
		return store.ErrNotFound
	}
	t.d.coupons[coupon.Code] = coupon.Clone()
	return nil
}

func (t *tx) ListCoupons(_ context.Context) ([]models.Coupon, error) {
	out := make([]models.Coupon, 0, len(t.d.coupons))
	for _, c := range t.d.coupons {
		out = append(out, *c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) CountCustomerCouponUses(_ context.Context, customerID int64, code string) (int, error) {
	code = models.NormalizeCouponCode(code)
	count := 0
	for _, o := range t.d.orders {
		if o.CustomerID == customerID && o.CouponCode != nil && *o.CouponCode == code &&
			o.State != models.OrderStateCancelled {
			count++
		}
	}
	return count, nil
}

// Orders

func (t *tx) CreateOrder(_ context.Context, order *models.Order) error {
	if _, ok := t.d.customers[order.CustomerID]; !ok {
		return store.ErrNotFound
	}
	t.d.ids.order++
	order.ID = t.d.ids.order
	for i := range order.Items {
		t.d.ids.item++
		order.Items[i].ID = t.d.ids.item
	}
	t.d.orders[order.ID] = order.Clone()
	return nil
}

func (t *tx) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := t.d.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return o.Clone(), nil
}

func (t *tx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *tx) UpdateOrder(_ context.Context, order *models.Order) error {
	existing, ok := t.d.orders[order.ID]
	if !ok {
		return store.ErrNotFound
	}
	updated := order.Clone()
	updated.Items = existing.Items
	t.d.orders[order.ID] = updated
	return nil
}

func (t *tx) ListOrdersByCustomer(_ context.Context, customerID int64) ([]models.Order, error) {
	return t.listOrders(func(o *models.Order) bool {
		return o.CustomerID == customerID
	}), nil
}

func (t *tx) ListAvailableOrders(_ context.Context) ([]models.Order, error) {
	return t.listOrders(func(o *models.Order) bool {
		return !o.HasCourier() && o.State.In(store.AvailableStates...)
	}), nil
}

func (t *tx) listOrders(match func(*models.Order) bool) []models.Order {
	var out []models.Order
	for _, o := range t.d.orders {
		if match(o) {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *tx) CountCancelledOrders(_ context.Context, customerID int64, method models.PaymentMethod, since *time.Time) (int, error) {
	count := 0
	for _, o := range t.d.orders {
		if o.CustomerID != customerID || o.PaymentMethod != method || o.State != models.OrderStateCancelled {
			continue
		}
		if since != nil && !o.CreatedAt.After(*since) {
			continue
		}
		count++
	}
	return count, nil
}

// Payments

func (t *tx) CreatePayment(_ context.Context, payment *models.PaymentRecord) error {
	if _, exists := t.d.payments[payment.OrderID]; exists {
		return store.ErrDuplicate
	}
	if _, ok := t.d.orders[payment.OrderID]; !ok {
		return store.ErrNotFound
	}
	t.d.ids.payment++
	payment.ID = t.d.ids.payment
	p := *payment
	t.d.payments[p.OrderID] = &p
	return nil
}

func (t *tx) GetPaymentByOrder(_ context.Context, orderID int64) (*models.PaymentRecord, error) {
	p, ok := t.d.payments[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (t *tx) UpdatePayment(_ context.Context, payment *models.PaymentRecord) error {
	existing, ok := t.d.payments[payment.OrderID]
	if !ok || existing.ID != payment.ID {
		return store.ErrNotFound
	}
	p := *payment
	t.d.payments[p.OrderID] = &p
	return nil
}

// Suspensions

func (t *tx) GetActiveSuspension(_ context.Context, customerID int64, method models.PaymentMethod) (*models.PaymentSuspension, error) {
	for _, s := range t.d.suspensions {
		if s.CustomerID == customerID && s.Method == method && s.Active {
			return s.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) CreateSuspension(ctx context.Context, suspension *models.PaymentSuspension) error {
	if suspension.Active {
		if _, err := t.GetActiveSuspension(ctx, suspension.CustomerID, suspension.Method); err == nil {
			return store.ErrDuplicate
		}
	}
	t.d.ids.suspension++
	suspension.ID = t.d.ids.suspension
	t.d.suspensions[suspension.ID] = suspension.Clone()
	return nil
}

func (t *tx) UpdateSuspension(_ context.Context, suspension *models.PaymentSuspension) error {
	if _, ok := t.d.suspensions[suspension.ID]; !ok {
		return store.ErrNotFound
	}
	if suspension.Active {
		for id, s := range t.d.suspensions {
			if id != suspension.ID && s.Active && s.CustomerID == suspension.CustomerID && s.Method == suspension.Method {
				return store.ErrDuplicate
			}
		}
	}
	t.d.suspensions[suspension.ID] = suspension.Clone()
	return nil
}

func (t *tx) LatestReactivation(_ context.Context, customerID int64, method models.PaymentMethod) (*time.Time, error) {
	var latest *time.Time
	for _, s := range t.d.suspensions {
		if s.CustomerID != customerID || s.Method != method || s.ReactivatedAt == nil {
			continue
		}
		if latest == nil || s.ReactivatedAt.After(*latest) {
			at := *s.ReactivatedAt
			latest = &at
		}
	}
	return latest, nil
}

func (t *tx) ListSuspensions(_ context.Context, customerID int64) ([]models.PaymentSuspension, error) {
	var out []models.PaymentSuspension
	for _, s := range t.d.suspensions {
		if s.CustomerID == customerID {
			out = append(out, *s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
