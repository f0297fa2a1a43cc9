package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/food-delivery/internal/apperrors"
	"github.com/jogardn/food-delivery/internal/auth"
	"github.com/jogardn/food-delivery/internal/circuitbreaker"
	"github.com/jogardn/food-delivery/internal/coupon"
	"github.com/jogardn/food-delivery/internal/idempotency"
	"github.com/jogardn/food-delivery/internal/inventory"
	"github.com/jogardn/food-delivery/internal/notify"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const idempotencyHeader = "Idempotency-Key"

type Handler struct {
	manager  *Manager
	guard    idempotency.Guard
	breakers *circuitbreaker.Manager
	metrics  *notify.Metrics
	logger   *logrus.Logger
}

// NewHandler serves the manager over HTTP. guard may be nil, in which case
// Idempotency-Key headers are ignored.
func NewHandler(manager *Manager, guard idempotency.Guard, logger *logrus.Logger) *Handler {
	return &Handler{
		manager: manager,
		guard:   guard,
		logger:  logger,
	}
}

// SetMetricsSources exposes breaker and notification counters on /metrics.
func (h *Handler) SetMetricsSources(breakers *circuitbreaker.Manager, metrics *notify.Metrics) {
	h.breakers = breakers
	h.metrics = metrics
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Debug("Failed to decode order request")
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	claimed := false
	if key != "" && h.guard != nil {
		key = fmt.Sprintf("%d:%s", id.UserID, key)
		ok, err := h.guard.Claim(r.Context(), key)
		if err != nil {
			h.handleError(w, r, apperrors.Internal(err, "failed to claim idempotency key"))
			return
		}
		if !ok {
			respondWithError(w, http.StatusConflict, "a request with this Idempotency-Key was already received")
			return
		}
		claimed = true
	}

	summary, err := h.manager.Create(r.Context(), id.UserID, req)
	if err != nil {
		if claimed {
			if releaseErr := h.guard.Release(context.WithoutCancel(r.Context()), key); releaseErr != nil {
				h.logger.WithError(releaseErr).Warn("Failed to release idempotency key")
			}
		}
		h.handleError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, summary)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := auth.FromContext(r.Context())

	order, err := h.manager.GetOrder(r.Context(), orderID, id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	orders, err := h.manager.ListCustomerOrders(r.Context(), id.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	orders, err := h.manager.ListAvailable(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

// transition adapts a manager operation that acts on one order for the
// calling user.
func (h *Handler) transition(op func(ctx context.Context, orderID int64, by auth.Identity) (*models.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, ok := h.pathID(w, r, "id")
		if !ok {
			return
		}
		id, _ := auth.FromContext(r.Context())

		order, err := op(r.Context(), orderID, id)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, order)
	}
}

func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(func(ctx context.Context, orderID int64, by auth.Identity) (*models.Order, error) {
		return h.manager.Accept(ctx, orderID, by.UserID)
	})(w, r)
}

func (h *Handler) CourierCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(func(ctx context.Context, orderID int64, by auth.Identity) (*models.Order, error) {
		return h.manager.CourierCancel(ctx, orderID, by.UserID)
	})(w, r)
}

func (h *Handler) CustomerCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(func(ctx context.Context, orderID int64, by auth.Identity) (*models.Order, error) {
		return h.manager.CustomerCancel(ctx, orderID, by.UserID)
	})(w, r)
}

func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	h.transition(h.manager.MarkDelivered)(w, r)
}

func (h *Handler) ConfirmCash(w http.ResponseWriter, r *http.Request) {
	h.transition(h.manager.ConfirmCash)(w, r)
}

func (h *Handler) ConfirmCardPayment(w http.ResponseWriter, r *http.Request) {
	h.transition(h.manager.ConfirmCardPayment)(w, r)
}

func (h *Handler) ReportProblem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.transition(func(ctx context.Context, orderID int64, by auth.Identity) (*models.Order, error) {
		return h.manager.ReportProblem(ctx, orderID, by.UserID, body.Detail)
	})(w, r)
}

func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := auth.FromContext(r.Context())

	intent, err := h.manager.CreatePaymentIntent(r.Context(), orderID, id.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, intent)
}

func (h *Handler) CheckCoupon(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "amount must be a decimal number")
		return
	}

	check, err := h.manager.CheckCoupon(r.Context(), mux.Vars(r)["code"], id.UserID, amount)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, check)
}

func (h *Handler) SetPreparationState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State models.OrderState `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.transition(func(ctx context.Context, orderID int64, _ auth.Identity) (*models.Order, error) {
		return h.manager.SetPreparationState(ctx, orderID, body.State)
	})(w, r)
}

type couponRequest struct {
	Code          string              `json:"code"`
	Kind          models.DiscountKind `json:"kind"`
	Value         decimal.Decimal     `json:"value"`
	StartDate     models.Date         `json:"start_date"`
	EndDate       models.Date         `json:"end_date"`
	RemainingUses *int                `json:"remaining_uses,omitempty"`
	PerUserCap    *int                `json:"per_user_cap,omitempty"`
	MinPurchase   *decimal.Decimal    `json:"min_purchase,omitempty"`
}

func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := h.manager.CreateCoupon(r.Context(), id.UserID, coupon.NewCoupon(req))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.manager.ListCoupons(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"coupons": coupons,
		"count":   len(coupons),
	})
}

func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Active == nil {
		respondWithError(w, http.StatusBadRequest, "active flag is required")
		return
	}

	c, err := h.manager.SetCouponActive(r.Context(), mux.Vars(r)["code"], *body.Active)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req inventory.NewProduct
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p, err := h.manager.CreateProduct(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, p)
}

func (h *Handler) ListSuspensions(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	suspensions, err := h.manager.ListSuspensions(r.Context(), customerID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"suspensions": suspensions,
		"count":       len(suspensions),
	})
}

func (h *Handler) ReactivatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	admin, _ := auth.FromContext(r.Context())
	method := models.PaymentMethod(mux.Vars(r)["method"])

	suspension, err := h.manager.ReactivatePaymentMethod(r.Context(), customerID, method, admin.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, suspension)
}

func (h *Handler) EraseCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	admin, _ := auth.FromContext(r.Context())

	if err := h.manager.EraseCustomer(r.Context(), customerID, admin.UserID); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.manager.store.Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("Health check failed")
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "order-service",
			"error":   "database connection failed",
		})
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "order-service",
	})
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"circuit_breakers": []circuitbreaker.Metrics{},
		"notifications":    []notify.ChannelMetrics{},
	}
	if h.breakers != nil {
		payload["circuit_breakers"] = h.breakers.AllMetrics()
	}
	if h.metrics != nil {
		payload["notifications"] = h.metrics.Snapshot()
	}
	respondWithJSON(w, http.StatusOK, payload)
}

// ResetCircuitBreaker closes the breaker named in the path, or every breaker
// when the name is "all".
func (h *Handler) ResetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if h.breakers == nil {
		respondWithError(w, http.StatusNotFound, "no circuit breakers registered")
		return
	}

	name := mux.Vars(r)["name"]
	if name == "all" {
		respondWithJSON(w, http.StatusOK, map[string]int{"reset": h.breakers.ResetAll()})
		return
	}
	if !h.breakers.Reset(name) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("circuit breaker %s not found", name))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"reset": 1})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// handleError maps domain errors onto status codes. Internal details are
// logged and never written to the response.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperrors.KindOf(err)
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"kind":   kind.String(),
	})
	if kind == apperrors.KindInternal {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	respondWithError(w, apperrors.HTTPStatus(kind), apperrors.PublicMessage(err))
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
