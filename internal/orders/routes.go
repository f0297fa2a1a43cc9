package orders

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jogardn/food-delivery/internal/auth"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/sirupsen/logrus"
)

// NewRouter mounts the handler behind token verification. limiter and
// liveFeed are optional.
func NewRouter(h *Handler, verifier *auth.Verifier, limiter *RateLimiter, liveFeed http.HandlerFunc, logger *logrus.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/metrics", h.Metrics).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(verifier.Middleware)
	if limiter != nil {
		api.Use(limiter.Middleware)
	}

	only := func(handler http.HandlerFunc, roles ...models.Role) http.Handler {
		return auth.RequireRole(roles...)(handler)
	}
	customer := models.RoleCustomer
	courier := models.RoleCourier
	admin := models.RoleAdmin

	api.Handle("/orders", only(h.CreateOrder, customer)).Methods(http.MethodPost)
	api.Handle("/orders", only(h.ListOrders, customer)).Methods(http.MethodGet)
	api.Handle("/orders/available", only(h.ListAvailable, courier, admin)).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}", h.GetOrder).Methods(http.MethodGet)
	api.Handle("/orders/{id:[0-9]+}/accept", only(h.AcceptOrder, courier)).Methods(http.MethodPost)
	api.Handle("/orders/{id:[0-9]+}/courier-cancel", only(h.CourierCancel, courier)).Methods(http.MethodPost)
	api.Handle("/orders/{id:[0-9]+}/cancel", only(h.CustomerCancel, customer)).Methods(http.MethodPost)
	api.Handle("/orders/{id:[0-9]+}/deliver", only(h.MarkDelivered, courier, admin)).Methods(http.MethodPost)
	api.Handle("/orders/{id:[0-9]+}/problem", only(h.ReportProblem, courier)).Methods(http.MethodPost)
	api.Handle("/orders/{id:[0-9]+}/cash-confirmation", only(h.ConfirmCash, customer, courier)).Methods(http.MethodPost)
	api.Handle("/orders/{id:[0-9]+}/payment-intent", only(h.CreatePaymentIntent, customer)).Methods(http.MethodPost)
	api.Handle("/orders/{id:[0-9]+}/payment-confirmation", only(h.ConfirmCardPayment, customer, admin)).Methods(http.MethodPost)
	api.Handle("/coupons/{code}/check", only(h.CheckCoupon, customer)).Methods(http.MethodGet)

	api.Handle("/admin/orders/{id:[0-9]+}/preparation", only(h.SetPreparationState, admin)).Methods(http.MethodPost)
	api.Handle("/admin/coupons", only(h.CreateCoupon, admin)).Methods(http.MethodPost)
	api.Handle("/admin/coupons", only(h.ListCoupons, admin)).Methods(http.MethodGet)
	api.Handle("/admin/coupons/{code}", only(h.UpdateCoupon, admin)).Methods(http.MethodPatch)
	api.Handle("/admin/products", only(h.CreateProduct, admin)).Methods(http.MethodPost)
	api.Handle("/admin/customers/{id:[0-9]+}/suspensions", only(h.ListSuspensions, admin)).Methods(http.MethodGet)
	api.Handle("/admin/customers/{id:[0-9]+}/suspensions/{method}/reactivate", only(h.ReactivatePaymentMethod, admin)).Methods(http.MethodPost)
	api.Handle("/admin/customers/{id:[0-9]+}", only(h.EraseCustomer, admin)).Methods(http.MethodDelete)
	api.Handle("/admin/circuit-breakers/{name}/reset", only(h.ResetCircuitBreaker, admin)).Methods(http.MethodPost)

	if liveFeed != nil {
		api.HandleFunc("/ws", liveFeed).Methods(http.MethodGet)
	}
	// CORS wraps the router so preflight requests never reach route matching.
	return corsMiddleware()(router)
}
