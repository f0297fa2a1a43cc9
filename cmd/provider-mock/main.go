// Command provider-mock stands in for the push, WhatsApp and card payment
// providers during local development.
package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jogardn/food-delivery/internal/payment"
	"github.com/sirupsen/logrus"
)

type intent struct {
	payment.Intent
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

type providers struct {
	mu          sync.RWMutex
	intents     map[string]*intent
	pushes      int
	messages    int
	autoConfirm bool
	failRate    float64
	delay       time.Duration
	logger      *logrus.Logger
}

func newProviders(autoConfirm bool, failRate float64, delay time.Duration, logger *logrus.Logger) *providers {
	return &providers{
		intents:     make(map[string]*intent),
		autoConfirm: autoConfirm,
		failRate:    failRate,
		delay:       delay,
		logger:      logger,
	}
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	failRate, _ := strconv.ParseFloat(getEnv("PROVIDER_MOCK_FAIL_RATE", "0"), 64)
	delay, err := time.ParseDuration(getEnv("PROVIDER_MOCK_DELAY", "200ms"))
	if err != nil {
		logger.WithError(err).Fatal("Invalid PROVIDER_MOCK_DELAY")
	}
	p := newProviders(getEnv("PROVIDER_MOCK_AUTO_CONFIRM", "true") == "true", failRate, delay, logger)

	port := getEnv("PROVIDER_MOCK_PORT", "8090")
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: p.routes(),
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":      port,
			"fail_rate": failRate,
		}).Info("Starting provider mock server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down provider mock server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server forced to shutdown")
	}
	logger.Info("Provider mock server gracefully stopped")
}

func (p *providers) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", p.healthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(p.simulate)
	api.HandleFunc("/notifications", p.push).Methods(http.MethodPost)
	api.HandleFunc("/messages", p.message).Methods(http.MethodPost)
	api.HandleFunc("/payment_intents", p.createIntent).Methods(http.MethodPost)
	api.HandleFunc("/payment_intents/{id}", p.getIntent).Methods(http.MethodGet)
	api.HandleFunc("/payment_intents/{id}/status", p.setIntentStatus).Methods(http.MethodPost)
	return router
}

// simulate adds the configured latency and answers a share of requests
// with 503.
func (p *providers) simulate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.delay > 0 {
			time.Sleep(p.delay)
		}
		if p.failRate > 0 && rand.Float64() < p.failRate {
			p.logger.WithField("path", r.URL.Path).Warn("Simulating provider outage")
			respondWithError(w, http.StatusServiceUnavailable, "provider unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *providers) healthCheck(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"service":  "provider-mock",
		"pushes":   p.pushes,
		"messages": p.messages,
		"intents":  len(p.intents),
	})
}

func (p *providers) push(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExternalUserIDs []string `json:"external_user_ids"`
		Title           string   `json:"title"`
		Body            string   `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.ExternalUserIDs) == 0 {
		respondWithError(w, http.StatusBadRequest, "invalid notification")
		return
	}

	p.mu.Lock()
	p.pushes++
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"recipients": body.ExternalUserIDs,
		"title":      body.Title,
	}).Info("Push notification accepted")
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"id":         uuid.NewString(),
		"recipients": len(body.ExternalUserIDs),
	})
}

func (p *providers) message(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To   string `json:"to"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.To) == "" {
		respondWithError(w, http.StatusBadRequest, "invalid message")
		return
	}

	p.mu.Lock()
	p.messages++
	p.mu.Unlock()

	p.logger.WithField("to", body.To).Info("Direct message accepted")
	respondWithJSON(w, http.StatusOK, map[string]string{"id": "wamid." + uuid.NewString()})
}

func (p *providers) createIntent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Amount <= 0 {
		respondWithError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	in := &intent{
		Intent: payment.Intent{
			ID:           id,
			ClientSecret: id + "_secret_" + uuid.NewString()[:8],
			Status:       payment.StatusRequiresConfirmation,
		},
		Amount:      body.Amount,
		Currency:    body.Currency,
		Description: body.Description,
	}
	if p.autoConfirm {
		in.Status = payment.StatusSucceeded
	}

	p.mu.Lock()
	p.intents[id] = in
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"intent_id": id,
		"amount":    body.Amount,
		"currency":  body.Currency,
	}).Info("Payment intent created")
	respondWithJSON(w, http.StatusOK, in)
}

func (p *providers) getIntent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	p.mu.RLock()
	in, ok := p.intents[id]
	var snapshot intent
	if ok {
		snapshot = *in
	}
	p.mu.RUnlock()

	if !ok {
		respondWithError(w, http.StatusNotFound, "no such payment intent")
		return
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

// setIntentStatus lets a developer decline or approve an intent by hand.
func (p *providers) setIntentStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status payment.IntentStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		respondWithError(w, http.StatusBadRequest, "status is required")
		return
	}

	p.mu.Lock()
	in, ok := p.intents[mux.Vars(r)["id"]]
	if ok {
		in.Status = body.Status
	}
	p.mu.Unlock()

	if !ok {
		respondWithError(w, http.StatusNotFound, "no such payment intent")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": string(body.Status)})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// respondWithError uses the error envelope the payment client decodes.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]interface{}{
		"error": map[string]string{"message": message},
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
