package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager is the registry of the breakers guarding one process's outbound
// dependencies (payment gateway, notification providers). Breakers are
// looked up by name so operators can inspect and reset them over HTTP.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	logger   *logrus.Logger
}

func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// GetOrCreate returns the breaker registered under name, creating it from
// config on first use. Later calls ignore config.
func (m *Manager) GetOrCreate(name string, config Config) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, ok := m.breakers[name]; ok {
		return breaker
	}

	config.Name = name
	breaker := New(config, m.logger)
	m.breakers[name] = breaker

	m.logger.WithFields(logrus.Fields{
		"circuit_breaker": name,
		"max_failures":    breaker.maxFailures,
		"timeout":         breaker.timeout.String(),
	}).Info("Circuit breaker registered")
	return breaker
}

func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name]
}

// sorted returns the registered breakers ordered by name. Callers work on
// the copy without holding the registry lock.
func (m *Manager) sorted() []*CircuitBreaker {
	m.mu.RLock()
	out := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		out = append(out, breaker)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// AllMetrics returns a snapshot of every breaker, sorted by name.
func (m *Manager) AllMetrics() []Metrics {
	breakers := m.sorted()
	metrics := make([]Metrics, 0, len(breakers))
	for _, breaker := range breakers {
		metrics = append(metrics, breaker.Metrics())
	}
	return metrics
}

// ResetAll closes every breaker and reports how many there were.
func (m *Manager) ResetAll() int {
	breakers := m.sorted()
	for _, breaker := range breakers {
		breaker.Reset()
	}
	m.logger.WithField("count", len(breakers)).Info("All circuit breakers reset")
	return len(breakers)
}

// Reset closes the named breaker. It reports false for unknown names.
func (m *Manager) Reset(name string) bool {
	breaker := m.Get(name)
	if breaker == nil {
		return false
	}
	breaker.Reset()
	m.logger.WithField("circuit_breaker", name).Info("Circuit breaker reset")
	return true
}
