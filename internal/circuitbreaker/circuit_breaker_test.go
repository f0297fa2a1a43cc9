package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var errProvider = errors.New("provider unavailable")

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(config Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	cb := New(config, quietLogger())
	cb.now = clock.Now
	return cb, clock
}

func failing(context.Context) error    { return errProvider }
func succeeding(context.Context) error { return nil }

func TestStateTransitions(t *testing.T) {
	cb, clock := newTestBreaker(Config{
		Name:        "push-provider",
		MaxFailures: 3,
		Timeout:     time.Minute,
		MaxRequests: 1,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errProvider) {
			t.Fatalf("Expected provider error, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed below the failure threshold, got %s", cb.State())
	}

	cb.Execute(ctx, failing)
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after 3 failures, got %s", cb.State())
	}

	calls := 0
	err := cb.Execute(ctx, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitBreakerOpen) || calls != 0 {
		t.Fatalf("Expected open breaker to reject without calling, got err=%v calls=%d", err, calls)
	}

	clock.Advance(time.Minute + time.Second)
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("Expected trial request to pass after timeout, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful trial request, got %s", cb.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Config{
		Name:        "payment-gateway",
		MaxFailures: 1,
		Timeout:     10 * time.Second,
		MaxRequests: 1,
	})
	ctx := context.Background()

	cb.Execute(ctx, failing)
	clock.Advance(11 * time.Second)

	cb.Execute(ctx, failing)
	if cb.State() != StateOpen {
		t.Fatalf("Expected failed trial request to reopen, got %s", cb.State())
	}
	if err := cb.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected rejection right after reopening, got %v", err)
	}
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	cb, clock := newTestBreaker(Config{
		Name:        "whatsapp",
		MaxFailures: 1,
		Timeout:     time.Second,
		MaxRequests: 2,
	})
	ctx := context.Background()

	cb.Execute(ctx, failing)
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.Execute(ctx, func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	if err := cb.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected third trial request to be rejected, got %v", err)
	}

	close(release)
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful trial requests, got %s", cb.State())
	}
}

func TestIgnoredErrorsDoNotTrip(t *testing.T) {
	errRejected := errors.New("card declined")
	cb, _ := newTestBreaker(Config{
		Name:        "payment-gateway",
		MaxFailures: 1,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, errRejected)
		},
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.Execute(ctx, func(context.Context) error { return errRejected })
	}
	if cb.State() != StateClosed {
		t.Fatalf("Expected business rejections to leave breaker closed, got %s", cb.State())
	}

	m := cb.Metrics()
	if m.TotalIgnored != 5 || m.TotalFailures != 0 {
		t.Errorf("Expected 5 ignored and 0 failures, got %d and %d", m.TotalIgnored, m.TotalFailures)
	}
}

func TestCanceledContext(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "push-provider", MaxFailures: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := cb.Execute(ctx, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Fatalf("Expected canceled context to short-circuit, got err=%v calls=%d", err, calls)
	}

	err = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected cancellation not to count as failure, got %s", cb.State())
	}
}

func TestConfigSanitization(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		maxFailures int
		timeout     time.Duration
		maxRequests int
	}{
		{
			name:        "zero_values_get_defaults",
			config:      Config{},
			maxFailures: 5,
			timeout:     30 * time.Second,
			maxRequests: 1,
		},
		{
			name:        "upper_bounds_are_capped",
			config:      Config{Name: "big", MaxFailures: 5000, Timeout: time.Hour, MaxRequests: 500},
			maxFailures: 1000,
			timeout:     10 * time.Minute,
			maxRequests: 100,
		},
		{
			name:        "valid_values_kept",
			config:      Config{Name: "ok", MaxFailures: 7, Timeout: 5 * time.Second, MaxRequests: 3},
			maxFailures: 7,
			timeout:     5 * time.Second,
			maxRequests: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := New(tt.config, quietLogger())
			if cb.maxFailures != tt.maxFailures {
				t.Errorf("Expected MaxFailures %d, got %d", tt.maxFailures, cb.maxFailures)
			}
			if cb.timeout != tt.timeout {
				t.Errorf("Expected Timeout %s, got %s", tt.timeout, cb.timeout)
			}
			if cb.maxRequests != tt.maxRequests {
				t.Errorf("Expected MaxRequests %d, got %d", tt.maxRequests, cb.maxRequests)
			}
		})
	}

	if New(Config{}, quietLogger()).Name() != "unnamed" {
		t.Error("Expected empty name to become 'unnamed'")
	}
}

func TestStateChangeCallback(t *testing.T) {
	changes := make(chan [2]State, 4)
	cb, _ := newTestBreaker(Config{
		Name:        "callback",
		MaxFailures: 1,
		OnStateChange: func(name string, from, to State) {
			changes <- [2]State{from, to}
		},
	})

	cb.Execute(context.Background(), failing)

	select {
	case change := <-changes:
		if change[0] != StateClosed || change[1] != StateOpen {
			t.Errorf("Expected closed -> open, got %s -> %s", change[0], change[1])
		}
	case <-time.After(time.Second):
		t.Fatal("State change callback was not invoked")
	}
}

func TestStateChangeCallbackPanicIsContained(t *testing.T) {
	cb, _ := newTestBreaker(Config{
		Name:        "panicky",
		MaxFailures: 1,
		OnStateChange: func(string, State, State) {
			panic("boom")
		},
	})

	cb.Execute(context.Background(), failing)
	time.Sleep(20 * time.Millisecond)

	if cb.State() != StateOpen {
		t.Errorf("Expected breaker to stay usable after callback panic, got %s", cb.State())
	}
}

func TestResetClearsFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "reset", MaxFailures: 2})
	ctx := context.Background()

	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)
	cb.Reset()

	m := cb.Metrics()
	if m.State != "closed" || m.Failures != 0 || m.LastFailure != nil {
		t.Errorf("Expected clean closed breaker after reset, got %+v", m)
	}
	if m.TotalFailures != 2 {
		t.Errorf("Expected lifetime counters to survive reset, got %d", m.TotalFailures)
	}
}

func TestMetricsAccounting(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "accounting", MaxFailures: 2, Timeout: time.Minute})
	ctx := context.Background()

	cb.Execute(ctx, succeeding)
	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)
	cb.Execute(ctx, succeeding)

	m := cb.Metrics()
	if m.TotalRequests != 3 {
		t.Errorf("Expected 3 attempted requests, got %d", m.TotalRequests)
	}
	if m.TotalSuccesses != 1 || m.TotalFailures != 2 || m.TotalRejected != 1 {
		t.Errorf("Unexpected counters: %+v", m)
	}
	if m.StateChanges != 1 || m.LastStateChange == nil {
		t.Errorf("Expected one recorded state change, got %+v", m)
	}
	if cb.String() != "CircuitBreaker(name=accounting, state=open, failures=2/2)" {
		t.Errorf("Unexpected String(): %s", cb.String())
	}
}
