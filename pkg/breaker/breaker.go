// Package breaker implements a keyed circuit breaker registry protecting
// calls to flaky collaborators. Each guarded operation key tracks its own
// error rate with lock-free counters; once the rate crosses the threshold
// the circuit opens and calls short-circuit until a cooldown elapses.
// Recovery is lazy: the first call observed after the cooldown closes the
// circuit and restarts the counters. No background timer is involved.
package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for circuit breaker state.
var (
	breakerOpensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_breaker_opens_total",
		Help: "Total number of circuit open transitions by key",
	}, []string{"key"})

	breakerShortCircuitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_breaker_short_circuits_total",
		Help: "Total number of calls rejected while the circuit was open",
	}, []string{"key"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "facility_breaker_state",
		Help: "Current circuit state by key (0 = closed, 1 = open)",
	}, []string{"key"})
)

// ErrCircuitOpen is returned when a guarded call is short-circuited
// without invoking the underlying operation.
var ErrCircuitOpen = errors.New("circuit open")

// Config holds per-key circuit breaker parameters.
type Config struct {
	// ResetTimeout is the cooldown after which an open circuit closes again.
	ResetTimeout time.Duration

	// ErrorRateThreshold opens the circuit once errorCount/totalCount
	// reaches this value (0.0 - 1.0).
	ErrorRateThreshold float64

	// MinSampleSize is the minimum number of observed calls before the
	// error rate is evaluated at all. Sub-threshold totals never open the
	// circuit regardless of error rate.
	MinSampleSize int64
}

// DefaultConfig returns the default breaker parameters: 20% error rate over
// at least 10 calls, 60s cooldown.
func DefaultConfig() Config {
	return Config{
		ResetTimeout:       60 * time.Second,
		ErrorRateThreshold: 0.20,
		MinSampleSize:      10,
	}
}

// state holds the mutable counters for one guarded operation key.
// openedAt is the open timestamp in unix nanoseconds, 0 while closed.
type state struct {
	total    atomic.Int64
	errors   atomic.Int64
	openedAt atomic.Int64
	cfg      Config
}

// Registry owns the circuit state for all guarded operation keys.
// Entries are created lazily per key and live for the process lifetime.
type Registry struct {
	mu        sync.RWMutex
	states    map[string]*state
	overrides map[string]Config
	defaults  Config
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRegistry creates a registry with the given default parameters.
func NewRegistry(defaults Config) *Registry {
	if defaults.ResetTimeout <= 0 {
		defaults.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if defaults.ErrorRateThreshold <= 0 {
		defaults.ErrorRateThreshold = DefaultConfig().ErrorRateThreshold
	}
	if defaults.MinSampleSize <= 0 {
		defaults.MinSampleSize = DefaultConfig().MinSampleSize
	}
	return &Registry{
		states:    make(map[string]*state),
		overrides: make(map[string]Config),
		defaults:  defaults,
		logger:    log.With().Str("component", "breaker").Logger(),
		now:       time.Now,
	}
}

// Configure sets per-key parameters, overriding the registry defaults.
// Must be called before the first Do for the key takes effect predictably.
func (r *Registry) Configure(key string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = r.defaults.ResetTimeout
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = r.defaults.ErrorRateThreshold
	}
	if cfg.MinSampleSize <= 0 {
		cfg.MinSampleSize = r.defaults.MinSampleSize
	}
	r.overrides[key] = cfg
	delete(r.states, key)
}

// stateFor returns the state for a key, creating it lazily.
func (r *Registry) stateFor(key string) *state {
	r.mu.RLock()
	s, ok := r.states[key]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.states[key]; ok {
		return s
	}
	cfg := r.defaults
	if override, ok := r.overrides[key]; ok {
		cfg = override
	}
	s = &state{cfg: cfg}
	r.states[key] = s
	return s
}

// Do executes op guarded by the circuit for key. While the circuit is open
// and the cooldown has not elapsed, op is not invoked and ErrCircuitOpen is
// returned. Otherwise op runs and its outcome feeds the error rate.
func (r *Registry) Do(key string, op func() error) error {
	s := r.stateFor(key)

	if openedAt := s.openedAt.Load(); openedAt != 0 {
		if r.now().UnixNano()-openedAt < int64(s.cfg.ResetTimeout) {
			breakerShortCircuitsTotal.WithLabelValues(key).Inc()
			return ErrCircuitOpen
		}
		// Cooldown elapsed: exactly one caller wins the flip and resets
		// the counters, everyone else proceeds as closed.
		if s.openedAt.CompareAndSwap(openedAt, 0) {
			s.total.Store(0)
			s.errors.Store(0)
			breakerState.WithLabelValues(key).Set(0)
			r.logger.Info().
				Str("key", key).
				Msg("Circuit closed after cooldown")
		}
	}

	err := op()

	total := s.total.Add(1)
	if err == nil {
		return nil
	}

	errCount := s.errors.Add(1)
	if total >= s.cfg.MinSampleSize &&
		float64(errCount)/float64(total) >= s.cfg.ErrorRateThreshold {
		if s.openedAt.CompareAndSwap(0, r.now().UnixNano()) {
			breakerOpensTotal.WithLabelValues(key).Inc()
			breakerState.WithLabelValues(key).Set(1)
			r.logger.Warn().
				Str("key", key).
				Int64("total", total).
				Int64("errors", errCount).
				Msg("Circuit opened")
		}
	}

	return err
}

// Snapshot reports the observed counters and open status for a key.
// Intended for tests and diagnostics.
func (r *Registry) Snapshot(key string) (total, errCount int64, open bool) {
	s := r.stateFor(key)
	return s.total.Load(), s.errors.Load(), s.openedAt.Load() != 0
}
