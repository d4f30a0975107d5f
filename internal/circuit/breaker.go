// Package circuit implements the Closed/Open/HalfOpen circuit breaker used
// by the sandboxed tool executor to stop hammering a consistently failing
// tool. Adapted from internal/infra/circuit.go: the state
// machine and ExecuteWithResult helper are unchanged, but the defaults are
// tightened to three consecutive failures and a single half-open probe, and
// the package drops the upstream process-wide DefaultCircuitBreakerRegistry
// singleton since each driver owns its own executor and therefore its own
// breaker population.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of Closed, Open, or HalfOpen.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// ErrOpen is returned by Execute when the breaker is open and the recovery
// timeout has not yet elapsed.
var ErrOpen = errors.New("circuit breaker is open")

// Config configures a Breaker.
type Config struct {
	// Name identifies this breaker in Stats and OnStateChange.
	Name string

	// FailureThreshold is the number of consecutive failures in Closed
	// state before the breaker opens. Default 3.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in
	// HalfOpen state before the breaker closes. Default 1.
	SuccessThreshold int

	// Timeout is how long the breaker stays open before allowing a
	// single half-open probe. Default 30s.
	Timeout time.Duration

	// OnStateChange, if set, is invoked asynchronously on every
	// transition.
	OnStateChange func(from, to State)
}

// Breaker is a single circuit breaker instance.
type Breaker struct {
	config Config

	mu              sync.RWMutex
	state           State
	failures        int
	successes       int
	lastFailure     time.Time
	lastStateChange time.Time
}

// New creates a Breaker, filling in spec defaults for unset fields.
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Breaker{
		config:          config,
		state:           Closed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn under breaker protection, short-circuiting with ErrOpen
// when the breaker is open.
func (cb *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.canExecute(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.recordResult(err)
	return err
}

// ExecuteWithResult runs a value-returning fn under breaker protection.
func ExecuteWithResult[T any](cb *Breaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.canExecute(); err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	cb.recordResult(err)
	return result, err
}

func (cb *Breaker) canExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed, HalfOpen:
		return nil

	case Open:
		if time.Since(cb.lastStateChange) >= cb.config.Timeout {
			cb.transitionTo(HalfOpen)
			return nil
		}
		return ErrOpen

	default:
		return nil
	}
}

func (cb *Breaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *Breaker) recordFailure() {
	cb.failures++
	cb.successes = 0
	cb.lastFailure = time.Now()

	switch cb.state {
	case Closed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(Open)
		}
	case HalfOpen:
		cb.transitionTo(Open)
	}
}

func (cb *Breaker) recordSuccess() {
	switch cb.state {
	case Closed:
		cb.failures = 0
	case HalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(Closed)
		}
	}
}

func (cb *Breaker) transitionTo(newState State) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()
	cb.failures = 0
	cb.successes = 0

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(oldState, newState)
	}
}

// State returns the breaker's current state.
func (cb *Breaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Snapshot returns a point-in-time view of the breaker, shaped to match
// orch.CircuitBreakerSnapshot for emission over the event bus.
func (cb *Breaker) Snapshot() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		Name:            cb.config.Name,
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		LastFailure:     cb.lastFailure,
		LastStateChange: cb.lastStateChange,
	}
}

// RetryAfter returns the instant at which an Open breaker will next allow a
// half-open probe. Zero if the breaker is not Open.
func (cb *Breaker) RetryAfter() time.Time {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.state != Open {
		return time.Time{}
	}
	return cb.lastStateChange.Add(cb.config.Timeout)
}

// Reset forces the breaker back to Closed, clearing counters.
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = Closed
	cb.failures = 0
	cb.successes = 0
	cb.lastStateChange = time.Now()
}

// Stats is a point-in-time snapshot of a Breaker.
type Stats struct {
	Name            string
	State           State
	Failures        int
	Successes       int
	LastFailure     time.Time
	LastStateChange time.Time
}

// Registry manages the population of breakers for a single executor
// instance, one per tool name.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
}

// NewRegistry creates a Registry. defaults is applied to every breaker
// created via Get.
func NewRegistry(defaults Config) *Registry {
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = 3
	}
	if defaults.SuccessThreshold <= 0 {
		defaults.SuccessThreshold = 1
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = 30 * time.Second
	}

	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// Get returns the named breaker, creating it with the registry defaults on
// first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	config.Name = name
	cb = New(config)
	r.breakers[name] = cb
	return cb
}

// GetWithConfig returns the named breaker, creating it with a custom config
// on first use. An existing breaker for the name is returned unchanged.
func (r *Registry) GetWithConfig(name string, config Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config.Name = name
	cb := New(config)
	r.breakers[name] = cb
	return cb
}

// Stats returns a snapshot of every breaker in the registry.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Snapshot())
	}
	return stats
}

// OpenNames returns the names of every breaker currently Open.
func (r *Registry) OpenNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var open []string
	for name, cb := range r.breakers {
		if cb.State() == Open {
			open = append(open, name)
		}
	}
	return open
}

// ResetAll forces every breaker in the registry back to Closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
