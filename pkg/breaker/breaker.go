// Package breaker guards an upstream dependency (one per LLM provider) and
// fails fast while it is known to be unhealthy.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zhaopengme/toolclaw/pkg/clock"
	"github.com/zhaopengme/toolclaw/pkg/logger"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrCircuitOpen is returned without invoking the operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError reports which breaker rejected the call and how long until it
// will admit a probe.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q open, retry after %s", e.Name, e.RetryAfter.Round(time.Second))
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

type Options struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	// MonitoringPeriod only affects Stats.RecentFailures.
	MonitoringPeriod time.Duration
}

func DefaultOptions() Options {
	return Options{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		MonitoringPeriod: 120 * time.Second,
	}
}

type Stats struct {
	Name                string
	State               State
	ConsecutiveFailures int
	RecentFailures      int
	OpenedAt            time.Time
	LastFailure         time.Time
}

type CircuitBreaker struct {
	name  string
	opts  Options
	clock clock.Clock

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
	failureTimes        []time.Time
}

func New(name string, opts Options, clk clock.Clock) *CircuitBreaker {
	def := DefaultOptions()
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = def.ResetTimeout
	}
	if opts.MonitoringPeriod <= 0 {
		opts.MonitoringPeriod = def.MonitoringPeriod
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &CircuitBreaker{name: name, opts: opts, clock: clk}
}

func (b *CircuitBreaker) Name() string { return b.name }

// State reports the current state. An Open breaker whose reset timeout has
// elapsed still reports Open until a call arrives to probe it.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	recent := 0
	var last time.Time
	for _, t := range b.failureTimes {
		if now.Sub(t) <= b.opts.MonitoringPeriod {
			recent++
		}
		last = t
	}
	return Stats{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		RecentFailures:      recent,
		OpenedAt:            b.openedAt,
		LastFailure:         last,
	}
}

// Ignore marks err as not caused by the guarded dependency, such as the
// caller giving up. Do returns the underlying error without recording it.
func Ignore(err error) error {
	if err == nil {
		return nil
	}
	return &ignoredError{err: err}
}

type ignoredError struct{ err error }

func (e *ignoredError) Error() string { return e.err.Error() }
func (e *ignoredError) Unwrap() error { return e.err }

// Do runs op unless the breaker rejects it, and records the outcome.
func (b *CircuitBreaker) Do(op func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op()
	var ignored *ignoredError
	if errors.As(err, &ignored) {
		b.release()
		return ignored.err
	}
	b.record(err)
	return err
}

// release frees a half-open probe slot without changing state.
func (b *CircuitBreaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

// Execute is Do for operations that produce a value.
func Execute[T any](b *CircuitBreaker, op func() (T, error)) (T, error) {
	var out T
	err := b.Do(func() error {
		var e error
		out, e = op()
		return e
	})
	return out, err
}

func (b *CircuitBreaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		elapsed := b.clock.Now().Sub(b.openedAt)
		if elapsed < b.opts.ResetTimeout {
			return &OpenError{Name: b.name, RetryAfter: b.opts.ResetTimeout - elapsed}
		}
		b.state = HalfOpen
		b.probeInFlight = true
		logger.InfoCF("breaker", "Circuit half-open, admitting probe", map[string]interface{}{
			"breaker": b.name,
		})
		return nil
	default:
		// only one probe at a time
		if b.probeInFlight {
			return &OpenError{Name: b.name}
		}
		b.probeInFlight = true
		return nil
	}
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if err == nil {
		if b.state != Closed {
			logger.InfoCF("breaker", "Circuit closed", map[string]interface{}{
				"breaker": b.name,
			})
		}
		b.state = Closed
		b.consecutiveFailures = 0
		b.probeInFlight = false
		return
	}

	b.consecutiveFailures++
	b.failureTimes = append(b.failureTimes, now)
	b.pruneFailures(now)

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = now
		b.probeInFlight = false
		logger.WarnCF("breaker", "Probe failed, circuit re-opened", map[string]interface{}{
			"breaker": b.name,
			"error":   err.Error(),
		})
	case Closed:
		if b.consecutiveFailures >= b.opts.FailureThreshold {
			b.state = Open
			b.openedAt = now
			logger.WarnCF("breaker", "Circuit opened", map[string]interface{}{
				"breaker":  b.name,
				"failures": b.consecutiveFailures,
				"error":    err.Error(),
			})
		}
	}
}

func (b *CircuitBreaker) pruneFailures(now time.Time) {
	i := 0
	for i < len(b.failureTimes) && now.Sub(b.failureTimes[i]) > b.opts.MonitoringPeriod {
		i++
	}
	b.failureTimes = b.failureTimes[i:]
}

// Reset forces the breaker back to Closed.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.probeInFlight = false
	b.openedAt = time.Time{}
}
