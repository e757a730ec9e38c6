package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/3leaps/flowstatus/pkg/statusdb"
)

// BreakerConfig configures the store circuit breaker.
type BreakerConfig struct {
	// Failures is the number of consecutive store failures that opens the
	// breaker.
	Failures uint32

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// newBreaker returns a breaker that trips after consecutive store failures.
// Not-found and revision conflicts are normal outcomes and do not count.
func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	failures := cfg.Failures
	if failures == 0 {
		failures = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || statusdb.IsNotFound(err) || statusdb.IsConflict(err)
		},
	})
}

// guarded runs fn through the breaker. An open breaker surfaces as
// statusdb.ErrUnavailable.
func guarded[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", statusdb.ErrUnavailable, err)
		}
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	return out.(T), nil
}
