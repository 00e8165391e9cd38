package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

var breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "saga",
	Name:      "breaker_transitions_total",
	Help:      "Circuit breaker state transitions, by stage and new state.",
}, []string{"stage", "state"})

// errSlowCall marks a call that succeeded but exceeded the slow-call
// threshold. It is recorded as a breaker failure and then swallowed so the
// caller still sees success.
var errSlowCall = errors.New("slow call")

// invalidInputError marks malformed/invalid-input failures. These are data or
// programming errors: retrying them wastes budget and pollutes breaker
// statistics, so the executor excludes them from both.
type invalidInputError struct{ err error }

func (e *invalidInputError) Error() string { return "invalid input: " + e.err.Error() }
func (e *invalidInputError) Unwrap() error { return e.err }

// InvalidInput wraps err so the executor neither retries it nor counts it
// toward the circuit breaker.
func InvalidInput(err error) error {
	if err == nil {
		return nil
	}
	return &invalidInputError{err: err}
}

func IsInvalidInput(err error) bool {
	var ie *invalidInputError
	return errors.As(err, &ie)
}

// Executor wraps a stage's side-effecting call in a circuit breaker and a
// retry policy. One executor per stage, built from the injected policy map.
type Executor struct {
	log     *slog.Logger
	pol     Policy
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(log *slog.Logger, pol Policy) *Executor {
	e := &Executor{log: log, pol: pol}
	e.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        pol.Name,
		MaxRequests: pol.HalfOpenCalls,
		Interval:    time.Minute,
		Timeout:     pol.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < pol.MinCalls {
				return false
			}
			rate := float64(counts.TotalFailures) / float64(counts.Requests)
			return rate >= pol.FailureRateThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsInvalidInput(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "stage", name, "from", from.String(), "to", to.String())
			breakerTransitions.WithLabelValues(name, to.String()).Inc()
		},
	})
	return e
}

// Execute runs op under the stage policy. Transient failures are retried with
// the policy's backoff; when the circuit is open or the retry budget is
// exhausted, control passes to fallback with the causing error; the fallback
// marks the saga failed and emits the failure event, so no event is silently
// dropped. Invalid-input errors bypass retry, breaker accounting and the
// fallback, and are returned for the caller to dead-letter.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error, fallback func(context.Context, error) error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		_, err := e.breaker.Execute(func() (struct{}, error) {
			start := time.Now()
			opErr := op(ctx)
			if opErr == nil && time.Since(start) > e.pol.SlowCallThreshold {
				return struct{}{}, errSlowCall
			}
			return struct{}{}, opErr
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errSlowCall):
			e.log.Warn("slow call recorded", "stage", e.pol.Name)
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(err)
		case IsInvalidInput(err):
			return backoff.Permanent(err)
		default:
			e.log.Warn("stage call failed, may retry", "stage", e.pol.Name, "attempt", attempt, "err", err)
			return err
		}
	}

	err := backoff.Retry(wrapped, e.newBackOff(ctx))
	if err == nil {
		return nil
	}
	if IsInvalidInput(err) {
		return err
	}

	if fallback == nil {
		return err
	}
	e.log.Error("stage exhausted, running fallback", "stage", e.pol.Name, "err", err)
	if fbErr := fallback(ctx, err); fbErr != nil {
		return fbErr
	}
	return nil
}

func (e *Executor) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.pol.BackoffBase
	b.Multiplier = e.pol.BackoffFactor
	b.MaxElapsedTime = 0
	if e.pol.RandomizedBackoff {
		b.RandomizationFactor = 0.5
	} else {
		b.RandomizationFactor = 0
	}
	retries := uint64(0)
	if e.pol.MaxAttempts > 1 {
		retries = uint64(e.pol.MaxAttempts - 1)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}
