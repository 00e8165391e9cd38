package resilience

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		Name:                 "test",
		FailureRateThreshold: 0.5,
		MinCalls:             100, // high enough that the breaker stays closed
		OpenDuration:         time.Minute,
		HalfOpenCalls:        1,
		SlowCallThreshold:    time.Second,
		MaxAttempts:          3,
		BackoffBase:          time.Millisecond,
		BackoffFactor:        1,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	exec := NewExecutor(discard(), testPolicy())

	calls := 0
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestExecuteExhaustionRunsFallbackWithCause(t *testing.T) {
	exec := NewExecutor(discard(), testPolicy())

	boom := errors.New("downstream down")
	calls := 0
	var got error
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, func(_ context.Context, cause error) error {
		got = cause
		return nil
	})
	require.NoError(t, err, "a completed fallback acknowledges the message")
	require.Equal(t, 3, calls)
	require.ErrorIs(t, got, boom)
}

func TestExecuteFallbackErrorPropagates(t *testing.T) {
	exec := NewExecutor(discard(), testPolicy())

	fbErr := errors.New("fallback could not persist")
	err := exec.Execute(context.Background(), func(context.Context) error {
		return errors.New("transient")
	}, func(context.Context, error) error {
		return fbErr
	})
	require.ErrorIs(t, err, fbErr)
}

func TestExecuteWithoutFallbackReturnsCause(t *testing.T) {
	exec := NewExecutor(discard(), testPolicy())

	boom := errors.New("transient")
	err := exec.Execute(context.Background(), func(context.Context) error { return boom }, nil)
	require.ErrorIs(t, err, boom)
}

func TestExecuteInvalidInputSkipsRetryAndFallback(t *testing.T) {
	exec := NewExecutor(discard(), testPolicy())

	calls := 0
	fallbackRan := false
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return InvalidInput(errors.New("malformed payload"))
	}, func(context.Context, error) error {
		fallbackRan = true
		return nil
	})
	require.Error(t, err)
	require.True(t, IsInvalidInput(err))
	require.Equal(t, 1, calls)
	require.False(t, fallbackRan, "invalid input must bypass the fallback and dead-letter instead")
}

func TestOpenBreakerRoutesToFallback(t *testing.T) {
	pol := testPolicy()
	pol.MinCalls = 2
	pol.MaxAttempts = 1
	exec := NewExecutor(discard(), pol)

	boom := errors.New("downstream down")
	fail := func(context.Context) error { return boom }

	// Two straight failures reach MinCalls at a 100% failure rate.
	require.Error(t, exec.Execute(context.Background(), fail, nil))
	require.Error(t, exec.Execute(context.Background(), fail, nil))

	calls := 0
	var got error
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	}, func(_ context.Context, cause error) error {
		got = cause
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, calls, "an open breaker must not invoke the operation")
	require.ErrorIs(t, got, gobreaker.ErrOpenState)
}

func TestSlowCallsCountAsBreakerFailures(t *testing.T) {
	pol := testPolicy()
	pol.MinCalls = 2
	pol.MaxAttempts = 1
	pol.SlowCallThreshold = time.Millisecond
	exec := NewExecutor(discard(), pol)

	slow := func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	// Slow successes still succeed from the caller's point of view.
	require.NoError(t, exec.Execute(context.Background(), slow, nil))
	require.NoError(t, exec.Execute(context.Background(), slow, nil))

	// But they trip the breaker like failures do.
	var got error
	err := exec.Execute(context.Background(), func(context.Context) error { return nil },
		func(_ context.Context, cause error) error {
			got = cause
			return nil
		})
	require.NoError(t, err)
	require.ErrorIs(t, got, gobreaker.ErrOpenState)
}

func TestInvalidInputExcludedFromBreakerStats(t *testing.T) {
	pol := testPolicy()
	pol.MinCalls = 2
	pol.MaxAttempts = 1
	exec := NewExecutor(discard(), pol)

	bad := func(context.Context) error { return InvalidInput(errors.New("bad event")) }
	for i := 0; i < 5; i++ {
		require.Error(t, exec.Execute(context.Background(), bad, nil))
	}

	// The breaker must still be closed: invalid input is not a dependency
	// failure.
	calls := 0
	require.NoError(t, exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	}, nil))
	require.Equal(t, 1, calls)
}
