package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

func TestExponential_Delay(t *testing.T) {
	p := Exponential{Attempts: 6, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponential_ShouldRetry(t *testing.T) {
	p := Exponential{Attempts: 3}
	err := errors.New("boom")

	assert.True(t, p.ShouldRetry(1, err))
	assert.True(t, p.ShouldRetry(2, err))
	assert.False(t, p.ShouldRetry(3, err))
	assert.False(t, p.ShouldRetry(1, nil))
	assert.False(t, p.ShouldRetry(1, &domain.CircuitOpenError{}))

	p.Retryable = domain.IsNetworkError
	assert.False(t, p.ShouldRetry(1, err))
	assert.True(t, p.ShouldRetry(1, domain.NewNetworkError("reset", nil)))
}

func TestExponential_MaxAttemptsFloor(t *testing.T) {
	assert.Equal(t, 1, Exponential{}.MaxAttempts())
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	p := Exponential{Attempts: 3, InitialDelay: time.Millisecond, Factor: 2}
	var attempts []int

	err := Do(context.Background(), p, func(_ context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestDo_ReturnsLastError(t *testing.T) {
	p := Exponential{Attempts: 3, InitialDelay: time.Millisecond}
	calls := 0

	err := Do(context.Background(), p, func(_ context.Context, attempt int) error {
		calls++
		return errors.New("attempt " + string(rune('0'+attempt)))
	})

	assert.EqualError(t, err, "attempt 3")
	assert.Equal(t, 3, calls)
}

func TestDo_NoRetryRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), NoRetry{}, func(context.Context, int) error {
		calls++
		return errors.New("boom")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	_ = Do(context.Background(), nil, func(context.Context, int) error {
		calls++
		return errors.New("boom")
	})
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	p := Exponential{Attempts: 5, InitialDelay: time.Millisecond}
	calls := 0

	err := Do(context.Background(), p, func(context.Context, int) error {
		calls++
		return &domain.CircuitOpenError{Name: "remote"}
	})

	assert.True(t, domain.IsCircuitOpen(err))
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	p := Exponential{Attempts: 5, InitialDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := Do(ctx, p, func(context.Context, int) error {
		calls++
		return errors.New("boom")
	})

	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoValue(t *testing.T) {
	p := Exponential{Attempts: 2, InitialDelay: time.Millisecond}

	v, err := DoValue(context.Background(), p, func(_ context.Context, attempt int) (string, error) {
		if attempt == 1 {
			return "", errors.New("first")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
