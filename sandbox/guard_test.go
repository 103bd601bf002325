package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutGuardCompletesWithinDeadline(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())
	guard := NewTimeoutGuard(time.Second)

	err := guard.Run(context.Background(), env, func(context.Context) error {
		_, runErr := runSnippet(t, env, `1 + 1`)
		return runErr
	})
	require.NoError(t, err)
}

func TestTimeoutGuardInterruptsBusyLoop(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())
	guard := NewTimeoutGuard(100 * time.Millisecond)

	start := time.Now()
	err := guard.Run(context.Background(), env, func(context.Context) error {
		_, runErr := runSnippet(t, env, `for (;;) {}`)
		return runErr
	})
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 100*time.Millisecond, timeoutErr.Limit)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestTimeoutGuardAbortsBlockedNativeCall(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())
	guard := NewTimeoutGuard(100 * time.Millisecond)

	start := time.Now()
	err := guard.Run(context.Background(), env, func(context.Context) error {
		_, runErr := runSnippet(t, env, `datetime.sleep(30);`)
		return runErr
	})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTimeoutGuardPassesSnippetErrorsThrough(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())
	guard := NewTimeoutGuard(time.Second)

	err := guard.Run(context.Background(), env, func(context.Context) error {
		_, runErr := runSnippet(t, env, `throw new Error("boom");`)
		return runErr
	})

	require.Error(t, err)
	var timeoutErr *TimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
	assert.Contains(t, err.Error(), "boom")
}

func TestTimeoutGuardDisarmsInterruptAfterTimeout(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())
	guard := NewTimeoutGuard(50 * time.Millisecond)

	err := guard.Run(context.Background(), env, func(context.Context) error {
		_, runErr := runSnippet(t, env, `for (;;) {}`)
		return runErr
	})
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	// The interrupt must not leak past Run: the same runtime still works.
	value, runErr := runSnippet(t, env, `2 + 2`)
	require.NoError(t, runErr)
	assert.Equal(t, int64(4), value.ToInteger())
}

func TestTimeoutGuardDisarmsInterruptAfterSuccess(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())
	guard := NewTimeoutGuard(time.Second)

	err := guard.Run(context.Background(), env, func(context.Context) error {
		_, runErr := runSnippet(t, env, `1 + 1`)
		return runErr
	})
	require.NoError(t, err)

	// The watcher fires on cancel even after a clean finish; that interrupt
	// must be cleared before Run returns.
	value, runErr := runSnippet(t, env, `3 + 3`)
	require.NoError(t, runErr)
	assert.Equal(t, int64(6), value.ToInteger())
}

func TestTimeoutGuardHonorsCallerCancel(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())
	guard := NewTimeoutGuard(10 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := guard.Run(ctx, env, func(context.Context) error {
		_, runErr := runSnippet(t, env, `for (;;) {}`)
		return runErr
	})

	require.Error(t, err)
	var timeoutErr *TimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
	assert.Contains(t, err.Error(), "execution canceled")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTimeoutErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		limit    time.Duration
		expected string
	}{
		{"WholeSeconds", 2 * time.Second, "Code execution timed out after 2 seconds"},
		{"FractionalSeconds", 500 * time.Millisecond, "Code execution timed out after 0.5 seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &TimeoutError{Limit: tt.limit}
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}
