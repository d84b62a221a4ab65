package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNetError struct {
	timeout bool
}

func (e testNetError) Error() string   { return "net error" }
func (e testNetError) Timeout() bool   { return e.timeout }
func (e testNetError) Temporary() bool { return false }

func TestDo_SucceedsFirstTry(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{Retries: 3}, IsTransient, func(context.Context) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_RetryBudgetIsRetriesPlusOne(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{Retries: 3}, IsTransient, func(context.Context) error {
		attempts++
		return errors.New("connection reset by peer")
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Contains(t, exhausted.Error(), "connection reset")
}

func TestDo_FatalErrorAbortsImmediately(t *testing.T) {
	fatal := errors.New("pull access denied for myapp")

	attempts := 0
	err := Do(context.Background(), Policy{Retries: 3}, IsTransient, func(context.Context) error {
		attempts++
		return fatal
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, fatal)

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

// Transient failure twice, success on the third try, within budget.
func TestDo_SucceedsWithinBudget(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{Retries: 3}, IsTransient, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("dial tcp: i/o timeout")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ContextCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, Policy{Retries: 3}, IsTransient, func(context.Context) error {
		attempts++
		return errors.New("connection reset")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Do(ctx, Policy{Retries: 3, Backoff: time.Hour}, IsTransient, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("connection reset")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDo_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{}, IsTransient, func(context.Context) error {
		attempts++
		return errors.New("connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_ExhaustedUnwrapsLastError(t *testing.T) {
	last := errors.New("registry timeout")
	err := Do(context.Background(), Policy{Retries: 1}, IsTransient, func(context.Context) error {
		return last
	})

	assert.ErrorIs(t, err, last)
}

func TestPolicy_LinearDelay(t *testing.T) {
	p := Policy{Retries: 4, Backoff: 5 * time.Second}

	assert.Equal(t, 5*time.Second, p.delay(1))
	assert.Equal(t, 10*time.Second, p.delay(2))
	assert.Equal(t, 15*time.Second, p.delay(3))
	assert.Equal(t, time.Duration(0), Policy{}.delay(1))
}

func TestIsTransient_Patterns(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection reset", errors.New("read tcp 10.0.0.2:443: connection reset by peer"), true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5000: connect: connection refused"), true},
		{"client timeout", errors.New("Client.Timeout exceeded while awaiting headers"), true},
		{"dns temporary", errors.New("lookup registry-1.docker.io: Temporary failure in name resolution"), true},
		{"dns no such host", errors.New("dial tcp: lookup registry-1.docker.io: no such host"), true},
		{"registry 500", errors.New("received unexpected HTTP status: 500 Internal Server Error"), true},
		{"registry 503", errors.New("error pulling image: 503 Service Unavailable"), true},
		{"rate limited", errors.New("toomanyrequests: You have reached your pull rate limit"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},
		{"auth required", errors.New("Head https://registry/v2/: authentication required"), false},
		{"unauthorized", errors.New("unauthorized: incorrect username or password"), false},
		{"pull denied", errors.New("pull access denied for private/app"), false},
		{"manifest unknown", errors.New("manifest unknown: manifest unknown"), false},
		{"missing repo", errors.New("repository does not exist or may require auth"), false},
		{"bad reference", errors.New("invalid reference format"), false},
		{"port conflict", errors.New("Bind for 0.0.0.0:8080 failed: port is already allocated"), false},
		{"address in use", errors.New("listen tcp 0.0.0.0:80: bind: address already in use"), false},
		{"unknown error", errors.New("something else entirely"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransient_NetError(t *testing.T) {
	assert.True(t, IsTransient(testNetError{timeout: true}))
	assert.False(t, IsTransient(testNetError{timeout: false}))
}

func TestIsTransient_ContextErrors(t *testing.T) {
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(context.DeadlineExceeded))
}
