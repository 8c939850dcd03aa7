package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{Upstream: "fdc", StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(_ context.Context) error {
		calls++
		return &StatusError{Upstream: "fdc", StatusCode: http.StatusNotFound}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(2)
	p.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Retry(context.Background(), p, func(_ context.Context) error {
		calls++
		return &StatusError{Upstream: "off", StatusCode: http.StatusTooManyRequests}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{1}, retried)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, p, func(_ context.Context) error {
		calls++
		return &StatusError{Upstream: "off", StatusCode: http.StatusBadGateway}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryValue_ReturnsValue(t *testing.T) {
	v, err := RetryValue(context.Background(), fastPolicy(3), func(_ context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.True(t, IsTransient(&StatusError{StatusCode: 429}))
	assert.True(t, IsTransient(eris.Wrap(&StatusError{StatusCode: 503}, "fdc: search")))
	assert.False(t, IsTransient(&StatusError{StatusCode: 400}))
}

func TestNewPolicy(t *testing.T) {
	p := NewPolicy(0, 0)
	assert.Equal(t, DefaultPolicy().MaxAttempts, p.MaxAttempts)

	p = NewPolicy(5, 100)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.InitialBackoff)
}

func TestPolicyDelay_Capped(t *testing.T) {
	p := Policy{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second}
	assert.Equal(t, time.Second, p.delay(1))
	assert.Equal(t, 2*time.Second, p.delay(2))
	assert.Equal(t, 3*time.Second, p.delay(5))
}

func newTestBreaker(threshold int) (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("test", threshold, time.Minute, WithCounts(func(err error) bool { return err != nil }))
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(2)
	fail := errors.New("fail")

	b.Record(fail)
	assert.Equal(t, Closed, b.State())
	b.Record(fail)
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(2)
	b.Record(errors.New("fail"))
	b.Record(nil)
	b.Record(errors.New("fail"))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_TripAndRecover(t *testing.T) {
	b, now := newTestBreaker(5)
	b.Trip()
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, HalfOpen, b.State())
	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(5)
	b.Trip()
	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.Record(errors.New("still down"))
	assert.Equal(t, Open, b.State())
}

func TestCall(t *testing.T) {
	b, _ := newTestBreaker(1)

	v, err := Call(context.Background(), b, func(_ context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = Call(context.Background(), b, func(_ context.Context) (string, error) {
		return "", errors.New("down")
	})
	require.Error(t, err)

	called := false
	_, err = Call(context.Background(), b, func(_ context.Context) (string, error) {
		called = true
		return "", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
