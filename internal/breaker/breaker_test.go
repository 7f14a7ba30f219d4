package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		FailureWindow:    2 * time.Minute,
	}
}

var errBoom = errors.New("boom")

func failingOp(ctx context.Context) (string, error) { return "", errBoom }

func okOp(ctx context.Context) (string, error) { return "fresh", nil }

func cannedFallback(ctx context.Context, cause error) (string, error) {
	return "canned", nil
}

func tripBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < testConfig().FailureThreshold; i++ {
		res, err := b.Execute(context.Background(), failingOp, cannedFallback)
		require.NoError(t, err)
		require.True(t, res.Degraded)
	}
	require.Equal(t, StateOpen, b.State())
}

func TestBreakerSuccessPassesThrough(t *testing.T) {
	b := New("test", testConfig(), nil)

	res, err := b.Execute(context.Background(), okOp, cannedFallback)
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Text)
	assert.False(t, res.Degraded)
	assert.Equal(t, StateClosed, res.State)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig(), nil, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		res, err := b.Execute(context.Background(), failingOp, cannedFallback)
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Equal(t, StateClosed, b.State())
	}

	res, err := b.Execute(context.Background(), failingOp, cannedFallback)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, StateOpen, b.State())

	// While open the operation must not be invoked at all.
	called := false
	res, err = b.Execute(context.Background(), func(ctx context.Context) (string, error) {
		called = true
		return "fresh", nil
	}, cannedFallback)
	require.NoError(t, err)
	assert.False(t, called)
	assert.True(t, res.Degraded)
	assert.Equal(t, "canned", res.Text)
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig(), nil, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		_, err := b.Execute(context.Background(), failingOp, cannedFallback)
		require.NoError(t, err)
	}
	_, err := b.Execute(context.Background(), okOp, cannedFallback)
	require.NoError(t, err)

	// Two more failures stay short of the threshold after the reset.
	for i := 0; i < 2; i++ {
		_, err := b.Execute(context.Background(), failingOp, cannedFallback)
		require.NoError(t, err)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailureWindowForgivesStaleStreak(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig(), nil, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		_, err := b.Execute(context.Background(), failingOp, cannedFallback)
		require.NoError(t, err)
	}

	// The next failure lands outside the window, so it starts a fresh
	// streak of one instead of tripping the breaker.
	clock.Advance(3 * time.Minute)
	_, err := b.Execute(context.Background(), failingOp, cannedFallback)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())

	for i := 0; i < 2; i++ {
		_, err := b.Execute(context.Background(), failingOp, cannedFallback)
		require.NoError(t, err)
	}
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig(), nil, WithClock(clock.Now))
	tripBreaker(t, b)

	clock.Advance(29 * time.Second)
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig(), nil, WithClock(clock.Now))
	tripBreaker(t, b)
	clock.Advance(31 * time.Second)

	res, err := b.Execute(context.Background(), okOp, cannedFallback)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, StateHalfOpen, b.State())

	res, err = b.Execute(context.Background(), okOp, cannedFallback)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig(), nil, WithClock(clock.Now))
	tripBreaker(t, b)
	clock.Advance(31 * time.Second)

	res, err := b.Execute(context.Background(), failingOp, cannedFallback)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, StateOpen, b.State())

	// The recovery timeout restarts from the failed trial.
	clock.Advance(29 * time.Second)
	assert.Equal(t, StateOpen, b.State())
	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig(), nil, WithClock(clock.Now))
	tripBreaker(t, b)
	clock.Advance(31 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan Result, 1)
	go func() {
		res, _ := b.Execute(context.Background(), func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "fresh", nil
		}, cannedFallback)
		done <- res
	}()

	<-started

	// While the trial is in flight every other call is rejected straight
	// to the fallback.
	res, err := b.Execute(context.Background(), okOp, cannedFallback)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, "canned", res.Text)

	close(release)
	trial := <-done
	assert.False(t, trial.Degraded)
	assert.Equal(t, "fresh", trial.Text)
}

func TestBreakerTotalFailureReturnsError(t *testing.T) {
	b := New("test", testConfig(), nil)

	_, err := b.Execute(context.Background(), failingOp, func(ctx context.Context, cause error) (string, error) {
		assert.ErrorIs(t, cause, errBoom)
		return "", errors.New("fallback down")
	})
	require.Error(t, err)

	_, err = b.Execute(context.Background(), failingOp, nil)
	require.ErrorIs(t, err, errBoom)
}

func TestBreakerStateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := New("test", testConfig(), nil,
		WithClock(clock.Now),
		WithStateChangeHook(func(name string, from, to State) {
			transitions = append(transitions, string(from)+">"+string(to))
		}),
	)

	tripBreaker(t, b)
	clock.Advance(31 * time.Second)
	_, err := b.Execute(context.Background(), okOp, cannedFallback)
	require.NoError(t, err)
	_, err = b.Execute(context.Background(), okOp, cannedFallback)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"closed>open",
		"open>half_open",
		"half_open>closed",
	}, transitions)
}

func TestBreakerRejectionAndFallbackHooks(t *testing.T) {
	clock := newFakeClock()
	var rejections, fallbacks []string
	b := New("test", testConfig(), nil,
		WithClock(clock.Now),
		WithRejectionHook(func(name string) { rejections = append(rejections, name) }),
		WithFallbackHook(func(name string) { fallbacks = append(fallbacks, name) }),
	)

	// Failures while closed are degraded serves, not rejections.
	tripBreaker(t, b)
	assert.Empty(t, rejections)
	assert.Len(t, fallbacks, testConfig().FailureThreshold)

	// An open-circuit call never reaches the operation and counts both a
	// rejection and a fallback serve.
	called := false
	res, err := b.Execute(context.Background(), func(ctx context.Context) (string, error) {
		called = true
		return "fresh", nil
	}, cannedFallback)
	require.NoError(t, err)
	assert.False(t, called)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"test"}, rejections)
	assert.Len(t, fallbacks, testConfig().FailureThreshold+1)
}

func TestRegistrySharesBreakersByName(t *testing.T) {
	reg := NewRegistry(testConfig(), nil)

	first := reg.Get("completion")
	second := reg.Get("completion")
	assert.Same(t, first, second)
	assert.NotSame(t, first, reg.Get("advisor"))

	states := reg.States()
	assert.Equal(t, StateClosed, states["completion"])
	assert.Equal(t, StateClosed, states["advisor"])
}
