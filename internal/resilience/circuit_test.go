package resilience

import (
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

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("calling", BreakerConfig{FailureThreshold: threshold, ResetTimeout: reset})
	b.now = clock.Now
	return b, clock
}

func TestBreaker_ClosedAllows(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(errors.New("fail"))
	}
	assert.Equal(t, CircuitOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(errors.New("fail"))
	}
	require.NoError(t, b.Allow())
	b.Record(nil)
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(errors.New("fail"))
	}
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	require.NoError(t, b.Allow())
	b.Record(errors.New("fail"))
	assert.Equal(t, CircuitOpen, b.State())

	clock.Advance(11 * time.Second)
	assert.Equal(t, CircuitHalfOpen, b.State())

	require.NoError(t, b.Allow())
	assert.True(t, errors.Is(b.Allow(), ErrCircuitOpen), "second probe must be rejected")

	b.Record(nil)
	assert.Equal(t, CircuitClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	require.NoError(t, b.Allow())
	b.Record(errors.New("fail"))

	clock.Advance(11 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(errors.New("still down"))

	assert.Equal(t, CircuitOpen, b.State())
	assert.Error(t, b.Allow())
}

func TestBreaker_ReleaseFreesProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	require.NoError(t, b.Allow())
	b.Record(errors.New("fail"))

	clock.Advance(11 * time.Second)
	require.NoError(t, b.Allow())
	b.Release()
	assert.NoError(t, b.Allow())
}

func TestBreakers_GetReusesPerService(t *testing.T) {
	r := NewBreakers(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	a := r.Get("matching")
	assert.Same(t, a, r.Get("matching"))
	assert.NotSame(t, a, r.Get("calling"))

	require.NoError(t, a.Allow())
	a.Record(errors.New("fail"))

	states := r.States()
	assert.Equal(t, CircuitOpen, states["matching"])
	assert.Equal(t, CircuitClosed, states["calling"])
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
