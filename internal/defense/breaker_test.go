package defense

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("decrypt", BreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 1,
		CallTimeout:      time.Second,
	})
	b.now = clock.Now
	return b, clock
}

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func succeeding(context.Context) error { return nil }

func TestBreakerOpensAfterThresholdAndShortCircuits(t *testing.T) {
	b, _ := testBreaker(2)
	ctx := context.Background()

	assert.ErrorIs(t, b.Do(ctx, failing), errBoom)
	assert.Equal(t, BreakerClosed, b.State())
	assert.ErrorIs(t, b.Do(ctx, failing), errBoom)
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	err := b.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, errs.ErrCircuitOpen)
	assert.False(t, called, "open breaker must not invoke the wrapped function")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(2)
	ctx := context.Background()
	_ = b.Do(ctx, failing)
	require.NoError(t, b.Do(ctx, succeeding))
	_ = b.Do(ctx, failing)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b, clock := testBreaker(1)
	ctx := context.Background()
	_ = b.Do(ctx, failing)
	require.Equal(t, BreakerOpen, b.State())

	clock.Advance(time.Minute)
	v, err := Execute(ctx, b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := testBreaker(1)
	ctx := context.Background()
	_ = b.Do(ctx, failing)
	clock.Advance(time.Minute)

	assert.ErrorIs(t, b.Do(ctx, failing), errBoom)
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Do(ctx, succeeding), errs.ErrCircuitOpen)
}

func TestBreakerHalfOpenExhausted(t *testing.T) {
	b, clock := testBreaker(1)
	_ = b.Do(context.Background(), failing)
	clock.Advance(time.Minute)

	require.NoError(t, b.allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.ErrorIs(t, b.allow(), errs.ErrCircuitHalfOpenExhausted)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerTimeoutCountsAsFailure(t *testing.T) {
	b, _ := testBreaker(1)
	b.cfg.CallTimeout = 10 * time.Millisecond

	err := b.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerSetSharesConfigAndReportsChanges(t *testing.T) {
	var changes []string
	set := NewBreakerSet(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1}, func(name string, from, to BreakerState) {
		changes = append(changes, name+":"+from.String()+"->"+to.String())
	}, nil)

	assert.Same(t, set.Get("encrypt"), set.Get("encrypt"))
	_ = set.Get("encrypt").Do(context.Background(), failing)
	_ = set.Get("decrypt").Do(context.Background(), succeeding)

	assert.Equal(t, []string{"encrypt:closed->open"}, changes)
	assert.Equal(t, map[string]BreakerState{"encrypt": BreakerOpen, "decrypt": BreakerClosed}, set.States())
}
