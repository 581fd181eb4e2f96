package defense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
)

// #region state

// BreakerState is the position of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// #endregion state

// #region config

// BreakerConfig configures one breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" validate:"gte=1"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" validate:"gt=0"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls" validate:"gte=1"`
	CallTimeout      time.Duration `yaml:"call_timeout" validate:"gte=0"` // 0 disables the timeout
}

// DefaultBreakerConfig returns conservative defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
		CallTimeout:      10 * time.Second,
	}
}

// StateChangeFunc observes breaker transitions.
type StateChangeFunc func(name string, from, to BreakerState)

// #endregion config

// #region breaker

// Breaker guards one named operation.
type Breaker struct {
	name     string
	cfg      BreakerConfig
	now      func() time.Time
	onChange StateChangeFunc
	logger   *slog.Logger

	mu            sync.Mutex
	state         BreakerState
	failures      int
	halfOpenCalls int
	openedAt      time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg, now: time.Now, logger: slog.Default()}
}

// Name returns the guarded operation name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state without advancing it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn through b. When the call timeout fires first, Execute returns
// and counts a failure; fn keeps running until it honours its context.
func Execute[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, fmt.Errorf("%s: %w", b.name, err)
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if b.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
	}
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		b.record(r.err == nil)
		return r.v, r.err
	case <-callCtx.Done():
		err := callCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			b.record(false)
			return zero, fmt.Errorf("%s: call timed out after %s: %w", b.name, b.cfg.CallTimeout, err)
		}
		return zero, err
	}
}

// Do is Execute for functions without a result.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return errs.ErrCircuitOpen
		}
		b.transitionLocked(BreakerHalfOpen)
		b.halfOpenCalls = 1
		return nil
	default:
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return nil
		}
		b.transitionLocked(BreakerOpen)
		return errs.ErrCircuitHalfOpenExhausted
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(BreakerOpen)
		}
	case BreakerHalfOpen:
		if success {
			b.transitionLocked(BreakerClosed)
		} else {
			b.transitionLocked(BreakerOpen)
		}
	}
}

func (b *Breaker) transitionLocked(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case BreakerOpen:
		b.openedAt = b.now()
	case BreakerClosed:
		b.failures = 0
	}
	b.halfOpenCalls = 0
	b.logger.Info("circuit breaker transition", "breaker", b.name, "from", from.String(), "to", to.String())
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// #endregion breaker

// #region set

// BreakerSet lazily creates one breaker per operation name.
type BreakerSet struct {
	cfg      BreakerConfig
	onChange StateChangeFunc
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerSet shares cfg across all breakers. onChange may be nil.
func NewBreakerSet(cfg BreakerConfig, onChange StateChangeFunc, logger *slog.Logger) *BreakerSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerSet{cfg: cfg, onChange: onChange, logger: logger, now: time.Now, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name.
func (s *BreakerSet) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = NewBreaker(name, s.cfg)
		b.onChange = s.onChange
		b.logger = s.logger
		b.now = s.now
		s.breakers[name] = b
	}
	return b
}

// States snapshots every breaker's state.
func (s *BreakerSet) States() map[string]BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]BreakerState, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State()
	}
	return out
}

// #endregion set
