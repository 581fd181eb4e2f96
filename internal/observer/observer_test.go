package observer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

func TestNewRejectsNonPositiveThreshold(t *testing.T) {
	for _, th := range []int{0, -1} {
		_, err := New(th)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
	}
}

func TestCollapsesExactlyOnThreshold(t *testing.T) {
	for _, threshold := range []int{1, 2, 3, 7} {
		e, err := New(threshold)
		require.NoError(t, err)

		for i := 1; i < threshold; i++ {
			res := e.OnUnauthorizedAccess("item", AccessInfo{})
			assert.Equal(t, state.Poisoned, res.NewState, "attempt %d of %d", i, threshold)
			assert.Equal(t, TransformLightPoison, res.Transformation)
		}
		res := e.OnUnauthorizedAccess("item", AccessInfo{})
		assert.Equal(t, state.Collapsed, res.NewState)
		assert.Equal(t, TransformQuantumCollapse, res.Transformation)
		assert.Equal(t, "threshold exceeded", res.Reason)
		assert.Equal(t, threshold, res.Attempts)
	}
}

func TestCollapseIsTerminalUntilReset(t *testing.T) {
	e, err := New(1)
	require.NoError(t, err)

	e.OnUnauthorizedAccess("item", AccessInfo{})
	assert.Equal(t, state.Collapsed, e.State())

	res := e.OnSuspiciousPattern("item", "burst")
	assert.Equal(t, state.Collapsed, res.NewState)
	assert.False(t, res.StateChanged)

	e.Reset()
	assert.Equal(t, state.Healthy, e.State())
	assert.Equal(t, 0, e.Attempts())
}

func TestSuspiciousPatternDoesNotConsumeCounter(t *testing.T) {
	e, err := New(3)
	require.NoError(t, err)

	res := e.OnSuspiciousPattern("item", "enumeration")
	assert.Equal(t, state.Degraded, res.NewState)
	assert.Equal(t, TransformProgressivePoison, res.Transformation)
	assert.Equal(t, 0, e.Attempts())
}

func TestThresholdExceededEscalates(t *testing.T) {
	e, err := New(10)
	require.NoError(t, err)

	res := e.OnThresholdExceeded("item", "risk=0.99")
	assert.True(t, res.StateChanged)
	assert.Equal(t, state.Collapsed, res.NewState)

	// further unauthorized calls stay collapsed even below the threshold
	res = e.OnUnauthorizedAccess("item", AccessInfo{})
	assert.Equal(t, state.Collapsed, res.NewState)
}

func TestRegistryScopes(t *testing.T) {
	global, err := NewRegistry(ScopeGlobal, 2)
	require.NoError(t, err)
	assert.Same(t, global.For("a"), global.For("b"))

	perItem, err := NewRegistry(ScopePerItem, 2)
	require.NoError(t, err)
	a, b := perItem.For("a"), perItem.For("b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, perItem.For("a"))

	a.OnUnauthorizedAccess("a", AccessInfo{})
	a.OnUnauthorizedAccess("a", AccessInfo{})
	assert.Equal(t, state.Collapsed, a.State())
	assert.Equal(t, state.Healthy, b.State())

	_, err = NewRegistry("galactic", 2)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = NewRegistry(ScopePerItem, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}
