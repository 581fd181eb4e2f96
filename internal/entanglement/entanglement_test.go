package entanglement

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

func TestAddAndGetLinksKeepsOrder(t *testing.T) {
	e := New("a")
	require.NoError(t, e.AddLink(state.EntanglementLink{TargetID: "b", Strength: 0.3}))
	require.NoError(t, e.AddLink(state.EntanglementLink{TargetID: "c", Strength: 0.9, Type: state.Asymmetric}))

	links := e.GetLinks()
	require.Len(t, links, 2)
	assert.Equal(t, "b", links[0].TargetID)
	assert.Equal(t, state.Symmetric, links[0].Type, "type defaults to symmetric")
	assert.False(t, links[0].CreatedAt.IsZero())
	assert.Equal(t, state.Asymmetric, links[1].Type)

	links[0].Strength = 1
	assert.Equal(t, 0.3, e.GetLinks()[0].Strength, "GetLinks must return a copy")
}

func TestAddLinkValidation(t *testing.T) {
	e := New("a")
	assert.ErrorIs(t, e.AddLink(state.EntanglementLink{}), errs.ErrInvalidArgument)
	assert.ErrorIs(t, e.AddLink(state.EntanglementLink{TargetID: "a"}), errs.ErrInvalidArgument)
	assert.ErrorIs(t, e.AddLink(state.EntanglementLink{TargetID: "b", Strength: 1.5}), errs.ErrInvalidArgument)
}

func TestRemoveAndUpdate(t *testing.T) {
	e := New("a")
	require.NoError(t, e.AddLink(state.EntanglementLink{TargetID: "b", Strength: 0.3}))

	require.NoError(t, e.UpdateStrength("b", 0.7))
	assert.Equal(t, 0.7, e.GetLinks()[0].Strength)
	assert.ErrorIs(t, e.UpdateStrength("zzz", 0.1), errs.ErrNotFound)

	assert.True(t, e.RemoveLink("b"))
	assert.False(t, e.RemoveLink("b"))
	assert.Empty(t, e.GetLinks())
}

func TestPropagateCallsEveryLinkRegardlessOfType(t *testing.T) {
	e := New("a")
	require.NoError(t, e.AddLink(state.EntanglementLink{TargetID: "b", Strength: 0.2, Type: state.Symmetric}))
	require.NoError(t, e.AddLink(state.EntanglementLink{TargetID: "c", Strength: 0.8, Type: state.Asymmetric}))
	require.NoError(t, e.AddLink(state.EntanglementLink{TargetID: "d", Strength: 0.5}))

	seen := map[string]float64{}
	err := e.PropagateStateChange(state.Collapsed, func(target string, st state.StateType, strength float64) error {
		assert.Equal(t, state.Collapsed, st)
		seen[target] = strength
		if target == "c" {
			return errors.New("target gone")
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, map[string]float64{"b": 0.2, "c": 0.8, "d": 0.5}, seen)
}
