package superposition

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// quietConfig keeps the timers out of the way.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.AutoRotationInterval = 0
	cfg.CoherenceCheckInterval = time.Hour
	return cfg
}

func newTestSuperposition(t *testing.T, n int, cfg Config) *Superposition {
	t.Helper()
	states := make([]state.QuantumState, n)
	for i := range states {
		states[i] = state.QuantumState{ID: fmt.Sprintf("s%d", i), DataID: "item"}
	}
	sp, err := New(states, cfg)
	require.NoError(t, err)
	t.Cleanup(sp.Destroy)
	return sp
}

func trustInEnv(score float64, env string) state.AccessContext {
	ctx := state.WithTrust(score)
	ctx.Environment = env
	return ctx
}

func activeCount(sp *Superposition) int {
	n := 0
	for _, st := range sp.States() {
		if st.Active {
			n++
		}
	}
	return n
}

func TestNewRejectsEmpty(t *testing.T) {
	_, err := New(nil, quietConfig())
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestNewAssignsIDsAndSingleActive(t *testing.T) {
	sp, err := New([]state.QuantumState{{}, {}, {Active: true}}, quietConfig())
	require.NoError(t, err)
	defer sp.Destroy()

	states := sp.States()
	require.Len(t, states, 3)
	for i, st := range states {
		assert.NotEmpty(t, st.ID)
		assert.Equal(t, i, st.Index)
		assert.Equal(t, state.Healthy, st.Type)
	}
	assert.Equal(t, 1, activeCount(sp))
	assert.Equal(t, states[2].ID, sp.ActiveStateID())
}

func TestRotateCyclesAndEmits(t *testing.T) {
	sp := newTestSuperposition(t, 3, quietConfig())

	var rotated []Event
	sp.Subscribe(func(ev Event) {
		if ev.Type == EventStateRotated {
			rotated = append(rotated, ev)
		}
	})

	for _, want := range []string{"s1", "s2", "s0"} {
		st, ok := sp.RotateState()
		require.True(t, ok)
		assert.Equal(t, want, st.ID)
		assert.Equal(t, want, sp.ActiveStateID())
		assert.Equal(t, 1, activeCount(sp))
	}
	require.Len(t, rotated, 3)
	assert.Equal(t, "s0", rotated[0].PreviousStateID)
	assert.Equal(t, "s1", rotated[0].NewStateID)
}

func TestRotateSingleStateIsSilent(t *testing.T) {
	sp := newTestSuperposition(t, 1, quietConfig())
	var events int
	sp.Subscribe(func(Event) { events++ })

	st, ok := sp.RotateState()
	require.True(t, ok)
	assert.Equal(t, "s0", st.ID)
	assert.Zero(t, events)
}

func TestSelectStateByContext(t *testing.T) {
	sp := newTestSuperposition(t, 3, quietConfig())

	cases := []struct {
		name string
		ctx  state.AccessContext
		want string
	}{
		{"trust zero", state.WithTrust(0), "s0"},
		{"trust mid", state.WithTrust(0.34), "s1"},
		{"trust high", state.WithTrust(0.99), "s2"},
		{"trust one clamps", state.WithTrust(1), "s2"},
		{"trust beats env", trustInEnv(0, "prod"), "s0"},
		{"high risk", state.WithRisk(0.9), "s0"},
		{"low risk", state.WithRisk(0.1), "s2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, ok := sp.SelectStateByContext(tc.ctx)
			require.True(t, ok)
			assert.Equal(t, tc.want, st.ID)
			assert.Equal(t, tc.want, sp.ActiveStateID())
			assert.Equal(t, 1, activeCount(sp))
		})
	}
}

func TestSelectByEnvironmentIsDeterministic(t *testing.T) {
	sp := newTestSuperposition(t, 3, quietConfig())
	h := sha256.Sum256([]byte("staging"))
	want := fmt.Sprintf("s%d", int(h[0])%3)

	for i := 0; i < 3; i++ {
		st, ok := sp.SelectStateByContext(state.AccessContext{Environment: "staging"})
		require.True(t, ok)
		assert.Equal(t, want, st.ID)
	}
}

func TestSelectWithEmptyContextKeepsActive(t *testing.T) {
	sp := newTestSuperposition(t, 3, quietConfig())
	sp.RotateState()
	st, ok := sp.SelectStateByContext(state.AccessContext{})
	require.True(t, ok)
	assert.Equal(t, "s1", st.ID)
}

func TestCollapseAll(t *testing.T) {
	sp := newTestSuperposition(t, 3, quietConfig())
	var collapsed []Event
	sp.Subscribe(func(ev Event) {
		if ev.Type == EventSuperpositionCollapsed {
			collapsed = append(collapsed, ev)
		}
	})

	assert.True(t, sp.CollapseAll("manual"))
	assert.False(t, sp.CollapseAll("again"))

	assert.True(t, sp.IsCollapsed())
	assert.Empty(t, sp.ActiveStateID())
	for _, st := range sp.States() {
		assert.Equal(t, state.Collapsed, st.Type)
		assert.False(t, st.Active)
	}
	require.Len(t, collapsed, 1)
	assert.Equal(t, 3, collapsed[0].StatesCount)
	assert.Equal(t, "manual", collapsed[0].Reason)
	assert.Len(t, sp.Transitions(), 3)

	_, ok := sp.RotateState()
	assert.False(t, ok)
	_, ok = sp.SelectStateByContext(state.WithTrust(1))
	assert.False(t, ok)
	_, ok = sp.GetActiveState()
	assert.False(t, ok)
	_, err := sp.AddState(state.QuantumState{})
	assert.ErrorIs(t, err, errs.ErrCollapsed)
	assert.False(t, sp.PoisonState("s0", 0.5))
	assert.Zero(t, sp.ApplyDecoherence(0.5))
}

func TestObservationLimitFiresOnce(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxObservations = 3
	sp := newTestSuperposition(t, 2, cfg)

	var fired int
	sp.Subscribe(func(ev Event) {
		if ev.Type == EventObservationLimitExceeded {
			fired++
			assert.Equal(t, int64(3), ev.ObservationCount)
		}
	})
	for i := 0; i < 6; i++ {
		_, ok := sp.GetActiveState()
		require.True(t, ok)
	}
	assert.Equal(t, 1, fired)
	assert.Equal(t, int64(6), sp.ObservationCount())

	st, _ := sp.State("s0")
	assert.Equal(t, int64(6), st.AccessCount)
	require.NotNil(t, st.LastAccessed)
}

func TestGetActiveStateReturnsCopy(t *testing.T) {
	sp := newTestSuperposition(t, 2, quietConfig())
	st, ok := sp.GetActiveState()
	require.True(t, ok)
	st.Type = state.Collapsed
	st.Ciphertext = []byte("tampered")

	again, _ := sp.State(st.ID)
	assert.Equal(t, state.Healthy, again.Type)
	assert.Nil(t, again.Ciphertext)
}

func TestApplyDecoherenceFactorDefaults(t *testing.T) {
	sp := newTestSuperposition(t, 2, quietConfig())

	assert.Zero(t, sp.ApplyDecoherence(-0.3))
	for _, st := range sp.States() {
		assert.Zero(t, st.DegradationLevel, "negative factor changes nothing")
	}

	sp.ApplyDecoherence(0)
	for _, st := range sp.States() {
		assert.InDelta(t, DefaultDecoherenceFactor, st.DegradationLevel, 1e-9)
		assert.InDelta(t, DefaultDecoherenceFactor, st.Metadata.NoiseLevel, 1e-9)
	}
}

func TestApplyDecoherenceCrossesThreshold(t *testing.T) {
	sp := newTestSuperposition(t, 2, quietConfig())
	var degraded int
	sp.Subscribe(func(ev Event) {
		if ev.Type == EventStateDegraded {
			degraded++
		}
	})

	assert.Zero(t, sp.ApplyDecoherence(0.5))
	assert.Equal(t, 2, sp.ApplyDecoherence(0.5))
	assert.Zero(t, sp.ApplyDecoherence(0.5), "already degraded states do not transition again")
	assert.Equal(t, 2, degraded)

	for _, st := range sp.States() {
		assert.Equal(t, state.Degraded, st.Type)
		assert.Equal(t, 1.0, st.DegradationLevel)
		assert.Equal(t, 1.0, st.Metadata.NoiseLevel)
	}
	for _, tr := range sp.Transitions() {
		assert.Equal(t, DecoherenceTrigger, tr.Trigger)
		assert.Equal(t, state.Healthy, tr.From)
	}
}

func TestPoisonState(t *testing.T) {
	sp := newTestSuperposition(t, 2, quietConfig())
	assert.True(t, sp.PoisonState("s1", 0.7))
	assert.True(t, sp.PoisonState("s1", 0.7))
	assert.False(t, sp.PoisonState("missing", 0.7))

	st, _ := sp.State("s1")
	assert.Equal(t, state.Poisoned, st.Type)
	assert.Equal(t, 1.0, st.PoisonLevel)
	assert.Len(t, sp.Transitions(), 1)
}

func TestAddAndRemoveState(t *testing.T) {
	sp := newTestSuperposition(t, 2, quietConfig())

	added, err := sp.AddState(state.QuantumState{ID: "extra"})
	require.NoError(t, err)
	assert.Equal(t, 2, added.Index)
	assert.False(t, added.Active)
	_, err = sp.AddState(state.QuantumState{ID: "extra"})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	require.NoError(t, sp.RemoveState("s0"))
	assert.Equal(t, "s1", sp.ActiveStateID(), "removing the active state activates its successor")
	assert.Equal(t, 1, activeCount(sp))
	assert.ErrorIs(t, sp.RemoveState("s0"), errs.ErrNotFound)

	require.NoError(t, sp.RemoveState("s1"))
	require.NoError(t, sp.RemoveState("extra"))
	assert.Empty(t, sp.ActiveStateID())

	again, err := sp.AddState(state.QuantumState{})
	require.NoError(t, err)
	assert.Equal(t, again.ID, sp.ActiveStateID())
}

func TestMetrics(t *testing.T) {
	sp := newTestSuperposition(t, 4, quietConfig())

	m := sp.GetMetrics()
	assert.Equal(t, 4, m.TotalStates)
	assert.Equal(t, 0.0, m.Entropy)
	assert.Equal(t, 1.0, m.HealthScore)
	assert.Equal(t, time.Minute, m.AverageCoherenceTime)

	sp.PoisonState("s1", 0.5)
	sp.mu.Lock()
	sp.transitionLocked(sp.states["s2"], state.Degraded, "test", time.Now())
	sp.transitionLocked(sp.states["s3"], state.Collapsed, "test", time.Now())
	sp.mu.Unlock()

	m = sp.GetMetrics()
	assert.InDelta(t, 2.0, m.Entropy, 1e-9)
	assert.Equal(t, 0.25, m.HealthScore)
	assert.Equal(t, 1, m.ByType[state.Poisoned])

	sp.LogAccess("unauthorized_access", "denied", nil)
	sp.LogAccess("note", "Unauthorized token", nil)
	sp.LogAccess("note", "fine", nil)
	assert.Equal(t, 2, sp.GetMetrics().UnauthorizedAttempts)
}

func TestAuditRingIsBounded(t *testing.T) {
	sp := newTestSuperposition(t, 1, quietConfig())
	for i := 0; i < MaxAuditLogs+25; i++ {
		sp.LogAccess("access", fmt.Sprintf("entry %d", i), nil)
	}
	logs := sp.AuditLogs()
	require.Len(t, logs, MaxAuditLogs)
	assert.Equal(t, fmt.Sprintf("entry %d", MaxAuditLogs+24), logs[len(logs)-1].Message)
}

func TestAuditLevelFilters(t *testing.T) {
	cfg := quietConfig()
	cfg.AuditLevel = AuditMinimal
	sp := newTestSuperposition(t, 2, cfg)
	sp.RotateState()
	sp.GetActiveState()
	assert.Empty(t, sp.AuditLogs())

	sp.PoisonState("s0", 0.1)
	assert.Len(t, sp.AuditLogs(), 1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	sp := newTestSuperposition(t, 3, quietConfig())
	sp.RotateState()
	sp.GetActiveState()
	sp.PoisonState("s2", 0.4)

	snap := sp.ExportState()
	restored, err := FromSnapshot(snap)
	require.NoError(t, err)
	defer restored.Destroy()

	assert.Equal(t, sp.ID(), restored.ID())
	assert.Equal(t, "s1", restored.ActiveStateID())
	assert.Equal(t, int64(1), restored.ObservationCount())
	assert.Equal(t, sp.States(), restored.States())
	assert.Equal(t, sp.Transitions(), restored.Transitions())

	_, err = FromSnapshot(Snapshot{ID: "empty"})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestSnapshotOfCollapsedStaysCollapsed(t *testing.T) {
	sp := newTestSuperposition(t, 2, quietConfig())
	sp.CollapseAll("gone")

	restored, err := FromSnapshot(sp.ExportState())
	require.NoError(t, err)
	defer restored.Destroy()
	assert.True(t, restored.IsCollapsed())
	_, ok := restored.GetActiveState()
	assert.False(t, ok)
}

func TestAutoRotationTimer(t *testing.T) {
	cfg := quietConfig()
	cfg.AutoRotationInterval = 5 * time.Millisecond
	sp := newTestSuperposition(t, 2, cfg)

	var rotations atomic.Int32
	sp.Subscribe(func(ev Event) {
		if ev.Type == EventStateRotated {
			rotations.Add(1)
		}
	})
	assert.Eventually(t, func() bool { return rotations.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestCoherenceTimerDegradesStaleStates(t *testing.T) {
	cfg := quietConfig()
	cfg.CoherenceCheckInterval = 5 * time.Millisecond
	old := time.Now().Add(-2 * time.Hour)
	sp, err := New([]state.QuantumState{
		{ID: "old", CreatedAt: old, Metadata: state.StateMetadata{CoherenceTime: time.Minute}},
		{ID: "fresh"},
	}, cfg)
	require.NoError(t, err)
	defer sp.Destroy()

	assert.Eventually(t, func() bool {
		st, _ := sp.State("old")
		return st.Type == state.Degraded
	}, 2*time.Second, 5*time.Millisecond)

	fresh, _ := sp.State("fresh")
	assert.Equal(t, 0.0, fresh.DegradationLevel)
}

func TestDestroyIsIdempotent(t *testing.T) {
	sp := newTestSuperposition(t, 2, quietConfig())
	sp.Destroy()
	sp.Destroy()
	assert.Empty(t, sp.States())
	_, ok := sp.RotateState()
	assert.False(t, ok)
}

func TestConcurrentAccessKeepsInvariants(t *testing.T) {
	cfg := quietConfig()
	cfg.AutoRotationInterval = time.Millisecond
	sp := newTestSuperposition(t, 4, cfg)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				switch i % 4 {
				case 0:
					sp.RotateState()
				case 1:
					sp.SelectStateByContext(state.WithTrust(float64(g) / 8))
				case 2:
					sp.GetActiveState()
				case 3:
					_ = sp.GetMetrics()
				}
				if !sp.IsCollapsed() {
					assert.LessOrEqual(t, activeCount(sp), 1)
				}
			}
		}(g)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(2 * time.Millisecond)
		sp.CollapseAll("concurrent")
	}()
	wg.Wait()

	assert.True(t, sp.IsCollapsed())
	assert.Zero(t, activeCount(sp))
	for _, st := range sp.States() {
		assert.Equal(t, state.Collapsed, st.Type)
	}
}
