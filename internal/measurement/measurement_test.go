package measurement

import (
	"testing"
	"time"

	"github.com/danielpatrickdp/quantum-shield/internal/state"
	"github.com/danielpatrickdp/quantum-shield/internal/superposition"
)

type fakeTarget struct {
	active    state.QuantumState
	ok        bool
	collapses []string
}

func (f *fakeTarget) CollapseAll(reason string) bool {
	f.collapses = append(f.collapses, reason)
	return len(f.collapses) == 1
}

func (f *fakeTarget) GetActiveState() (state.QuantumState, bool) {
	return f.active, f.ok
}

func TestCollapseReportsTrigger(t *testing.T) {
	f := &fakeTarget{}
	for i := 0; i < 2; i++ {
		res := Collapse(f, "tamper")
		if !res.Collapsed || res.CollapsedState != state.Collapsed || res.Reason != "tamper" {
			t.Fatalf("unexpected result %+v", res)
		}
	}
	if len(f.collapses) != 2 {
		t.Fatalf("expected 2 collapse calls, got %d", len(f.collapses))
	}
}

func TestReadStateHidesCollapsed(t *testing.T) {
	f := &fakeTarget{active: state.QuantumState{ID: "a", Type: state.Collapsed}, ok: true}
	if _, ok := ReadState(f); ok {
		t.Fatal("collapsed active state must not be readable")
	}

	f.active.Type = state.Poisoned
	st, ok := ReadState(f)
	if !ok || st.ID != "a" {
		t.Fatalf("expected poisoned state to be readable, got %+v ok=%v", st, ok)
	}

	f.ok = false
	if _, ok := ReadState(f); ok {
		t.Fatal("expected no state when target has none")
	}
}

func TestAgainstSuperposition(t *testing.T) {
	cfg := superposition.DefaultConfig()
	cfg.AutoRotationInterval = 0
	cfg.CoherenceCheckInterval = time.Hour
	sp, err := superposition.New([]state.QuantumState{{ID: "x"}, {ID: "y"}}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sp.Destroy()

	if st, ok := ReadState(sp); !ok || st.ID != "x" {
		t.Fatalf("ReadState before collapse = %+v, %v", st, ok)
	}
	Collapse(sp, "measured")
	if _, ok := ReadState(sp); ok {
		t.Fatal("ReadState after collapse must fail")
	}
	if !sp.IsCollapsed() {
		t.Fatal("superposition should be collapsed")
	}
}
