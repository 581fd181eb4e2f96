package state

import (
	"testing"
	"time"
)

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	q := QuantumState{
		ID:            "s1",
		Ciphertext:    []byte{1, 2, 3},
		Nonce:         []byte{4},
		MAC:           []byte{5},
		LastAccessed:  &now,
		Entanglements: []EntanglementLink{{TargetID: "x", Strength: 0.5, Type: Symmetric}},
	}

	c := q.Clone()
	c.Ciphertext[0] = 9
	c.Entanglements[0].TargetID = "y"
	*c.LastAccessed = now.Add(time.Hour)

	if q.Ciphertext[0] != 1 {
		t.Fatal("ciphertext shared with clone")
	}
	if q.Entanglements[0].TargetID != "x" {
		t.Fatal("entanglements shared with clone")
	}
	if !q.LastAccessed.Equal(now) {
		t.Fatal("last accessed shared with clone")
	}
}

func TestStateTypeValid(t *testing.T) {
	for _, st := range AllStateTypes {
		if !st.Valid() {
			t.Fatalf("%s should be valid", st)
		}
	}
	if StateType("entangled").Valid() {
		t.Fatal("unknown type reported valid")
	}
}

func TestRecordAccessIsBounded(t *testing.T) {
	var r StateRecord
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < MaxAccessHistory+25; i++ {
		r.RecordAccess("load", start.Add(time.Duration(i)*time.Second))
	}
	if len(r.AccessHistory) != MaxAccessHistory {
		t.Fatalf("expected %d entries, got %d", MaxAccessHistory, len(r.AccessHistory))
	}
	if !r.AccessHistory[0].At.Equal(start.Add(25 * time.Second)) {
		t.Fatalf("oldest entries were not dropped first: %v", r.AccessHistory[0].At)
	}
}

func TestEncodeDecodeState(t *testing.T) {
	q := QuantumState{ID: "s1", DataID: "d1", Type: Poisoned, PoisonLevel: 0.5, Ciphertext: []byte("ct")}
	body, err := EncodeState(q)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	got, err := DecodeState(body)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if got.ID != q.ID || got.Type != Poisoned || string(got.Ciphertext) != "ct" {
		t.Fatalf("unexpected decode: %+v", got)
	}
	if Checksum(body) != Checksum(append([]byte(nil), body...)) {
		t.Fatal("checksum must be deterministic")
	}
}
