package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestDemoCollapsesUnderAttack(t *testing.T) {
	t.Setenv("QSHIELD_DATA_DIR", t.TempDir())
	var out bytes.Buffer
	if err := runDemo(context.Background(), &out, false); err != nil {
		t.Fatalf("demo: %v", err)
	}
	got := out.String()
	for _, want := range []string{"protected ", "owner     success=true", "superposition_collapsed", "final: collapsed=true"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
