package strategy

import (
	"testing"

	"github.com/coachpo/takt/errs"
)

func TestSpecOptionCoercions(t *testing.T) {
	spec := Spec{Options: map[string]any{
		"gamma":    2,       // yaml integers arrive as int
		"horizon":  20.0,    // and sometimes as float64
		"z":        "large", // wrong type falls back
		"label":    "pairs",
		"quantity": int64(7),
	}}

	if got := spec.Float("gamma", 1); got != 2 {
		t.Fatalf("Float(gamma) = %v", got)
	}
	if got := spec.Float("quantity", 1); got != 7 {
		t.Fatalf("Float(quantity) = %v", got)
	}
	if got := spec.Int("horizon", 5); got != 20 {
		t.Fatalf("Int(horizon) = %v", got)
	}
	if got := spec.Float("z", 2.5); got != 2.5 {
		t.Fatalf("Float(z) fallback = %v", got)
	}
	if got := spec.Str("label", ""); got != "pairs" {
		t.Fatalf("Str(label) = %q", got)
	}
	if got := spec.Str("missing", "default"); got != "default" {
		t.Fatalf("Str(missing) = %q", got)
	}
}

func TestRegistryResolvesBuiltins(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg)

	systems := reg.Systems()
	found := false
	for _, name := range systems {
		if name == "pair" {
			found = true
		}
	}
	if !found {
		t.Fatalf("builtins missing pair strategy: %v", systems)
	}

	_, err := reg.Create("unknown", Spec{Name: "x"})
	if errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("unknown system error = %v", err)
	}
}
