package vars

import (
	"testing"

	"github.com/dummi26/d26run/internal/config"
)

func TestEvaluateLiteralAndConnID(t *testing.T) {
	tmplVars := map[string]config.VarSource{
		"GREETING": {Kind: config.VarLiteral, Literal: "hi"},
		"CONN":     {Kind: config.VarConnectionID},
	}
	pairs, errs := Evaluate(tmplVars, nil, nil, ConnInfo{ConnID: 42})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	got := map[string]string{}
	for _, p := range pairs {
		got[p.Name] = p.Value
	}
	if got["GREETING"] != "hi" || got["CONN"] != "42" {
		t.Fatalf("unexpected pairs: %+v", got)
	}
}

func TestEvaluateMissingInput(t *testing.T) {
	tmplVars := map[string]config.VarSource{
		"X": {Kind: config.VarInput, InputName: "X"},
	}
	_, errs := Evaluate(tmplVars, nil, nil, ConnInfo{})
	if len(errs) != 1 || errs[0].Kind != config.ErrMissingInput {
		t.Fatalf("expected one missing-input error, got %v", errs)
	}
}

func TestEvaluateInputOrDefaultFallsBack(t *testing.T) {
	tmplVars := map[string]config.VarSource{
		"X": {
			Kind:      config.VarInputOrDefault,
			InputName: "X",
			Default:   &config.VarSource{Kind: config.VarLiteral, Literal: "fallback"},
		},
	}
	pairs, errs := Evaluate(tmplVars, nil, nil, ConnInfo{})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if pairs[0].Value != "fallback" {
		t.Fatalf("expected fallback, got %q", pairs[0].Value)
	}

	pairs2, errs2 := Evaluate(tmplVars, map[string]string{"X": "provided"}, nil, ConnInfo{})
	if len(errs2) != 0 || pairs2[0].Value != "provided" {
		t.Fatalf("expected provided input to win, got %+v / %v", pairs2, errs2)
	}
}

func TestEvaluateCommandOutput(t *testing.T) {
	tmplVars := map[string]config.VarSource{
		"OUT": {Kind: config.VarCommandOutput, Command: "/bin/echo", Args: []string{"-n", "hi"}},
	}
	pairs, errs := Evaluate(tmplVars, nil, nil, ConnInfo{})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if pairs[0].Value != "hi" {
		t.Fatalf("got %q, want hi", pairs[0].Value)
	}
}

func TestEvaluateInheritedPairsOverridableByOwn(t *testing.T) {
	inherited := []Pair{{Name: "X", Value: "parent"}}
	tmplVars := map[string]config.VarSource{
		"X": {Kind: config.VarLiteral, Literal: "child"},
	}
	pairs, _ := Evaluate(tmplVars, nil, inherited, ConnInfo{})
	if len(pairs) != 1 || pairs[0].Value != "child" {
		t.Fatalf("expected own var to win over inherited, got %+v", pairs)
	}
}
