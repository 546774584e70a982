package expression

import (
	"errors"
	"math"
	"testing"

	"convoscript/core"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1===1", "1==1"},
		{"a !== b", "a != b"},
		{`name === "a===b"`, `name == "a===b"`},
		{`x == 'it\'s ==='`, `x == 'it\'s ==='`},
		{"a > b", "a > b"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEvaluateComparisons(t *testing.T) {
	ev := New()
	tests := []struct {
		src  string
		want bool
	}{
		{"1===1", true},
		{"1===2", false},
		{"1 !== 2", true},
		{"2 > 1 && 'a' == 'a'", true},
		{"!(1 == 1)", false},
	}
	for _, tt := range tests {
		got, err := ev.EvaluateBool(tt.src, nil)
		if err != nil {
			t.Fatalf("EvaluateBool(%q) error: %v", tt.src, err)
		}
		if got != tt.want {
			t.Errorf("EvaluateBool(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestEvaluatePathLookup(t *testing.T) {
	ev := New()
	env := map[string]any{
		"arrays": map[string]any{
			"A": []any{
				map[string]any{"role": "function", "response": "hello"},
			},
		},
	}
	got, err := ev.Evaluate(`arrays.A[0].response`, env)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %v, want hello", got)
	}

	ok, err := ev.EvaluateBool(`arrays.A[0].response === "hello"`, env)
	if err != nil || !ok {
		t.Fatalf("EvaluateBool = %v, %v; want true, nil", ok, err)
	}
}

func TestEvaluateNotMemoized(t *testing.T) {
	ev := New()
	rec := map[string]any{"response": "first"}
	env := map[string]any{"arrays": map[string]any{"A": []any{rec}}}

	first, _ := ev.Evaluate("arrays.A[0].response", env)
	rec["response"] = "second"
	second, _ := ev.Evaluate("arrays.A[0].response", env)

	if first != "first" || second != "second" {
		t.Fatalf("got %v then %v, want first then second", first, second)
	}
}

func TestEvaluateUnknownName(t *testing.T) {
	ev := New()
	_, err := ev.Evaluate("missing.value > 1", map[string]any{"arrays": map[string]any{}})
	if err == nil {
		t.Fatal("expected error for unknown name")
	}
	var evalErr *core.ExpressionEvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("error type = %T, want *core.ExpressionEvaluationError", err)
	}
	if evalErr.Expression != "missing.value > 1" {
		t.Errorf("Expression = %q", evalErr.Expression)
	}
}

func TestNullAliases(t *testing.T) {
	ev := New()
	ok, err := ev.EvaluateBool("latest == null", map[string]any{"latest": nil})
	if err != nil {
		t.Fatalf("EvaluateBool error: %v", err)
	}
	if !ok {
		t.Fatal("latest == null should be true when latest is nil")
	}
}

func TestEnvFunctions(t *testing.T) {
	ev := New()
	var captured any
	env := map[string]any{
		"record": func(v any) any {
			captured = v
			return v
		},
	}
	if _, err := ev.Evaluate(`record("x")`, env); err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if captured != "x" {
		t.Fatalf("captured = %v, want x", captured)
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{"", false},
		{"false", true},
		{0, false},
		{0.0, false},
		{math.NaN(), false},
		{int64(3), true},
		{[]any{}, true},
		{map[string]any{}, true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.in); got != tt.want {
			t.Errorf("Truthy(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsReference(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"${arrays.A}", true},
		{"${}", false},
		{"$arrays", false},
		{"plain", false},
		{"${a} tail", false},
	}
	for _, tt := range tests {
		if got := IsReference(tt.in); got != tt.want {
			t.Errorf("IsReference(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if body := ReferenceBody("${arrays.A[0]}"); body != "arrays.A[0]" {
		t.Errorf("ReferenceBody = %q", body)
	}
}
