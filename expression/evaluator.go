// Package expression evaluates the small expression language scripts use for
// `${...}` references, condition predicates and code instructions.
//
// Expressions are compiled by github.com/expr-lang/expr, so they can read
// the environment they are given and call the functions it exposes, but they
// cannot reach anything else. Scripts are commonly written with JavaScript
// habits, so the evaluator accepts `===`/`!==` and binds `null` and
// `undefined` to nil.
package expression

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"

	"convoscript/core"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and runs expressions. Compiled programs are cached per
// source text and environment shape; results are never cached.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New returns an empty evaluator.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate runs src against env. Failures are returned as
// *core.ExpressionEvaluationError.
func (e *Evaluator) Evaluate(src string, env map[string]any) (any, error) {
	env = withNilAliases(env)
	program, err := e.compile(src, env)
	if err != nil {
		return nil, &core.ExpressionEvaluationError{Expression: src, Err: err}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, &core.ExpressionEvaluationError{Expression: src, Err: err}
	}
	return out, nil
}

// EvaluateBool runs src and reports the truthiness of the result.
func (e *Evaluator) EvaluateBool(src string, env map[string]any) (bool, error) {
	out, err := e.Evaluate(src, env)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

func (e *Evaluator) compile(src string, env map[string]any) (*vm.Program, error) {
	key := src + "\x00" + envSignature(env)

	e.mu.RLock()
	program, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(Normalize(src), expr.Env(env))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = program
	e.mu.Unlock()
	return program, nil
}

// envSignature describes the names and dynamic types in env; programs
// compiled against one shape are not reused for another.
func envSignature(env map[string]any) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s:%v;", k, reflect.TypeOf(env[k]))
	}
	return b.String()
}

func withNilAliases(env map[string]any) map[string]any {
	out := make(map[string]any, len(env)+2)
	out["null"] = nil
	out["undefined"] = nil
	for k, v := range env {
		out[k] = v
	}
	return out
}

// Truthy applies JavaScript truthiness: nil, false, zero, NaN and the empty
// string are false; everything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return !reflect.ValueOf(t).IsZero()
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice) && rv.IsNil() {
		return false
	}
	return true
}

// IsReference reports whether s is a lazy reference of the form ${expr}.
func IsReference(s string) bool {
	return len(s) > 3 && strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}")
}

// ReferenceBody strips the ${ } wrapper.
func ReferenceBody(s string) string {
	return s[2 : len(s)-1]
}

// Normalize rewrites JavaScript strict (in)equality operators outside of
// string literals.
func Normalize(src string) string {
	if !strings.Contains(src, "==") {
		return src
	}
	var b strings.Builder
	b.Grow(len(src))
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(src) {
				i++
				b.WriteByte(src[i])
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '\'' || c == '`':
			quote = c
			b.WriteByte(c)
		case strings.HasPrefix(src[i:], "==="):
			b.WriteString("==")
			i += 2
		case strings.HasPrefix(src[i:], "!=="):
			b.WriteString("!=")
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
