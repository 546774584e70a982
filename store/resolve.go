package store

import (
	"sort"

	"convoscript/core"
	"convoscript/expression"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// maxResolveDepth bounds chains of references that resolve to further
// references, which is how reference cycles show up.
const maxResolveDepth = 32

// resolver walks a value and evaluates lazy references. chain holds the
// scripts whose resolved view is being built further up the stack; those
// are handed to expressions raw so a script can refer to itself.
type resolver struct {
	store *Store
	chain map[string]bool
	depth int
}

func (s *Store) newResolver() *resolver {
	return &resolver{store: s, chain: map[string]bool{}}
}

func (r *resolver) deeper(chain map[string]bool) *resolver {
	return &resolver{store: r.store, chain: chain, depth: r.depth + 1}
}

func (r *resolver) value(v any) any {
	switch t := v.(type) {
	case string:
		if expression.IsReference(t) {
			return r.reference(t)
		}
		return t
	case core.Instruction:
		return r.record(t)
	case map[string]any:
		return r.record(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.value(item)
		}
		return out
	case []core.Instruction:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.value(item)
		}
		return out
	}
	return v
}

// record resolves fields in key order so evaluation side effects (logging)
// happen in a stable order.
func (r *resolver) record(m map[string]any) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(m))
	for _, k := range keys {
		out[k] = r.value(m[k])
	}
	return out
}

func (r *resolver) reference(text string) any {
	logger := r.store.logger
	if r.depth >= maxResolveDepth {
		logger.With(map[string]interface{}{"expression": text}).Error("reference depth exceeded, leaving expression unresolved")
		return text
	}
	src := expression.ReferenceBody(text)
	out, err := r.store.evaluator.Evaluate(src, r.env(src))
	if err != nil {
		logger.With(map[string]interface{}{"expression": src, "error": err}).Error("failed to evaluate expression")
		return text
	}
	if s, ok := out.(string); ok && s == text {
		return text
	}
	return r.deeper(r.chain).value(out)
}

// env binds the store for evaluating src. Scripts src names statically
// (arrays.name or arrays["name"]) are resolved before evaluation so a path
// through them sees resolved values at every step, as a property-by-property
// read would. Other scripts are bound raw.
func (r *resolver) env(src string) map[string]any {
	view := r.store.rawView()
	for _, name := range referencedScripts(src) {
		if r.chain[name] {
			continue
		}
		raw, ok := view[name].([]any)
		if !ok {
			continue
		}
		chain := make(map[string]bool, len(r.chain)+1)
		for k := range r.chain {
			chain[k] = true
		}
		chain[name] = true
		view[name] = r.deeper(chain).value(raw)
	}
	return map[string]any{StoreVariable: view, StoreAlias: view}
}

// referencedScripts lists script names src reaches through the store
// binding with a constant key. Unparseable sources yield none; evaluation
// reports the syntax error itself.
func referencedScripts(src string) []string {
	tree, err := parser.Parse(expression.Normalize(src))
	if err != nil {
		return nil
	}
	refs := &scriptRefs{seen: map[string]bool{}}
	ast.Walk(&tree.Node, refs)
	return refs.names
}

type scriptRefs struct {
	names []string
	seen  map[string]bool
}

func (v *scriptRefs) Visit(node *ast.Node) {
	member, ok := (*node).(*ast.MemberNode)
	if !ok {
		return
	}
	ident, ok := member.Node.(*ast.IdentifierNode)
	if !ok || (ident.Value != StoreVariable && ident.Value != StoreAlias) {
		return
	}
	prop, ok := member.Property.(*ast.StringNode)
	if !ok || v.seen[prop.Value] {
		return
	}
	v.seen[prop.Value] = true
	v.names = append(v.names, prop.Value)
}
