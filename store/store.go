// Package store holds the named scripts and resolves their lazy
// `${...}` references at read time.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"convoscript/core"
	"convoscript/expression"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

const (
	// StoreVariable is the name the whole store is bound to inside expressions.
	StoreVariable = "arrays"
	// StoreAlias is an alternative binding for the same view.
	StoreAlias = "scripts"

	scratchPrefix = "__snapshot__/"
)

// Store is the expression store: script name -> instruction sequence.
// It is safe for concurrent use. Runs that mutate a script hold its lease
// (Acquire) so they never interleave, whichever interpreter drives them.
type Store struct {
	mu        sync.RWMutex
	scripts   map[string]*Script
	evaluator *expression.Evaluator
	logger    *core.Logger

	leaseMu sync.Mutex
	leases  map[string]chan struct{}
}

// New creates an empty store. A nil logger falls back to the global logger.
func New(logger *core.Logger) *Store {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Store{
		scripts:   make(map[string]*Script),
		leases:    make(map[string]chan struct{}),
		evaluator: expression.New(),
		logger:    logger.With(map[string]interface{}{"component": "store"}),
	}
}

// Register deep-copies instructions and stores them under name.
func (s *Store) Register(name string, instructions []core.Instruction) (*Script, error) {
	if core.IsReservedName(name) {
		return nil, &core.IllegalNameError{Name: name}
	}
	copied, err := deepCopyJSON(instructions)
	if err != nil {
		return nil, fmt.Errorf("store: copy %q: %w", name, err)
	}
	return s.insert(name, copied)
}

// RegisterJSON decodes a JSON array of instructions and registers it.
func (s *Store) RegisterJSON(name string, data []byte) (*Script, error) {
	var instructions []core.Instruction
	if err := sonic.Unmarshal(data, &instructions); err != nil {
		return nil, fmt.Errorf("store: decode %q: %w", name, err)
	}
	return s.Register(name, instructions)
}

func (s *Store) insert(name string, instructions []core.Instruction) (*Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.scripts[name]; exists {
		return nil, &core.DuplicateNameError{Name: name}
	}
	script := &Script{store: s, instructions: instructions}
	s.scripts[name] = script
	return script, nil
}

// Get returns the script registered under name. Snapshots are private
// and never returned.
func (s *Store) Get(name string) (*Script, error) {
	if isScratch(name) {
		return nil, &core.NotFoundError{Kind: "script", Name: name}
	}
	return s.lookup(name)
}

func (s *Store) lookup(name string) (*Script, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	script, ok := s.scripts[name]
	if !ok {
		return nil, &core.NotFoundError{Kind: "script", Name: name}
	}
	return script, nil
}

// Remove deletes the script registered under name.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scripts[name]; !ok {
		return &core.NotFoundError{Kind: "script", Name: name}
	}
	delete(s.scripts, name)
	return nil
}

// NameOf finds the name a handle is registered under, by identity.
func (s *Store) NameOf(handle *Script) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, script := range s.scripts {
		if script == handle {
			return name, nil
		}
	}
	return "", &core.NotFoundError{Kind: "script"}
}

// Names lists the user-visible script names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.scripts))
	for name := range s.scripts {
		if isScratch(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detached wraps instructions in a script that reads through this store
// but is not registered in it. Inline branch targets run this way.
func (s *Store) Detached(instructions []core.Instruction) *Script {
	return &Script{store: s, instructions: copyInstructions(instructions)}
}

// Snapshot registers a private copy of the named script and returns the
// scratch name it lives under. The caller owns removing it.
func (s *Store) Snapshot(name string) (string, error) {
	script, err := s.Get(name)
	if err != nil {
		return "", err
	}
	scratch := scratchPrefix + name + "/" + uuid.New().String()
	if _, err := s.insert(scratch, script.Clone()); err != nil {
		return "", err
	}
	return scratch, nil
}

// Restore copies the scratch snapshot back over the named script.
func (s *Store) Restore(name, scratch string) error {
	target, err := s.Get(name)
	if err != nil {
		return err
	}
	snapshot, err := s.lookup(scratch)
	if err != nil {
		return err
	}
	target.Restore(snapshot.Clone())
	return nil
}

// Resolve returns v with every lazy reference evaluated against the
// current store contents. Failed references degrade to their own text.
func (s *Store) Resolve(v any) any {
	return s.newResolver().value(v)
}

// Evaluate runs src with the store bound as StoreVariable plus extra
// bindings. Unlike Resolve it reports failures to the caller.
func (s *Store) Evaluate(src string, extra map[string]any) (any, error) {
	r := s.newResolver()
	env := r.env(src)
	for k, v := range extra {
		env[k] = v
	}
	return s.evaluator.Evaluate(src, env)
}

// Acquire takes the lease on name, waiting while another run holds it.
// The returned func releases it.
func (s *Store) Acquire(ctx context.Context, name string) (func(), error) {
	s.leaseMu.Lock()
	lease, ok := s.leases[name]
	if !ok {
		lease = make(chan struct{}, 1)
		s.leases[name] = lease
	}
	s.leaseMu.Unlock()

	select {
	case lease <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-lease }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func isScratch(name string) bool {
	return strings.HasPrefix(name, scratchPrefix)
}

// rawView returns name -> []any of the stored records, shared, not copied.
func (s *Store) rawView() map[string]any {
	s.mu.RLock()
	scripts := make(map[string]*Script, len(s.scripts))
	for name, script := range s.scripts {
		if isScratch(name) {
			continue
		}
		scripts[name] = script
	}
	s.mu.RUnlock()

	view := make(map[string]any, len(scripts))
	for name, script := range scripts {
		view[name] = script.rawAny()
	}
	return view
}

// deepCopyJSON copies instructions through a JSON round trip so the stored
// value shares nothing with the caller and holds only JSON-shaped data.
func deepCopyJSON(instructions []core.Instruction) ([]core.Instruction, error) {
	if instructions == nil {
		return []core.Instruction{}, nil
	}
	data, err := sonic.Marshal(instructions)
	if err != nil {
		return nil, err
	}
	var out []core.Instruction
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
