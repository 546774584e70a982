package store

import (
	"sync"

	"convoscript/core"
)

// Script is a handle to one instruction sequence. Reads through At resolve
// lazy references; writes through Set are stored literally.
type Script struct {
	mu           sync.RWMutex
	store        *Store
	instructions []core.Instruction
}

// Len returns the number of instructions.
func (sc *Script) Len() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.instructions)
}

// Raw returns the stored instruction at i without resolving it, or nil
// when i is out of range.
func (sc *Script) Raw(i int) core.Instruction {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if i < 0 || i >= len(sc.instructions) {
		return nil
	}
	return sc.instructions[i]
}

// At returns the instruction at i with every lazy reference resolved
// against the store as it is now.
func (sc *Script) At(i int) core.Instruction {
	raw := sc.Raw(i)
	if raw == nil {
		return nil
	}
	resolved, _ := core.AsRecord(sc.store.Resolve(map[string]any(raw)))
	return core.Instruction(resolved)
}

// Instructions returns every instruction, resolved.
func (sc *Script) Instructions() []core.Instruction {
	n := sc.Len()
	out := make([]core.Instruction, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sc.At(i))
	}
	return out
}

// Set replaces the instruction at i. Out-of-range writes are ignored.
func (sc *Script) Set(i int, instruction core.Instruction) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if i < 0 || i >= len(sc.instructions) {
		return
	}
	sc.instructions[i] = instruction
}

// Clone returns a deep structural copy of the stored instructions.
func (sc *Script) Clone() []core.Instruction {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return copyInstructions(sc.instructions)
}

// Restore replaces the whole sequence.
func (sc *Script) Restore(instructions []core.Instruction) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.instructions = instructions
}

func (sc *Script) rawAny() []any {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	out := make([]any, len(sc.instructions))
	for i, in := range sc.instructions {
		out[i] = map[string]any(in)
	}
	return out
}

func copyInstructions(in []core.Instruction) []core.Instruction {
	out := make([]core.Instruction, len(in))
	for i, instruction := range in {
		if instruction == nil {
			continue
		}
		out[i] = core.Instruction(copyValue(map[string]any(instruction)).(map[string]any))
	}
	return out
}

// copyValue deep-copies records and lists; other values are shared.
func copyValue(v any) any {
	switch t := v.(type) {
	case core.Instruction:
		return copyValue(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	}
	return v
}
