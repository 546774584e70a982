package interpreter

import (
	"fmt"

	"convoscript/core"
)

// Phase is the coarse state of the interpreter.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseAwaitingCapability
	PhaseAwaitingInput
	PhaseBranching
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseAwaitingCapability:
		return "awaiting_capability"
	case PhaseAwaitingInput:
		return "awaiting_input"
	case PhaseBranching:
		return "branching"
	case PhaseDone:
		return "done"
	default:
		return "idle"
	}
}

// State is a snapshot of what the most recently active run is doing.
type State struct {
	Phase  Phase
	RunID  string
	Script string
	Index  int
	Depth  int
	Return core.Instruction
}

func (s State) String() string {
	switch s.Phase {
	case PhaseIdle:
		return "idle"
	case PhaseDone:
		return fmt.Sprintf("done(%s)", s.Script)
	}
	return fmt.Sprintf("%s(%s[%d])", s.Phase, s.Script, s.Index)
}

// Vars are the context variables of one script level: the best-known
// text, image and sound so far, plus the level's system prompt.
type Vars struct {
	LatestMessage any
	LatestImage   any
	LatestSound   any
	SystemPrompt  any
}

func (v Vars) env() map[string]any {
	return map[string]any{
		"latestMessage": v.LatestMessage,
		"latestImage":   v.LatestImage,
		"latestSound":   v.LatestSound,
		"systemPrompt":  v.SystemPrompt,
	}
}
