// Package interpreter executes scripts held in a store: it walks their
// instructions in order, calls capabilities, parks on user input and
// follows conditional branches.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"convoscript/capabilities"
	"convoscript/core"
	"convoscript/store"

	"github.com/google/uuid"
)

const (
	// DefaultDelay is the pause after every instruction.
	DefaultDelay = 100 * time.Millisecond
	// DefaultMaxDepth bounds nested branch recursion.
	DefaultMaxDepth = 10000
)

// ErrMaxDepth is returned when branches nest deeper than the configured limit.
var ErrMaxDepth = errors.New("interpreter: maximum branch depth exceeded")

// Renderer displays transcript entries and the busy indicator.
type Renderer interface {
	RenderEntry(entry core.TranscriptEntry)
	SetBusy(busy bool)
}

// Dispatcher invokes capabilities by name.
type Dispatcher interface {
	Call(ctx context.Context, name string, params capabilities.Params) (any, error)
	SelectFile(ctx context.Context, fileType string) (any, error)
}

// Suspender parks the run until the user supplies input of a type.
type Suspender interface {
	Await(ctx context.Context, inputType string, params capabilities.Params) (any, error)
}

// Config wires an Interpreter. Store, Dispatcher, Suspension, Renderer
// and APIToken are required.
type Config struct {
	Store      *store.Store
	Dispatcher Dispatcher
	Suspension Suspender
	Renderer   Renderer
	APIToken   string

	// Delay is the pause after each instruction; zero means DefaultDelay
	// and a negative value disables it.
	Delay time.Duration
	// DisableSnapshots turns off restoring a script after a failed run.
	DisableSnapshots bool
	MaxDepth         int
	// LogDir, when set, receives one JSONL log file per run.
	LogDir string
	Logger *core.Logger
}

// Interpreter runs scripts. It is safe for concurrent use; top-level runs
// of the same script name are serialized through the store's lease, so
// interpreters sharing a store never interleave them.
type Interpreter struct {
	store      *store.Store
	dispatcher Dispatcher
	suspension Suspender
	renderer   Renderer
	apiToken   string
	delay      time.Duration
	snapshots  bool
	maxDepth   int
	logDir     string
	logger     *core.Logger

	stateMu sync.RWMutex
	state   State
}

// New validates cfg and builds an Interpreter.
func New(cfg Config) (*Interpreter, error) {
	var missing []string
	if cfg.Store == nil {
		missing = append(missing, "Store")
	}
	if cfg.Dispatcher == nil {
		missing = append(missing, "Dispatcher")
	}
	if cfg.Suspension == nil {
		missing = append(missing, "Suspension")
	}
	if cfg.Renderer == nil {
		missing = append(missing, "Renderer")
	}
	if cfg.APIToken == "" {
		missing = append(missing, "APIToken")
	}
	if len(missing) > 0 {
		return nil, &core.MissingParameterError{Params: missing}
	}

	delay := cfg.Delay
	switch {
	case delay == 0:
		delay = DefaultDelay
	case delay < 0:
		delay = 0
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Interpreter{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		suspension: cfg.Suspension,
		renderer:   cfg.Renderer,
		apiToken:   cfg.APIToken,
		delay:      delay,
		snapshots:  !cfg.DisableSnapshots,
		maxDepth:   maxDepth,
		logDir:     cfg.LogDir,
		logger:     logger.With(map[string]interface{}{"component": "interpreter"}),
	}, nil
}

// Store returns the store the interpreter reads scripts from.
func (in *Interpreter) Store() *store.Store {
	return in.store
}

// State returns the state of the most recently active run.
func (in *Interpreter) State() State {
	in.stateMu.RLock()
	defer in.stateMu.RUnlock()
	return in.state
}

func (in *Interpreter) setState(rs *runState, phase Phase, script string, index int) {
	st := State{Phase: phase, RunID: rs.id, Script: script, Index: index, Depth: rs.depth}
	if phase == PhaseDone {
		st.Return = rs.ret
	}
	in.stateMu.Lock()
	in.state = st
	in.stateMu.Unlock()
	rs.logger.Debug("state", "state", st.String())
}

// Target selects what Run executes: a registered script or an inline sequence.
type Target struct {
	Name   string
	Inline []core.Instruction
}

// Script targets the script registered under name.
func Script(name string) Target {
	return Target{Name: name}
}

// Inline targets an unregistered instruction sequence.
func Inline(instructions []core.Instruction) Target {
	return Target{Inline: instructions}
}

// Outcome is what a finished run hands back.
type Outcome struct {
	RunID  string
	Script string
	// Return is the last return instruction captured, or nil.
	Return core.Instruction
	// Vars are the top-level context variables at the end of the run.
	Vars Vars
}

// runState is shared by every level of one Run.
type runState struct {
	id     string
	logger *core.Logger
	ret    core.Instruction
	depth  int
}

// Run executes target to completion. Errors from unknown scripts and
// capabilities, cancellation and suspension failures end the run; the
// named script is then restored to its state before the run.
func (in *Interpreter) Run(ctx context.Context, target Target) (*Outcome, error) {
	rs := &runState{id: uuid.NewString()}
	label := target.Name
	if label == "" {
		label = "inline"
	}
	rs.logger = in.logger.With(map[string]interface{}{"run": rs.id, "script": label})
	if in.logDir != "" {
		writer, err := core.NewRunLogWriter(in.logDir, rs.id, label)
		if err != nil {
			rs.logger.With(map[string]interface{}{"error": err}).Warn("run log disabled")
		} else {
			defer writer.Close()
			rs.logger = core.NewRunLogger(rs.logger, writer)
		}
	}
	ctx = core.ContextWithRunLogger(ctx, rs.logger)

	var (
		vars Vars
		err  error
	)
	if target.Name != "" {
		script, getErr := in.store.Get(target.Name)
		if getErr != nil {
			return nil, getErr
		}
		release, leaseErr := in.store.Acquire(ctx, target.Name)
		if leaseErr != nil {
			return nil, leaseErr
		}
		defer release()
		vars, err = in.runNamed(ctx, rs, target.Name, script)
	} else {
		vars, err = in.exec(ctx, rs, label, in.store.Detached(target.Inline))
	}

	in.setState(rs, PhaseDone, label, -1)
	if err != nil {
		rs.logger.With(map[string]interface{}{"error": err}).Warn("run failed")
		return nil, fmt.Errorf("interpreter: run %s: %w", label, err)
	}
	rs.logger.Info("run finished")
	return &Outcome{RunID: rs.id, Script: label, Return: rs.ret, Vars: vars}, nil
}

// runNamed executes a registered script inside a snapshot: on failure the
// entry is restored, and the scratch registration is removed exactly once.
func (in *Interpreter) runNamed(ctx context.Context, rs *runState, name string, script *store.Script) (Vars, error) {
	if !in.snapshots {
		return in.exec(ctx, rs, name, script)
	}
	scratch, err := in.store.Snapshot(name)
	if err != nil {
		rs.logger.With(map[string]interface{}{"error": err}).Warn("snapshot failed, running without one")
		return in.exec(ctx, rs, name, script)
	}

	var once sync.Once
	finalize := func(failed bool) {
		once.Do(func() {
			if failed {
				if err := in.store.Restore(name, scratch); err != nil {
					rs.logger.With(map[string]interface{}{"error": err}).Error("failed to restore script")
				} else {
					rs.logger.Info("restored script after failed run", "name", name)
				}
			}
			if err := in.store.Remove(scratch); err != nil {
				rs.logger.With(map[string]interface{}{"error": err}).Warn("failed to remove snapshot")
			}
		})
	}
	defer func() {
		if r := recover(); r != nil {
			finalize(true)
			panic(r)
		}
	}()

	vars, err := in.exec(ctx, rs, name, script)
	finalize(err != nil)
	return vars, err
}

// params builds the default capability parameters for the current level.
func (in *Interpreter) params(vars Vars) capabilities.Params {
	return capabilities.Params{
		capabilities.ParamAPIToken:     in.apiToken,
		capabilities.ParamImage:        vars.LatestImage,
		capabilities.ParamFile:         vars.LatestSound,
		capabilities.ParamPrompt:       vars.LatestMessage,
		capabilities.ParamSystemPrompt: vars.SystemPrompt,
		capabilities.ParamLogging:      false,
	}
}

func (in *Interpreter) pause(ctx context.Context) error {
	if in.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(in.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
