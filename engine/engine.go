// Package engine assembles the per-conversation object graph: a capability
// dispatcher, a suspension controller and an interpreter sharing one store.
package engine

import (
	"fmt"
	"time"

	"convoscript/capabilities"
	"convoscript/core"
	"convoscript/interpreter"
	"convoscript/store"
	"convoscript/suspension"
)

// Runtime holds what every conversation shares.
type Runtime struct {
	Store    *store.Store
	Provider capabilities.Provider
	APIToken string

	Delay            time.Duration
	DisableSnapshots bool
	MaxDepth         int
	LogDir           string
	Logger           *core.Logger
}

// Collaborators are the front-end pieces one conversation talks to.
// Files and Recorder may be nil when the front end cannot supply them.
type Collaborators struct {
	Presenter suspension.Presenter
	Renderer  interpreter.Renderer
	Files     capabilities.FileSource
	Recorder  capabilities.Recorder
	// Logger overrides Runtime.Logger for this conversation.
	Logger *core.Logger
}

// Session is one wired conversation.
type Session struct {
	Dispatcher  *capabilities.Dispatcher
	Controller  *suspension.Controller
	Interpreter *interpreter.Interpreter
}

// NewSession wires a conversation over the shared runtime.
func (r Runtime) NewSession(c Collaborators) (*Session, error) {
	logger := c.Logger
	if logger == nil {
		logger = r.Logger
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	dispatcher, err := capabilities.NewDispatcher(capabilities.Config{
		Provider: r.Provider,
		Files:    c.Files,
		Recorder: c.Recorder,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: dispatcher: %w", err)
	}
	controller, err := suspension.NewController(c.Presenter, dispatcher, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: suspension: %w", err)
	}
	interp, err := interpreter.New(interpreter.Config{
		Store:            r.Store,
		Dispatcher:       dispatcher,
		Suspension:       controller,
		Renderer:         c.Renderer,
		APIToken:         r.APIToken,
		Delay:            r.Delay,
		DisableSnapshots: r.DisableSnapshots,
		MaxDepth:         r.MaxDepth,
		LogDir:           r.LogDir,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: interpreter: %w", err)
	}
	return &Session{Dispatcher: dispatcher, Controller: controller, Interpreter: interp}, nil
}
