// Package suspension parks a run until the user supplies input.
package suspension

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"convoscript/capabilities"
	"convoscript/core"
	"convoscript/media"

	"github.com/google/uuid"
)

var (
	// ErrSuspensionPending is returned by Await while another request is outstanding.
	ErrSuspensionPending = errors.New("suspension: an input request is already pending")
	// ErrNoPendingInput is returned by a signal that arrives with nothing to resolve.
	ErrNoPendingInput = errors.New("suspension: no input request is pending")
	// ErrUnexpectedSignal is returned by a signal that does not apply to the pending type.
	ErrUnexpectedSignal = errors.New("suspension: signal does not match the pending input type")
	// ErrUnsupportedInput is returned by Await for an unknown input type.
	ErrUnsupportedInput = errors.New("suspension: unsupported input type")
)

// InputType is the kind of input a request waits for.
type InputType string

const (
	Text          InputType = "text"
	Image         InputType = "image"
	Audio         InputType = "audio"
	Sound         InputType = "sound"
	Transcription InputType = "transcription"
)

// ParseInputType maps a declared type (case-insensitive) to an InputType.
func ParseInputType(s string) (InputType, error) {
	switch t := InputType(strings.ToLower(strings.TrimSpace(s))); t {
	case Text, Image, Audio, Sound, Transcription:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedInput, s)
}

// IsFile reports whether the type is satisfied by a file upload.
func (t InputType) IsFile() bool {
	return t == Image || t == Audio || t == Sound
}

// Request describes one outstanding suspension.
type Request struct {
	ID   string
	Type InputType
}

// Presenter arms and disarms the input controls a request needs.
type Presenter interface {
	PresentInput(ctx context.Context, req Request) error
	DismissInput(ctx context.Context, req Request) error
}

// Capabilities is the part of the dispatcher the controller drives.
type Capabilities interface {
	SelectFile(ctx context.Context, fileType string) (any, error)
	StartRecording(ctx context.Context) error
	Call(ctx context.Context, name string, params capabilities.Params) (any, error)
}

type result struct {
	value any
	err   error
}

type pending struct {
	req       Request
	ctx       context.Context
	params    capabilities.Params
	done      chan result
	busy      bool
	recording bool
}

// Controller holds at most one pending request.
type Controller struct {
	presenter Presenter
	caps      Capabilities
	logger    *core.Logger

	mu      sync.Mutex
	pending *pending
}

// NewController wires a controller.
func NewController(presenter Presenter, caps Capabilities, logger *core.Logger) (*Controller, error) {
	var missing []string
	if presenter == nil {
		missing = append(missing, "Presenter")
	}
	if caps == nil {
		missing = append(missing, "Capabilities")
	}
	if len(missing) > 0 {
		return nil, &core.MissingParameterError{Params: missing}
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Controller{
		presenter: presenter,
		caps:      caps,
		logger:    logger.With(map[string]interface{}{"component": "suspension"}),
	}, nil
}

// Await presents a request for inputType and blocks until it is resolved
// or ctx ends. params are handed to the transcription capability.
func (c *Controller) Await(ctx context.Context, inputType string, params capabilities.Params) (any, error) {
	t, err := ParseInputType(inputType)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, ErrSuspensionPending
	}
	p := &pending{
		req:    Request{ID: uuid.NewString(), Type: t},
		ctx:    ctx,
		params: params,
		done:   make(chan result, 1),
	}
	c.pending = p
	c.mu.Unlock()

	log := c.logger.With(map[string]interface{}{"request": p.req.ID, "type": string(t)})
	if err := c.presenter.PresentInput(ctx, p.req); err != nil {
		c.clear(p)
		return nil, fmt.Errorf("suspension: present %s input: %w", t, err)
	}
	log.Debug("awaiting input")

	select {
	case r := <-p.done:
		c.dismiss(p.req)
		if r.err != nil {
			return nil, r.err
		}
		log.Debug("input received")
		return r.value, nil
	case <-ctx.Done():
		c.clear(p)
		c.dismiss(p.req)
		return nil, ctx.Err()
	}
}

// Pending returns the outstanding request, if any.
func (c *Controller) Pending() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Request{}, false
	}
	return c.pending.req, true
}

// Accept is the accept control. For text it resolves with value; for file
// types it starts file selection and resolves with the chosen file.
func (c *Controller) Accept(value any) error {
	c.mu.Lock()
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		return ErrNoPendingInput
	}
	switch {
	case p.req.Type == Text:
		c.mu.Unlock()
		c.resolve(p, result{value: textOf(value)})
		return nil
	case p.req.Type.IsFile():
		if p.busy {
			c.mu.Unlock()
			return nil
		}
		p.busy = true
		c.mu.Unlock()
		go c.selectFile(p)
		return nil
	}
	c.mu.Unlock()
	return ErrUnexpectedSignal
}

// Press starts recording for a transcription request.
func (c *Controller) Press() error {
	c.mu.Lock()
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		return ErrNoPendingInput
	}
	if p.req.Type != Transcription {
		c.mu.Unlock()
		return ErrUnexpectedSignal
	}
	if p.recording || p.busy {
		c.mu.Unlock()
		return nil
	}
	p.recording = true
	c.mu.Unlock()

	if err := c.caps.StartRecording(p.ctx); err != nil {
		c.mu.Lock()
		p.recording = false
		c.mu.Unlock()
		return fmt.Errorf("suspension: start recording: %w", err)
	}
	return nil
}

// Release stops the recording and resolves with its transcript.
func (c *Controller) Release() error {
	c.mu.Lock()
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		return ErrNoPendingInput
	}
	if p.req.Type != Transcription {
		c.mu.Unlock()
		return ErrUnexpectedSignal
	}
	if !p.recording {
		c.mu.Unlock()
		return nil
	}
	p.recording = false
	p.busy = true
	c.mu.Unlock()

	go c.transcribe(p)
	return nil
}

func (c *Controller) selectFile(p *pending) {
	fileType := string(p.req.Type)
	if p.req.Type == Sound {
		fileType = string(Audio)
	}
	file, err := c.caps.SelectFile(p.ctx, fileType)
	if err != nil {
		c.resolve(p, result{err: err})
		return
	}
	if file == nil {
		c.logger.Warn("no file selected, waiting for another upload", "request", p.req.ID)
		c.rearm(p)
		return
	}
	if p.req.Type != Image {
		file = media.ToDataURL(file)
	}
	c.resolve(p, result{value: file})
}

func (c *Controller) transcribe(p *pending) {
	text, err := c.caps.Call(p.ctx, capabilities.StopRecording, p.params)
	if err != nil {
		c.resolve(p, result{err: err})
		return
	}
	if text == nil {
		c.logger.Warn("recording produced no transcript, waiting for another recording", "request", p.req.ID)
		c.rearm(p)
		return
	}
	c.resolve(p, result{value: text})
}

func (c *Controller) rearm(p *pending) {
	c.mu.Lock()
	p.busy = false
	c.mu.Unlock()
}

// resolve hands r to the awaiting run if p is still the pending request.
func (c *Controller) resolve(p *pending, r result) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()
	p.done <- r
}

func (c *Controller) clear(p *pending) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}

func (c *Controller) dismiss(req Request) {
	if err := c.presenter.DismissInput(context.Background(), req); err != nil {
		c.logger.With(map[string]interface{}{"error": err}).Warn("failed to dismiss input")
	}
}

func textOf(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}
