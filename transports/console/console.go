// Package console runs conversations in a terminal. Typed lines answer text
// requests; file and recording requests are answered with a file path.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"convoscript/capabilities"
	"convoscript/core"
	"convoscript/engine"
	"convoscript/interpreter"
	"convoscript/media"
	"convoscript/suspension"
)

// ErrInputClosed is returned when input ends while the run still waits for it.
var ErrInputClosed = errors.New("console: input closed")

// Signals is the part of the suspension controller the console drives.
type Signals interface {
	Accept(value any) error
	Press() error
	Release() error
}

// Console is a line-oriented front end.
type Console struct {
	in     io.Reader
	out    io.Writer
	logger *core.Logger

	mu       sync.Mutex
	signals  Signals
	nextPath string

	lines  chan string
	eof    atomic.Bool
	cancel context.CancelFunc
}

var (
	_ suspension.Presenter    = (*Console)(nil)
	_ interpreter.Renderer    = (*Console)(nil)
	_ capabilities.FileSource = (*Console)(nil)
	_ capabilities.Recorder   = (*Console)(nil)
)

// New creates a console over in and out.
func New(in io.Reader, out io.Writer, logger *core.Logger) *Console {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Console{
		in:     in,
		out:    out,
		logger: logger.With(map[string]interface{}{"component": "console"}),
		lines:  make(chan string, 16),
	}
}

// Serve runs target once over runtime, reading answers from in and
// rendering to out.
func Serve(ctx context.Context, runtime engine.Runtime, target interpreter.Target, in io.Reader, out io.Writer, logger *core.Logger) (*interpreter.Outcome, error) {
	c := New(in, out, logger)
	es, err := runtime.NewSession(engine.Collaborators{Presenter: c, Renderer: c, Files: c, Recorder: c, Logger: logger})
	if err != nil {
		return nil, err
	}
	c.Attach(es.Controller)
	return c.Run(ctx, es.Interpreter, target)
}

// Attach connects the controller whose requests the console answers.
func (c *Console) Attach(signals Signals) {
	c.mu.Lock()
	c.signals = signals
	c.mu.Unlock()
}

// Run reads input while interp runs target. It ends early with
// ErrInputClosed when input runs out before the run stops asking.
func (c *Console) Run(ctx context.Context, interp *interpreter.Interpreter, target interpreter.Target) (*interpreter.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLines(ctx)
	out, err := interp.Run(ctx, target)
	if err != nil && c.eof.Load() && errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("%w: %v", ErrInputClosed, err)
	}
	if err == nil && out.Return != nil {
		c.printf("return: %v\n", map[string]any(out.Return))
	}
	return out, err
}

// PresentInput prompts for the request and answers it from the next line.
func (c *Console) PresentInput(ctx context.Context, req suspension.Request) error {
	switch req.Type {
	case suspension.Text:
		c.printf("> ")
	case suspension.Transcription:
		c.printf("recording file> ")
	default:
		c.printf("%s file> ", req.Type)
	}
	go c.answer(ctx, req)
	return nil
}

// DismissInput is a no-op; prompts are not persistent.
func (c *Console) DismissInput(context.Context, suspension.Request) error {
	return nil
}

// RenderEntry prints an entry as "Role: content". Media shows as a summary.
func (c *Console) RenderEntry(entry core.TranscriptEntry) {
	text := entry.Text()
	if entry.Kind != core.EntryText {
		if b, ok := media.AsBlob(entry.Content); ok {
			text = fmt.Sprintf("[%s] %s", entry.Kind, b)
		} else {
			text = fmt.Sprintf("[%s] %s", entry.Kind, text)
		}
	}
	c.printf("%s: %s\n", entry.Role, text)
}

// SetBusy prints a marker while a capability is running.
func (c *Console) SetBusy(busy bool) {
	if busy {
		c.printf("...\n")
	}
}

// SelectFile loads a file from a path: the one given with the accepted
// request, or one asked for now. Unreadable paths are asked for again.
func (c *Console) SelectFile(ctx context.Context, fileType string) (any, error) {
	b, err := c.loadFromPath(ctx, fileType+" file> ")
	if err != nil {
		return nil, err
	}
	return b, nil
}

// StartRecording is a no-op; recordings are read from files.
func (c *Console) StartRecording(context.Context) error {
	return nil
}

// StopRecording loads the recording file.
func (c *Console) StopRecording(ctx context.Context) (media.Blob, error) {
	return c.loadFromPath(ctx, "recording file> ")
}

func (c *Console) answer(ctx context.Context, req suspension.Request) {
	line, err := c.next(ctx)
	if err != nil {
		return
	}
	c.mu.Lock()
	signals := c.signals
	if req.Type != suspension.Text {
		c.nextPath = line
	}
	c.mu.Unlock()
	if signals == nil {
		c.logger.Warn("no controller attached, dropping input")
		return
	}

	switch req.Type {
	case suspension.Text:
		err = signals.Accept(line)
	case suspension.Transcription:
		if err = signals.Press(); err == nil {
			err = signals.Release()
		}
	default:
		err = signals.Accept(line)
	}
	if err != nil {
		c.logger.With(map[string]interface{}{"error": err}).Warn("input rejected")
	}
}

func (c *Console) loadFromPath(ctx context.Context, prompt string) (media.Blob, error) {
	c.mu.Lock()
	path := c.nextPath
	c.nextPath = ""
	c.mu.Unlock()

	for {
		if path == "" {
			c.printf("%s", prompt)
			line, err := c.next(ctx)
			if err != nil {
				return media.Blob{}, err
			}
			path = line
		}
		b, err := LoadFile(path)
		if err == nil {
			return b, nil
		}
		c.printf("cannot read %s: %v\n", path, err)
		path = ""
	}
}

// next returns the next input line. When input is exhausted the run is
// cancelled.
func (c *Console) next(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			c.eof.Store(true)
			c.mu.Lock()
			cancel := c.cancel
			c.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			return "", ErrInputClosed
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Console) readLines(ctx context.Context) {
	defer close(c.lines)
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		select {
		case c.lines <- strings.TrimSpace(scanner.Text()):
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.With(map[string]interface{}{"error": err}).Warn("reading input failed")
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// LoadFile reads path into a blob, typing it by extension and then by content.
func LoadFile(path string) (media.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return media.Blob{}, err
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if base, _, err := mime.ParseMediaType(mimeType); err == nil && !strings.HasPrefix(base, "text/") {
		mimeType = base
	}
	return media.Blob{MIMEType: mimeType, Data: data, Name: filepath.Base(path)}, nil
}
