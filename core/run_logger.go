package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// runLoggerKey is the context key for storing a per-run logger.
type runLoggerKey struct{}

// ContextWithRunLogger returns a new context carrying the run logger.
func ContextWithRunLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, runLoggerKey{}, logger)
}

// RunLoggerFromContext extracts the run logger from the context, or nil.
func RunLoggerFromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(runLoggerKey{}).(*Logger); ok {
		return l
	}
	return nil
}

// RunMetadata is the first JSON line in each run log file.
type RunMetadata struct {
	RunID     string `json:"run_id"`
	Script    string `json:"script,omitempty"`
	StartedAt string `json:"started_at"`
}

// LogEntry is a single JSON log line written after the metadata line.
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// LogWriter abstracts the destination for run log entries.
type LogWriter interface {
	Write(level Level, msg string, attrs map[string]interface{})
	Close()
}

// RunLogWriter writes structured log lines to a per-run .jsonl file.
type RunLogWriter struct {
	mu     sync.Mutex
	file   *os.File
	logDir string
	runID  string
}

// NewRunLogWriter creates the log directory and run log file, writes the
// metadata first line, and creates an .active marker file that is removed on Close.
func NewRunLogWriter(logDir, runID, script string) (*RunLogWriter, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("run logger: mkdir %q: %w", logDir, err)
	}

	filePath := filepath.Join(logDir, runID+".jsonl")
	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("run logger: create %q: %w", filePath, err)
	}

	meta := RunMetadata{
		RunID:     runID,
		Script:    script,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, _ := sonic.Marshal(meta)
	f.Write(data)
	f.Write([]byte("\n"))

	activePath := filepath.Join(logDir, runID+".active")
	if af, err := os.Create(activePath); err == nil {
		af.Close()
	}

	return &RunLogWriter{
		file:   f,
		logDir: logDir,
		runID:  runID,
	}, nil
}

// Write appends a structured log line to the run file.
func (w *RunLogWriter) Write(level Level, msg string, attrs map[string]interface{}) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		Attrs:     StringifyErrors(attrs),
	}
	data, err := sonic.Marshal(entry)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Write(data)
		w.file.Write([]byte("\n"))
	}
}

// Close closes the log file and removes the .active marker.
func (w *RunLogWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	os.Remove(filepath.Join(w.logDir, w.runID+".active"))
}

// StringifyErrors replaces error values with their message; errors marshal to {} otherwise.
func StringifyErrors(attrs map[string]interface{}) map[string]interface{} {
	if len(attrs) == 0 {
		return attrs
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			out[k] = err.Error()
			continue
		}
		out[k] = v
	}
	return out
}

// NewRunLogger creates a Logger that tees output to both the base logger
// (console) and the provided LogWriter. Child loggers created via With()
// inherit this behaviour.
func NewRunLogger(baseLogger *Logger, writer LogWriter) *Logger {
	handler := func(level Level, msg string, attrs map[string]interface{}) {
		if baseLogger.handlerFunc != nil && level >= baseLogger.minLevel {
			baseLogger.handlerFunc(level, msg, attrs)
		}
		writer.Write(level, msg, attrs)
	}
	return &Logger{
		handlerFunc: handler,
		minLevel:    LevelDebug,
		attrs:       baseLogger.attrs,
	}
}
