package websocket

import (
	"time"

	"convoscript/core"
	"convoscript/protocol"
)

// logWriter implements core.LogWriter by sending run log entries to the
// client as log messages. Debug entries stay local.
type logWriter struct {
	session *Session
}

// Write sends a log entry over the WebSocket.
func (w *logWriter) Write(level core.Level, msg string, attrs map[string]interface{}) {
	if level < core.LevelInfo || w.session.ctx.Err() != nil {
		return
	}
	entry := protocol.LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		Attrs:     core.StringifyErrors(attrs),
	}
	_ = w.session.enqueue(protocol.MsgLog, protocol.LogPayload{Entry: entry})
}

// Close is a no-op; the stream ends with the connection.
func (w *logWriter) Close() {}
