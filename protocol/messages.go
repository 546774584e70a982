package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"convoscript/core"
	"convoscript/media"
)

// MessageType enumerates all UI protocol message types.
type MessageType string

const (
	// Server -> client
	MsgEntry          MessageType = "entry"
	MsgBusy           MessageType = "busy"
	MsgPresentInput   MessageType = "present_input"
	MsgDismissInput   MessageType = "dismiss_input"
	MsgSelectFile     MessageType = "select_file"
	MsgRecordingStart MessageType = "recording_start"
	MsgRecordingStop  MessageType = "recording_stop"
	MsgRunDone        MessageType = "run_done"
	MsgLog            MessageType = "log"
	MsgError          MessageType = "error"

	// Client -> server
	MsgRun       MessageType = "run"
	MsgAccept    MessageType = "accept"
	MsgFile      MessageType = "file"
	MsgPress     MessageType = "press"
	MsgRelease   MessageType = "release"
	MsgRecording MessageType = "recording"
)

// Envelope is the outer JSON wrapper for all WebSocket messages.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Server -> client payloads ---

// EntryPayload carries one transcript entry to render.
type EntryPayload struct {
	Entry core.TranscriptEntry `json:"entry"`
}

// BusyPayload toggles the loading indicator.
type BusyPayload struct {
	Busy bool `json:"busy"`
}

// InputPayload arms (present_input) or resets (dismiss_input) an input control.
type InputPayload struct {
	RequestID string `json:"request_id"`
	InputType string `json:"input_type"`
}

// SelectFilePayload asks the client for a file of the given type.
type SelectFilePayload struct {
	RequestID string `json:"request_id"`
	FileType  string `json:"file_type"`
}

// RecordingPayload starts or stops the client's microphone capture.
type RecordingPayload struct {
	RequestID string `json:"request_id,omitempty"`
}

// RunDonePayload reports the end of a run.
type RunDonePayload struct {
	RunID  string         `json:"run_id,omitempty"`
	Script string         `json:"script"`
	Return map[string]any `json:"return,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// LogPayload carries a single log entry from a run.
type LogPayload struct {
	Entry LogEntry `json:"entry"`
}

// LogEntry is a structured log line.
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// ErrorPayload reports a rejected client message.
type ErrorPayload struct {
	About   MessageType `json:"about,omitempty"`
	Message string      `json:"message"`
}

// --- Client -> server payloads ---

// RunPayload starts a run of a registered script, or of Instructions when
// Script is empty.
type RunPayload struct {
	Script       string             `json:"script,omitempty"`
	Instructions []core.Instruction `json:"instructions,omitempty"`
}

// AcceptPayload submits the pending input. Value is the typed text for text
// requests and is ignored for file requests.
type AcceptPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Value     any    `json:"value,omitempty"`
}

// FilePayload answers select_file (file) or recording_stop (recording).
// Data is a data URL or plain base64.
type FilePayload struct {
	RequestID string `json:"request_id,omitempty"`
	Name      string `json:"name,omitempty"`
	MIMEType  string `json:"mime_type,omitempty"`
	Data      string `json:"data"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// Blob decodes the payload into a media blob. A data URL's own MIME type
// wins over MIMEType.
func (p FilePayload) Blob() (media.Blob, error) {
	if media.IsDataURL(p.Data) {
		b, err := media.ParseDataURL(p.Data)
		if err != nil {
			return media.Blob{}, fmt.Errorf("protocol: file payload: %w", err)
		}
		b.Name = p.Name
		return b, nil
	}
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return media.Blob{}, fmt.Errorf("protocol: file payload: %w", err)
	}
	mimeType := p.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return media.Blob{MIMEType: mimeType, Data: data, Name: p.Name}, nil
}
