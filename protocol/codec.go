package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// clientTypes are the messages a browser may send. Everything else flows
// server -> client only.
var clientTypes = map[MessageType]bool{
	MsgRun:       true,
	MsgAccept:    true,
	MsgFile:      true,
	MsgPress:     true,
	MsgRelease:   true,
	MsgRecording: true,
}

// IsClientMessage reports whether t is a message a browser may send.
func IsClientMessage(t MessageType) bool {
	return clientTypes[t]
}

// Marshal wraps payload in an envelope of type msgType. A nil payload
// (press, release) leaves the payload field out.
func Marshal(msgType MessageType, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", msgType, err)
		}
		raw = b
	}
	return sonic.Marshal(Envelope{Type: msgType, Payload: raw})
}

// Unmarshal splits an envelope into its type and undecoded payload.
func Unmarshal(data []byte) (MessageType, json.RawMessage, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("protocol: envelope missing type field")
	}
	return env.Type, env.Payload, nil
}

// DecodeClient is Unmarshal for messages arriving from a browser. The type
// is returned even when it is rejected so the reply can name it.
func DecodeClient(data []byte) (MessageType, json.RawMessage, error) {
	msgType, payload, err := Unmarshal(data)
	if err != nil {
		return "", nil, err
	}
	if !IsClientMessage(msgType) {
		return msgType, nil, fmt.Errorf("protocol: %q is not a client message", msgType)
	}
	return msgType, payload, nil
}

// UnmarshalPayload decodes a payload into T. A missing or null payload
// yields the zero value, so signal-only messages need no body.
func UnmarshalPayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return v, nil
	}
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("protocol: unmarshal payload: %w", err)
	}
	return v, nil
}
