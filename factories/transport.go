package factories

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"convoscript/core"
	"convoscript/engine"
	"convoscript/interpreter"
	"convoscript/transports/console"
	"convoscript/transports/websocket"

	"github.com/bytedance/sonic"
)

// ConsoleProviderConfig holds JSON-serialisable settings for the console transport.
type ConsoleProviderConfig struct {
	// Script is the registered script to run.
	Script string `json:"script"`
}

// TransportFactoryConfig selects and configures a transport.
// Set exactly one field.
type TransportFactoryConfig struct {
	WebSocketConfig *websocket.Config      `json:"websocket,omitempty"`
	ConsoleConfig   *ConsoleProviderConfig `json:"console,omitempty"`
}

// Transport serves conversations until ctx is cancelled or its work is done.
type Transport interface {
	Serve(ctx context.Context) error
}

// DefaultTransportFactoryConfig returns a TransportFactoryConfig pre-filled
// with WebSocket server defaults.
func DefaultTransportFactoryConfig() TransportFactoryConfig {
	return TransportFactoryConfig{WebSocketConfig: websocket.DefaultConfig()}
}

// TransportFactoryConfigFromJSON parses a JSON blob into a TransportFactoryConfig.
// It detects which transport key is present and only populates that one
// (with defaults), so the other remains nil and GetTransport selects the
// correct one.
func TransportFactoryConfigFromJSON(data []byte) (TransportFactoryConfig, error) {
	var raw map[string]sonic.NoCopyRawMessage
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return TransportFactoryConfig{}, fmt.Errorf("transport factory config: %w", err)
	}

	var cfg TransportFactoryConfig
	if _, ok := raw["console"]; ok {
		cfg.ConsoleConfig = &ConsoleProviderConfig{}
	} else {
		cfg = DefaultTransportFactoryConfig()
	}

	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return TransportFactoryConfig{}, fmt.Errorf("transport factory config: %w", err)
	}
	return cfg, nil
}

// GetTransport constructs the transport selected by this config over runtime.
func (c TransportFactoryConfig) GetTransport(runtime engine.Runtime, logger *core.Logger) (Transport, error) {
	if c.WebSocketConfig != nil {
		return websocket.NewServer(c.WebSocketConfig, runtime, logger), nil
	}
	if c.ConsoleConfig != nil {
		if c.ConsoleConfig.Script == "" {
			return nil, errors.New("TransportFactoryConfig: console transport needs a script")
		}
		return &consoleTransport{
			runtime: runtime,
			script:  c.ConsoleConfig.Script,
			in:      os.Stdin,
			out:     os.Stdout,
			logger:  logger,
		}, nil
	}
	return nil, errors.New("TransportFactoryConfig: no transport config specified")
}

// consoleTransport runs one script in the terminal and returns.
type consoleTransport struct {
	runtime engine.Runtime
	script  string
	in      io.Reader
	out     io.Writer
	logger  *core.Logger
}

func (t *consoleTransport) Serve(ctx context.Context) error {
	_, err := console.Serve(ctx, t.runtime, interpreter.Script(t.script), t.in, t.out, t.logger)
	return err
}
