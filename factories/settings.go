package factories

import (
	"fmt"
	"os"
	"time"

	"convoscript/capabilities"
	"convoscript/core"
	"convoscript/engine"
	"convoscript/store"

	"github.com/bytedance/sonic"
)

// InterpreterConfig tunes how scripts are executed.
type InterpreterConfig struct {
	// DelayMS is the pause after each instruction. Zero keeps the default;
	// a negative value disables the pause.
	DelayMS int `json:"delay_ms,omitempty"`
	// DisableSnapshots turns off restoring a script after a failed run.
	DisableSnapshots bool `json:"disable_snapshots,omitempty"`
	// MaxDepth bounds nested branch recursion; zero keeps the default.
	MaxDepth int `json:"max_depth,omitempty"`
	// LogDir, when set, receives one JSONL log file per run.
	LogDir string `json:"log_dir,omitempty"`
}

// SettingsConfig is the top-level config loaded from settings.json.
type SettingsConfig struct {
	// Provider selects and configures the capability provider.
	Provider ProviderFactoryConfig `json:"provider"`
	// Transport selects the front end (WebSocket server or console).
	Transport TransportFactoryConfig `json:"transport"`
	// Interpreter tunes script execution.
	Interpreter InterpreterConfig `json:"interpreter"`
	// ScriptsPath is a JSON file of name -> instructions loaded at startup.
	ScriptsPath string `json:"scripts_path,omitempty"`
}

// DefaultSettingsConfig returns a SettingsConfig pre-filled with defaults.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Provider:    DefaultProviderFactoryConfig(),
		Transport:   DefaultTransportFactoryConfig(),
		ScriptsPath: "./scripts.json",
	}
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig. The
// transport section is parsed by TransportFactoryConfigFromJSON so only the
// configured transport is populated; an absent provider section selects the
// foundry defaults.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	var raw struct {
		Provider    *ProviderFactoryConfig `json:"provider,omitempty"`
		Transport   sonic.NoCopyRawMessage `json:"transport,omitempty"`
		Interpreter InterpreterConfig      `json:"interpreter"`
		ScriptsPath *string                `json:"scripts_path,omitempty"`
	}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}

	cfg := DefaultSettingsConfig()
	cfg.Interpreter = raw.Interpreter
	if raw.ScriptsPath != nil {
		cfg.ScriptsPath = *raw.ScriptsPath
	}
	if raw.Provider != nil && raw.Provider.selected() != nil {
		cfg.Provider = *raw.Provider
	}
	if len(raw.Transport) > 0 {
		transport, err := TransportFactoryConfigFromJSON(raw.Transport)
		if err != nil {
			return SettingsConfig{}, fmt.Errorf("settings: %w", err)
		}
		cfg.Transport = transport
	}
	return cfg, nil
}

// SettingsConfigFromFile reads and parses a SettingsConfig from a JSON file.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsConfigFromJSON(data)
}

// Runtime builds the shared runtime for every conversation.
func (s SettingsConfig) Runtime(st *store.Store, provider capabilities.Provider, apiToken string, logger *core.Logger) engine.Runtime {
	delay := time.Duration(s.Interpreter.DelayMS) * time.Millisecond
	return engine.Runtime{
		Store:            st,
		Provider:         provider,
		APIToken:         apiToken,
		Delay:            delay,
		DisableSnapshots: s.Interpreter.DisableSnapshots,
		MaxDepth:         s.Interpreter.MaxDepth,
		LogDir:           s.Interpreter.LogDir,
		Logger:           logger,
	}
}
