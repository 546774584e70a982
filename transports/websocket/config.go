package websocket

// Config holds the configuration for the conversation WebSocket server.
type Config struct {
	// HTTP listen port
	Port int `json:"port"`

	// WebSocket endpoint path
	Path string `json:"path"`

	// Directory served at / for the browser client; empty disables it
	StaticDir string `json:"static_dir,omitempty"`

	// Read buffer size for WebSocket connections (bytes)
	ReadBufferSize int `json:"read_buffer_size"`

	// Write buffer size for WebSocket connections (bytes)
	WriteBufferSize int `json:"write_buffer_size"`

	// Maximum message size (bytes); uploads and recordings arrive inline
	MaxMessageSize int64 `json:"max_message_size"`

	// Upper bound on a connection's lifetime; zero means unbounded
	SessionTimeoutSeconds int `json:"session_timeout_seconds,omitempty"`

	// Forward run logs to the client as log messages
	StreamLogs bool `json:"stream_logs"`

	// Enable TLS/SSL
	EnableTLS bool `json:"enable_tls"`

	// TLS certificate file path
	TLSCertFile string `json:"tls_cert_file,omitempty"`

	// TLS key file path
	TLSKeyFile string `json:"tls_key_file,omitempty"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Port:            8080,
		Path:            "/ws",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  32 << 20,
	}
}
