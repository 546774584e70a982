// Package websocket serves conversations to a browser client over a
// WebSocket: transcript entries and input requests go out, typed text,
// uploads and recordings come back.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"convoscript/core"
	"convoscript/engine"

	"github.com/gorilla/websocket"
)

// Server accepts WebSocket connections and runs one conversation per connection.
type Server struct {
	config   *Config
	runtime  engine.Runtime
	logger   *core.Logger
	upgrader websocket.Upgrader

	mu         sync.Mutex
	server     *http.Server
	sessions   map[string]*Session
	sessionsMu sync.RWMutex
}

// NewServer creates a server over the shared runtime.
func NewServer(config *Config, runtime engine.Runtime, logger *core.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Server{
		config:  config,
		runtime: runtime,
		logger:  logger.With(map[string]interface{}{"component": "websocket"}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessions: make(map[string]*Session),
	}
}

// Handler returns the HTTP routes: the WebSocket endpoint and, when
// configured, the static client.
func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(srv.config.Path, srv.handleWebSocket)
	if srv.config.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(srv.config.StaticDir)))
	}
	return mux
}

// Serve listens until ctx is cancelled, then closes every session and
// shuts the HTTP server down.
func (srv *Server) Serve(ctx context.Context) error {
	srv.mu.Lock()
	if srv.server != nil {
		srv.mu.Unlock()
		return errors.New("websocket: server already running")
	}
	srv.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", srv.config.Port),
		Handler: srv.Handler(),
	}
	httpServer := srv.server
	srv.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.config.EnableTLS {
			err = httpServer.ListenAndServeTLS(srv.config.TLSCertFile, srv.config.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	srv.logger.With(map[string]interface{}{"port": srv.config.Port, "path": srv.config.Path}).Info("websocket server started")

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("websocket: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	srv.sessionsMu.Lock()
	for _, s := range srv.sessions {
		s.Close()
	}
	srv.sessionsMu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("websocket: shutdown: %w", err)
	}
	srv.logger.Info("websocket server stopped")
	return nil
}

// ActiveSessions returns the number of open connections.
func (srv *Server) ActiveSessions() int {
	srv.sessionsMu.RLock()
	defer srv.sessionsMu.RUnlock()
	return len(srv.sessions)
}

func (srv *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.With(map[string]interface{}{"error": err}).Warn("failed to upgrade connection")
		return
	}
	conn.SetReadLimit(srv.config.MaxMessageSize)

	ctx := context.Background()
	if srv.config.SessionTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(srv.config.SessionTimeoutSeconds)*time.Second)
		defer cancel()
	}

	session, err := newSession(ctx, conn, srv.config, srv.runtime, srv.logger)
	if err != nil {
		srv.logger.With(map[string]interface{}{"error": err}).Error("failed to create session")
		conn.Close()
		return
	}

	srv.sessionsMu.Lock()
	srv.sessions[session.ID()] = session
	srv.sessionsMu.Unlock()
	defer func() {
		srv.sessionsMu.Lock()
		delete(srv.sessions, session.ID())
		srv.sessionsMu.Unlock()
	}()

	session.Serve()
}
