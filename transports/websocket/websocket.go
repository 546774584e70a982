package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"convoscript/capabilities"
	"convoscript/core"
	"convoscript/engine"
	"convoscript/interpreter"
	"convoscript/media"
	"convoscript/protocol"
	"convoscript/suspension"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultSendBufferSize = 256
	writeTimeout          = 10 * time.Second
)

var (
	errRunActive      = errors.New("a run is already in progress")
	errNothingToRun   = errors.New("run needs a script name or instructions")
	errUnknownRequest = errors.New("no matching file request")
	errNoRecording    = errors.New("recording was empty")
)

// Session is one browser connection. It renders the conversation, arms the
// client's input controls and answers file and recording requests with what
// the client sends back.
type Session struct {
	id     string
	conn   *websocket.Conn
	config *Config
	ctx    context.Context
	cancel context.CancelFunc
	logger *core.Logger
	engine *engine.Session

	sendCh chan []byte
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	running bool
	waiters map[string]chan protocol.FilePayload
}

var (
	_ suspension.Presenter    = (*Session)(nil)
	_ interpreter.Renderer    = (*Session)(nil)
	_ capabilities.FileSource = (*Session)(nil)
	_ capabilities.Recorder   = (*Session)(nil)
)

func newSession(ctx context.Context, conn *websocket.Conn, config *Config, runtime engine.Runtime, logger *core.Logger) (*Session, error) {
	s := &Session{
		id:      uuid.NewString(),
		conn:    conn,
		config:  config,
		sendCh:  make(chan []byte, defaultSendBufferSize),
		done:    make(chan struct{}),
		waiters: make(map[string]chan protocol.FilePayload),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger = logger.With(map[string]interface{}{"session": s.id})

	runLogger := s.logger
	if config.StreamLogs {
		runLogger = core.NewRunLogger(s.logger, &logWriter{session: s})
	}
	es, err := runtime.NewSession(engine.Collaborators{
		Presenter: s,
		Renderer:  s,
		Files:     s,
		Recorder:  s,
		Logger:    runLogger,
	})
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.engine = es
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Serve pumps messages until the connection drops or the session ends.
func (s *Session) Serve() {
	s.logger.Info("session started")
	go s.writeLoop()
	go func() {
		<-s.ctx.Done()
		s.Close()
	}()
	s.readLoop()
	<-s.done
	s.logger.Info("session ended")
}

// Close ends the session: runs are cancelled and the connection closed.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close()
		close(s.done)
	})
}

// PresentInput arms the client's input control for req.
func (s *Session) PresentInput(_ context.Context, req suspension.Request) error {
	return s.enqueue(protocol.MsgPresentInput, protocol.InputPayload{RequestID: req.ID, InputType: string(req.Type)})
}

// DismissInput resets the client's input control.
func (s *Session) DismissInput(_ context.Context, req suspension.Request) error {
	return s.enqueue(protocol.MsgDismissInput, protocol.InputPayload{RequestID: req.ID, InputType: string(req.Type)})
}

// RenderEntry sends a transcript entry.
func (s *Session) RenderEntry(entry core.TranscriptEntry) {
	if err := s.enqueue(protocol.MsgEntry, protocol.EntryPayload{Entry: entry}); err != nil {
		s.logger.With(map[string]interface{}{"error": err}).Debug("entry not sent")
	}
}

// SetBusy toggles the client's loading indicator.
func (s *Session) SetBusy(busy bool) {
	if err := s.enqueue(protocol.MsgBusy, protocol.BusyPayload{Busy: busy}); err != nil {
		s.logger.With(map[string]interface{}{"error": err}).Debug("busy state not sent")
	}
}

// SelectFile asks the client for a file and waits for it. A cancelled
// dialog yields nil.
func (s *Session) SelectFile(ctx context.Context, fileType string) (any, error) {
	p, err := s.request(ctx, protocol.MsgSelectFile, func(id string) any {
		return protocol.SelectFilePayload{RequestID: id, FileType: fileType}
	})
	if err != nil {
		return nil, err
	}
	if p.Cancelled || p.Data == "" {
		return nil, nil
	}
	b, err := p.Blob()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// StartRecording tells the client to start capturing audio.
func (s *Session) StartRecording(context.Context) error {
	return s.enqueue(protocol.MsgRecordingStart, protocol.RecordingPayload{})
}

// StopRecording tells the client to stop capturing and waits for the recording.
func (s *Session) StopRecording(ctx context.Context) (media.Blob, error) {
	p, err := s.request(ctx, protocol.MsgRecordingStop, func(id string) any {
		return protocol.RecordingPayload{RequestID: id}
	})
	if err != nil {
		return media.Blob{}, err
	}
	if p.Cancelled || p.Data == "" {
		return media.Blob{}, errNoRecording
	}
	return p.Blob()
}

// request sends a message carrying a fresh request ID and waits for the
// file or recording answering it.
func (s *Session) request(ctx context.Context, msgType protocol.MessageType, payload func(id string) any) (protocol.FilePayload, error) {
	id := uuid.NewString()
	ch := make(chan protocol.FilePayload, 1)
	s.mu.Lock()
	s.waiters[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, id)
		s.mu.Unlock()
	}()

	if err := s.enqueue(msgType, payload(id)); err != nil {
		return protocol.FilePayload{}, err
	}
	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		return protocol.FilePayload{}, ctx.Err()
	case <-s.ctx.Done():
		return protocol.FilePayload{}, s.ctx.Err()
	}
}

// deliver routes a file or recording to its waiter. A payload without a
// request ID goes to the only waiter, if there is exactly one.
func (s *Session) deliver(msgType protocol.MessageType, p protocol.FilePayload) {
	s.mu.Lock()
	ch, ok := s.waiters[p.RequestID]
	if !ok && p.RequestID == "" && len(s.waiters) == 1 {
		for _, only := range s.waiters {
			ch, ok = only, true
		}
	}
	s.mu.Unlock()
	if !ok {
		s.reject(msgType, errUnknownRequest)
		return
	}
	select {
	case ch <- p:
	default:
		s.reject(msgType, errUnknownRequest)
	}
}

func (s *Session) startRun(p protocol.RunPayload) {
	target := interpreter.Script(p.Script)
	label := p.Script
	if p.Script == "" {
		if len(p.Instructions) == 0 {
			s.reject(protocol.MsgRun, errNothingToRun)
			return
		}
		target = interpreter.Inline(p.Instructions)
		label = "inline"
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.reject(protocol.MsgRun, errRunActive)
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		out, err := s.engine.Interpreter.Run(s.ctx, target)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		done := protocol.RunDonePayload{Script: label}
		if err != nil {
			done.Error = err.Error()
		} else {
			done.RunID = out.RunID
			done.Script = out.Script
			done.Return = out.Return
		}
		if err := s.enqueue(protocol.MsgRunDone, done); err != nil {
			s.logger.With(map[string]interface{}{"error": err}).Debug("run_done not sent")
		}
	}()
}

func (s *Session) readLoop() {
	defer s.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && s.ctx.Err() == nil {
				s.logger.With(map[string]interface{}{"error": err}).Warn("connection lost")
			}
			return
		}

		msgType, payload, err := protocol.DecodeClient(data)
		if err != nil {
			s.logger.With(map[string]interface{}{"error": err}).Warn("invalid message from client")
			s.reject(msgType, err)
			continue
		}
		s.handle(msgType, payload)
	}
}

func (s *Session) handle(msgType protocol.MessageType, payload json.RawMessage) {
	ctrl := s.engine.Controller
	switch msgType {
	case protocol.MsgRun:
		p, err := protocol.UnmarshalPayload[protocol.RunPayload](payload)
		if err != nil {
			s.reject(msgType, err)
			return
		}
		s.startRun(p)

	case protocol.MsgAccept:
		p, err := protocol.UnmarshalPayload[protocol.AcceptPayload](payload)
		if err != nil {
			s.reject(msgType, err)
			return
		}
		s.signal(msgType, ctrl.Accept(p.Value))

	case protocol.MsgPress:
		s.signal(msgType, ctrl.Press())

	case protocol.MsgRelease:
		s.signal(msgType, ctrl.Release())

	case protocol.MsgFile, protocol.MsgRecording:
		p, err := protocol.UnmarshalPayload[protocol.FilePayload](payload)
		if err != nil {
			s.reject(msgType, err)
			return
		}
		s.deliver(msgType, p)

	default:
		s.logger.With(map[string]interface{}{"type": string(msgType)}).Warn("unknown message type from client")
		s.reject(msgType, fmt.Errorf("unknown message type %q", msgType))
	}
}

func (s *Session) signal(msgType protocol.MessageType, err error) {
	if err != nil {
		s.reject(msgType, err)
	}
}

func (s *Session) reject(about protocol.MessageType, err error) {
	if sendErr := s.enqueue(protocol.MsgError, protocol.ErrorPayload{About: about, Message: err.Error()}); sendErr != nil {
		s.logger.With(map[string]interface{}{"error": sendErr}).Debug("error reply not sent")
	}
}

// enqueue queues a message for the write loop, blocking while the queue is
// full. It fails once the session has ended.
func (s *Session) enqueue(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		s.logger.With(map[string]interface{}{"error": err, "type": string(msgType)}).Warn("failed to marshal message, dropping")
		return err
	}
	select {
	case s.sendCh <- data:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.With(map[string]interface{}{"error": err}).Warn("write to client failed")
				s.Close()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}
