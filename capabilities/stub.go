package capabilities

import (
	"context"
	"fmt"
	"sync"

	"convoscript/media"
)

// Call records one invocation of a Stub.
type Call struct {
	Capability string
	Params     Params
}

// Stub is a scripted Provider. Results come from Responses, then Funcs;
// a capability with neither answers a deterministic placeholder.
type Stub struct {
	Responses map[string]any
	Errors    map[string]error
	Funcs     map[string]Func

	mu    sync.Mutex
	calls []Call
}

// NewStub returns a Stub with empty tables.
func NewStub() *Stub {
	return &Stub{
		Responses: make(map[string]any),
		Errors:    make(map[string]error),
		Funcs:     make(map[string]Func),
	}
}

// Calls returns a copy of the recorded invocations.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Stub) respond(ctx context.Context, name string, params Params) (any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Capability: name, Params: params})
	err := s.Errors[name]
	resp, hasResp := s.Responses[name]
	fn := s.Funcs[name]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if hasResp {
		return resp, nil
	}
	if fn != nil {
		return fn(ctx, params)
	}
	switch name {
	case TextToImage:
		return "https://stub.invalid/image.png", nil
	case TextToSound:
		return media.Blob{MIMEType: "audio/wav", Data: []byte("stub")}, nil
	case Models:
		return []any{"stub-model"}, nil
	}
	return fmt.Sprintf("%s(%s)", name, params.String(ParamPrompt)), nil
}

func (s *Stub) TextToText(ctx context.Context, params Params) (any, error) {
	return s.respond(ctx, TextToText, params)
}

func (s *Stub) TextToImage(ctx context.Context, params Params) (any, error) {
	return s.respond(ctx, TextToImage, params)
}

func (s *Stub) TextToSound(ctx context.Context, params Params) (any, error) {
	return s.respond(ctx, TextToSound, params)
}

func (s *Stub) SoundToText(ctx context.Context, params Params) (any, error) {
	return s.respond(ctx, SoundToText, params)
}

func (s *Stub) ImageToText(ctx context.Context, params Params) (any, error) {
	return s.respond(ctx, ImageToText, params)
}

func (s *Stub) Models(ctx context.Context, params Params) (any, error) {
	return s.respond(ctx, Models, params)
}

// StaticFiles is a FileSource serving a fixed file per type.
type StaticFiles map[string]any

func (f StaticFiles) SelectFile(_ context.Context, fileType string) (any, error) {
	file, ok := f[fileType]
	if !ok {
		return nil, fmt.Errorf("no %s file available", fileType)
	}
	return file, nil
}

// StaticRecorder hands back the same recording on every stop.
type StaticRecorder struct {
	Recording media.Blob

	mu        sync.Mutex
	recording bool
	Starts    int
}

func (r *StaticRecorder) StartRecording(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return fmt.Errorf("already recording")
	}
	r.recording = true
	r.Starts++
	return nil
}

func (r *StaticRecorder) StopRecording(context.Context) (media.Blob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return media.Blob{}, fmt.Errorf("not recording")
	}
	r.recording = false
	return r.Recording, nil
}
