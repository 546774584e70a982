package capabilities

import (
	"context"
	"errors"
	"testing"

	"convoscript/core"
	"convoscript/media"
)

func newTestDispatcher(t *testing.T, stub *Stub, files FileSource, rec Recorder) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Config{Provider: stub, Files: files, Recorder: rec, Logger: core.NewNopLogger()})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	return d
}

func TestNewDispatcherRequiresProvider(t *testing.T) {
	_, err := NewDispatcher(Config{})
	var missing *core.MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want MissingParameterError", err)
	}
}

func TestCallUnknownCapability(t *testing.T) {
	d := newTestDispatcher(t, NewStub(), nil, nil)
	_, err := d.Call(context.Background(), "teleport", Params{})
	var nf *core.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "capability" || nf.Name != "teleport" {
		t.Fatalf("error = %v, want capability NotFoundError", err)
	}
}

func TestCallRoutesToProvider(t *testing.T) {
	stub := NewStub()
	stub.Responses[TextToText] = "hello"
	d := newTestDispatcher(t, stub, nil, nil)

	got, err := d.Call(context.Background(), TextToText, Params{ParamPrompt: "hi"})
	if err != nil || got != "hello" {
		t.Fatalf("Call = %v, %v; want hello, nil", got, err)
	}
	calls := stub.Calls()
	if len(calls) != 1 || calls[0].Capability != TextToText || calls[0].Params.String(ParamPrompt) != "hi" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestCallAliases(t *testing.T) {
	for _, alias := range []string{TranscribeFile, TranscribeRecording} {
		stub := NewStub()
		stub.Responses[SoundToText] = "words"
		d := newTestDispatcher(t, stub, nil, nil)
		got, err := d.Call(context.Background(), alias, Params{})
		if err != nil || got != "words" {
			t.Errorf("%s: Call = %v, %v; want words", alias, got, err)
		}
	}
}

func TestProviderFailureSurfacesAsNil(t *testing.T) {
	stub := NewStub()
	stub.Errors[TextToImage] = errors.New("quota exceeded")
	d := newTestDispatcher(t, stub, nil, nil)

	got, err := d.Call(context.Background(), TextToImage, Params{})
	if err != nil || got != nil {
		t.Fatalf("Call = %v, %v; want nil, nil", got, err)
	}
}

func TestCancelledCallReportsContextError(t *testing.T) {
	stub := NewStub()
	stub.Funcs[TextToText] = func(ctx context.Context, _ Params) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d := newTestDispatcher(t, stub, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Call(ctx, TextToText, Params{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestSelectFile(t *testing.T) {
	img := media.Blob{MIMEType: "image/png", Data: []byte("png")}
	d := newTestDispatcher(t, NewStub(), StaticFiles{"image": img}, nil)

	got, err := d.SelectFile(context.Background(), "image")
	if err != nil {
		t.Fatal(err)
	}
	if b, ok := got.(media.Blob); !ok || b.MIMEType != "image/png" {
		t.Fatalf("SelectFile = %#v, want the image blob", got)
	}
	got, err = d.SelectFile(context.Background(), "audio")
	if err != nil || got != nil {
		t.Fatalf("SelectFile(audio) = %v, %v; want nil, nil", got, err)
	}
}

func TestSelectFileWithoutSource(t *testing.T) {
	d := newTestDispatcher(t, NewStub(), nil, nil)
	got, err := d.SelectFile(context.Background(), "image")
	if err != nil || got != nil {
		t.Fatalf("SelectFile = %v, %v; want nil, nil", got, err)
	}
}

func TestStopRecordingTranscribes(t *testing.T) {
	stub := NewStub()
	stub.Funcs[SoundToText] = func(_ context.Context, p Params) (any, error) {
		b, ok := p.Blob(ParamFile)
		if !ok {
			return nil, errors.New("no file")
		}
		return "heard " + string(b.Data), nil
	}
	rec := &StaticRecorder{Recording: media.Blob{MIMEType: "audio/webm", Data: []byte("voice")}}
	d := newTestDispatcher(t, stub, nil, rec)

	ctx := context.Background()
	if err := d.StartRecording(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := d.Call(ctx, StopRecording, Params{ParamAPIToken: "t"})
	if err != nil || got != "heard voice" {
		t.Fatalf("stopRec = %v, %v; want heard voice", got, err)
	}
	if rec.Starts != 1 {
		t.Errorf("recorder started %d times, want 1", rec.Starts)
	}
}

func TestParams(t *testing.T) {
	p := Params{"a": "x", "n": 3.6, "s": "12", "b": true}
	merged := p.Merge(map[string]any{"a": "y"})
	if merged.String("a") != "y" || p.String("a") != "x" {
		t.Errorf("Merge mutated or failed: %v %v", merged, p)
	}
	if got := p.Int("n", 0); got != 4 {
		t.Errorf("Int(n) = %d, want 4", got)
	}
	if got := p.Int("s", 0); got != 12 {
		t.Errorf("Int(s) = %d, want 12", got)
	}
	if got := p.Int("missing", 7); got != 7 {
		t.Errorf("Int(missing) = %d, want 7", got)
	}
	if got := p.StringOr("missing", "def"); got != "def" {
		t.Errorf("StringOr = %q, want def", got)
	}
	if !p.Bool("b") || p.Bool("a") {
		t.Error("Bool misread")
	}
}
