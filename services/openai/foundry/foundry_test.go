package foundry

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"convoscript/capabilities"
	"convoscript/core"
	"convoscript/media"

	"github.com/bytedance/sonic"
)

type recordedRequest struct {
	Path   string
	Auth   string
	Body   map[string]any
	File   []byte
	Name   string
	Fields map[string]string
}

type fakeServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

func newFakeServer(t *testing.T, responses map[string]string) *fakeServer {
	t.Helper()
	fs := &fakeServer{status: http.StatusOK}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if err := r.ParseMultipartForm(1 << 20); err == nil {
				rec.Fields = map[string]string{}
				for k, v := range r.MultipartForm.Value {
					rec.Fields[k] = v[0]
				}
				if f, hdr, err := r.FormFile("file"); err == nil {
					rec.File, _ = io.ReadAll(f)
					rec.Name = hdr.Filename
					f.Close()
				}
			}
		} else if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				_ = sonic.Unmarshal(data, &rec.Body)
			}
		}
		fs.mu.Lock()
		fs.requests = append(fs.requests, rec)
		status := fs.status
		fs.mu.Unlock()

		resp, ok := responses[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/audio/speech") {
			w.Header().Set("Content-Type", "audio/mpeg")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		io.WriteString(w, resp)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) last(t *testing.T) recordedRequest {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.requests) == 0 {
		t.Fatal("no request reached the server")
	}
	return fs.requests[len(fs.requests)-1]
}

func (fs *fakeServer) count() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.requests)
}

const chatResponse = `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}]}`

func newProvider(fs *fakeServer) *Foundry {
	return New(Config{BaseURL: fs.URL}, core.NewNopLogger())
}

func params(kv ...any) capabilities.Params {
	p := capabilities.Params{capabilities.ParamAPIToken: "tok"}
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i].(string)] = kv[i+1]
	}
	return p
}

func TestTextToTextPromptDefaults(t *testing.T) {
	fs := newFakeServer(t, map[string]string{"/v1/chat/completions": chatResponse})
	got, err := newProvider(fs).TextToText(context.Background(), params(capabilities.ParamPrompt, "hello"))
	if err != nil || got != "hi there" {
		t.Fatalf("TextToText = %v, %v; want hi there", got, err)
	}
	req := fs.last(t)
	if req.Auth != "Bearer tok" {
		t.Errorf("Authorization = %q", req.Auth)
	}
	if req.Body["model"] != DefaultTextModel {
		t.Errorf("model = %v, want %s", req.Body["model"], DefaultTextModel)
	}
	if req.Body["max_tokens"] != float64(DefaultMaxTokens) {
		t.Errorf("max_tokens = %v, want %d", req.Body["max_tokens"], DefaultMaxTokens)
	}
	msgs, _ := req.Body["messages"].([]any)
	if len(msgs) != 1 || msgs[0].(map[string]any)["content"] != "hello" {
		t.Errorf("messages = %v", req.Body["messages"])
	}
}

func TestTextToTextMessagesOverridePrompt(t *testing.T) {
	fs := newFakeServer(t, map[string]string{"/v1/chat/completions": chatResponse})
	messages := []any{
		map[string]any{"role": "system", "content": "be brief"},
		map[string]any{"role": "user", "content": "question"},
	}
	_, err := newProvider(fs).TextToText(context.Background(),
		params(capabilities.ParamMessages, messages, capabilities.ParamPrompt, "ignored", capabilities.ParamModel, "other"))
	if err != nil {
		t.Fatal(err)
	}
	req := fs.last(t)
	msgs, _ := req.Body["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
		t.Errorf("messages = %v", req.Body["messages"])
	}
	if req.Body["model"] != "other" {
		t.Errorf("model = %v, want other", req.Body["model"])
	}
}

func TestMissingTokenIsNoop(t *testing.T) {
	fs := newFakeServer(t, map[string]string{"/v1/chat/completions": chatResponse})
	p := newProvider(fs)
	got, err := p.TextToText(context.Background(), capabilities.Params{capabilities.ParamPrompt: "x"})
	if err != nil || got != nil {
		t.Fatalf("TextToText = %v, %v; want nil, nil", got, err)
	}
	if fs.count() != 0 {
		t.Errorf("server received %d requests, want 0", fs.count())
	}
}

func TestImageToTextSendsImagePart(t *testing.T) {
	fs := newFakeServer(t, map[string]string{"/v1/chat/completions": chatResponse})
	img := media.Blob{MIMEType: "image/png", Data: []byte("png")}
	_, err := newProvider(fs).ImageToText(context.Background(),
		params(capabilities.ParamImage, img, capabilities.ParamPrompt, "what is this", capabilities.ParamSystemPrompt, "describe"))
	if err != nil {
		t.Fatal(err)
	}
	req := fs.last(t)
	if req.Body["model"] != DefaultVisionModel {
		t.Errorf("model = %v", req.Body["model"])
	}
	msgs := req.Body["messages"].([]any)
	if msgs[0].(map[string]any)["content"] != "describe" {
		t.Errorf("system message = %v", msgs[0])
	}
	parts := msgs[1].(map[string]any)["content"].([]any)
	imagePart := parts[1].(map[string]any)
	url := imagePart["image_url"].(map[string]any)["url"]
	if url != img.DataURL() {
		t.Errorf("image url = %v, want data URL", url)
	}
}

func TestImageToTextWithoutImage(t *testing.T) {
	fs := newFakeServer(t, map[string]string{"/v1/chat/completions": chatResponse})
	if _, err := newProvider(fs).ImageToText(context.Background(), params()); err == nil {
		t.Fatal("ImageToText without image should fail")
	}
}

func TestTextToImage(t *testing.T) {
	fs := newFakeServer(t, map[string]string{
		"/v1/images/generations": `{"created":1,"data":[{"url":"https://img/1.png"}]}`,
	})
	got, err := newProvider(fs).TextToImage(context.Background(),
		params(capabilities.ParamPrompt, "a cat", capabilities.ParamWidth, 256.0, capabilities.ParamHeight, 128.0))
	if err != nil || got != "https://img/1.png" {
		t.Fatalf("TextToImage = %v, %v", got, err)
	}
	if size := fs.last(t).Body["size"]; size != "256x128" {
		t.Errorf("size = %v, want 256x128", size)
	}
}

func TestTextToImageBase64(t *testing.T) {
	fs := newFakeServer(t, map[string]string{
		"/v1/images/generations": `{"created":1,"data":[{"b64_json":"AAAA"}]}`,
	})
	got, err := newProvider(fs).TextToImage(context.Background(), params(capabilities.ParamPrompt, "a cat"))
	if err != nil || got != "data:image/png;base64,AAAA" {
		t.Fatalf("TextToImage = %v, %v", got, err)
	}
	if size := fs.last(t).Body["size"]; size != "512x512" {
		t.Errorf("default size = %v, want 512x512", size)
	}
}

func TestTextToSound(t *testing.T) {
	fs := newFakeServer(t, map[string]string{"/v1/audio/speech": "ID3audio"})
	got, err := newProvider(fs).TextToSound(context.Background(), params(capabilities.ParamPrompt, "say hi"))
	if err != nil {
		t.Fatal(err)
	}
	blob, ok := got.(media.Blob)
	if !ok || blob.MIMEType != "audio/mpeg" || string(blob.Data) != "ID3audio" {
		t.Fatalf("TextToSound = %#v", got)
	}
	if input := fs.last(t).Body["input"]; input != "say hi" {
		t.Errorf("input = %v", input)
	}
}

func TestSoundToTextNormalisesULaw(t *testing.T) {
	fs := newFakeServer(t, map[string]string{"/v1/audio/transcriptions": `{"text":"  hello world "}`})
	rec := media.Blob{MIMEType: "audio/basic", Data: bytes.Repeat([]byte{0xFF}, 160), Name: "call.ulaw"}
	got, err := newProvider(fs).SoundToText(context.Background(), params(capabilities.ParamFile, rec))
	if err != nil || got != "hello world" {
		t.Fatalf("SoundToText = %q, %v", got, err)
	}
	req := fs.last(t)
	if req.Name != "call.wav" {
		t.Errorf("uploaded filename = %q, want call.wav", req.Name)
	}
	if !bytes.HasPrefix(req.File, []byte("RIFF")) {
		t.Error("uploaded file is not a WAV")
	}
	if req.Fields["model"] != DefaultTranscriptionModel {
		t.Errorf("model = %q", req.Fields["model"])
	}
}

func TestSoundToTextAcceptsDataURL(t *testing.T) {
	fs := newFakeServer(t, map[string]string{"/v1/audio/transcriptions": `{"text":"ok"}`})
	url := media.Blob{MIMEType: "audio/webm", Data: []byte("webm")}.DataURL()
	got, err := newProvider(fs).SoundToText(context.Background(), params(capabilities.ParamFile, url))
	if err != nil || got != "ok" {
		t.Fatalf("SoundToText = %v, %v", got, err)
	}
	if string(fs.last(t).File) != "webm" {
		t.Error("uploaded bytes differ from the data URL payload")
	}
}

func TestSoundToTextWithoutFile(t *testing.T) {
	fs := newFakeServer(t, nil)
	if _, err := newProvider(fs).SoundToText(context.Background(), params()); err == nil {
		t.Fatal("SoundToText without file should fail")
	}
}

func TestModels(t *testing.T) {
	fs := newFakeServer(t, map[string]string{
		"/v1/models": `{"object":"list","data":[{"id":"a","object":"model"},{"id":"b","object":"model"}]}`,
	})
	got, err := newProvider(fs).Models(context.Background(), params())
	if err != nil {
		t.Fatal(err)
	}
	ids, _ := got.([]any)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("Models = %v", got)
	}
}

func TestServerErrorIsReturned(t *testing.T) {
	fs := newFakeServer(t, map[string]string{
		"/v1/chat/completions": `{"error":{"message":"bad key","type":"invalid_request_error"}}`,
	})
	fs.status = http.StatusUnauthorized
	if _, err := newProvider(fs).TextToText(context.Background(), params(capabilities.ParamPrompt, "x")); err == nil {
		t.Fatal("TextToText should surface HTTP errors")
	}
}

func TestServerParamOverridesBaseURL(t *testing.T) {
	fs := newFakeServer(t, map[string]string{"/v1/chat/completions": chatResponse})
	p := New(Config{BaseURL: "http://127.0.0.1:1"}, core.NewNopLogger())
	got, err := p.TextToText(context.Background(), params(capabilities.ParamServer, fs.URL+"/", capabilities.ParamPrompt, "x"))
	if err != nil || got != "hi there" {
		t.Fatalf("TextToText = %v, %v", got, err)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := map[string]string{
		"https://data.id.tue.nl":     "https://data.id.tue.nl/v1",
		"https://data.id.tue.nl/":    "https://data.id.tue.nl/v1",
		"https://api.openai.com/v1":  "https://api.openai.com/v1",
		"https://api.openai.com/v1/": "https://api.openai.com/v1",
	}
	for in, want := range tests {
		if got := normalizeBaseURL(in); got != want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
