// Package foundry is the live capability provider for OpenAI-compatible
// inference servers.
package foundry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"convoscript/capabilities"
	"convoscript/core"
	"convoscript/media"

	"github.com/sashabaranov/go-openai"
)

// Defaults for the inference server the scripts were written against.
const (
	DefaultBaseURL            = "https://data.id.tue.nl/v1"
	DefaultTextModel          = "hermes-2-pro-llama-3-8b"
	DefaultVisionModel        = "llava-llama-3-8b-v1_1"
	DefaultTranscriptionModel = "whisper-base"
	DefaultSpeechModel        = "tts-1"
	DefaultVoice              = "alloy"
	DefaultTemperature        = 0.9
	DefaultMaxTokens          = 500
	DefaultImageSize          = 512
	DefaultVisionPrompt       = "You are a helpful assistant that describes images accurately."
)

// Config holds the provider settings. Per-call params override every field.
type Config struct {
	APIKey             string  `json:"api_key,omitempty"`
	BaseURL            string  `json:"base_url,omitempty"`
	TextModel          string  `json:"text_model,omitempty"`
	VisionModel        string  `json:"vision_model,omitempty"`
	ImageModel         string  `json:"image_model,omitempty"`
	SpeechModel        string  `json:"speech_model,omitempty"`
	Voice              string  `json:"voice,omitempty"`
	TranscriptionModel string  `json:"transcription_model,omitempty"`
	Temperature        float32 `json:"temperature,omitempty"`
	MaxTokens          int     `json:"max_tokens,omitempty"`
	ImageWidth         int     `json:"image_width,omitempty"`
	ImageHeight        int     `json:"image_height,omitempty"`
	VisionSystemPrompt string  `json:"vision_system_prompt,omitempty"`
}

// WithDefaults fills every empty field.
func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.TextModel == "" {
		c.TextModel = DefaultTextModel
	}
	if c.VisionModel == "" {
		c.VisionModel = DefaultVisionModel
	}
	if c.SpeechModel == "" {
		c.SpeechModel = DefaultSpeechModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = DefaultTranscriptionModel
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.ImageWidth == 0 {
		c.ImageWidth = DefaultImageSize
	}
	if c.ImageHeight == 0 {
		c.ImageHeight = DefaultImageSize
	}
	if c.VisionSystemPrompt == "" {
		c.VisionSystemPrompt = DefaultVisionPrompt
	}
	return c
}

// Foundry implements capabilities.Provider against an OpenAI-compatible
// inference server.
type Foundry struct {
	config Config
	logger *core.Logger

	mu      sync.Mutex
	clients map[string]*openai.Client
}

var _ capabilities.Provider = (*Foundry)(nil)

// New creates a provider. A nil logger falls back to the global logger.
func New(config Config, logger *core.Logger) *Foundry {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Foundry{
		config:  config.WithDefaults(),
		logger:  logger.With(map[string]interface{}{"component": "foundry"}),
		clients: make(map[string]*openai.Client),
	}
}

// Config returns the provider settings with defaults applied.
func (f *Foundry) Config() Config {
	return f.config
}

// client returns a cached client for the call's token and server. The
// boolean is false when no token is available.
func (f *Foundry) client(params capabilities.Params) (*openai.Client, bool) {
	token := params.StringOr(capabilities.ParamAPIToken, f.config.APIKey)
	if token == "" {
		return nil, false
	}
	baseURL := normalizeBaseURL(params.StringOr(capabilities.ParamServer, f.config.BaseURL))

	key := baseURL + "\x00" + token
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[key]; ok {
		return c, true
	}
	cfg := openai.DefaultConfig(token)
	cfg.BaseURL = baseURL
	c := openai.NewClientWithConfig(cfg)
	f.clients[key] = c
	return c, true
}

func (f *Foundry) noToken(capability string) (any, error) {
	f.logger.Warn("no API key provided", "capability", capability)
	return nil, nil
}

// TextToText runs a chat completion over messages, or a single user prompt.
func (f *Foundry) TextToText(ctx context.Context, params capabilities.Params) (any, error) {
	c, ok := f.client(params)
	if !ok {
		return f.noToken(capabilities.TextToText)
	}
	messages, err := chatMessages(params[capabilities.ParamMessages])
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		prompt := params.String(capabilities.ParamPrompt)
		if prompt == "" {
			f.logger.Warn("no prompt given, sending an empty message")
		}
		messages = []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}}
	}
	return f.complete(ctx, c, params, params.StringOr(capabilities.ParamModel, f.config.TextModel), messages)
}

// ImageToText asks a vision model about the image param.
func (f *Foundry) ImageToText(ctx context.Context, params capabilities.Params) (any, error) {
	c, ok := f.client(params)
	if !ok {
		return f.noToken(capabilities.ImageToText)
	}
	imageURL, err := imageURL(params[capabilities.ParamImage])
	if err != nil {
		return nil, err
	}
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: params.StringOr(capabilities.ParamSystemPrompt, f.config.VisionSystemPrompt),
		},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: params.String(capabilities.ParamPrompt)},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
			},
		},
	}
	return f.complete(ctx, c, params, params.StringOr(capabilities.ParamModel, f.config.VisionModel), messages)
}

func (f *Foundry) complete(ctx context.Context, c *openai.Client, params capabilities.Params, model string, messages []openai.ChatCompletionMessage) (any, error) {
	resp, err := c.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(params.Float(capabilities.ParamTemperature, float64(f.config.Temperature))),
		MaxTokens:   params.Int(capabilities.ParamMaxTokens, f.config.MaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("foundry: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("foundry: chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// TextToImage generates one image and returns its URL, or a data URL when
// the server answers with base64.
func (f *Foundry) TextToImage(ctx context.Context, params capabilities.Params) (any, error) {
	c, ok := f.client(params)
	if !ok {
		return f.noToken(capabilities.TextToImage)
	}
	width := params.Int(capabilities.ParamWidth, f.config.ImageWidth)
	height := params.Int(capabilities.ParamHeight, f.config.ImageHeight)
	resp, err := c.CreateImage(ctx, openai.ImageRequest{
		Prompt: params.String(capabilities.ParamPrompt),
		Model:  params.StringOr(capabilities.ParamModel, f.config.ImageModel),
		N:      1,
		Size:   fmt.Sprintf("%dx%d", width, height),
	})
	if err != nil {
		return nil, fmt.Errorf("foundry: image generation: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("foundry: image generation returned no data")
	}
	if url := resp.Data[0].URL; url != "" {
		return url, nil
	}
	if b64 := resp.Data[0].B64JSON; b64 != "" {
		return "data:image/png;base64," + b64, nil
	}
	return nil, errors.New("foundry: image generation returned an empty image")
}

// TextToSound synthesises the prompt and returns the audio.
func (f *Foundry) TextToSound(ctx context.Context, params capabilities.Params) (any, error) {
	c, ok := f.client(params)
	if !ok {
		return f.noToken(capabilities.TextToSound)
	}
	format := openai.SpeechResponseFormat(params.StringOr("format", string(openai.SpeechResponseFormatMp3)))
	resp, err := c.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(params.StringOr(capabilities.ParamModel, f.config.SpeechModel)),
		Input:          params.String(capabilities.ParamPrompt),
		Voice:          openai.SpeechVoice(params.StringOr(capabilities.ParamVoice, f.config.Voice)),
		ResponseFormat: format,
	})
	if err != nil {
		return nil, fmt.Errorf("foundry: speech: %w", err)
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("foundry: read speech: %w", err)
	}
	return media.Blob{MIMEType: speechMIMEType(format), Data: data, Name: "speech." + string(format)}, nil
}

// SoundToText transcribes the file param. G.711 and raw PCM recordings
// are wrapped as WAV first.
func (f *Foundry) SoundToText(ctx context.Context, params capabilities.Params) (any, error) {
	c, ok := f.client(params)
	if !ok {
		return f.noToken(capabilities.SoundToText)
	}
	blob, ok := params.Blob(capabilities.ParamFile)
	if !ok {
		return nil, fmt.Errorf("foundry: no audio file provided (got %T)", params[capabilities.ParamFile])
	}
	blob, err := media.NormalizeRecording(blob)
	if err != nil {
		return nil, fmt.Errorf("foundry: normalise recording: %w", err)
	}
	resp, err := c.CreateTranscription(ctx, openai.AudioRequest{
		Model:    params.StringOr(capabilities.ParamModel, f.config.TranscriptionModel),
		FilePath: blob.Filename(),
		Reader:   openai.WrapReader(bytes.NewReader(blob.Data), blob.Filename(), blob.MIMEType),
		Prompt:   params.String(capabilities.ParamPrompt),
	})
	if err != nil {
		return nil, fmt.Errorf("foundry: transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Models lists the ids of the models the server offers.
func (f *Foundry) Models(ctx context.Context, params capabilities.Params) (any, error) {
	c, ok := f.client(params)
	if !ok {
		return f.noToken(capabilities.Models)
	}
	list, err := c.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("foundry: list models: %w", err)
	}
	ids := make([]any, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// normalizeBaseURL accepts a bare server origin and appends /v1.
func normalizeBaseURL(server string) string {
	server = strings.TrimRight(server, "/")
	if strings.HasSuffix(server, "/v1") {
		return server
	}
	return server + "/v1"
}

func chatMessages(v any) ([]openai.ChatCompletionMessage, error) {
	if v == nil {
		return nil, nil
	}
	records, ok := core.AsInstructions(v)
	if !ok {
		return nil, fmt.Errorf("foundry: messages must be a list of records, got %T", v)
	}
	out := make([]openai.ChatCompletionMessage, 0, len(records))
	for _, r := range records {
		role := r.Role()
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		content, _ := r.Content().(string)
		if content == "" && r.Content() != nil {
			content = fmt.Sprint(r.Content())
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: content})
	}
	return out, nil
}

func imageURL(v any) (string, error) {
	switch t := v.(type) {
	case string:
		if t != "" {
			return t, nil
		}
	case nil:
	default:
		if b, ok := media.AsBlob(t); ok {
			return b.DataURL(), nil
		}
	}
	return "", errors.New("foundry: no image provided")
}

func speechMIMEType(format openai.SpeechResponseFormat) string {
	switch format {
	case openai.SpeechResponseFormatWav:
		return "audio/wav"
	case openai.SpeechResponseFormatOpus:
		return "audio/ogg"
	case openai.SpeechResponseFormatAac:
		return "audio/aac"
	case openai.SpeechResponseFormatFlac:
		return "audio/flac"
	case openai.SpeechResponseFormatPcm:
		return "audio/L16; rate=24000"
	default:
		return "audio/mpeg"
	}
}
