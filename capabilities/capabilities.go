// Package capabilities maps the capability names scripts use in function
// instructions onto a provider.
package capabilities

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"convoscript/media"
)

// Capability names accepted in a function instruction's content field.
const (
	TextToText    = "textToText"
	TextToImage   = "textToImage"
	TextToSound   = "textToSound"
	SoundToText   = "soundToText"
	ImageToText   = "imageToText"
	FileSelector  = "fileSelector"
	StopRecording = "stopRec"
	Models        = "models"

	TranscribeFile      = "transcribeFile"
	TranscribeRecording = "transcribeRecording"
)

// Well-known parameter keys.
const (
	ParamAPIToken     = "api_token"
	ParamImage        = "image"
	ParamFile         = "file"
	ParamPrompt       = "prompt"
	ParamSystemPrompt = "systemPrompt"
	ParamLogging      = "logging"
	ParamModel        = "model"
	ParamMessages     = "messages"
	ParamTemperature  = "temperature"
	ParamMaxTokens    = "max_tokens"
	ParamWidth        = "width"
	ParamHeight       = "height"
	ParamVoice        = "voice"
	ParamServer       = "server"
)

// Params is the uniform argument bag every capability receives.
type Params map[string]any

// Merge returns a new bag with other's entries laid over p's.
func (p Params) Merge(other map[string]any) Params {
	out := make(Params, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// String returns the string value of key, or "" when absent or not a string.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// StringOr returns the string value of key, or def when it is empty.
func (p Params) StringOr(key, def string) string {
	if s := p.String(key); s != "" {
		return s
	}
	return def
}

// Float returns a numeric parameter, accepting numbers and numeric strings.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns a numeric parameter rounded to an int.
func (p Params) Int(key string, def int) int {
	f := p.Float(key, math.NaN())
	if math.IsNaN(f) {
		return def
	}
	return int(math.Round(f))
}

// Bool returns a boolean parameter.
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Blob returns the parameter as a media blob when it holds one.
func (p Params) Blob(key string) (media.Blob, bool) {
	return media.AsBlob(p[key])
}

// Provider performs the AI capabilities. A nil result with a nil error is
// a valid "nothing produced" answer.
type Provider interface {
	TextToText(ctx context.Context, params Params) (any, error)
	TextToImage(ctx context.Context, params Params) (any, error)
	TextToSound(ctx context.Context, params Params) (any, error)
	SoundToText(ctx context.Context, params Params) (any, error)
	ImageToText(ctx context.Context, params Params) (any, error)
	Models(ctx context.Context, params Params) (any, error)
}

// FileSource lets the user pick a file of the given type ("image", "audio").
type FileSource interface {
	SelectFile(ctx context.Context, fileType string) (any, error)
}

// Recorder captures audio between StartRecording and StopRecording.
type Recorder interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (media.Blob, error)
}

// Func is one entry of the dispatch table.
type Func func(ctx context.Context, params Params) (any, error)

func errMissing(what string) error {
	return fmt.Errorf("no %s configured", what)
}
