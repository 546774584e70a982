package capabilities

import (
	"context"
	"sort"
	"time"

	"convoscript/core"
)

// Dispatcher resolves capability names to calls. Provider failures are
// logged and surface as a nil result; only unknown names are errors.
type Dispatcher struct {
	table    map[string]Func
	files    FileSource
	recorder Recorder
	logger   *core.Logger
}

// Config wires a Dispatcher. Files and Recorder may be nil when no
// script uses fileSelector or stopRec.
type Config struct {
	Provider Provider
	Files    FileSource
	Recorder Recorder
	Logger   *core.Logger
}

// NewDispatcher builds the fixed dispatch table over cfg.Provider.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Provider == nil {
		return nil, &core.MissingParameterError{Params: []string{"Provider"}}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.GetLogger()
	}
	d := &Dispatcher{
		files:    cfg.Files,
		recorder: cfg.Recorder,
		logger:   logger.With(map[string]interface{}{"component": "dispatcher"}),
	}
	p := cfg.Provider
	d.table = map[string]Func{
		TextToText:          p.TextToText,
		TextToImage:         p.TextToImage,
		TextToSound:         p.TextToSound,
		SoundToText:         p.SoundToText,
		TranscribeFile:      p.SoundToText,
		TranscribeRecording: p.SoundToText,
		ImageToText:         p.ImageToText,
		Models:              p.Models,
		StopRecording:       d.stopRecording(p),
		FileSelector: func(ctx context.Context, params Params) (any, error) {
			return d.selectFile(ctx, params.String(core.FieldFileType))
		},
	}
	return d, nil
}

// Has reports whether name is a known capability.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.table[name]
	return ok
}

// Names lists the known capabilities.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.table))
	for name := range d.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes capability name with params.
func (d *Dispatcher) Call(ctx context.Context, name string, params Params) (any, error) {
	fn, ok := d.table[name]
	if !ok {
		return nil, &core.NotFoundError{Kind: "capability", Name: name}
	}
	start := time.Now()
	result, err := fn(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.With(map[string]interface{}{
			"error": &core.DispatchError{Capability: name, Err: err},
		}).Warn("capability failed")
		return nil, nil
	}
	if params.Bool(ParamLogging) {
		d.logger.Info("capability finished", "capability", name, "elapsed", time.Since(start).String(), "result", result)
	} else {
		d.logger.Debug("capability finished", "capability", name, "elapsed", time.Since(start).String())
	}
	return result, nil
}

// SelectFile asks the file source for a file of fileType. It is the
// fileSelector capability, called without the parameter bag.
func (d *Dispatcher) SelectFile(ctx context.Context, fileType string) (any, error) {
	return d.Call(ctx, FileSelector, Params{core.FieldFileType: fileType})
}

// StartRecording starts the recorder collaborator.
func (d *Dispatcher) StartRecording(ctx context.Context) error {
	if d.recorder == nil {
		return errMissing("recorder")
	}
	return d.recorder.StartRecording(ctx)
}

func (d *Dispatcher) selectFile(ctx context.Context, fileType string) (any, error) {
	if d.files == nil {
		return nil, errMissing("file source")
	}
	return d.files.SelectFile(ctx, fileType)
}

func (d *Dispatcher) stopRecording(p Provider) Func {
	return func(ctx context.Context, params Params) (any, error) {
		if d.recorder == nil {
			return nil, errMissing("recorder")
		}
		recording, err := d.recorder.StopRecording(ctx)
		if err != nil {
			return nil, err
		}
		return p.SoundToText(ctx, params.Merge(map[string]any{ParamFile: recording}))
	}
}
