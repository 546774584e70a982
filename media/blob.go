// Package media carries the binary values that flow through a run:
// uploaded files, recordings and generated audio.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Blob is an in-memory file with its MIME type.
type Blob struct {
	MIMEType string
	Data     []byte
	Name     string
}

// IsAudio reports whether the blob holds audio.
func (b Blob) IsAudio() bool {
	return strings.HasPrefix(b.MIMEType, "audio/")
}

// IsImage reports whether the blob holds an image.
func (b Blob) IsImage() bool {
	return strings.HasPrefix(b.MIMEType, "image/")
}

// DataURL encodes the blob as a base64 data URL.
func (b Blob) DataURL() string {
	mime := b.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b.Data)
}

// Filename returns Name, or a name derived from the MIME type.
func (b Blob) Filename() string {
	if b.Name != "" {
		return b.Name
	}
	ext := "bin"
	if _, sub, ok := strings.Cut(b.MIMEType, "/"); ok && sub != "" {
		ext = strings.TrimPrefix(sub, "x-")
		if i := strings.IndexAny(ext, ";+"); i >= 0 {
			ext = ext[:i]
		}
	}
	return "upload." + ext
}

func (b Blob) String() string {
	return fmt.Sprintf("%s (%d bytes)", b.Filename(), len(b.Data))
}

// IsDataURL reports whether s looks like a data URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// ParseDataURL decodes a data URL into a blob. Only base64 payloads are accepted.
func ParseDataURL(s string) (Blob, error) {
	if !IsDataURL(s) {
		return Blob{}, errors.New("media: not a data URL")
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return Blob{}, errors.New("media: data URL has no payload")
	}
	mime, params, _ := strings.Cut(header, ";")
	if !strings.Contains(params, "base64") {
		return Blob{}, fmt.Errorf("media: unsupported data URL encoding %q", params)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Blob{}, fmt.Errorf("media: decode data URL: %w", err)
	}
	if mime == "" {
		mime = "text/plain"
	}
	return Blob{MIMEType: mime, Data: data}, nil
}

// AsBlob interprets v as a blob: a Blob, *Blob, a data URL, or raw bytes.
func AsBlob(v any) (Blob, bool) {
	switch t := v.(type) {
	case Blob:
		return t, true
	case *Blob:
		if t == nil {
			return Blob{}, false
		}
		return *t, true
	case []byte:
		return Blob{MIMEType: "application/octet-stream", Data: t}, true
	case string:
		if b, err := ParseDataURL(t); err == nil {
			return b, true
		}
	}
	return Blob{}, false
}

// ToDataURL converts audio blobs to their data-URL form and leaves
// everything else untouched.
func ToDataURL(v any) any {
	if b, ok := v.(Blob); ok {
		return b.DataURL()
	}
	if b, ok := v.(*Blob); ok && b != nil {
		return b.DataURL()
	}
	return v
}
