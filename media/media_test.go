package media

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDataURLRoundTrip(t *testing.T) {
	b := Blob{MIMEType: "audio/webm", Data: []byte{1, 2, 3, 250}}
	url := b.DataURL()
	if !IsDataURL(url) {
		t.Fatalf("DataURL() = %q, want data: prefix", url)
	}
	got, err := ParseDataURL(url)
	if err != nil {
		t.Fatalf("ParseDataURL failed: %v", err)
	}
	if got.MIMEType != b.MIMEType || !bytes.Equal(got.Data, b.Data) {
		t.Errorf("ParseDataURL = %+v, want %+v", got, b)
	}
}

func TestParseDataURLRejects(t *testing.T) {
	cases := []string{
		"https://example.com/a.png",
		"data:image/png;base64",
		"data:text/plain,hello",
		"data:image/png;base64,@@@",
	}
	for _, c := range cases {
		if _, err := ParseDataURL(c); err == nil {
			t.Errorf("ParseDataURL(%q) succeeded, want error", c)
		}
	}
}

func TestAsBlob(t *testing.T) {
	b := Blob{MIMEType: "image/png", Data: []byte("png")}
	tests := []struct {
		name string
		in   any
		ok   bool
	}{
		{"value", b, true},
		{"pointer", &b, true},
		{"data url", b.DataURL(), true},
		{"bytes", []byte("raw"), true},
		{"plain string", "hello", false},
		{"nil pointer", (*Blob)(nil), false},
		{"number", 3.0, false},
	}
	for _, tt := range tests {
		if _, ok := AsBlob(tt.in); ok != tt.ok {
			t.Errorf("%s: AsBlob ok = %v, want %v", tt.name, ok, tt.ok)
		}
	}
}

func TestFilename(t *testing.T) {
	tests := map[string]Blob{
		"clip.mp3":    {MIMEType: "audio/mpeg", Name: "clip.mp3"},
		"upload.wav":  {MIMEType: "audio/x-wav"},
		"upload.svg":  {MIMEType: "image/svg+xml"},
		"upload.webm": {MIMEType: "audio/webm;codecs=opus"},
		"upload.bin":  {},
	}
	for want, b := range tests {
		if got := b.Filename(); got != want {
			t.Errorf("Filename(%q) = %q, want %q", b.MIMEType, got, want)
		}
	}
}

func TestPCMBytesToWavBytes(t *testing.T) {
	pcm := make([]byte, 320)
	wav, err := PCMBytesToWavBytes(pcm, 1, 16000)
	if err != nil {
		t.Fatalf("PCMBytesToWavBytes failed: %v", err)
	}
	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), wavHeaderSize+len(pcm))
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	data, err := StripWAVHeaderIfPresent(wav)
	if err != nil {
		t.Fatalf("StripWAVHeaderIfPresent failed: %v", err)
	}
	if !bytes.Equal(data, pcm) {
		t.Error("stripped data differs from input PCM")
	}

	if _, err := PCMBytesToWavBytes(nil, 1, 16000); err == nil {
		t.Error("empty PCM should fail")
	}
	if _, err := PCMBytesToWavBytes(make([]byte, 6), 2, 16000); err == nil {
		t.Error("misaligned stereo PCM should fail")
	}
}

func TestStripWAVHeaderPassesThroughRawAudio(t *testing.T) {
	raw := []byte("not a wav file at all")
	got, err := StripWAVHeaderIfPresent(raw)
	if err != nil || !bytes.Equal(got, raw) {
		t.Fatalf("StripWAVHeaderIfPresent = %q, %v; want input unchanged", got, err)
	}
}

func TestNormalizeRecordingULaw(t *testing.T) {
	ulaw := bytes.Repeat([]byte{0xFF}, 800)
	out, err := NormalizeRecording(Blob{MIMEType: "audio/basic", Data: ulaw, Name: "call.ulaw"})
	if err != nil {
		t.Fatalf("NormalizeRecording failed: %v", err)
	}
	if out.MIMEType != "audio/wav" || out.Name != "call.wav" {
		t.Errorf("got %s %q, want audio/wav call.wav", out.MIMEType, out.Name)
	}
	if EncodingOf(out) != EncodingWAV {
		t.Error("normalized blob is not a WAV")
	}
	if rate := binary.LittleEndian.Uint32(out.Data[24:28]); rate != G711SampleRate {
		t.Errorf("sample rate = %d, want %d", rate, G711SampleRate)
	}
	pcm, _ := StripWAVHeaderIfPresent(out.Data)
	secs, err := DurationSeconds(pcm, 1, G711SampleRate)
	if err != nil || secs != 0.1 {
		t.Errorf("duration = %v, %v; want 0.1s", secs, err)
	}
}

func TestNormalizeRecordingPCMRate(t *testing.T) {
	out, err := NormalizeRecording(Blob{MIMEType: "audio/L16; rate=24000; channels=1", Data: make([]byte, 480)})
	if err != nil {
		t.Fatalf("NormalizeRecording failed: %v", err)
	}
	if rate := binary.LittleEndian.Uint32(out.Data[24:28]); rate != 24000 {
		t.Errorf("sample rate = %d, want 24000", rate)
	}
}

func TestNormalizeRecordingLeavesOtherFormats(t *testing.T) {
	in := Blob{MIMEType: "audio/webm", Data: []byte("opus frames")}
	out, err := NormalizeRecording(in)
	if err != nil {
		t.Fatal(err)
	}
	if out.MIMEType != in.MIMEType || !bytes.Equal(out.Data, in.Data) {
		t.Errorf("NormalizeRecording changed a webm blob: %+v", out)
	}
}
