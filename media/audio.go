package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"mime"
	"strconv"
	"strings"
	"sync"

	"github.com/zaf/g711"
)

// Telephony-style recordings arrive as 8 kHz mono G.711.
const (
	G711SampleRate   = 8000
	DefaultPCMRate   = 16000
	wavHeaderSize    = 44
	maxPooledHeaders = 64
)

var wavHeaderPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, maxPooledHeaders))
	},
}

// Encoding is the sample encoding of a recording.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingWAV
	EncodingPCM
	EncodingULaw
	EncodingALaw
)

// EncodingOf classifies a blob by MIME type, falling back to sniffing a
// RIFF header.
func EncodingOf(b Blob) Encoding {
	base, _, _ := mime.ParseMediaType(b.MIMEType)
	switch strings.ToLower(base) {
	case "audio/basic", "audio/pcmu", "audio/x-mulaw", "audio/mulaw", "audio/ulaw":
		return EncodingULaw
	case "audio/pcma", "audio/x-alaw", "audio/alaw":
		return EncodingALaw
	case "audio/l16", "audio/pcm", "audio/x-pcm":
		return EncodingPCM
	case "audio/wav", "audio/x-wav", "audio/wave":
		return EncodingWAV
	}
	if isWAV(b.Data) {
		return EncodingWAV
	}
	return EncodingUnknown
}

// ULawBytesToPCM converts µ-law bytes to 16-bit little-endian PCM.
func ULawBytesToPCM(u []byte) []byte {
	return g711.DecodeUlaw(u)
}

// ALawBytesToPCM converts A-law bytes to 16-bit little-endian PCM.
func ALawBytesToPCM(a []byte) []byte {
	return g711.DecodeAlaw(a)
}

// PCMBytesToULaw converts PCM bytes to µ-law.
func PCMBytesToULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeUlaw(pcm), nil
}

// NormalizeRecording rewrites G.711 and headerless PCM recordings as WAV so
// transcription services accept them. Other blobs are returned unchanged.
func NormalizeRecording(b Blob) (Blob, error) {
	var (
		pcm  []byte
		rate int
	)
	switch EncodingOf(b) {
	case EncodingULaw:
		pcm, rate = ULawBytesToPCM(b.Data), G711SampleRate
	case EncodingALaw:
		pcm, rate = ALawBytesToPCM(b.Data), G711SampleRate
	case EncodingPCM:
		pcm, rate = b.Data, rateParam(b.MIMEType, DefaultPCMRate)
	default:
		return b, nil
	}
	wav, err := PCMBytesToWavBytes(pcm, channelsParam(b.MIMEType), rate)
	if err != nil {
		return Blob{}, err
	}
	name := b.Name
	if name != "" {
		if i := strings.LastIndexByte(name, '.'); i > 0 {
			name = name[:i]
		}
		name += ".wav"
	}
	return Blob{MIMEType: "audio/wav", Data: wav, Name: name}, nil
}

// PCMBytesToWavBytes wraps 16-bit little-endian PCM in a WAV container.
func PCMBytesToWavBytes(pcm []byte, numChannels, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("PCM data is empty")
	}
	if numChannels <= 0 || numChannels > 2 {
		return nil, errors.New("only mono (1) or stereo (2) channels supported")
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return nil, errors.New("PCM data length doesn't match channel count")
	}

	buf := wavHeaderPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		wavHeaderPool.Put(buf)
	}()

	const (
		bitsPerSample  = 16
		audioFormatPCM = 1
		subchunk1Size  = 16
	)
	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(wavHeaderSize-8+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(buf, binary.LittleEndian, uint16(audioFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))

	out := make([]byte, buf.Len()+len(pcm))
	copy(out, buf.Bytes())
	copy(out[buf.Len():], pcm)
	return out, nil
}

// StripWAVHeaderIfPresent returns the data chunk of a WAV file, or the
// input unchanged when it is not one.
func StripWAVHeaderIfPresent(chunk []byte) ([]byte, error) {
	if !isWAV(chunk) {
		return chunk, nil
	}
	i := 12
	for i+8 <= len(chunk) {
		chunkID := string(chunk[i : i+4])
		chunkSize := binary.LittleEndian.Uint32(chunk[i+4 : i+8])
		next := i + 8 + int(chunkSize)

		if chunkID == "data" {
			if next > len(chunk) {
				return nil, errors.New("invalid WAV: data chunk exceeds buffer length")
			}
			return chunk[i+8 : next], nil
		}
		if chunkSize%2 != 0 {
			next++
		}
		if next > len(chunk) {
			break
		}
		i = next
	}
	return nil, errors.New("invalid WAV: data chunk not found")
}

// DurationSeconds returns the playback length of 16-bit PCM.
func DurationSeconds(pcm []byte, numChannels, sampleRate int) (float64, error) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return 0, errors.New("PCM data must have even, non-zero length")
	}
	if numChannels <= 0 || sampleRate <= 0 {
		return 0, errors.New("invalid channel count or sample rate")
	}
	frames := len(pcm) / 2 / numChannels
	return float64(frames) / float64(sampleRate), nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

func rateParam(mimeType string, fallback int) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return fallback
	}
	if rate, err := strconv.Atoi(params["rate"]); err == nil && rate > 0 {
		return rate
	}
	return fallback
}

func channelsParam(mimeType string) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 1
	}
	if n, err := strconv.Atoi(params["channels"]); err == nil && (n == 1 || n == 2) {
		return n
	}
	return 1
}
