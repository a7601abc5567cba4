// Package whisper adapts github.com/ggerganov/whisper.cpp/bindings/go into
// an asr.Engine, for deployments with no external Paraformer/SenseVoice
// service available. It has no native speaker separation, so every emitted
// Segment carries Speaker == -1 (resolved later by internal/diarize) and is
// shaped like a Paraformer-mode result: one call, timestamped segments,
// per-segment confidence.
package whisper

import (
	"encoding/binary"
	"errors"
	"os"
	"strings"

	wsp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/copernicus-go/copernicus/internal/errs"
	"github.com/copernicus-go/copernicus/pkg/asr"
)

var (
	errNotRIFFWave = errors.New("not a RIFF/WAVE file")
	errNoDataChunk = errors.New("no data chunk found")
)

// Engine wraps a loaded whisper.cpp model.
type Engine struct {
	model    wsp.Model
	language string
}

// New loads a whisper.cpp GGML model from modelPath. language is passed to
// the model's context for every call ("auto" or empty lets whisper.cpp
// detect it).
func New(modelPath, language string) (*Engine, error) {
	model, err := wsp.New(modelPath)
	if err != nil {
		return nil, errs.ASR(err, "loading whisper model %s", modelPath)
	}
	return &Engine{model: model, language: language}, nil
}

// Close releases the underlying model.
func (e *Engine) Close() error {
	return e.model.Close()
}

// Transcribe runs whisper.cpp inference over a 16kHz mono WAV file and maps
// its segments into the shared asr.Result shape.
//
// opts.Hotwords has no effect here — whisper.cpp has no hotword-biasing API.
func (e *Engine) Transcribe(wavPath string, opts asr.Options) (asr.Result, error) {
	samples, err := readWav16kMono(wavPath)
	if err != nil {
		return asr.Result{}, errs.AudioProcessing(err, "reading wav %s", wavPath)
	}

	ctx, err := e.model.NewContext()
	if err != nil {
		return asr.Result{}, errs.ASR(err, "creating whisper context")
	}

	if e.language != "" && e.language != "auto" {
		if err := ctx.SetLanguage(e.language); err != nil {
			return asr.Result{}, errs.ASR(err, "setting whisper language %s", e.language)
		}
	}

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return asr.Result{}, errs.ASR(err, "running whisper inference on %s", wavPath)
	}

	var segments []asr.Segment
	var fullText strings.Builder

	for {
		seg, err := ctx.NextSegment()
		if err != nil {
			break
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		segments = append(segments, asr.Segment{
			Text:       text,
			StartMs:    int(seg.Start.Milliseconds()),
			EndMs:      int(seg.End.Milliseconds()),
			Confidence: averageTokenProbability(seg.Tokens),
			Speaker:    -1,
		})
		fullText.WriteString(text)
	}

	return asr.Result{Text: fullText.String(), Segments: segments}, nil
}

// averageTokenProbability is the mean per-token probability, excluding
// whisper.cpp's non-text special tokens (they carry no recognition-confidence
// signal of their own).
func averageTokenProbability(tokens []wsp.Token) float64 {
	var sum float64
	var n int
	for _, t := range tokens {
		text := strings.TrimSpace(t.Text)
		if text == "" || strings.HasPrefix(text, "[_") {
			continue
		}
		sum += float64(t.P)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// readWav16kMono reads a PCM WAV file's samples as float32 in [-1, 1].
// The audio-prep stage guarantees 16kHz mono 16-bit PCM input, so this only
// needs to handle that one shape, not general WAV parsing.
func readWav16kMono(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodePCM16LE(data)
}

// decodePCM16LE parses a canonical RIFF/WAVE file (PCM, 16-bit, mono or not)
// and returns its samples as float32 in [-1, 1], matching the WAV shape
// written by the audio-prep stage's ffmpeg invocation.
func decodePCM16LE(data []byte) ([]float32, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errNotRIFFWave
	}

	offset := 12
	var pcm []byte
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}
		if chunkID == "data" {
			pcm = data[body : body+chunkSize]
			break
		}
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}
	if pcm == nil {
		return nil, errNoDataChunk
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}
