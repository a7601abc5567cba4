// Package asr adapts an external speech-recognition engine — run in either
// Paraformer mode (native speaker separation) or SenseVoice mode (noise-robust,
// speakers resolved later by internal/diarize) — into the Segment/SubSentence
// shape the rest of the pipeline consumes.
package asr

// SubSentence is a pre-merge ASR fragment preserved inside a Segment so
// fine-grained timing survives later merge operations.
type SubSentence struct {
	Text    string
	StartMs int
	EndMs   int
}

// Segment is one recognized span of speech.
//
// Invariant: EndMs >= StartMs. When SubSentences is non-empty, the
// concatenation of its Text fields equals Text, and every sub-sentence's
// time span is contained within [StartMs, EndMs].
type Segment struct {
	Text         string
	StartMs      int
	EndMs        int
	Confidence   float64
	Speaker      int // -1 = unknown, resolved later by diarization
	SubSentences []SubSentence
}

// Result is the full output of one transcription call.
type Result struct {
	Text     string
	Segments []Segment
}

// Mode selects which ASR engine behavior to run.
type Mode string

const (
	ModeParaformer Mode = "paraformer"
	ModeSenseVoice Mode = "sensevoice"
)

// Options configures one Transcribe call.
type Options struct {
	// Hotwords biases recognition toward these terms; also used verbatim as
	// the Paraformer engine's hotword list when non-empty.
	Hotwords []string
	// SentenceTimestamp requests sentence-level timestamps (and, in
	// Paraformer mode with a speaker model loaded, per-sentence speaker ids).
	SentenceTimestamp bool
}

// Engine transcribes a prepared 16kHz mono WAV file into a Result.
type Engine interface {
	Transcribe(wavPath string, opts Options) (Result, error)
}
