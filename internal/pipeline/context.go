// Package pipeline runs the ordered stage sequence that turns an uploaded
// recording into a persisted transcript: video→audio extraction, audio
// preprocessing, ASR, keyframe/OCR/face-detect (video only), speaker
// smoothing, text correction, and transcript assembly. Stages declare a
// should_run predicate and an execute method; the [Orchestrator] runs every
// registered stage in order, skipping those whose predicate is false, and
// forwards per-stage progress to a caller-supplied callback.
package pipeline

import (
	"time"

	"github.com/copernicus-go/copernicus/pkg/asr"
)

// KeyFrame is one extracted video frame, in presentation order.
type KeyFrame struct {
	Index       int    `json:"index"`
	TimestampMs int    `json:"timestamp_ms"`
	Path        string `json:"path"`
}

// OCRRecord is one text region recognized in a keyframe.
type OCRRecord struct {
	Text        string  `json:"text"`
	TimestampMs int     `json:"timestamp_ms"`
	FramePath   string  `json:"frame_path"`
	Confidence  float64 `json:"confidence"`
}

// VisualEvent is one span of the recording's face-presence timeline.
type VisualEvent struct {
	StartMs     int  `json:"start_ms"`
	EndMs       int  `json:"end_ms"`
	FacePresent bool `json:"face_present"`
	MaxFaces    int  `json:"max_faces"`
}

// StageElapsed records how long one stage took to run.
type StageElapsed struct {
	Stage string
	Took  time.Duration
}

// Context is the data bus threaded through every stage: the stage that
// produces a value sets the corresponding field, and later stages read it.
// A field left at its zero value means the upstream stage that would have
// populated it did not run.
type Context struct {
	TaskID   string
	Filename string

	// AudioBytes is the raw upload; cleared once AudioPreprocessStage has
	// written it to a WAV so it isn't held in memory for the task's lifetime.
	AudioBytes []byte
	Hotwords   []string

	MediaType string // "audio" or "video"
	WavPath   string
	VideoPath string

	ASRResult asr.Result
	Segments  []asr.Segment // post-diarization/smoothing working set

	Keyframes    []KeyFrame
	OCRResults   []OCRRecord
	VisualEvents []VisualEvent

	// CorrectedText maps a segment's stable index (its position in Segments
	// at the time TextCorrectionStage ran) to corrected text.
	CorrectedText map[int]string

	Entries []TranscriptEntryResult

	Elapsed []StageElapsed
}

// TranscriptEntryResult is one fine-grained, sub-sentence-split transcript
// line built by [TranscriptBuildStage], before being wrapped in the shared
// pkg/types.TranscriptEntry the rest of the system persists.
type TranscriptEntryResult struct {
	Speaker       string
	Text          string
	TextCorrected string
	StartMs       int
	EndMs         int
}

// ProgressFunc reports a stage's internal progress: current work item out of
// total. Stages with no meaningfully divisible work report (0,1) then (1,1).
type ProgressFunc func(current, total int)

// Stage is one step of the transcript pipeline.
type Stage interface {
	// Name identifies the stage in logs and progress callbacks.
	Name() string
	// ShouldRun decides whether this stage applies to ctx. Must be pure —
	// no side effects, no I/O.
	ShouldRun(ctx *Context) bool
	// Execute runs the stage, mutating ctx in place. Stages never reorder,
	// split, or drop entries a later stage depends on; they only add to ctx.
	Execute(ctx *Context, onProgress ProgressFunc) error
}
