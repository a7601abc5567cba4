package pipeline

import (
	"sync"

	"github.com/copernicus-go/copernicus/internal/audio"
	"github.com/copernicus-go/copernicus/internal/errs"
	"github.com/copernicus-go/copernicus/pkg/asr"
)

// ASRTranscribeStage runs the ASR engine over the preprocessed WAV. ASR is
// resident for the process lifetime (unlike OCR/face-detect, which share the
// ModelManager's single-resident slot), but the engine call itself is
// single-holder: concurrent transcript tasks serialize on asrLock so only
// one WAV is being decoded on the GPU at a time.
type ASRTranscribeStage struct {
	engine            asr.Engine
	asrLock           *sync.Mutex
	sentenceTimestamp bool
}

// NewASRTranscribeStage returns a stage backed by engine, serializing calls
// through asrLock.
func NewASRTranscribeStage(engine asr.Engine, asrLock *sync.Mutex, sentenceTimestamp bool) *ASRTranscribeStage {
	return &ASRTranscribeStage{engine: engine, asrLock: asrLock, sentenceTimestamp: sentenceTimestamp}
}

func (s *ASRTranscribeStage) Name() string { return "asr_transcribe" }

func (s *ASRTranscribeStage) ShouldRun(ctx *Context) bool {
	return ctx.WavPath != ""
}

func (s *ASRTranscribeStage) Execute(ctx *Context, onProgress ProgressFunc) error {
	if ctx.WavPath == "" {
		return errs.ASR(nil, "wav_path is empty in ASRTranscribeStage")
	}
	onProgress(0, 1)

	s.asrLock.Lock()
	result, err := s.engine.Transcribe(ctx.WavPath, asr.Options{
		Hotwords:          ctx.Hotwords,
		SentenceTimestamp: s.sentenceTimestamp,
	})
	s.asrLock.Unlock()

	// The WAV is a scratch file either way; transcription succeeding or
	// failing shouldn't hinge on whether cleanup also succeeded.
	_ = audio.Cleanup(ctx.WavPath)

	if err != nil {
		return errs.ASR(err, "transcribing %s", ctx.WavPath)
	}

	ctx.ASRResult = result
	ctx.Segments = append([]asr.Segment(nil), result.Segments...)
	onProgress(1, 1)
	return nil
}
