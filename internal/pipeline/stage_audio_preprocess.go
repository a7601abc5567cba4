package pipeline

import (
	"context"

	"github.com/copernicus-go/copernicus/internal/audio"
	"github.com/copernicus-go/copernicus/internal/errs"
)

// AudioPreprocessStage converts a raw audio upload into a 16kHz mono WAV via
// ffmpeg. It runs only when the upload was audio (a video upload is instead
// handled by [VideoPreprocessStage], which extracts the audio track itself).
type AudioPreprocessStage struct {
	audio *audio.Preprocessor
}

// NewAudioPreprocessStage returns a stage backed by pre.
func NewAudioPreprocessStage(pre *audio.Preprocessor) *AudioPreprocessStage {
	return &AudioPreprocessStage{audio: pre}
}

func (s *AudioPreprocessStage) Name() string { return "audio_preprocess" }

func (s *AudioPreprocessStage) ShouldRun(ctx *Context) bool {
	return ctx.AudioBytes != nil
}

func (s *AudioPreprocessStage) Execute(ctx *Context, onProgress ProgressFunc) error {
	if ctx.AudioBytes == nil {
		return errs.AudioProcessing(nil, "audio_bytes is nil in AudioPreprocessStage")
	}
	onProgress(0, 1)

	wavPath, err := s.audio.Preprocess(context.Background(), ctx.AudioBytes, ctx.Filename)
	if err != nil {
		return err
	}

	ctx.WavPath = wavPath
	ctx.MediaType = "audio"
	ctx.AudioBytes = nil
	onProgress(1, 1)
	return nil
}
