package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/copernicus-go/copernicus/internal/audio"
	"github.com/copernicus-go/copernicus/internal/errs"
	"github.com/copernicus-go/copernicus/internal/persistence"
)

// VideoPreprocessStage extracts the audio track from a video upload as a
// 16kHz mono WAV, reusing the video the router already persisted to the
// task directory. Runs only when the upload's filename extension is a
// recognized video container.
type VideoPreprocessStage struct {
	audio       *audio.Preprocessor
	persistence *persistence.Store
	videoExts   map[string]bool
}

// NewVideoPreprocessStage returns a stage that recognizes the given
// extensions (e.g. ".mp4", ".mov") as video uploads.
func NewVideoPreprocessStage(pre *audio.Preprocessor, store *persistence.Store, videoExts []string) *VideoPreprocessStage {
	exts := make(map[string]bool, len(videoExts))
	for _, e := range videoExts {
		exts[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return &VideoPreprocessStage{audio: pre, persistence: store, videoExts: exts}
}

func (s *VideoPreprocessStage) Name() string { return "video_preprocess" }

func (s *VideoPreprocessStage) ShouldRun(ctx *Context) bool {
	if ctx.Filename == "" {
		return false
	}
	return s.videoExts[strings.ToLower(filepath.Ext(ctx.Filename))]
}

func (s *VideoPreprocessStage) Execute(ctx *Context, onProgress ProgressFunc) error {
	onProgress(0, 1)

	videoPath, ok := s.persistence.FindVideo(ctx.TaskID)
	if !ok {
		return errs.AudioProcessing(nil, "video not found in task dir for %s; router should have persisted it before the pipeline starts", ctx.TaskID)
	}

	taskDir, err := s.persistence.TaskDir(ctx.TaskID)
	if err != nil {
		return err
	}
	wavPath := filepath.Join(taskDir, "extracted.wav")

	if err := s.audio.ExtractFromVideo(context.Background(), videoPath, wavPath); err != nil {
		return err
	}

	ctx.WavPath = wavPath
	ctx.VideoPath = videoPath
	ctx.MediaType = "video"
	onProgress(1, 1)
	return nil
}
