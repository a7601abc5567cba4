package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/copernicus-go/copernicus/internal/audio"
)

func TestAudioPreprocessStageShouldRun(t *testing.T) {
	s := NewAudioPreprocessStage(audio.New(t.TempDir()))
	if !s.ShouldRun(&Context{AudioBytes: []byte("x")}) {
		t.Error("ShouldRun() = false with AudioBytes set, want true")
	}
	if s.ShouldRun(&Context{}) {
		t.Error("ShouldRun() = true with no AudioBytes, want false")
	}
}

func TestAudioPreprocessStageExecute(t *testing.T) {
	uploadDir := t.TempDir()
	pre := audio.New(uploadDir, audio.WithFFmpegPath(writeFakeFFmpegBinary(t)))
	s := NewAudioPreprocessStage(pre)

	ctx := &Context{Filename: "recording.m4a", AudioBytes: []byte("fake-bytes")}
	progressed := false
	if err := s.Execute(ctx, func(cur, total int) { progressed = true }); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !progressed {
		t.Error("onProgress was never called")
	}
	if ctx.WavPath == "" {
		t.Error("WavPath not set")
	}
	if filepath.Dir(ctx.WavPath) != uploadDir {
		t.Errorf("WavPath dir = %q, want %q", filepath.Dir(ctx.WavPath), uploadDir)
	}
	if ctx.MediaType != "audio" {
		t.Errorf("MediaType = %q, want audio", ctx.MediaType)
	}
	if ctx.AudioBytes != nil {
		t.Error("AudioBytes not cleared after Execute")
	}
}

func TestAudioPreprocessStageExecuteNilBytesReturnsError(t *testing.T) {
	s := NewAudioPreprocessStage(audio.New(t.TempDir()))
	if err := s.Execute(&Context{}, func(int, int) {}); err == nil {
		t.Error("Execute() error = nil, want error when AudioBytes is nil")
	}
}
