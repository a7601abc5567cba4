package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeFFmpeg writes a tiny valid-looking output file and mimics ffmpeg's "-y
// ... output" argv shape so Preprocess exercises its full temp-file and
// argument-building path without a real ffmpeg binary.
const fakeFFmpegScript = `#!/bin/sh
for out; do :; done
printf 'RIFF....WAVEfmt ' > "$out"
exit 0
`

func writeFakeFFmpeg(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte(fakeFFmpegScript), 0o755); err != nil {
		t.Fatalf("writing fake ffmpeg: %v", err)
	}
	return path
}

func TestPreprocessProducesOutputAndCleansInput(t *testing.T) {
	uploadDir := t.TempDir()
	p := New(uploadDir, WithFFmpegPath(writeFakeFFmpeg(t)))

	outPath, err := p.Preprocess(context.Background(), []byte("fake-input-bytes"), "recording.m4a")
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Errorf("output file missing: %v", err)
	}
	if filepath.Dir(outPath) != uploadDir {
		t.Errorf("output path = %q, want under %q", outPath, uploadDir)
	}

	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if e.Name() != filepath.Base(outPath) {
			t.Errorf("unexpected leftover file %q, input temp file should have been removed", e.Name())
		}
	}
}

func TestPreprocessMissingFFmpegReturnsError(t *testing.T) {
	p := New(t.TempDir(), WithFFmpegPath(filepath.Join(t.TempDir(), "no-such-binary")))
	if _, err := p.Preprocess(context.Background(), []byte("x"), "a.wav"); err == nil {
		t.Error("Preprocess() error = nil, want error for missing ffmpeg binary")
	}
}

func TestCleanupRemovesFileAndIsNoopIfMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audio.wav")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := Cleanup(path); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists after Cleanup()")
	}
	if err := Cleanup(path); err != nil {
		t.Errorf("Cleanup() on already-removed file error = %v, want nil", err)
	}
}
