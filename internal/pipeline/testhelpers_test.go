package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

// fakeFFmpegScript mimics ffmpeg's "-y ... output" argv shape, writing a
// placeholder file at its last argument, so stages exercise their full
// argument-building path without a real ffmpeg binary.
const fakeFFmpegScript = `#!/bin/sh
for out; do :; done
printf 'RIFF....WAVEfmt ' > "$out"
exit 0
`

func writeFakeFFmpegBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte(fakeFFmpegScript), 0o755); err != nil {
		t.Fatalf("writing fake ffmpeg: %v", err)
	}
	return path
}

// fakeKeyframeFFmpegScript drops a fixed number of numbered JPEG stub frames
// into its output directory, mimicking ffmpeg's "%04d.jpg" image2 pattern.
const fakeKeyframeFFmpegScript = `#!/bin/sh
for out; do :; done
dir=$(dirname "$out")
ext="${out##*.}"
for i in 1 2 3 4 5; do
  n=$(printf '%04d' "$i")
  printf 'fake-frame' > "$dir/$n.$ext"
done
exit 0
`

func writeFakeKeyframeFFmpegBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte(fakeKeyframeFFmpegScript), 0o755); err != nil {
		t.Fatalf("writing fake keyframe ffmpeg: %v", err)
	}
	return path
}
