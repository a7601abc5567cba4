// Package audio converts uploaded recordings into the 16kHz mono PCM WAV
// format the ASR and diarization stages require, shelling out to ffmpeg the
// way the original service did — no Go audio-codec library in the pack reads
// the breadth of container/codec combinations a phone or meeting recorder
// upload might arrive in.
package audio

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/copernicus-go/copernicus/internal/errs"
	"github.com/google/uuid"
)

// Preprocessor converts uploaded audio bytes into a 16kHz mono WAV file
// suitable for ASR, applying an optional meeting-scene noise filter chain.
type Preprocessor struct {
	uploadDir    string
	audioEnhance bool
	ffmpegPath   string
}

// Option configures a [Preprocessor].
type Option func(*Preprocessor)

// WithAudioEnhance toggles the meeting-scene filter chain (highpass +
// FFT denoise + dynamic normalization). Enabled by default.
func WithAudioEnhance(enabled bool) Option {
	return func(p *Preprocessor) { p.audioEnhance = enabled }
}

// WithFFmpegPath overrides the ffmpeg binary looked up on PATH.
func WithFFmpegPath(path string) Option {
	return func(p *Preprocessor) { p.ffmpegPath = path }
}

// New returns a Preprocessor that stages intermediate files under uploadDir.
func New(uploadDir string, opts ...Option) *Preprocessor {
	p := &Preprocessor{uploadDir: uploadDir, audioEnhance: true, ffmpegPath: "ffmpeg"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Preprocess writes audioBytes to a temp file named after originalFilename's
// suffix, runs it through ffmpeg to produce a 16kHz mono pcm_s16le WAV, and
// returns the path to that WAV. The input temp file is always removed
// afterward, win or lose — ffmpeg cannot edit a file in place so the two
// paths must differ.
func (p *Preprocessor) Preprocess(ctx context.Context, audioBytes []byte, originalFilename string) (string, error) {
	if err := os.MkdirAll(p.uploadDir, 0o755); err != nil {
		return "", errs.AudioProcessing(err, "creating upload dir")
	}

	suffix := filepath.Ext(originalFilename)
	if suffix == "" {
		suffix = ".bin"
	}
	fileID := uuid.New().String()
	inputPath := filepath.Join(p.uploadDir, fileID+suffix)
	outputPath := filepath.Join(p.uploadDir, fileID+"_processed.wav")

	if err := os.WriteFile(inputPath, audioBytes, 0o644); err != nil {
		return "", errs.AudioProcessing(err, "writing input temp file")
	}
	defer os.Remove(inputPath)

	if err := p.runFFmpeg(ctx, inputPath, outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}

// ExtractFromVideo pulls the audio track out of an already-persisted video
// file, applying the same filter chain as [Preprocessor.Preprocess]. Used
// when the upload is a video: the video itself is kept on disk and only its
// audio track is decoded for ASR/diarization.
func (p *Preprocessor) ExtractFromVideo(ctx context.Context, videoPath, outputPath string) error {
	return p.runFFmpeg(ctx, videoPath, outputPath)
}

func (p *Preprocessor) runFFmpeg(ctx context.Context, inputPath, outputPath string) error {
	args := []string{"-y", "-i", inputPath}
	if p.audioEnhance {
		// highpass removes AC/fan/traffic rumble, afftdn removes steady-state
		// background noise, dynaudnorm levels out speakers at different mic
		// distances (p=peak target, m=max gain dB, s=smoothing window secs).
		args = append(args, "-af", "highpass=f=200,afftdn=nf=-25,dynaudnorm=p=0.9:m=10:s=3")
	}
	args = append(args, "-ar", "16000", "-ac", "1", "-acodec", "pcm_s16le", "-f", "wav", outputPath)

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isExecNotFound(err) {
			return errs.AudioProcessing(err, "ffmpeg not found on PATH")
		}
		return errs.AudioProcessing(err, "ffmpeg failed: %s", stderr.String())
	}
	return nil
}

func isExecNotFound(err error) bool {
	e, ok := err.(*exec.Error)
	return ok && e.Err == exec.ErrNotFound
}

// Cleanup removes a temporary audio file once the stages that need it have
// finished with it.
func Cleanup(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.AudioProcessing(err, "cleanup %s", path)
	}
	return nil
}
