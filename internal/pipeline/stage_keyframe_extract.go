package pipeline

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/copernicus-go/copernicus/internal/errs"
	"github.com/copernicus-go/copernicus/internal/persistence"
)

// KeyframeStrategy selects how KeyframeExtractStage samples frames from a
// video.
type KeyframeStrategy string

const (
	// KeyframeStrategyInterval samples one frame every IntervalS seconds.
	KeyframeStrategyInterval KeyframeStrategy = "interval"
	// KeyframeStrategyScene samples a frame on every detected scene change.
	KeyframeStrategyScene KeyframeStrategy = "scene"
)

// KeyframeExtractStage pulls keyframes out of a video via ffmpeg, under a
// cap enforced by uniform sampling, and persists keyframes.json.
type KeyframeExtractStage struct {
	persistence    *persistence.Store
	strategy       KeyframeStrategy
	intervalS      int
	sceneThreshold float64
	maxCount       int
	format         string
	quality        int
	ffmpegPath     string
}

// KeyframeOption configures a [KeyframeExtractStage].
type KeyframeOption func(*KeyframeExtractStage)

func WithKeyframeStrategy(s KeyframeStrategy) KeyframeOption {
	return func(k *KeyframeExtractStage) { k.strategy = s }
}
func WithKeyframeIntervalS(s int) KeyframeOption {
	return func(k *KeyframeExtractStage) { k.intervalS = s }
}
func WithKeyframeSceneThreshold(t float64) KeyframeOption {
	return func(k *KeyframeExtractStage) { k.sceneThreshold = t }
}
func WithKeyframeMaxCount(n int) KeyframeOption {
	return func(k *KeyframeExtractStage) { k.maxCount = n }
}
func WithKeyframeFormat(format string) KeyframeOption {
	return func(k *KeyframeExtractStage) { k.format = format }
}
func WithKeyframeQuality(q int) KeyframeOption {
	return func(k *KeyframeExtractStage) { k.quality = q }
}
func WithKeyframeFFmpegPath(path string) KeyframeOption {
	return func(k *KeyframeExtractStage) { k.ffmpegPath = path }
}

// NewKeyframeExtractStage returns a stage with sane defaults (interval
// strategy, one frame every 5s, up to 60 frames, JPEG quality 4).
func NewKeyframeExtractStage(store *persistence.Store, opts ...KeyframeOption) *KeyframeExtractStage {
	k := &KeyframeExtractStage{
		persistence:    store,
		strategy:       KeyframeStrategyInterval,
		intervalS:      5,
		sceneThreshold: 0.4,
		maxCount:       60,
		format:         "jpg",
		quality:        4,
		ffmpegPath:     "ffmpeg",
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

func (s *KeyframeExtractStage) Name() string { return "keyframe_extract" }

func (s *KeyframeExtractStage) ShouldRun(ctx *Context) bool {
	return ctx.VideoPath != ""
}

func (s *KeyframeExtractStage) Execute(ctx *Context, onProgress ProgressFunc) error {
	onProgress(0, 1)

	framesDir, err := s.persistence.FramesDir(ctx.TaskID)
	if err != nil {
		return err
	}

	var extractErr error
	if s.strategy == KeyframeStrategyScene {
		extractErr = s.extractScene(ctx.VideoPath, framesDir)
	} else {
		extractErr = s.extractInterval(ctx.VideoPath, framesDir)
	}
	if extractErr != nil {
		return extractErr
	}

	frameFiles, err := filepath.Glob(filepath.Join(framesDir, "*."+s.format))
	if err != nil {
		return errs.AudioProcessing(err, "listing extracted frames")
	}
	sort.Strings(frameFiles)

	if len(frameFiles) > s.maxCount {
		step := float64(len(frameFiles)) / float64(s.maxCount)
		sampled := make([]string, s.maxCount)
		keep := make(map[string]bool, s.maxCount)
		for i := range s.maxCount {
			f := frameFiles[int(float64(i)*step)]
			sampled[i] = f
			keep[f] = true
		}
		for _, f := range frameFiles {
			if !keep[f] {
				os.Remove(f)
			}
		}
		frameFiles = sampled
	}

	keyframes := make([]KeyFrame, len(frameFiles))
	for i, fp := range frameFiles {
		stem := strings.TrimSuffix(filepath.Base(fp), filepath.Ext(fp))
		keyframes[i] = KeyFrame{
			Index:       i,
			TimestampMs: s.estimateTimestampMs(stem, i),
			Path:        filepath.Base(fp),
		}
	}
	ctx.Keyframes = keyframes

	if err := s.persistence.SaveJSON(ctx.TaskID, "keyframes.json", keyframes); err != nil {
		return err
	}

	onProgress(1, 1)
	return nil
}

func (s *KeyframeExtractStage) extractInterval(videoPath, framesDir string) error {
	out := filepath.Join(framesDir, "%04d."+s.format)
	return s.runFFmpeg([]string{
		"-y", "-i", videoPath,
		"-vf", "fps=1/" + strconv.Itoa(s.intervalS),
		"-q:v", strconv.Itoa(s.quality),
		out,
	})
}

func (s *KeyframeExtractStage) extractScene(videoPath, framesDir string) error {
	out := filepath.Join(framesDir, "%04d."+s.format)
	return s.runFFmpeg([]string{
		"-y", "-i", videoPath,
		"-vf", "select='gt(scene," + strconv.FormatFloat(s.sceneThreshold, 'f', -1, 64) + ")'",
		"-vsync", "vfr",
		"-q:v", strconv.Itoa(s.quality),
		out,
	})
}

func (s *KeyframeExtractStage) runFFmpeg(args []string) error {
	cmd := exec.CommandContext(context.Background(), s.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errs.AudioProcessing(err, "ffmpeg keyframe extraction failed: %s", string(out))
	}
	return nil
}

var frameStemDigits = regexp.MustCompile(`^(\d+)$`)

// estimateTimestampMs derives a frame's timestamp from its ffmpeg-assigned
// sequence number under interval sampling (ffmpeg numbers frames from 1),
// falling back to the post-sampling index for scene-change mode, where
// frame spacing isn't uniform.
func (s *KeyframeExtractStage) estimateTimestampMs(stem string, index int) int {
	if m := frameStemDigits.FindStringSubmatch(stem); m != nil && s.strategy == KeyframeStrategyInterval {
		frameNum, _ := strconv.Atoi(m[1])
		return (frameNum - 1) * s.intervalS * 1000
	}
	return index * s.intervalS * 1000
}
