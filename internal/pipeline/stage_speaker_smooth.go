package pipeline

import "log/slog"

// SpeakerSmoothStage smooths diarization flicker and then pre-merges
// consecutive same-speaker segments, cutting segment count ahead of LLM
// correction so batches carry more context per call.
type SpeakerSmoothStage struct {
	maxFlickerMs  int
	preMergeGapMs int
	logger        *slog.Logger
}

// NewSpeakerSmoothStage returns a stage using the given flicker-duration and
// pre-merge-gap thresholds, in milliseconds.
func NewSpeakerSmoothStage(maxFlickerMs, preMergeGapMs int, logger *slog.Logger) *SpeakerSmoothStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpeakerSmoothStage{maxFlickerMs: maxFlickerMs, preMergeGapMs: preMergeGapMs, logger: logger}
}

func (s *SpeakerSmoothStage) Name() string { return "speaker_smooth" }

func (s *SpeakerSmoothStage) ShouldRun(ctx *Context) bool {
	return len(ctx.Segments) > 0
}

func (s *SpeakerSmoothStage) Execute(ctx *Context, onProgress ProgressFunc) error {
	onProgress(0, 1)

	smoothSpeakers(ctx.Segments, s.maxFlickerMs)

	rawCount := len(ctx.Segments)
	ctx.Segments = preMergeSegments(ctx.Segments, s.preMergeGapMs)
	s.logger.Info("pre-merge", "task_id", ctx.TaskID, "from", rawCount, "to", len(ctx.Segments))

	onProgress(1, 1)
	return nil
}
