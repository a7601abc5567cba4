package pipeline

import (
	"fmt"
	"log/slog"
)

// TranscriptBuildStage turns the corrected segment set into fine-grained
// transcript entries: a merged segment with multiple sub-sentences is split
// back into one entry per sub-sentence, each with its own estimated time
// span, so downstream consumers see the same granularity ASR originally
// produced rather than the pre-merged batch.
type TranscriptBuildStage struct {
	logger *slog.Logger
}

// NewTranscriptBuildStage returns a TranscriptBuildStage.
func NewTranscriptBuildStage(logger *slog.Logger) *TranscriptBuildStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriptBuildStage{logger: logger}
}

func (s *TranscriptBuildStage) Name() string { return "transcript_build" }

func (s *TranscriptBuildStage) ShouldRun(ctx *Context) bool {
	return len(ctx.Segments) > 0 && len(ctx.CorrectedText) > 0
}

func (s *TranscriptBuildStage) Execute(ctx *Context, onProgress ProgressFunc) error {
	onProgress(0, 1)

	var entries []TranscriptEntryResult
	noiseFiltered := 0

	for i, seg := range ctx.Segments {
		corrected, ok := ctx.CorrectedText[i]
		if !ok {
			corrected = seg.Text
		}
		if corrected == "" {
			noiseFiltered++
			continue
		}

		speakerLabel := "Speaker 1"
		if seg.Speaker >= 0 {
			speakerLabel = fmt.Sprintf("Speaker %d", seg.Speaker+1)
		}

		if len(seg.SubSentences) > 1 {
			correctedSubs := splitCorrectedBySubSentences(corrected, seg.SubSentences)
			originalSubs := splitOriginalBySubSentences(seg.Text, seg.SubSentences)
			for j, csub := range correctedSubs {
				orig := csub.Text
				if j < len(originalSubs) {
					orig = originalSubs[j]
				}
				entries = append(entries, TranscriptEntryResult{
					Speaker:       speakerLabel,
					Text:          orig,
					TextCorrected: csub.Text,
					StartMs:       csub.StartMs,
					EndMs:         csub.EndMs,
				})
			}
			continue
		}

		entries = append(entries, TranscriptEntryResult{
			Speaker:       speakerLabel,
			Text:          seg.Text,
			TextCorrected: corrected,
			StartMs:       seg.StartMs,
			EndMs:         seg.EndMs,
		})
	}

	if noiseFiltered > 0 {
		s.logger.Info("noise filtered", "task_id", ctx.TaskID, "count", noiseFiltered)
	}
	s.logger.Info("fine-grained entries built", "task_id", ctx.TaskID, "count", len(entries))

	ctx.Entries = entries
	onProgress(1, 1)
	return nil
}
