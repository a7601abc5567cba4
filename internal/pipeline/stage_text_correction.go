package pipeline

import (
	"context"

	"github.com/copernicus-go/copernicus/internal/errs"
	"github.com/copernicus-go/copernicus/internal/transcript"
	"github.com/copernicus-go/copernicus/pkg/asr"
)

// TextCorrectionStage runs the four-phase correction pipeline over the
// segment set. When the ASR engine already reported confidence and every
// segment clears confidenceThreshold, correction is skipped entirely —
// segments that confident don't need clean/hotword/CSC/LLM polish either.
type TextCorrectionStage struct {
	corrector           *transcript.Pipeline
	confidenceThreshold float64
}

// NewTextCorrectionStage returns a stage backed by corrector.
func NewTextCorrectionStage(corrector *transcript.Pipeline, confidenceThreshold float64) *TextCorrectionStage {
	return &TextCorrectionStage{corrector: corrector, confidenceThreshold: confidenceThreshold}
}

func (s *TextCorrectionStage) Name() string { return "text_correction" }

func (s *TextCorrectionStage) ShouldRun(ctx *Context) bool {
	return len(ctx.Segments) > 0
}

func (s *TextCorrectionStage) Execute(ctx *Context, onProgress ProgressFunc) error {
	segments := ctx.Segments

	hasConfidence := false
	for _, seg := range segments {
		if seg.Confidence > 0.0 {
			hasConfidence = true
			break
		}
	}

	if hasConfidence {
		aboveThreshold := 0
		for _, seg := range segments {
			if seg.Confidence >= s.confidenceThreshold {
				aboveThreshold++
			}
		}
		if aboveThreshold == len(segments) {
			ctx.CorrectedText = rawTextMap(segments)
			onProgress(1, 1)
			return nil
		}
	}

	entries := make([]transcript.ScoredEntry, len(segments))
	for i, seg := range segments {
		entries[i] = transcript.ScoredEntry{
			Entry:      transcript.Entry{ID: i, Text: seg.Text},
			Confidence: seg.Confidence,
		}
	}

	onProgress(0, 1)
	corrected, err := s.corrector.Correct(context.Background(), entries)
	if err != nil {
		return errs.Correction(err, "correcting %d segments", len(entries))
	}
	onProgress(1, 1)

	correctedByID := make(map[int]string, len(corrected))
	for _, e := range corrected {
		correctedByID[e.ID] = e.Text
	}

	result := make(map[int]string, len(segments))
	for i, seg := range segments {
		if text, ok := correctedByID[i]; ok {
			result[i] = text
			continue
		}
		result[i] = seg.Text
	}
	ctx.CorrectedText = result
	return nil
}

func rawTextMap(segments []asr.Segment) map[int]string {
	m := make(map[int]string, len(segments))
	for i, seg := range segments {
		m[i] = seg.Text
	}
	return m
}
