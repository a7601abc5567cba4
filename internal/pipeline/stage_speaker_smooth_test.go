package pipeline

import (
	"testing"

	"github.com/copernicus-go/copernicus/pkg/asr"
)

func TestSpeakerSmoothStageShouldRun(t *testing.T) {
	s := NewSpeakerSmoothStage(1500, 500, nil)
	if !s.ShouldRun(&Context{Segments: []asr.Segment{{}}}) {
		t.Error("ShouldRun() = false with segments, want true")
	}
	if s.ShouldRun(&Context{}) {
		t.Error("ShouldRun() = true with no segments, want false")
	}
}

func TestSpeakerSmoothStageExecuteSmoothsAndMerges(t *testing.T) {
	s := NewSpeakerSmoothStage(1500, 500, nil)
	ctx := &Context{
		TaskID: "task1",
		Segments: []asr.Segment{
			{Text: "a", Speaker: 0, StartMs: 0, EndMs: 1000},
			{Text: "b", Speaker: 1, StartMs: 1000, EndMs: 1200}, // flicker
			{Text: "c", Speaker: 0, StartMs: 1200, EndMs: 2000},
		},
	}
	if err := s.Execute(ctx, func(int, int) {}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	// Flicker is smoothed to speaker 0, then all three pre-merge into one
	// same-speaker segment (gap 0 < 500).
	if len(ctx.Segments) != 1 {
		t.Fatalf("got %d segments, want 1 after smoothing+merge", len(ctx.Segments))
	}
	if ctx.Segments[0].Text != "abc" {
		t.Errorf("Text = %q, want abc", ctx.Segments[0].Text)
	}
}
