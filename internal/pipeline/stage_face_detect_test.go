package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeFaceDetector struct {
	faces         map[string][]FaceRecord
	timelineCalls int
	lastFrames    []FrameFaceResult
}

func (f *fakeFaceDetector) DetectFrame(imagePath string) ([]FaceRecord, error) {
	return f.faces[filepath.Base(imagePath)], nil
}

func (f *fakeFaceDetector) AnalyzeFaceTimeline(frames []FrameFaceResult, intervalMs int) []VisualEvent {
	f.timelineCalls++
	f.lastFrames = frames
	return []VisualEvent{{StartMs: 0, EndMs: intervalMs, FacePresent: true, MaxFaces: 1}}
}

func TestFaceDetectStageShouldRun(t *testing.T) {
	s := NewFaceDetectStage(&fakeFaceDetector{}, newTestStore(t), true, 5000)
	if !s.ShouldRun(&Context{Keyframes: []KeyFrame{{}}}) {
		t.Error("ShouldRun() = false with keyframes and enabled, want true")
	}
	disabled := NewFaceDetectStage(&fakeFaceDetector{}, newTestStore(t), false, 5000)
	if disabled.ShouldRun(&Context{Keyframes: []KeyFrame{{}}}) {
		t.Error("ShouldRun() = true while disabled, want false")
	}
}

func TestFaceDetectStageExecuteBuildsTimelineAndPersists(t *testing.T) {
	store := newTestStore(t)
	framesDir, err := store.FramesDir("task1")
	if err != nil {
		t.Fatalf("FramesDir() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(framesDir, "0001.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	detector := &fakeFaceDetector{faces: map[string][]FaceRecord{
		"0001.jpg": {{Confidence: 0.8}, {Confidence: 0.6}},
	}}
	s := NewFaceDetectStage(detector, store, true, 5000)

	ctx := &Context{TaskID: "task1", Keyframes: []KeyFrame{{Index: 0, TimestampMs: 0, Path: "0001.jpg"}}}
	if err := s.Execute(ctx, func(int, int) {}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if detector.timelineCalls != 1 {
		t.Fatalf("timelineCalls = %d, want 1", detector.timelineCalls)
	}
	if len(detector.lastFrames) != 1 || detector.lastFrames[0].MaxConfidence != 0.8 || detector.lastFrames[0].FaceCount != 2 {
		t.Errorf("lastFrames = %+v, want one frame with MaxConfidence=0.8 FaceCount=2", detector.lastFrames)
	}
	if len(ctx.VisualEvents) != 1 {
		t.Fatalf("VisualEvents = %+v, want 1 event", ctx.VisualEvents)
	}

	var saved []VisualEvent
	ok, loadErr := store.LoadJSON("task1", "visual_events.json", &saved)
	if loadErr != nil || !ok || len(saved) != 1 {
		t.Errorf("LoadJSON(visual_events.json) = (%v, %v, len=%d), want persisted event", ok, loadErr, len(saved))
	}
}
